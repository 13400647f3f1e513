package dto

import (
	"errors"

	"github.com/edirooss/indexpool-server/internal/domain/source"
)

// SourceReplace is the DTO for updating an index source via
// PUT /api/sources/{id}. Full-replacement semantics (RFC 9110):
//   - All fields are required.
type SourceReplace struct {
	Path           W[string] `json:"path"`            //   required; string
	Label          W[string] `json:"label"`           //   required; string | null
	RefreshSeconds W[uint]   `json:"refresh_seconds"` //   required; uint
	Enabled        W[bool]   `json:"enabled"`         //   required; bool
}

// ToSource maps SourceReplace → source.Source
// Disallows explicit null assignment to non-nullable fields.
// Requires all fields to be set (PUT semantics).
func (req *SourceReplace) ToSource(id string) (*source.Source, error) {
	src := &source.Source{}
	src.ID = id

	// path
	// required; string
	if req.Path.Set {
		if req.Path.Null {
			return nil, errors.New("path cannot be null")
		}
		src.Path = req.Path.V
	} else {
		return nil, errors.New("path is required")
	}

	// label
	// required; string | null
	if req.Label.Set {
		if req.Label.Null {
			src.Label = nil
		} else {
			src.Label = &req.Label.V
		}
	} else {
		return nil, errors.New("label is required")
	}

	// refresh_seconds
	// required; uint
	if req.RefreshSeconds.Set {
		if req.RefreshSeconds.Null {
			return nil, errors.New("refresh_seconds cannot be null")
		}
		src.RefreshSeconds = req.RefreshSeconds.V
	} else {
		return nil, errors.New("refresh_seconds is required")
	}

	// enabled
	// required; bool
	if req.Enabled.Set {
		if req.Enabled.Null {
			return nil, errors.New("enabled cannot be null")
		}
		src.Enabled = req.Enabled.V
	} else {
		return nil, errors.New("enabled is required")
	}

	return src, nil
}
