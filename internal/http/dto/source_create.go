package dto

import (
	"errors"

	"github.com/edirooss/indexpool-server/internal/domain/source"
)

// SourceCreate is the DTO for registering a new index source via
// POST /api/sources.
//   - id and path are required; the rest default.
type SourceCreate struct {
	ID             W[string] `json:"id"`              //   required; string
	Path           W[string] `json:"path"`            //   required; string
	Label          W[string] `json:"label"`           //   optional; string | null   (default: null)
	RefreshSeconds W[uint]   `json:"refresh_seconds"` //   optional; uint            (default: 0 = pool default)
	Enabled        W[bool]   `json:"enabled"`         //   optional; bool            (default: false)
}

// ToSource maps SourceCreate → source.Source
// Disallows explicit null assignment to non-nullable fields.
// Fills unset fields with defaults.
func (req *SourceCreate) ToSource() (*source.Source, error) {
	src := &source.Source{}

	// id
	// required; string
	if req.ID.Set {
		if req.ID.Null {
			return nil, errors.New("id cannot be null")
		}
		src.ID = req.ID.V
	} else {
		return nil, errors.New("id is required")
	}

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
	// optional; string | null (default: null)
	if req.Label.Set {
		if req.Label.Null {
			src.Label = nil
		} else {
			src.Label = &req.Label.V
		}
	} else {
		src.Label = nil
	}

	// refresh_seconds
	// optional; uint (default: 0 = pool default)
	if req.RefreshSeconds.Set {
		if req.RefreshSeconds.Null {
			return nil, errors.New("refresh_seconds cannot be null")
		}
		src.RefreshSeconds = req.RefreshSeconds.V
	} else {
		src.RefreshSeconds = 0
	}

	// enabled
	// optional; bool (default: false)
	if req.Enabled.Set {
		if req.Enabled.Null {
			return nil, errors.New("enabled cannot be null")
		}
		src.Enabled = req.Enabled.V
	} else {
		src.Enabled = false
	}

	return src, nil
}
