package dto

import (
	"errors"

	"github.com/edirooss/indexpool-server/internal/domain/source"
)

// SourceModify is the DTO for updating an index source via
// PATCH /api/sources/{id}. Partial-update semantics (RFC 7386):
//   - All fields are optional. The id is immutable and not patchable.
type SourceModify struct {
	Path           W[string] `json:"path"`            //   optional; string
	Label          W[string] `json:"label"`           //   optional; string | null
	RefreshSeconds W[uint]   `json:"refresh_seconds"` //   optional; uint
	Enabled        W[bool]   `json:"enabled"`         //   optional; bool
}

// MergePatch applies SourceModify to source.Source (in-memory)
// Disallows explicit null assignment to non-nullable fields.
// Unset fields remain unchanged.
func (req *SourceModify) MergePatch(prev *source.Source) error {
	// path
	// optional; string
	if req.Path.Set {
		if req.Path.Null {
			return errors.New("path cannot be null")
		}
		prev.Path = req.Path.V
	}

	// label
	// optional; string | null
	if req.Label.Set {
		if req.Label.Null {
			prev.Label = nil
		} else {
			prev.Label = &req.Label.V
		}
	}

	// refresh_seconds
	// optional; uint
	if req.RefreshSeconds.Set {
		if req.RefreshSeconds.Null {
			return errors.New("refresh_seconds cannot be null")
		}
		prev.RefreshSeconds = req.RefreshSeconds.V
	}

	// enabled
	// optional; bool
	if req.Enabled.Set {
		if req.Enabled.Null {
			return errors.New("enabled cannot be null")
		}
		prev.Enabled = req.Enabled.V
	}

	return nil
}
