package source

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/edirooss/indexpool-server/pkg/indexdir"
)

// Source is a cataloged index directory the pool may serve handles for.
type Source struct {
	ID             string    `json:"id"`              // slug, immutable after create
	Path           string    `json:"path"`            // absolute index directory
	Label          *string   `json:"label"`           // nullable
	RefreshSeconds uint      `json:"refresh_seconds"` // 0 = server default
	Enabled        bool      `json:"enabled"`         // disabled sources are never pooled
	CreatedAt      time.Time `json:"created_at"`      //
}

// idPattern: lowercase slug, starts alphanumeric, 1-64 chars.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

const maxRefreshSeconds = 86400

// ValidID reports whether id is a well-formed source ID.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func (s *Source) Validate() error {
	if !idPattern.MatchString(s.ID) {
		return errors.New("id must be a lowercase slug (letters, digits, '-', '_'), 1-64 characters, starting with a letter or digit")
	}

	if err := indexdir.ValidatePath(s.Path); err != nil {
		return fmt.Errorf("invalid path: %s", err)
	}

	// label: nullable, minLength 1, maxLength 100
	if s.Label != nil {
		if len(*s.Label) < 1 {
			return errors.New("label must be at least 1 character")
		}
		if len(*s.Label) > 100 {
			return errors.New("label must be at most 100 characters")
		}
	}

	if s.RefreshSeconds > maxRefreshSeconds {
		return fmt.Errorf("refresh_seconds must be at most %d", maxRefreshSeconds)
	}

	return nil
}

// Clone returns a deep copy of the receiver. Pointer fields are reallocated.
func (s *Source) Clone() Source {
	out := *s
	out.Label = cloneString(s.Label)
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}
