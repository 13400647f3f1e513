package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func validSource() Source {
	return Source{
		ID:             "products",
		Path:           "/idx/products",
		Label:          strptr("Product catalog"),
		RefreshSeconds: 120,
		Enabled:        true,
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts a well-formed source", func(t *testing.T) {
		s := validSource()
		assert.NoError(t, s.Validate())
	})

	t.Run("nil label is fine", func(t *testing.T) {
		s := validSource()
		s.Label = nil
		assert.NoError(t, s.Validate())
	})

	t.Run("id rules", func(t *testing.T) {
		bad := []string{"", "Products", "-products", "_x", "has space", "a.b", strings.Repeat("a", 65)}
		for _, id := range bad {
			s := validSource()
			s.ID = id
			assert.Error(t, s.Validate(), "id %q must be rejected", id)
		}
		good := []string{"a", "0", "products-v2", "a_b-c", strings.Repeat("a", 64)}
		for _, id := range good {
			s := validSource()
			s.ID = id
			assert.NoError(t, s.Validate(), "id %q must be accepted", id)
		}
	})

	t.Run("path rules", func(t *testing.T) {
		s := validSource()
		s.Path = "relative/idx"
		require.Error(t, s.Validate())
		s.Path = "/idx/../etc"
		require.Error(t, s.Validate())
	})

	t.Run("label bounds", func(t *testing.T) {
		s := validSource()
		s.Label = strptr("")
		assert.Error(t, s.Validate())
		s.Label = strptr(strings.Repeat("x", 101))
		assert.Error(t, s.Validate())
	})

	t.Run("refresh bound", func(t *testing.T) {
		s := validSource()
		s.RefreshSeconds = 86401
		assert.Error(t, s.Validate())
	})
}

func TestClone(t *testing.T) {
	s := validSource()
	c := s.Clone()

	require.Equal(t, s, c)
	*c.Label = "mutated"
	assert.Equal(t, "Product catalog", *s.Label, "clone must not share label storage")
}
