package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/edirooss/indexpool-server/internal/http/dto"
	"github.com/edirooss/indexpool-server/pkg/jsonx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/sources", strings.NewReader(body))
}

func TestBindStrictness(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		var req dto.SourceCreate
		require.NoError(t, bind(postJSON(`{"id":"amber","path":"/srv/idx/amber"}`), &req))
		assert.True(t, req.ID.Set)
		assert.Equal(t, "amber", req.ID.V)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		var req dto.SourceCreate
		err := bind(postJSON(`{"id":"amber","path":"/srv/idx/amber","bogus":1}`), &req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown field")
	})

	t.Run("empty body rejected", func(t *testing.T) {
		var req dto.SourceCreate
		err := bind(postJSON(``), &req)
		require.ErrorIs(t, err, jsonx.ErrEmptyBody)
	})

	t.Run("trailing data rejected", func(t *testing.T) {
		var req dto.SourceCreate
		err := bind(postJSON(`{"id":"amber","path":"/srv/idx/amber"}{"x":1}`), &req)
		require.ErrorIs(t, err, jsonx.ErrTrailingJSON)
	})

	t.Run("type mismatch rejected", func(t *testing.T) {
		var req dto.SourceCreate
		err := bind(postJSON(`{"id":"amber","path":"/srv/idx/amber","refresh_seconds":"soon"}`), &req)
		require.Error(t, err)
	})

	t.Run("nil body rejected", func(t *testing.T) {
		var req dto.SourceCreate
		err := bind(nil, &req)
		require.Error(t, err)
	})
}
