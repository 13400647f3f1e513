package dto

import (
	"encoding/json"
	"testing"

	"github.com/edirooss/indexpool-server/internal/domain/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWDistinguishesOmittedNullValue(t *testing.T) {
	var obj struct {
		A W[string] `json:"a"`
		B W[string] `json:"b"`
		C W[string] `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"b": null, "c": "x"}`), &obj))

	assert.False(t, obj.A.Set, "omitted key must not be marked set")

	assert.True(t, obj.B.Set)
	assert.True(t, obj.B.Null)

	assert.True(t, obj.C.Set)
	assert.False(t, obj.C.Null)
	assert.Equal(t, "x", obj.C.V)
}

func TestSourceCreateToSource(t *testing.T) {
	t.Run("full payload", func(t *testing.T) {
		var req SourceCreate
		require.NoError(t, json.Unmarshal([]byte(
			`{"id":"amber","path":"/srv/idx/amber","label":"Amber docs","refresh_seconds":30,"enabled":true}`,
		), &req))

		src, err := req.ToSource()
		require.NoError(t, err)
		assert.Equal(t, "amber", src.ID)
		assert.Equal(t, "/srv/idx/amber", src.Path)
		require.NotNil(t, src.Label)
		assert.Equal(t, "Amber docs", *src.Label)
		assert.Equal(t, uint(30), src.RefreshSeconds)
		assert.True(t, src.Enabled)
	})

	t.Run("defaults", func(t *testing.T) {
		var req SourceCreate
		require.NoError(t, json.Unmarshal([]byte(`{"id":"amber","path":"/srv/idx/amber"}`), &req))

		src, err := req.ToSource()
		require.NoError(t, err)
		assert.Nil(t, src.Label)
		assert.Zero(t, src.RefreshSeconds)
		assert.False(t, src.Enabled)
	})

	t.Run("missing id", func(t *testing.T) {
		var req SourceCreate
		require.NoError(t, json.Unmarshal([]byte(`{"path":"/srv/idx/amber"}`), &req))
		_, err := req.ToSource()
		assert.EqualError(t, err, "id is required")
	})

	t.Run("null id", func(t *testing.T) {
		var req SourceCreate
		require.NoError(t, json.Unmarshal([]byte(`{"id":null,"path":"/srv/idx/amber"}`), &req))
		_, err := req.ToSource()
		assert.EqualError(t, err, "id cannot be null")
	})

	t.Run("missing path", func(t *testing.T) {
		var req SourceCreate
		require.NoError(t, json.Unmarshal([]byte(`{"id":"amber"}`), &req))
		_, err := req.ToSource()
		assert.EqualError(t, err, "path is required")
	})

	t.Run("null label is explicit none", func(t *testing.T) {
		var req SourceCreate
		require.NoError(t, json.Unmarshal([]byte(`{"id":"amber","path":"/srv/idx/amber","label":null}`), &req))
		src, err := req.ToSource()
		require.NoError(t, err)
		assert.Nil(t, src.Label)
	})
}

func TestSourceModifyMergePatch(t *testing.T) {
	label := "Amber docs"
	base := func() *source.Source {
		return &source.Source{
			ID:             "amber",
			Path:           "/srv/idx/amber",
			Label:          &label,
			RefreshSeconds: 30,
			Enabled:        true,
		}
	}

	t.Run("empty patch changes nothing", func(t *testing.T) {
		var req SourceModify
		require.NoError(t, json.Unmarshal([]byte(`{}`), &req))

		src := base()
		require.NoError(t, req.MergePatch(src))
		assert.Equal(t, base(), src)
	})

	t.Run("partial patch", func(t *testing.T) {
		var req SourceModify
		require.NoError(t, json.Unmarshal([]byte(`{"path":"/srv/idx/amber-v2","enabled":false}`), &req))

		src := base()
		require.NoError(t, req.MergePatch(src))
		assert.Equal(t, "/srv/idx/amber-v2", src.Path)
		assert.False(t, src.Enabled)
		// untouched fields survive
		require.NotNil(t, src.Label)
		assert.Equal(t, uint(30), src.RefreshSeconds)
	})

	t.Run("null clears nullable label", func(t *testing.T) {
		var req SourceModify
		require.NoError(t, json.Unmarshal([]byte(`{"label":null}`), &req))

		src := base()
		require.NoError(t, req.MergePatch(src))
		assert.Nil(t, src.Label)
	})

	t.Run("null on non-nullable field", func(t *testing.T) {
		var req SourceModify
		require.NoError(t, json.Unmarshal([]byte(`{"path":null}`), &req))
		assert.EqualError(t, req.MergePatch(base()), "path cannot be null")
	})
}

func TestSourceReplaceToSource(t *testing.T) {
	t.Run("full payload", func(t *testing.T) {
		var req SourceReplace
		require.NoError(t, json.Unmarshal([]byte(
			`{"path":"/srv/idx/amber","label":null,"refresh_seconds":0,"enabled":false}`,
		), &req))

		src, err := req.ToSource("amber")
		require.NoError(t, err)
		assert.Equal(t, "amber", src.ID)
		assert.Nil(t, src.Label, "label is nullable even under PUT")
	})

	t.Run("every field required", func(t *testing.T) {
		var req SourceReplace
		require.NoError(t, json.Unmarshal([]byte(`{"path":"/srv/idx/amber","label":null,"enabled":false}`), &req))
		_, err := req.ToSource("amber")
		assert.EqualError(t, err, "refresh_seconds is required")
	})
}
