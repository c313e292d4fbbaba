package legacy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{"architecture":"amd64","config":{"Env":["PATH=/bin"],"Cmd":["/bin/sh"]},` +
	`"created":"2024-01-01T00:00:00.123456789Z","history":[{"created_by":"ADD file:abc in /"}],` +
	`"os":"linux","rootfs":{"type":"layers","diff_ids":["sha256:1111"]},"zeta":"café"}`

func TestParseDocument(t *testing.T) {
	t.Parallel()

	t.Run("keeps key order", func(t *testing.T) {
		t.Parallel()

		d, err := ParseDocument([]byte(sampleConfig))
		require.NoError(t, err)
		assert.Equal(t, []string{"architecture", "config", "created", "history", "os", "rootfs", "zeta"}, d.Keys())
	})

	t.Run("keeps nested values verbatim", func(t *testing.T) {
		t.Parallel()

		d, err := ParseDocument([]byte(sampleConfig))
		require.NoError(t, err)
		raw, ok := d.Raw("config")
		require.True(t, ok)
		assert.JSONEq(t, `{"Env":["PATH=/bin"],"Cmd":["/bin/sh"]}`, string(raw))

		out, err := json.Marshal(d)
		require.NoError(t, err)
		assert.JSONEq(t, sampleConfig, string(out))
	})

	t.Run("rejects non-objects", func(t *testing.T) {
		t.Parallel()

		for _, in := range []string{"", "[]", "null", `"x"`, "{"} {
			_, err := ParseDocument([]byte(in))
			assert.Error(t, err, in)
		}
	})
}

func TestDocument_Accessors(t *testing.T) {
	t.Parallel()

	d := NewDocument()
	assert.Empty(t, d.ID())
	assert.Empty(t, d.Parent())
	assert.False(t, d.Has(KeyID))

	d.SetID("abc")
	d.SetParent("def")
	require.NoError(t, d.Set("size", 42))
	assert.Equal(t, "abc", d.ID())
	assert.Equal(t, "def", d.Parent())
	assert.Equal(t, []string{"id", "parent", "size"}, d.Keys())

	// overwriting keeps position
	d.SetID("xyz")
	assert.Equal(t, []string{"id", "parent", "size"}, d.Keys())

	d.Delete("parent")
	assert.False(t, d.Has(KeyParent))

	require.NoError(t, d.Set(KeyParent, 7))
	assert.Empty(t, d.Parent(), "non-string parent reads as empty")
}

func TestDocument_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	d, err := ParseDocument([]byte(sampleConfig))
	require.NoError(t, err)

	c := d.Clone()
	c.Delete(KeyHistory)
	c.SetID("new")

	assert.True(t, d.Has(KeyHistory))
	assert.False(t, d.Has(KeyID))
	assert.Equal(t, "new", c.ID())
}

func TestDocument_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var wrapper struct {
		Doc *Document `json:"doc"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"doc":{"b":1,"a":2}}`), &wrapper))
	require.NotNil(t, wrapper.Doc)
	assert.Equal(t, []string{"b", "a"}, wrapper.Doc.Keys())
}
