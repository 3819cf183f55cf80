package receiptvault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVault_PutGetRemove(t *testing.T) {
	v, err := New(t.TempDir())
	require.NoError(t, err)

	payload := []byte("fake receipt image bytes")

	ref, err := v.Put(payload)
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	got, err := v.Get(ref)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, v.Remove(ref))

	_, err = v.Get(ref)
	assert.ErrorIs(t, err, ErrNotFound)

	// повторное удаление — no-op
	assert.NoError(t, v.Remove(ref))
}

func TestVault_GetUnknownRef(t *testing.T) {
	v, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = v.Get("no-such-ref")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVault_PathTraversalConfined(t *testing.T) {
	v, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = v.Get("../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}
