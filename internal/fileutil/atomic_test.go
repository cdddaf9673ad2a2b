package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "game_epoch0.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteFileAtomicMissingDir(t *testing.T) {
	t.Parallel()

	err := WriteFileAtomic(filepath.Join(t.TempDir(), "missing", "x.json"), []byte("x"), 0o644)
	assert.Error(t, err)
}

func TestWriteJSONAtomicIsCanonical(t *testing.T) {
	t.Parallel()

	type record struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")

	x, y := 0.1, 0.2
	v := record{Name: "d<1>", Value: x + y}
	require.NoError(t, WriteJSONAtomic(a, v))
	require.NoError(t, WriteJSONAtomic(b, v))

	da, err := os.ReadFile(a)
	require.NoError(t, err)
	db, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Contains(t, string(da), `"d<1>"`, "HTML escaping is disabled")
	assert.Contains(t, string(da), "0.30000000000000004")
}

func TestExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ok, err := Exists(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.False(t, ok)

	path := filepath.Join(dir, "yes")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	ok, err = Exists(path)
	require.NoError(t, err)
	assert.True(t, ok)
}
