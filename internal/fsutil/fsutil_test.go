package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_CreatesParentsAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "out.json")

	require.NoError(t, WriteFileAtomic(path, []byte("{}"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStemsAndList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.JSON", "c.txt", ".hidden.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	stems, err := Stems(dir, ".json")
	require.NoError(t, err)
	assert.Contains(t, stems, "a")
	assert.Contains(t, stems, "b")
	assert.NotContains(t, stems, "c")

	files, err := List(dir, ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.JSON"), filepath.Join(dir, "b.json")}, files)

	missing, err := Stems(filepath.Join(dir, "nope"), ".json")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	require.NoError(t, os.WriteFile(src, []byte("img"), 0o644))

	dst := filepath.Join(dir, "class", "votacion", "src.jpg")
	require.NoError(t, CopyFile(src, dst))
	assert.True(t, Exists(dst))
	assert.Equal(t, "src", Stem(dst))
}
