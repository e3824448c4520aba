package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic_ReplacesContentAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", ".download_control.json")

	require.NoError(t, WriteAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteAtomic(path, []byte("second"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteJSONAtomic_IndentsAndTerminates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")

	require.NoError(t, WriteJSONAtomic(path, map[string]int{"a": 1}))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}\n", string(got))
}

func TestReplaceExt(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b.srt"), ReplaceExt(filepath.Join("a", "b.en.vtt"), "srt"))
	assert.Equal(t, filepath.Join("a", "noext.txt"), ReplaceExt(filepath.Join("a", "noext"), ".txt"))
	assert.Equal(t, "", ReplaceExt("", ".txt"))
}

func TestIsRegular(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	assert.True(t, IsRegular(path))
	assert.False(t, IsRegular(dir))
	assert.False(t, IsRegular(filepath.Join(dir, "missing.mp3")))
}
