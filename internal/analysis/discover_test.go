package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o600))
}

func TestFindWAVFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.WAV", "a.wav", "c.Wav", "notes.txt", "a.wav.bak"} {
		touch(t, filepath.Join(dir, name))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.wav"), 0o755))

	files, err := FindWAVFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.WAV")}, files)
}

func TestFindWAVFilesMissingFolder(t *testing.T) {
	_, err := FindWAVFiles(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestFindFolders(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "top.wav"))
	touch(t, filepath.Join(root, "site2", "2025-06", "x.WAV"))
	touch(t, filepath.Join(root, "site1", "y.wav"))
	touch(t, filepath.Join(root, "site1", "z.wav"))
	touch(t, filepath.Join(root, "empty", "readme.txt"))

	t.Run("recursive", func(t *testing.T) {
		folders, err := FindFolders(root, true)
		require.NoError(t, err)
		assert.Equal(t, []string{
			root,
			filepath.Join(root, "site1"),
			filepath.Join(root, "site2", "2025-06"),
		}, folders)
	})

	t.Run("root only", func(t *testing.T) {
		folders, err := FindFolders(root, false)
		require.NoError(t, err)
		assert.Equal(t, []string{root}, folders)
	})

	t.Run("root without WAVs", func(t *testing.T) {
		folders, err := FindFolders(filepath.Join(root, "empty"), false)
		require.NoError(t, err)
		assert.Empty(t, folders)
	})
}
