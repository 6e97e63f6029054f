package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRoots(t *testing.T) (*MediaRoots, string, string) {
	t.Helper()

	rootA := t.TempDir()
	rootB := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(rootA, "movies"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "movies", "alpha.mkv"), []byte("a"), 0o640))
	require.NoError(t, os.MkdirAll(filepath.Join(rootB, "shows"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "shows", "beta.mp4"), []byte("b"), 0o640))

	roots, err := NewMediaRoots([]string{rootA, rootB})
	require.NoError(t, err)
	return roots, rootA, rootB
}

func TestMediaRoots_ResolveRelative(t *testing.T) {
	roots, rootA, rootB := setupTestRoots(t)

	// First root that has the file wins.
	got, err := roots.Resolve("movies/alpha.mkv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(rootA, "movies", "alpha.mkv"), got)

	// Files only present in the second root still resolve.
	got, err = roots.Resolve("shows/beta.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(rootB, "shows", "beta.mp4"), got)
}

func TestMediaRoots_ResolveAbsolute(t *testing.T) {
	roots, rootA, _ := setupTestRoots(t)

	abs := filepath.Join(rootA, "movies", "alpha.mkv")
	got, err := roots.Resolve(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, got)

	// Absolute paths outside every root are refused even if they exist.
	outside := filepath.Join(t.TempDir(), "outside.mkv")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o640))
	_, err = roots.Resolve(outside)
	assert.ErrorIs(t, err, ErrOutsideRoots)
}

func TestMediaRoots_ResolveMissing(t *testing.T) {
	roots, _, _ := setupTestRoots(t)

	_, err := roots.Resolve("movies/missing.mkv")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// Directories are not playable files.
	_, err = roots.Resolve("movies")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMediaRoots_ResolveEscape(t *testing.T) {
	roots, _, _ := setupTestRoots(t)

	for _, path := range []string{"../etc/passwd", "movies/../../escape.mkv", ".."} {
		_, err := roots.Resolve(path)
		assert.ErrorIs(t, err, ErrOutsideRoots, "path %q", path)
	}

	_, err := roots.Resolve("")
	assert.ErrorIs(t, err, ErrOutsideRoots)
}

func TestMediaRoots_Empty(t *testing.T) {
	roots, err := NewMediaRoots(nil)
	require.NoError(t, err)
	assert.True(t, roots.Empty())

	_, err = roots.Resolve("anything.mkv")
	assert.ErrorIs(t, err, ErrNoRoots)

	// Blank entries are skipped rather than treated as the CWD.
	roots, err = NewMediaRoots([]string{""})
	require.NoError(t, err)
	assert.True(t, roots.Empty())
}
