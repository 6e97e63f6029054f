package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoots is returned when a path resolves outside every configured
// media root. Callers treat this as a bad catalog row, not a missing file.
var ErrOutsideRoots = errors.New("path outside media roots")

// ErrNoRoots is returned when local resolution is attempted with no media
// roots configured.
var ErrNoRoots = errors.New("no media roots configured")

// MediaRoots resolves catalog paths against the configured local media
// directories. Catalog rows for local items store either a path relative to
// one of the roots or an absolute path that must already fall under a root;
// anything else is refused.
type MediaRoots struct {
	roots []string // absolute, cleaned
}

// NewMediaRoots builds a MediaRoots from the configured directories. The
// directories are not created: an empty or missing root simply never matches.
func NewMediaRoots(dirs []string) (*MediaRoots, error) {
	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving media root %q: %w", dir, err)
		}
		roots = append(roots, filepath.Clean(abs))
	}
	return &MediaRoots{roots: roots}, nil
}

// Empty reports whether no roots are configured.
func (r *MediaRoots) Empty() bool {
	return len(r.roots) == 0
}

// Roots returns the configured root directories.
func (r *MediaRoots) Roots() []string {
	out := make([]string, len(r.roots))
	copy(out, r.roots)
	return out
}

// Resolve maps a catalog path to an absolute file path under one of the
// roots. Relative paths are tried against each root in order and the first
// existing regular file wins. Absolute paths must already sit under a root.
// Returns an error wrapping fs.ErrNotExist when the file is missing, and
// ErrOutsideRoots when the path escapes.
func (r *MediaRoots) Resolve(itemPath string) (string, error) {
	if len(r.roots) == 0 {
		return "", ErrNoRoots
	}
	if itemPath == "" {
		return "", fmt.Errorf("empty path: %w", ErrOutsideRoots)
	}

	if filepath.IsAbs(itemPath) {
		abs := filepath.Clean(itemPath)
		if !r.contains(abs) {
			return "", fmt.Errorf("%s: %w", itemPath, ErrOutsideRoots)
		}
		if err := statFile(abs); err != nil {
			return "", err
		}
		return abs, nil
	}

	clean := filepath.Clean(itemPath)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", itemPath, ErrOutsideRoots)
	}

	for _, root := range r.roots {
		candidate := filepath.Join(root, clean)
		if err := statFile(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w", itemPath, fs.ErrNotExist)
}

// contains reports whether abs sits under (or is) one of the roots.
func (r *MediaRoots) contains(abs string) bool {
	for _, root := range r.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// statFile verifies the path exists and is a regular file.
func statFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, fs.ErrNotExist)
		}
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: is a directory: %w", path, fs.ErrNotExist)
	}
	return nil
}
