package action

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard confines file access to a set of root directories.
type PathGuard struct {
	Roots []string
}

// NewPathGuard resolves every root to a clean absolute path, following
// symlinks where the root already exists.
func NewPathGuard(roots ...string) (*PathGuard, error) {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve root %s: %w", root, err)
		}
		clean := filepath.Clean(abs)
		if real, err := filepath.EvalSymlinks(clean); err == nil {
			clean = filepath.Clean(real)
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("path guard has no roots")
	}
	return &PathGuard{Roots: out}, nil
}

// Resolve maps path (relative paths are taken from baseDir) to a clean
// absolute path and fails unless it lies inside one of the roots after
// symlinks are resolved.
func (g *PathGuard) Resolve(path, baseDir string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is empty")
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		base, err := filepath.Abs(baseDir)
		if err != nil {
			return "", fmt.Errorf("resolve base dir: %w", err)
		}
		candidate = filepath.Join(base, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolvePathForCheck(candidate)
	if err != nil {
		return "", err
	}
	for _, root := range g.Roots {
		if hasPathPrefix(resolved, root) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("path outside allowed roots: %s", path)
}

func resolvePathForCheck(path string) (string, error) {
	real, err := filepath.EvalSymlinks(path)
	if err == nil {
		return filepath.Clean(real), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	// Missing files are judged by their nearest existing parent.
	dir := filepath.Dir(path)
	for {
		realDir, dirErr := filepath.EvalSymlinks(dir)
		if dirErr == nil {
			leaf := strings.TrimPrefix(path, dir)
			leaf = strings.TrimPrefix(leaf, string(filepath.Separator))
			return filepath.Clean(filepath.Join(realDir, leaf)), nil
		}
		if !errors.Is(dirErr, os.ErrNotExist) {
			return "", fmt.Errorf("failed to resolve parent path: %w", dirErr)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for path: %s", path)
		}
		dir = parent
	}
}

func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
