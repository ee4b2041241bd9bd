// Package pathutil confines file paths supplied by remote callers, such as
// the MCP kd tool, to directories the operator allowed.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutside is returned by Confine for paths that escape every root.
var ErrOutside = errors.New("path is outside the allowed directories")

// Redact shortens a path to .../<parent>/<base> for error messages and
// logs. "/home/lab/exports/plate.xlsx" becomes ".../exports/plate.xlsx".
func Redact(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	base := filepath.Base(cleaned)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// Confine resolves path and checks that it lies inside one of roots. It
// returns the resolved absolute path, which is what callers should open.
// Symlinks are resolved on both sides, so a link inside a root that points
// elsewhere is rejected.
func Confine(path string, roots []string) (string, error) {
	if path == "" {
		return "", errors.New("path is empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return "", errors.New("path contains a null byte")
	}
	if len(roots) == 0 {
		return "", fmt.Errorf("%w: none configured", ErrOutside)
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", Redact(path), err)
	}
	dir, err := resolve(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(dir, filepath.Base(abs))
	if target, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = target
	}

	for _, root := range roots {
		rootAbs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			continue
		}
		rootResolved, err := resolve(rootAbs)
		if err != nil {
			continue
		}
		if within(resolved, rootResolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutside, Redact(abs))
}

// resolve evaluates symlinks on the deepest existing ancestor of dir and
// re-appends the missing tail.
func resolve(dir string) (string, error) {
	if r, err := filepath.EvalSymlinks(dir); err == nil {
		return r, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve %s", Redact(dir))
	}
	rp, err := resolve(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(rp, filepath.Base(dir)), nil
}

// within reports whether path is root or below it.
func within(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(os.PathSeparator))+string(os.PathSeparator))
}
