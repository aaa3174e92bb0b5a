// Package pathutil keeps file output inside known directories and shortens
// paths for error messages.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowed is returned by ValidatePath for a path that escapes every
// allowed directory.
var ErrOutsideAllowed = errors.New("path is outside allowed directories")

// RedactPath shortens a path to .../<parent>/<basename>, e.g.
// "/home/user/.sweepsim/catalog.yaml" becomes ".../.sweepsim/catalog.yaml".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	base := filepath.Base(cleaned)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// ValidatePath checks that path, after resolving symlinks on its existing
// ancestors, lies inside one of allowedDirs. The file itself need not exist.
func ValidatePath(path string, allowedDirs []string) error {
	switch {
	case path == "":
		return fmt.Errorf("invalid path: empty")
	case strings.ContainsRune(path, '\x00'):
		return fmt.Errorf("invalid path: contains null byte")
	case len(allowedDirs) == 0:
		return fmt.Errorf("invalid path: no allowed directories configured")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	dir, err := resolve(filepath.Dir(abs))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	target := filepath.Join(dir, filepath.Base(abs))

	for _, allowed := range allowedDirs {
		root, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if root, err = resolve(root); err != nil {
			continue
		}
		if within(target, root) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrOutsideAllowed, RedactPath(abs))
}

// resolve evaluates symlinks on the deepest existing ancestor of dir and
// re-appends the missing tail.
func resolve(dir string) (string, error) {
	if r, err := filepath.EvalSymlinks(dir); err == nil {
		return r, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve %s", RedactPath(dir))
	}
	r, err := resolve(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(r, filepath.Base(dir)), nil
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// ExportDirs returns where result exports may be written: ~/.sweepsim/exports
// and workDir.
func ExportDirs(workDir string) ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return []string{filepath.Join(home, ".sweepsim", "exports"), workDir}, nil
}
