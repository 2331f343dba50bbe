package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/haasonsaas/toolrunner/internal/tools/policy"
)

// Resolver resolves and validates workspace-relative paths.
type Resolver struct {
	Root string
}

// Resolve returns an absolute path within the workspace root. Symlinks in
// the existing part of the path are followed before the containment check,
// so a link pointing outside the root is denied even though the lexical
// path looks safe. A dangling link is denied outright.
func (r Resolver) Resolve(path string) (string, error) {
	rel, err := policy.SafeRelPath(path)
	if err != nil {
		return "", err
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	target := filepath.Join(rootReal, filepath.FromSlash(strings.ReplaceAll(rel, `\`, "/")))
	resolved, err := resolveExisting(target)
	if err != nil {
		return "", err
	}
	if !within(rootReal, resolved) {
		return "", policy.Forbidden("denied", "path escapes workspace")
	}
	return resolved, nil
}

// resolveExisting follows symlinks in the deepest existing ancestor of
// target and re-appends the components that do not exist yet.
func resolveExisting(target string) (string, error) {
	existing := target
	var missing []string
	for {
		info, err := os.Lstat(existing)
		if err == nil {
			real, err := filepath.EvalSymlinks(existing)
			if err != nil {
				if info.Mode()&fs.ModeSymlink != 0 {
					return "", policy.Forbidden("denied", "dangling symlink")
				}
				return "", fmt.Errorf("resolve path: %w", err)
			}
			for i := len(missing) - 1; i >= 0; i-- {
				real = filepath.Join(real, missing[i])
			}
			return real, nil
		}
		if errors.Is(err, unix.ENOTDIR) {
			return "", policy.NotFound("not_found", "not a directory")
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat path: %w", err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", fmt.Errorf("resolve path: no existing ancestor for %s", target)
		}
		missing = append(missing, filepath.Base(existing))
		existing = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && !filepath.IsAbs(rel)
}
