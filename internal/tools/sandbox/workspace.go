package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/toolrunner/internal/tools/policy"
)

// MountMode converts a filesystem mode to a bind-mount option. Anything
// other than an explicit rw mounts read-only.
func MountMode(mode policy.FSMode) string {
	if mode == policy.FSReadWrite {
		return "rw"
	}
	return "ro"
}

// HostWorkspace returns the host directory for agent and workspace key under
// root. The directory must already exist; it is never created here.
func HostWorkspace(root, agent, key string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", errors.New("workspace root not configured")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	candidate := filepath.Join(rootAbs, agent, key)
	rel, err := filepath.Rel(rootAbs, candidate)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", policy.Forbidden("denied", "workspace escapes root")
	}

	info, err := os.Stat(candidate)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", policy.NotFound("workspace_not_found", "workspace not found")
		}
		return "", fmt.Errorf("stat workspace: %w", err)
	}
	if !info.IsDir() {
		return "", policy.NotFound("workspace_not_found", "workspace not found")
	}
	return candidate, nil
}
