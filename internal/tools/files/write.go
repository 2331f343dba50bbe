package files

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/pkg/models"
)

// WriteTool implements file writes within the workspace.
type WriteTool struct {
	resolver Resolver
}

// NewWriteTool creates a write tool scoped to the workspace.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{resolver: Resolver{Root: cfg.Workspace}}
}

// Name returns the tool name.
func (t *WriteTool) Name() string {
	return policy.ToolFileWrite
}

// Execute overwrites a workspace file, creating missing parent directories.
// The final component is opened with O_NOFOLLOW so a symlink planted after
// resolution is refused rather than written through.
func (t *WriteTool) Execute(ctx context.Context, args policy.Args) (*Result, error) {
	_ = ctx
	path, ok := args.String("path")
	if !ok {
		return nil, policy.BadRequest("invalid_path", "invalid path")
	}
	content, ok := args.String("content")
	if !ok || len(content) > policy.MaxWriteBytes {
		return nil, policy.BadRequest("invalid_content", "invalid content")
	}

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	// Directories created above may race with a symlink swap; resolve again.
	if again, err := t.resolver.Resolve(path); err != nil {
		return nil, err
	} else if again != resolved {
		return nil, policy.Forbidden("denied", "path changed during write")
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC | unix.O_NOFOLLOW
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		if errors.Is(err, unix.ELOOP) {
			return nil, policy.Forbidden("denied", "refusing to write through symlink")
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close file: %w", err)
	}

	return &Result{
		Stdout:    "OK",
		Artifacts: []models.Artifact{{Path: path, Type: models.ArtifactFile}},
	}, nil
}
