package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/pkg/models"
)

// Config controls filesystem tool defaults.
type Config struct {
	Workspace    string
	MaxReadBytes int
}

// Result is the outcome of a successful filesystem tool call.
type Result struct {
	Stdout    string
	Artifacts []models.Artifact
}

// ReadTool implements a safe file reader.
type ReadTool struct {
	resolver   Resolver
	maxReadLen int
}

// NewReadTool creates a read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = policy.DefaultReadBytes
	}
	return &ReadTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxReadLen: limit,
	}
}

// Name returns the tool name.
func (t *ReadTool) Name() string {
	return policy.ToolFileRead
}

// Execute reads up to max_bytes of a workspace file. The requested limit is
// clamped to [1, MaxReadBytes]; invalid bytes come back as U+FFFD.
func (t *ReadTool) Execute(ctx context.Context, args policy.Args) (*Result, error) {
	_ = ctx
	path, ok := args.String("path")
	if !ok {
		return nil, policy.BadRequest("invalid_path", "invalid path")
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}

	limit := policy.Clamp(args.Int("max_bytes", t.maxReadLen), 1, policy.MaxReadBytes)

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, policy.NotFound("not_found", "file not found")
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, policy.NotFound("not_found", "not a regular file")
	}

	buf, err := io.ReadAll(io.LimitReader(file, int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return &Result{Stdout: policy.SanitizeUTF8(buf), Artifacts: []models.Artifact{}}, nil
}
