package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/toolrunner/internal/tools/policy"
)

func TestResolverRejectsEscape(t *testing.T) {
	root := t.TempDir()
	resolver := Resolver{Root: root}
	for _, path := range []string{"../outside.txt", "/etc/passwd", "a/../../x"} {
		if _, err := resolver.Resolve(path); !policy.IsDenied(err) {
			t.Fatalf("expected %q to be denied, got %v", path, err)
		}
	}
}

func TestResolverRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "file-link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	resolver := Resolver{Root: root}
	for _, path := range []string{"link/secret.txt", "link/new/file.txt", "file-link"} {
		if _, err := resolver.Resolve(path); !policy.IsDenied(err) {
			t.Fatalf("expected %q to be denied, got %v", path, err)
		}
	}
}

func TestResolverRejectsDanglingSymlink(t *testing.T) {
	root := t.TempDir()
	if err := os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "dangling")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if _, err := (Resolver{Root: root}).Resolve("dangling"); !policy.IsDenied(err) {
		t.Fatalf("expected dangling link to be denied, got %v", err)
	}
}

func TestResolverAllowsInternalSymlink(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "data"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "data"), filepath.Join(root, "alias")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	resolved, err := (Resolver{Root: root}).Resolve("alias/new.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(filepath.Dir(resolved)) != "data" {
		t.Fatalf("expected link to resolve into data/, got %s", resolved)
	}
}

func TestReadWrite(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	ctx := context.Background()

	writeTool := NewWriteTool(cfg)
	readTool := NewReadTool(cfg)

	res, err := writeTool.Execute(ctx, policy.Args{"path": "notes/today.txt", "content": "hello"})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if res.Stdout != "OK" || len(res.Artifacts) != 1 || res.Artifacts[0].Path != "notes/today.txt" {
		t.Fatalf("unexpected write result %+v", res)
	}

	res, err = readTool.Execute(ctx, policy.Args{"path": "notes/today.txt"})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if res.Stdout != "hello" {
		t.Fatalf("expected content, got %q", res.Stdout)
	}

	if _, err := writeTool.Execute(ctx, policy.Args{"path": "notes/today.txt", "content": "hi"}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "notes", "today.txt"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("expected silent overwrite, got %q", string(data))
	}
}

func TestReadLimits(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte(strings.Repeat("x", 100)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "bad.txt"), []byte{'a', 0xff, 'b'}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	readTool := NewReadTool(Config{Workspace: root})
	ctx := context.Background()

	res, err := readTool.Execute(ctx, policy.Args{"path": "big.txt", "max_bytes": "10"})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(res.Stdout) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(res.Stdout))
	}

	res, err = readTool.Execute(ctx, policy.Args{"path": "big.txt", "max_bytes": -5})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(res.Stdout) != 1 {
		t.Fatalf("expected clamp to 1 byte, got %d", len(res.Stdout))
	}

	res, err = readTool.Execute(ctx, policy.Args{"path": "bad.txt"})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if res.Stdout != "a�b" {
		t.Fatalf("expected replacement character, got %q", res.Stdout)
	}

	if _, err := readTool.Execute(ctx, policy.Args{"path": "missing.txt"}); policy.KindOf(err) != policy.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWriteRejectsSymlinkTarget(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "victim.txt")
	if err := os.WriteFile(outside, []byte("original"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "victim.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	_, err := NewWriteTool(Config{Workspace: root}).Execute(context.Background(), policy.Args{"path": "victim.txt", "content": "pwned"})
	if !policy.IsDenied(err) {
		t.Fatalf("expected denial, got %v", err)
	}
	data, _ := os.ReadFile(outside)
	if string(data) != "original" {
		t.Fatalf("outside file modified: %q", string(data))
	}
}

func TestWriteRejectsInvalidContent(t *testing.T) {
	_, err := NewWriteTool(Config{Workspace: t.TempDir()}).Execute(context.Background(), policy.Args{"path": "a.txt", "content": 12})
	if policy.KindOf(err) != policy.KindBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}
}
