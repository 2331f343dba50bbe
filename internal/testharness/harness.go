// Package testharness provides fixtures for exercising the pipeline end to
// end without a container engine.
package testharness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/haasonsaas/toolrunner/internal/job"
	"github.com/haasonsaas/toolrunner/internal/tools/sandbox"
)

// InProcessRuntime is a sandbox.Runtime that runs the job executor in the
// current process, rooted at the unit's host workspace. It records every
// unit so tests can assert on specs and cleanup.
type InProcessRuntime struct {
	mu      sync.Mutex
	next    int
	live    map[string]sandbox.UnitSpec
	created []sandbox.UnitSpec
}

// NewInProcessRuntime creates an empty runtime.
func NewInProcessRuntime() *InProcessRuntime {
	return &InProcessRuntime{live: map[string]sandbox.UnitSpec{}}
}

func (r *InProcessRuntime) Create(ctx context.Context, spec sandbox.UnitSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := fmt.Sprintf("unit-%d", r.next)
	r.live[id] = spec
	r.created = append(r.created, spec)
	return id, nil
}

func (r *InProcessRuntime) Attach(ctx context.Context, id string, stdin io.Reader, out io.Writer) (int, error) {
	r.mu.Lock()
	spec, ok := r.live[id]
	r.mu.Unlock()
	if !ok {
		return -1, fmt.Errorf("no such unit: %s", id)
	}

	request := spec.Request
	if spec.UsesStdin() {
		request = sandbox.StdinRequest
	}
	executor := &job.Executor{Root: spec.HostWorkspace, Out: out, Stdin: stdin}
	return executor.Run(ctx, request), nil
}

func (r *InProcessRuntime) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
	return nil
}

// Created returns the specs of every unit created so far.
func (r *InProcessRuntime) Created() []sandbox.UnitSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sandbox.UnitSpec(nil), r.created...)
}

// Live returns the number of units created but not removed.
func (r *InProcessRuntime) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Workspace creates root/<agent>/group_<chatID> and returns its path.
func Workspace(t testing.TB, root, agent, chatID string) string {
	t.Helper()
	dir := filepath.Join(root, agent, "group_"+chatID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return dir
}

// Allowlist writes an allowlist file granting the given agent and chat id
// couples and returns its path.
func Allowlist(t testing.TB, pairs ...[2]string) string {
	t.Helper()
	type row struct {
		Agent  string `json:"agent"`
		ChatID string `json:"chat_id"`
	}
	rows := make([]row, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, row{Agent: p[0], ChatID: p[1]})
	}
	data, err := json.Marshal(map[string]any{"telegram": rows})
	if err != nil {
		t.Fatalf("marshal allowlist: %v", err)
	}
	path := filepath.Join(t.TempDir(), "allowlist.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write allowlist: %v", err)
	}
	return path
}
