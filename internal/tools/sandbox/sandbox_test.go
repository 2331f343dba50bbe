package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/toolrunner/internal/observability"
	"github.com/haasonsaas/toolrunner/internal/tools/policy"
)

type fakeRuntime struct {
	mu        sync.Mutex
	createErr error
	attach    func(ctx context.Context, stdin io.Reader, out io.Writer) (int, error)
	removeErr error
	// removeFailures fails that many Remove calls before honoring removeErr.
	removeFailures int
	created        []UnitSpec
	removed        []string
	// createCtxErr is the state of the context Create ran under.
	createCtxErr error
}

func (f *fakeRuntime) Create(ctx context.Context, spec UnitSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCtxErr = ctx.Err()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, spec)
	return "unit-1", nil
}

func (f *fakeRuntime) Attach(ctx context.Context, id string, stdin io.Reader, out io.Writer) (int, error) {
	if f.attach == nil {
		return 0, nil
	}
	return f.attach(ctx, stdin, out)
}

func (f *fakeRuntime) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.removed = append(f.removed, id)
	if f.removeFailures > 0 {
		f.removeFailures--
		return errors.New("removal in progress")
	}
	return f.removeErr
}

func TestCreateArgs(t *testing.T) {
	spec := UnitSpec{
		RequestID:     "req-1",
		Tool:          policy.ToolFileWrite,
		Image:         "toolrunner-job:latest",
		JobBinary:     "/usr/local/bin/toolrunner",
		HostWorkspace: "/srv/ws/assistant/group_1001",
		FSMode:        policy.FSReadWrite,
		TimeoutS:      10,
		Request:       "abc",
	}
	args := spec.CreateArgs()
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--read-only",
		"--tmpfs /tmp",
		"--security-opt no-new-privileges:true",
		"--cap-drop ALL",
		"--pids-limit 128",
		"--memory 512m",
		"--memory-swap 512m",
		"--cpus 1",
		"--network none",
		"-v /srv/ws/assistant/group_1001:/workspace:rw",
		"--entrypoint /usr/local/bin/toolrunner toolrunner-job:latest job --request=abc",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("create args missing %q: %s", want, joined)
		}
	}
	if slices.Contains(args, "--interactive") {
		t.Error("small requests must not use stdin")
	}

	spec.FSMode = "bogus"
	spec.Request = strings.Repeat("a", MaxArgRequestBytes+1)
	joined = strings.Join(spec.CreateArgs(), " ")
	if !strings.Contains(joined, ":/workspace:ro") {
		t.Errorf("unknown fs mode must mount read-only: %s", joined)
	}
	if !strings.Contains(joined, "--interactive") || !strings.HasSuffix(joined, "--request=-") {
		t.Errorf("large request must go over stdin: %s", joined[len(joined)-40:])
	}
}

func TestNetworkFor(t *testing.T) {
	allow := policy.EffectivePolicy{NetMode: policy.NetAllowlist, NetAllow: []string{"ollama"}}
	if got := NetworkFor(allow, "sandbox_net"); got != "sandbox_net" {
		t.Errorf("NetworkFor(allowlist) = %q", got)
	}
	if got := NetworkFor(policy.EffectivePolicy{NetMode: policy.NetAllowlist}, "sandbox_net"); got != "none" {
		t.Errorf("empty allowlist must not get a network, got %q", got)
	}
	if got := NetworkFor(policy.EffectivePolicy{NetMode: policy.NetNone}, "sandbox_net"); got != "none" {
		t.Errorf("NetworkFor(none) = %q", got)
	}
}

func TestWaitBudget(t *testing.T) {
	if got := (UnitSpec{TimeoutS: 10}).WaitBudget(); got != 15*time.Second {
		t.Errorf("WaitBudget = %v", got)
	}
	if got := (UnitSpec{TimeoutS: 600}).WaitBudget(); got != 65*time.Second {
		t.Errorf("WaitBudget must clamp, got %v", got)
	}
}

func TestJobRequestCodec(t *testing.T) {
	req := JobRequest{
		Tool: policy.ToolShellExec,
		Args: json.RawMessage(`{"cmd":["curl","http://ollama/"]}`),
		Policy: policy.EffectivePolicy{
			FSMode:   policy.FSReadOnly,
			NetMode:  policy.NetAllowlist,
			NetAllow: []string{"ollama"},
			TimeoutS: 5,
		},
	}
	encoded, err := EncodeJobRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.ContainsAny(encoded, "+/=") {
		t.Errorf("encoding must be unpadded base64url: %s", encoded)
	}
	again, _ := EncodeJobRequest(req)
	if again != encoded {
		t.Error("encoding must be deterministic")
	}

	decoded, err := DecodeJobRequest(encoded + "\n")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Tool != req.Tool || string(decoded.Args) != string(req.Args) || !slices.Equal(decoded.Policy.NetAllow, req.Policy.NetAllow) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}

	for _, bad := range []string{"", "!!!", "AAAA"} {
		if _, err := DecodeJobRequest(bad); !errors.Is(err, ErrInvalidJobRequest) {
			t.Errorf("DecodeJobRequest(%q) = %v", bad, err)
		}
	}
}

func TestCappedBuffer(t *testing.T) {
	buf := NewCappedBuffer(5)
	n, err := buf.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	n, err = buf.Write([]byte("defgh"))
	if n != 5 || err != nil {
		t.Fatalf("Write must report full length, got %d, %v", n, err)
	}
	if string(buf.Bytes()) != "abcde" || !buf.Truncated() {
		t.Fatalf("buffer = %q truncated=%v", buf.Bytes(), buf.Truncated())
	}
}

func TestHostWorkspace(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "assistant", "group_1001"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "assistant", "group_file"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := HostWorkspace(root, "assistant", "group_1001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(root, "assistant", "group_1001") {
		t.Errorf("HostWorkspace = %s", got)
	}

	if _, err := HostWorkspace(root, "assistant", "group_2002"); policy.KindOf(err) != policy.KindNotFound {
		t.Errorf("missing workspace: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "assistant", "group_2002")); !os.IsNotExist(err) {
		t.Error("missing workspace must not be created")
	}
	if _, err := HostWorkspace(root, "assistant", "group_file"); policy.KindOf(err) != policy.KindNotFound {
		t.Errorf("file workspace: %v", err)
	}
	if _, err := HostWorkspace(root, "..", ".."); !policy.IsDenied(err) {
		t.Errorf("escaping workspace: %v", err)
	}
}

func TestLauncherRemovesUnit(t *testing.T) {
	registry := prometheus.NewRegistry()
	runtime := &fakeRuntime{
		attach: func(ctx context.Context, stdin io.Reader, out io.Writer) (int, error) {
			_, _ = out.Write([]byte(`{"ok":true}`))
			return 0, nil
		},
	}
	launcher := &Launcher{Runtime: runtime, Metrics: observability.NewMetrics(registry)}

	res, err := launcher.Run(context.Background(), UnitSpec{Tool: policy.ToolFileRead, TimeoutS: 1, Request: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Output) != `{"ok":true}` || res.ExitCode != 0 || res.TimedOut {
		t.Fatalf("unexpected result %+v", res)
	}
	if !slices.Equal(runtime.removed, []string{"unit-1"}) {
		t.Fatalf("unit not removed: %v", runtime.removed)
	}
}

func TestLauncherTimeout(t *testing.T) {
	runtime := &fakeRuntime{
		attach: func(ctx context.Context, stdin io.Reader, out io.Writer) (int, error) {
			<-ctx.Done()
			return -1, ctx.Err()
		},
	}
	launcher := &Launcher{Runtime: runtime}
	spec := UnitSpec{Tool: policy.ToolShellExec, TimeoutS: 1}

	// Shrink the budget through the parent context to keep the test fast.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := launcher.Run(ctx, spec)
	if err == nil {
		t.Fatal("expected error when the caller's context expires")
	}
	if len(runtime.removed) != 1 {
		t.Fatalf("unit must be removed even after the caller went away: %v", runtime.removed)
	}
}

func TestLauncherCreateOutlivesCaller(t *testing.T) {
	runtime := &fakeRuntime{
		attach: func(ctx context.Context, stdin io.Reader, out io.Writer) (int, error) {
			return -1, ctx.Err()
		},
	}
	launcher := &Launcher{Runtime: runtime}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := launcher.Run(ctx, UnitSpec{Tool: policy.ToolShellExec, TimeoutS: 1}); err == nil {
		t.Fatal("expected error for a caller that already went away")
	}
	if runtime.createCtxErr != nil {
		t.Fatalf("create saw a cancelled context: %v", runtime.createCtxErr)
	}
	if !slices.Equal(runtime.removed, []string{"unit-1"}) {
		t.Fatalf("created unit must be removed: %v", runtime.removed)
	}
}

func TestLauncherWaitBudgetExceeded(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the minimum unit budget")
	}
	runtime := &fakeRuntime{
		attach: func(ctx context.Context, stdin io.Reader, out io.Writer) (int, error) {
			_, _ = out.Write([]byte("partial"))
			<-ctx.Done()
			return -1, ctx.Err()
		},
	}
	launcher := &Launcher{Runtime: runtime}
	res, err := launcher.Run(context.Background(), UnitSpec{Tool: policy.ToolShellExec, TimeoutS: 1})
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut, got %+v", res)
	}
	if len(runtime.removed) != 1 {
		t.Fatal("timed out unit must be removed")
	}
}

func TestLauncherSpawnFailure(t *testing.T) {
	runtime := &fakeRuntime{createErr: errors.New("no such image")}
	launcher := &Launcher{Runtime: runtime}
	_, err := launcher.Run(context.Background(), UnitSpec{TimeoutS: 1})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	if len(runtime.removed) != 0 {
		t.Fatal("nothing to remove when create failed")
	}
}

func TestLauncherCleanupFailureCounted(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	runtime := &fakeRuntime{removeErr: errors.New("daemon gone")}
	launcher := &Launcher{Runtime: runtime, Metrics: metrics, Logger: observability.NewNopLogger()}

	if _, err := launcher.Run(context.Background(), UnitSpec{TimeoutS: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.UnitCleanupFailures); got != 1 {
		t.Fatalf("cleanup failures = %v, want 1", got)
	}
	if len(runtime.removed) != DefaultRemoveAttempts {
		t.Fatalf("remove attempts = %d, want %d", len(runtime.removed), DefaultRemoveAttempts)
	}
}

func TestLauncherRetriesCleanup(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	runtime := &fakeRuntime{removeFailures: 1}
	launcher := &Launcher{Runtime: runtime, Metrics: metrics}

	if _, err := launcher.Run(context.Background(), UnitSpec{TimeoutS: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runtime.removed) != 2 {
		t.Fatalf("remove attempts = %d, want 2", len(runtime.removed))
	}
	if got := testutil.ToFloat64(metrics.UnitCleanupFailures); got != 0 {
		t.Fatalf("cleanup failures = %v, want 0", got)
	}
}

func TestLauncherStreamsLargeRequest(t *testing.T) {
	var received string
	runtime := &fakeRuntime{
		attach: func(ctx context.Context, stdin io.Reader, out io.Writer) (int, error) {
			if stdin == nil {
				return 1, nil
			}
			data, _ := io.ReadAll(stdin)
			received = strings.TrimSpace(string(data))
			return 0, nil
		},
	}
	launcher := &Launcher{Runtime: runtime}
	request := strings.Repeat("A", MaxArgRequestBytes+10)
	res, err := launcher.Run(context.Background(), UnitSpec{TimeoutS: 1, Request: request})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 || received != request {
		t.Fatalf("request not streamed over stdin (exit %d, %d bytes)", res.ExitCode, len(received))
	}
}

func writeFakeDocker(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake docker: %v", err)
	}
	return path
}

func TestDockerRuntime(t *testing.T) {
	log := filepath.Join(t.TempDir(), "calls.log")
	docker := writeFakeDocker(t, `echo "$@" >> `+log+`
case "$1" in
  create) echo "cid-123" ;;
  start) echo '{"ok":true}'; exit 3 ;;
  rm) exit 0 ;;
esac
`)
	rt := DockerRuntime{Binary: docker}
	ctx := context.Background()

	id, err := rt.Create(ctx, UnitSpec{Image: "img", JobBinary: "/bin/toolrunner", Request: "r"})
	if err != nil || id != "cid-123" {
		t.Fatalf("Create = %q, %v", id, err)
	}
	buf := NewCappedBuffer(100)
	code, err := rt.Attach(ctx, id, nil, buf)
	if err != nil || code != 3 {
		t.Fatalf("Attach = %d, %v", code, err)
	}
	if strings.TrimSpace(string(buf.Bytes())) != `{"ok":true}` {
		t.Fatalf("output = %q", buf.Bytes())
	}
	if err := rt.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	calls, _ := os.ReadFile(log)
	if !strings.Contains(string(calls), "start --attach cid-123") || !strings.Contains(string(calls), "rm -f cid-123") {
		t.Fatalf("unexpected docker calls:\n%s", calls)
	}
}

func TestDockerRuntimeCreateFailure(t *testing.T) {
	docker := writeFakeDocker(t, `echo "daemon unavailable" >&2; exit 1`)
	_, err := DockerRuntime{Binary: docker}.Create(context.Background(), UnitSpec{})
	if err == nil || !strings.Contains(err.Error(), "daemon unavailable") {
		t.Fatalf("expected create error, got %v", err)
	}
}
