// Package job is the executor that runs inside an isolation unit. It
// decodes one request, re-checks it against the shared policy rules, runs
// the tool against /workspace and writes exactly one JSON object to its
// output. Nothing else is ever written there: no logs, no stack traces.
package job

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"strings"

	"github.com/haasonsaas/toolrunner/internal/tools/files"
	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/internal/tools/sandbox"
)

// DefaultRoot is the workspace mount point inside the unit.
const DefaultRoot = sandbox.WorkspaceMount

// Executor runs a single job request.
type Executor struct {
	// Root is the workspace directory (defaults to /workspace).
	Root string
	// Out receives the result object.
	Out io.Writer
	// Stdin supplies the request when the encoded argument is "-".
	Stdin io.Reader

	// command builds the subprocess for shell_exec; tests swap it.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// Run executes the encoded request and returns the process exit status.
// The result object is written to Out on every path, including panics.
func (e *Executor) Run(ctx context.Context, encoded string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			code = e.emitFailure(fail(CodeJobError))
		}
	}()

	if encoded == sandbox.StdinRequest {
		var err error
		if encoded, err = e.readStdin(); errors.Is(err, errRequestTooLarge) {
			return e.emitFailure(fail(CodeRequestTooLarge))
		}
	}
	req, err := sandbox.DecodeJobRequest(encoded)
	if err != nil {
		return e.emitFailure(fail(CodeMissingRequest))
	}
	if !policy.IsAllowedTool(req.Tool) {
		return e.emitFailure(fail(CodeToolNotAllowed))
	}
	pol, err := policy.Normalize(req.Policy)
	if err != nil {
		return e.emitFailure(fail(CodeNetAllowForbidden))
	}
	args, err := policy.DecodeArgs(req.Args)
	if err != nil {
		args = policy.Args{}
	}

	var result *Result
	switch req.Tool {
	case policy.ToolFileRead:
		result, err = e.fileRead(ctx, args)
	case policy.ToolFileWrite:
		result, err = e.fileWrite(ctx, args, pol)
	case policy.ToolShellExec:
		result, err = e.shellExec(ctx, args, pol)
	default:
		err = fail(CodeToolNotAllowed)
	}
	if err != nil {
		return e.emitFailure(classify(err))
	}
	e.emit(result)
	return 0
}

func (e *Executor) root() string {
	if strings.TrimSpace(e.Root) == "" {
		return DefaultRoot
	}
	return e.Root
}

var errRequestTooLarge = errors.New("request exceeds stdin limit")

// readStdin reads one byte past the limit so an oversized request is
// reported as such rather than decoded truncated.
func (e *Executor) readStdin() (string, error) {
	if e.Stdin == nil {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(bufio.NewReader(e.Stdin), sandbox.MaxStdinRequestBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > sandbox.MaxStdinRequestBytes {
		return "", errRequestTooLarge
	}
	return string(data), nil
}

func (e *Executor) fileRead(ctx context.Context, args policy.Args) (*Result, error) {
	tool := files.NewReadTool(files.Config{Workspace: e.root()})
	res, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, err
	}
	return &Result{OK: true, Stdout: policy.Truncate(res.Stdout, policy.MaxOutputBytes)}, nil
}

func (e *Executor) fileWrite(ctx context.Context, args policy.Args, pol policy.EffectivePolicy) (*Result, error) {
	if pol.FSMode != policy.FSReadWrite {
		return nil, fail(CodeWriteDenied)
	}
	if content, ok := args.String("content"); !ok || len(content) > policy.MaxWriteBytes {
		return nil, fail(CodeInvalidContent)
	}
	tool := files.NewWriteTool(files.Config{Workspace: e.root()})
	res, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, err
	}
	return &Result{OK: true, Stdout: res.Stdout, Artifacts: res.Artifacts}, nil
}

// emit writes result as one line of JSON. Output fields are halved until
// the encoded object fits the runner's read limit, so escaping can never
// push it into a truncated, unparsable state.
func (e *Executor) emit(result *Result) {
	data := encodeResult(result)
	for len(data) > policy.MaxUnitOutputBytes && (result.Stdout != "" || result.Stderr != "") {
		result.Stdout = policy.Truncate(result.Stdout, len(result.Stdout)/2)
		result.Stderr = policy.Truncate(result.Stderr, len(result.Stderr)/2)
		data = encodeResult(result)
	}
	// A failed write leaves only the exit status to report with.
	_, _ = e.Out.Write(data)
}

func encodeResult(result *Result) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return []byte(`{"ok":false,"stdout":"","stderr":"","error":"job_error"}` + "\n")
	}
	return buf.Bytes()
}

func (e *Executor) emitFailure(f *failure) int {
	e.emit(&Result{OK: false, Error: f.Error()})
	return ExitCode(f.code)
}
