package job

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/internal/tools/sandbox"
)

// processWaitDelay bounds how long output pipes are drained after the
// process group has been killed.
const processWaitDelay = 2 * time.Second

func (e *Executor) shellExec(ctx context.Context, args policy.Args, pol policy.EffectivePolicy) (*Result, error) {
	cmd, err := args.Command()
	if err != nil {
		return nil, fail(CodeInvalidCmd)
	}
	if err := policy.ValidateCommand(cmd); err != nil {
		var pe *policy.Error
		if errors.As(err, &pe) && pe.Code == "shell_denied" {
			return nil, fail(CodeShellDenied)
		}
		return nil, failWithReason(CodeBinaryDenied, cmd[0])
	}

	if cmd[0] == "curl" {
		if err := policy.CheckCurl(cmd, pol); err != nil {
			return nil, failWithReason(CodeNetDenied, reason(err))
		}
	} else if pol.NetMode != policy.NetNone {
		return nil, fail(CodeNetPolicyDenied)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(pol.TimeoutS)*time.Second)
	defer cancel()

	proc := e.newCommand(runCtx, cmd[0], cmd[1:]...)
	proc.Dir = e.root()
	stdout := sandbox.NewCappedBuffer(policy.MaxOutputBytes)
	stderr := sandbox.NewCappedBuffer(policy.MaxOutputBytes)
	proc.Stdout = stdout
	proc.Stderr = stderr

	// Own process group, so a timeout takes down everything the tool spawned.
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	proc.Cancel = func() error {
		return unix.Kill(-proc.Process.Pid, unix.SIGKILL)
	}
	proc.WaitDelay = processWaitDelay

	if err := proc.Start(); err != nil {
		return nil, fail(CodeExecutionError)
	}
	waitErr := proc.Wait()
	if runCtx.Err() != nil && ctx.Err() == nil {
		return nil, fail(CodeTimeout)
	}

	result := &Result{
		Stdout: policy.CapOutput(stdout.Bytes(), policy.MaxOutputBytes),
		Stderr: policy.CapOutput(stderr.Bytes(), policy.MaxOutputBytes),
	}
	if waitErr == nil {
		result.OK = true
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			code = -int(status.Signal())
		}
		result.Error = fmt.Sprintf("exit_%d", code)
		return result, nil
	}
	return nil, fail(CodeExecutionError)
}

func (e *Executor) newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	if e.command != nil {
		return e.command(ctx, name, args...)
	}
	return exec.CommandContext(ctx, name, args...)
}

func reason(err error) string {
	var pe *policy.Error
	if errors.As(err, &pe) {
		return pe.Message()
	}
	return "denied"
}
