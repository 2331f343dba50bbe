package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Runtime manages isolation units. Implementations must be safe for
// concurrent use; each call operates on a single unit.
type Runtime interface {
	// Create prepares a unit from spec without starting it and returns its id.
	Create(ctx context.Context, spec UnitSpec) (string, error)
	// Attach starts the unit, streams stdin to it and its combined output
	// to out, and returns its exit code once it stops. A ctx error is
	// returned as-is when ctx ends first.
	Attach(ctx context.Context, id string, stdin io.Reader, out io.Writer) (int, error)
	// Remove force-removes the unit, stopping it if needed.
	Remove(ctx context.Context, id string) error
}

// DockerRuntime drives units through the docker CLI.
type DockerRuntime struct {
	// Binary is the docker executable (defaults to "docker").
	Binary string
}

func (d DockerRuntime) binary() string {
	if strings.TrimSpace(d.Binary) == "" {
		return "docker"
	}
	return d.Binary
}

// Create runs docker create and returns the container id.
func (d DockerRuntime) Create(ctx context.Context, spec UnitSpec) (string, error) {
	var stdout, stderr strings.Builder
	cmd := exec.CommandContext(ctx, d.binary(), spec.CreateArgs()...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker create: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	id := strings.TrimSpace(stdout.String())
	if id == "" {
		return "", errors.New("docker create returned empty container id")
	}
	return id, nil
}

// Attach runs docker start --attach. The CLI exits with the container's
// exit status.
func (d DockerRuntime) Attach(ctx context.Context, id string, stdin io.Reader, out io.Writer) (int, error) {
	args := []string{"start", "--attach"}
	if stdin != nil {
		args = append(args, "--interactive")
	}
	args = append(args, id)

	cmd := exec.CommandContext(ctx, d.binary(), args...)
	cmd.Stdin = stdin
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("docker start: %w", err)
}

// Remove runs docker rm -f.
func (d DockerRuntime) Remove(ctx context.Context, id string) error {
	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, d.binary(), "rm", "-f", id)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		// A retry after a slow first attempt may find the unit already gone.
		if strings.Contains(msg, "No such container") {
			return nil
		}
		return fmt.Errorf("docker rm: %w: %s", err, msg)
	}
	return nil
}
