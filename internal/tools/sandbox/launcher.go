package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/toolrunner/internal/backoff"
	"github.com/haasonsaas/toolrunner/internal/observability"
	"github.com/haasonsaas/toolrunner/internal/tools/policy"
)

// ErrSpawn marks failures to bring a unit up at all.
var ErrSpawn = errors.New("unit spawn failed")

// Cleanup defaults.
const (
	DefaultCreateTimeout  = 30 * time.Second
	DefaultRemoveTimeout  = 10 * time.Second
	DefaultRemoveAttempts = 3
)

// UnitResult is what a finished (or abandoned) unit produced.
type UnitResult struct {
	ID       string
	ExitCode int
	// Output is the combined stdout and stderr, capped at MaxUnitOutputBytes.
	Output   []byte
	TimedOut bool
	Duration time.Duration
}

// Launcher runs one unit per call: create, attach with a bounded wait,
// then remove. Removal happens on every path once the unit exists.
type Launcher struct {
	Runtime Runtime
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	// CreateTimeout bounds unit creation, which outlives the caller.
	CreateTimeout time.Duration
	// RemoveTimeout bounds all removal attempts for one unit together.
	RemoveTimeout  time.Duration
	RemoveAttempts int
}

// Run executes spec and returns its result. A unit that outlives its wait
// budget yields a result with TimedOut set rather than an error.
func (l *Launcher) Run(ctx context.Context, spec UnitSpec) (*UnitResult, error) {
	ctx, span := l.Tracer.TraceUnit(ctx, spec.Tool, spec.TimeoutS)
	defer span.End()

	start := time.Now()
	id, err := l.create(ctx, spec)
	if err != nil {
		l.Metrics.RecordUnit("spawn_failed", time.Since(start).Seconds())
		l.Tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	defer l.remove(ctx, id)

	waitCtx, cancel := context.WithTimeout(ctx, spec.WaitBudget())
	defer cancel()

	var stdin io.Reader
	if spec.UsesStdin() {
		stdin = strings.NewReader(spec.Request + "\n")
	}
	out := NewCappedBuffer(policy.MaxUnitOutputBytes)
	code, err := l.Runtime.Attach(waitCtx, id, stdin, out)

	result := &UnitResult{
		ID:       id,
		ExitCode: code,
		Output:   out.Bytes(),
		Duration: time.Since(start),
	}
	switch {
	case err == nil:
		l.Metrics.RecordUnit("exited", result.Duration.Seconds())
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		l.Metrics.RecordUnit("timeout", result.Duration.Seconds())
		l.Logger.Warn(ctx, "unit exceeded wait budget", "unit", id, "budget_s", spec.WaitBudget().Seconds())
	default:
		l.Metrics.RecordUnit("error", result.Duration.Seconds())
		l.Tracer.RecordError(span, err)
		return nil, fmt.Errorf("run unit: %w", err)
	}
	l.Tracer.SetAttributes(span, "toolrunner.exit_code", result.ExitCode, "toolrunner.timed_out", result.TimedOut)
	return result, nil
}

// create is detached from the caller: a create cancelled after the engine
// made the unit but before it reported the id would leave nothing to remove.
func (l *Launcher) create(ctx context.Context, spec UnitSpec) (string, error) {
	timeout := l.CreateTimeout
	if timeout <= 0 {
		timeout = DefaultCreateTimeout
	}
	createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return l.Runtime.Create(createCtx, spec)
}

// remove uses a context detached from the request so that cleanup still
// runs after the caller has gone away.
func (l *Launcher) remove(ctx context.Context, id string) {
	timeout := l.RemoveTimeout
	if timeout <= 0 {
		timeout = DefaultRemoveTimeout
	}
	attempts := l.RemoveAttempts
	if attempts <= 0 {
		attempts = DefaultRemoveAttempts
	}
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	err := backoff.Retry(rmCtx, backoff.CleanupPolicy(), attempts, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			l.Logger.Warn(ctx, "retrying unit cleanup", "unit", id, "attempt", attempt)
		}
		return l.Runtime.Remove(ctx, id)
	})
	if err != nil {
		l.Metrics.UnitCleanupFailed()
		l.Logger.Error(ctx, "unit cleanup failed", "unit", id, "error", err)
	}
}
