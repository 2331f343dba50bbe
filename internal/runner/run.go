package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/toolrunner/internal/observability"
	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/internal/tools/sandbox"
	"github.com/haasonsaas/toolrunner/internal/web"
	"github.com/haasonsaas/toolrunner/pkg/models"
)

// Failure strings reported when no job result is available.
const (
	ErrJobSpawnFailed   = "job_spawn_failed"
	ErrJobTimeout       = "job_timeout"
	ErrInvalidJobOutput = "invalid_job_output"
)

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := s.tracer.ExtractHTTP(r.Context(), r.Header)
	ctx = observability.AddTier(ctx, Tier)

	var req models.RunRequest
	if err := web.DecodeBody(w, r, &req); err != nil {
		s.reject(ctx, w, "", start, err)
		return
	}
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = uuid.NewString()
	}
	ctx = observability.AddRequestID(ctx, req.RequestID)
	ctx = observability.AddAgent(ctx, req.Agent)
	ctx = observability.AddTool(ctx, req.Tool)

	ctx, span := s.tracer.TraceRun(ctx, Tier, req.RequestID, req.Tool)
	defer span.End()

	resp, err := s.Run(ctx, req)
	if err != nil {
		s.tracer.RecordError(span, err)
		s.reject(ctx, w, req.Tool, start, err)
		return
	}

	outcome := "ok"
	if !resp.OK {
		outcome = "failed"
	}
	s.metrics.RecordRequest(Tier, toolLabel(req.Tool), outcome, time.Since(start).Seconds())
	s.tracer.SetAttributes(span, "toolrunner.ok", resp.OK)
	s.logger.Info(ctx, "run finished", "ok", resp.OK, "error", resp.ErrorMessage(), "duration_ms", time.Since(start).Milliseconds())
	web.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) reject(ctx context.Context, w http.ResponseWriter, tool string, start time.Time, err error) {
	kind := policy.KindOf(err)
	s.metrics.RecordRejection(Tier, string(kind))
	s.metrics.RecordRequest(Tier, toolLabel(tool), "rejected", time.Since(start).Seconds())
	if kind == policy.KindInternal {
		s.logger.Error(ctx, "run failed", "error", err)
	} else {
		s.logger.Warn(ctx, "run rejected", "kind", string(kind), "error", err)
	}
	web.WriteError(w, err)
}

// Run validates req, executes it in an isolation unit and builds the
// response. Errors are rejections; tool failures are responses with OK
// false.
func (s *Server) Run(ctx context.Context, req models.RunRequest) (models.RunResponse, error) {
	if !policy.IsAllowedTool(req.Tool) {
		return models.RunResponse{}, policy.Forbidden("tool_not_allowed", "tool not allowed")
	}
	if err := policy.ValidateAgent(req.Agent); err != nil {
		return models.RunResponse{}, err
	}
	if err := policy.ValidateScope(req.Scope); err != nil {
		return models.RunResponse{}, err
	}
	pol, err := policy.ForRunner(req.Tool, req.Policy)
	if err != nil {
		return models.RunResponse{}, err
	}
	key, err := policy.WorkspaceKey(req.Scope)
	if err != nil {
		return models.RunResponse{}, err
	}
	hostWorkspace, err := sandbox.HostWorkspace(s.config.WorkspacesRoot, req.Agent, key)
	if err != nil {
		return models.RunResponse{}, err
	}

	args := req.Args
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	encoded, err := sandbox.EncodeJobRequest(sandbox.JobRequest{Tool: req.Tool, Args: args, Policy: pol})
	if err != nil {
		return models.RunResponse{}, err
	}

	unit, err := s.launcher.Run(ctx, sandbox.UnitSpec{
		RequestID:     req.RequestID,
		Tool:          req.Tool,
		Image:         s.config.JobImage,
		JobBinary:     s.config.JobBinary,
		Network:       sandbox.NetworkFor(pol, s.config.NetworkName),
		HostWorkspace: hostWorkspace,
		FSMode:        pol.FSMode,
		TimeoutS:      pol.TimeoutS,
		Request:       encoded,
	})
	if err != nil {
		s.logger.Error(ctx, "unit failed", "error", err)
		return policy.Failure(req.RequestID, ErrJobSpawnFailed), nil
	}
	if unit.TimedOut {
		return policy.Failure(req.RequestID, ErrJobTimeout), nil
	}
	if unit.ExitCode != 0 {
		s.logger.Debug(ctx, "unit exited non-zero", "unit", unit.ID, "exit_code", unit.ExitCode)
	}
	return policy.BuildResponse(req.RequestID, ParseJobOutput(unit.Output), unit.ExitCode), nil
}

// ParseJobOutput decodes the unit's combined output, which should be one
// JSON object. Empty output decodes to an empty object; anything that is
// not an object becomes an invalid_job_output failure.
func ParseJobOutput(out []byte) map[string]any {
	text := strings.TrimSpace(policy.SanitizeUTF8(out))
	if text == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.NewDecoder(strings.NewReader(text)).Decode(&obj); err != nil || obj == nil {
		return map[string]any{"ok": false, "error": ErrInvalidJobOutput}
	}
	return obj
}

// toolLabel keeps caller-chosen strings out of metric labels.
func toolLabel(tool string) string {
	if policy.IsAllowedTool(tool) {
		return tool
	}
	return "unknown"
}
