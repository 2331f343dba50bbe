package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/toolrunner/internal/observability"
	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/internal/web"
	"github.com/haasonsaas/toolrunner/pkg/models"
)

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := observability.AddTier(r.Context(), Tier)

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

// Run authorizes req, forwards it to the runner with a derived policy and
// returns the sanitized result.
func (s *Server) Run(ctx context.Context, req models.RunRequest) (models.RunResponse, error) {
	if !policy.IsAllowedTool(req.Tool) {
		return models.RunResponse{}, policy.Forbidden("tool_not_allowed", "tool not allowed")
	}
	if err := policy.ValidateAgent(req.Agent); err != nil {
		return models.RunResponse{}, err
	}
	if req.Scope.ChatID == "" {
		return models.RunResponse{}, policy.BadRequest("missing_chat_id", "missing chat_id")
	}
	if !s.allowlist.Allowed(req.Agent, req.Scope.ChatID) {
		return models.RunResponse{}, policy.Forbidden("scope_not_allowed", "agent/scope not allowed")
	}
	if err := policy.ValidateScope(req.Scope); err != nil {
		return models.RunResponse{}, err
	}

	args, err := policy.DecodeArgs(req.Args)
	if err != nil {
		return models.RunResponse{}, err
	}
	pol, err := policy.ForEdge(req.Tool, args)
	if err != nil {
		return models.RunResponse{}, err
	}
	derived, err := json.Marshal(pol)
	if err != nil {
		return models.RunResponse{}, err
	}
	forwardArgs, err := web.Marshal(args)
	if err != nil {
		return models.RunResponse{}, err
	}

	obj, err := s.runner.Run(ctx, models.RunRequest{
		RequestID: req.RequestID,
		Agent:     req.Agent,
		Scope:     req.Scope,
		Tool:      req.Tool,
		Args:      forwardArgs,
		Policy:    derived,
	})
	if err != nil {
		if reason := upstreamReason(err); reason != "" {
			s.metrics.RecordUpstreamError(reason)
		}
		return models.RunResponse{}, err
	}
	return policy.BuildResponse(req.RequestID, obj, 0), nil
}

func toolLabel(tool string) string {
	if policy.IsAllowedTool(tool) {
		return tool
	}
	return "unknown"
}
