// Package runner is the orchestrator tier. It re-validates every request it
// receives from the guard, derives a clamped policy, runs the tool in a
// fresh isolation unit and returns the unit's sanitized result.
package runner

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/toolrunner/internal/auth"
	"github.com/haasonsaas/toolrunner/internal/observability"
	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/internal/tools/sandbox"
	"github.com/haasonsaas/toolrunner/internal/web"
)

// Tier names this service in logs, metrics and spans.
const Tier = "runner"

// Config holds the runner settings.
type Config struct {
	Version        string
	Token          string
	WorkspacesRoot string
	JobImage       string
	JobBinary      string
	// NetworkName is the restricted network units join when curl is allowed.
	NetworkName string
}

// Options carries the observability plumbing. Every field may be nil.
type Options struct {
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Gatherer prometheus.Gatherer
}

// Server handles the runner HTTP API.
type Server struct {
	config   Config
	auth     *auth.Service
	launcher *sandbox.Launcher
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	gatherer prometheus.Gatherer
}

// NewServer creates a runner server that starts units with launcher.
func NewServer(cfg Config, launcher *sandbox.Launcher, opts Options) *Server {
	return &Server{
		config:   cfg,
		auth:     auth.NewService(cfg.Token),
		launcher: launcher,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		gatherer: opts.Gatherer,
	}
}

// Handler returns the HTTP handler: POST /run, GET /health and, when a
// gatherer is configured, GET /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /run", web.AuthMiddleware(s.auth, s.logger, func(*http.Request) {
		s.metrics.RecordRejection(Tier, string(policy.KindUnauthorized))
	})(http.HandlerFunc(s.handleRun)))
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return web.Chain(mux, web.LoggingMiddleware(s.logger), web.RecoverMiddleware(s.logger))
}

// Health is the body of GET /health.
type Health struct {
	Status  string   `json:"status"`
	Version string   `json:"version"`
	Tools   []string `json:"tools"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	web.WriteJSON(w, http.StatusOK, Health{
		Status:  "ok",
		Version: s.config.Version,
		Tools:   policy.AllowedTools(),
	})
}
