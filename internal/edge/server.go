// Package edge is the guard tier: the only entry point callers reach. It
// authenticates the caller, checks the agent and chat against the static
// allowlist, derives the execution policy from the tool and its arguments,
// and forwards the call to the runner. Caller-supplied policy is discarded.
package edge

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/toolrunner/internal/auth"
	"github.com/haasonsaas/toolrunner/internal/config"
	"github.com/haasonsaas/toolrunner/internal/observability"
	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/internal/web"
)

// Tier names this service in logs, metrics and spans.
const Tier = "edge"

// DefaultRunnerTimeout bounds one forwarded call.
const DefaultRunnerTimeout = 30 * time.Second

// Config holds the guard settings.
type Config struct {
	Version       string
	Token         string
	RunnerURL     string
	RunnerToken   string
	RunnerTimeout time.Duration
}

// Options carries the observability plumbing and an optional HTTP client
// for the runner hop. Every field may be nil.
type Options struct {
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	Gatherer   prometheus.Gatherer
	HTTPClient *http.Client
}

// Server handles the guard HTTP API.
type Server struct {
	config    Config
	auth      *auth.Service
	allowlist *config.Allowlist
	runner    *RunnerClient
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	gatherer  prometheus.Gatherer
}

// NewServer creates a guard that admits the pairs in allowlist.
func NewServer(cfg Config, allowlist *config.Allowlist, opts Options) *Server {
	return &Server{
		config:    cfg,
		auth:      auth.NewService(cfg.Token),
		allowlist: allowlist,
		runner: NewRunnerClient(RunnerClientConfig{
			URL:     cfg.RunnerURL,
			Token:   cfg.RunnerToken,
			Timeout: cfg.RunnerTimeout,
			Client:  opts.HTTPClient,
		}, opts.Tracer),
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
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	Tools        []string `json:"tools"`
	AllowedPairs int      `json:"allowed_pairs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	web.WriteJSON(w, http.StatusOK, Health{
		Status:       "ok",
		Version:      s.config.Version,
		Tools:        policy.AllowedTools(),
		AllowedPairs: s.allowlist.Len(),
	})
}
