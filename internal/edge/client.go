package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/toolrunner/internal/auth"
	"github.com/haasonsaas/toolrunner/internal/observability"
	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/internal/web"
	"github.com/haasonsaas/toolrunner/pkg/models"
)

// maxRunnerResponseBytes bounds how much of a runner response is read.
const maxRunnerResponseBytes = 4 << 20

// Upstream failure codes. The runner's own error text never reaches the
// caller.
const (
	UpstreamUnreachable     = "unreachable"
	UpstreamAuth            = "auth"
	UpstreamStatus          = "status"
	UpstreamInvalidResponse = "invalid_response"
)

var upstreamDetails = map[string]string{
	UpstreamUnreachable:     "tool-runner unreachable",
	UpstreamAuth:            "tool-runner auth failed",
	UpstreamStatus:          "tool-runner error",
	UpstreamInvalidResponse: "tool-runner invalid response",
}

// RunnerClientConfig configures the runner hop.
type RunnerClientConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	// Client overrides the HTTP client. Its Timeout is left untouched.
	Client *http.Client
}

// RunnerClient forwards authorized calls to the runner.
type RunnerClient struct {
	url    string
	token  string
	client *http.Client
	tracer *observability.Tracer
}

// NewRunnerClient creates a client for the runner at cfg.URL.
func NewRunnerClient(cfg RunnerClientConfig, tracer *observability.Tracer) *RunnerClient {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultRunnerTimeout
		}
		client = &http.Client{
			Timeout: timeout,
			// A redirect is a misconfiguration; the token must not follow it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &RunnerClient{url: cfg.URL, token: cfg.Token, client: client, tracer: tracer}
}

// Run posts req to the runner and returns its decoded result object.
// Every failure is a BadGateway error with a fixed detail.
func (c *RunnerClient) Run(ctx context.Context, req models.RunRequest) (map[string]any, error) {
	payload, err := web.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode runner request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, upstreamError(UpstreamUnreachable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	auth.SetBearer(httpReq.Header, c.token)
	c.tracer.InjectHTTP(ctx, httpReq.Header)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(UpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, upstreamError(UpstreamAuth, fmt.Errorf("runner returned %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, upstreamError(UpstreamStatus, fmt.Errorf("runner returned %d", resp.StatusCode))
	}

	var obj map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRunnerResponseBytes)).Decode(&obj); err != nil {
		return nil, upstreamError(UpstreamInvalidResponse, err)
	}
	if obj == nil {
		return nil, upstreamError(UpstreamInvalidResponse, errors.New("runner returned null"))
	}
	return obj, nil
}

// upstreamErr keeps the cause for logs while the wrapped policy.Error
// carries the caller-facing detail.
type upstreamErr struct {
	reason string
	cause  error
	public *policy.Error
}

func (e *upstreamErr) Error() string {
	return fmt.Sprintf("runner %s: %v", e.reason, e.cause)
}

func (e *upstreamErr) Unwrap() error { return e.public }

func upstreamError(reason string, cause error) error {
	return &upstreamErr{
		reason: reason,
		cause:  cause,
		public: policy.BadGateway("upstream_"+reason, upstreamDetails[reason]),
	}
}

func upstreamReason(err error) string {
	var ue *upstreamErr
	if errors.As(err, &ue) {
		return ue.reason
	}
	return ""
}
