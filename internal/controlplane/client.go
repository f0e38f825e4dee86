// Package controlplane implements the outbound client for the Agentuity
// control-plane API: agent resolution and session completion reporting.
// Retry and backoff policy is a property of the injected http.Client, not
// of this package.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentuity/runtime-go/agent"
	"github.com/agentuity/runtime-go/internal/observability"
)

// ErrAgentNotFound is returned when the control plane does not know the
// reference or the caller lacks access to it.
var ErrAgentNotFound = errors.New("agent not found or you don't have access to it")

const defaultTimeout = 30 * time.Second

// Client talks to the control-plane API with bearer authentication.
// Calls are rate limited to protect the shared API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	limiter *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpc = hc
	}
}

// WithRateLimit caps outbound calls at requestsPerSecond with the given burst.
func WithRateLimit(requestsPerSecond float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// NewClient creates a control-plane client for baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolvedAgent is the control plane's answer for an agent reference.
type ResolvedAgent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectId"`
	// URL is the target-specific invocation endpoint.
	URL string `json:"url"`
}

type resolveResponse struct {
	Success bool           `json:"success"`
	Data    *ResolvedAgent `json:"data"`
	Message string         `json:"message"`
}

// Resolve asks the control plane to resolve ref to an invocable target.
func (c *Client) Resolve(ctx context.Context, ref agent.Reference) (*ResolvedAgent, error) {
	ctx, span := observability.StartSpan(ctx, "controlplane.resolve", map[string]any{
		"agent.id":   ref.ID,
		"agent.name": ref.Name,
	})
	defer span.End()

	var out resolveResponse
	status, err := c.post(ctx, "/agent/resolve", ref, &out)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if status == http.StatusNotFound {
		span.RecordError(ErrAgentNotFound)
		return nil, ErrAgentNotFound
	}
	if !out.Success || out.Data == nil {
		err := fmt.Errorf("agent resolution failed: %s", out.Message)
		span.RecordError(err)
		return nil, err
	}
	return out.Data, nil
}

type completeSessionRequest struct {
	SessionID  string `json:"sessionId"`
	DurationMs int64  `json:"durationMs"`
}

// CompleteSession reports that all deferred work for a session has drained,
// along with the session's wall-clock duration.
func (c *Client) CompleteSession(ctx context.Context, sessionID string, elapsed time.Duration) error {
	ctx, span := observability.StartSpan(ctx, "controlplane.session_complete", map[string]any{
		"session.id": sessionID,
	})
	defer span.End()

	body := completeSessionRequest{
		SessionID:  sessionID,
		DurationMs: elapsed.Milliseconds(),
	}
	status, err := c.post(ctx, "/session/complete", body, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if status < 200 || status >= 300 {
		err := fmt.Errorf("session completion rejected with status %d", status)
		span.RecordError(err)
		return err
	}
	return nil
}

// post issues an authenticated JSON POST and decodes the response into out
// when out is non-nil and the body is JSON.
func (c *Client) post(ctx context.Context, path string, body any, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("control plane rate limit: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	observability.Inject(ctx, req.Header)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("control plane request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode != http.StatusNotFound {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("reading control plane response: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return resp.StatusCode, fmt.Errorf("decoding control plane response: %w", err)
			}
		}
	}
	return resp.StatusCode, nil
}
