// Package workflow implements the workflow service client: running LLM
// workflows and uploading essay images.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/config"
	"github.com/ubtguoyi/writing/internal/domain"
)

const (
	runPath    = "/v1/workflow/run"
	uploadPath = "/v1/files/upload"

	breakerFailures = 5
	breakerCoolDown = 30 * time.Second
)

// Limiter throttles outbound calls per key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Client implements domain.WorkflowClient and domain.Uploader against the workflow HTTP API.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	limiter Limiter
}

// New constructs a client. A nil hc gets an otelhttp-instrumented default.
func New(cfg config.Config, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{cfg: cfg, hc: hc}
}

// WithLimiter makes every attempt wait for a token from l, keyed by workflow id.
func (c *Client) WithLimiter(l Limiter) *Client {
	c.limiter = l
	return c
}

func (c *Client) throttle(ctx context.Context, key string) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx, "workflow:"+key)
}

// readSnippet reads up to n bytes from r for logging.
func readSnippet(r io.Reader, n int) string {
	if r == nil || n <= 0 {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, int64(n)))
	return string(b)
}

func (c *Client) backoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetWorkflowBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

// Run posts {workflow_id, parameters} and returns the decoded response body.
// Numbers in the body are kept as json.Number.
func (c *Client) Run(ctx domain.Context, workflowID string, params map[string]any) (any, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("op=workflow.Run: %w: workflow id missing", domain.ErrInvalidArgument)
	}
	ctx, span := otel.Tracer("workflow.client").Start(ctx, "workflow.Run")
	defer span.End()
	span.SetAttributes(attribute.String("workflow.id", workflowID))

	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(map[string]any{"workflow_id": workflowID, "parameters": params})
	if err != nil {
		return nil, fmt.Errorf("op=workflow.Run: %w", err)
	}

	lg := observability.LoggerFromContext(ctx)
	endpoint := c.cfg.WorkflowBaseURL + runPath
	var out any
	op := func() error {
		if err := c.throttle(ctx, workflowID); err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+c.cfg.WorkflowAPIToken)
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		observability.WorkflowRequestsTotal.WithLabelValues(workflowID, "run").Inc()
		observability.WorkflowRequestDuration.WithLabelValues(workflowID, "run").Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if err := c.checkStatus(lg, resp, workflowID, "run"); err != nil {
			return err
		}
		out, err = decodeBody(resp.Body)
		if err != nil {
			lg.Error("workflow decode error", slog.String("workflow", workflowID), slog.Any("error", err))
			return backoff.Permanent(err)
		}
		if err := apiError(out); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	cb := observability.GetCircuitBreaker(workflowID, breakerFailures, breakerCoolDown)
	err = cb.Call(func() error {
		return backoff.Retry(op, backoff.WithContext(c.backoffConfig(), ctx))
	})
	if err != nil {
		span.RecordError(err)
		lg.Error("workflow call failed", slog.String("workflow", workflowID), slog.Any("error", err))
		return nil, fmt.Errorf("op=workflow.Run: %w", classify(ctx, err))
	}
	lg.Info("workflow call successful", slog.String("workflow", workflowID))
	return out, nil
}

// checkStatus maps the HTTP status onto retry semantics: 429 and 5xx retry, other 4xx are permanent.
func (c *Client) checkStatus(lg *slog.Logger, resp *http.Response, workflowID, op string) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		lg.Warn("workflow rate limited", slog.String("workflow", workflowID), slog.String("op", op), slog.Int("status", resp.StatusCode))
		return &statusError{code: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		lg.Warn("workflow 4xx", slog.String("workflow", workflowID), slog.String("op", op), slog.Int("status", resp.StatusCode), slog.String("body", readSnippet(resp.Body, 512)))
		return backoff.Permanent(&statusError{code: resp.StatusCode})
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		lg.Error("workflow non-2xx", slog.String("workflow", workflowID), slog.String("op", op), slog.Int("status", resp.StatusCode), slog.String("body", readSnippet(resp.Body, 512)))
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "status " + strconv.Itoa(e.code) }

// apiErr is a business-level failure reported inside a 2xx body.
type apiErr struct {
	code string
	msg  string
}

func (e *apiErr) Error() string { return fmt.Sprintf("api code %s: %s", e.code, e.msg) }

// apiError inspects the {code, msg} envelope; a non-zero code is a failure.
func apiError(body any) error {
	m, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["code"]
	if !ok {
		return nil
	}
	code := fmt.Sprint(raw)
	if code == "0" || code == "" {
		return nil
	}
	msg, _ := m["msg"].(string)
	return &apiErr{code: code, msg: msg}
}

func decodeBody(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// classify wraps a failed call with the domain sentinel the usecases branch on.
func classify(ctx context.Context, err error) error {
	var se *statusError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	case errors.As(err, &se) && se.code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %v", domain.ErrExternalCall, domain.ErrUpstreamRateLimit, err)
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		return fmt.Errorf("%w: %w", domain.ErrExternalCall, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrExternalCall, err)
	}
}
