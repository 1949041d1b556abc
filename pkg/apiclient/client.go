// Package apiclient is the JSON-over-HTTP plumbing shared by the outbound provider clients:
// auth headers, status classification, retry with backoff and a circuit breaker per provider.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/pkg/circuitbreaker"
	"github.com/leadflow/backend/pkg/logger"
	"github.com/leadflow/backend/pkg/retry"
)

const maxErrorBody = 512

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Body)
}

// IsStatus reports whether err carries a provider response with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
	// Idempotent requests are retried on network errors, 429 and 5xx. Others only on 429,
	// where the provider guarantees the request was not acted on.
	Idempotent bool
	Retry      retry.Config
	HTTPClient *http.Client
}

type Client struct {
	name       string
	baseURL    string
	headers    map[string]string
	idempotent bool
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	retryCfg   retry.Config
}

func New(name string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retryCfg := opts.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	if retryCfg.Logger == nil {
		retryCfg.Logger = logger.GetLogger()
	}

	cb := circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        countsAgainstBreaker,
		Logger:           logger.GetLogger(),
	})

	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		headers:    opts.Headers,
		idempotent: opts.Idempotent,
		httpClient: httpClient,
		cb:         cb,
		retryCfg:   retry.OnlyMarked(retryCfg),
	}
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.cb
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, target, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", c.name, err)
		}
	}
	return c.do(ctx, http.MethodPost, c.baseURL+path, payload, out)
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte, out any) error {
	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryCfg, func() error {
			return c.attempt(ctx, method, target, payload, out)
		})
	})
}

func (c *Client) attempt(ctx context.Context, method, target string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to call %s: %w", c.name, err)
		if c.idempotent && ctx.Err() == nil {
			return retry.MarkRetryable(err)
		}
		return err
	}
	defer resp.Body.Close()

	logger.Debug("Provider call completed",
		zap.String("provider", c.name),
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{Provider: c.name, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		if resp.StatusCode == http.StatusTooManyRequests || (c.idempotent && retry.RetryableStatus(resp.StatusCode)) {
			return retry.MarkRetryable(se)
		}
		return se
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", c.name, err)
	}
	return nil
}

// countsAgainstBreaker ignores client errors: a bad request says nothing about provider health.
func countsAgainstBreaker(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return err != nil
}
