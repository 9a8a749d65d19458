package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/codeready-toolchain/meetingsvc/pkg/metrics"
)

// HTTPClientConfig parametrizes the resilience layer wrapping a connector
// provider's HTTP API (spec.md §4.6 "Provider call path ... an HTTP
// resilience layer with configurable retries, backoff, and retry-on-status set").
type HTTPClientConfig struct {
	BaseURL      string
	Token        string
	MaxRetries   int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	Timeout      time.Duration
	RetryStatus  map[int]bool // status codes treated as retryable
}

func defaultRetryStatus() map[int]bool {
	return map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
		http.StatusInternalServerError: true,
	}
}

// HTTPClient is the default Client implementation: a generic JSON/HTTP
// connector provider with built-in retry/backoff and error categorization.
type HTTPClient struct {
	cfg        HTTPClientConfig
	httpClient *http.Client
}

// NewHTTPClient builds an HTTPClient, filling in defaults for any zero-value
// retry/backoff/status-set fields.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryStatus == nil {
		cfg.RetryStatus = defaultRetryStatus()
	}
	return &HTTPClient{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (c *HTTPClient) Join(ctx context.Context, meetingID string) (string, error) {
	var resp struct {
		ExternalRef string `json:"external_ref"`
	}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/meetings/%s/join", meetingID), nil, &resp); err != nil {
		return "", err
	}
	return resp.ExternalRef, nil
}

func (c *HTTPClient) Leave(ctx context.Context, meetingID, externalRef string) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/meetings/%s/sessions/%s/leave", meetingID, externalRef), nil, nil)
}

func (c *HTTPClient) HealthCheck(ctx context.Context, meetingID, externalRef string) error {
	return c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/meetings/%s/sessions/%s/health", meetingID, externalRef), nil, nil)
}

func (c *HTTPClient) Pull(ctx context.Context, meetingID, externalRef string, limit int) ([]RawChunk, error) {
	var resp struct {
		Chunks []struct {
			ContentType string `json:"content_type"`
			DataB64     []byte `json:"data_b64"`
		} `json:"chunks"`
	}
	path := fmt.Sprintf("/meetings/%s/sessions/%s/pull?limit=%d", meetingID, externalRef, limit)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	chunks := make([]RawChunk, 0, len(resp.Chunks))
	for _, raw := range resp.Chunks {
		chunks = append(chunks, RawChunk{
			ExternalRef: externalRef,
			ContentType: raw.ContentType,
			Data:        bytes.NewReader(raw.DataB64),
		})
	}
	return chunks, nil
}

// doJSON performs one resilient call: retrying retryable categories up to
// MaxRetries with jittered exponential backoff, and categorizing the final
// error for the caller's circuit breaker and retry-policy decisions.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitteredBackoff(attempt, c.cfg.BackoffMin, c.cfg.BackoffMax)):
			}
		}

		err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !CategoryOf(err).Retryable() {
			return err
		}
	}
	return lastErr
}

func (c *HTTPClient) attempt(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Category: CategoryBadRequest, Err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return &ProviderError{Category: CategoryBadRequest, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	defer metrics.TrackOutboundInFlight(method)()
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveOutboundCall(method, "error", time.Since(start))
		return &ProviderError{Category: CategoryRetryable, Err: err}
	}
	defer resp.Body.Close()
	defer func() { metrics.ObserveOutboundCall(method, fmt.Sprintf("%d", resp.StatusCode), time.Since(start)) }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &ProviderError{Category: CategoryAuth, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		if c.cfg.RetryStatus[resp.StatusCode] {
			return &ProviderError{Category: CategoryRetryable, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		return &ProviderError{Category: CategoryBadRequest, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		cat := CategoryInvalidResponse
		if c.cfg.RetryStatus[resp.StatusCode] {
			cat = CategoryRetryable
		}
		return &ProviderError{Category: cat, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Category: CategoryInvalidResponse, Err: err}
	}
	return nil
}

func jitteredBackoff(attempt int, min, max time.Duration) time.Duration {
	base := min << (attempt - 1)
	if base > max || base <= 0 {
		base = max
	}
	jitter := time.Duration(rand.Int64N(int64(base) + 1))
	return (base + jitter) / 2
}
