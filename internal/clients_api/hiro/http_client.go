package hiro

// Package hiro contains the client for the Hiro runes API
// This file is the transport layer: pacing, circuit breaker, retry, one GET per attempt
// Holder and etching endpoints live in holders.go

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	logging "rune-holders/internal/infra/log"
	"rune-holders/internal/infra/metrics"
	"rune-holders/internal/infra/retry"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL        = "https://api.hiro.so/runes/v1"
	DefaultRequestTimeout = 10 * time.Second
	// MaxPageSize is the largest limit the holders endpoint accepts.
	MaxPageSize = 60
)

type Options struct {
	BaseURL         string
	Etching         string
	APIKey          string
	RequestTimeout  time.Duration // per attempt
	RequestInterval time.Duration // minimum gap between upstream calls, 0 disables pacing
	Retry           retry.Policy
	Metrics         *metrics.Metrics
	HTTPClient      *http.Client
}

// Client talks to one etching on the Hiro runes API.
type Client struct {
	baseURL         string
	etching         string
	apiKey          string
	httpClient      *http.Client
	rateLimiter     *rate.Limiter
	circuitBreaker  *gobreaker.CircuitBreaker
	policy          retry.Policy
	requestTimeout  time.Duration
	maxResponseSize int64
	metrics         *metrics.Metrics
}

func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	limit := rate.Inf
	if opts.RequestInterval > 0 {
		limit = rate.Every(opts.RequestInterval)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:     baseURL,
		etching:     opts.Etching,
		apiKey:      opts.APIKey,
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(limit, 1),
		circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "HiroRunesAPI",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		policy:          opts.Retry,
		requestTimeout:  timeout,
		maxResponseSize: 10 * 1024 * 1024,
		metrics:         opts.Metrics,
	}
}

// rateLimited carries a 429 through the breaker as a success.
type rateLimited struct{ err error }

type malformedError struct{ err error }

func (e *malformedError) Error() string { return "malformed response body: " + e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

// get performs GET endpoint?query with retries and hands the body to decode.
// A decode failure is retried like any other upstream failure.
func (c *Client) get(ctx context.Context, name, endpoint string, query url.Values, decode func([]byte) error) error {
	attempts := 0
	policy := c.policy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		kind := classify(err)
		if kind == KindRateLimited {
			c.metrics.IncRateLimitWait()
			logging.LogWarn("Rate limited by upstream, cooling down",
				zap.String("endpoint", endpoint),
				zap.Duration("wait", wait))
		} else {
			c.metrics.IncRetry(string(kind))
			logging.LogWarn("Upstream request failed, retrying",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
	}

	err := retry.Do(ctx, policy, func() error {
		attempts++
		body, err := c.doGET(ctx, name, endpoint, query)
		if err != nil {
			return err
		}
		if err := decode(body); err != nil {
			return &malformedError{err: err}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	fetchErr := &FetchError{Kind: classify(err), Endpoint: endpoint, Attempts: attempts, Err: err}
	logging.LogError("Upstream request failed", zap.String("endpoint", endpoint), zap.Error(fetchErr))
	return fetchErr
}

// doGET is one paced, breaker-guarded attempt.
func (c *Client) doGET(ctx context.Context, name, endpoint string, query url.Values) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, retry.Permanent(fmt.Errorf("rate limiter wait failed: %w", err))
	}

	requestID := logging.GenerateRequestID()
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		body, err := c.send(ctx, requestID, name, endpoint, query)
		if retry.IsRateLimited(err) {
			return rateLimited{err: err}, nil
		}
		return body, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.LogError("Circuit breaker rejected request",
				zap.String("request_id", requestID),
				zap.String("endpoint", endpoint),
				zap.Error(err))
		}
		return nil, err
	}
	if rl, ok := result.(rateLimited); ok {
		return nil, rl.err
	}
	return result.([]byte), nil
}

func (c *Client) send(ctx context.Context, requestID, name, endpoint string, query url.Values) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	fullURL := c.baseURL + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	logging.LogRequest(requestID, http.MethodGet, endpoint, zap.String("url", fullURL))
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		took := time.Since(start)
		c.metrics.ObserveUpstream(name, 0, took)
		logging.LogResponse(requestID, 0, took.Milliseconds(), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize))
	took := time.Since(start)
	c.metrics.ObserveUpstream(name, resp.StatusCode, took)
	if err != nil {
		logging.LogResponse(requestID, resp.StatusCode, took.Milliseconds(), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	logging.LogResponse(requestID, resp.StatusCode, took.Milliseconds(), zap.String("endpoint", endpoint))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       truncateBody(body, 512),
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

func truncateBody(body []byte, limit int) []byte {
	if len(body) <= limit {
		return body
	}
	return body[:limit]
}
