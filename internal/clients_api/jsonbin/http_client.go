package jsonbin

// Package jsonbin contains the client for the JSONBin document store
// Each bin holds one JSON document; PUT replaces it in full, GET /latest reads it back

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	logging "rune-holders/internal/infra/log"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.jsonbin.io/v3"

	defaultMaxRetryTimes = 3
	defaultRetryInterval = 5 * time.Second
)

type Options struct {
	BaseURL       string
	MasterKey     string
	Timeout       time.Duration
	MaxRetryTimes uint
	RetryInterval time.Duration
	HTTPClient    *http.Client
}

type Client struct {
	baseURL       string
	masterKey     string
	httpClient    *http.Client
	maxRetryTimes uint
	retryInterval time.Duration
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:       opts.BaseURL,
		masterKey:     opts.MasterKey,
		httpClient:    opts.HTTPClient,
		maxRetryTimes: opts.MaxRetryTimes,
		retryInterval: opts.RetryInterval,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.maxRetryTimes == 0 {
		c.maxRetryTimes = defaultMaxRetryTimes
	}
	if c.retryInterval <= 0 {
		c.retryInterval = defaultRetryInterval
	}
	return c
}

// StatusError is a non-2xx answer from the document store.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jsonbin returned status %d: %s", e.StatusCode, e.Body)
}

// PutBin replaces the content of binID with payload.
func (c *Client) PutBin(ctx context.Context, binID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal bin payload: %w", err)
	}

	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.binURL(binID), bytes.NewReader(data))
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Master-Key", c.masterKey)
		req.Header.Set("X-Bin-Versioning", "false")

		_, err = c.do(req, binID)
		return err
	}

	if err := c.withRetry(ctx, binID, call); err != nil {
		return fmt.Errorf("failed to update bin %s: %w", binID, err)
	}
	return nil
}

// ReadBin decodes the latest content of binID into out.
func (c *Client) ReadBin(ctx context.Context, binID string, out any) error {
	var body []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.binURL(binID)+"/latest", nil)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("X-Master-Key", c.masterKey)
		req.Header.Set("X-Bin-Meta", "false")

		body, err = c.do(req, binID)
		return err
	}

	if err := c.withRetry(ctx, binID, call); err != nil {
		return fmt.Errorf("failed to read bin %s: %w", binID, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode bin %s: %w", binID, err)
	}
	return nil
}

func (c *Client) withRetry(ctx context.Context, binID string, call retry.RetryableFunc) error {
	return retry.Do(call,
		retry.Context(ctx),
		retry.Attempts(c.maxRetryTimes),
		retry.Delay(c.retryInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			logging.LogWarn("Document store request failed, retrying",
				zap.String("bin_id", binID),
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", c.maxRetryTimes),
				zap.Error(err))
		}))
}

// isRetryable rejects client errors other than 429; the request will not succeed on repeat.
func isRetryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

func (c *Client) do(req *http.Request, binID string) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	logging.LogDebug("Document store response",
		zap.String("method", req.Method),
		zap.String("bin_id", binID),
		zap.Int("status_code", resp.StatusCode),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) binURL(binID string) string {
	return c.baseURL + "/b/" + binID
}
