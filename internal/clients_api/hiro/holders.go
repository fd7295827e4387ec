package hiro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"rune-holders/internal/features/holders"
	"rune-holders/internal/infra/retry"
)

type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"
	KindRateLimited ErrorKind = "rate_limited"
	KindUpstream    ErrorKind = "upstream"
)

// FetchError is returned once retries are exhausted or the context ends.
type FetchError struct {
	Kind     ErrorKind
	Endpoint string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("hiro %s error on %s after %d attempt(s): %v", e.Kind, e.Endpoint, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusCode returns the last HTTP status seen, or 0 for transport failures.
func (e *FetchError) StatusCode() int {
	var he *retry.HTTPError
	if errors.As(e.Err, &he) {
		return he.StatusCode
	}
	return 0
}

func classify(err error) ErrorKind {
	var he *retry.HTTPError
	if errors.As(err, &he) {
		if retry.IsRateLimited(err) {
			return KindRateLimited
		}
		return KindUpstream
	}
	var me *malformedError
	if errors.As(err, &me) {
		return KindUpstream
	}
	return KindTransport
}

// FetchPage returns holders [offset, offset+limit) of the configured etching.
func (c *Client) FetchPage(ctx context.Context, offset, limit int) (*holders.Page, error) {
	if offset < 0 {
		return nil, fmt.Errorf("invalid offset %d", offset)
	}
	if limit <= 0 || limit > MaxPageSize {
		return nil, fmt.Errorf("invalid limit %d, must be in 1..%d", limit, MaxPageSize)
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	var page holders.Page
	err := c.get(ctx, "holders", c.holdersPath(), query, func(body []byte) error {
		page = holders.Page{}
		return json.Unmarshal(body, &page)
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchEtching returns the raw etching metadata document.
func (c *Client) FetchEtching(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.get(ctx, "etching", c.etchingPath(), nil, func(body []byte) error {
		if !json.Valid(body) {
			return errors.New("invalid JSON")
		}
		raw = append(json.RawMessage(nil), body...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) etchingPath() string {
	return "/etchings/" + url.PathEscape(c.etching)
}

func (c *Client) holdersPath() string {
	return c.etchingPath() + "/holders"
}
