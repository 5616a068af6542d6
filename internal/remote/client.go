// Package remote talks to the backend's relational store over its REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/wire"
)

// Client is the remote store contract the sync engine runs against:
// range-paginated delta pulls and idempotent upserts by primary key.
type Client interface {
	// Pull fetches up to limit rows of table changed since the given
	// ISO-8601 watermark, starting at offset.
	Pull(ctx context.Context, table, since string, limit, offset int) ([]wire.Row, error)
	// Upsert inserts-or-updates rows by primary key. Soft deletes are
	// ordinary upserts carrying deleted_at.
	Upsert(ctx context.Context, table string, rows []wire.Row) error
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Body)
}

// HTTPClient implements Client against the backend REST API.
type HTTPClient struct {
	base   string
	apiKey string
	http   *http.Client
	logger *zap.Logger
}

// NewHTTPClient creates a client for the given base URL.
func NewHTTPClient(baseURL, apiKey string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		base:   baseURL,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Pull implements Client.
func (c *HTTPClient) Pull(ctx context.Context, table, since string, limit, offset int) ([]wire.Row, error) {
	q := url.Values{}
	q.Set("updated_since", since)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	endpoint := fmt.Sprintf("%s/v1/%s?%s", c.base, table, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", table, err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", table, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("pull %s: %w", table, statusError(resp))
	}

	var rows []wire.Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("pull %s: decode: %w", table, err)
	}
	return rows, nil
}

// Upsert implements Client.
func (c *HTTPClient) Upsert(ctx context.Context, table string, rows []wire.Row) error {
	if len(rows) == 0 {
		return nil
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("upsert %s: marshal: %w", table, err)
	}
	endpoint := fmt.Sprintf("%s/v1/%s/upsert", c.base, table)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("upsert %s: %w", table, statusError(resp))
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}
