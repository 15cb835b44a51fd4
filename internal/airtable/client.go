// Package airtable provides a rate-limited client for the Airtable REST API.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.airtable.com/v0"

	// defaultMinInterval spaces dispatches to stay under Airtable's
	// 5 req/sec per-base budget.
	defaultMinInterval = 220 * time.Millisecond

	// batchSize bounds the OR(RECORD_ID()=...) filter formula length on
	// bulk lookups.
	batchSize = 50
)

// Client is an HTTP client for one Airtable base. All requests share a single
// pacing limiter: at most one dispatch per minimum interval, callers queued in
// submission order. Responses may still complete out of order.
type Client struct {
	apiKey     string
	baseID     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom API base URL (useful for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMinInterval sets the minimum gap between request dispatches.
func WithMinInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetry sets the bounded retry policy for HTTP 429 responses.
// Attempts are spaced linearly: delay, 2*delay, 3*delay, ...
func WithRetry(maxRetries int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// NewClient creates a client for the given base.
func NewClient(apiKey, baseID string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseID:     baseID,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(defaultMinInterval), 1),
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOptions narrows a ListAll call. Zero value lists the whole table in
// table order.
type ListOptions struct {
	View            string
	FilterByFormula string
}

// ListAll fetches every record in a table, following pagination offsets until
// the store reports no more pages. Order is store-native (table/view order).
func (c *Client) ListAll(ctx context.Context, table string, opts ListOptions) ([]Record, error) {
	var records []Record
	offset := ""
	for {
		q := url.Values{}
		if opts.View != "" {
			q.Set("view", opts.View)
		}
		if opts.FilterByFormula != "" {
			q.Set("filterByFormula", opts.FilterByFormula)
		}
		if offset != "" {
			q.Set("offset", offset)
		}

		body, status, err := c.do(ctx, http.MethodGet, c.tableURL(table), q, nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, storeErrorFrom(status, body)
		}

		var page listResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &StoreError{Message: fmt.Sprintf("malformed list response: %v", err)}
		}
		records = append(records, page.Records...)
		if page.Offset == "" {
			return records, nil
		}
		offset = page.Offset
	}
}

// FindByID fetches a single record. Returns ErrNotFound if the ID does not
// exist in the table.
func (c *Client) FindByID(ctx context.Context, table, id string) (Record, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.tableURL(table)+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return Record{}, err
	}
	if status == http.StatusNotFound {
		return Record{}, fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
	}
	if status != http.StatusOK {
		return Record{}, storeErrorFrom(status, body)
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, &StoreError{Message: fmt.Sprintf("malformed record response: %v", err)}
	}
	return rec, nil
}

// FindByIDs fetches a set of records by ID in batches. IDs are deduplicated
// before chunking; each chunk becomes one filterByFormula list call. The
// result maps ID to record, omitting IDs the store did not return — a broken
// link is the caller's problem to mark, never a fatal error here.
func (c *Client) FindByIDs(ctx context.Context, table string, ids []string) (map[string]Record, error) {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return map[string]Record{}, nil
	}

	found := make(map[string]Record, len(unique))
	for start := 0; start < len(unique); start += batchSize {
		end := start + batchSize
		if end > len(unique) {
			end = len(unique)
		}
		records, err := c.ListAll(ctx, table, ListOptions{FilterByFormula: recordIDFormula(unique[start:end])})
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			found[rec.ID] = rec
		}
	}
	return found, nil
}

// Update applies a partial field patch to a record with typecast enabled, and
// returns the record as read back from the store's response — not assumed
// from the patch.
func (c *Client) Update(ctx context.Context, table, id string, fields map[string]any) (Record, error) {
	payload, err := json.Marshal(updateRequest{Fields: fields, Typecast: true})
	if err != nil {
		return Record{}, &StoreError{Message: fmt.Sprintf("marshal update: %v", err)}
	}

	body, status, err := c.do(ctx, http.MethodPatch, c.tableURL(table)+"/"+url.PathEscape(id), nil, payload)
	if err != nil {
		return Record{}, err
	}
	if status == http.StatusNotFound {
		return Record{}, fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
	}
	if status != http.StatusOK {
		return Record{}, storeErrorFrom(status, body)
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, &StoreError{Message: fmt.Sprintf("malformed update response: %v", err)}
	}
	return rec, nil
}

// do dispatches one request through the shared limiter, retrying on 429 with
// linear backoff up to the configured attempt bound. Any other status is
// returned to the caller for interpretation.
func (c *Client) do(ctx context.Context, method, rawURL string, query url.Values, payload []byte) ([]byte, int, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, &StoreError{Message: fmt.Sprintf("rate limiter: %v", err)}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
		if err != nil {
			return nil, 0, &StoreError{Message: fmt.Sprintf("build request: %v", err)}
		}
		if query != nil {
			req.URL.RawQuery = query.Encode()
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, 0, &StoreError{Message: fmt.Sprintf("request failed: %v", err)}
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, 0, &StoreError{Message: fmt.Sprintf("read response: %v", err)}
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return body, resp.StatusCode, nil
		}
		if attempt >= c.maxRetries {
			return nil, 0, &StoreError{Status: resp.StatusCode, Message: "rate limited after retries"}
		}

		select {
		case <-time.After(c.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return nil, 0, &StoreError{Message: fmt.Sprintf("canceled during backoff: %v", ctx.Err())}
		}
	}
}

func (c *Client) tableURL(table string) string {
	return c.baseURL + "/" + url.PathEscape(c.baseID) + "/" + url.PathEscape(table)
}

// recordIDFormula builds an OR(RECORD_ID()='...') filter for one ID chunk.
func recordIDFormula(ids []string) string {
	if len(ids) == 1 {
		return fmt.Sprintf("RECORD_ID()='%s'", escapeFormulaString(ids[0]))
	}
	clauses := make([]string, len(ids))
	for i, id := range ids {
		clauses[i] = fmt.Sprintf("RECORD_ID()='%s'", escapeFormulaString(id))
	}
	return "OR(" + strings.Join(clauses, ",") + ")"
}

func escapeFormulaString(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func storeErrorFrom(status int, body []byte) *StoreError {
	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var detail errorDetail
		if err := json.Unmarshal(envelope.Error, &detail); err == nil && detail.Message != "" {
			return &StoreError{Status: status, Message: detail.Message}
		}
		var msg string
		if err := json.Unmarshal(envelope.Error, &msg); err == nil && msg != "" {
			return &StoreError{Status: status, Message: msg}
		}
	}
	return &StoreError{Status: status, Message: strings.TrimSpace(string(body))}
}
