// Package gateway talks to the legacy tabular data service.
//
// The service exposes a single endpoint. The "op" query parameter selects
// the operation ("retrieve" or "update"), "table" names the backend table and
// "client" carries the session identifier attached to every call:
//
//	GET  <url>?op=retrieve&table=HOLDINGS&client=ID&ACCT=A1   -> JSON array of rows
//	POST <url>?op=update&table=HOLDINGS&client=ID             <- command text
//
// Nothing is retried; callers decide whether to resubmit.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/logging"
)

const (
	OpRetrieve = "retrieve"
	OpUpdate   = "update"
)

// ClientIDHeader repeats the client identifier for proxies that log headers
// but strip query strings.
const ClientIDHeader = "X-Client-ID"

const (
	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second

	maxResponseBytes = 64 << 20
	maxErrorBody     = 512
)

// Client is a gateway client. It is safe for concurrent use.
type Client struct {
	baseURL  *url.URL
	clientID string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New creates a client for the gateway endpoint at rawURL.
func New(rawURL, clientID string, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway url must be http or https, got %q", rawURL)
	}

	c := &Client{baseURL: u, clientID: clientID, http: defaultHTTPClient()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: defaultTLSTimeout,
			MaxIdleConnsPerHost: 16,
		},
		Timeout: defaultTimeout,
	}
}

// Retrieve fetches the rows of table matching filters. Numbers are decoded
// as json.Number so no precision is lost before reconciliation. The returned
// rows have no ID; callers assign one from the row key.
func (c *Client) Retrieve(ctx context.Context, table string, filters url.Values) ([]core.Row, error) {
	start := time.Now()
	logger := logging.WithFields(ctx, "op", OpRetrieve, "table", table)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(OpRetrieve, table, filters), nil)
	if err != nil {
		return nil, &core.TransportError{Op: OpRetrieve, Table: table, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, OpRetrieve, table)
	if err != nil {
		logger.Warn("gateway retrieve failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, &core.TransportError{Op: OpRetrieve, Table: table, Err: err}
	}

	logger.Debug("gateway retrieve", "rows", len(rows), "duration_ms", time.Since(start).Milliseconds())
	return rows, nil
}

// Submit posts one command or a joined batch to the update operation.
func (c *Client) Submit(ctx context.Context, table, payload string) error {
	start := time.Now()
	logger := logging.WithFields(ctx, "op", OpUpdate, "table", table)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(OpUpdate, table, nil), strings.NewReader(payload))
	if err != nil {
		return &core.TransportError{Op: OpUpdate, Table: table, Err: err}
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	if _, err := c.do(req, OpUpdate, table); err != nil {
		logger.Warn("gateway update failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return err
	}

	logger.Debug("gateway update", "bytes", len(payload), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *Client) endpoint(op, table string, filters url.Values) string {
	q := url.Values{}
	for k, vs := range filters {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("op", op)
	q.Set("table", table)
	q.Set("client", c.clientID)

	u := *c.baseURL
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(req *http.Request, op, table string) ([]byte, error) {
	if c.clientID != "" {
		req.Header.Set(ClientIDHeader, c.clientID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &core.TransportError{Op: op, Table: table, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &core.TransportError{Op: op, Table: table, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The response body is the error message.
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &core.TransportError{Op: op, Table: table, Status: resp.StatusCode, Body: msg}
	}
	return body, nil
}

func decodeRows(body []byte) ([]core.Row, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}

	rows := make([]core.Row, len(raw))
	for i, fields := range raw {
		rows[i] = core.Row{Fields: fields}
		if rows[i].Fields == nil {
			rows[i].Fields = map[string]any{}
		}
	}
	return rows, nil
}
