// Package pull issues one-shot requests against the dashboard backend's REST
// endpoints: unit discovery, per-unit history and batch reports.
package pull

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

	"github.com/ersozo/re-dashboard/internal/protocol"
)

const defaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Body)
}

// Client makes REST calls to the backend.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a client for baseURL (e.g. "http://127.0.0.1:8000").
// A non-positive timeout uses 30s; the backend allows itself that long per
// unit query.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Units fetches /units, the list of known unit names.
func (c *Client) Units(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.get(ctx, protocol.UnitsPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History fetches one unit's payload for a standard or hourly view.
func (c *Client) History(ctx context.Context, view protocol.ViewKind, unit string, r protocol.TimeRange, wm protocol.WorkingMode) (json.RawMessage, error) {
	path, err := protocol.HistoryPath(view, unit)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := c.get(ctx, path, protocol.RangeQuery(r, wm), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Report fetches the batch report for units.
func (c *Client) Report(ctx context.Context, units []string, r protocol.TimeRange, wm protocol.WorkingMode) (*protocol.ReportEnvelope, error) {
	var out protocol.ReportEnvelope
	if err := c.get(ctx, protocol.ReportPath, protocol.ReportQuery(units, r, wm), &out); err != nil {
		return nil, err
	}
	if out.Units == nil {
		out.Units = make(map[string]json.RawMessage)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: http.MethodGet,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   string(bytes.TrimSpace(body)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
