// Package status talks to a running inspector on behalf of the status,
// dump and freeze commands.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coral-mesh/frameprof/internal/inspect"
	"github.com/coral-mesh/frameprof/internal/retry"
)

// StatusError is a non-2xx inspector response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("inspector returned %d", e.Code)
	}
	return fmt.Sprintf("inspector returned %d: %s", e.Code, e.Message)
}

// Client is an inspector HTTP client.
type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Policy
}

// NewClient creates a client for addr, given as host:port or a URL.
func NewClient(addr string, timeout time.Duration) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		retry:   retry.Client(),
	}
}

// URL returns the inspector base URL.
func (c *Client) URL() string { return c.baseURL }

// Health checks that the inspector answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Statistics fetches the statistics of the last processed frame.
func (c *Client) Statistics(ctx context.Context) (*inspect.StatisticsView, error) {
	var out inspect.StatisticsView
	if err := c.do(ctx, http.MethodGet, "/api/v1/statistics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Report fetches the plain text report.
func (c *Client) Report(ctx context.Context) (string, error) {
	var out bytes.Buffer
	if err := c.do(ctx, http.MethodGet, "/api/v1/report", nil, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}

// Dump requests a capture of the next frames frames and returns the number
// of frames the inspector accepted.
func (c *Client) Dump(ctx context.Context, frames int) (int, error) {
	var out struct {
		Frames int `json:"frames"`
	}
	body := map[string]int{"frames": frames}
	if err := c.do(ctx, http.MethodPost, "/api/v1/dump", body, &out); err != nil {
		return 0, err
	}
	return out.Frames, nil
}

// SetFrozen freezes or unfreezes the views.
func (c *Client) SetFrozen(ctx context.Context, frozen bool) error {
	path := "/api/v1/unfreeze"
	if frozen {
		path = "/api/v1/freeze"
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// do sends one request, retrying transport failures. out may be a
// *bytes.Buffer for raw bodies or any JSON target.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	return c.retry.When(retryable(ctx)).Do(ctx, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var e struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
			return &StatusError{Code: resp.StatusCode, Message: e.Error}
		}

		switch dst := out.(type) {
		case nil:
			return nil
		case *bytes.Buffer:
			dst.Reset()
			_, err = dst.ReadFrom(resp.Body)
			return err
		default:
			if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
				return &StatusError{Code: resp.StatusCode, Message: "invalid response: " + err.Error()}
			}
			return nil
		}
	})
}

func retryable(ctx context.Context) func(error) bool {
	return func(err error) bool {
		var statusErr *StatusError
		return !errors.As(err, &statusErr) && ctx.Err() == nil
	}
}
