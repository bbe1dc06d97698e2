// Package langgraph is a small HTTP client for the LangGraph Platform API.
package langgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DefaultDeploymentURL is used when no deployment URL is configured.
const DefaultDeploymentURL = "http://localhost:80/api/agents"

// ErrStatus matches every *StatusError with errors.Is.
var ErrStatus = errors.New("langgraph: unexpected status")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("langgraph: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("langgraph: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Is reports whether target is ErrStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

const maxErrorBody = 4 * 1024

// Options configures a Client.
type Options struct {
	// BaseURL is the deployment URL, e.g. http://localhost:80/api/agents.
	BaseURL string
	// APIKey is sent as X-Api-Key when set.
	APIKey string
	// DefaultHeaders are added to every request (e.g. Authorization).
	DefaultHeaders map[string]string
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client talks to one LangGraph deployment.
type Client struct {
	base    *url.URL
	apiKey  string
	headers map[string]string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client. An empty BaseURL uses DefaultDeploymentURL.
func New(opts Options) (*Client, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultDeploymentURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse deployment url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("deployment url %q must be absolute", raw)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	headers := make(map[string]string, len(opts.DefaultHeaders))
	for k, v := range opts.DefaultHeaders {
		if v != "" {
			headers[k] = v
		}
	}

	return &Client{base: base, apiKey: opts.APIKey, headers: headers, http: httpClient, logger: logger}, nil
}

// BaseURL returns the deployment URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer closeBody(c.logger, resp)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer closeBody(c.logger, resp)
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func closeBody(logger *slog.Logger, resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Debug("failed to close response body", "error", err)
	}
}

// CreateThread creates a remote thread.
func (c *Client) CreateThread(ctx context.Context, req CreateThreadRequest) (*Thread, error) {
	var t Thread
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("threads"), req, &t); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return &t, nil
}

// GetThread fetches a remote thread.
func (c *Client) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	var t Thread
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("threads", threadID), nil, &t); err != nil {
		return nil, fmt.Errorf("get thread %s: %w", threadID, err)
	}
	return &t, nil
}

// GetThreadState fetches the latest checkpoint of a thread.
func (c *Client) GetThreadState(ctx context.Context, threadID string) (*ThreadState, error) {
	var s ThreadState
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("threads", threadID, "state"), nil, &s); err != nil {
		return nil, fmt.Errorf("get thread state %s: %w", threadID, err)
	}
	return &s, nil
}

// StreamRun starts a run on threadID and yields its events until the
// server closes the stream or ctx is cancelled.
func (c *Client) StreamRun(ctx context.Context, threadID string, run RunRequest) iter.Seq2[StreamPart, error] {
	return func(yield func(StreamPart, error) bool) {
		req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("threads", threadID, "runs", "stream"), run)
		if err != nil {
			yield(StreamPart{}, err)
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		c.logger.Debug("starting run stream", "thread_id", threadID, "assistant_id", run.AssistantID, "stream_mode", run.StreamMode)
		resp, err := c.do(req)
		if err != nil {
			yield(StreamPart{}, fmt.Errorf("stream run: %w", err))
			return
		}
		defer closeBody(c.logger, resp)

		for part, err := range readParts(resp) {
			if err != nil {
				if ctx.Err() != nil {
					yield(StreamPart{}, ctx.Err())
					return
				}
				yield(StreamPart{}, fmt.Errorf("read run stream: %w", err))
				return
			}
			if !yield(part, nil) {
				return
			}
		}
	}
}
