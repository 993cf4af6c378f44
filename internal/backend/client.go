// Package backend is an HTTP client for the code-healing backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultWakeInterval   = 2 * time.Second
	maxErrorBody          = 4 << 10
)

var errEmptyRepoURL = errors.New("repo url is required")

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: backend returned %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: backend returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// AnalyzeRequest starts a healing run.
type AnalyzeRequest struct {
	RepoURL     string `json:"repo_url"`
	TeamName    string `json:"team_name"`
	LeaderName  string `json:"leader_name"`
	AccessToken string `json:"access_token,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// RemoteRun is one entry of the backend's run history.
type RemoteRun struct {
	ID              RunID  `json:"id"`
	RepoURL         string `json:"repo_url"`
	TeamName        string `json:"team_name"`
	LeaderName      string `json:"leader_name"`
	BranchName      string `json:"branch_name"`
	Status          string `json:"status"`
	TotalFailures   int    `json:"total_failures"`
	FixesApplied    int    `json:"fixes_applied"`
	RemainingIssues int    `json:"remaining_issues"`
	Duration        string `json:"duration"`
	Score           int    `json:"score"`
	PRURL           string `json:"pr_url"`
	CreatedAt       string `json:"created_at"`
}

// RunID accepts both numeric and string identifiers.
type RunID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *RunID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = RunID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	*id = RunID(n.String())
	return nil
}

// Config holds configuration for the backend client.
type Config struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	WakeInterval   time.Duration
}

// Client talks to the backend's HTTP surface.
type Client struct {
	base         *url.URL
	http         *http.Client
	wakeInterval time.Duration
	logger       *slog.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must be http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("backend url %q has no host", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	interval := cfg.WakeInterval
	if interval <= 0 {
		interval = defaultWakeInterval
	}

	return &Client{base: base, http: hc, wakeInterval: interval, logger: logger}, nil
}

// BaseURL returns the backend base address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Wake polls the backend root until it answers with anything below 500.
// Hosted backends sleep when idle and take a while to come back.
func (c *Client) Wake(ctx context.Context) error {
	ticker := time.NewTicker(c.wakeInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		code, err := c.probe(ctx)
		if err == nil && code < http.StatusInternalServerError {
			if attempt > 1 {
				c.logger.Info("Backend is awake", "attempts", attempt)
			}
			return nil
		}
		c.logger.Debug("Backend not ready", "attempt", attempt, "status", code, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("wake backend: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) probe(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/", nil), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, nil
}

// Analyze asks the backend to start a run. Progress arrives on the event stream.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) error {
	if strings.TrimSpace(req.RepoURL) == "" {
		return errEmptyRepoURL
	}
	if err := c.do(ctx, http.MethodPost, "/analyze", nil, req, nil); err != nil {
		return err
	}
	c.logger.Info("Analysis requested", "repo_url", req.RepoURL, "session_id", req.SessionID)
	return nil
}

// History lists the backend's most recent runs.
func (c *Client) History(ctx context.Context, limit int) ([]RemoteRun, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Runs []RemoteRun `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
