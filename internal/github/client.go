// Package github is the authenticated connector for the GitHub REST API.
//
// Every operation takes a bearer credential and maps non-2xx upstream
// responses to a typed *UpstreamError; a 401 additionally matches
// ErrUnauthorized so callers can mark the stored credential invalid. No
// retries happen at this layer.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/dorainsight/dora/internal/log"
)

// ErrUnauthorized matches any upstream 401. The stored credential is expired
// or revoked and should be deactivated.
var ErrUnauthorized = errors.New("github: unauthorized")

// UpstreamError carries a non-2xx response from the GitHub API.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("github: upstream status %d: %s", e.Status, e.Message)
}

// Unwrap lets errors.Is(err, ErrUnauthorized) detect credential failures.
func (e *UpstreamError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

const (
	defaultBaseURL = "https://api.github.com"
	requestTimeout = 15 * time.Second
)

// Client calls the GitHub REST API. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root. Tests use this with
// an httptest server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit installs a client-side limiter so bursts of augmentation
// fetches cannot exhaust the API quota.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient creates a GitHub API client.
func NewClient(logger log.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Viewer returns the account owning the token. This is the lightweight call
// used for connection-status checks.
func (c *Client) Viewer(ctx context.Context, token string) (*Account, error) {
	var account Account
	if err := c.get(ctx, token, "/user", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Repositories lists the viewer's repositories sorted by recency, limited to n.
func (c *Client) Repositories(ctx context.Context, token string, n int) ([]Repo, error) {
	q := url.Values{
		"sort":     {"updated"},
		"per_page": {strconv.Itoa(n)},
	}
	var repos []Repo
	if err := c.get(ctx, token, "/user/repos", q, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// Repository returns detail for one repository.
func (c *Client) Repository(ctx context.Context, token, owner, name string) (*Repo, error) {
	var repo Repo
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))
	if err := c.get(ctx, token, path, nil, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// wireCommit is the nested API shape flattened into Commit.
type wireCommit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// Commits lists the most recent commits of a repository, limited to n.
func (c *Client) Commits(ctx context.Context, token, owner, name string, n int) ([]Commit, error) {
	q := url.Values{"per_page": {strconv.Itoa(n)}}
	path := fmt.Sprintf("/repos/%s/%s/commits", url.PathEscape(owner), url.PathEscape(name))

	var wire []wireCommit
	if err := c.get(ctx, token, path, q, &wire); err != nil {
		return nil, err
	}

	commits := make([]Commit, 0, len(wire))
	for _, w := range wire {
		commits = append(commits, Commit{
			SHA:        w.SHA,
			Message:    w.Commit.Message,
			AuthorName: w.Commit.Author.Name,
			AuthorDate: w.Commit.Author.Date,
			HTMLURL:    w.HTMLURL,
		})
	}
	return commits, nil
}

// wireIssue is the API shape normalized into Issue.
type wireIssue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	Body      string     `json:"body"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (w wireIssue) normalize() Issue {
	labels := make([]string, 0, len(w.Labels))
	for _, l := range w.Labels {
		labels = append(labels, l.Name)
	}
	return Issue{
		Number:    w.Number,
		Title:     w.Title,
		State:     w.State,
		Body:      w.Body,
		HTMLURL:   w.HTMLURL,
		User:      w.User.Login,
		Labels:    labels,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
		ClosedAt:  w.ClosedAt,
	}
}

// Issues lists issues of a repository across all states, limited to n.
func (c *Client) Issues(ctx context.Context, token, owner, name string, n int) ([]Issue, error) {
	q := url.Values{
		"state":    {"all"},
		"per_page": {strconv.Itoa(n)},
	}
	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(name))

	var wire []wireIssue
	if err := c.get(ctx, token, path, q, &wire); err != nil {
		return nil, err
	}

	issues := make([]Issue, 0, len(wire))
	for _, w := range wire {
		issues = append(issues, w.normalize())
	}
	return issues, nil
}

// Issue returns detail for one issue.
func (c *Client) Issue(ctx context.Context, token, owner, name string, number int) (*Issue, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", url.PathEscape(owner), url.PathEscape(name), number)

	var wire wireIssue
	if err := c.get(ctx, token, path, nil, &wire); err != nil {
		return nil, err
	}
	issue := wire.normalize()
	return &issue, nil
}

// get performs one authenticated GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, token, path string, query url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("github: rate limiter: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("github: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.upstreamError(resp, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decoding %s response: %w", path, err)
	}
	return nil
}

// upstreamError extracts the API error message from a non-2xx response.
func (c *Client) upstreamError(resp *http.Response, path string) error {
	message := resp.Status

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(body) > 0 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			message = apiErr.Message
		}
	}

	c.logger.Debug("github upstream error", "path", path, "status", resp.StatusCode, "message", message)
	return &UpstreamError{Status: resp.StatusCode, Message: message}
}
