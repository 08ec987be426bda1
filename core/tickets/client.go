package tickets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

// issueFields is the field set requested on fetch and search.
const issueFields = "summary,description,status,priority,reporter,assignee,labels,created,updated,resolution,resolutiondate,comment"

// cacheSize bounds the fetched-issue cache used by read-only tooling.
const cacheSize = 128

// Config holds ticket-system connection settings. Email and APIToken form
// the Basic auth pair.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	Email      string        `yaml:"email"`
	APIToken   string        `yaml:"api_token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries uint64        `yaml:"max_retries"`
}

// Configured reports whether endpoint and credentials are present.
func (c Config) Configured() bool {
	return c.BaseURL != "" && c.Email != "" && c.APIToken != ""
}

// Client provides retrying HTTP access to the ticket system. Transport
// errors and 5xx responses are retried with capped exponential backoff;
// 4xx responses surface immediately.
type Client struct {
	config Config
	http   *http.Client
	cache  *lru.Cache[string, *Issue]
}

// NewClient creates a ticket client from config. Defaults: 15s timeout,
// 3 retries.
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	cache, _ := lru.New[string, *Issue](cacheSize)
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		cache:  cache,
	}
}

// GetIssue fetches one issue by key, bypassing the cache. Sync preview and
// commit use this path: eligibility must reflect the current status.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s?fields=%s",
		c.config.BaseURL, url.PathEscape(key), issueFields)

	body, err := c.doRequest(ctx, apiURL)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("parse issue %s: %w", key, err)
	}

	c.cache.Add(key, &issue)
	return &issue, nil
}

// GetIssueCached serves read-only tooling: a cached copy is acceptable for
// conversational lookups, so a hit avoids the round trip.
func (c *Client) GetIssueCached(ctx context.Context, key string) (*Issue, error) {
	if issue, ok := c.cache.Get(key); ok {
		return issue, nil
	}
	return c.GetIssue(ctx, key)
}

// Search runs a JQL query, returning at most max issues.
func (c *Client) Search(ctx context.Context, jql string, max int) (*SearchResult, error) {
	if max <= 0 {
		max = 20
	}

	params := url.Values{
		"jql":        {jql},
		"fields":     {issueFields},
		"maxResults": {strconv.Itoa(max)},
	}
	apiURL := fmt.Sprintf("%s/rest/api/3/search/jql?%s", c.config.BaseURL, params.Encode())

	body, err := c.doRequest(ctx, apiURL)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", jql, err)
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	if result.Total == 0 {
		result.Total = len(result.Issues)
	}
	return &result, nil
}

// statusError carries an HTTP status for retry classification.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ticket API error %d: %s", e.code, http.StatusText(e.code))
}

func (c *Client) doRequest(ctx context.Context, apiURL string) ([]byte, error) {
	if !c.config.Configured() {
		return nil, ErrNotConfigured
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(500*time.Millisecond),
			backoff.WithMaxInterval(5*time.Second),
		),
		c.config.MaxRetries,
	), ctx)

	var body []byte
	op := func() error {
		var err error
		body, err = c.doOnce(ctx, apiURL)
		if err == nil {
			return nil
		}

		var se *statusError
		if errors.As(err, &se) {
			if se.code == http.StatusNotFound {
				return backoff.Permanent(ErrNotFound)
			}
			if se.code < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	if err := backoff.Retry(op, policy); err != nil {
		var se *statusError
		if errors.Is(err, ErrNotFound) || errors.As(err, &se) && se.code < http.StatusInternalServerError {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return body, nil
}

func (c *Client) doOnce(ctx context.Context, apiURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Basic "+c.basicAuth())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &statusError{code: resp.StatusCode}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

func (c *Client) basicAuth() string {
	pair := c.config.Email + ":" + c.config.APIToken
	return base64.StdEncoding.EncodeToString([]byte(pair))
}

