// Package github fetches repository search results from the GitHub REST API.
//
// Fetching is fail-soft: any transport, status or decoding problem is logged
// and reported to the caller as an empty result list.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/runger/livesearch/internal/storage"
)

// DefaultBaseURL is the public GitHub API root.
const DefaultBaseURL = "https://api.github.com"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// Fetcher performs a single search for a term and language filter.
// Implementations never fail: problems yield an empty list.
type Fetcher interface {
	Fetch(ctx context.Context, term, language string) []storage.SearchResult
}

// Options configures a Client.
type Options struct {
	BaseURL       string        // API root; DefaultBaseURL when empty
	Timeout       time.Duration // Per-request timeout (0 = none)
	RatePerMinute int           // Client-side request budget (0 = unlimited)
	Burst         int           // Requests allowed back to back (min 1)
	Token         string        // Optional bearer token
	UserAgent     string
	HTTPClient    *http.Client   // Overrides the instrumented default client
	Breaker       *BreakerConfig // nil = defaults
	Logger        *slog.Logger
}

// Client implements Fetcher against the repository search endpoint.
type Client struct {
	baseURL    *url.URL
	token      string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *Breaker
	logger     *slog.Logger
}

// Compile-time check that Client implements Fetcher.
var _ Fetcher = (*Client)(nil)

// NewClient creates a search client.
func NewClient(opts Options) (*Client, error) {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("github: parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("github: base url must be absolute http(s): %s", base)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	limit := rate.Inf
	if opts.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RatePerMinute))
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "livesearch"
	}

	logger = logger.With("component", "github")

	breakerCfg := BreakerConfig{Logger: logger}
	if opts.Breaker != nil {
		breakerCfg.Threshold = opts.Breaker.Threshold
		breakerCfg.Cooldown = opts.Breaker.Cooldown
	}

	return &Client{
		baseURL:    u,
		token:      opts.Token,
		userAgent:  userAgent,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    NewBreaker(&breakerCfg),
		logger:     logger,
	}, nil
}

// Fetch searches repositories whose name contains term, restricted to
// language. It returns an empty list on any failure.
func (c *Client) Fetch(ctx context.Context, term, language string) []storage.SearchResult {
	if !c.breaker.Allow() {
		c.logger.Debug("search skipped: circuit open", "term", term, "language", language)
		return []storage.SearchResult{}
	}

	results, err := c.search(ctx, term, language)
	if err != nil {
		if abandoned(err) {
			c.breaker.Release()
			c.logger.Debug("search abandoned", "term", term, "language", language, "error", err)
		} else {
			c.breaker.Failure()
			c.logger.Warn("search failed", "term", term, "language", language, "error", err)
		}
		return []storage.SearchResult{}
	}
	c.breaker.Success()
	c.logger.Debug("search done", "term", term, "language", language, "results", len(results))
	return results
}

// Breaker returns the client's circuit breaker.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// abandoned reports whether err means the caller gave up before the API
// answered, which says nothing about the API's health.
func abandoned(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Op == "wait" {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// FetchError describes why a search produced no usable response.
type FetchError struct {
	Op         string // "wait", "request", "status", "decode"
	StatusCode int    // set for Op == "status"
	Err        error
}

func (e *FetchError) Error() string {
	if e.Op == "status" {
		return fmt.Sprintf("github %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("github %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// searchItem is one entry of the response's items array. Pointers mark
// fields that may be absent or null.
type searchItem struct {
	ID       *int64  `json:"id"`
	FullName string  `json:"full_name"`
	Language *string `json:"language"`
}

type searchResponse struct {
	Items *[]searchItem `json:"items"`
}

func (c *Client) search(ctx context.Context, term, language string) ([]storage.SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Op: "wait", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SearchURL(term, language), nil)
	if err != nil {
		return nil, &FetchError{Op: "request", Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &FetchError{Op: "status", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Op: "decode", Err: err}
	}

	return decodeResults(body)
}

// decodeResults maps a search response body to results. Items without an
// id are skipped; a missing items array is an error.
func decodeResults(body []byte) ([]storage.SearchResult, error) {
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, &FetchError{Op: "decode", Err: err}
	}
	if sr.Items == nil {
		return nil, &FetchError{Op: "decode", Err: errors.New("response has no items array")}
	}

	results := make([]storage.SearchResult, 0, len(*sr.Items))
	for _, item := range *sr.Items {
		if item.ID == nil {
			continue
		}
		results = append(results, storage.SearchResult{
			ID:       *item.ID,
			FullName: item.FullName,
			Language: item.Language,
		})
	}
	return results, nil
}

// SearchURL builds the request URL for term and language. Both values are
// percent-encoded; the '+' separators between qualifiers stay literal.
func (c *Client) SearchURL(term, language string) string {
	u := *c.baseURL
	u.Path = path.Join("/", u.Path, "search", "repositories")
	u.RawPath = ""
	u.RawQuery = "q=" + escape(term) + "+language:" + escape(language) + "+in:name"
	return u.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
