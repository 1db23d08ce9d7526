// Package spotify is a client for the Spotify Web API player endpoints that
// report current and recent playback.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Spotify Web API root.
	DefaultBaseURL = "https://api.spotify.com/v1"

	userAgent      = "go-spotify-now-playing/1.0"
	maxBodySize    = 1 << 20
	maxErrorBody   = 512
	defaultTimeout = 12 * time.Second
)

// Sentinel errors.
var (
	// ErrNoContent is returned when the endpoint has nothing to report:
	// a 204, an empty 200, a null item or an empty history.
	ErrNoContent = errors.New("no content")

	// ErrMalformedResponse is returned when a 200 payload does not have the
	// expected shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("request timed out")
)

// APIError is a non-2xx response from the Web API.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration // zero when the provider gave no hint
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("spotify API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("spotify API error (status %d)", e.StatusCode)
}

// Client calls the player endpoints with a caller-supplied bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
// Every request is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentlyPlaying returns the track the user is playing now.
// Returns ErrNoContent when nothing is playing.
func (c *Client) CurrentlyPlaying(ctx context.Context, token string) (*CurrentlyPlaying, error) {
	body, err := c.get(ctx, token, "/me/player/currently-playing", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching currently playing: %w", err)
	}

	var resp CurrentlyPlaying
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing currently playing: %w: %v", ErrMalformedResponse, err)
	}

	if resp.Item == nil {
		return nil, fmt.Errorf("fetching currently playing: %w", ErrNoContent)
	}
	if err := resp.Item.validate(); err != nil {
		return nil, fmt.Errorf("parsing currently playing: %w", err)
	}

	return &resp, nil
}

// RecentlyPlayed returns up to limit of the user's most recent plays, newest
// first. Returns ErrNoContent when the history is empty.
func (c *Client) RecentlyPlayed(ctx context.Context, token string, limit int) (*RecentlyPlayed, error) {
	params := url.Values{"limit": {strconv.Itoa(limit)}}

	body, err := c.get(ctx, token, "/me/player/recently-played", params)
	if err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}

	var resp RecentlyPlayed
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing recently played: %w: %v", ErrMalformedResponse, err)
	}

	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("fetching recently played: %w", ErrNoContent)
	}
	for i := range resp.Items {
		if err := resp.Items[i].Track.validate(); err != nil {
			return nil, fmt.Errorf("parsing recently played item %d: %w", i, err)
		}
	}

	return &resp, nil
}

// get performs a single bounded GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, token, path string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoContent
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp, body)
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, ErrNoContent
	}

	return body, nil
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Body:       truncate(string(body)),
	}

	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Message = envelope.Error.Message
	}

	return apiErr
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unparseable or past
// values yield zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}

	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}

func (t *Track) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: track has no name", ErrMalformedResponse)
	}
	return nil
}
