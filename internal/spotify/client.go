// Package spotify provides a thin, typed client for the parts of the
// Spotify Web API the sync engine consumes.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.spotify.com/v1"
	userAgent      = "tunewave-backend/1.0"

	// maxFetchLimit is the page-size ceiling the upstream API enforces.
	maxFetchLimit = 50
)

// ErrUnauthorized is returned when the access token is expired or
// invalid. The orchestrator reacts by running the refresh protocol.
var ErrUnauthorized = errors.New("spotify: unauthorized")

// RateLimitedError is returned on a 429 response. The retry hint is
// surfaced to the caller; the client never sleeps it off itself.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("spotify: rate limited, retry after %s", e.RetryAfter)
}

// UpstreamError is returned for 5xx responses, malformed bodies, and
// transport failures.
type UpstreamError struct {
	StatusCode int // zero for transport or decode failures
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("spotify: upstream error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("spotify: upstream error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Client calls the Spotify Web API with a per-request bearer token.
// Credentials live in the database, not on the client, so one instance
// serves all users.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit sets the client-side request pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient creates a Spotify API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentProfile fetches the profile of the token's owner.
func (c *Client) CurrentProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var resp profileResponse
	if err := c.get(ctx, accessToken, "/me", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	return convertProfile(resp), nil
}

// TopTracks fetches the user's ranked top tracks for a window. The
// returned order is the upstream ranking.
func (c *Client) TopTracks(ctx context.Context, accessToken string, window Window, limit int) ([]Track, error) {
	params := url.Values{
		"time_range": {string(window)},
		"limit":      {strconv.Itoa(clampLimit(limit))},
	}
	var resp topTracksResponse
	if err := c.get(ctx, accessToken, "/me/top/tracks", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching top tracks: %w", err)
	}

	tracks := make([]Track, len(resp.Items))
	for i, item := range resp.Items {
		tracks[i] = convertTrack(item)
	}
	return tracks, nil
}

// TopArtists fetches the user's ranked top artists for a window.
func (c *Client) TopArtists(ctx context.Context, accessToken string, window Window, limit int) ([]Artist, error) {
	params := url.Values{
		"time_range": {string(window)},
		"limit":      {strconv.Itoa(clampLimit(limit))},
	}
	var resp topArtistsResponse
	if err := c.get(ctx, accessToken, "/me/top/artists", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching top artists: %w", err)
	}

	artists := make([]Artist, len(resp.Items))
	for i, item := range resp.Items {
		artists[i] = convertArtist(item)
	}
	return artists, nil
}

// RecentlyPlayed fetches the playback history bounded by opts.
func (c *Client) RecentlyPlayed(ctx context.Context, accessToken string, opts RecentOpts) ([]Playback, error) {
	params := url.Values{
		"limit": {strconv.Itoa(clampLimit(opts.Limit))},
	}
	if opts.After != "" {
		params.Set("after", opts.After)
	}
	if opts.Before != "" {
		params.Set("before", opts.Before)
	}

	var resp recentlyPlayedResponse
	if err := c.get(ctx, accessToken, "/me/player/recently-played", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}

	plays := make([]Playback, len(resp.Items))
	for i, item := range resp.Items {
		plays[i] = convertPlayback(item)
	}
	return plays, nil
}

// get performs one authenticated GET and decodes the body into v.
// Status codes map onto the closed failure set: 401 to ErrUnauthorized,
// 429 to RateLimitedError, everything else non-2xx (and undecodable
// bodies) to UpstreamError.
func (c *Client) get(ctx context.Context, accessToken, path string, params url.Values, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &UpstreamError{Err: err}
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &UpstreamError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UpstreamError{Err: err}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &UpstreamError{Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxFetchLimit {
		return maxFetchLimit
	}
	return limit
}
