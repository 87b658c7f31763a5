// Package lastfm provides a Last.fm API client for paginated listening
// history retrieval with retry and adaptive rate-limit backoff.
package lastfm

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

	"github.com/rs/zerolog"

	"github.com/kpetersen/scrobblesync/internal/metrics"
)

const (
	baseURL   = "https://ws.audioscrobbler.com/2.0/"
	userAgent = "scrobblesync/1.0"

	// MaxPageSize is the largest page the API accepts.
	MaxPageSize = 200
)

// Last.fm API error codes.
const (
	errCodeInvalidParams = 6
	errCodeInvalidAPIKey = 10
	errCodeRateLimited   = 29
)

// Transient failures get one retry per delay after the initial attempt, so
// a request is tried at most four times before the error is surfaced.
var transientDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// maxRateLimitRetries bounds how often a single request is retried after
// rate-limit signals before the failure is surfaced.
const maxRateLimitRetries = 5

// Sentinel errors.
var (
	// ErrRateLimited is returned when the API rate limit is exceeded after retries.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidAPIKey is returned when the API key is invalid.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Client is a Last.fm API client. Requests are spaced by an adaptive
// inter-request delay that grows on rate-limit signals and decays on success.
type Client struct {
	apiKey     string
	user       string
	httpClient *http.Client
	baseURL    string
	pacer      *pacer
	log        zerolog.Logger
}

// NewClient creates a new Last.fm API client for the given user.
func NewClient(apiKey, user string, log zerolog.Logger) *Client {
	return &Client{
		apiKey: apiKey,
		user:   user,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		pacer:   newPacer(defaultFloorDelay, defaultCeilingDelay),
		log:     log.With().Str("component", "lastfm").Logger(),
	}
}

// RecentTracks fetches one page of the user's listening history inside the
// [from, to] window. Now-playing markers are filtered out, so an empty slice
// with a nil error means the window holds no more completed plays. A request
// that exhausts retries returns a non-nil error, never an empty page.
func (c *Client) RecentTracks(ctx context.Context, from, to time.Time, page int) ([]PlayEvent, PageInfo, error) {
	params := url.Values{
		"method": {"user.getRecentTracks"},
		"user":   {c.user},
		"limit":  {strconv.Itoa(MaxPageSize)},
		"page":   {strconv.Itoa(page)},
	}
	if !from.IsZero() {
		params.Set("from", strconv.FormatInt(from.Unix(), 10))
	}
	if !to.IsZero() {
		params.Set("to", strconv.FormatInt(to.Unix(), 10))
	}

	body, err := c.doRequest(ctx, params)
	if err != nil {
		return nil, PageInfo{}, fmt.Errorf("fetching recent tracks page %d: %w", page, err)
	}

	var resp recentTracksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, PageInfo{}, fmt.Errorf("parsing recent tracks response: %w", err)
	}

	events := make([]PlayEvent, 0, len(resp.RecentTracks.Track))
	for _, raw := range resp.RecentTracks.Track {
		if ev, ok := raw.normalize(); ok {
			events = append(events, ev)
		}
	}

	attr := resp.RecentTracks.Attr
	info := PageInfo{
		Page:       atoiOr(attr.Page, page),
		PerPage:    atoiOr(attr.PerPage, MaxPageSize),
		TotalPages: atoiOr(attr.TotalPages, 1),
		Total:      atoiOr(attr.Total, 0),
	}

	return events, info, nil
}

// UserInfo fetches account details, including the registration time used as
// the default start of a first full-history sync.
func (c *Client) UserInfo(ctx context.Context) (*UserInfo, error) {
	params := url.Values{
		"method": {"user.getInfo"},
		"user":   {c.user},
	}

	body, err := c.doRequest(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}

	var resp userInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing user info response: %w", err)
	}

	info := &UserInfo{
		Name:      resp.User.Name,
		PlayCount: atoiOr(resp.User.PlayCount, 0),
	}
	if uts, err := strconv.ParseInt(resp.User.Registered.UnixTime, 10, 64); err == nil && uts > 0 {
		info.Registered = time.Unix(uts, 0).UTC()
	}

	return info, nil
}

// Delay returns the current inter-request delay. Exposed for monitoring.
func (c *Client) Delay() time.Duration {
	return c.pacer.Delay()
}

// doRequest performs a paced HTTP GET with retries. Transient failures are
// retried three times with exponential backoff (1s, 2s, 4s) after the
// initial attempt; rate-limit signals increase the inter-request delay and
// retry the same request up to a separate cap.
func (c *Client) doRequest(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	reqURL := c.baseURL + "?" + params.Encode()

	transientAttempt := 0
	rateLimitAttempt := 0

	for {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		metrics.RecordAPICall("lastfm")
		body, err := c.doSingleRequest(ctx, reqURL)
		if err == nil {
			c.pacer.Faster()
			return body, nil
		}

		switch {
		case errors.Is(err, ErrRateLimited):
			if rateLimitAttempt >= maxRateLimitRetries {
				return nil, err
			}
			rateLimitAttempt++
			delay := c.pacer.Slower()
			c.log.Warn().
				Dur("delay", delay).
				Int("attempt", rateLimitAttempt).
				Msg("rate limited, backing off")

		case isTransient(err):
			if transientAttempt >= len(transientDelays) {
				return nil, err
			}
			wait := transientDelays[transientAttempt]
			transientAttempt++
			c.log.Warn().
				Err(err).
				Dur("wait", wait).
				Int("attempt", transientAttempt).
				Msg("transient request failure, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}

		default:
			return nil, err
		}
	}
}

// transientError marks failures that are worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// doSingleRequest performs a single HTTP request and classifies the outcome.
func (c *Client) doSingleRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transientError{fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrRateLimited
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return nil, &transientError{fmt.Errorf("server error: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Check for API error in response body.
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != 0 {
		switch apiErr.Error {
		case errCodeRateLimited:
			return nil, ErrRateLimited
		case errCodeInvalidAPIKey:
			return nil, ErrInvalidAPIKey
		default:
			return nil, fmt.Errorf("API error %d: %s", apiErr.Error, apiErr.Message)
		}
	}

	return body, nil
}
