package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tokenwatch/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultRateLimit    = rate.Limit(2)
	DefaultBurst        = 1
	maxResponseBytes    = 8 << 20
	errorBodySnippetLen = 256
)

// Client fetches pages of recently launched tokens over HTTP and
// normalizes them into canonical TokenEvents. A fetch is pure: no retries,
// no state. Retrying is the caller's responsibility, driven by the error
// taxonomy in errors.go.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  logrus.FieldLogger
	nowFn   func() time.Time
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithRateLimit sets client-side pacing toward the upstream. This is
// independent of 429 handling: it keeps the steady state polite, while
// 429s inform the caller's backoff.
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a feed client for the given endpoint. The API key is
// sent as the X-API-Key header when non-empty.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(DefaultRateLimit, DefaultBurst),
		logger:  logrus.StandardLogger(),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves up to limit tokens observed in (sinceMs, untilMs] and
// returns them normalized, with ineligible records dropped. untilMs of
// zero means "no upper bound".
func (c *Client) Fetch(ctx context.Context, limit int, sinceMs, untilMs int64) ([]*domain.TokenEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if untilMs > 0 && sinceMs > untilMs {
		return nil, fmt.Errorf("invalid window: since %d > until %d", sinceMs, untilMs)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := c.buildRequest(ctx, limit, sinceMs, untilMs)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.nowFn())}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: snippet(body)}
	}

	records, err := extractRecords(body)
	if err != nil {
		return nil, fmt.Errorf("%w: unrecognized envelope", ErrMalformedResponse)
	}

	nowMs := c.nowFn().UnixMilli()
	events := make([]*domain.TokenEvent, 0, len(records))
	for _, record := range records {
		ev, ok := normalizeRecord(record, nowMs)
		if !ok {
			continue
		}
		if !plausibleAddress(ev.Address) {
			c.logger.WithField("address", ev.Address).Debug("token address is not a plausible base58 key")
		}
		events = append(events, ev)
	}

	return events, nil
}

func (c *Client) buildRequest(ctx context.Context, limit int, sinceMs, untilMs int64) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}

	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	if sinceMs > 0 {
		q.Set("since", strconv.FormatInt(sinceMs, 10))
	}
	if untilMs > 0 {
		q.Set("until", strconv.FormatInt(untilMs, 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &UpstreamError{Message: err.Error()}
}

// parseRetryAfter handles both the delta-seconds and HTTP-date forms of
// the Retry-After header. Returns zero when the header is absent or
// unparseable.
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := t.Sub(now)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

func snippet(body []byte) string {
	if len(body) > errorBodySnippetLen {
		body = body[:errorBodySnippetLen]
	}
	return string(body)
}
