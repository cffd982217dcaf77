package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/klauspost/compress/gzip"

	tallyerrors "github.com/randalmurphal/tally/pkg/tally/errors"
	"github.com/randalmurphal/tally/pkg/tally/event"
)

const (
	// DefaultBaseURL is the production collector.
	DefaultBaseURL = "https://ingest.mostlygoodmetrics.com"

	// CompressionThreshold is the body size above which requests are gzipped.
	CompressionThreshold = 1024

	// HeaderAPIKey carries the project API key.
	HeaderAPIKey = "X-API-Key"

	// EventsPath and ExperimentsPath are the collector endpoints.
	EventsPath      = "/v1/events"
	ExperimentsPath = "/v1/experiments"

	// DefaultTimeout bounds a single request when no HTTP client is supplied.
	DefaultTimeout = 30 * time.Second
)

// Construction errors.
var (
	ErrBlankAPIKey    = errors.New("api key must not be blank")
	ErrInvalidBaseURL = errors.New("invalid collector base url")
)

// HTTPTransport implements Transport against the collector HTTP API.
type HTTPTransport struct {
	baseURL   *url.URL
	apiKey    string
	client    *http.Client
	clock     quartz.Clock
	userAgent string

	mu              sync.Mutex
	retryAfterUntil time.Time
}

// Option configures an HTTPTransport.
type Option func(*httpConfig)

type httpConfig struct {
	baseURL   string
	client    *http.Client
	clock     quartz.Clock
	userAgent string
}

// WithBaseURL overrides the collector location.
func WithBaseURL(raw string) Option {
	return func(c *httpConfig) {
		c.baseURL = raw
	}
}

// WithHTTPClient sets the HTTP client to use for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *httpConfig) {
		if client != nil {
			c.client = client
		}
	}
}

// WithClock sets the clock used for the rate-limit deadline.
func WithClock(clock quartz.Clock) Option {
	return func(c *httpConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpConfig) {
		c.userAgent = ua
	}
}

// NewHTTP creates a transport authenticating with apiKey.
func NewHTTP(apiKey string, opts ...Option) (*HTTPTransport, error) {
	cfg := httpConfig{
		baseURL:   DefaultBaseURL,
		client:    &http.Client{Timeout: DefaultTimeout},
		clock:     quartz.NewReal(),
		userAgent: SDKName + "/" + SDKVersion,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrBlankAPIKey
	}

	base, err := url.Parse(strings.TrimRight(cfg.baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, cfg.baseURL)
	}

	return &HTTPTransport{
		baseURL:   base,
		apiKey:    apiKey,
		client:    cfg.client,
		clock:     cfg.clock,
		userAgent: cfg.userAgent,
	}, nil
}

// RetryAfterUntil returns the current rate-limit deadline, zero if none.
func (t *HTTPTransport) RetryAfterUntil() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryAfterUntil
}

func (t *HTTPTransport) rateLimitRemaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retryAfterUntil.IsZero() {
		return 0
	}
	remaining := t.retryAfterUntil.Sub(t.clock.Now())
	if remaining <= 0 {
		t.retryAfterUntil = time.Time{}
		return 0
	}
	return remaining
}

func (t *HTTPTransport) setRetryAfter(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryAfterUntil = t.clock.Now().Add(d)
}

func (t *HTTPTransport) endpoint(path string, query url.Values) string {
	u := *t.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (t *HTTPTransport) setHeaders(req *http.Request) {
	req.Header.Set(HeaderAPIKey, t.apiKey)
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/json")
}

// SendEvents implements Transport.
func (t *HTTPTransport) SendEvents(ctx context.Context, events []event.Event, ectx event.Context) SendResult {
	if remaining := t.rateLimitRemaining(); remaining > 0 {
		return SendResult{Outcome: RetryLater, Err: &tallyerrors.HTTPError{
			StatusCode: http.StatusTooManyRequests,
			Endpoint:   EventsPath,
			Message:    "rate limited, skipped send",
			RetryAfter: remaining,
		}}
	}

	body, compressed, err := encodeBatch(events, ectx)
	if err != nil {
		return ResultFromError(&tallyerrors.EncodingError{Op: "encode batch", Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(EventsPath, nil), bytes.NewReader(body))
	if err != nil {
		return ResultFromError(&tallyerrors.EncodingError{Op: "build request", Err: err})
	}
	t.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return ResultFromError(&tallyerrors.NetworkError{Op: "send events", Err: err})
	}
	defer resp.Body.Close()
	msg := readMessage(resp.Body)

	if resp.StatusCode == http.StatusNoContent {
		return Succeeded()
	}

	httpErr := &tallyerrors.HTTPError{
		StatusCode: resp.StatusCode,
		Endpoint:   EventsPath,
		Message:    msg,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), t.clock.Now()); ok {
			httpErr.RetryAfter = d
			t.setRetryAfter(d)
		}
	}
	return ResultFromError(httpErr)
}

// FetchExperiments implements Transport.
func (t *HTTPTransport) FetchExperiments(ctx context.Context, userID string) (map[string]string, error) {
	query := url.Values{"user_id": []string{userID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint(ExperimentsPath, query), nil)
	if err != nil {
		return nil, &tallyerrors.EncodingError{Op: "build request", Err: err}
	}
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &tallyerrors.NetworkError{Op: "fetch experiments", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &tallyerrors.HTTPError{
			StatusCode: resp.StatusCode,
			Endpoint:   ExperimentsPath,
			Message:    readMessage(resp.Body),
		}
	}

	var payload struct {
		AssignedVariants map[string]string `json:"assigned_variants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &tallyerrors.EncodingError{Op: "decode experiments", Err: err}
	}
	if payload.AssignedVariants == nil {
		payload.AssignedVariants = map[string]string{}
	}
	return payload.AssignedVariants, nil
}

// encodeBatch renders the request body, gzipping it above
// CompressionThreshold. It reports whether the body is compressed.
func encodeBatch(events []event.Event, ectx event.Context) ([]byte, bool, error) {
	raw, err := json.Marshal(event.Batch{Events: events, Context: ectx})
	if err != nil {
		return nil, false, err
	}
	if len(raw) <= CompressionThreshold {
		return raw, false, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, false, fmt.Errorf("gzip body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, false, fmt.Errorf("gzip body: %w", err)
	}
	return buf.Bytes(), true, nil
}

// readMessage drains up to 1KB of an error body for diagnostics.
func readMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 1024))
	_, _ = io.Copy(io.Discard, r)
	return strings.TrimSpace(string(data))
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d <= 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}
