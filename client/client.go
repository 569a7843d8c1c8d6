package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrRetriesExhausted is returned when every attempt was throttled.
	ErrRetriesExhausted = errors.New("rate limited: retries exhausted")
	// ErrUnexpectedStatus is returned for non-2xx responses other than 429.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

const (
	headerLimit     = "X-RateLimit-Limit"
	headerRemaining = "X-RateLimit-Remaining"
	headerReset     = "X-RateLimit-Reset"
)

// Config configures a Client. Zero values take the documented defaults.
type Config struct {
	BaseURL string

	// RequestsPerMinute paces outgoing requests. Zero disables pacing.
	RequestsPerMinute float64

	// MaxRetries bounds retries after a 429. Default 3; negative disables.
	MaxRetries int
	// RetryWait is the minimum backoff. Default 500ms.
	RetryWait time.Duration
	// MaxRetryWait caps the backoff, including waits derived from
	// X-RateLimit-Reset. Default 10s.
	MaxRetryWait time.Duration
	// Timeout per attempt. Default 10s.
	Timeout time.Duration

	Username string
	Password string
	Token    string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 500 * time.Millisecond
	}
	if c.MaxRetryWait <= 0 {
		c.MaxRetryWait = 10 * time.Second
	}
	if c.MaxRetryWait < c.RetryWait {
		c.MaxRetryWait = c.RetryWait
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// RateLimit is the quota a gated server reported.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Response is the final outcome of a call after any retries.
type Response struct {
	StatusCode int
	Body       []byte
	RateLimit  RateLimit
	Attempts   int
}

// Client calls a gated HTTP service. Throttled responses are retried with
// bounded exponential backoff; the server never retries on the caller's
// behalf.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	return NewWithHTTPClient(cfg, &http.Client{}, logger)
}

// NewWithHTTPClient uses hc as the underlying transport.
func NewWithHTTPClient(cfg Config, hc *http.Client, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := resty.NewWithClient(hc).
		SetLogger(logger.Sugar()).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.MaxRetryWait).
		SetRetryAfter(untilReset).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r != nil && r.StatusCode() == http.StatusTooManyRequests
		}).
		AddRetryHook(func(r *resty.Response, err error) {
			if r == nil {
				return
			}
			logger.Debug("retrying throttled request",
				zap.String("url", r.Request.URL),
				zap.Int("attempt", r.Request.Attempt),
				zap.Int("status", r.StatusCode()))
		})

	switch {
	case cfg.Token != "":
		rc.SetAuthToken(cfg.Token)
	case cfg.Username != "":
		rc.SetBasicAuth(cfg.Username, cfg.Password)
	}

	c := &Client{http: rc, logger: logger}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1)
	}
	return c
}

// untilReset waits for the advertised window reset. A zero result lets
// resty fall back to jittered exponential backoff; values are clamped to
// the configured bounds.
func untilReset(_ *resty.Client, r *resty.Response) (time.Duration, error) {
	if r == nil {
		return 0, nil
	}
	if v := r.Header().Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second, nil
		}
	}
	rl, ok := ParseRateLimit(r.Header())
	if !ok || rl.Reset.IsZero() {
		return 0, nil
	}
	if d := time.Until(rl.Reset); d > 0 {
		return d, nil
	}
	return 0, nil
}

// ParseRateLimit reads the X-RateLimit-* headers. ok is false when the
// response carried none of them.
func ParseRateLimit(h http.Header) (RateLimit, bool) {
	var rl RateLimit
	found := false
	if v, err := strconv.Atoi(h.Get(headerLimit)); err == nil {
		rl.Limit = v
		found = true
	}
	if v, err := strconv.Atoi(h.Get(headerRemaining)); err == nil {
		rl.Remaining = v
		found = true
	}
	if v, err := strconv.ParseInt(h.Get(headerReset), 10, 64); err == nil {
		rl.Reset = time.Unix(v, 0)
		found = true
	}
	return rl, found
}

// Get sends GET path, pacing and retrying as configured.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, c.http.R().SetContext(ctx), http.MethodGet, path)
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, path string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	r, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	resp := &Response{
		StatusCode: r.StatusCode(),
		Body:       r.Body(),
		Attempts:   r.Request.Attempt,
	}
	resp.RateLimit, _ = ParseRateLimit(r.Header())

	if r.StatusCode() == http.StatusTooManyRequests {
		c.logger.Warn("request throttled after retries",
			zap.String("path", path),
			zap.Int("attempts", resp.Attempts))
		return resp, ErrRetriesExhausted
	}
	return resp, nil
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// FetchToken exchanges the configured credentials for a bearer token.
func (c *Client) FetchToken(ctx context.Context) (string, time.Duration, error) {
	var out tokenResponse
	resp, err := c.do(ctx, c.http.R().SetContext(ctx).SetResult(&out), http.MethodGet, "/api/v1/auth/token")
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return out.Token, time.Duration(out.ExpiresIn) * time.Second, nil
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account. An existing username yields
// goGate.ErrIdentityExists.
func (c *Client) Register(ctx context.Context, username, password string) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(registerRequest{Username: username, Password: password})

	resp, err := c.do(ctx, req, http.MethodPost, "/api/v1/users")
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusCreated:
		return nil
	case http.StatusOK:
		return goGate.ErrIdentityExists
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// Run sends n GET requests to path, calling fn after each. It stops at the
// first transport error or when ctx is done; throttled calls are reported
// to fn and do not stop the run.
func (c *Client) Run(ctx context.Context, path string, n int, fn func(i int, resp *Response, err error)) error {
	for i := 0; i < n; i++ {
		resp, err := c.Get(ctx, path)
		if err != nil && !errors.Is(err, ErrRetriesExhausted) {
			return err
		}
		if fn != nil {
			fn(i, resp, err)
		}
	}
	return nil
}
