package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/monitoring"
	"github.com/voicelink/voicelink/internal/resilience"
)

// Client wraps resty with rate limiting and a circuit breaker for the
// remote telephony API. Failure backoff is owned by the poller, so the
// transport performs no retries of its own.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *logging.Logger
	metrics *monitoring.Metrics

	apiBase  string
	siteBase string

	mu      sync.RWMutex
	account string
	session string // _rnr_se token, refreshed with user data
}

// NewClient creates a client for the configured API endpoints.
func NewClient(cfg config.VoiceConfig, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NewDefault()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetTimeout(cfg.RequestTimeout).
		SetHeader("User-Agent", "voicelink/1.0")
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	breaker := resilience.New(resilience.Settings{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		OnStateChange: func(from, to resilience.State) {
			log.Warn("voice api circuit state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	return &Client{
		resty:    restyClient,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		breaker:  breaker,
		log:      log,
		apiBase:  cfg.APIBaseURL,
		siteBase: cfg.SiteBaseURL,
		account:  "0",
	}
}

// WithMetrics attaches a metrics registry.
func (c *Client) WithMetrics(m *monitoring.Metrics) *Client {
	c.metrics = m
	return c
}

// SetRateLimit configures the request rate in requests per second.
// Zero or negative disables limiting.
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// SetAccount selects the multi-account slot used in request paths.
func (c *Client) SetAccount(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if account == "" {
		account = "0"
	}
	c.account = account
}

// Account returns the active account slot.
func (c *Client) Account() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account
}

// SetSessionToken stores the _rnr_se token required by mutating calls.
func (c *Client) SetSessionToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = token
}

// SessionToken returns the current _rnr_se token.
func (c *Client) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// apiURL builds an API endpoint URL, selecting the account slot under
// the "b" path segment.
func (c *Client) apiURL(uri string) string {
	return fmt.Sprintf("%s/b/%s%s", c.apiBase, c.Account(), uri)
}

// SiteURL builds a user-facing site URL under the "u" path segment.
// The popup opens these in the browser rather than fetching them.
func (c *Client) SiteURL(uri string) string {
	return fmt.Sprintf("%s/u/%s%s", c.siteBase, c.Account(), uri)
}

// request creates a rate-limited request. An open breaker rejects
// immediately without consuming limiter tokens.
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if c.breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.resty.R().SetContext(ctx), nil
}

// execute runs one request through the breaker and records metrics.
func (c *Client) execute(endpoint string, fn func() (*resty.Response, error)) (*resty.Response, error) {
	start := time.Now()
	var resp *resty.Response
	err := c.breaker.Do(func() error {
		r, err := fn()
		if err != nil {
			return err
		}
		if r.StatusCode() >= 500 {
			return fmt.Errorf("%s: server error %d", endpoint, r.StatusCode())
		}
		resp = r
		return nil
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordAPICall(endpoint, status, time.Since(start))
	}
	if err != nil {
		c.log.Debug("api call failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return nil, err
	}
	return resp, nil
}
