package aiclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autoblog/internal/metrics"
	"autoblog/internal/providers"
	"autoblog/internal/retry"
)

type Config struct {
	Adapter providers.Adapter
	Retry   retry.Policy
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// NewHTTPClient overrides transport construction, mainly for tests.
	NewHTTPClient func(timeout time.Duration) *http.Client
}

// Client wraps one adapter with a scoped HTTP transport. The transport is
// created on first Open and torn down when the last holder calls Close.
type Client struct {
	adapter       providers.Adapter
	policy        retry.Policy
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	newHTTPClient func(timeout time.Duration) *http.Client

	mu   sync.Mutex
	refs int
	hc   *http.Client
}

func New(cfg Config) *Client {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.NewHTTPClient == nil {
		cfg.NewHTTPClient = defaultHTTPClient
	}
	p := cfg.Adapter.Provider()
	return &Client{
		adapter:       cfg.Adapter,
		policy:        cfg.Retry,
		logger:        cfg.Logger.With().Str("provider", string(p)).Logger(),
		metrics:       m,
		newHTTPClient: cfg.NewHTTPClient,
	}
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}
}

func (c *Client) Provider() providers.Provider { return c.adapter.Provider() }

// Open acquires the transport, creating it if no holder exists.
func (c *Client) Open() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hc == nil {
		c.hc = c.newHTTPClient(c.adapter.Config().Timeout)
		c.logger.Debug().Msg("transport opened")
	}
	c.refs++
	return c.hc
}

// Close releases one hold on the transport. Extra calls are ignored.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return
	}
	c.refs--
	if c.refs > 0 {
		return
	}
	c.hc.CloseIdleConnections()
	c.hc = nil
	c.logger.Debug().Msg("transport closed")
}

// Active reports whether a transport is currently held.
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hc != nil
}

func (c *Client) Generate(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	hc := c.Open()
	defer c.Close()

	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying provider call")
	}

	started := time.Now()
	resp, err := retry.DoValue(ctx, policy, func(ctx context.Context) (providers.ChatResponse, error) {
		return c.adapter.Generate(ctx, hc, req)
	})
	c.metrics.ProviderRequests.WithLabelValues(string(c.adapter.Provider()), metrics.Outcome(err)).Inc()
	if err != nil {
		c.logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("provider call failed")
		return providers.ChatResponse{}, err
	}
	resp.Provider = c.adapter.Provider()
	c.logger.Debug().Str("model", resp.Model).Dur("elapsed", time.Since(started)).Msg("provider call completed")
	return resp, nil
}
