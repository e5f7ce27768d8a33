package aiclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"autoblog/internal/apperr"
	"autoblog/internal/metrics"
	"autoblog/internal/providers"
	"autoblog/internal/providers/registry"
)

// Generator is the capability the dispatcher needs from a registered client.
type Generator interface {
	Provider() providers.Provider
	Generate(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error)
}

type Dispatcher struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	order   []providers.Provider
	clients map[providers.Provider]Generator
	primary providers.Provider
}

func NewDispatcher(logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.Global()
	}
	return &Dispatcher{
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		metrics: m,
		clients: map[providers.Provider]Generator{},
	}
}

// Register adds or replaces g. Registration order drives fallback order.
func (d *Dispatcher) Register(g Generator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := g.Provider()
	if _, ok := d.clients[p]; !ok {
		d.order = append(d.order, p)
	}
	d.clients[p] = g
}

func (d *Dispatcher) SetPrimary(p providers.Provider) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.clients[p]; !ok {
		return apperr.Config("dispatcher.set_primary", fmt.Sprintf("provider %s is not configured", p))
	}
	d.primary = p
	return nil
}

// Primary returns the explicit primary, or the first registered provider.
func (d *Dispatcher) Primary() providers.Provider {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.primary != "" {
		return d.primary
	}
	if len(d.order) > 0 {
		return d.order[0]
	}
	return ""
}

func (d *Dispatcher) Providers() []providers.Provider {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]providers.Provider, len(d.order))
	copy(out, d.order)
	return out
}

func (d *Dispatcher) Configured(p providers.Provider) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.clients[p]
	return ok
}

type options struct {
	provider providers.Provider
	noFallback bool
}

type Option func(*options)

func WithProvider(p providers.Provider) Option {
	return func(o *options) { o.provider = p }
}

func WithoutFallback() Option {
	return func(o *options) { o.noFallback = true }
}

// Generate calls the target provider and, on failure, each other provider
// once in registration order. If every attempt fails the target's error is
// returned.
func (d *Dispatcher) Generate(ctx context.Context, req providers.ChatRequest, opts ...Option) (providers.ChatResponse, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	target := o.provider
	if target == "" {
		target = d.Primary()
	}
	if target == "" {
		return providers.ChatResponse{}, apperr.Config("dispatcher.generate", "no AI provider is configured")
	}

	d.mu.RLock()
	client, ok := d.clients[target]
	order := make([]providers.Provider, len(d.order))
	copy(order, d.order)
	clients := make(map[providers.Provider]Generator, len(d.clients))
	for k, v := range d.clients {
		clients[k] = v
	}
	d.mu.RUnlock()
	if !ok {
		return providers.ChatResponse{}, apperr.Config("dispatcher.generate", fmt.Sprintf("provider %s is not configured", target))
	}

	resp, err := client.Generate(ctx, req)
	if err == nil {
		resp.Provider = target
		return resp, nil
	}
	if o.noFallback || len(order) < 2 {
		return providers.ChatResponse{}, err
	}

	log := d.logger.With().Str("target", string(target)).Logger()
	log.Warn().Err(err).Msg("target provider failed, trying fallbacks")
	for _, p := range order {
		if p == target {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		d.metrics.ProviderFallbacks.WithLabelValues(string(target), string(p)).Inc()
		alt, altErr := clients[p].Generate(ctx, req)
		if altErr == nil {
			alt.Provider = p
			log.Info().Str("fallback", string(p)).Msg("fallback provider succeeded")
			return alt, nil
		}
		log.Warn().Err(altErr).Str("fallback", string(p)).Msg("fallback provider failed")
	}
	return providers.ChatResponse{}, err
}

// FromConfig registers a client for every provider with an API key, in
// providers.Priority order, and applies primary when it is registered.
func FromConfig(cfgs map[providers.Provider]providers.ClientConfig, primary providers.Provider, cc Config) (*Dispatcher, error) {
	d := NewDispatcher(cc.Logger, cc.Metrics)
	for _, p := range providers.Priority {
		pc, ok := cfgs[p]
		if !ok || pc.APIKey == "" {
			continue
		}
		adapter, err := registry.Build(p, pc)
		if err != nil {
			return nil, fmt.Errorf("build %s adapter: %w", p, err)
		}
		clientCfg := cc
		clientCfg.Adapter = adapter
		d.Register(New(clientCfg))
	}
	if primary != "" && d.Configured(primary) {
		if err := d.SetPrimary(primary); err != nil {
			return nil, err
		}
	}
	return d, nil
}
