package aiclient

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"autoblog/internal/apperr"
	"autoblog/internal/providers"
)

type fakeGenerator struct {
	provider providers.Provider
	err      error
	calls    int
}

func (f *fakeGenerator) Provider() providers.Provider { return f.provider }

func (f *fakeGenerator) Generate(context.Context, providers.ChatRequest) (providers.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return providers.ChatResponse{}, f.err
	}
	// Deliberately untagged; the dispatcher owns attribution.
	return providers.ChatResponse{Content: "from " + string(f.provider)}, nil
}

func newTestDispatcher(gens ...*fakeGenerator) *Dispatcher {
	d := NewDispatcher(zerolog.Nop(), nil)
	for _, g := range gens {
		d.Register(g)
	}
	return d
}

func userRequest() providers.ChatRequest {
	return providers.ChatRequest{Messages: []providers.ChatMessage{{Role: providers.RoleUser, Content: "hi"}}}
}

func TestFallbackReturnsFirstSuccessInRegistrationOrder(t *testing.T) {
	a := &fakeGenerator{provider: providers.Claude, err: errors.New("a failed")}
	b := &fakeGenerator{provider: providers.OpenAI, err: errors.New("b failed")}
	c := &fakeGenerator{provider: providers.Gemini}
	d := newTestDispatcher(a, b, c)

	resp, err := d.Generate(context.Background(), userRequest(), WithProvider(providers.Claude))
	require.NoError(t, err)
	require.Equal(t, providers.Gemini, resp.Provider)
	require.Equal(t, "from gemini", resp.Content)
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
	require.Equal(t, 1, c.calls)
}

func TestAllFailingReturnsTargetError(t *testing.T) {
	errA := errors.New("a failed")
	a := &fakeGenerator{provider: providers.Claude, err: errA}
	b := &fakeGenerator{provider: providers.OpenAI, err: errors.New("b failed")}
	c := &fakeGenerator{provider: providers.Gemini, err: errors.New("c failed")}
	d := newTestDispatcher(a, b, c)

	_, err := d.Generate(context.Background(), userRequest(), WithProvider(providers.Claude))
	require.Same(t, errA, err)
}

func TestFallbackSkipsTargetAndKeepsOrder(t *testing.T) {
	a := &fakeGenerator{provider: providers.Claude}
	b := &fakeGenerator{provider: providers.OpenAI, err: errors.New("b failed")}
	c := &fakeGenerator{provider: providers.Gemini}
	d := newTestDispatcher(a, b, c)

	resp, err := d.Generate(context.Background(), userRequest(), WithProvider(providers.OpenAI))
	require.NoError(t, err)
	require.Equal(t, providers.Claude, resp.Provider)
	require.Equal(t, 0, c.calls)
	require.Equal(t, 1, b.calls)
}

func TestWithoutFallbackPropagatesUnchanged(t *testing.T) {
	errA := apperr.FromStatus("claude.generate", 500, nil)
	a := &fakeGenerator{provider: providers.Claude, err: errA}
	b := &fakeGenerator{provider: providers.OpenAI}
	d := newTestDispatcher(a, b)

	_, err := d.Generate(context.Background(), userRequest(), WithoutFallback())
	require.Same(t, errA, err)
	require.Equal(t, 0, b.calls)
}

func TestSingleProviderDoesNotFallback(t *testing.T) {
	errA := errors.New("only one")
	d := newTestDispatcher(&fakeGenerator{provider: providers.Grok, err: errA})

	_, err := d.Generate(context.Background(), userRequest())
	require.Same(t, errA, err)
}

func TestPrimaryDefaultsToFirstRegistered(t *testing.T) {
	d := newTestDispatcher(
		&fakeGenerator{provider: providers.OpenAI},
		&fakeGenerator{provider: providers.Claude},
	)
	require.Equal(t, providers.OpenAI, d.Primary())

	resp, err := d.Generate(context.Background(), userRequest())
	require.NoError(t, err)
	require.Equal(t, providers.OpenAI, resp.Provider)

	require.NoError(t, d.SetPrimary(providers.Claude))
	require.Equal(t, providers.Claude, d.Primary())
	require.True(t, apperr.Is(d.SetPrimary(providers.Gemini), apperr.KindConfig))
}

func TestUnconfiguredTargetIsConfigError(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.Generate(context.Background(), userRequest())
	require.True(t, apperr.Is(err, apperr.KindConfig))

	d.Register(&fakeGenerator{provider: providers.Claude})
	_, err = d.Generate(context.Background(), userRequest(), WithProvider(providers.Grok))
	require.True(t, apperr.Is(err, apperr.KindConfig))
}

func TestSelectProvider(t *testing.T) {
	only := func(ps ...providers.Provider) func(providers.Provider) bool {
		return func(p providers.Provider) bool {
			for _, x := range ps {
				if x == p {
					return true
				}
			}
			return false
		}
	}

	p, err := SelectProvider(providers.Grok, providers.Claude, only(providers.Grok, providers.Claude))
	require.NoError(t, err)
	require.Equal(t, providers.Grok, p)

	p, err = SelectProvider("", providers.OpenAI, only(providers.OpenAI, providers.Claude))
	require.NoError(t, err)
	require.Equal(t, providers.OpenAI, p)

	p, err = SelectProvider("", providers.Claude, only(providers.Gemini, providers.Grok))
	require.NoError(t, err)
	require.Equal(t, providers.Gemini, p)

	_, err = SelectProvider("", providers.Claude, only())
	require.True(t, apperr.Is(err, apperr.KindConfig))

	_, err = SelectProvider(providers.OpenAI, "", only(providers.Claude))
	require.True(t, apperr.Is(err, apperr.KindConfig))
}

func TestFromConfigRegistersCredentialedInPriorityOrder(t *testing.T) {
	d, err := FromConfig(map[providers.Provider]providers.ClientConfig{
		providers.Grok:   {APIKey: "x"},
		providers.OpenAI: {APIKey: "o"},
		providers.Claude: {},
	}, providers.Claude, Config{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.Equal(t, []providers.Provider{providers.OpenAI, providers.Grok}, d.Providers())
	require.Equal(t, providers.OpenAI, d.Primary())
}
