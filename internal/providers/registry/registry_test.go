package registry

import (
	"testing"

	"autoblog/internal/apperr"
	"autoblog/internal/providers"
)

func TestBuildEveryProvider(t *testing.T) {
	for _, p := range providers.Priority {
		a, err := Build(p, providers.ClientConfig{APIKey: "k"})
		if err != nil {
			t.Fatalf("build %s: %v", p, err)
		}
		if a.Provider() != p {
			t.Fatalf("expected adapter for %s, got %s", p, a.Provider())
		}
		if a.Config().Model != providers.DefaultModel(p) {
			t.Fatalf("expected default model for %s, got %q", p, a.Config().Model)
		}
	}
}

func TestBuildWithoutKey(t *testing.T) {
	_, err := Build(providers.Claude, providers.ClientConfig{})
	if !apperr.Is(err, apperr.KindConfig) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuildUnknownProvider(t *testing.T) {
	_, err := Build(providers.Provider("mistral"), providers.ClientConfig{APIKey: "k"})
	if !apperr.Is(err, apperr.KindConfig) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
