package registry

import (
	"fmt"
	"strings"

	"autoblog/internal/apperr"
	"autoblog/internal/providers"
	"autoblog/internal/providers/anthropic_messages"
	"autoblog/internal/providers/gemini"
	"autoblog/internal/providers/openai_compat"
)

// Build returns the adapter for p. A missing API key is a configuration error.
func Build(p providers.Provider, cfg providers.ClientConfig) (providers.Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.Config("registry.build", fmt.Sprintf("%s api key is not configured", p))
	}
	switch p {
	case providers.Claude:
		return anthropic_messages.New(cfg), nil
	case providers.OpenAI:
		return openai_compat.NewOpenAI(cfg), nil
	case providers.Grok:
		return openai_compat.NewGrok(cfg), nil
	case providers.Gemini:
		return gemini.New(cfg), nil
	default:
		return nil, apperr.Config("registry.build", fmt.Sprintf("unsupported provider %q", p))
	}
}
