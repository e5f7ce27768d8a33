package aiclient

import (
	"autoblog/internal/apperr"
	"autoblog/internal/providers"
)

// SelectProvider resolves which provider a generation should target:
// an explicit request wins, then the preferred primary if it has
// credentials, then the first credentialed entry of providers.Priority.
func SelectProvider(explicit, preferred providers.Provider, configured func(providers.Provider) bool) (providers.Provider, error) {
	if explicit != "" {
		if !configured(explicit) {
			return "", apperr.Config("select_provider", "requested provider "+string(explicit)+" has no credentials")
		}
		return explicit, nil
	}
	if preferred != "" && configured(preferred) {
		return preferred, nil
	}
	for _, p := range providers.Priority {
		if configured(p) {
			return p, nil
		}
	}
	return "", apperr.Config("select_provider", "no AI provider has credentials configured")
}
