package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"autoblog/internal/apperr"
)

type Provider string

const (
	Claude Provider = "claude"
	OpenAI Provider = "openai"
	Gemini Provider = "gemini"
	Grok   Provider = "grok"
)

// Priority is the order used when no usable primary provider is configured.
var Priority = []Provider{Claude, OpenAI, Gemini, Grok}

func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claude", "anthropic":
		return Claude, nil
	case "openai":
		return OpenAI, nil
	case "gemini", "google":
		return Gemini, nil
	case "grok", "xai":
		return Grok, nil
	default:
		return "", apperr.Config("providers.parse", fmt.Sprintf("unknown provider %q", s))
	}
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages    []ChatMessage
	Model       string
	MaxTokens   *int
	Temperature *float64
}

func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return apperr.Validation("chat.request", "at least one message is required")
	}
	for _, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return apperr.Validation("chat.request", fmt.Sprintf("unsupported role %q", m.Role))
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return apperr.Validation("chat.request", "temperature must be within [0, 2]")
	}
	if r.MaxTokens != nil && *r.MaxTokens < 0 {
		return apperr.Validation("chat.request", "max_tokens must not be negative")
	}
	return nil
}

type ChatResponse struct {
	Content      string
	Model        string
	TokensUsed   *int
	FinishReason *string
	Provider     Provider
	Raw          map[string]any
}

// ClientConfig is read-only after construction.
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

const (
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
)

func DefaultModel(p Provider) string {
	switch p {
	case Claude:
		return "claude-3-sonnet-20240229"
	case OpenAI:
		return "gpt-4o"
	case Gemini:
		return "gemini-1.5-pro"
	case Grok:
		return "grok-beta"
	default:
		return ""
	}
}

func DefaultBaseURL(p Provider) string {
	switch p {
	case Claude:
		return "https://api.anthropic.com"
	case OpenAI:
		return "https://api.openai.com"
	case Gemini:
		return "https://generativelanguage.googleapis.com"
	case Grok:
		return "https://api.x.ai"
	default:
		return ""
	}
}

// WithDefaults fills empty model, base url, token budget and timeout for p.
func (c ClientConfig) WithDefaults(p Provider) ClientConfig {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel(p)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL(p)
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func (c ClientConfig) ModelFor(req ChatRequest) string {
	if strings.TrimSpace(req.Model) != "" {
		return req.Model
	}
	return c.Model
}

func (c ClientConfig) MaxTokensFor(req ChatRequest) int {
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		return *req.MaxTokens
	}
	return c.MaxTokens
}

// TemperatureFor distinguishes an unset request temperature from an explicit 0.
func (c ClientConfig) TemperatureFor(req ChatRequest) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return c.Temperature
}

// Adapter translates between the neutral chat shape and one vendor's wire format.
type Adapter interface {
	Provider() Provider
	Config() ClientConfig
	Format(req ChatRequest) (map[string]any, error)
	Parse(body []byte) ChatResponse
	Headers() map[string]string
	Generate(ctx context.Context, hc *http.Client, req ChatRequest) (ChatResponse, error)
}

// SplitSystem pulls system messages out of msgs, joined by a blank line.
func SplitSystem(msgs []ChatMessage) (string, []ChatMessage) {
	var system []string
	rest := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func Int(v int) *int           { return &v }
func Float(v float64) *float64 { return &v }
func String(v string) *string  { return &v }
