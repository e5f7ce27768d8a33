package openai_compat

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"autoblog/internal/apperr"
	"autoblog/internal/providers"
)

// Adapter speaks the chat-completions dialect shared by OpenAI and xAI Grok.
type Adapter struct {
	provider providers.Provider
	cfg      providers.ClientConfig
}

func NewOpenAI(cfg providers.ClientConfig) *Adapter {
	return &Adapter{provider: providers.OpenAI, cfg: cfg.WithDefaults(providers.OpenAI)}
}

func NewGrok(cfg providers.ClientConfig) *Adapter {
	return &Adapter{provider: providers.Grok, cfg: cfg.WithDefaults(providers.Grok)}
}

var _ providers.Adapter = (*Adapter)(nil)

func (a *Adapter) Provider() providers.Provider   { return a.provider }
func (a *Adapter) Config() providers.ClientConfig { return a.cfg }

func (a *Adapter) Headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + a.cfg.APIKey,
		"Content-Type":  "application/json",
	}
}

// Format keeps system messages inline; the dialect has no separate field.
func (a *Adapter) Format(req providers.ChatRequest) (map[string]any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	payload := map[string]any{
		"model":       a.cfg.ModelFor(req),
		"messages":    messages,
		"max_tokens":  a.cfg.MaxTokensFor(req),
		"temperature": a.cfg.TemperatureFor(req),
	}
	if a.provider == providers.Grok {
		payload["stream"] = false
	}
	return payload, nil
}

func (a *Adapter) Parse(body []byte) providers.ChatResponse {
	out := providers.ChatResponse{
		Content:  anyToText(gjson.GetBytes(body, "choices.0.message.content")),
		Model:    gjson.GetBytes(body, "model").String(),
		Provider: a.provider,
		Raw:      providers.DecodeRaw(body),
	}
	if out.Content == "" {
		out.Content = gjson.GetBytes(body, "choices.0.text").String()
	}
	if tokens := gjson.GetBytes(body, "usage.completion_tokens"); tokens.Exists() {
		out.TokensUsed = providers.Int(int(tokens.Int()))
	}
	if reason := gjson.GetBytes(body, "choices.0.finish_reason"); reason.Type == gjson.String {
		out.FinishReason = providers.String(reason.String())
	}
	return out
}

func (a *Adapter) Generate(ctx context.Context, hc *http.Client, req providers.ChatRequest) (providers.ChatResponse, error) {
	payload, err := a.Format(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	endpoint, err := a.buildEndpointURL()
	if err != nil {
		return providers.ChatResponse{}, err
	}
	body, err := providers.PostJSON(ctx, hc, string(a.provider)+".generate", endpoint, nil, a.Headers(), payload)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return a.Parse(body), nil
}

func (a *Adapter) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(a.cfg.BaseURL)
	if base == "" {
		return "", apperr.Config(string(a.provider)+".endpoint", "base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfig, string(a.provider)+".endpoint", err)
	}
	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	u.Path = path + "/chat/completions"
	return u.String(), nil
}

// anyToText accepts both string content and the array-of-parts form.
func anyToText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	if !v.IsArray() {
		return ""
	}
	parts := make([]string, 0)
	for _, item := range v.Array() {
		if txt := item.Get("text"); txt.Type == gjson.String {
			parts = append(parts, txt.String())
		}
	}
	return strings.Join(parts, "\n")
}
