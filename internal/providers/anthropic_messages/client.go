package anthropic_messages

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"autoblog/internal/providers"
)

const apiVersion = "2023-06-01"

type Adapter struct {
	cfg providers.ClientConfig
}

func New(cfg providers.ClientConfig) *Adapter {
	return &Adapter{cfg: cfg.WithDefaults(providers.Claude)}
}

var _ providers.Adapter = (*Adapter)(nil)

func (a *Adapter) Provider() providers.Provider   { return providers.Claude }
func (a *Adapter) Config() providers.ClientConfig { return a.cfg }

func (a *Adapter) Headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.cfg.APIKey,
		"anthropic-version": apiVersion,
		"content-type":      "application/json",
	}
}

// Format moves system messages into the top-level system field.
func (a *Adapter) Format(req providers.ChatRequest) (map[string]any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	system, rest := providers.SplitSystem(req.Messages)
	messages := make([]map[string]string, 0, len(rest))
	for _, m := range rest {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	payload := map[string]any{
		"model":       a.cfg.ModelFor(req),
		"max_tokens":  a.cfg.MaxTokensFor(req),
		"temperature": a.cfg.TemperatureFor(req),
		"messages":    messages,
	}
	if system != "" {
		payload["system"] = system
	}
	return payload, nil
}

func (a *Adapter) Parse(body []byte) providers.ChatResponse {
	out := providers.ChatResponse{
		Content:  gjson.GetBytes(body, "content.0.text").String(),
		Model:    gjson.GetBytes(body, "model").String(),
		Provider: providers.Claude,
		Raw:      providers.DecodeRaw(body),
	}
	if tokens := gjson.GetBytes(body, "usage.output_tokens"); tokens.Exists() {
		out.TokensUsed = providers.Int(int(tokens.Int()))
	}
	if reason := gjson.GetBytes(body, "stop_reason"); reason.Type == gjson.String {
		out.FinishReason = providers.String(reason.String())
	}
	return out
}

func (a *Adapter) Generate(ctx context.Context, hc *http.Client, req providers.ChatRequest) (providers.ChatResponse, error) {
	payload, err := a.Format(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	body, err := providers.PostJSON(ctx, hc, "claude.generate", a.cfg.BaseURL+"/v1/messages", nil, a.Headers(), payload)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return a.Parse(body), nil
}
