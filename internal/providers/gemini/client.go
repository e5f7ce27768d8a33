package gemini

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"autoblog/internal/providers"
)

type Adapter struct {
	cfg providers.ClientConfig
}

func New(cfg providers.ClientConfig) *Adapter {
	return &Adapter{cfg: cfg.WithDefaults(providers.Gemini)}
}

var _ providers.Adapter = (*Adapter)(nil)

func (a *Adapter) Provider() providers.Provider   { return providers.Gemini }
func (a *Adapter) Config() providers.ClientConfig { return a.cfg }

// Headers carries the key in x-goog-api-key so it never appears in a URL.
func (a *Adapter) Headers() map[string]string {
	return map[string]string{
		"Content-Type":   "application/json",
		"x-goog-api-key": a.cfg.APIKey,
	}
}

func (a *Adapter) Format(req providers.ChatRequest) (map[string]any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	system, rest := providers.SplitSystem(req.Messages)
	contents := make([]map[string]any, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == providers.RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]string{{"text": m.Content}},
		})
	}
	payload := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":     a.cfg.TemperatureFor(req),
			"maxOutputTokens": a.cfg.MaxTokensFor(req),
		},
	}
	if system != "" {
		payload["systemInstruction"] = map[string]any{
			"parts": []map[string]string{{"text": system}},
		}
	}
	return payload, nil
}

func (a *Adapter) Parse(body []byte) providers.ChatResponse {
	out := providers.ChatResponse{
		Content:  gjson.GetBytes(body, "candidates.0.content.parts.0.text").String(),
		Model:    a.cfg.Model,
		Provider: providers.Gemini,
		Raw:      providers.DecodeRaw(body),
	}
	if v := gjson.GetBytes(body, "modelVersion"); v.Type == gjson.String && v.String() != "" {
		out.Model = v.String()
	}
	if tokens := gjson.GetBytes(body, "usageMetadata.candidatesTokenCount"); tokens.Exists() {
		out.TokensUsed = providers.Int(int(tokens.Int()))
	}
	if reason := gjson.GetBytes(body, "candidates.0.finishReason"); reason.Type == gjson.String {
		out.FinishReason = providers.String(reason.String())
	}
	return out
}

func (a *Adapter) Generate(ctx context.Context, hc *http.Client, req providers.ChatRequest) (providers.ChatResponse, error) {
	payload, err := a.Format(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	endpoint := a.cfg.BaseURL + "/v1beta/models/" + url.PathEscape(a.cfg.ModelFor(req)) + ":generateContent"
	body, err := providers.PostJSON(ctx, hc, "gemini.generate", endpoint, nil, a.Headers(), payload)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return a.Parse(body), nil
}
