package openai_compat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"autoblog/internal/apperr"
	"autoblog/internal/providers"
)

func sampleRequest() providers.ChatRequest {
	return providers.ChatRequest{
		Messages: []providers.ChatMessage{
			{Role: providers.RoleSystem, Content: "You are concise"},
			{Role: providers.RoleUser, Content: "hello"},
			{Role: providers.RoleAssistant, Content: "hi"},
			{Role: providers.RoleUser, Content: "write a post"},
		},
	}
}

func TestFormatKeepsMessagesInline(t *testing.T) {
	a := NewOpenAI(providers.ClientConfig{APIKey: "k", Temperature: 0.7})

	payload, err := a.Format(sampleRequest())
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if payload["model"] != "gpt-4o" {
		t.Fatalf("expected default model gpt-4o, got %#v", payload["model"])
	}
	if payload["max_tokens"] != providers.DefaultMaxTokens {
		t.Fatalf("expected default max_tokens, got %#v", payload["max_tokens"])
	}
	if _, ok := payload["stream"]; ok {
		t.Fatalf("openai payload must not carry stream flag")
	}

	msgs := payload["messages"].([]map[string]string)
	want := sampleRequest().Messages
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, m := range want {
		if msgs[i]["role"] != string(m.Role) || msgs[i]["content"] != m.Content {
			t.Fatalf("message %d mismatch: %#v", i, msgs[i])
		}
	}
}

func TestFormatZeroTemperatureIsKept(t *testing.T) {
	a := NewGrok(providers.ClientConfig{APIKey: "k", Temperature: 0.7})
	req := sampleRequest()
	req.Temperature = providers.Float(0)
	req.MaxTokens = providers.Int(123)

	payload, err := a.Format(req)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if payload["temperature"] != 0.0 {
		t.Fatalf("expected explicit temperature 0, got %#v", payload["temperature"])
	}
	if payload["max_tokens"] != 123 {
		t.Fatalf("expected max_tokens override, got %#v", payload["max_tokens"])
	}
	if payload["stream"] != false {
		t.Fatalf("grok payload must disable streaming")
	}
	if payload["model"] != "grok-beta" {
		t.Fatalf("unexpected grok model %#v", payload["model"])
	}
}

func TestParseDegradesOnMissingFields(t *testing.T) {
	a := NewOpenAI(providers.ClientConfig{APIKey: "k"})

	resp := a.Parse([]byte(`{"model":"gpt-4o","choices":[]}`))
	if resp.Content != "" || resp.Model != "gpt-4o" || resp.Provider != providers.OpenAI {
		t.Fatalf("unexpected response %#v", resp)
	}
	if resp.TokensUsed != nil || resp.FinishReason != nil {
		t.Fatalf("expected absent optional fields")
	}

	resp = a.Parse([]byte(`not json`))
	if resp.Content != "" {
		t.Fatalf("expected empty content for garbage body")
	}
}

func TestParseArrayContent(t *testing.T) {
	a := NewOpenAI(providers.ClientConfig{APIKey: "k"})
	resp := a.Parse([]byte(`{"choices":[{"message":{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]},"finish_reason":"stop"}],"usage":{"completion_tokens":7}}`))
	if resp.Content != "a\nb" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.TokensUsed == nil || *resp.TokensUsed != 7 {
		t.Fatalf("expected tokens 7")
	}
	if resp.FinishReason == nil || *resp.FinishReason != "stop" {
		t.Fatalf("expected finish reason stop")
	}
}

func TestGenerateAgainstServer(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"model":"grok-beta","choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}],"usage":{"completion_tokens":3}}`))
	}))
	defer srv.Close()

	a := NewGrok(providers.ClientConfig{APIKey: "xai-key", BaseURL: srv.URL})
	resp, err := a.Generate(context.Background(), srv.Client(), sampleRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer xai-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["stream"] != false {
		t.Fatalf("expected stream=false in body")
	}
	if resp.Content != "done" || resp.Provider != providers.Grok {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestGenerateClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	a := NewOpenAI(providers.ClientConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	_, err := a.Generate(context.Background(), srv.Client(), sampleRequest())
	if !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestBuildEndpointURL(t *testing.T) {
	cases := []struct{ base, want string }{
		{base: "https://api.openai.com", want: "https://api.openai.com/v1/chat/completions"},
		{base: "https://api.x.ai/v1", want: "https://api.x.ai/v1/chat/completions"},
		{base: "https://proxy.local/v1/chat/completions", want: "https://proxy.local/v1/chat/completions"},
	}
	for _, tc := range cases {
		a := NewOpenAI(providers.ClientConfig{APIKey: "k", BaseURL: tc.base})
		got, err := a.buildEndpointURL()
		if err != nil {
			t.Fatalf("build endpoint for %q: %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("base %q: expected %q, got %q", tc.base, tc.want, got)
		}
	}
}
