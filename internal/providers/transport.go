package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"autoblog/internal/apperr"
)

const maxResponseBytes = 4 << 20

// PostJSON sends payload to endpoint and returns the raw 2xx body.
// Non-2xx responses become classified *apperr.Error values.
func PostJSON(ctx context.Context, hc *http.Client, op, endpoint string, query url.Values, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, fmt.Errorf("marshal payload: %w", err))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, op, fmt.Errorf("build request: %w", err))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperr.Transport(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.Transport(op, fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.FromStatus(op, resp.StatusCode, respBody)
	}
	return respBody, nil
}

// DecodeRaw keeps the vendor payload for callers that need fields the
// neutral response does not carry. Undecodable bodies yield an empty map.
func DecodeRaw(body []byte) map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(body, &out)
	return out
}
