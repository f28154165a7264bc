package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultGoogleURL is the free web translation endpoint.
const DefaultGoogleURL = "https://translate.googleapis.com"

// Google translates text to English through the free web endpoint
// (translate_a/single, client=gtx). Calls are rate limited to stay polite;
// the endpoint throttles aggressive clients.
type Google struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewGoogle creates a Google translator. An empty baseURL selects
// DefaultGoogleURL.
func NewGoogle(baseURL string) *Google {
	if baseURL == "" {
		baseURL = DefaultGoogleURL
	}
	return &Google{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
	}
}

// Translate converts text to English. The source language is auto-detected
// by the endpoint.
func (g *Google) Translate(ctx context.Context, text string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	params := url.Values{
		"client": {"gtx"},
		"sl":     {"auto"},
		"tl":     {"en"},
		"dt":     {"t"},
		"q":      {text},
	}
	req, err := http.NewRequestWithContext(ctx, "GET", g.baseURL+"/translate_a/single?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("google translate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("google translate: status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("google translate read: %w", err)
	}
	out, err := parseGtx(body)
	if err != nil {
		return "", fmt.Errorf("google translate decode: %w", err)
	}
	return out, nil
}

// parseGtx extracts translated text from the endpoint's nested-array
// response: [[["<translated>","<original>",...],...],...]. Long inputs come
// back split over multiple segments; their first elements concatenate into
// the full translation.
func parseGtx(body []byte) (string, error) {
	var outer []any
	if err := json.Unmarshal(body, &outer); err != nil {
		return "", err
	}
	if len(outer) == 0 {
		return "", fmt.Errorf("empty response")
	}
	segments, ok := outer[0].([]any)
	if !ok {
		return "", fmt.Errorf("unexpected response shape")
	}
	var b strings.Builder
	for _, seg := range segments {
		parts, ok := seg.([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		if s, ok := parts[0].(string); ok {
			b.WriteString(s)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no translation segments")
	}
	return b.String(), nil
}
