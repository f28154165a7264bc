package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pemistahl/lingua-go"
)

// Libre translates text using a LibreTranslate server. A local language
// detector short-circuits the call: text already in English is returned
// unchanged without touching the network.
type Libre struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	detector lingua.LanguageDetector
}

// NewLibre creates a LibreTranslate-backed translator. apiKey may be empty
// for servers that do not require one.
func NewLibre(baseURL, apiKey string) *Libre {
	return &Libre{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		client:   &http.Client{},
		detector: lingua.NewLanguageDetectorBuilder().FromAllLanguages().Build(),
	}
}

type libreReq struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResp struct {
	TranslatedText string `json:"translatedText"`
}

// Translate converts text to English via POST /translate. When the detector
// identifies the source language it is passed along; otherwise the server
// auto-detects.
func (l *Libre) Translate(ctx context.Context, text string) (string, error) {
	source := "auto"
	if lang, ok := l.detector.DetectLanguageOf(text); ok {
		if lang == lingua.English {
			return text, nil
		}
		source = strings.ToLower(lang.IsoCode639_1().String())
	}

	body, _ := json.Marshal(libreReq{Q: text, Source: source, Target: "en", Format: "text", APIKey: l.apiKey})
	req, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("libretranslate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("libretranslate: status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var result libreResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("libretranslate decode: %w", err)
	}
	return result.TranslatedText, nil
}
