package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Book is one incoming catalog record.
type Book struct {
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Labels    []string `json:"labels,omitempty"`
	ReadLevel string   `json:"read_level,omitempty"`
	Hyperlink string   `json:"hyperlink,omitempty"`
}

// payloadObj mirrors the catalog's canonical payload keys. Empty fields are
// omitted so the retrieval defaults apply.
type payloadObj struct {
	Title     string   `json:"Title"`
	Author    string   `json:"Author,omitempty"`
	Labels    []string `json:"Labels,omitempty"`
	ReadLevel string   `json:"Read Level,omitempty"`
	Hyperlink string   `json:"Hyperlink,omitempty"`
}

// Payload renders the book as a catalog payload string.
func (b Book) Payload() (string, error) {
	raw, err := json.Marshal(payloadObj{
		Title:     strings.TrimSpace(b.Title),
		Author:    strings.TrimSpace(b.Author),
		Labels:    b.Labels,
		ReadLevel: strings.TrimSpace(b.ReadLevel),
		Hyperlink: strings.TrimSpace(b.Hyperlink),
	})
	if err != nil {
		return "", fmt.Errorf("ingest: render payload: %w", err)
	}
	return string(raw), nil
}
