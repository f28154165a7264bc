// Package catalog stores the book corpus: a positional, read-only set of raw
// payload strings loaded from a CSV export, plus parsing of those payloads
// into displayable records. Positions in the store line up one-to-one with
// vector index positions.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record is the displayable metadata of one catalog entry. Field names match
// the public API response shape.
type Record struct {
	Title     string `json:"Title"`
	Author    string `json:"Author"`
	Labels    string `json:"Labels"`
	ReadLevel string `json:"Read Level"`
	Hyperlink string `json:"Hyperlink"`
}

// Store is a read-only positional payload store.
type Store struct {
	payloads []string
}

// Load reads a CSV file and returns a Store over its prompt column.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	s, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return s, nil
}

// Read parses CSV from r. The header row must contain a `prompt` column; it
// may sit at any position. Row order defines positions, starting at 0.
func Read(r io.Reader) (*Store, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := promptColumn(header)
	if col == -1 {
		return nil, ErrNoPromptColumn
	}

	var payloads []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(payloads)+1, err)
		}
		payloads = append(payloads, row[col])
	}
	return &Store{payloads: payloads}, nil
}

// promptColumn locates the prompt column in a header row, or returns -1.
func promptColumn(header []string) int {
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\uFEFF")
		}
		if strings.TrimSpace(name) == "prompt" {
			return i
		}
	}
	return -1
}

// Get returns the raw payload at pos.
func (s *Store) Get(pos int) (string, error) {
	if pos < 0 || pos >= len(s.payloads) {
		return "", fmt.Errorf("%w: %d (catalog size %d)", ErrOutOfRange, pos, len(s.payloads))
	}
	return s.payloads[pos], nil
}

// Len returns the number of rows in the store.
func (s *Store) Len() int {
	return len(s.payloads)
}
