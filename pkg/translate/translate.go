// Package translate provides best-effort translation of search queries
// to English. Backends are selected at startup; callers treat any failure
// as non-fatal and fall back to the untranslated text.
package translate

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the translation backend could not be reached or
// rejected the request.
var ErrUnavailable = errors.New("translation backend unavailable")

// Translator converts text in any language to English.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}
