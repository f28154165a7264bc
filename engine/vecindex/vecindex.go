// Package vecindex provides the vector index behind retrieval: a flat
// in-memory cosine index loaded from a SQLite artifact, and a Qdrant-backed
// remote alternative. Index positions line up one-to-one with catalog rows.
package vecindex

import (
	"context"
	"errors"

	"github.com/viant/vec/search"
)

// Hit is one search result: a catalog position and its cosine similarity.
type Hit struct {
	Pos   int
	Score float32
}

// Index is a searchable vector collection. Implementations return hits ranked
// best-first; a k beyond the collection size is capped, never padded.
type Index interface {
	Search(ctx context.Context, vec []float32, k int) ([]Hit, error)
	Len() int
	Dim() int
	Close() error
}

// Sentinel errors.
var (
	ErrDimMismatch = errors.New("vector dimension mismatch")
	ErrZeroVector  = errors.New("zero-magnitude vector")
)

// Normalize scales vec to unit length in place. Cosine similarity between
// unit vectors reduces to their dot product, so stored and query vectors are
// normalized the same way.
func Normalize(vec []float32) error {
	m := search.Float32s(vec).Magnitude()
	if m == 0 {
		return ErrZeroVector
	}
	for i := range vec {
		vec[i] /= m
	}
	return nil
}
