package vecindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/viant/vec/search"
)

// Flat is an exhaustive in-memory cosine index. Vectors keep their insertion
// order as positions; magnitudes are precomputed at insert time.
type Flat struct {
	dim  int
	vecs [][]float32
	mags []float32
}

var _ Index = (*Flat)(nil)

// NewFlat creates an empty flat index over vectors of the given dimension.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// Add appends a vector at the next position.
func (f *Flat) Add(vec []float32) error {
	if len(vec) != f.dim {
		return fmt.Errorf("vecindex: add: %w: got %d, want %d", ErrDimMismatch, len(vec), f.dim)
	}
	f.vecs = append(f.vecs, vec)
	f.mags = append(f.mags, search.Float32s(vec).Magnitude())
	return nil
}

// Search returns the k most similar vectors, best first.
func (f *Flat) Search(_ context.Context, vec []float32, k int) ([]Hit, error) {
	if len(vec) != f.dim {
		return nil, fmt.Errorf("vecindex: search: %w: got %d, want %d", ErrDimMismatch, len(vec), f.dim)
	}
	qm := search.Float32s(vec).Magnitude()
	if qm == 0 {
		return nil, fmt.Errorf("vecindex: search: %w", ErrZeroVector)
	}
	if k > len(f.vecs) {
		k = len(f.vecs)
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	q := search.Float32s(vec)
	hits := make([]Hit, 0, len(f.vecs))
	for i, stored := range f.vecs {
		m := f.mags[i]
		if m == 0 {
			// zero vectors have no direction to compare against
			continue
		}
		dist := q.CosineDistanceWithMagnitude(stored, qm, m)
		hits = append(hits, Hit{Pos: i, Score: 1 - dist})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int { return len(f.vecs) }

// Dim returns the vector dimension.
func (f *Flat) Dim() int { return f.dim }

// Close is a no-op for the in-memory index.
func (f *Flat) Close() error { return nil }
