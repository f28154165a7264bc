// Package embed provides text embedding clients for local and
// OpenAI-compatible model servers.
package embed

import "context"

// Embedder turns text into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
