package embed

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAI embeds text through any OpenAI-compatible embeddings API
// (OpenAI itself, Ollama's /v1, LocalAI, vLLM).
type OpenAI struct {
	embedder embeddings.Embedder
}

// NewOpenAI creates an embedding client for an OpenAI-compatible endpoint.
// Local services that skip authentication accept the "none" token used when
// token is empty.
func NewOpenAI(baseURL, token, model string) (*OpenAI, error) {
	if token == "" {
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	return &OpenAI{embedder: embedder}, nil
}

// Embed returns the embedding vector for a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch returns embedding vectors for all texts in a single call.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embed batch: %w", err)
	}
	return vecs, nil
}
