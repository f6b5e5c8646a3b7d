package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"guidance/pkg/logx"
)

// Embedder turns query text into an embedding vector compatible with the
// vectors stored in the passage indexes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OpenAIEmbedder embeds queries with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder backed by the given model.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Embed requests an embedding for the text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	return resp.Data[0].Embedding, nil
}

// HashEmbedder produces deterministic embeddings from word hashes. The vectors
// are crude but stable, so retrieval stays functional without API access.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a hash embedder with the given vector size.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	return &HashEmbedder{dimensions: dimensions}
}

// Embed hashes each lowercased word into a bucket and normalizes the result
// to unit length.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	embedding := make([]float64, e.dimensions)

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return embedding, nil
	}

	weight := 1.0 / float64(len(words))
	for _, word := range words {
		h := fnv.New32a()
		h.Write([]byte(word))
		embedding[int(h.Sum32())%e.dimensions] += weight
	}

	var magnitude float64
	for _, v := range embedding {
		magnitude += v * v
	}
	magnitude = math.Sqrt(magnitude)
	if magnitude > 0 {
		for i := range embedding {
			embedding[i] /= magnitude
		}
	}

	return embedding, nil
}

// FallbackEmbedder tries a primary embedder and falls back to a secondary one
// when the primary fails.
type FallbackEmbedder struct {
	primary   Embedder
	secondary Embedder
	logger    *logx.Logger
}

// NewFallbackEmbedder composes a primary and secondary embedder.
func NewFallbackEmbedder(primary, secondary Embedder) *FallbackEmbedder {
	return &FallbackEmbedder{
		primary:   primary,
		secondary: secondary,
		logger:    logx.NewLogger("rag"),
	}
}

// Embed returns the primary embedding, or the secondary on primary failure.
func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	embedding, err := e.primary.Embed(ctx, text)
	if err == nil {
		return embedding, nil
	}
	e.logger.Warn("Primary embedder failed, using fallback: %v", err)
	return e.secondary.Embed(ctx, text)
}
