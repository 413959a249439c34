package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"pdfchat/internal/config"
	"pdfchat/internal/llmservice"
)

var (
	ErrZeroVector    = errors.New("embedding has zero norm")
	ErrCountMismatch = errors.New("embedding count does not match input")
)

// NewEmbedder creates a langchaingo embedder for the configured server.
func NewEmbedder(cfg config.LLMConfig) (embeddings.Embedder, error) {
	client, err := llmservice.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	// segments are embedded exactly as split
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// Encoder turns text into unit-length vectors.
type Encoder struct {
	embedder embeddings.Embedder
}

func NewEncoder(embedder embeddings.Embedder) *Encoder {
	return &Encoder{embedder: embedder}
}

// Embed prefixes every text and returns one normalized vector per text, in
// input order.
func (e *Encoder) Embed(ctx context.Context, texts []string, prefix string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = prefix + t
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d texts", ErrCountMismatch, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if err := Normalize(v); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	log.Debug().Int("texts", len(texts)).Int("dimension", len(vectors[0])).Msg("Embedded texts")
	return vectors, nil
}

func (e *Encoder) EmbedQuery(ctx context.Context, text, prefix string) ([]float32, error) {
	v, err := e.embedder.EmbedQuery(ctx, prefix+text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := Normalize(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Normalize scales v in place to unit L2 norm.
func Normalize(v []float32) error {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return ErrZeroVector
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return nil
}
