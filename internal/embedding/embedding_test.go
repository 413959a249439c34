package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/config"
	"pdfchat/internal/llmservice"
)

type fakeEmbedder struct {
	seen []string
	fn   func(text string) []float32
	err  error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		f.seen = append(f.seen, t)
		out[i] = f.fn(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestEmbedPrefixesAndNormalizes(t *testing.T) {
	fake := &fakeEmbedder{fn: func(text string) []float32 {
		return []float32{float32(len(text)), 3, 4}
	}}
	enc := NewEncoder(fake)

	vectors, err := enc.Embed(context.Background(), []string{"a", "bb"}, "passage: ")
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []string{"passage: a", "passage: bb"}, fake.seen)
	for _, v := range vectors {
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
}

func TestEmbedQuery(t *testing.T) {
	fake := &fakeEmbedder{fn: func(string) []float32 { return []float32{0, 2} }}
	enc := NewEncoder(fake)

	v, err := enc.EmbedQuery(context.Background(), "what?", "query: ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, v)
	assert.Equal(t, []string{"query: what?"}, fake.seen)
}

func TestEmbedZeroVector(t *testing.T) {
	enc := NewEncoder(&fakeEmbedder{fn: func(string) []float32 { return []float32{0, 0} }})

	_, err := enc.Embed(context.Background(), []string{"x"}, "")
	require.ErrorIs(t, err, ErrZeroVector)
}

func TestEmbedBackendError(t *testing.T) {
	boom := errors.New("boom")
	enc := NewEncoder(&fakeEmbedder{err: boom})

	_, err := enc.Embed(context.Background(), []string{"x"}, "")
	require.ErrorIs(t, err, boom)
}

func TestEmbedEmptyInput(t *testing.T) {
	enc := NewEncoder(&fakeEmbedder{})

	vectors, err := enc.Embed(context.Background(), nil, "passage: ")
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(config.LLMConfig{Provider: "nope"})
	require.ErrorIs(t, err, llmservice.ErrUnknownProvider)
}

func TestNewEmbedderOpenAIWithoutKey(t *testing.T) {
	e, err := NewEmbedder(config.LLMConfig{Provider: "openai", BaseURL: "http://localhost:1/v1", Model: "m"})
	require.NoError(t, err)
	assert.NotNil(t, e)
}
