package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"pdfchat/internal/chromemdb"
	"pdfchat/internal/config"
	"pdfchat/internal/db"
	"pdfchat/internal/embedding"
	"pdfchat/internal/history"
	"pdfchat/internal/index"
	"pdfchat/internal/llmservice"
	"pdfchat/internal/models"
	"pdfchat/internal/splitter"
)

// Resources creates the heavy collaborators on first use and hands the same
// instance (or the same error) to every later caller.
type Resources struct {
	cfg *config.Config

	embedOnce sync.Once
	embedder  embeddings.Embedder
	embedErr  error

	modelOnce sync.Once
	model     llms.Model
	modelErr  error

	tokOnce   sync.Once
	tokenizer splitter.Tokenizer
	tokErr    error
}

var (
	sharedOnce sync.Once
	shared     *Resources
)

// Shared returns the process wide resources. Only the first cfg is used.
func Shared(cfg *config.Config) *Resources {
	sharedOnce.Do(func() {
		shared = NewResources(cfg)
	})
	return shared
}

func NewResources(cfg *config.Config) *Resources {
	return &Resources{cfg: cfg}
}

func (r *Resources) Embedder() (embeddings.Embedder, error) {
	r.embedOnce.Do(func() {
		log.Info().Str("model", r.cfg.EmbedLLM.Model).Msg("Loading embedding model")
		r.embedder, r.embedErr = embedding.NewEmbedder(r.cfg.EmbedLLM)
	})
	return r.embedder, r.embedErr
}

func (r *Resources) Model() (llms.Model, error) {
	r.modelOnce.Do(func() {
		log.Info().Str("model", r.cfg.ChatLLM.Model).Msg("Loading language model")
		r.model, r.modelErr = llmservice.NewModel(r.cfg.ChatLLM)
	})
	return r.model, r.modelErr
}

func (r *Resources) Tokenizer() (splitter.Tokenizer, error) {
	r.tokOnce.Do(func() {
		switch r.cfg.RAG.Tokenizer {
		case models.TokenizerWhitespace:
			r.tokenizer = splitter.Whitespace{}
		case models.TokenizerTiktoken, "":
			r.tokenizer, r.tokErr = splitter.NewTiktoken(r.cfg.RAG.Encoding)
		default:
			r.tokErr = fmt.Errorf("unknown tokenizer %q", r.cfg.RAG.Tokenizer)
		}
	})
	return r.tokenizer, r.tokErr
}

// NewIndex opens the configured vector store.
func NewIndex(ctx context.Context, cfg *config.Config) (index.Index, error) {
	switch cfg.VectorStore.Type {
	case models.StoreFlat, "":
		return index.NewFlat(), nil
	case models.StoreChromem:
		s, err := chromemdb.NewStore(cfg.VectorStore)
		if err != nil {
			return nil, err
		}
		return s, nil
	case models.StorePgvector:
		s, err := db.NewStore(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.VectorStore.Type)
	}
}

// NewHistory opens the configured conversation log.
func NewHistory(ctx context.Context, cfg config.HistoryConfig) (history.Log, error) {
	switch cfg.Type {
	case "memory", "":
		return history.NewMemory(), nil
	case "sqlite":
		h, err := history.NewSQLite(ctx, cfg.Path, "")
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown history type %q", cfg.Type)
	}
}

// NewPipelineFromConfig wires a pipeline from cfg, loading models through res.
func NewPipelineFromConfig(ctx context.Context, cfg *config.Config, res *Resources) (*Pipeline, error) {
	tok, err := res.Tokenizer()
	if err != nil {
		return nil, err
	}
	embedder, err := res.Embedder()
	if err != nil {
		return nil, err
	}
	model, err := res.Model()
	if err != nil {
		return nil, err
	}
	idx, err := NewIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	hist, err := NewHistory(ctx, cfg.History)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, Deps{
		Tokenizer: tok,
		Embedder:  embedder,
		Model:     model,
		Index:     idx,
		History:   hist,
	})
}
