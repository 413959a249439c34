package llmservice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdfchat/internal/config"
	"pdfchat/internal/models"
)

var ErrUnknownProvider = errors.New("unknown llm provider")

// placeholderKey is sent to OpenAI-compatible servers that run without auth.
const placeholderKey = "EMPTY"

// Client is a model server connection that can both generate and embed.
type Client interface {
	llms.Model
	embeddings.EmbedderClient
}

// NewClient connects to the server described by cfg.
func NewClient(cfg config.LLMConfig) (Client, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating llm client")

	switch cfg.Provider {
	case models.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return llm, nil
	case models.ProviderOpenAI, "":
		key := strings.TrimPrefix(cfg.Key, "Bearer ")
		if key == "" {
			key = placeholderKey
		}
		opts := []openai.Option{
			openai.WithToken(key),
			openai.WithModel(cfg.Model),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
