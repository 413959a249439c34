package llmservice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"pdfchat/internal/config"
	"pdfchat/internal/models"
)

// NewModel connects to the chat model server.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	return NewClient(cfg)
}

// Generator runs prompts through a model and streams the answer back.
type Generator struct {
	model  llms.Model
	opts   []llms.CallOption
	buffer int
}

func NewGenerator(model llms.Model, cfg config.GenerationConfig) *Generator {
	maxTokens := cfg.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = models.DefaultMaxNewTokens
	}
	buffer := cfg.StreamBuffer
	if buffer <= 0 {
		buffer = models.DefaultStreamBuffer
	}
	return &Generator{
		model: model,
		opts: []llms.CallOption{
			llms.WithTemperature(cfg.Temperature),
			llms.WithRepetitionPenalty(cfg.RepetitionPenalty),
			llms.WithMaxTokens(maxTokens),
		},
		buffer: buffer,
	}
}

// Stream is one running generation. Tokens arrive on Tokens until the
// generation ends, then the channel is closed.
type Stream struct {
	tokens chan string
	done   chan struct{}
	once   sync.Once
	text   string
	err    error
}

func (s *Stream) Tokens() <-chan string { return s.tokens }

// Wait drains any unread tokens, blocks until generation finishes and
// returns the full answer.
func (s *Stream) Wait() (string, error) {
	s.once.Do(func() {
		for range s.tokens {
		}
	})
	<-s.done
	return s.text, s.err
}

// Stream starts generating on its own goroutine and returns immediately.
func (g *Generator) Stream(ctx context.Context, prompt string) *Stream {
	s := &Stream{
		tokens: make(chan string, g.buffer),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.tokens)

		var streamed strings.Builder
		onChunk := func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed.Write(chunk)
			select {
			case s.tokens <- string(chunk):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		opts := append(append([]llms.CallOption(nil), g.opts...), llms.WithStreamingFunc(onChunk))
		text, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, opts...)
		if err != nil {
			s.err = fmt.Errorf("failed to generate answer: %w", err)
			log.Error().Err(err).Msg("Generation failed")
			return
		}
		if text == "" {
			text = streamed.String()
		}
		s.text = text
		log.Debug().Int("chars", len(text)).Msg("Generation finished")
	}()

	return s
}

// Generate runs a prompt to completion.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.Stream(ctx, prompt).Wait()
}
