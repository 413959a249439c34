package splitter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"

	"pdfchat/internal/models"
)

var ErrInvalidOptions = errors.New("invalid split options")

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// Separators are tried in order. An empty string splits anywhere.
	Separators []string
}

// Splitter cuts raw text into overlapping segments whose token count stays
// within ChunkSize.
type Splitter struct {
	opts     Options
	splitter textsplitter.RecursiveCharacter
}

func New(tokenizer Tokenizer, opts Options) (*Splitter, error) {
	if tokenizer == nil {
		return nil, fmt.Errorf("%w: tokenizer is required", ErrInvalidOptions)
	}
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be > 0, got %d", ErrInvalidOptions, opts.ChunkSize)
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", ErrInvalidOptions, opts.ChunkSize, opts.ChunkOverlap)
	}
	if len(opts.Separators) == 0 {
		opts.Separators = models.DefaultSeparators
	}
	// always leave a way to cut text that has none of the separators
	if opts.Separators[len(opts.Separators)-1] != "" {
		opts.Separators = append(append([]string(nil), opts.Separators...), "")
	}

	return &Splitter{
		opts: opts,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(opts.ChunkSize),
			textsplitter.WithChunkOverlap(opts.ChunkOverlap),
			textsplitter.WithSeparators(opts.Separators),
			textsplitter.WithLenFunc(tokenizer.Count),
		),
	}, nil
}

// Split returns the ordered, non-empty segments of text.
func (s *Splitter) Split(text string) ([]string, error) {
	parts, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	log.Debug().Int("chars", len(text)).Int("segments", len(out)).Msg("Split text")
	return out, nil
}

// Segments is Split with positions attached.
func (s *Splitter) Segments(text string) ([]models.Segment, error) {
	parts, err := s.Split(text)
	if err != nil {
		return nil, err
	}
	return models.NewSegments(parts), nil
}

func (s *Splitter) Options() Options { return s.opts }
