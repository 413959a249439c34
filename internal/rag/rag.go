package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"pdfchat/internal/config"
	"pdfchat/internal/embedding"
	"pdfchat/internal/history"
	"pdfchat/internal/index"
	"pdfchat/internal/llmservice"
	"pdfchat/internal/models"
	"pdfchat/internal/parser"
	"pdfchat/internal/prompt"
	"pdfchat/internal/splitter"
)

var (
	ErrNotProcessed   = errors.New("no documents have been processed")
	ErrNoSegments     = errors.New("documents produced no segments")
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrNotExportable  = errors.New("index cannot be saved to a file")
	ErrMissingPrereqs = errors.New("pipeline dependency missing")
)

// Deps are the collaborators a pipeline runs on.
type Deps struct {
	Tokenizer splitter.Tokenizer
	Embedder  embeddings.Embedder
	Model     llms.Model
	Index     index.Index
	History   history.Log
}

// ProcessResult summarizes an upload.
type ProcessResult struct {
	Documents []parser.Document
	Segments  int
	Dimension int
}

// Pipeline is one chat session over a set of uploaded documents.
type Pipeline struct {
	cfg       config.RAGConfig
	splitter  *splitter.Splitter
	encoder   *embedding.Encoder
	assembler *prompt.Assembler
	generator *llmservice.Generator
	history   history.Log

	mu       sync.RWMutex
	index    index.Index
	segments []models.Segment
}

// segmentReader is implemented by stores that keep segment text themselves.
type segmentReader interface {
	Segments(ctx context.Context) ([]models.Segment, error)
}

// exporter is implemented by stores that dump to and restore from a file.
type exporter interface {
	segmentReader
	Export(ctx context.Context, path string) error
	Import(ctx context.Context, path string) error
}

func New(ctx context.Context, cfg *config.Config, deps Deps) (*Pipeline, error) {
	if deps.Tokenizer == nil || deps.Embedder == nil || deps.Model == nil {
		return nil, ErrMissingPrereqs
	}
	sp, err := splitter.New(deps.Tokenizer, splitter.Options{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		Separators:   cfg.RAG.Separators,
	})
	if err != nil {
		return nil, err
	}
	idx := deps.Index
	if idx == nil {
		idx = index.NewFlat()
	}
	hist := deps.History
	if hist == nil {
		hist = history.NewMemory()
	}
	asm, err := prompt.NewAssembler(cfg.RAG.PromptTemplate)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg.RAG,
		splitter:  sp,
		encoder:   embedding.NewEncoder(deps.Embedder),
		assembler: asm,
		generator: llmservice.NewGenerator(deps.Model, cfg.Generation),
		history:   hist,
		index:     idx,
	}

	// persistent stores may already hold a processed upload
	if r, ok := idx.(segmentReader); ok && idx.Len() > 0 {
		segs, err := r.Segments(ctx)
		if err != nil {
			return nil, err
		}
		p.segments = segs
		log.Info().Int("segments", len(segs)).Msg("Restored segments from vector store")
	}
	return p, nil
}

// Process reads the files in upload order, splits the text, embeds every
// segment and rebuilds the index from scratch.
func (p *Pipeline) Process(ctx context.Context, paths []string) (ProcessResult, error) {
	docs, err := parser.ReadDocuments(paths)
	if err != nil {
		return ProcessResult{}, err
	}
	segs, err := p.splitter.Segments(parser.RawText(docs))
	if err != nil {
		return ProcessResult{}, err
	}
	if len(segs) == 0 {
		return ProcessResult{}, ErrNoSegments
	}
	log.Info().Int("documents", len(docs)).Int("segments", len(segs)).Msg("Split documents")

	vectors, err := p.encoder.Embed(ctx, models.Contents(segs), p.cfg.PassagePrefix)
	if err != nil {
		return ProcessResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.index.Build(ctx, segs, vectors); err != nil {
		p.segments = nil
		return ProcessResult{}, fmt.Errorf("failed to build index: %w", err)
	}
	p.segments = segs
	log.Info().Int("vectors", p.index.Len()).Msg("Index ready")

	return ProcessResult{Documents: docs, Segments: len(segs), Dimension: len(vectors[0])}, nil
}

// Answer is an answer being generated.
type Answer struct {
	Question  string
	Neighbors []models.Neighbor
	Context   string
	Prompt    string

	stream  *llmservice.Stream
	history history.Log
	ctx     context.Context

	once sync.Once
	text string
	err  error
}

// Tokens streams the answer as it is generated.
func (a *Answer) Tokens() <-chan string { return a.stream.Tokens() }

// Wait returns the full answer once generation has finished and the answer
// has been appended to the history. A failed generation leaves the question
// in the history without an answer.
func (a *Answer) Wait() (string, error) {
	a.once.Do(func() {
		text, err := a.stream.Wait()
		if err != nil {
			a.err = err
			return
		}
		a.text = text
		if err := a.history.Append(a.ctx, history.Assistant(text)); err != nil {
			a.err = err
		}
	})
	return a.text, a.err
}

// Ask retrieves the nearest segments for question and starts generating.
func (p *Pipeline) Ask(ctx context.Context, question string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	p.mu.RLock()
	idx, segs := p.index, p.segments
	p.mu.RUnlock()
	if len(segs) == 0 || idx.Len() == 0 {
		return nil, ErrNotProcessed
	}

	q, err := p.encoder.EmbedQuery(ctx, question, p.cfg.QueryPrefix)
	if err != nil {
		return nil, err
	}
	hits, err := idx.Search(ctx, q, p.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(segs) {
			return nil, fmt.Errorf("index returned position %d for %d segments", h.Position, len(segs))
		}
		texts = append(texts, segs[h.Position].Content)
	}
	contextText, promptText, err := p.assembler.Assemble(p.cfg.QueryPrefix+question, texts)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("neighbors", len(hits)).Int("prompt_chars", len(promptText)).Msg("Assembled prompt")

	// the question is logged before generation starts
	if err := p.history.Append(ctx, history.User(question)); err != nil {
		return nil, fmt.Errorf("failed to record question: %w", err)
	}

	return &Answer{
		Question:  question,
		Neighbors: hits,
		Context:   contextText,
		Prompt:    promptText,
		stream:    p.generator.Stream(ctx, promptText),
		history:   p.history,
		ctx:       ctx,
	}, nil
}

// Segments returns the current segments in position order.
func (p *Pipeline) Segments() []models.Segment {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.segments
}

func (p *Pipeline) IndexLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index.Len()
}

func (p *Pipeline) History(ctx context.Context) ([]history.Entry, error) {
	return p.history.Entries(ctx)
}

// SaveIndex writes the index and its segments to path. Stores that export
// themselves fall back to their configured file when path is empty.
func (p *Pipeline) SaveIndex(ctx context.Context, path string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.index.Len() == 0 {
		return ErrNotProcessed
	}
	switch idx := p.index.(type) {
	case *index.Flat:
		return idx.Save(path)
	case exporter:
		return idx.Export(ctx, path)
	default:
		return ErrNotExportable
	}
}

// LoadIndex replaces the current index and segments with the ones saved at
// path.
func (p *Pipeline) LoadIndex(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch idx := p.index.(type) {
	case *index.Flat:
		flat, err := index.Load(path)
		if err != nil {
			return err
		}
		p.index = flat
		p.segments = flat.Segments()
	case exporter:
		if err := idx.Import(ctx, path); err != nil {
			return err
		}
		segs, err := idx.Segments(ctx)
		if err != nil {
			return err
		}
		p.segments = segs
	default:
		return ErrNotExportable
	}
	log.Info().Str("path", path).Int("segments", len(p.segments)).Msg("Loaded index")
	return nil
}

// Close releases the index and history when they hold connections or files.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if c, ok := p.index.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := p.history.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
