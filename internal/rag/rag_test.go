package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"pdfchat/internal/config"
	"pdfchat/internal/history"
	"pdfchat/internal/index"
	"pdfchat/internal/models"
	"pdfchat/internal/parser/pdftest"
	"pdfchat/internal/splitter"
)

const dim = 16

// hashEmbedder maps text to a bag of hashed words.
type hashEmbedder struct {
	inputs []string
}

func (h *hashEmbedder) vector(text string) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[1+int(f.Sum32()%(dim-1))]++
	}
	return v
}

func (h *hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h.inputs = append(h.inputs, t)
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := h.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

type scriptedModel struct {
	answer  []string
	err     error
	prompts []string
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.prompts = append(m.prompts, messages[0].Parts[0].(llms.TextContent).Text)
	if m.err != nil {
		return nil, m.err
	}
	for _, c := range m.answer {
		if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
			return nil, err
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(m.answer, "")}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RAG.Tokenizer = models.TokenizerWhitespace
	return cfg
}

func writeBook(t *testing.T, dir, name, topic string) string {
	t.Helper()
	pages := make([]string, 10)
	for p := range pages {
		lines := make([]string, 4)
		for l := range lines {
			lines[l] = fmt.Sprintf("Page %d line %d of the %s book talks about %s in some detail. It keeps going with more words about %s so the page is long enough.", p+1, l+1, name, topic, topic)
		}
		pages[p] = strings.Join(lines, "\n")
	}
	path := filepath.Join(dir, name+".pdf")
	require.NoError(t, pdftest.WriteFile(path, pages))
	return path
}

func newTestPipeline(t *testing.T, cfg *config.Config, model *scriptedModel) (*Pipeline, *hashEmbedder) {
	t.Helper()
	emb := &hashEmbedder{}
	p, err := New(context.Background(), cfg, Deps{
		Tokenizer: splitter.Whitespace{},
		Embedder:  emb,
		Model:     model,
	})
	require.NoError(t, err)
	return p, emb
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first := writeBook(t, dir, "first", "vector search")
	second := writeBook(t, dir, "second", "language models")

	model := &scriptedModel{answer: []string{"The ", "topic ", "is ", "retrieval."}}
	p, emb := newTestPipeline(t, testConfig(), model)

	res, err := p.Process(ctx, []string{first, second})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, 10, res.Documents[0].Pages)
	assert.Equal(t, dim, res.Dimension)
	assert.Equal(t, res.Segments, p.IndexLen())
	assert.Greater(t, res.Segments, 5)

	segs := p.Segments()
	for i, s := range segs {
		assert.LessOrEqual(t, splitter.Whitespace{}.Count(s.Content), 300, "segment %d", i)
		assert.Equal(t, "passage: "+s.Content, emb.inputs[i])
	}
	assert.Contains(t, segs[0].Content, "first book")
	assert.Contains(t, segs[len(segs)-1].Content, "second book")

	answer, err := p.Ask(ctx, "What is the topic?")
	require.NoError(t, err)
	require.Len(t, answer.Neighbors, 5)

	texts := make([]string, len(answer.Neighbors))
	for i, n := range answer.Neighbors {
		texts[i] = segs[n.Position].Content
		if i > 0 {
			assert.LessOrEqual(t, answer.Neighbors[i-1].Distance, n.Distance)
		}
	}
	assert.Equal(t, strings.Join(texts, "\n"), answer.Context)
	assert.Equal(t, "<|user|>\nBağlam:"+answer.Context+"\n\nSoru:query: What is the topic?</s>\n<|assistant|>\n", answer.Prompt)
	assert.Equal(t, "query: What is the topic?", emb.inputs[len(emb.inputs)-1])

	var streamed strings.Builder
	for tok := range answer.Tokens() {
		streamed.WriteString(tok)
	}
	text, err := answer.Wait()
	require.NoError(t, err)
	assert.Equal(t, "The topic is retrieval.", text)
	assert.Equal(t, text, streamed.String())
	assert.Equal(t, []string{answer.Prompt}, model.prompts)

	entries, err := p.History(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, history.RoleUser, entries[0].Role)
	assert.Equal(t, "What is the topic?", entries[0].Content)
	assert.Equal(t, history.RoleAssistant, entries[1].Role)
	assert.Equal(t, "The topic is retrieval.", entries[1].Content)

	// waiting again does not append twice
	_, err = answer.Wait()
	require.NoError(t, err)
	entries, err = p.History(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAskBeforeProcess(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), &scriptedModel{})

	_, err := p.Ask(context.Background(), "anything?")
	require.ErrorIs(t, err, ErrNotProcessed)

	_, err = p.Ask(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAskWithFewerSegmentsThanTopK(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "short.pdf")
	require.NoError(t, pdftest.WriteFile(path, []string{"A single short page."}))

	p, _ := newTestPipeline(t, testConfig(), &scriptedModel{answer: []string{"ok"}})
	res, err := p.Process(ctx, []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Segments)

	answer, err := p.Ask(ctx, "What?")
	require.NoError(t, err)
	assert.Len(t, answer.Neighbors, 1)
	assert.Equal(t, "A single short page.", answer.Context)
	_, err = answer.Wait()
	require.NoError(t, err)
}

func TestProcessReplacesPreviousUpload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first := writeBook(t, dir, "first", "cats")
	second := filepath.Join(dir, "small.pdf")
	require.NoError(t, pdftest.WriteFile(second, []string{"only dogs here"}))

	p, _ := newTestPipeline(t, testConfig(), &scriptedModel{})
	_, err := p.Process(ctx, []string{first})
	require.NoError(t, err)
	res, err := p.Process(ctx, []string{second})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Segments)
	assert.Equal(t, 1, p.IndexLen())
	assert.Equal(t, "only dogs here", p.Segments()[0].Content)
}

func TestProcessErrors(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), &scriptedModel{})

	_, err := p.Process(context.Background(), []string{filepath.Join(t.TempDir(), "missing.pdf")})
	require.Error(t, err)
	_, err = p.Process(context.Background(), nil)
	require.Error(t, err)
}

func TestProcessBlankUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, pdftest.WriteFile(path, []string{"", ""}))
	p, _ := newTestPipeline(t, testConfig(), &scriptedModel{})

	_, err := p.Process(context.Background(), []string{path})
	require.ErrorIs(t, err, ErrNoSegments)
}

func TestProcessSkipsBlankDocument(t *testing.T) {
	dir := t.TempDir()
	scan := filepath.Join(dir, "scan.pdf")
	require.NoError(t, pdftest.WriteFile(scan, []string{""}))
	book := writeBook(t, dir, "book", "maps")
	p, _ := newTestPipeline(t, testConfig(), &scriptedModel{})

	res, err := p.Process(context.Background(), []string{scan, book})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Contains(t, p.Segments()[0].Content, "Page 1 line 1 of the book")
}

func TestFailedGenerationKeepsQuestion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "one.pdf")
	require.NoError(t, pdftest.WriteFile(path, []string{"Some text to ask about."}))
	p, _ := newTestPipeline(t, testConfig(), &scriptedModel{err: errors.New("server down")})
	_, err := p.Process(ctx, []string{path})
	require.NoError(t, err)

	answer, err := p.Ask(ctx, "Is the server up?")
	require.NoError(t, err)
	_, err = answer.Wait()
	require.Error(t, err)

	entries, err := p.History(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, history.RoleUser, entries[0].Role)
	assert.Equal(t, "Is the server up?", entries[0].Content)
}

func TestChromemSaveAndLoadIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	book := writeBook(t, dir, "book", "rivers")
	cfg := testConfig()
	cfg.VectorStore.Type = models.StoreChromem
	cfg.VectorStore.Path = filepath.Join(dir, "chromem")
	cfg.VectorStore.Compress = true

	newChromemPipeline := func(answer string) *Pipeline {
		idx, err := NewIndex(ctx, cfg)
		require.NoError(t, err)
		p, err := New(ctx, cfg, Deps{Tokenizer: splitter.Whitespace{}, Embedder: &hashEmbedder{}, Model: &scriptedModel{answer: []string{answer}}, Index: idx})
		require.NoError(t, err)
		return p
	}

	p := newChromemPipeline("a")
	require.ErrorIs(t, p.SaveIndex(ctx, ""), ErrNotProcessed)
	_, err := p.Process(ctx, []string{book})
	require.NoError(t, err)
	path := filepath.Join(dir, "export", "book.chromem")
	require.NoError(t, p.SaveIndex(ctx, path))

	restored := newChromemPipeline("b")
	assert.Equal(t, 0, restored.IndexLen())
	require.NoError(t, restored.LoadIndex(ctx, path))
	assert.Equal(t, p.Segments(), restored.Segments())
	assert.Equal(t, p.IndexLen(), restored.IndexLen())

	want, err := p.Ask(ctx, "Which rivers?")
	require.NoError(t, err)
	got, err := restored.Ask(ctx, "Which rivers?")
	require.NoError(t, err)
	assert.Equal(t, want.Neighbors, got.Neighbors)
	_, _ = want.Wait()
	_, _ = got.Wait()

	require.Error(t, newChromemPipeline("c").LoadIndex(ctx, filepath.Join(dir, "missing.chromem")))
}

// opaqueIndex hides the concrete store so it cannot be saved.
type opaqueIndex struct{ index.Index }

func TestSaveIndexUnsupportedStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "one.pdf")
	require.NoError(t, pdftest.WriteFile(path, []string{"Some text."}))
	p, err := New(ctx, testConfig(), Deps{Tokenizer: splitter.Whitespace{}, Embedder: &hashEmbedder{}, Model: &scriptedModel{}, Index: opaqueIndex{index.NewFlat()}})
	require.NoError(t, err)
	_, err = p.Process(ctx, []string{path})
	require.NoError(t, err)

	require.ErrorIs(t, p.SaveIndex(ctx, filepath.Join(t.TempDir(), "x.idx")), ErrNotExportable)
	require.ErrorIs(t, p.LoadIndex(ctx, filepath.Join(t.TempDir(), "x.idx")), ErrNotExportable)
}

func TestCloseReleasesHistory(t *testing.T) {
	ctx := context.Background()
	hist, err := NewHistory(ctx, config.HistoryConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "h.db")})
	require.NoError(t, err)
	p, err := New(ctx, testConfig(), Deps{Tokenizer: splitter.Whitespace{}, Embedder: &hashEmbedder{}, Model: &scriptedModel{}, History: hist})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.Error(t, hist.Append(ctx, history.User("after close")))

	memory, _ := newTestPipeline(t, testConfig(), &scriptedModel{})
	require.NoError(t, memory.Close())
}

func TestNewRejectsBadPromptTemplate(t *testing.T) {
	cfg := testConfig()
	cfg.RAG.PromptTemplate = "Soru: {question}"

	_, err := New(context.Background(), cfg, Deps{Tokenizer: splitter.Whitespace{}, Embedder: &hashEmbedder{}, Model: &scriptedModel{}})
	require.Error(t, err)
}

func TestSaveAndLoadIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	book := writeBook(t, dir, "book", "graphs")
	cfg := testConfig()

	p, _ := newTestPipeline(t, cfg, &scriptedModel{answer: []string{"a"}})
	require.ErrorIs(t, p.SaveIndex(ctx, filepath.Join(dir, "none.idx")), ErrNotProcessed)
	_, err := p.Process(ctx, []string{book})
	require.NoError(t, err)
	path := filepath.Join(dir, "index", "book.idx")
	require.NoError(t, p.SaveIndex(ctx, path))

	restored, _ := newTestPipeline(t, cfg, &scriptedModel{answer: []string{"b"}})
	require.NoError(t, restored.LoadIndex(ctx, path))
	assert.Equal(t, p.Segments(), restored.Segments())

	want, err := p.Ask(ctx, "Which graphs?")
	require.NoError(t, err)
	got, err := restored.Ask(ctx, "Which graphs?")
	require.NoError(t, err)
	assert.Equal(t, want.Neighbors, got.Neighbors)
	assert.Equal(t, want.Context, got.Context)
	_, _ = want.Wait()
	_, _ = got.Wait()
}

func TestChromemStoreRestoresSegments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	book := writeBook(t, dir, "book", "trees")
	cfg := testConfig()
	cfg.VectorStore.Type = models.StoreChromem
	cfg.VectorStore.InMemory = false
	cfg.VectorStore.Path = filepath.Join(dir, "chromem")

	idx, err := NewIndex(ctx, cfg)
	require.NoError(t, err)
	p, err := New(ctx, cfg, Deps{Tokenizer: splitter.Whitespace{}, Embedder: &hashEmbedder{}, Model: &scriptedModel{}, Index: idx})
	require.NoError(t, err)
	_, err = p.Process(ctx, []string{book})
	require.NoError(t, err)

	reopened, err := NewIndex(ctx, cfg)
	require.NoError(t, err)
	again, err := New(ctx, cfg, Deps{Tokenizer: splitter.Whitespace{}, Embedder: &hashEmbedder{}, Model: &scriptedModel{answer: []string{"x"}}, Index: reopened})
	require.NoError(t, err)
	assert.Equal(t, p.Segments(), again.Segments())

	answer, err := again.Ask(ctx, "trees?")
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Neighbors)
	_, err = answer.Wait()
	require.NoError(t, err)
}

func TestSQLiteHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "one.pdf")
	require.NoError(t, pdftest.WriteFile(path, []string{"Sqlite keeps the conversation."}))

	hist, err := NewHistory(ctx, config.HistoryConfig{Type: "sqlite", Path: filepath.Join(dir, "h.db")})
	require.NoError(t, err)
	p, err := New(ctx, testConfig(), Deps{Tokenizer: splitter.Whitespace{}, Embedder: &hashEmbedder{}, Model: &scriptedModel{answer: []string{"yes"}}, History: hist})
	require.NoError(t, err)
	_, err = p.Process(ctx, []string{path})
	require.NoError(t, err)

	answer, err := p.Ask(ctx, "Where is the conversation?")
	require.NoError(t, err)
	_, err = answer.Wait()
	require.NoError(t, err)

	entries, err := hist.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "yes", entries[1].Content)
}

func TestResourcesCacheFirstResult(t *testing.T) {
	cfg := testConfig()
	cfg.ChatLLM.Provider = "unknown"
	res := NewResources(cfg)

	_, err1 := res.Model()
	_, err2 := res.Model()
	require.Error(t, err1)
	assert.Same(t, err1, err2)

	tok1, err := res.Tokenizer()
	require.NoError(t, err)
	tok2, err := res.Tokenizer()
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2)

	_, err = NewPipelineFromConfig(context.Background(), cfg, res)
	require.ErrorIs(t, err, err1)
}

func TestSharedIsSingleton(t *testing.T) {
	a := Shared(testConfig())
	b := Shared(config.Default())
	assert.Same(t, a, b)
}

func TestNewIndexAndHistoryUnknownType(t *testing.T) {
	cfg := testConfig()
	cfg.VectorStore.Type = "faiss"
	_, err := NewIndex(context.Background(), cfg)
	require.Error(t, err)

	_, err = NewHistory(context.Background(), config.HistoryConfig{Type: "redis"})
	require.Error(t, err)
}
