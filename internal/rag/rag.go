package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/chunker"
	"pdf-rag/internal/index"
	"pdf-rag/internal/models"
)

// State is the lifecycle state of a RAG pipeline.
type State int

const (
	Uninitialized State = iota
	DocumentLoaded
	Chunked
	Indexed
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case DocumentLoaded:
		return "document_loaded"
	case Chunked:
		return "chunked"
	case Indexed:
		return "indexed"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Loader reads a document into pages.
type Loader interface {
	Load(ctx context.Context, path string) (models.Document, error)
}

// Generator answers an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

// Stats describes what the pipeline currently holds.
type Stats struct {
	State     string `json:"state"`
	Path      string `json:"path,omitempty"`
	Pages     int    `json:"pages"`
	Chunks    int    `json:"chunks"`
	Entries   int    `json:"entries"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension"`
}

// RAG sequences loading, chunking, indexing and answering.
//
// Ingest steps must run in order and are serialised. Once the pipeline has
// reached Ready it stays answerable: a later ingest extends the index while
// Ask keeps serving from it.
type RAG struct {
	loader    Loader
	index     *index.Index
	embedder  index.Embedder
	retriever *Retriever
	generator Generator
	opts      Options

	ingestMu sync.Mutex

	mu     sync.RWMutex
	stage  State
	ready  bool
	doc    *models.Document
	chunks []models.Chunk
}

type AskOption func(*askOptions)

type askOptions struct {
	topK int
}

// WithTopK overrides the number of retrieved chunks for one question.
func WithTopK(k int) AskOption {
	return func(o *askOptions) { o.topK = k }
}

// NewRAG validates the options and wires the components. An index that
// already holds entries (reopened from disk) makes the pipeline Ready at once,
// provided it was built with the same embedding model.
func NewRAG(loader Loader, idx *index.Index, embedder index.Embedder, generator Generator, opts Options) (*RAG, error) {
	switch {
	case loader == nil:
		return nil, models.NewError(models.ErrInvalidConfiguration, "rag.new", "loader", errors.New("is required"))
	case idx == nil:
		return nil, models.NewError(models.ErrInvalidConfiguration, "rag.new", "index", errors.New("is required"))
	case embedder == nil:
		return nil, models.NewError(models.ErrInvalidConfiguration, "rag.new", "embedder", errors.New("is required"))
	case generator == nil:
		return nil, models.NewError(models.ErrInvalidConfiguration, "rag.new", "generator", errors.New("is required"))
	}
	if err := chunker.Validate(opts.ChunkSize, opts.ChunkOverlap); err != nil {
		return nil, err
	}
	if opts.TopK < 0 {
		return nil, models.NewError(models.ErrInvalidConfiguration, "rag.new", fmt.Sprintf("top_k=%d", opts.TopK),
			errors.New("must not be negative"))
	}

	r := &RAG{
		loader:    loader,
		index:     idx,
		embedder:  embedder,
		retriever: NewRetriever(idx, embedder),
		generator: generator,
		opts:      opts,
	}
	if idx.Len() > 0 {
		if err := idx.CheckModel(embedder.Model()); err != nil {
			return nil, err
		}
		r.stage = Ready
		r.ready = true
		log.Info().Int("entries", idx.Len()).Msg("Existing index loaded, pipeline ready")
	}
	return r, nil
}

// State reports Ready once the pipeline has been set up, otherwise the
// progress of the first ingest.
func (r *RAG) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ready {
		return Ready
	}
	return r.stage
}

// LoadDocument reads the document at path. It may be called in any state and
// starts a new ingest.
func (r *RAG) LoadDocument(ctx context.Context, path string) error {
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()
	return r.loadDocument(ctx, path)
}

// SplitText chunks the loaded document.
func (r *RAG) SplitText() error {
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()
	return r.splitText()
}

// BuildIndex embeds the chunks and adds them to the index.
func (r *RAG) BuildIndex(ctx context.Context) error {
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()
	_, err := r.buildIndex(ctx)
	return err
}

// SetupQA makes the pipeline answer questions.
func (r *RAG) SetupQA() error {
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()
	return r.setupQA()
}

// Ingest runs all four steps for path.
func (r *RAG) Ingest(ctx context.Context, path string) (index.Handle, error) {
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()

	start := time.Now()
	if err := r.loadDocument(ctx, path); err != nil {
		return index.Handle{}, err
	}
	if err := r.splitText(); err != nil {
		return index.Handle{}, err
	}
	h, err := r.buildIndex(ctx)
	if err != nil {
		return index.Handle{}, err
	}
	if err := r.setupQA(); err != nil {
		return index.Handle{}, err
	}
	log.Info().
		Str("path", path).
		Int("size", h.Size).
		Int("inserted", h.Inserted).
		Int("replaced", h.Replaced).
		Dur("took", time.Since(start)).
		Msg("Document ingested")
	return h, nil
}

func (r *RAG) loadDocument(ctx context.Context, path string) error {
	doc, err := r.loader.Load(ctx, path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.doc = &doc
	r.chunks = nil
	r.stage = DocumentLoaded
	r.mu.Unlock()

	log.Info().Str("path", path).Int("pages", len(doc.Pages)).Msg("Document loaded")
	return nil
}

func (r *RAG) splitText() error {
	r.mu.RLock()
	stage, doc := r.stage, r.doc
	r.mu.RUnlock()
	if stage != DocumentLoaded {
		return outOfOrder("split_text", stage, "load a document first")
	}

	chunks, err := chunker.Split(*doc, r.opts.ChunkSize, r.opts.ChunkOverlap)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.chunks = chunks
	r.stage = Chunked
	r.mu.Unlock()

	log.Info().
		Int("chunks", len(chunks)).
		Int("chunk_size", r.opts.ChunkSize).
		Int("chunk_overlap", r.opts.ChunkOverlap).
		Msg("Text split")
	return nil
}

func (r *RAG) buildIndex(ctx context.Context) (index.Handle, error) {
	r.mu.RLock()
	stage, chunks := r.stage, r.chunks
	r.mu.RUnlock()
	if stage != Chunked {
		return index.Handle{}, outOfOrder("build_index", stage, "split the text first")
	}

	h, err := r.index.Insert(ctx, chunks, r.embedder)
	if err != nil {
		return index.Handle{}, err
	}

	r.mu.Lock()
	r.stage = Indexed
	r.mu.Unlock()

	log.Info().Int("size", h.Size).Str("model", h.Model).Int("dimension", h.Dimension).Msg("Index built")
	return h, nil
}

func (r *RAG) setupQA() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage != Indexed {
		return outOfOrder("setup_qa", r.stage, "build the index first")
	}
	r.stage = Ready
	r.ready = true
	log.Info().Int("top_k", r.topK()).Msg("Question answering ready")
	return nil
}

// Ask answers question from the retrieved chunks.
func (r *RAG) Ask(ctx context.Context, question string, opts ...AskOption) (models.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return models.Answer{}, models.NewError(models.ErrInvalidInput, "ask", question, errors.New("question is empty"))
	}
	r.mu.RLock()
	ready, stage := r.ready, r.stage
	r.mu.RUnlock()
	if !ready {
		return models.Answer{}, models.NewError(models.ErrPipelineNotReady, "ask", question,
			fmt.Errorf("pipeline is %s, ingest a document first", stage))
	}

	o := askOptions{topK: r.topK()}
	for _, opt := range opts {
		opt(&o)
	}

	chunks, err := r.retriever.Retrieve(ctx, question, o.topK)
	if err != nil {
		return models.Answer{}, err
	}
	text, err := r.generator.Generate(ctx, AssemblePrompt(question, chunks))
	if err != nil {
		return models.Answer{}, err
	}

	log.Debug().Str("question", question).Int("chunks", len(chunks)).Msg("Question answered")
	return models.Answer{Text: text, Sources: chunks.Sources(), Query: question}, nil
}

// Chunks returns the chunks of the document being ingested.
func (r *RAG) Chunks() []models.Chunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Chunk(nil), r.chunks...)
}

func (r *RAG) Stats() Stats {
	st := Stats{
		State:     r.State().String(),
		Entries:   r.index.Len(),
		Model:     r.index.Model(),
		Dimension: r.index.Dimension(),
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.doc != nil {
		st.Path = r.doc.Path
		st.Pages = len(r.doc.Pages)
	}
	st.Chunks = len(r.chunks)
	return st
}

func (r *RAG) topK() int {
	if r.opts.TopK == 0 {
		return DefaultTopK
	}
	return r.opts.TopK
}

func outOfOrder(op string, stage State, hint string) error {
	return models.NewError(models.ErrOutOfOrderOperation, op, stage.String(), errors.New(hint))
}
