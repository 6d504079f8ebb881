package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"
)

// Embedder is the embedding function the index is built with. The same model
// must embed both the chunks and the queries searched against them.
type Embedder interface {
	Model() string
	EmbedDocuments(ctx context.Context, texts []string) ([]models.Embedding, error)
	EmbedQuery(ctx context.Context, text string) (models.Embedding, error)
}

// Snapshot is the persisted state of an index.
type Snapshot struct {
	Model     string
	Dimension int
	Entries   []models.IndexEntry
}

// Backing persists index entries. Save must upsert by entry ID.
type Backing interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, model string, entries []models.IndexEntry) error
	Close() error
}

// Handle describes the index after an insert.
type Handle struct {
	Size      int    `json:"size"`
	Dimension int    `json:"dimension"`
	Model     string `json:"model"`
	Inserted  int    `json:"inserted"`
	Replaced  int    `json:"replaced"`
}

// Index is an exact nearest-neighbour index over unit-length embeddings.
// Similarity is cosine; because vectors are normalised on insert it is
// computed as a dot product.
type Index struct {
	mu      sync.RWMutex
	entries []models.IndexEntry
	byID    map[string]int
	model   string
	dim     int
	nextSeq int
	backing Backing
}

// New returns an empty in-memory index.
func New() *Index {
	return &Index{byID: make(map[string]int)}
}

// Open rebuilds an index from its backing. Later inserts are written through.
func Open(ctx context.Context, backing Backing) (*Index, error) {
	snap, err := backing.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	idx := New()
	idx.backing = backing
	idx.model = snap.Model
	idx.dim = snap.Dimension

	entries := append([]models.IndexEntry(nil), snap.Entries...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	for _, e := range entries {
		if idx.dim == 0 {
			idx.dim = len(e.Embedding)
		}
		if len(e.Embedding) != idx.dim {
			return nil, fmt.Errorf("load index: entry %s has dimension %d, expected %d", e.ID, len(e.Embedding), idx.dim)
		}
		if pos, ok := idx.byID[e.ID]; ok {
			idx.entries[pos] = e
			continue
		}
		idx.byID[e.ID] = len(idx.entries)
		idx.entries = append(idx.entries, e)
		if e.Seq >= idx.nextSeq {
			idx.nextSeq = e.Seq + 1
		}
	}

	log.Info().
		Int("entries", len(idx.entries)).
		Int("dimension", idx.dim).
		Str("model", idx.model).
		Msg("Opened index")
	return idx, nil
}

// EntryID is the identity of a chunk inside the index.
func EntryID(c models.Chunk) string {
	return helper.StableID(c.Key())
}

// Insert embeds chunks and stores them. A chunk whose (source, offset) is
// already present replaces the existing entry and keeps its position. On any
// error the index is left as it was.
func (idx *Index) Insert(ctx context.Context, chunks []models.Chunk, embedder Embedder) (Handle, error) {
	if embedder == nil {
		return Handle{}, models.NewError(models.ErrInvalidConfiguration, "index.insert", "", errors.New("no embedding function"))
	}
	if len(chunks) == 0 {
		idx.mu.RLock()
		defer idx.mu.RUnlock()
		return idx.handleLocked(0, 0), nil
	}
	if err := idx.checkModel("index.insert", embedder.Model()); err != nil {
		return Handle{}, err
	}

	batch := dedupe(chunks)
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return Handle{}, asEmbeddingFailure("index.insert", batch[0].Source.String(), err)
	}
	if len(vectors) != len(batch) {
		return Handle{}, models.NewError(models.ErrEmbeddingFailure, "index.insert", batch[0].Source.String(),
			fmt.Errorf("got %d embeddings for %d chunks", len(vectors), len(batch)))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return Handle{}, models.NewError(models.ErrEmbeddingFailure, "index.insert", batch[i].Key(),
				fmt.Errorf("embedding has dimension %d, expected %d", len(v), dim))
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.model != "" && idx.model != embedder.Model() {
		return Handle{}, mismatch("index.insert", idx.model, embedder.Model())
	}
	if idx.dim != 0 && idx.dim != dim {
		return Handle{}, models.NewError(models.ErrEmbeddingFailure, "index.insert", embedder.Model(),
			fmt.Errorf("embedding dimension %d does not match index dimension %d", dim, idx.dim))
	}

	staged := make([]models.IndexEntry, len(batch))
	inserted, replaced := 0, 0
	for i, c := range batch {
		id := EntryID(c)
		seq := idx.nextSeq + inserted
		if pos, ok := idx.byID[id]; ok {
			seq = idx.entries[pos].Seq
			replaced++
		} else {
			inserted++
		}
		staged[i] = models.IndexEntry{ID: id, Chunk: c, Embedding: normalize(vectors[i]), Seq: seq}
	}

	if idx.backing != nil {
		if err := idx.backing.Save(ctx, embedder.Model(), staged); err != nil {
			return Handle{}, fmt.Errorf("persist %d index entries: %w", len(staged), err)
		}
	}

	for _, e := range staged {
		if pos, ok := idx.byID[e.ID]; ok {
			idx.entries[pos] = e
			continue
		}
		idx.byID[e.ID] = len(idx.entries)
		idx.entries = append(idx.entries, e)
	}
	idx.nextSeq += inserted
	idx.model = embedder.Model()
	idx.dim = dim

	log.Debug().
		Int("inserted", inserted).
		Int("replaced", replaced).
		Int("size", len(idx.entries)).
		Msg("Inserted chunks into index")
	return idx.handleLocked(inserted, replaced), nil
}

// Search returns at most k entries by descending cosine similarity to query.
// Ties keep insertion order. An empty index yields an empty result.
func (idx *Index) Search(query models.Embedding, k int) (models.RetrievalResult, error) {
	if k < 0 {
		return nil, models.NewError(models.ErrInvalidConfiguration, "index.search", fmt.Sprintf("k=%d", k),
			errors.New("k must not be negative"))
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.entries) == 0 || k == 0 {
		return models.RetrievalResult{}, nil
	}
	if len(query) != idx.dim {
		return nil, models.NewError(models.ErrEmbeddingFailure, "index.search", fmt.Sprintf("dimension=%d", len(query)),
			fmt.Errorf("query dimension does not match index dimension %d", idx.dim))
	}

	q := normalize(query)
	scored := make(models.RetrievalResult, len(idx.entries))
	for i, e := range idx.entries {
		scored[i] = models.ScoredChunk{Chunk: e.Chunk, Score: dot(q, e.Embedding)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Model is the embedding model the index was built with, "" while empty.
func (idx *Index) Model() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.model
}

func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Entries returns a copy of the entries in insertion order.
func (idx *Index) Entries() []models.IndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]models.IndexEntry(nil), idx.entries...)
}

// Close releases the backing, if any.
func (idx *Index) Close() error {
	if idx.backing == nil {
		return nil
	}
	return idx.backing.Close()
}

// CheckModel reports an error when model differs from the model the index
// was built with.
func (idx *Index) CheckModel(model string) error {
	return idx.checkModel("index.check_model", model)
}

func (idx *Index) checkModel(op, model string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.model != "" && idx.model != model {
		return mismatch(op, idx.model, model)
	}
	return nil
}

func (idx *Index) handleLocked(inserted, replaced int) Handle {
	return Handle{
		Size:      len(idx.entries),
		Dimension: idx.dim,
		Model:     idx.model,
		Inserted:  inserted,
		Replaced:  replaced,
	}
}

func mismatch(op, indexModel, model string) error {
	return models.NewError(models.ErrInvalidConfiguration, op, model,
		fmt.Errorf("index was built with embedding model %s", indexModel))
}

func asEmbeddingFailure(op, input string, err error) error {
	if errors.Is(err, models.ErrEmbeddingFailure) {
		return err
	}
	return models.NewError(models.ErrEmbeddingFailure, op, input, err)
}

// dedupe keeps one chunk per identity; the last occurrence wins but the
// position of the first is kept.
func dedupe(chunks []models.Chunk) []models.Chunk {
	pos := make(map[string]int, len(chunks))
	out := make([]models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if i, ok := pos[c.Key()]; ok {
			out[i] = c
			continue
		}
		pos[c.Key()] = len(out)
		out = append(out, c)
	}
	return out
}

func normalize(v models.Embedding) models.Embedding {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make(models.Embedding, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b models.Embedding) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
