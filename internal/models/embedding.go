package models

// Embedding is a fixed-length vector produced by the embedding model.
type Embedding []float32

// IndexEntry pairs a chunk with its embedding. Seq is the insertion order and
// is used to break score ties.
type IndexEntry struct {
	ID        string
	Chunk     Chunk
	Embedding Embedding
	Seq       int
}

// ScoredChunk is a chunk returned by a similarity search.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// RetrievalResult is ordered by descending score.
type RetrievalResult []ScoredChunk

// Chunks returns the chunks of the result in retrieval order.
func (r RetrievalResult) Chunks() []Chunk {
	chunks := make([]Chunk, len(r))
	for i, sc := range r {
		chunks[i] = sc.Chunk
	}
	return chunks
}

// Sources returns one DocumentRef per retrieved chunk, in retrieval order.
func (r RetrievalResult) Sources() []DocumentRef {
	refs := make([]DocumentRef, len(r))
	for i, sc := range r {
		refs[i] = sc.Chunk.Source
	}
	return refs
}
