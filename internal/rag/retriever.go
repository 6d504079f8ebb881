package rag

import (
	"context"
	"errors"
	"fmt"

	"pdf-rag/internal/index"
	"pdf-rag/internal/models"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 3

// Retriever finds the chunks most similar to a question.
type Retriever struct {
	index    *index.Index
	embedder index.Embedder
}

func NewRetriever(idx *index.Index, embedder index.Embedder) *Retriever {
	return &Retriever{index: idx, embedder: embedder}
}

// Retrieve embeds question with the index's embedding model and returns at
// most k chunks by descending similarity.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) (models.RetrievalResult, error) {
	if k < 0 {
		return nil, models.NewError(models.ErrInvalidConfiguration, "retrieve", fmt.Sprintf("k=%d", k),
			errors.New("k must not be negative"))
	}
	if err := r.index.CheckModel(r.embedder.Model()); err != nil {
		return nil, err
	}
	if k == 0 || r.index.Len() == 0 {
		return models.RetrievalResult{}, nil
	}

	query, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		if errors.Is(err, models.ErrEmbeddingFailure) {
			return nil, err
		}
		return nil, models.NewError(models.ErrEmbeddingFailure, "retrieve", question, err)
	}
	return r.index.Search(query, k)
}
