package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"pdf-rag/internal/models"
)

// Embedder turns text into vectors with one fixed model. The model identity is
// recorded by the index so that queries are never embedded with a different
// model than the chunks they are compared against.
type Embedder struct {
	impl    embeddings.Embedder
	model   string
	timeout time.Duration
}

// New wraps a langchaingo embedder. timeout applies per call when positive.
func New(impl embeddings.Embedder, model string, timeout time.Duration) *Embedder {
	return &Embedder{impl: impl, model: model, timeout: timeout}
}

// Model returns the identity of the embedding model, e.g. "ollama:nomic-embed-text".
func (e *Embedder) Model() string {
	return e.model
}

// EmbedDocuments embeds texts in one batch call, preserving order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([]models.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	vectors, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, e.failure("embed_documents", fmt.Sprintf("%d texts", len(texts)), err)
	}
	if len(vectors) != len(texts) {
		return nil, e.failure("embed_documents", fmt.Sprintf("%d texts", len(texts)),
			fmt.Errorf("model returned %d vectors", len(vectors)))
	}

	out := make([]models.Embedding, len(vectors))
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, e.failure("embed_documents", texts[i],
				fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim))
		}
		out[i] = models.Embedding(v)
	}

	log.Debug().
		Str("model", e.model).
		Int("texts", len(texts)).
		Int("dimension", dim).
		Dur("took", time.Since(start)).
		Msg("Embedded documents")
	return out, nil
}

// EmbedQuery embeds a single question.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) (models.Embedding, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	v, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, e.failure("embed_query", text, err)
	}
	if len(v) == 0 {
		return nil, e.failure("embed_query", text, fmt.Errorf("model returned an empty vector"))
	}
	return models.Embedding(v), nil
}

func (e *Embedder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Embedder) failure(op, input string, err error) error {
	return models.NewError(models.ErrEmbeddingFailure, op, input, fmt.Errorf("model %s: %w", e.model, err))
}
