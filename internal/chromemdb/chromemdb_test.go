package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"pdf-rag/internal/index"
	"pdf-rag/internal/models"
)

// axisEmbedder maps each known word to its own axis.
type axisEmbedder struct {
	model string
}

var vocabulary = []string{"budget", "revenue", "hiring", "office", "travel", "policy"}

func (e axisEmbedder) Model() string { return e.model }

func (e axisEmbedder) vector(text string) models.Embedding {
	v := make(models.Embedding, len(vocabulary))
	for i, w := range vocabulary {
		for j := 0; j+len(w) <= len(text); j++ {
			if text[j:j+len(w)] == w {
				v[i]++
			}
		}
	}
	v[len(v)-1] += 0.1
	return v
}

func (e axisEmbedder) EmbedDocuments(_ context.Context, texts []string) ([]models.Embedding, error) {
	out := make([]models.Embedding, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e axisEmbedder) EmbedQuery(_ context.Context, text string) (models.Embedding, error) {
	return e.vector(text), nil
}

func testChunks() []models.Chunk {
	texts := []string{
		"the budget was approved",
		"revenue grew and the budget held",
		"hiring for the new office",
		"travel policy update",
	}
	chunks := make([]models.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = models.Chunk{
			Text:   t,
			Source: models.DocumentRef{Path: "report.pdf", Page: i + 1},
			Offset: 0,
			Length: len(t),
		}
	}
	return chunks
}

func TestReopenReproducesSearch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := axisEmbedder{model: "test:axis"}

	store, err := NewVectorDBManager(dir, "pdf_rag", false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx, err := index.Open(ctx, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := idx.Insert(ctx, testChunks(), emb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	queries := []string{"budget", "office hiring", "travel"}
	want := make([]models.RetrievalResult, len(queries))
	for i, q := range queries {
		v, _ := emb.EmbedQuery(ctx, q)
		want[i], err = idx.Search(v, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopenedStore, err := NewVectorDBManager(dir, "pdf_rag", false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m := reopenedStore.Manifest(); m.Model != "test:axis" || m.Dimension != len(vocabulary) {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	reopened, err := index.Open(ctx, reopenedStore)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reopened.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", reopened.Len())
	}
	for i, e := range reopened.Entries() {
		if e.Seq != i {
			t.Fatalf("entry %d has seq %d", i, e.Seq)
		}
	}
	for i, q := range queries {
		v, _ := emb.EmbedQuery(ctx, q)
		got, err := reopened.Search(v, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fmt.Sprint(got.Chunks()) != fmt.Sprint(want[i].Chunks()) {
			t.Fatalf("query %q differs after reopen:\nwant %v\ngot  %v", q, want[i].Chunks(), got.Chunks())
		}
	}
}

func TestReinsertDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := axisEmbedder{model: "test:axis"}

	store, err := NewVectorDBManager(dir, "pdf_rag", false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx, _ := index.Open(ctx, store)
	for i := 0; i < 2; i++ {
		if _, err := idx.Insert(ctx, testChunks(), emb); err != nil {
			t.Fatalf("insert %d: unexpected error: %v", i, err)
		}
	}
	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Entries) != 4 {
		t.Fatalf("expected 4 stored entries, got %d", len(snap.Entries))
	}
}

func TestModelMismatchAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, _ := NewVectorDBManager(dir, "pdf_rag", false, "")
	idx, _ := index.Open(ctx, store)
	if _, err := idx.Insert(ctx, testChunks()[:1], axisEmbedder{model: "test:axis"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store, _ = NewVectorDBManager(dir, "pdf_rag", false, "")
	idx, err := index.Open(ctx, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = idx.Insert(ctx, testChunks()[1:], axisEmbedder{model: "test:other"})
	if !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	if err := store.Save(ctx, "test:other", nil); err != nil {
		t.Fatalf("empty save should be a no-op, got %v", err)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	key := "0123456789abcdef0123456789abcdef"
	emb := axisEmbedder{model: "test:axis"}

	src, err := NewVectorDBManager(t.TempDir(), "pdf_rag", false, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx, _ := index.Open(ctx, src)
	if _, err := idx.Insert(ctx, testChunks(), emb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	file := filepath.Join(t.TempDir(), "pdf_rag.gob.enc")
	if err := src.Export(file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dst, err := NewVectorDBManager(t.TempDir(), "pdf_rag", false, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := dst.Import(file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	imported, err := index.Open(ctx, dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if imported.Len() != 4 || imported.Model() != "test:axis" {
		t.Fatalf("unexpected imported index: %d entries, model %q", imported.Len(), imported.Model())
	}
}

func TestImportReplacesCollectionOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := axisEmbedder{model: "test:axis"}
	chunks := testChunks()

	store, err := NewVectorDBManager(dir, "pdf_rag", false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx, _ := index.Open(ctx, store)
	if _, err := idx.Insert(ctx, chunks[:1], emb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	file := filepath.Join(t.TempDir(), "pdf_rag.gob")
	if err := store.Export(file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := idx.Insert(ctx, chunks[1:], emb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Import(file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopenedStore, err := NewVectorDBManager(dir, "pdf_rag", false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reopened, err := index.Open(ctx, reopenedStore)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reopened.Len() != 1 {
		t.Fatalf("expected the exported entry only after reopen, got %d entries", reopened.Len())
	}
	if got := reopened.Entries()[0].Chunk.Text; got != chunks[0].Text {
		t.Fatalf("unexpected entry after reopen: %q", got)
	}
}

func TestImportBadKeyKeepsCollection(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	src, _ := NewVectorDBManager(t.TempDir(), "pdf_rag", false, "0123456789abcdef0123456789abcdef")
	idx, _ := index.Open(ctx, src)
	if _, err := idx.Insert(ctx, testChunks()[:1], axisEmbedder{model: "test:axis"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	file := filepath.Join(t.TempDir(), "pdf_rag.gob.enc")
	if err := src.Export(file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dst, _ := NewVectorDBManager(dir, "pdf_rag", false, "fedcba9876543210fedcba9876543210")
	dstIdx, _ := index.Open(ctx, dst)
	if _, err := dstIdx.Insert(ctx, testChunks(), axisEmbedder{model: "test:axis"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := dst.Import(file); err == nil {
		t.Fatal("expected an error importing with the wrong key")
	}

	reopenedStore, _ := NewVectorDBManager(dir, "pdf_rag", false, "")
	reopened, err := index.Open(ctx, reopenedStore)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reopened.Len() != 4 {
		t.Fatalf("expected the collection to survive a failed import, got %d entries", reopened.Len())
	}
}

func TestInMemory(t *testing.T) {
	store, err := NewVectorDBManager("", "pdf_rag", false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Entries) != 0 || snap.Model != "" {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, _ := NewVectorDBManager(dir, "pdf_rag", false, "")
	idx, _ := index.Open(ctx, store)
	if _, err := idx.Insert(ctx, testChunks(), axisEmbedder{model: "test:axis"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := NewVectorDBManager(dir, "pdf_rag", false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Entries) != 0 || snap.Model != "" {
		t.Fatalf("expected empty collection after reset, got %d entries, model %q", len(snap.Entries), snap.Model)
	}
}
