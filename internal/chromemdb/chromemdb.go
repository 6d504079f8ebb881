package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"pdf-rag/internal/helper"
	"pdf-rag/internal/index"
	"pdf-rag/internal/models"
)

const manifestFile = "manifest.yaml"

// metadata keys stored on every chromem document
const (
	metaPath   = "path"
	metaPage   = "page"
	metaOffset = "offset"
	metaLength = "length"
	metaSeq    = "seq"
)

// Manifest records what the collection was built with.
type Manifest struct {
	Collection string `yaml:"collection"`
	Model      string `yaml:"model"`
	Dimension  int    `yaml:"dimension"`
}

// VectorDBManager keeps index entries in a chromem-go collection. It
// implements index.Backing.
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	compress      bool
	encryptionKey string
	manifest      Manifest
}

var _ index.Backing = (*VectorDBManager)(nil)

// NewVectorDBManager opens (or creates) the collection under dbPath. An empty
// dbPath keeps everything in memory.
func NewVectorDBManager(dbPath, collectionName string, compress bool, encryptionKey string) (*VectorDBManager, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(dbPath); err != nil {
			return nil, err
		}
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	c, err := db.GetOrCreateCollection(collectionName, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}

	m := &VectorDBManager{
		db:            db,
		collection:    c,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
		manifest:      Manifest{Collection: collectionName},
	}
	if err := m.readManifest(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("path", dbPath).
		Str("collection", collectionName).
		Int("documents", c.Count()).
		Msg("Opened chromem collection")
	return m, nil
}

// refuseEmbedding is the collection's embedding function. Embeddings always
// come from the index, so chromem must never compute one itself.
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromemdb: documents must carry their embedding")
}

func (m *VectorDBManager) Manifest() Manifest {
	return m.manifest
}

// Load returns every stored entry. Order is restored by the caller from Seq.
func (m *VectorDBManager) Load(ctx context.Context) (index.Snapshot, error) {
	snap := index.Snapshot{Model: m.manifest.Model, Dimension: m.manifest.Dimension}
	count := m.collection.Count()
	if count == 0 {
		return snap, nil
	}
	if m.manifest.Dimension <= 0 {
		return snap, fmt.Errorf("collection %s holds %d documents but %s has no dimension", m.manifest.Collection, count, manifestFile)
	}

	// chromem has no listing call; a query for all documents enumerates them.
	axis := make([]float32, m.manifest.Dimension)
	axis[0] = 1
	results, err := m.collection.QueryEmbedding(ctx, axis, count, nil, nil)
	if err != nil {
		return snap, fmt.Errorf("failed to read collection: %w", err)
	}

	snap.Entries = make([]models.IndexEntry, 0, len(results))
	for _, r := range results {
		e, err := entryFromResult(r)
		if err != nil {
			return snap, err
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, nil
}

// Save upserts entries. On failure the documents written by this call are
// rolled back to their previous state.
func (m *VectorDBManager) Save(ctx context.Context, model string, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if m.manifest.Model != "" && m.manifest.Model != model {
		return models.NewError(models.ErrInvalidConfiguration, "chromemdb.save", model,
			fmt.Errorf("collection %s was built with embedding model %s", m.manifest.Collection, m.manifest.Model))
	}

	previous := make(map[string]chromem.Document, len(entries))
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if old, err := m.collection.GetByID(ctx, e.ID); err == nil {
			previous[e.ID] = old
		}
		docs[i] = toDocument(e)
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		m.rollback(docs, previous)
		return fmt.Errorf("failed to add documents: %w", err)
	}

	manifest := m.manifest
	manifest.Model = model
	manifest.Dimension = len(entries[0].Embedding)
	if err := m.writeManifest(manifest); err != nil {
		m.rollback(docs, previous)
		return err
	}
	m.manifest = manifest
	return nil
}

func (m *VectorDBManager) rollback(docs []chromem.Document, previous map[string]chromem.Document) {
	ctx := context.Background()
	var restore []chromem.Document
	for _, d := range docs {
		if old, ok := previous[d.ID]; ok {
			restore = append(restore, old)
			continue
		}
		if err := m.collection.Delete(ctx, nil, nil, d.ID); err != nil {
			log.Warn().Err(err).Str("id", d.ID).Msg("Rollback could not delete document")
		}
	}
	if len(restore) > 0 {
		if err := m.collection.AddDocuments(ctx, restore, runtime.NumCPU()); err != nil {
			log.Warn().Err(err).Int("documents", len(restore)).Msg("Rollback could not restore documents")
		}
	}
}

// Reset drops the collection and its manifest and starts an empty one.
func (m *VectorDBManager) Reset(ctx context.Context) error {
	name := m.manifest.Collection
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	c, err := m.db.GetOrCreateCollection(name, nil, refuseEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	m.collection = c
	m.manifest = Manifest{Collection: name}
	if m.dbPath != "" {
		err := os.Remove(filepath.Join(m.dbPath, manifestFile))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", manifestFile, err)
		}
	}
	log.Info().Str("collection", name).Msg("Reset collection")
	return nil
}

// Close is a no-op; chromem writes every document as it is added.
func (m *VectorDBManager) Close() error {
	return nil
}

// Export writes the collection to filePath, encrypted when an encryption key
// is configured, with the manifest next to it.
func (m *VectorDBManager) Export(filePath string) error {
	if filePath == "" {
		return fmt.Errorf("export path is required")
	}
	log.Debug().
		Str("collection", m.manifest.Collection).
		Str("file", filePath).
		Bool("compress", m.compress).
		Bool("encrypted", m.encryptionKey != "").
		Msg("Exporting collection")

	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, m.manifest.Collection); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return writeYAML(filePath+".yaml", m.manifest)
}

// Import replaces the collection with the one exported to filePath. Documents
// missing from the export are removed from disk as well.
func (m *VectorDBManager) Import(filePath string) error {
	var manifest Manifest
	if err := readYAML(filePath+".yaml", &manifest); err != nil {
		return fmt.Errorf("failed to read export manifest: %w", err)
	}
	if manifest.Collection != m.manifest.Collection {
		return fmt.Errorf("export holds collection %q, expected %q", manifest.Collection, m.manifest.Collection)
	}

	// decode into a scratch DB first so a bad file or key leaves the collection alone
	scratch := chromem.NewDB()
	if err := scratch.ImportFromFile(filePath, m.encryptionKey, m.manifest.Collection); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	if scratch.GetCollection(m.manifest.Collection, refuseEmbedding) == nil {
		return fmt.Errorf("export %s does not contain collection %s", filePath, m.manifest.Collection)
	}

	if err := m.db.DeleteCollection(m.manifest.Collection); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, m.manifest.Collection); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	c := m.db.GetCollection(m.manifest.Collection, refuseEmbedding)
	if c == nil {
		return fmt.Errorf("collection %s missing after import", m.manifest.Collection)
	}
	m.collection = c
	if err := m.writeManifest(manifest); err != nil {
		return err
	}
	m.manifest = manifest
	log.Info().Str("file", filePath).Int("documents", c.Count()).Msg("Imported collection")
	return nil
}

func (m *VectorDBManager) readManifest() error {
	if m.dbPath == "" {
		return nil
	}
	var manifest Manifest
	err := readYAML(filepath.Join(m.dbPath, manifestFile), &manifest)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", manifestFile, err)
	}
	if manifest.Collection != "" && manifest.Collection != m.manifest.Collection {
		// another collection in the same directory; it has no manifest of its own yet
		return nil
	}
	manifest.Collection = m.manifest.Collection
	m.manifest = manifest
	return nil
}

func (m *VectorDBManager) writeManifest(manifest Manifest) error {
	if m.dbPath == "" {
		return nil
	}
	if err := writeYAML(filepath.Join(m.dbPath, manifestFile), manifest); err != nil {
		return fmt.Errorf("failed to write %s: %w", manifestFile, err)
	}
	return nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func toDocument(e models.IndexEntry) chromem.Document {
	return chromem.Document{
		ID:      e.ID,
		Content: e.Chunk.Text,
		Metadata: map[string]string{
			metaPath:   e.Chunk.Source.Path,
			metaPage:   strconv.Itoa(e.Chunk.Source.Page),
			metaOffset: strconv.Itoa(e.Chunk.Offset),
			metaLength: strconv.Itoa(e.Chunk.Length),
			metaSeq:    strconv.Itoa(e.Seq),
		},
		Embedding: e.Embedding,
	}
}

func entryFromResult(r chromem.Result) (models.IndexEntry, error) {
	ints := make(map[string]int, 4)
	for _, key := range []string{metaPage, metaOffset, metaLength, metaSeq} {
		v, err := strconv.Atoi(r.Metadata[key])
		if err != nil {
			return models.IndexEntry{}, fmt.Errorf("document %s: bad %s metadata %q: %w", r.ID, key, r.Metadata[key], err)
		}
		ints[key] = v
	}
	return models.IndexEntry{
		ID: r.ID,
		Chunk: models.Chunk{
			Text:   r.Content,
			Source: models.DocumentRef{Path: r.Metadata[metaPath], Page: ints[metaPage]},
			Offset: ints[metaOffset],
			Length: ints[metaLength],
		},
		Embedding: r.Embedding,
		Seq:       ints[metaSeq],
	}, nil
}
