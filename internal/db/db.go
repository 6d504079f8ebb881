package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-rag/internal/config"
	"pdf-rag/internal/index"
	"pdf-rag/internal/models"
)

// Entry is one index entry row.
type Entry struct {
	bun.BaseModel `bun:"table:index_entries,alias:e"`
	Collection    string          `bun:"collection,pk"`
	ID            string          `bun:"id,pk"`
	Path          string          `bun:"path,notnull"`
	Page          int             `bun:"page,notnull"`
	ChunkOffset   int             `bun:"chunk_offset,notnull"`
	ChunkLength   int             `bun:"chunk_length,notnull"`
	Seq           int             `bun:"seq,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
}

// Meta records the embedding model a collection was built with.
type Meta struct {
	bun.BaseModel `bun:"table:index_meta,alias:m"`
	Collection    string `bun:"collection,pk"`
	Model         string `bun:"model,notnull"`
	Dimension     int    `bun:"dimension,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver: "pgdriver" (bun's
// own) or "postgres" (lib/pq).
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "pgdriver", "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	case "postgres":
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return sqldb, nil
	default:
		return nil, models.NewError(models.ErrInvalidConfiguration, "db.connect", cfg.Driver,
			errors.New("driver must be pgdriver or postgres"))
	}
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Entry)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create index_entries: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Meta)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create index_meta: %w", err)
	}
	return nil
}

// Store keeps one collection of index entries in Postgres. It implements
// index.Backing.
type Store struct {
	db         *bun.DB
	collection string
}

var _ index.Backing = (*Store)(nil)

// Open connects, creates the schema if needed and returns the store for
// collection.
func Open(ctx context.Context, cfg config.DatabaseConfig, collection string) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg.Debug)
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug().Str("collection", collection).Msg("Connected to postgres index")
	return &Store{db: db, collection: collection}, nil
}

func (s *Store) Load(ctx context.Context) (index.Snapshot, error) {
	var snap index.Snapshot

	meta := new(Meta)
	err := s.db.NewSelect().Model(meta).Where("collection = ?", s.collection).Limit(1).Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return snap, nil
	case err != nil:
		return snap, fmt.Errorf("failed to read index_meta: %w", err)
	}
	snap.Model = meta.Model
	snap.Dimension = meta.Dimension

	var rows []Entry
	if err := s.db.NewSelect().
		Model(&rows).
		Where("collection = ?", s.collection).
		Order("seq ASC").
		Scan(ctx); err != nil {
		return snap, fmt.Errorf("failed to read index_entries: %w", err)
	}
	snap.Entries = make([]models.IndexEntry, len(rows))
	for i, r := range rows {
		snap.Entries[i] = fromRow(r)
	}
	return snap, nil
}

// Save upserts entries and the collection's model in one transaction.
func (s *Store) Save(ctx context.Context, model string, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]Entry, len(entries))
	for i, e := range entries {
		rows[i] = toRow(s.collection, e)
	}
	meta := &Meta{Collection: s.collection, Model: model, Dimension: len(entries[0].Embedding)}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(Meta)
		err := tx.NewSelect().Model(existing).Where("collection = ?", s.collection).For("UPDATE").Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read index_meta: %w", err)
		}
		if err == nil && existing.Model != model {
			return models.NewError(models.ErrInvalidConfiguration, "db.save", model,
				fmt.Errorf("collection %s was built with embedding model %s", s.collection, existing.Model))
		}

		if _, err := tx.NewInsert().
			Model(&rows).
			On("CONFLICT (collection, id) DO UPDATE").
			Set("path = EXCLUDED.path").
			Set("page = EXCLUDED.page").
			Set("chunk_offset = EXCLUDED.chunk_offset").
			Set("chunk_length = EXCLUDED.chunk_length").
			Set("seq = EXCLUDED.seq").
			Set("content = EXCLUDED.content").
			Set("embedding = EXCLUDED.embedding").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to upsert %d entries: %w", len(rows), err)
		}
		if _, err := tx.NewInsert().
			Model(meta).
			On("CONFLICT (collection) DO UPDATE").
			Set("model = EXCLUDED.model").
			Set("dimension = EXCLUDED.dimension").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to upsert index_meta: %w", err)
		}
		return nil
	})
}

// Reset removes every entry of the collection.
func (s *Store) Reset(ctx context.Context) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Entry)(nil)).Where("collection = ?", s.collection).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
		if _, err := tx.NewDelete().Model((*Meta)(nil)).Where("collection = ?", s.collection).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete index_meta: %w", err)
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toRow(collection string, e models.IndexEntry) Entry {
	return Entry{
		Collection:  collection,
		ID:          e.ID,
		Path:        e.Chunk.Source.Path,
		Page:        e.Chunk.Source.Page,
		ChunkOffset: e.Chunk.Offset,
		ChunkLength: e.Chunk.Length,
		Seq:         e.Seq,
		Content:     e.Chunk.Text,
		Embedding:   pgvector.NewVector(e.Embedding),
	}
}

func fromRow(r Entry) models.IndexEntry {
	return models.IndexEntry{
		ID: r.ID,
		Chunk: models.Chunk{
			Text:   r.Content,
			Source: models.DocumentRef{Path: r.Path, Page: r.Page},
			Offset: r.ChunkOffset,
			Length: r.ChunkLength,
		},
		Embedding: r.Embedding.Slice(),
		Seq:       r.Seq,
	}
}
