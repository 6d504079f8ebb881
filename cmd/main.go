package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/api"
	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/chunker"
	"pdf-rag/internal/config"
	"pdf-rag/internal/db"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/index"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/tui"
)

const configFilePath = "./configs/config.yaml"

var exampleQuestions = []string{
	"What is the main topic of the document?",
	"What are the key points?",
	"What conclusions does the document reach?",
}

// resetter is implemented by the durable backings.
type resetter interface {
	Reset(ctx context.Context) error
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Path to the PDF (or other supported document) to ingest")
	query := flag.String("query", "", "Question to be answered")
	topK := flag.Int("k", 0, "Number of chunks to retrieve (default from config)")
	interactive := flag.Bool("interactive", false, "Ask questions in an interactive terminal UI")
	serve := flag.Bool("serve", false, "Serve the HTTP API")
	dryRun := flag.Bool("dry-run", false, "Load and split the document only, do not embed or store")
	reset := flag.Bool("reset", false, "Remove every entry from the durable index before starting")
	exportPath := flag.String("export", "", "Export the chromem collection to this file and exit")
	importPath := flag.String("import", "", "Import the chromem collection from this file and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.Log.Level).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)
	log.Debug().Interface("rag", cfg.RAG).Interface("index", cfg.Index).Msg("Loaded config")

	k := cfg.RAG.TopK
	if *topK > 0 {
		k = *topK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dryRun {
		if *filePath == "" {
			log.Fatal().Msg("Please provide a document with the -file flag")
		}
		splitOnly(ctx, cfg, *filePath)
		return
	}

	backing, err := openBacking(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Index.Backend).Msg("Error opening index backing")
	}

	err = run(ctx, cfg, backing, runOptions{
		filePath:    *filePath,
		query:       *query,
		k:           k,
		interactive: *interactive,
		serve:       *serve,
		reset:       *reset,
		exportPath:  *exportPath,
		importPath:  *importPath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("pdf-rag failed")
	}
}

type runOptions struct {
	filePath    string
	query       string
	k           int
	interactive bool
	serve       bool
	reset       bool
	exportPath  string
	importPath  string
}

// run owns the backing; it is closed on every return path.
func run(ctx context.Context, cfg *config.Config, backing index.Backing, o runOptions) error {
	if backing != nil {
		defer func() {
			if err := backing.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing index backing")
			}
		}()
	}

	if o.exportPath != "" || o.importPath != "" {
		return transfer(backing, o.exportPath, o.importPath)
	}
	if o.reset {
		r, ok := backing.(resetter)
		if !ok {
			return fmt.Errorf("the %s index backend has nothing to reset", cfg.Index.Backend)
		}
		if err := r.Reset(ctx); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
	}

	pipeline, idx, err := newPipeline(ctx, cfg, backing)
	if err != nil {
		return err
	}

	filePath, query, k := o.filePath, o.query, o.k
	if filePath != "" {
		if _, err := pipeline.Ingest(ctx, filePath); err != nil {
			return fmt.Errorf("ingest %s: %w", filePath, err)
		}
	}

	switch {
	case query != "":
		return ask(ctx, pipeline, query, k)
	case o.interactive:
		summary := fmt.Sprintf("%d chunks indexed with %s", idx.Len(), idx.Model())
		if err := tui.Run(ctx, pipeline, k, summary); err != nil {
			return fmt.Errorf("interactive mode: %w", err)
		}
		return nil
	case o.serve:
		return serveHTTP(ctx, cfg, pipeline)
	case filePath != "":
		for _, q := range exampleQuestions {
			if err := ask(ctx, pipeline, q, k); err != nil {
				return err
			}
		}
		return nil
	}
	flag.Usage()
	return errors.New("nothing to do: pass -file, -query, -interactive or -serve")
}

func openBacking(ctx context.Context, cfg *config.Config) (index.Backing, error) {
	switch cfg.Index.Backend {
	case config.BackendChromem:
		return chromemdb.NewVectorDBManager(cfg.Index.PersistDir, cfg.Index.Collection, cfg.Index.Compress, cfg.RAG.EncryptionKey)
	case config.BackendPostgres:
		return db.Open(ctx, cfg.Database, cfg.Index.Collection)
	}
	return nil, nil
}

func newPipeline(ctx context.Context, cfg *config.Config, backing index.Backing) (*rag.RAG, *index.Index, error) {
	idx := index.New()
	if backing != nil {
		var err error
		idx, err = index.Open(ctx, backing)
		if err != nil {
			return nil, nil, fmt.Errorf("open index: %w", err)
		}
	}

	embedder, err := embedding.NewFromConfig(&cfg.EmbedLLM)
	if err != nil {
		return nil, nil, fmt.Errorf("init embedder: %w", err)
	}
	generator, err := llmservice.NewGenerator(&cfg.InferenceLLM)
	if err != nil {
		return nil, nil, fmt.Errorf("init generator: %w", err)
	}

	pipeline, err := rag.NewRAG(parser.NewLoader(), idx, embedder, generator, rag.Options{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		TopK:         cfg.RAG.TopK,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create pipeline: %w", err)
	}
	return pipeline, idx, nil
}

func splitOnly(ctx context.Context, cfg *config.Config, filePath string) {
	doc, err := parser.NewLoader().Load(ctx, filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing document")
	}
	chunks, err := chunker.Split(doc, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		log.Fatal().Err(err).Msg("Error splitting document")
	}

	longest := 0
	for _, c := range chunks {
		longest = max(longest, c.Length)
	}
	helper.PrettyPrint(map[string]any{
		"path":          filePath,
		"pages":         len(doc.Pages),
		"chunks":        len(chunks),
		"chunk_size":    cfg.RAG.ChunkSize,
		"chunk_overlap": cfg.RAG.ChunkOverlap,
		"longest_chunk": longest,
	})
}

func transfer(backing index.Backing, exportPath, importPath string) error {
	store, ok := backing.(*chromemdb.VectorDBManager)
	if !ok {
		return errors.New("export and import need the chromem index backend")
	}
	if exportPath != "" {
		if err := store.Export(exportPath); err != nil {
			return fmt.Errorf("export collection: %w", err)
		}
		log.Info().Str("file", exportPath).Msg("Exported collection")
	}
	if importPath != "" {
		if err := store.Import(importPath); err != nil {
			return fmt.Errorf("import collection: %w", err)
		}
	}
	return nil
}

func ask(ctx context.Context, pipeline *rag.RAG, query string, k int) error {
	answer, err := pipeline.Ask(ctx, query, rag.WithTopK(k))
	if errors.Is(err, models.ErrPipelineNotReady) {
		return fmt.Errorf("nothing indexed yet, provide a document with the -file flag: %w", err)
	}
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, s := range answer.Sources {
		fmt.Println(s)
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Text)
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, pipeline *rag.RAG) error {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(pipeline, cfg.Server.APIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down server")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("Serving HTTP API")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
