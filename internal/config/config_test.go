package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pdf-rag/internal/models"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RAG.ChunkSize != DefaultChunkSize || cfg.RAG.ChunkOverlap != DefaultChunkOverlap {
		t.Fatalf("expected default chunking, got %d/%d", cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	}
	if cfg.RAG.TopK != 3 {
		t.Fatalf("expected top_k 3, got %d", cfg.RAG.TopK)
	}
	if cfg.Index.Backend != BackendChromem || cfg.Index.PersistDir != DefaultPersistDir {
		t.Fatalf("unexpected index defaults: %+v", cfg.Index)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadConfig_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
rag:
  chunk_size: 50
  chunk_overlap: 10
  top_k: 1
embed_llm:
  provider: openai
  model: text-embedding-3-small
  timeout: 30s
index:
  backend: memory
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RAG.ChunkSize != 50 || cfg.RAG.ChunkOverlap != 10 || cfg.RAG.TopK != 1 {
		t.Fatalf("unexpected rag config: %+v", cfg.RAG)
	}
	if cfg.EmbedLLM.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("expected openai base url default, got %q", cfg.EmbedLLM.BaseURL)
	}
	if cfg.EmbedLLM.KeyEnv != "OPENAI_API_KEY" {
		t.Errorf("expected OPENAI_API_KEY key env, got %q", cfg.EmbedLLM.KeyEnv)
	}
	if cfg.EmbedLLM.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.EmbedLLM.Timeout)
	}
	if cfg.InferenceLLM.Provider != "ollama" {
		t.Errorf("expected ollama inference default, got %q", cfg.InferenceLLM.Provider)
	}
}

func TestLoadConfig_OpenAIWithoutBaseURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
embed_llm:
  provider: openai
  model: text-embedding-3-small
inference_llm:
  provider: openai
  model: gpt-4o-mini
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for name, llm := range map[string]LLMConfig{"embed_llm": cfg.EmbedLLM, "inference_llm": cfg.InferenceLLM} {
		if llm.BaseURL != "https://api.openai.com/v1" {
			t.Errorf("%s: expected openai base url, got %q", name, llm.BaseURL)
		}
	}
}

func TestLoadConfig_ExplicitZeroOverlap(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		yaml string
		want int
	}{
		{name: "explicit zero", yaml: "rag:\n  chunk_size: 80\n  chunk_overlap: 0\n", want: 0},
		{name: "missing", yaml: "rag:\n  chunk_size: 800\n", want: DefaultChunkOverlap},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.RAG.ChunkOverlap != tc.want {
				t.Fatalf("expected overlap %d, got %d", tc.want, cfg.RAG.ChunkOverlap)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_RejectsOverlapNotSmallerThanSize(t *testing.T) {
	cfg := Default()
	cfg.RAG.ChunkSize = 100
	cfg.RAG.ChunkOverlap = 100

	err := cfg.Validate()
	if !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	cfg := Default()
	cfg.Index.Backend = BackendPostgres

	if err := cfg.Validate(); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	cfg.Database.DSN = "postgres://localhost:5432/rag"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLLMConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv("RAG_TEST_KEY", "secret")
	c := LLMConfig{KeyEnv: "RAG_TEST_KEY"}
	if got := c.APIKey(); got != "secret" {
		t.Fatalf("expected key from env, got %q", got)
	}
	c.Key = "inline"
	if got := c.APIKey(); got != "inline" {
		t.Fatalf("expected inline key to win, got %q", got)
	}
}

func TestValidate_EncryptionKeyLength(t *testing.T) {
	cfg := Default()
	cfg.RAG.EncryptionKey = "short"
	if err := cfg.Validate(); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	cfg.RAG.EncryptionKey = "0123456789abcdef0123456789abcdef"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
