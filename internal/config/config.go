package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pdf-rag/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
	DefaultTopK         = 3
	DefaultPersistDir   = "./chroma_db"
	DefaultCollection   = "pdf_rag"
)

// Index backends.
const (
	BackendMemory   = "memory"
	BackendChromem  = "chromem"
	BackendPostgres = "postgres"
)

type Config struct {
	Log          LogConfig      `yaml:"log"`
	RAG          RAGConfig      `yaml:"rag"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Index        IndexConfig    `yaml:"index"`
	Database     DatabaseConfig `yaml:"database"`
	Server       ServerConfig   `yaml:"server"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type RAGConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	TopK          int    `yaml:"top_k"`
	EncryptionKey string `yaml:"encryption_key"`

	overlapSet bool
}

// UnmarshalYAML records whether chunk_overlap was given, so an explicit 0 is
// kept instead of being replaced by the default.
func (r *RAGConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain RAGConfig
	if err := value.Decode((*plain)(r)); err != nil {
		return err
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "chunk_overlap" {
			r.overlapSet = true
		}
	}
	return nil
}

// LLMConfig describes one model endpoint. Provider is "ollama" or "openai"
// (any OpenAI-compatible API, e.g. OpenRouter).
type LLMConfig struct {
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"base_url"`
	Key       string        `yaml:"key"`
	KeyEnv    string        `yaml:"key_env"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// APIKey returns the configured key, falling back to the environment.
func (c LLMConfig) APIKey() string {
	if c.Key != "" {
		return c.Key
	}
	if c.KeyEnv != "" {
		return os.Getenv(c.KeyEnv)
	}
	return ""
}

type IndexConfig struct {
	Backend    string `yaml:"backend"`
	PersistDir string `yaml:"persist_dir"`
	Collection string `yaml:"collection"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// ServerConfig configures the HTTP API. An empty APIKey disables auth.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the built-in configuration:
// chunk_size=1000, chunk_overlap=100, k=3, a local Ollama for both models.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = DefaultChunkSize
	}
	if cfg.RAG.ChunkOverlap == 0 && !cfg.RAG.overlapSet {
		cfg.RAG.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = DefaultTopK
	}
	llmDefaults(&cfg.EmbedLLM, "nomic-embed-text")
	llmDefaults(&cfg.InferenceLLM, "llama3.2")
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = BackendChromem
	}
	if cfg.Index.PersistDir == "" {
		cfg.Index.PersistDir = DefaultPersistDir
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = DefaultCollection
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

func llmDefaults(c *LLMConfig, model string) {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case "ollama":
			c.BaseURL = "http://localhost:11434"
		case "openai":
			c.BaseURL = "https://api.openai.com/v1"
		}
	}
	if c.Provider == "openai" && c.KeyEnv == "" {
		c.KeyEnv = "OPENAI_API_KEY"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return invalid("rag.chunk_size", fmt.Sprint(c.RAG.ChunkSize), "must be positive")
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return invalid("rag.chunk_overlap", fmt.Sprint(c.RAG.ChunkOverlap),
			fmt.Sprintf("must be in [0, chunk_size=%d)", c.RAG.ChunkSize))
	}
	if c.RAG.TopK < 0 {
		return invalid("rag.top_k", fmt.Sprint(c.RAG.TopK), "must not be negative")
	}
	if k := c.RAG.EncryptionKey; k != "" && len(k) != 32 {
		return invalid("rag.encryption_key", "", "must be 32 bytes long")
	}
	for name, llm := range map[string]LLMConfig{"embed_llm": c.EmbedLLM, "inference_llm": c.InferenceLLM} {
		switch llm.Provider {
		case "ollama", "openai":
		default:
			return invalid(name+".provider", llm.Provider, "must be ollama or openai")
		}
		if llm.Model == "" {
			return invalid(name+".model", "", "is required")
		}
	}
	switch c.Index.Backend {
	case BackendMemory, BackendChromem:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return invalid("database.dsn", "", "is required for the postgres backend")
		}
		if c.Database.Driver != "pgdriver" && c.Database.Driver != "postgres" {
			return invalid("database.driver", c.Database.Driver, "must be pgdriver or postgres")
		}
	default:
		return invalid("index.backend", c.Index.Backend, "must be memory, chromem or postgres")
	}
	return nil
}

func invalid(field, value, reason string) error {
	return models.NewError(models.ErrInvalidConfiguration, "config."+field, value, errors.New(reason))
}
