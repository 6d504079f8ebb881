package llmservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

// Generator produces an answer for an assembled prompt. Sampling is
// deterministic (temperature 0) and the model output is returned verbatim.
type Generator struct {
	llm       llms.Model
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewGenerator builds a Generator for an Ollama server or an OpenAI-compatible
// endpoint.
func NewGenerator(cfg *config.LLMConfig) (*Generator, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating generator")

	var llm llms.Model
	switch cfg.Provider {
	case "ollama":
		c, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init ollama client: %w", err)
		}
		llm = c
	case "openai":
		c, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.APIKey(), "Bearer ")),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init openai client: %w", err)
		}
		llm = c
	default:
		return nil, models.NewError(models.ErrInvalidConfiguration, "llmservice.new", cfg.Provider,
			fmt.Errorf("unknown provider"))
	}
	return New(llm, cfg.Provider+":"+cfg.Model, cfg.MaxTokens, cfg.Timeout), nil
}

// New wraps an llms.Model. maxTokens and timeout are ignored when not positive.
func New(llm llms.Model, model string, maxTokens int, timeout time.Duration) *Generator {
	return &Generator{llm: llm, model: model, maxTokens: maxTokens, timeout: timeout}
}

func (g *Generator) Model() string {
	return g.model
}

// Generate sends prompt as a single human message. It does not retry.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	opts := []llms.CallOption{llms.WithTemperature(0)}
	if g.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.maxTokens))
	}

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt, opts...)
	if err != nil {
		return "", models.NewError(models.ErrGenerationFailure, "generate", prompt,
			fmt.Errorf("model %s: %w", g.model, err))
	}
	log.Debug().
		Str("model", g.model).
		Int("prompt_chars", len(prompt)).
		Int("answer_chars", len(text)).
		Dur("took", time.Since(start)).
		Msg("Generated answer")
	return text, nil
}
