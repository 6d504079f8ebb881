package main

import (
	"context"
	"errors"
	"testing"

	"pdf-rag/internal/config"
	"pdf-rag/internal/index"
	"pdf-rag/internal/models"
)

type countingBacking struct {
	closes int
}

func (b *countingBacking) Load(context.Context) (index.Snapshot, error) {
	return index.Snapshot{}, nil
}

func (b *countingBacking) Save(context.Context, string, []models.IndexEntry) error {
	return nil
}

func (b *countingBacking) Close() error {
	b.closes++
	return nil
}

func TestRun_ClosesBackingOnFailure(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		opts   runOptions
		kind   error
	}{
		{name: "reset unsupported", opts: runOptions{reset: true}},
		{name: "export needs chromem", opts: runOptions{exportPath: "out.gob"}},
		{
			name:   "bad embedder",
			mutate: func(c *config.Config) { c.EmbedLLM.Provider = "bogus" },
			opts:   runOptions{query: "anything?"},
			kind:   models.ErrInvalidConfiguration,
		},
		{name: "nothing indexed", opts: runOptions{query: "anything?", k: 3}, kind: models.ErrPipelineNotReady},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			if tc.mutate != nil {
				tc.mutate(cfg)
			}
			backing := &countingBacking{}

			err := run(context.Background(), cfg, backing, tc.opts)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.kind != nil && !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if backing.closes != 1 {
				t.Fatalf("expected backing closed once, got %d", backing.closes)
			}
		})
	}
}
