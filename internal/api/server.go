package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pdf-rag/internal/index"
	"pdf-rag/internal/models"
	"pdf-rag/internal/rag"
)

// Pipeline is the part of the RAG pipeline served over HTTP.
type Pipeline interface {
	Ingest(ctx context.Context, path string) (index.Handle, error)
	Ask(ctx context.Context, question string, opts ...rag.AskOption) (models.Answer, error)
	Stats() rag.Stats
}

// Server is the HTTP API of the pipeline.
type Server struct {
	router   chi.Router
	pipeline Pipeline
	apiKey   string
}

// NewServer creates and configures the HTTP server. An empty apiKey disables
// authentication.
func NewServer(p Pipeline, apiKey string) *Server {
	s := &Server{pipeline: p, apiKey: apiKey}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.apiKey != "" {
			r.Use(AuthMiddleware(s.apiKey))
		}
		r.Post("/api/ingest", s.handleIngest)
		r.Post("/api/ask", s.handleAsk)
		r.Get("/api/status", s.handleStatus)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
