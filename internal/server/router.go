package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/loomchat/loom-memory/internal/api"
	"github.com/loomchat/loom-memory/internal/api/handlers"
	"github.com/loomchat/loom-memory/internal/api/middleware"
)

type RouterConfig struct {
	APIKey          string
	MemoryHandler   *handlers.MemoryHandler
	DocumentHandler *handlers.DocumentHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKey))

		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Route("/facts", func(r chi.Router) {
				r.Post("/", cfg.MemoryHandler.AddFact)
				r.Get("/", cfg.MemoryHandler.ListFacts)
			})
			r.Post("/summaries", cfg.MemoryHandler.AddSummary)
			r.Post("/relationships", cfg.MemoryHandler.AddRelationship)

			r.Route("/memory", func(r chi.Router) {
				r.Get("/", cfg.MemoryHandler.GetSharedMemory)
				r.Post("/search", cfg.MemoryHandler.SearchMemory)
				r.Post("/semantic-search", cfg.MemoryHandler.SemanticSearch)
				r.Post("/relevant", cfg.MemoryHandler.GetRelevantMemory)
				r.Post("/extract", cfg.MemoryHandler.Extract)
				r.Post("/relevance", cfg.MemoryHandler.UpdateRelevance)
				r.Post("/cleanup", cfg.MemoryHandler.Cleanup)
				r.Get("/stats", cfg.MemoryHandler.Stats)
			})
		})

		r.Patch("/facts/{id}", cfg.MemoryHandler.UpdateFact)
		r.Delete("/facts/{id}", cfg.MemoryHandler.DeleteFact)
		r.Delete("/summaries/{id}", cfg.MemoryHandler.DeleteSummary)
		r.Delete("/relationships/{id}", cfg.MemoryHandler.DeleteRelationship)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", cfg.DocumentHandler.Add)
			r.Get("/", cfg.DocumentHandler.List)
			r.Get("/{id}", cfg.DocumentHandler.Get)
			r.Delete("/{id}", cfg.DocumentHandler.Delete)
			r.Post("/query", cfg.DocumentHandler.Query)
			r.Post("/hybrid-search", cfg.DocumentHandler.HybridSearch)
		})
	})

	return r
}
