package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/loomchat/loom-memory/internal/api"
	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/service"
)

type KnowledgeBase interface {
	AddDocument(ctx context.Context, path string) (*domain.Document, error)
	RemoveDocument(ctx context.Context, id string) error
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context) ([]*domain.Document, error)
	Query(ctx context.Context, text string, opts service.KnowledgeQueryOptions) (*service.KnowledgeQueryResult, error)
	HybridSearch(ctx context.Context, query string, keywords []string) ([]service.ScoredChunk, error)
}

type DocumentHandler struct {
	kb KnowledgeBase
}

func NewDocumentHandler(kb KnowledgeBase) *DocumentHandler {
	return &DocumentHandler{kb: kb}
}

type AddDocumentRequest struct {
	Path string `json:"path"`
}

type DocumentResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Type      string   `json:"type"`
	Size      int64    `json:"size"`
	Hash      string   `json:"hash"`
	Keywords  []string `json:"keywords"`
	Language  string   `json:"language,omitempty"`
	Summary   string   `json:"summary"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:        d.ID,
		Name:      d.Name,
		Path:      d.Path,
		Type:      string(d.Type),
		Size:      d.Size,
		Hash:      d.Hash,
		Keywords:  d.Keywords,
		Language:  d.Language,
		Summary:   d.Summary,
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *DocumentHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		api.Error(w, http.StatusBadRequest, "path is required")
		return
	}

	doc, err := h.kb.AddDocument(r.Context(), req.Path)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, documentToResponse(doc))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	doc, err := h.kb.GetDocument(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.kb.ListDocuments(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*DocumentResponse, len(docs))
	for i, d := range docs {
		items[i] = documentToResponse(d)
	}

	api.Success(w, http.StatusOK, items)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.kb.RemoveDocument(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}

type QueryDocumentsRequest struct {
	Query       string   `json:"query"`
	MaxTokens   int      `json:"max_tokens"`
	MinScore    float64  `json:"min_score"`
	FileTypes   []string `json:"file_types"`
	DocumentIDs []string `json:"document_ids"`
	Limit       int      `json:"limit"`
}

func (h *DocumentHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	fileTypes := make([]domain.DocumentType, len(req.FileTypes))
	for i, t := range req.FileTypes {
		fileTypes[i] = domain.DocumentType(t)
	}

	result, err := h.kb.Query(r.Context(), req.Query, service.KnowledgeQueryOptions{
		MaxTokens:   req.MaxTokens,
		MinScore:    req.MinScore,
		FileTypes:   fileTypes,
		DocumentIDs: req.DocumentIDs,
		Limit:       req.Limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	type sourceResponse struct {
		DocumentID   string  `json:"document_id"`
		DocumentName string  `json:"document_name"`
		Path         string  `json:"path"`
		Type         string  `json:"type"`
		Section      string  `json:"section,omitempty"`
		StartLine    int     `json:"start_line"`
		EndLine      int     `json:"end_line"`
		Score        float64 `json:"score"`
	}

	sources := make([]sourceResponse, len(result.Sources))
	for i, s := range result.Sources {
		sources[i] = sourceResponse{
			DocumentID:   s.DocumentID,
			DocumentName: s.DocumentName,
			Path:         s.Path,
			Type:         string(s.Type),
			Section:      s.Section,
			StartLine:    s.StartLine,
			EndLine:      s.EndLine,
			Score:        s.Score,
		}
	}

	api.Success(w, http.StatusOK, map[string]interface{}{
		"context":     result.Context,
		"sources":     sources,
		"token_count": result.TokenCount,
		"cache_hit":   result.CacheHit,
	})
}

type HybridSearchRequest struct {
	Query    string   `json:"query"`
	Keywords []string `json:"keywords"`
}

func (h *DocumentHandler) HybridSearch(w http.ResponseWriter, r *http.Request) {
	var req HybridSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	matches, err := h.kb.HybridSearch(r.Context(), req.Query, req.Keywords)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	type chunkResponse struct {
		ID         string  `json:"id"`
		DocumentID string  `json:"document_id"`
		Content    string  `json:"content"`
		Section    string  `json:"section,omitempty"`
		StartLine  int     `json:"start_line"`
		EndLine    int     `json:"end_line"`
		Score      float64 `json:"score"`
	}

	items := make([]chunkResponse, len(matches))
	for i, m := range matches {
		items[i] = chunkResponse{
			ID:         m.Chunk.ID,
			DocumentID: m.Chunk.DocumentID,
			Content:    m.Chunk.Content,
			Section:    m.Chunk.Section,
			StartLine:  m.Chunk.StartLine,
			EndLine:    m.Chunk.EndLine,
			Score:      m.Score,
		}
	}

	api.Success(w, http.StatusOK, items)
}
