package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKnowledgeBase struct {
	mock.Mock
}

func (m *MockKnowledgeBase) AddDocument(ctx context.Context, path string) (*domain.Document, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockKnowledgeBase) RemoveDocument(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockKnowledgeBase) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockKnowledgeBase) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockKnowledgeBase) Query(ctx context.Context, text string, opts service.KnowledgeQueryOptions) (*service.KnowledgeQueryResult, error) {
	args := m.Called(ctx, text, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.KnowledgeQueryResult), args.Error(1)
}

func (m *MockKnowledgeBase) HybridSearch(ctx context.Context, query string, keywords []string) ([]service.ScoredChunk, error) {
	args := m.Called(ctx, query, keywords)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.ScoredChunk), args.Error(1)
}

func newTestDocument() *domain.Document {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Document{
		ID:        "doc-1",
		Name:      "notes.md",
		Path:      "/docs/notes.md",
		Type:      domain.DocumentTypeMarkdown,
		Size:      120,
		Hash:      "abc123",
		Keywords:  []string{"notes"},
		Summary:   "# Notes",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestDocumentHandler_Add(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		handler := NewDocumentHandler(kb)

		kb.On("AddDocument", mock.Anything, "/docs/notes.md").Return(newTestDocument(), nil)

		body := `{"path":"/docs/notes.md"}`
		req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader([]byte(body)))
		w := httptest.NewRecorder()
		handler.Add(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, "doc-1", data["id"])
		assert.Equal(t, "markdown", data["type"])
		kb.AssertExpectations(t)
	})

	t.Run("missing path", func(t *testing.T) {
		handler := NewDocumentHandler(new(MockKnowledgeBase))

		req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()
		handler.Add(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported document maps to 400", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		handler := NewDocumentHandler(kb)

		kb.On("AddDocument", mock.Anything, "/bin/app.exe").Return(nil, domain.ErrUnsupportedDocument)

		req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader([]byte(`{"path":"/bin/app.exe"}`)))
		w := httptest.NewRecorder()
		handler.Add(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDocumentHandler_Get(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		handler := NewDocumentHandler(kb)

		kb.On("GetDocument", mock.Anything, "doc-1").Return(newTestDocument(), nil)

		w := httptest.NewRecorder()
		handler.Get(w, idRequest(http.MethodGet, "/documents/doc-1", "doc-1", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "notes.md", decodeData(t, w)["name"])
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		handler := NewDocumentHandler(kb)

		kb.On("GetDocument", mock.Anything, "missing").Return(nil, domain.ErrDocumentNotFound)

		w := httptest.NewRecorder()
		handler.Get(w, idRequest(http.MethodGet, "/documents/missing", "missing", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDocumentHandler_List(t *testing.T) {
	kb := new(MockKnowledgeBase)
	handler := NewDocumentHandler(kb)

	kb.On("ListDocuments", mock.Anything).Return([]*domain.Document{newTestDocument()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	items := resp["data"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "doc-1", items[0].(map[string]interface{})["id"])
}

func TestDocumentHandler_Delete(t *testing.T) {
	t.Run("success returns 204", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		handler := NewDocumentHandler(kb)

		kb.On("RemoveDocument", mock.Anything, "doc-1").Return(nil)

		w := httptest.NewRecorder()
		handler.Delete(w, idRequest(http.MethodDelete, "/documents/doc-1", "doc-1", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		kb.AssertExpectations(t)
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		handler := NewDocumentHandler(kb)

		kb.On("RemoveDocument", mock.Anything, "missing").Return(domain.ErrDocumentNotFound)

		w := httptest.NewRecorder()
		handler.Delete(w, idRequest(http.MethodDelete, "/documents/missing", "missing", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDocumentHandler_Query(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		handler := NewDocumentHandler(kb)

		kb.On("Query", mock.Anything, "how do deploys work", mock.MatchedBy(func(o service.KnowledgeQueryOptions) bool {
			return o.MaxTokens == 800 && len(o.FileTypes) == 1 && o.FileTypes[0] == domain.DocumentTypeMarkdown
		})).Return(&service.KnowledgeQueryResult{
			Context: "### Knowledge Base ###\n- markdown: /docs/notes.md\nrun the deploy script\n",
			Sources: []service.KnowledgeSource{{
				DocumentID:   "doc-1",
				DocumentName: "notes.md",
				Path:         "/docs/notes.md",
				Type:         domain.DocumentTypeMarkdown,
				StartLine:    1,
				EndLine:      3,
				Score:        0.8,
			}},
			TokenCount: 18,
			CacheHit:   true,
		}, nil)

		body := `{"query":"how do deploys work","max_tokens":800,"file_types":["markdown"]}`
		req := httptest.NewRequest(http.MethodPost, "/documents/query", bytes.NewReader([]byte(body)))
		w := httptest.NewRecorder()
		handler.Query(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, true, data["cache_hit"])
		assert.Equal(t, float64(18), data["token_count"])
		sources := data["sources"].([]interface{})
		require.Len(t, sources, 1)
		src := sources[0].(map[string]interface{})
		assert.Equal(t, "doc-1", src["document_id"])
		assert.Equal(t, float64(1), src["start_line"])
	})

	t.Run("missing query", func(t *testing.T) {
		handler := NewDocumentHandler(new(MockKnowledgeBase))

		req := httptest.NewRequest(http.MethodPost, "/documents/query", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()
		handler.Query(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDocumentHandler_HybridSearch(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		handler := NewDocumentHandler(kb)

		kb.On("HybridSearch", mock.Anything, "deploy", []string{"script"}).Return([]service.ScoredChunk{{
			Chunk: &domain.DocumentChunk{
				ID:         "c-1",
				DocumentID: "doc-1",
				Content:    "run the deploy script",
				StartLine:  1,
				EndLine:    1,
			},
			Score: 0.75,
		}}, nil)

		body := `{"query":"deploy","keywords":["script"]}`
		req := httptest.NewRequest(http.MethodPost, "/documents/hybrid-search", bytes.NewReader([]byte(body)))
		w := httptest.NewRecorder()
		handler.HybridSearch(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		items := resp["data"].([]interface{})
		require.Len(t, items, 1)
		chunk := items[0].(map[string]interface{})
		assert.Equal(t, "c-1", chunk["id"])
		assert.Equal(t, 0.75, chunk["score"])
	})

	t.Run("missing query", func(t *testing.T) {
		handler := NewDocumentHandler(new(MockKnowledgeBase))

		req := httptest.NewRequest(http.MethodPost, "/documents/hybrid-search", bytes.NewReader([]byte(`{"keywords":["x"]}`)))
		w := httptest.NewRecorder()
		handler.HybridSearch(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
