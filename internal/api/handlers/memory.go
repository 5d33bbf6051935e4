package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/loomchat/loom-memory/internal/api"
	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/extractor"
	"github.com/loomchat/loom-memory/internal/service"
)

type MemoryService interface {
	AddFact(ctx context.Context, conversationID string, fact *domain.MemoryFact) (string, error)
	AddSummary(ctx context.Context, conversationID string, summary *domain.ConversationSummary) (string, error)
	AddRelationship(ctx context.Context, conversationID string, rel *domain.EntityRelationship) (string, error)
	GetSharedMemory(ctx context.Context, conversationID string) (*domain.SharedMemoryContext, error)
	ListFacts(ctx context.Context, conversationID, cursor string, limit int) (*service.FactPageResult, error)
	UpdateFact(ctx context.Context, id string, update service.FactUpdate) error
	DeleteFact(ctx context.Context, id string) error
	DeleteSummary(ctx context.Context, id string) error
	DeleteRelationship(ctx context.Context, id string) error
	SearchMemory(ctx context.Context, conversationID string, q service.MemorySearchQuery) (*service.MemorySearchResult, error)
	SemanticSearch(ctx context.Context, conversationID, query string, opts service.SemanticSearchOptions) (*service.SemanticSearchResult, error)
	GetRelevantMemory(ctx context.Context, conversationID, query string, maxTokens int) (*service.RelevantMemory, error)
	ExtractAndStoreMemory(ctx context.Context, conversationID string, messages []domain.Message, extractionType extractor.ExtractionType) (*service.ExtractionOutcome, error)
	UpdateRelevanceScores(ctx context.Context, conversationID, currentContext string) error
	CleanupMemory(ctx context.Context, conversationID string, retentionDays int) (*domain.CleanupResult, error)
	GetMemoryStats(ctx context.Context, conversationID string) (*domain.MemoryStats, error)
}

type MemoryHandler struct {
	svc MemoryService
}

func NewMemoryHandler(svc MemoryService) *MemoryHandler {
	return &MemoryHandler{svc: svc}
}

type AddFactRequest struct {
	Content        string   `json:"content"`
	Source         string   `json:"source"`
	RelevanceScore float64  `json:"relevance_score"`
	Tags           []string `json:"tags"`
	References     []string `json:"references"`
}

type AddSummaryRequest struct {
	Summary      string    `json:"summary"`
	KeyPoints    []string  `json:"key_points"`
	Participants []string  `json:"participants"`
	MessageCount int       `json:"message_count"`
	RangeStart   time.Time `json:"range_start"`
	RangeEnd     time.Time `json:"range_end"`
	CreatedBy    string    `json:"created_by"`
}

type AddRelationshipRequest struct {
	SourceEntity string   `json:"source_entity"`
	TargetEntity string   `json:"target_entity"`
	Type         string   `json:"type"`
	Confidence   float64  `json:"confidence"`
	Evidence     []string `json:"evidence"`
	CreatedBy    string   `json:"created_by"`
}

type FactResponse struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	Content        string   `json:"content"`
	Source         string   `json:"source"`
	Timestamp      string   `json:"timestamp"`
	RelevanceScore float64  `json:"relevance_score"`
	Tags           []string `json:"tags"`
	Verified       bool     `json:"verified"`
	References     []string `json:"references"`
	HasEmbedding   bool     `json:"has_embedding"`
}

func factToResponse(f *domain.MemoryFact) *FactResponse {
	return &FactResponse{
		ID:             f.ID,
		ConversationID: f.ConversationID,
		Content:        f.Content,
		Source:         f.Source,
		Timestamp:      f.Timestamp.UTC().Format(time.RFC3339),
		RelevanceScore: f.RelevanceScore,
		Tags:           f.Tags,
		Verified:       f.Verified,
		References:     f.References,
		HasEmbedding:   f.Embedding != nil,
	}
}

type SummaryResponse struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	Summary        string   `json:"summary"`
	KeyPoints      []string `json:"key_points"`
	Participants   []string `json:"participants"`
	MessageCount   int      `json:"message_count"`
	RangeStart     string   `json:"range_start"`
	RangeEnd       string   `json:"range_end"`
	CreatedBy      string   `json:"created_by"`
	CreatedAt      string   `json:"created_at"`
}

func summaryToResponse(s *domain.ConversationSummary) *SummaryResponse {
	return &SummaryResponse{
		ID:             s.ID,
		ConversationID: s.ConversationID,
		Summary:        s.Summary,
		KeyPoints:      s.KeyPoints,
		Participants:   s.Participants,
		MessageCount:   s.MessageCount,
		RangeStart:     s.TimeRange.Start.UTC().Format(time.RFC3339),
		RangeEnd:       s.TimeRange.End.UTC().Format(time.RFC3339),
		CreatedBy:      s.CreatedBy,
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type RelationshipResponse struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	SourceEntity   string   `json:"source_entity"`
	TargetEntity   string   `json:"target_entity"`
	Type           string   `json:"type"`
	Confidence     float64  `json:"confidence"`
	Evidence       []string `json:"evidence"`
	CreatedBy      string   `json:"created_by"`
	CreatedAt      string   `json:"created_at"`
}

func relationshipToResponse(r *domain.EntityRelationship) *RelationshipResponse {
	return &RelationshipResponse{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SourceEntity:   r.SourceEntity,
		TargetEntity:   r.TargetEntity,
		Type:           string(r.Type),
		Confidence:     r.Confidence,
		Evidence:       r.Evidence,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *MemoryHandler) AddFact(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	var req AddFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.RelevanceScore < 0 || req.RelevanceScore > 1 {
		api.Error(w, http.StatusBadRequest, "relevance_score must be within [0,1]")
		return
	}

	fact := &domain.MemoryFact{
		Content:        req.Content,
		Source:         req.Source,
		RelevanceScore: req.RelevanceScore,
		Tags:           req.Tags,
		References:     req.References,
	}
	if fact.Source == "" {
		fact.Source = "user"
	}

	id, err := h.svc.AddFact(r.Context(), conversationID, fact)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *MemoryHandler) ListFacts(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.svc.ListFacts(r.Context(), conversationID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*FactResponse, len(page.Items))
	for i, f := range page.Items {
		items[i] = factToResponse(f)
	}

	api.Success(w, http.StatusOK, map[string]interface{}{
		"items":    items,
		"cursor":   page.NextCursor,
		"has_more": page.HasMore,
	})
}

type UpdateFactRequest struct {
	Content        *string  `json:"content"`
	RelevanceScore *float64 `json:"relevance_score"`
	Tags           []string `json:"tags"`
	Verified       *bool    `json:"verified"`
}

func (h *MemoryHandler) UpdateFact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req UpdateFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	update := service.FactUpdate{
		Content:        req.Content,
		RelevanceScore: req.RelevanceScore,
		Tags:           req.Tags,
		Verified:       req.Verified,
	}

	if err := h.svc.UpdateFact(r.Context(), id, update); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"id": id})
}

func (h *MemoryHandler) DeleteFact(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, h.svc.DeleteFact)
}

func (h *MemoryHandler) DeleteSummary(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, h.svc.DeleteSummary)
}

func (h *MemoryHandler) DeleteRelationship(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, h.svc.DeleteRelationship)
}

func (h *MemoryHandler) deleteByID(w http.ResponseWriter, r *http.Request, del func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := del(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusNoContent, nil)
}

func (h *MemoryHandler) AddSummary(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	var req AddSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Summary == "" {
		api.Error(w, http.StatusBadRequest, "summary is required")
		return
	}

	summary := &domain.ConversationSummary{
		Summary:      req.Summary,
		KeyPoints:    req.KeyPoints,
		Participants: req.Participants,
		MessageCount: req.MessageCount,
		TimeRange:    domain.TimeRange{Start: req.RangeStart, End: req.RangeEnd},
		CreatedBy:    req.CreatedBy,
	}

	id, err := h.svc.AddSummary(r.Context(), conversationID, summary)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *MemoryHandler) AddRelationship(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	var req AddRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceEntity == "" || req.TargetEntity == "" {
		api.Error(w, http.StatusBadRequest, "source_entity and target_entity are required")
		return
	}
	if req.Type == "" {
		api.Error(w, http.StatusBadRequest, "type is required")
		return
	}

	rel := &domain.EntityRelationship{
		SourceEntity: req.SourceEntity,
		TargetEntity: req.TargetEntity,
		Type:         domain.RelationshipType(req.Type),
		Confidence:   req.Confidence,
		Evidence:     req.Evidence,
		CreatedBy:    req.CreatedBy,
	}

	id, err := h.svc.AddRelationship(r.Context(), conversationID, rel)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *MemoryHandler) GetSharedMemory(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	memory, err := h.svc.GetSharedMemory(r.Context(), conversationID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	facts := make([]*FactResponse, len(memory.Facts))
	for i, f := range memory.Facts {
		facts[i] = factToResponse(f)
	}
	summaries := make([]*SummaryResponse, len(memory.Summaries))
	for i, s := range memory.Summaries {
		summaries[i] = summaryToResponse(s)
	}
	relationships := make([]*RelationshipResponse, len(memory.Relationships))
	for i, rel := range memory.Relationships {
		relationships[i] = relationshipToResponse(rel)
	}

	api.Success(w, http.StatusOK, map[string]interface{}{
		"conversation_id": memory.ConversationID,
		"facts":           facts,
		"summaries":       summaries,
		"relationships":   relationships,
		"last_updated":    memory.LastUpdated.UTC().Format(time.RFC3339),
		"version":         memory.Version,
	})
}

type SearchMemoryRequest struct {
	Query        string     `json:"query"`
	Type         string     `json:"type"`
	MinRelevance float64    `json:"min_relevance"`
	Since        *time.Time `json:"since"`
	Until        *time.Time `json:"until"`
	Tags         []string   `json:"tags"`
	Source       string     `json:"source"`
	Limit        int        `json:"limit"`
}

func (h *MemoryHandler) SearchMemory(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	var req SearchMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.SearchMemory(r.Context(), conversationID, service.MemorySearchQuery{
		Query:        req.Query,
		Type:         service.MemorySearchType(req.Type),
		MinRelevance: req.MinRelevance,
		Since:        req.Since,
		Until:        req.Until,
		Tags:         req.Tags,
		Source:       req.Source,
		Limit:        req.Limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	facts := make([]*FactResponse, len(result.Facts))
	for i, f := range result.Facts {
		facts[i] = factToResponse(f)
	}
	summaries := make([]*SummaryResponse, len(result.Summaries))
	for i, s := range result.Summaries {
		summaries[i] = summaryToResponse(s)
	}
	relationships := make([]*RelationshipResponse, len(result.Relationships))
	for i, rel := range result.Relationships {
		relationships[i] = relationshipToResponse(rel)
	}

	api.Success(w, http.StatusOK, map[string]interface{}{
		"facts":         facts,
		"summaries":     summaries,
		"relationships": relationships,
		"total_count":   result.TotalCount,
		"elapsed_ms":    result.Elapsed.Milliseconds(),
	})
}

type SemanticSearchRequest struct {
	Query         string  `json:"query"`
	Type          string  `json:"type"`
	Limit         int     `json:"limit"`
	MinSimilarity float64 `json:"min_similarity"`
}

func (h *MemoryHandler) SemanticSearch(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	var req SemanticSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := h.svc.SemanticSearch(r.Context(), conversationID, req.Query, service.SemanticSearchOptions{
		Type:          service.MemorySearchType(req.Type),
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	type scoredFact struct {
		Fact  *FactResponse `json:"fact"`
		Score float64       `json:"score"`
	}
	type scoredSummary struct {
		Summary *SummaryResponse `json:"summary"`
		Score   float64          `json:"score"`
	}
	type scoredRelationship struct {
		Relationship *RelationshipResponse `json:"relationship"`
		Score        float64               `json:"score"`
	}

	facts := make([]scoredFact, len(result.Facts))
	for i, m := range result.Facts {
		facts[i] = scoredFact{Fact: factToResponse(m.Fact), Score: m.Score}
	}
	summaries := make([]scoredSummary, len(result.Summaries))
	for i, m := range result.Summaries {
		summaries[i] = scoredSummary{Summary: summaryToResponse(m.Summary), Score: m.Score}
	}
	relationships := make([]scoredRelationship, len(result.Relationships))
	for i, m := range result.Relationships {
		relationships[i] = scoredRelationship{Relationship: relationshipToResponse(m.Relationship), Score: m.Score}
	}

	api.Success(w, http.StatusOK, map[string]interface{}{
		"facts":         facts,
		"summaries":     summaries,
		"relationships": relationships,
	})
}

type RelevantMemoryRequest struct {
	Query     string `json:"query"`
	MaxTokens int    `json:"max_tokens"`
}

func (h *MemoryHandler) GetRelevantMemory(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	var req RelevantMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := h.svc.GetRelevantMemory(r.Context(), conversationID, req.Query, req.MaxTokens)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	facts := make([]*FactResponse, len(result.Facts))
	for i, f := range result.Facts {
		facts[i] = factToResponse(f)
	}
	summaries := make([]*SummaryResponse, len(result.Summaries))
	for i, s := range result.Summaries {
		summaries[i] = summaryToResponse(s)
	}
	relationships := make([]*RelationshipResponse, len(result.Relationships))
	for i, rel := range result.Relationships {
		relationships[i] = relationshipToResponse(rel)
	}

	api.Success(w, http.StatusOK, map[string]interface{}{
		"facts":         facts,
		"relationships": relationships,
		"summaries":     summaries,
		"context":       result.Context,
		"token_count":   result.TokenCount,
	})
}

type ExtractRequest struct {
	Type     string           `json:"type"`
	Messages []MessagePayload `json:"messages"`
}

type MessagePayload struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *MemoryHandler) Extract(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = string(extractor.ExtractAll)
	}

	messages := make([]domain.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = domain.Message{
			ID:        m.ID,
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
	}

	outcome, err := h.svc.ExtractAndStoreMemory(r.Context(), conversationID, messages, extractor.ExtractionType(req.Type))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]interface{}{
		"facts_added":         outcome.FactsAdded,
		"relationships_added": outcome.RelationshipsAdded,
		"summary_added":       outcome.SummaryAdded,
		"confidence":          outcome.Confidence,
		"processing_ms":       outcome.ProcessingTime.Milliseconds(),
	})
}

type UpdateRelevanceRequest struct {
	Context string `json:"context"`
}

func (h *MemoryHandler) UpdateRelevance(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	var req UpdateRelevanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Context == "" {
		api.Error(w, http.StatusBadRequest, "context is required")
		return
	}

	if err := h.svc.UpdateRelevanceScores(r.Context(), conversationID, req.Context); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
}

type CleanupRequest struct {
	RetentionDays int `json:"retention_days"`
}

func (h *MemoryHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RetentionDays < 0 {
		api.Error(w, http.StatusBadRequest, "retention_days cannot be negative")
		return
	}

	result, err := h.svc.CleanupMemory(r.Context(), conversationID, req.RetentionDays)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]interface{}{
		"facts_deleted":         result.FactsDeleted,
		"summaries_deleted":     result.SummariesDeleted,
		"relationships_deleted": result.RelationshipsDeleted,
		"total":                 result.Total(),
	})
}

func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	stats, err := h.svc.GetMemoryStats(r.Context(), conversationID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := map[string]interface{}{
		"conversation_id":    stats.ConversationID,
		"fact_count":         stats.FactCount,
		"summary_count":      stats.SummaryCount,
		"relationship_count": stats.RelationshipCount,
		"avg_relevance":      stats.AvgRelevance,
	}
	if stats.OldestFact != nil {
		resp["oldest_fact"] = stats.OldestFact.UTC().Format(time.RFC3339)
	}
	if stats.NewestFact != nil {
		resp["newest_fact"] = stats.NewestFact.UTC().Format(time.RFC3339)
	}

	api.Success(w, http.StatusOK, resp)
}
