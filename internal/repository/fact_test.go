//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/pagination"
	"github.com/loomchat/loom-memory/internal/service"
	"github.com/loomchat/loom-memory/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoredFact(conversationID, content string, ts time.Time) *domain.MemoryFact {
	return &domain.MemoryFact{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		Source:         "user",
		Timestamp:      ts.UTC().Truncate(time.Microsecond),
		RelevanceScore: 0.5,
		Tags:           []string{"test"},
	}
}

func TestFactRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	convRepo := NewConversationRepository(pool)
	factRepo := NewFactRepository(pool)

	convID := uuid.NewString()
	require.NoError(t, convRepo.Ensure(ctx, convID))

	embedding := make([]float32, domain.EmbeddingDimensions)
	embedding[0] = 0.5

	f := newStoredFact(convID, "the deploy runs nightly", time.Now())
	f.Embedding = embedding
	f.References = []string{"m1", "m2"}
	f.Verified = true

	require.NoError(t, factRepo.Create(ctx, f))

	got, err := factRepo.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, f.Content, got.Content)
	assert.Equal(t, f.Tags, got.Tags)
	assert.Equal(t, f.References, got.References)
	assert.True(t, got.Verified)
	require.Len(t, got.Embedding, domain.EmbeddingDimensions)
	assert.InDelta(t, 0.5, got.Embedding[0], 1e-6)
}

func TestFactRepository_GetByID_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	factRepo := NewFactRepository(pool)

	_, err := factRepo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrFactNotFound)
}

func TestFactRepository_NilEmbeddingRoundTrip(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	convRepo := NewConversationRepository(pool)
	factRepo := NewFactRepository(pool)

	convID := uuid.NewString()
	require.NoError(t, convRepo.Ensure(ctx, convID))

	f := newStoredFact(convID, "stored without a vector", time.Now())
	require.NoError(t, factRepo.Create(ctx, f))

	got, err := factRepo.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)

	vec := make([]float32, domain.EmbeddingDimensions)
	vec[3] = 1
	require.NoError(t, factRepo.UpdateEmbedding(ctx, f.ID, vec))

	got, err = factRepo.GetByID(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, got.Embedding, domain.EmbeddingDimensions)
	assert.InDelta(t, 1.0, got.Embedding[3], 1e-6)
}

func TestFactRepository_ListByConversation_OrdersByRelevance(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	convRepo := NewConversationRepository(pool)
	factRepo := NewFactRepository(pool)

	convID := uuid.NewString()
	require.NoError(t, convRepo.Ensure(ctx, convID))

	low := newStoredFact(convID, "low relevance", time.Now())
	low.RelevanceScore = 0.2
	high := newStoredFact(convID, "high relevance", time.Now())
	high.RelevanceScore = 0.9
	require.NoError(t, factRepo.Create(ctx, low))
	require.NoError(t, factRepo.Create(ctx, high))

	facts, err := factRepo.ListByConversation(ctx, convID, 0)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, high.ID, facts[0].ID)
	assert.Equal(t, low.ID, facts[1].ID)
}

func TestFactRepository_CursorPagination(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	convRepo := NewConversationRepository(pool)
	factRepo := NewFactRepository(pool)

	convID := uuid.NewString()
	require.NoError(t, convRepo.Ensure(ctx, convID))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		f := newStoredFact(convID, "fact", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, factRepo.Create(ctx, f))
	}

	page1, err := factRepo.ListByConversationWithCursor(ctx, convID, nil, 2)
	require.NoError(t, err)
	assert.Len(t, page1.Items, 2)
	assert.True(t, page1.HasMore)
	require.NotEmpty(t, page1.NextCursor)

	cursor, err := pagination.DecodeCursor(page1.NextCursor)
	require.NoError(t, err)

	page2, err := factRepo.ListByConversationWithCursor(ctx, convID, cursor, 2)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 2)
	assert.True(t, page2.HasMore)

	// Pages never overlap.
	seen := map[string]bool{}
	for _, f := range append(page1.Items, page2.Items...) {
		assert.False(t, seen[f.ID])
		seen[f.ID] = true
	}

	cursor2, err := pagination.DecodeCursor(page2.NextCursor)
	require.NoError(t, err)
	page3, err := factRepo.ListByConversationWithCursor(ctx, convID, cursor2, 2)
	require.NoError(t, err)
	assert.Len(t, page3.Items, 1)
	assert.False(t, page3.HasMore)
	assert.Empty(t, page3.NextCursor)
}

func TestFactRepository_Update(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	convRepo := NewConversationRepository(pool)
	factRepo := NewFactRepository(pool)

	convID := uuid.NewString()
	require.NoError(t, convRepo.Ensure(ctx, convID))

	f := newStoredFact(convID, "original content", time.Now())
	require.NoError(t, factRepo.Create(ctx, f))

	content := "revised content"
	verified := true
	require.NoError(t, factRepo.Update(ctx, f.ID, service.FactUpdate{
		Content:  &content,
		Verified: &verified,
	}))

	got, err := factRepo.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "revised content", got.Content)
	assert.True(t, got.Verified)
	assert.Equal(t, 0.5, got.RelevanceScore)

	t.Run("empty update is a no-op", func(t *testing.T) {
		require.NoError(t, factRepo.Update(ctx, f.ID, service.FactUpdate{}))
	})

	t.Run("unknown id", func(t *testing.T) {
		err := factRepo.Update(ctx, uuid.NewString(), service.FactUpdate{Content: &content})
		assert.ErrorIs(t, err, domain.ErrFactNotFound)
	})
}

func TestFactRepository_Search(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	convRepo := NewConversationRepository(pool)
	factRepo := NewFactRepository(pool)

	convID := uuid.NewString()
	require.NoError(t, convRepo.Ensure(ctx, convID))

	deploy := newStoredFact(convID, "the Deploy runs nightly", time.Now())
	deploy.Tags = []string{"ops"}
	other := newStoredFact(convID, "lunch is at noon", time.Now())
	require.NoError(t, factRepo.Create(ctx, deploy))
	require.NoError(t, factRepo.Create(ctx, other))

	t.Run("case insensitive substring", func(t *testing.T) {
		results, err := factRepo.Search(ctx, convID, service.MemorySearchQuery{Query: "deploy"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, deploy.ID, results[0].ID)
	})

	t.Run("tag filter", func(t *testing.T) {
		results, err := factRepo.Search(ctx, convID, service.MemorySearchQuery{Query: "", Tags: []string{"ops"}})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, deploy.ID, results[0].ID)
	})

	t.Run("min relevance excludes all", func(t *testing.T) {
		results, err := factRepo.Search(ctx, convID, service.MemorySearchQuery{Query: "", MinRelevance: 0.9})
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestFactRepository_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	convRepo := NewConversationRepository(pool)
	factRepo := NewFactRepository(pool)

	convID := uuid.NewString()
	otherConvID := uuid.NewString()
	require.NoError(t, convRepo.Ensure(ctx, convID))
	require.NoError(t, convRepo.Ensure(ctx, otherConvID))

	old := newStoredFact(convID, "stale", time.Now().Add(-48*time.Hour))
	fresh := newStoredFact(convID, "fresh", time.Now())
	otherOld := newStoredFact(otherConvID, "stale elsewhere", time.Now().Add(-48*time.Hour))
	require.NoError(t, factRepo.Create(ctx, old))
	require.NoError(t, factRepo.Create(ctx, fresh))
	require.NoError(t, factRepo.Create(ctx, otherOld))

	deleted, err := factRepo.DeleteOlderThan(ctx, convID, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = factRepo.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrFactNotFound)

	// Other conversations are untouched.
	_, err = factRepo.GetByID(ctx, otherOld.ID)
	assert.NoError(t, err)
}

func TestFactRepository_Stats(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	convRepo := NewConversationRepository(pool)
	factRepo := NewFactRepository(pool)

	convID := uuid.NewString()
	require.NoError(t, convRepo.Ensure(ctx, convID))

	t.Run("empty conversation", func(t *testing.T) {
		stats, err := factRepo.Stats(ctx, convID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.FactCount)
		assert.Nil(t, stats.OldestFact)
	})

	a := newStoredFact(convID, "first", time.Now().Add(-time.Hour))
	a.RelevanceScore = 0.4
	b := newStoredFact(convID, "second", time.Now())
	b.RelevanceScore = 0.8
	require.NoError(t, factRepo.Create(ctx, a))
	require.NoError(t, factRepo.Create(ctx, b))

	stats, err := factRepo.Stats(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.FactCount)
	assert.InDelta(t, 0.6, stats.AvgRelevance, 1e-9)
	require.NotNil(t, stats.OldestFact)
	require.NotNil(t, stats.NewestFact)
	assert.True(t, stats.OldestFact.Before(*stats.NewestFact))
}

func TestFactRepository_ConversationCascade(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	convRepo := NewConversationRepository(pool)
	factRepo := NewFactRepository(pool)

	convID := uuid.NewString()
	require.NoError(t, convRepo.Ensure(ctx, convID))

	f := newStoredFact(convID, "doomed", time.Now())
	require.NoError(t, factRepo.Create(ctx, f))

	require.NoError(t, convRepo.Delete(ctx, convID))

	_, err := factRepo.GetByID(ctx, f.ID)
	assert.ErrorIs(t, err, domain.ErrFactNotFound)
}
