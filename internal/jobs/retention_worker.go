package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/loomchat/loom-memory/internal/domain"
)

// ConversationLister enumerates the conversations to clean.
type ConversationLister interface {
	List(ctx context.Context) ([]*domain.Conversation, error)
}

// MemoryCleaner removes memory items past the retention window.
type MemoryCleaner interface {
	CleanupMemory(ctx context.Context, conversationID string, retentionDays int) (*domain.CleanupResult, error)
}

// RetentionWorker enforces the retention policy across all conversations.
// A retention window of zero or less disables cleanup entirely.
type RetentionWorker struct {
	conversations ConversationLister
	cleaner       MemoryCleaner
	retentionDays int
}

// NewRetentionWorker creates a new RetentionWorker instance
func NewRetentionWorker(conversations ConversationLister, cleaner MemoryCleaner, retentionDays int) *RetentionWorker {
	return &RetentionWorker{
		conversations: conversations,
		cleaner:       cleaner,
		retentionDays: retentionDays,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *RetentionWorker) ProcessJobs(ctx context.Context) error {
	if w.retentionDays <= 0 {
		return nil
	}

	conversations, err := w.conversations.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	var total int64
	for _, c := range conversations {
		result, err := w.cleaner.CleanupMemory(ctx, c.ID, w.retentionDays)
		if err != nil {
			log.Printf("Retention cleanup failed for conversation %s: %v", c.ID, err)
			continue
		}
		total += result.Total()
	}

	if total > 0 {
		log.Printf("Retention cleanup removed %d memory items", total)
	}
	return nil
}
