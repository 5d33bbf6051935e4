package service

import (
	"log"
	"sync"
	"time"
)

// MemoryEventType names the kinds of memory change notifications.
type MemoryEventType string

const (
	EventFactAdded         MemoryEventType = "fact_added"
	EventSummaryAdded      MemoryEventType = "summary_added"
	EventRelationshipAdded MemoryEventType = "relationship_added"
	EventDocumentAdded     MemoryEventType = "document_added"
	EventDocumentRemoved   MemoryEventType = "document_removed"
)

// MemoryEvent is delivered to subscribers after a memory mutation commits.
type MemoryEvent struct {
	Type           MemoryEventType
	ConversationID string
	Data           any
	Timestamp      time.Time
	Source         string
}

// MemoryListener receives memory events. Delivery is synchronous and
// best-effort: a panicking listener is logged and skipped, it never blocks
// persistence or other listeners.
type MemoryListener func(MemoryEvent)

// eventBroadcaster owns the explicit observer list. Listeners are plain
// callables registered and unregistered by handle.
type eventBroadcaster struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]MemoryListener
}

func newEventBroadcaster() *eventBroadcaster {
	return &eventBroadcaster{listeners: map[int]MemoryListener{}}
}

// subscribe registers a listener and returns its unsubscribe handle.
func (b *eventBroadcaster) subscribe(fn MemoryListener) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners[b.nextID] = fn
	return b.nextID
}

func (b *eventBroadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
}

// notify invokes every listener synchronously, post-commit.
func (b *eventBroadcaster) notify(event MemoryEvent) {
	b.mu.Lock()
	listeners := make([]MemoryListener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("memory listener panicked: %v", r)
				}
			}()
			fn(event)
		}()
	}
}
