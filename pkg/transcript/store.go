// Package transcript keeps the visible message list of each conversation and
// optionally persists it.
package transcript

import (
	"context"
	"sort"
	"sync"

	"github.com/teryfly/solution-discussion-client-sub000/pkg/thread"
)

// Store persists transcripts by conversation id.
type Store interface {
	// Load returns the saved messages, or nil when nothing is saved.
	Load(ctx context.Context, conversationID string) ([]thread.Message, error)

	// Save replaces the saved messages.
	Save(ctx context.Context, conversationID string, messages []thread.Message) error

	// Delete removes a transcript.
	Delete(ctx context.Context, conversationID string) error

	// List returns the ids of saved transcripts.
	List(ctx context.Context) ([]string, error)

	// Close releases the store connection.
	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]thread.Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]thread.Message)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, conversationID string) ([]thread.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.data[conversationID]
	if !ok {
		return nil, nil
	}
	return append([]thread.Message(nil), msgs...), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, conversationID string, messages []thread.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[conversationID] = append([]thread.Message(nil), messages...)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, conversationID)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
