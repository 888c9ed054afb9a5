package thread

import "sync"

// Selector follows UI navigation and keeps the Registry's active thread in
// step with the conversation on screen.
type Selector struct {
	mu       sync.Mutex
	registry *Registry
	current  string
}

// NewSelector creates a Selector driving registry.
func NewSelector(registry *Registry) *Selector {
	return &Selector{registry: registry}
}

// Select brings conversationID to the foreground. Threads created later for
// the same id start active.
func (s *Selector) Select(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = conversationID
	s.registry.SetActiveThread(conversationID)
}

// Current returns the selected conversation id, or "" when none is selected.
func (s *Selector) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Clear drops the selection, for example after the conversation was deleted.
// Every thread becomes inactive but keeps running.
func (s *Selector) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = ""
	s.registry.ClearActive()
}
