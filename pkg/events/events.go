// Package events publishes thread lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies a lifecycle transition.
type Type string

const (
	ThreadStarted  Type = "thread.started"
	RoundFinished  Type = "thread.round_finished"
	ThreadFinished Type = "thread.finished"
	ThreadStopped  Type = "thread.stopped"
	ThreadFailed   Type = "thread.failed"
	StopRequested  Type = "thread.stop_requested"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "chatstream.threads"

// Event is one lifecycle record.
type Event struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	ConversationID string    `json:"conversation_id"`
	RunID          string    `json:"run_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Round          int       `json:"round,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// New creates an event with a fresh id and timestamp.
func New(t Type, conversationID string) Event {
	return Event{
		ID:             uuid.New().String(),
		Type:           t,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
}

// ToJSON serializes the event.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop returns a Publisher that drops everything.
func Nop() Publisher {
	return nopPublisher{}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
func (nopPublisher) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish appends the event.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close is a no-op.
func (r *Recorder) Close() error {
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of every recorded event in order.
func (r *Recorder) Types() []Type {
	events := r.Events()
	types := make([]Type, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
