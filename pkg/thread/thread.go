// Package thread runs cancellable streamed exchanges, one per conversation,
// and gates their visible side effects on which conversation is in front.
package thread

import (
	"context"
	"sync"
	"sync/atomic"
)

// Thread is the in-flight state of one conversation.
type Thread struct {
	conversationID string
	sink           Sink

	ctx    context.Context
	cancel context.CancelFunc

	active atomic.Bool

	// emitMu serializes sink calls with stop so nothing is emitted after stop returns.
	emitMu  sync.Mutex
	stopped bool
	// record holds every message this thread produced, emitted or not.
	record []Message

	mu            sync.Mutex
	sessionID     string
	pendingStop   bool
	stopRequested bool
}

func newThread(conversationID string, sink Sink) *Thread {
	ctx, cancel := context.WithCancel(context.Background())
	if sink == nil {
		sink = SinkFuncs{}
	}
	return &Thread{
		conversationID: conversationID,
		sink:           sink,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// ConversationID returns the conversation this thread belongs to.
func (t *Thread) ConversationID() string {
	return t.conversationID
}

// IsActive reports whether the thread may emit visible messages.
func (t *Thread) IsActive() bool {
	return t.active.Load()
}

// Cancelled reports whether the thread has been stopped.
func (t *Thread) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Context is cancelled when the thread is stopped.
func (t *Thread) Context() context.Context {
	return t.ctx
}

// SessionID returns the backend session id, or "" before it is known.
func (t *Thread) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// setSessionID stores id unless one is already set. It reports whether a
// queued stop should now be sent.
func (t *Thread) setSessionID(id string) (fireStop bool) {
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sessionID != "" {
		return false
	}
	t.sessionID = id

	if t.pendingStop {
		t.pendingStop = false
		return t.ctx.Err() == nil
	}
	return false
}

// requestStop marks the thread as asked to stop remotely. It returns the
// session id to notify, or queued=true when the id is not known yet.
func (t *Thread) requestStop() (sessionID string, queued bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopRequested = true
	if t.sessionID != "" {
		return t.sessionID, false
	}
	if t.ctx.Err() != nil {
		return "", false
	}
	t.pendingStop = true
	return "", true
}

func (t *Thread) stopWasRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopRequested
}

func (t *Thread) setActive(active bool) {
	t.active.Store(active)
}

// appendMessage records msg and emits it if the thread is active and not stopped.
func (t *Thread) appendMessage(msg Message, replaceLast bool) bool {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if t.stopped || t.ctx.Err() != nil {
		return false
	}
	t.record = Apply(t.record, msg, false)
	if !t.active.Load() {
		return false
	}
	t.sink.AppendMessage(msg, replaceLast)
	return true
}

// replay brings the sink up to date with everything recorded while the
// thread was in the background. Entries are matched by Key, so messages the
// sink already shows are updated in place.
func (t *Thread) replay() {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if t.stopped || t.ctx.Err() != nil || !t.active.Load() {
		return
	}
	for _, msg := range t.record {
		t.sink.AppendMessage(msg, false)
	}
}

// Messages returns everything the thread produced, including what was
// withheld while the thread was inactive.
func (t *Thread) Messages() []Message {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	return append([]Message(nil), t.record...)
}

// setLoading emits a loading change unless the thread is stopped.
func (t *Thread) setLoading(loading bool) bool {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if t.stopped || t.ctx.Err() != nil {
		return false
	}
	t.sink.SetLoading(loading)
	return true
}

// stop cancels the thread and forces loading off. Only the first call has any effect.
func (t *Thread) stop() bool {
	t.active.Store(false)
	t.cancel()

	t.mu.Lock()
	t.pendingStop = false
	t.mu.Unlock()

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if t.stopped {
		return false
	}
	t.stopped = true
	t.sink.SetLoading(false)
	return true
}
