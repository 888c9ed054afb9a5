package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/teryfly/solution-discussion-client-sub000/pkg/continuation"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/thread"
)

const saveTimeout = 2 * time.Second

// Transcript is a thread.Sink holding one conversation's visible messages.
// It saves to its Store in the background when loading ends or when it
// changes while idle, and signals Updates after every change without blocking.
type Transcript struct {
	mu             sync.Mutex
	conversationID string
	messages       []thread.Message
	loading        bool
	version        int64

	// saveMu orders background saves; saved is the last persisted version.
	saveMu  sync.Mutex
	saved   int64
	pending sync.WaitGroup

	updates chan struct{}
	store   Store
	logger  logging.Logger
}

// Option configures a Transcript.
type Option func(*Transcript)

// WithStore persists the transcript to store.
func WithStore(store Store) Option {
	return func(t *Transcript) {
		t.store = store
	}
}

// WithLogger sets the logger for persistence failures.
func WithLogger(logger logging.Logger) Option {
	return func(t *Transcript) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates an empty transcript for conversationID.
func New(conversationID string, opts ...Option) *Transcript {
	t := &Transcript{
		conversationID: conversationID,
		updates:        make(chan struct{}, 1),
		logger:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ConversationID returns the conversation this transcript belongs to.
func (t *Transcript) ConversationID() string {
	return t.conversationID
}

// AppendMessage implements thread.Sink. Changes made while idle, such as a
// reply replayed after the conversation comes back on screen, are saved.
func (t *Transcript) AppendMessage(msg thread.Message, replaceLast bool) {
	t.mu.Lock()
	t.messages = thread.Apply(t.messages, msg, replaceLast)
	t.version++
	idle := !t.loading
	version, snapshot := t.version, t.persistable()
	t.mu.Unlock()

	if idle {
		t.persist(version, snapshot)
	}
	t.notify()
}

// SetLoading implements thread.Sink. It never waits on the store.
func (t *Transcript) SetLoading(loading bool) {
	t.mu.Lock()
	ended := t.loading && !loading
	t.loading = loading
	version, snapshot := t.version, t.persistable()
	t.mu.Unlock()

	if ended {
		t.persist(version, snapshot)
	}
	t.notify()
}

// persistable returns the messages worth saving. Callers hold mu.
func (t *Transcript) persistable() []thread.Message {
	msgs := make([]thread.Message, 0, len(t.messages))
	for _, m := range t.messages {
		if thread.IsPlaceholder(m.Content) {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// persist saves snapshot on a background goroutine unless a newer version
// has already been saved.
func (t *Transcript) persist(version int64, snapshot []thread.Message) {
	if t.store == nil {
		return
	}
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()

		t.saveMu.Lock()
		defer t.saveMu.Unlock()
		if version <= t.saved {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := t.store.Save(ctx, t.conversationID, snapshot); err != nil {
			t.logger.Warn("failed to save transcript",
				logging.String("conversation_id", t.conversationID),
				logging.Err(err),
			)
			return
		}
		t.saved = version
	}()
}

// Wait blocks until background saves have finished.
func (t *Transcript) Wait() {
	t.pending.Wait()
}

// Updates fires after changes. Bursts coalesce into one signal.
func (t *Transcript) Updates() <-chan struct{} {
	return t.updates
}

func (t *Transcript) notify() {
	select {
	case t.updates <- struct{}{}:
	default:
	}
}

// Messages returns a snapshot of the visible messages.
func (t *Transcript) Messages() []thread.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]thread.Message(nil), t.messages...)
}

// Loading reports whether a send is in progress.
func (t *Transcript) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Add appends a local message, such as a system notice, outside any thread.
func (t *Transcript) Add(msg thread.Message) {
	t.AppendMessage(msg, false)
}

// Save writes the transcript to the store without placeholders.
func (t *Transcript) Save(ctx context.Context) error {
	if t.store == nil {
		return nil
	}

	t.mu.Lock()
	msgs := t.persistable()
	t.mu.Unlock()

	return t.store.Save(ctx, t.conversationID, msgs)
}

// Load replaces the messages with the saved history. Assistant replies are
// cleaned of reasoning preambles and continuation markers.
func (t *Transcript) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}

	msgs, err := t.store.Load(ctx, t.conversationID)
	if err != nil {
		return err
	}
	for i := range msgs {
		if msgs[i].Role == thread.RoleAssistant {
			msgs[i].Content = continuation.TrimReply(msgs[i].Content)
		}
	}

	t.mu.Lock()
	t.messages = msgs
	t.mu.Unlock()
	t.notify()
	return nil
}
