package thread

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/chatapi"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/continuation"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/events"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/metrics"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/resilience"
)

const (
	publishTimeout = 2 * time.Second
	stopTimeout    = 30 * time.Second
)

// Registry owns every Thread and the single active conversation id.
type Registry struct {
	mu       sync.RWMutex
	threads  map[string]*Thread
	activeID string
	selected bool
	policy   continuation.Policy

	transport chatapi.Transport
	logger    logging.Logger
	collector metrics.Collector
	publisher events.Publisher
	stopRetry resilience.RetryConfig
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector metrics.Collector) Option {
	return func(r *Registry) {
		if collector != nil {
			r.collector = collector
		}
	}
}

// WithEvents sets the lifecycle event publisher.
func WithEvents(publisher events.Publisher) Option {
	return func(r *Registry) {
		if publisher != nil {
			r.publisher = publisher
		}
	}
}

// WithPolicy sets the auto-continue policy.
func WithPolicy(policy continuation.Policy) Option {
	return func(r *Registry) {
		r.policy = policy
	}
}

// WithStopRetry sets the backoff for out-of-band stop notifications.
func WithStopRetry(config resilience.RetryConfig) Option {
	return func(r *Registry) {
		r.stopRetry = config
	}
}

// NewRegistry creates an empty Registry sending through transport.
func NewRegistry(transport chatapi.Transport, opts ...Option) *Registry {
	r := &Registry{
		threads:   make(map[string]*Thread),
		policy:    continuation.DefaultPolicy(),
		transport: transport,
		logger:    logging.Nop(),
		collector: metrics.Nop(),
		publisher: events.Nop(),
		stopRetry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logging.String("component", "thread_registry"))
	return r
}

// CreateThread installs a new Thread for conversationID, stopping any
// existing one. The new thread starts active if its conversation is the
// selected one, or if nothing has been selected yet.
func (r *Registry) CreateThread(conversationID string, sink Sink) *Controller {
	t := newThread(conversationID, sink)

	r.mu.Lock()
	old := r.threads[conversationID]
	r.threads[conversationID] = t
	if !r.selected || r.activeID == conversationID {
		r.selected = true
		r.activeID = conversationID
		for _, other := range r.threads {
			other.setActive(false)
		}
		t.setActive(true)
	}
	live := len(r.threads)
	r.mu.Unlock()

	if old != nil {
		r.finishStop(old, "replaced")
	}
	r.collector.SetGauge(metrics.ThreadsLive.Name, float64(live), nil)
	r.logger.Debug("thread created",
		logging.String("conversation_id", conversationID),
		logging.Bool("active", t.IsActive()),
	)

	return &Controller{registry: r, thread: t}
}

// Controller returns a controller for the registered thread of conversationID.
func (r *Registry) Controller(conversationID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.threads[conversationID]
	if !ok {
		return nil, false
	}
	return &Controller{registry: r, thread: t}, true
}

// SetActiveThread makes conversationID the only active thread. An unknown id
// leaves every thread inactive. A thread that comes back into view replays
// what it produced in the background, finished replies included.
func (r *Registry) SetActiveThread(conversationID string) {
	r.mu.Lock()
	r.selected = true
	r.activeID = conversationID
	for _, t := range r.threads {
		t.setActive(false)
	}
	t, ok := r.threads[conversationID]
	if ok {
		t.setActive(true)
	}
	r.mu.Unlock()

	if ok {
		t.replay()
	}
}

// ClearActive deactivates every thread and forgets the selection.
func (r *Registry) ClearActive() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activeID = ""
	for _, t := range r.threads {
		t.setActive(false)
	}
}

// ActiveConversation returns the selected conversation id.
func (r *Registry) ActiveConversation() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// IsThreadActive reports whether conversationID has an active thread.
func (r *Registry) IsThreadActive(conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.threads[conversationID]
	return ok && t.IsActive()
}

// StopThread cancels the thread of conversationID, forces loading off and
// removes it. Unknown ids are ignored.
func (r *Registry) StopThread(conversationID string) {
	r.mu.Lock()
	t, ok := r.threads[conversationID]
	if ok {
		delete(r.threads, conversationID)
	}
	live := len(r.threads)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.finishStop(t, "stopped")
	r.collector.SetGauge(metrics.ThreadsLive.Name, float64(live), nil)
}

// StopAll stops every registered thread.
func (r *Registry) StopAll() {
	r.mu.Lock()
	threads := r.threads
	r.threads = make(map[string]*Thread)
	r.mu.Unlock()

	for _, t := range threads {
		r.finishStop(t, "shutdown")
	}
	r.collector.SetGauge(metrics.ThreadsLive.Name, 0, nil)
}

// Conversations returns the registered conversation ids, sorted.
func (r *Registry) Conversations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.threads))
	for id := range r.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered threads.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}

// Policy returns the current auto-continue policy.
func (r *Registry) Policy() continuation.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// SetMaxRounds changes the auto-continue cap for sends started afterwards.
func (r *Registry) SetMaxRounds(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy.MaxRounds = n
}

func (r *Registry) finishStop(t *Thread, reason string) {
	if !t.stop() {
		return
	}
	r.logger.Debug("thread stopped",
		logging.String("conversation_id", t.ConversationID()),
		logging.String("reason", reason),
	)
	r.publish(t, events.ThreadStopped, reason)
}

func (r *Registry) publish(t *Thread, typ events.Type, reason string) {
	ev := events.New(typ, t.ConversationID())
	ev.SessionID = t.SessionID()
	ev.Reason = reason

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Debug("failed to publish event", logging.String("type", string(typ)), logging.Err(err))
	}
}

// onSession records a session id learned from the stream and fires a queued stop.
func (r *Registry) onSession(t *Thread, sessionID string) {
	if t.setSessionID(sessionID) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = r.notifyStop(ctx, t, sessionID, "queued")
		}()
	}
}

// notifyStop calls the backend stop endpoint with retry.
func (r *Registry) notifyStop(ctx context.Context, t *Thread, sessionID, reason string) error {
	log := r.logger.With(
		logging.String("conversation_id", t.ConversationID()),
		logging.String("session_id", sessionID),
	)

	cfg := r.stopRetry
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = retryableStopError
	}
	retryer := resilience.NewRetryer(cfg)
	result := retryer.ExecuteWithCallback(ctx, func(ctx context.Context) error {
		return r.transport.StopStream(ctx, sessionID)
	}, func(attempt int, err error, delay time.Duration) {
		log.Warn("stop notification failed, retrying",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Err(err),
		)
	})

	if err := result.Err(retryer.MaxAttempts()); err != nil {
		log.Error("stop notification failed", logging.Err(err))
		r.collector.IncrementCounter(metrics.StopRequests.Name, metrics.Labels("result", "failed"))
		return err
	}

	log.Info("stop notification sent", logging.String("trigger", reason))
	r.collector.IncrementCounter(metrics.StopRequests.Name, metrics.Labels("result", "ok"))
	r.publish(t, events.StopRequested, reason)
	return nil
}

// retryableStopError skips retries for client errors other than 408 and 429.
func retryableStopError(err error) bool {
	var se *chatapi.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusRequestTimeout, se.StatusCode == http.StatusTooManyRequests:
			return true
		case se.StatusCode >= 400 && se.StatusCode < 500:
			return false
		}
	}
	return !errors.Is(err, context.Canceled)
}

// Controller is the handle returned by CreateThread.
type Controller struct {
	registry *Registry
	thread   *Thread
}

// ConversationID returns the controlled conversation.
func (c *Controller) ConversationID() string {
	return c.thread.ConversationID()
}

// Send streams input to the backend, auto-continuing as the policy allows.
// It blocks until the chain ends; run it on its own goroutine to keep
// streaming in the background. Blank input is ignored.
func (c *Controller) Send(input, model string, opts ...SendOption) {
	t := c.thread
	if t.Cancelled() {
		return
	}
	if strings.TrimSpace(input) == "" {
		return
	}

	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := c.registry
	runID := uuid.NewString()
	ctx := logging.WithRunID(logging.WithConversationID(context.Background(), t.ConversationID()), runID)

	s := &sender{
		thread:    t,
		transport: r.transport,
		policy:    r.Policy(),
		model:     model,
		opts:      o,
		logger:    r.logger.WithContext(ctx).With(logging.String("model", model)),
		collector: r.collector,
		publisher: r.publisher,
		onSession: r.onSession,
		runID:     runID,
	}

	t.setLoading(true)
	s.run(input)
}

// Messages returns everything the thread produced, including what was
// withheld while the thread was inactive.
func (c *Controller) Messages() []Message {
	return c.thread.Messages()
}

// IsActive reports whether the controlled thread may emit visible messages.
func (c *Controller) IsActive() bool {
	return c.thread.IsActive()
}

// Stopped reports whether the controlled thread has been stopped or replaced.
func (c *Controller) Stopped() bool {
	return c.thread.Cancelled()
}

// SessionID returns the backend session id, or "" before it is known.
func (c *Controller) SessionID() string {
	return c.thread.SessionID()
}

// SetSessionID sets the session id if none is set yet.
func (c *Controller) SetSessionID(id string) {
	c.registry.onSession(c.thread, id)
}

// StopStream asks the backend to stop generating. Without a session id the
// request is queued and sent as soon as the id arrives, unless the thread is
// stopped locally first. It also prevents further auto-continue rounds.
func (c *Controller) StopStream(ctx context.Context) error {
	sessionID, queued := c.thread.requestStop()
	if queued {
		c.registry.logger.Info("stop queued until session id is known",
			logging.String("conversation_id", c.thread.ConversationID()),
		)
		c.registry.collector.IncrementCounter(metrics.StopRequests.Name, metrics.Labels("result", "queued"))
		return nil
	}
	if sessionID == "" {
		c.registry.collector.IncrementCounter(metrics.StopRequests.Name, metrics.Labels("result", "dropped"))
		return nil
	}
	return c.registry.notifyStop(ctx, c.thread, sessionID, "requested")
}
