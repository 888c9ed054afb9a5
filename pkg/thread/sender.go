package thread

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/chatapi"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/continuation"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/events"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/metrics"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/resilience"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/stream"
)

// SendOption configures one Send.
type SendOption func(*sendOptions)

type sendOptions struct {
	documents          []int
	systemPromptAppend string
}

// WithDocuments attaches document ids to the first round of a send.
func WithDocuments(ids []int) SendOption {
	return func(o *sendOptions) {
		o.documents = append([]int(nil), ids...)
	}
}

// WithSystemPromptAppend appends text to the backend system prompt for the first round.
func WithSystemPromptAppend(text string) SendOption {
	return func(o *sendOptions) {
		o.systemPromptAppend = strings.TrimSpace(text)
	}
}

// sender drives one Send: a chain of rounds linked by auto-continue verdicts.
type sender struct {
	thread    *Thread
	transport chatapi.Transport
	policy    continuation.Policy
	model     string
	opts      sendOptions

	logger    logging.Logger
	collector metrics.Collector
	publisher events.Publisher
	onSession func(t *Thread, sessionID string)

	runID  string
	rounds int
}

// roundResult is the outcome of one streamed round.
type roundResult struct {
	text        string
	assistantID int64
	received    bool
	cancelled   bool
	err         error
}

// run executes rounds until the policy stops, the thread is cancelled or a round fails.
func (s *sender) run(input string) {
	s.publish(events.ThreadStarted, func(e *events.Event) {})
	s.collector.IncrementGauge(metrics.SendsInFlight.Name, nil)
	defer s.collector.DecrementGauge(metrics.SendsInFlight.Name, nil)

	prompt := input
	for prompt != "" {
		prompt = s.sendOne(prompt)
	}
}

// sendOne performs a single round and returns the next prompt, or "" when the chain ends.
func (s *sender) sendOne(prompt string) string {
	t := s.thread
	if t.Cancelled() {
		return ""
	}

	start := time.Now()
	round := s.rounds
	log := s.logger.With(logging.Int("round", round))
	log.Debug("round started", logging.Int("prompt_len", len(prompt)))

	user := Message{Key: uuid.NewString(), Role: RoleUser, Content: prompt}
	reply := &replyView{thread: t, key: uuid.NewString()}
	t.appendMessage(user, false)
	reply.show(Placeholder, 0)

	res := s.stream(prompt, user, reply)

	switch {
	case res.cancelled:
		log.Debug("round cancelled")
		s.observeRound(metrics.OutcomeCancelled, start)
		return ""

	case res.err != nil:
		s.fail(log, res, reply, start)
		return ""
	}

	var decision continuation.Decision
	if t.stopWasRequested() {
		decision = continuation.Decision{Reason: continuation.ReasonComplete}
	} else {
		decision = s.policy.Decide(res.text, s.rounds)
	}

	if decision.Continue {
		reply.show(continuation.StripMarker(res.text), res.assistantID)
		s.rounds++

		log.Info("auto-continuing",
			logging.String("reason", string(decision.Reason)),
			logging.Int("rounds", s.rounds),
		)
		s.collector.IncrementCounter(metrics.AutoContinues.Name, metrics.Labels("reason", string(decision.Reason)))
		s.observeRound(metrics.OutcomeContinued, start)
		s.publish(events.RoundFinished, func(e *events.Event) {
			e.Round = round
			e.Reason = string(decision.Reason)
		})
		return decision.Prompt
	}

	text := res.text
	if !res.received {
		text = EmptyReply
	}
	reply.show(text, res.assistantID)
	t.setLoading(false)

	if decision.Reason == continuation.ReasonRoundCap && s.policy.Limit() > 0 {
		log.Warn("auto-continue round cap reached", logging.Int("max_rounds", s.policy.Limit()))
	}
	log.Info("send finished",
		logging.String("reason", string(decision.Reason)),
		logging.Int("rounds", s.rounds),
		logging.Int("reply_len", len(res.text)),
	)
	s.observeRound(metrics.OutcomeComplete, start)
	s.publish(events.ThreadFinished, func(e *events.Event) {
		e.Round = round
		e.Reason = string(decision.Reason)
	})
	return ""
}

// replyView tracks the assistant entry of the current round. Updates replace
// the last entry only once the entry has actually been shown.
type replyView struct {
	thread *Thread
	key    string
	shown  bool
}

func (v *replyView) show(content string, id int64) {
	msg := Message{Key: v.key, Role: RoleAssistant, Content: content, ID: id}
	if v.thread.appendMessage(msg, v.shown) {
		v.shown = true
	}
}

// stream opens the transport and consumes payloads until the stream ends.
func (s *sender) stream(prompt string, user Message, view *replyView) roundResult {
	t := s.thread
	req := chatapi.MessageRequest{
		Role:    string(RoleUser),
		Content: prompt,
		Model:   s.model,
		Stream:  true,
	}
	if s.rounds == 0 {
		req.Documents = s.opts.documents
		req.SystemPromptAppend = s.opts.systemPromptAppend
	}

	body, err := s.transport.OpenStream(t.Context(), t.ConversationID(), req)
	if err != nil {
		if t.Cancelled() {
			return roundResult{cancelled: true}
		}
		return roundResult{err: err}
	}
	defer body.Close()

	reader := stream.NewReader(body,
		stream.WithLogger(s.logger),
		stream.WithMalformedHook(func(string, error) {
			s.collector.IncrementCounter(metrics.MalformedPayloads.Name, nil)
		}),
	)

	var (
		reply       strings.Builder
		idsSeen     bool
		assistantID int64
		received    bool
	)
	for {
		payload, err := reader.Next()
		if t.Cancelled() {
			return roundResult{text: reply.String(), assistantID: assistantID, received: received, cancelled: true}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return roundResult{text: reply.String(), assistantID: assistantID, received: received, err: err}
		}

		if !idsSeen && payload.HasIDs() {
			idsSeen = true
			assistantID = payload.AssistantMessageID
			if payload.SessionID != "" {
				s.onSession(t, payload.SessionID)
			}
			if payload.UserMessageID != 0 {
				user.ID = payload.UserMessageID
				t.appendMessage(user, false)
			}
		}

		if payload.Content != "" {
			received = true
			reply.WriteString(payload.Content)
			view.show(reply.String(), assistantID)
		}
	}

	return roundResult{text: reply.String(), assistantID: assistantID, received: received}
}

// fail reports a transport failure for the round.
func (s *sender) fail(log logging.Logger, res roundResult, view *replyView, start time.Time) {
	t := s.thread
	msg := Message{Key: view.key, Role: RoleAssistant, Content: ErrorPrefix + res.err.Error()}
	if res.received {
		msg.Key = uuid.NewString()
	}
	t.appendMessage(msg, false)
	t.setLoading(false)

	log.Error("round failed", logging.Err(res.err))
	s.collector.IncrementCounter(metrics.StreamErrors.Name, metrics.Labels("kind", errorKind(res.err)))
	s.observeRound(metrics.OutcomeFailed, start)
	s.publish(events.ThreadFailed, func(e *events.Event) {
		e.Round = s.rounds
		e.Error = res.err.Error()
	})
}

func (s *sender) observeRound(outcome string, start time.Time) {
	s.collector.IncrementCounter(metrics.RoundsTotal.Name, metrics.Labels("outcome", outcome))
	s.collector.ObserveDuration(metrics.RoundDuration.Name, start, metrics.Labels("outcome", outcome))
}

func (s *sender) publish(typ events.Type, fill func(e *events.Event)) {
	ev := events.New(typ, s.thread.ConversationID())
	ev.RunID = s.runID
	ev.SessionID = s.thread.SessionID()
	fill(&ev)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Debug("failed to publish event", logging.String("type", string(typ)), logging.Err(err))
	}
}

func errorKind(err error) string {
	var se *chatapi.StatusError
	switch {
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, chatapi.ErrNoBody):
		return "no_body"
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, chatapi.ErrRequestFailed):
		return "request"
	default:
		return "read"
	}
}
