package thread

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/teryfly/solution-discussion-client-sub000/pkg/chatapi"
)

// sse renders payload JSON objects as an event stream terminated by the sentinel.
func sse(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&b, "data: %s\n\n", p)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func content(text string) string {
	return fmt.Sprintf(`{"content": %q}`, text)
}

func ids(user, assistant int64, session string) string {
	return fmt.Sprintf(`{"user_message_id": %d, "assistant_message_id": %d, "session_id": %q}`, user, assistant, session)
}

// opener produces the body for one round.
type opener func(ctx context.Context) (io.ReadCloser, error)

func body(s string) opener {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

func failing(err error) opener {
	return func(context.Context) (io.ReadCloser, error) {
		return nil, err
	}
}

// controlled returns an opener whose body is fed by the test through the
// returned writer and is aborted when the request context is cancelled.
func controlled() (opener, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return func(ctx context.Context) (io.ReadCloser, error) {
		go func() {
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	}, pw
}

type fakeTransport struct {
	mu       sync.Mutex
	rounds   []opener
	fallback opener
	requests []chatapi.MessageRequest
	convs    []string

	stopErrs []error
	stops    []string
}

func newFakeTransport(rounds ...opener) *fakeTransport {
	return &fakeTransport{rounds: rounds}
}

func (f *fakeTransport) OpenStream(ctx context.Context, conversationID string, req chatapi.MessageRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.convs = append(f.convs, conversationID)
	var open opener
	if len(f.rounds) > 0 {
		open = f.rounds[0]
		f.rounds = f.rounds[1:]
	} else {
		open = f.fallback
	}
	f.mu.Unlock()

	if open == nil {
		return nil, fmt.Errorf("%w: no scripted round", chatapi.ErrRequestFailed)
	}
	return open(ctx)
}

func (f *fakeTransport) StopStream(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops = append(f.stops, sessionID)
	if len(f.stopErrs) > 0 {
		err := f.stopErrs[0]
		f.stopErrs = f.stopErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Requests() []chatapi.MessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatapi.MessageRequest(nil), f.requests...)
}

func (f *fakeTransport) Stops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stops...)
}

type sinkCall struct {
	append      bool
	msg         Message
	replaceLast bool
	loading     bool
}

// recordingSink keeps every call and the resulting message list.
type recordingSink struct {
	mu       sync.Mutex
	calls    []sinkCall
	messages []Message
	onAppend func(Message)
}

func (s *recordingSink) AppendMessage(msg Message, replaceLast bool) {
	s.mu.Lock()
	s.calls = append(s.calls, sinkCall{append: true, msg: msg, replaceLast: replaceLast})
	s.messages = Apply(s.messages, msg, replaceLast)
	hook := s.onAppend
	s.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
}

func (s *recordingSink) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{loading: loading})
}

func (s *recordingSink) Calls() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

func (s *recordingSink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *recordingSink) Loading() []bool {
	var out []bool
	for _, c := range s.Calls() {
		if !c.append {
			out = append(out, c.loading)
		}
	}
	return out
}

func (s *recordingSink) Appends() []sinkCall {
	var out []sinkCall
	for _, c := range s.Calls() {
		if c.append {
			out = append(out, c)
		}
	}
	return out
}
