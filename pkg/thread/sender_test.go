package thread

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/chatapi"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/continuation"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/events"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/resilience"
)

func TestSendCompletePlan(t *testing.T) {
	plan := "draw a plan\nStep [1/3] - A\n...\nStep [3/3] - C"
	tr := newFakeTransport(body(sse(
		ids(11, 12, "s-1"),
		content(plan[:20]),
		content(plan[20:]),
	)))
	reg := NewRegistry(tr)
	sink := &recordingSink{}

	ctrl := reg.CreateThread("conv", sink)
	ctrl.Send("make a plan", "model-a")

	require.Len(t, tr.Requests(), 1)
	assert.Equal(t, "make a plan", tr.Requests()[0].Content)
	assert.Equal(t, "model-a", tr.Requests()[0].Model)
	assert.True(t, tr.Requests()[0].Stream)

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.EqualValues(t, 11, msgs[0].ID)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, plan, msgs[1].Content)
	assert.EqualValues(t, 12, msgs[1].ID)

	assert.Equal(t, []bool{true, false}, sink.Loading())
	assert.Equal(t, "s-1", ctrl.SessionID())
}

func TestSendEmissionOrder(t *testing.T) {
	tr := newFakeTransport(body(sse(ids(1, 2, "s"), content("a"), content("b"))))
	sink := &recordingSink{}
	NewRegistry(tr).CreateThread("conv", sink).Send("hi", "m")

	appends := sink.Appends()
	require.Len(t, appends, 6)

	assert.Equal(t, RoleUser, appends[0].msg.Role)
	assert.True(t, IsPlaceholder(appends[1].msg.Content))
	assert.False(t, appends[1].replaceLast)

	// user message re-emitted with its id under the same key
	assert.Equal(t, appends[0].msg.Key, appends[2].msg.Key)
	assert.EqualValues(t, 1, appends[2].msg.ID)
	assert.False(t, appends[2].replaceLast)

	assert.Equal(t, "a", appends[3].msg.Content)
	assert.Equal(t, "ab", appends[4].msg.Content)
	assert.Equal(t, "ab", appends[5].msg.Content)
	for _, c := range appends[3:] {
		assert.True(t, c.replaceLast)
		assert.Equal(t, appends[1].msg.Key, c.msg.Key)
	}

	calls := sink.Calls()
	assert.False(t, calls[0].append, "loading must start before any message")
	assert.False(t, calls[len(calls)-1].append, "loading must end last")
}

func TestSendAutoContinueOnMarker(t *testing.T) {
	tr := newFakeTransport(
		body(sse(content("part one "), content("[to be continue]"))),
		body(sse(content("part two"))),
	)
	rec := events.NewRecorder()
	sink := &recordingSink{}
	NewRegistry(tr, WithEvents(rec)).CreateThread("conv", sink).Send("write it", "m")

	reqs := tr.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, continuation.ProceedPrompt, reqs[1].Content)

	msgs := sink.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "part one", msgs[1].Content)
	assert.NotContains(t, strings.ToLower(msgs[1].Content), "[to be continue]")
	assert.Equal(t, continuation.ProceedPrompt, msgs[2].Content)
	assert.Equal(t, "part two", msgs[3].Content)

	assert.Equal(t, []bool{true, false}, sink.Loading())
	assert.Equal(t, []events.Type{events.ThreadStarted, events.RoundFinished, events.ThreadFinished}, rec.Types())
}

func TestSendAutoContinueOnIncompleteSteps(t *testing.T) {
	tr := newFakeTransport(
		body(sse(content("Step [1/2] - setup\n"))),
		body(sse(content("Step [2/2] - done"))),
	)
	NewRegistry(tr).CreateThread("conv", &recordingSink{}).Send("go", "m")

	reqs := tr.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, continuation.ResumeStepsPrompt, reqs[1].Content)
}

func TestSendRoundCap(t *testing.T) {
	tr := newFakeTransport()
	tr.fallback = body(sse(content("more [to be continue]")))
	sink := &recordingSink{}

	reg := NewRegistry(tr, WithPolicy(continuation.Policy{MaxRounds: 2}))
	reg.CreateThread("conv", sink).Send("start", "m")

	assert.Len(t, tr.Requests(), 3)
	msgs := sink.Messages()
	assert.Equal(t, "more [to be continue]", msgs[len(msgs)-1].Content)
	assert.Equal(t, []bool{true, false}, sink.Loading())
}

func TestSendDocumentsOnFirstRoundOnly(t *testing.T) {
	tr := newFakeTransport(
		body(sse(content("a [to be continue]"))),
		body(sse(content("b"))),
	)
	NewRegistry(tr).CreateThread("conv", &recordingSink{}).
		Send("q", "m", WithDocuments([]int{7, 8}), WithSystemPromptAppend("  extra context "))

	reqs := tr.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []int{7, 8}, reqs[0].Documents)
	assert.Equal(t, "extra context", reqs[0].SystemPromptAppend)
	assert.Empty(t, reqs[1].Documents)
	assert.Empty(t, reqs[1].SystemPromptAppend)
}

func TestSendEmptyReply(t *testing.T) {
	tr := newFakeTransport(body(sse(ids(1, 2, "s"))))
	sink := &recordingSink{}
	NewRegistry(tr).CreateThread("conv", sink).Send("hi", "m")

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, EmptyReply, msgs[1].Content)
}

func TestSendMalformedPayloadSkipped(t *testing.T) {
	tr := newFakeTransport(body("data: {broken\n\n" + sse(content("fine"))))
	sink := &recordingSink{}
	NewRegistry(tr).CreateThread("conv", sink).Send("hi", "m")

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "fine", msgs[1].Content)
}

func TestSendTransportFailure(t *testing.T) {
	t.Run("Before Content Replaces Placeholder", func(t *testing.T) {
		err := &chatapi.StatusError{StatusCode: 502, Status: "502 Bad Gateway"}
		tr := newFakeTransport(failing(err))
		rec := events.NewRecorder()
		sink := &recordingSink{}
		NewRegistry(tr, WithEvents(rec)).CreateThread("conv", sink).Send("hi", "m")

		msgs := sink.Messages()
		require.Len(t, msgs, 2)
		assert.True(t, IsError(msgs[1].Content))
		assert.Contains(t, msgs[1].Content, "502")
		assert.Equal(t, []bool{true, false}, sink.Loading())
		assert.Contains(t, rec.Types(), events.ThreadFailed)
		assert.Len(t, tr.Requests(), 1, "failures are never retried")
	})

	t.Run("After Content Is Appended", func(t *testing.T) {
		open, pw := controlled()
		tr := newFakeTransport(open)
		sink := &recordingSink{}
		sink.onAppend = func(m Message) {
			if m.Content == "partial" {
				go pw.CloseWithError(errors.New("connection reset"))
			}
		}
		reg := NewRegistry(tr)
		t.Cleanup(reg.StopAll)

		ctrl := reg.CreateThread("conv", sink)
		done := make(chan struct{})
		go func() {
			ctrl.Send("hi", "m")
			close(done)
		}()
		_, err := pw.Write([]byte("data: " + content("partial") + "\n\n"))
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("send did not finish")
		}

		msgs := sink.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, "partial", msgs[1].Content)
		assert.True(t, IsError(msgs[2].Content))
		assert.Equal(t, []bool{true, false}, sink.Loading())
	})
}

func TestSendBlankInputIgnored(t *testing.T) {
	tr := newFakeTransport()
	sink := &recordingSink{}
	NewRegistry(tr).CreateThread("conv", sink).Send("  \n\t", "m")

	assert.Empty(t, tr.Requests())
	assert.Empty(t, sink.Calls())
}

func TestSendInactiveThreadRunsSilently(t *testing.T) {
	tr := newFakeTransport(
		body(sse(content("bg [to be continue]"))),
		body(sse(content("done"))),
	)
	reg := NewRegistry(tr)
	sink := &recordingSink{}

	ctrl := reg.CreateThread("conv", sink)
	reg.SetActiveThread("elsewhere")
	ctrl.Send("work", "m")

	assert.Len(t, tr.Requests(), 2, "background threads keep continuing")
	assert.Empty(t, sink.Appends())
	assert.Equal(t, []bool{true, false}, sink.Loading())
}

func TestSendResumesWhenReactivated(t *testing.T) {
	open, pw := controlled()
	tr := newFakeTransport(open)
	reg := NewRegistry(tr)
	t.Cleanup(reg.StopAll)

	sink := &recordingSink{}
	ctrl := reg.CreateThread("conv", sink)
	reg.SetActiveThread("elsewhere")

	done := make(chan struct{})
	go func() {
		ctrl.Send("hi", "m")
		close(done)
	}()

	_, err := pw.Write([]byte("data: " + content("hidden ") + "\n\n"))
	require.NoError(t, err)

	reg.SetActiveThread("conv")
	_, err = pw.Write([]byte("data: " + content("shown") + "\n\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	<-done

	msgs := sink.Messages()
	require.Len(t, msgs, 2, "the prompt is shown ahead of the reply")
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hidden shown", msgs[1].Content)
}

func TestSendFinishedInBackgroundReplaysOnReactivation(t *testing.T) {
	open, pw := controlled()
	tr := newFakeTransport(open)
	reg := NewRegistry(tr)
	t.Cleanup(reg.StopAll)

	sink := &recordingSink{}
	ctrl := reg.CreateThread("conv", sink)

	done := make(chan struct{})
	go func() {
		ctrl.Send("hi", "m")
		close(done)
	}()

	_, err := pw.Write([]byte("data: " + ids(7, 8, "sess") + "\n\n" + "data: " + content("first ") + "\n\n"))
	require.NoError(t, err)

	reg.SetActiveThread("other")
	_, err = pw.Write([]byte("data: " + content("second") + "\n\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	<-done

	for _, m := range sink.Messages() {
		assert.NotEqual(t, "first second", m.Content, "nothing is shown while in the background")
	}

	reg.SetActiveThread("conv")

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.EqualValues(t, 7, msgs[0].ID)
	assert.Equal(t, "first second", msgs[1].Content)
	assert.EqualValues(t, 8, msgs[1].ID)
	assert.Equal(t, msgs, ctrl.Messages())
	assert.Equal(t, []bool{true, false}, sink.Loading())
}

func TestReplayAfterStopEmitsNothing(t *testing.T) {
	tr := newFakeTransport(body(sse(content("reply"))))
	reg := NewRegistry(tr)
	sink := &recordingSink{}

	ctrl := reg.CreateThread("conv", sink)
	reg.SetActiveThread("other")
	ctrl.Send("hi", "m")
	reg.StopThread("conv")

	reg.SetActiveThread("conv")
	assert.Empty(t, sink.Appends())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "status", errorKind(fmt.Errorf("%w: %w", chatapi.ErrRequestFailed, &chatapi.StatusError{StatusCode: 500})))
	assert.Equal(t, "no_body", errorKind(chatapi.ErrNoBody))
	assert.Equal(t, "request", errorKind(fmt.Errorf("%w: dial", chatapi.ErrRequestFailed)))
	assert.Equal(t, "circuit_open", errorKind(resilience.ErrCircuitOpen))
	assert.Equal(t, "read", errorKind(errors.New("unexpected EOF")))
}
