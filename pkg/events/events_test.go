package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	t.Run("Keys By Conversation", func(t *testing.T) {
		w := &fakeWriter{}
		p := newKafkaPublisher(w, DefaultTopic, logging.Nop())

		ev := New(RoundFinished, "conv-7")
		ev.RunID = "run-1"
		ev.Round = 2
		require.NoError(t, p.Publish(context.Background(), ev))

		require.Len(t, w.msgs, 1)
		msg := w.msgs[0]
		assert.Equal(t, "conv-7", string(msg.Key))

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, string(RoundFinished), headers["event_type"])
		assert.Equal(t, "run-1", headers["run_id"])

		var decoded Event
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Equal(t, 2, decoded.Round)
		assert.Equal(t, ev.ID, decoded.ID)

		require.NoError(t, p.Close())
		assert.True(t, w.closed)
	})

	t.Run("Write Error Wrapped", func(t *testing.T) {
		boom := errors.New("broker down")
		p := newKafkaPublisher(&fakeWriter{err: boom}, DefaultTopic, logging.Nop())
		err := p.Publish(context.Background(), New(ThreadStarted, "c"))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Requires Brokers", func(t *testing.T) {
		_, err := NewKafkaPublisher(DefaultKafkaConfig(), nil)
		assert.ErrorIs(t, err, ErrNoBrokers)
	})
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	_ = r.Publish(context.Background(), New(ThreadStarted, "a"))
	_ = r.Publish(context.Background(), New(ThreadStopped, "a"))

	assert.Equal(t, []Type{ThreadStarted, ThreadStopped}, r.Types())
	assert.NotEqual(t, r.Events()[0].ID, r.Events()[1].ID)
}

func TestAcksAndCompression(t *testing.T) {
	assert.Equal(t, kafka.RequireAll, requiredAcks("all"))
	assert.Equal(t, kafka.RequireNone, requiredAcks("0"))
	assert.Equal(t, kafka.RequireOne, requiredAcks(""))
	assert.Equal(t, kafka.Compression(0), compressionCodec("none"))
	assert.Equal(t, kafka.Zstd, compressionCodec("zstd"))
}
