package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/continuation"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/thread"
)

type failingStore struct {
	*MemoryStore
}

func (failingStore) Save(context.Context, string, []thread.Message) error {
	return errors.New("store down")
}

// blockingStore holds every Save until release is closed.
type blockingStore struct {
	*MemoryStore
	release chan struct{}
}

func (s blockingStore) Save(ctx context.Context, id string, msgs []thread.Message) error {
	<-s.release
	return s.MemoryStore.Save(ctx, id, msgs)
}

func TestTranscript(t *testing.T) {
	t.Run("Follows Sink Contract", func(t *testing.T) {
		tr := New("c1")
		tr.AppendMessage(thread.Message{Key: "u", Role: thread.RoleUser, Content: "hi"}, false)
		tr.AppendMessage(thread.Message{Key: "a", Role: thread.RoleAssistant, Content: thread.Placeholder}, false)
		tr.AppendMessage(thread.Message{Key: "a", Role: thread.RoleAssistant, Content: "hel"}, true)
		tr.AppendMessage(thread.Message{Key: "u", Role: thread.RoleUser, Content: "hi", ID: 4}, false)

		msgs := tr.Messages()
		require.Len(t, msgs, 2)
		assert.EqualValues(t, 4, msgs[0].ID)
		assert.Equal(t, "hel", msgs[1].Content)
	})

	t.Run("Updates Coalesce", func(t *testing.T) {
		tr := New("c1")
		tr.Add(thread.Message{Content: "a"})
		tr.Add(thread.Message{Content: "b"})

		select {
		case <-tr.Updates():
		default:
			t.Fatal("expected an update signal")
		}
		select {
		case <-tr.Updates():
			t.Fatal("updates should coalesce")
		default:
		}
	})

	t.Run("Saves When Loading Ends", func(t *testing.T) {
		store := NewMemoryStore()
		tr := New("c1", WithStore(store))

		tr.SetLoading(true)
		assert.True(t, tr.Loading())
		tr.AppendMessage(thread.Message{Key: "u", Role: thread.RoleUser, Content: "hi"}, false)
		tr.AppendMessage(thread.Message{Key: "a", Role: thread.RoleAssistant, Content: thread.Placeholder}, false)

		saved, err := store.Load(context.Background(), "c1")
		require.NoError(t, err)
		assert.Nil(t, saved)

		tr.SetLoading(false)
		tr.Wait()
		saved, err = store.Load(context.Background(), "c1")
		require.NoError(t, err)
		require.Len(t, saved, 1, "placeholders are not persisted")
		assert.Equal(t, "hi", saved[0].Content)
	})

	t.Run("Save Failure Does Not Block Loading", func(t *testing.T) {
		tr := New("c1", WithStore(failingStore{NewMemoryStore()}))
		tr.SetLoading(true)
		tr.SetLoading(false)
		tr.Wait()
		assert.False(t, tr.Loading())
	})

	t.Run("Slow Store Does Not Block Loading", func(t *testing.T) {
		store := blockingStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
		tr := New("c1", WithStore(store))
		tr.SetLoading(true)
		tr.AppendMessage(thread.Message{Key: "u", Role: thread.RoleUser, Content: "hi"}, false)

		returned := make(chan struct{})
		go func() {
			tr.SetLoading(false)
			close(returned)
		}()
		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatal("SetLoading waited on the store")
		}

		close(store.release)
		tr.Wait()
		saved, err := store.Load(context.Background(), "c1")
		require.NoError(t, err)
		assert.Len(t, saved, 1)
	})

	t.Run("Idle Changes Are Saved", func(t *testing.T) {
		store := NewMemoryStore()
		tr := New("c1", WithStore(store))

		tr.SetLoading(true)
		tr.AppendMessage(thread.Message{Key: "u", Role: thread.RoleUser, Content: "hi"}, false)
		tr.AppendMessage(thread.Message{Key: "a", Role: thread.RoleAssistant, Content: thread.Placeholder}, false)
		tr.SetLoading(false)

		tr.AppendMessage(thread.Message{Key: "a", Role: thread.RoleAssistant, Content: "late reply"}, false)
		tr.Wait()

		saved, err := store.Load(context.Background(), "c1")
		require.NoError(t, err)
		require.Len(t, saved, 2)
		assert.Equal(t, "late reply", saved[1].Content)
	})

	t.Run("Older Snapshot Never Overwrites Newer", func(t *testing.T) {
		store := NewMemoryStore()
		tr := New("c1", WithStore(store))
		tr.persist(2, []thread.Message{{Key: "a", Content: "new"}})
		tr.Wait()
		tr.persist(1, []thread.Message{{Key: "a", Content: "old"}})
		tr.Wait()

		saved, err := store.Load(context.Background(), "c1")
		require.NoError(t, err)
		require.Len(t, saved, 1)
		assert.Equal(t, "new", saved[0].Content)
	})

	t.Run("Load Cleans Assistant Replies", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Save(context.Background(), "c1", []thread.Message{
			{Key: "u", Role: thread.RoleUser, Content: "plan " + continuation.Marker},
			{Key: "a", Role: thread.RoleAssistant, Content: "<think>hmm</think>\nanswer " + continuation.Marker},
		}))

		tr := New("c1", WithStore(store))
		require.NoError(t, tr.Load(context.Background()))

		msgs := tr.Messages()
		require.Len(t, msgs, 2)
		assert.Contains(t, msgs[0].Content, continuation.Marker)
		assert.Equal(t, "answer", msgs[1].Content)
	})

	t.Run("No Store", func(t *testing.T) {
		tr := New("c1")
		assert.NoError(t, tr.Save(context.Background()))
		assert.NoError(t, tr.Load(context.Background()))
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	msgs := []thread.Message{{Key: "u", Content: "hi"}}
	require.NoError(t, store.Save(ctx, "b", msgs))
	require.NoError(t, store.Save(ctx, "a", msgs))

	msgs[0].Content = "mutated"
	got, err := store.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "hi", got[0].Content)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Delete(ctx, "a"))
	ids, _ = store.List(ctx)
	assert.Equal(t, []string{"b"}, ids)
	assert.NoError(t, store.Close())
}

func TestRedisStore(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg := DefaultRedisConfig()
		assert.Equal(t, "localhost:6379", cfg.Addr)
		assert.Equal(t, "chatstream:transcript:", cfg.Prefix)
	})

	t.Run("Prefix Key", func(t *testing.T) {
		s := &RedisStore{keyPrefix: "p:"}
		assert.Equal(t, "p:c1", s.prefixKey("c1"))
	})

	t.Run("Unreachable Server", func(t *testing.T) {
		_, err := NewRedisStore(RedisConfig{Addr: "127.0.0.1:1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}
