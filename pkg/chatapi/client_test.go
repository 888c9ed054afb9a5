package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStream(t *testing.T) {
	t.Run("Posts Message With Bearer", func(t *testing.T) {
		var got MessageRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/chat/conversations/conv-1/messages", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "data: {\"content\":\"hi\"}\n\ndata: [DONE]\n\n")
		}))
		defer server.Close()

		c := NewClient(Config{BaseURL: server.URL + "/api/", APIKey: "secret"})
		body, err := c.OpenStream(context.Background(), "conv-1", MessageRequest{
			Content:   "hello",
			Model:     "gpt",
			Documents: []int{3, 4},
		})
		require.NoError(t, err)
		defer body.Close()

		raw, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "[DONE]")

		assert.Equal(t, "user", got.Role)
		assert.True(t, got.Stream)
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, []int{3, 4}, got.Documents)
		assert.Empty(t, got.SystemPromptAppend)
	})

	t.Run("Omits Empty Optional Fields", func(t *testing.T) {
		var raw map[string]interface{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		}))
		defer server.Close()

		body, err := NewClient(Config{BaseURL: server.URL}).OpenStream(context.Background(), "c", MessageRequest{Content: "x"})
		require.NoError(t, err)
		body.Close()

		assert.NotContains(t, raw, "documents")
		assert.NotContains(t, raw, "system_prompt_append")
	})

	t.Run("Non 2xx Is Request Failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"bad key"}`)
		}))
		defer server.Close()

		_, err := NewClient(Config{BaseURL: server.URL}).OpenStream(context.Background(), "c", MessageRequest{Content: "x"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRequestFailed))

		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
		assert.Equal(t, "bad key", se.Message)
		assert.Contains(t, err.Error(), "HTTP 401")
	})

	t.Run("Context Cancel Aborts Body", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "data: {\"content\":\"a\"}\n\n")
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		body, err := NewClient(Config{BaseURL: server.URL}).OpenStream(ctx, "c", MessageRequest{Content: "x"})
		require.NoError(t, err)
		defer body.Close()

		buf := make([]byte, 64)
		_, err = body.Read(buf)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := io.ReadAll(body)
			done <- err
		}()
		cancel()

		select {
		case err := <-done:
			assert.Error(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("read did not unblock after cancel")
		}
	})
}

func TestStopStream(t *testing.T) {
	t.Run("Sends Session ID", func(t *testing.T) {
		var body map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/stop-stream", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_, _ = io.WriteString(w, `{"message":"stopped"}`)
		}))
		defer server.Close()

		err := NewClient(Config{BaseURL: server.URL}).StopStream(context.Background(), "sess-42")
		require.NoError(t, err)
		assert.Equal(t, "sess-42", body["session_id"])
	})

	t.Run("Failure Carries Backend Message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"no such session"}`)
		}))
		defer server.Close()

		err := NewClient(Config{BaseURL: server.URL}).StopStream(context.Background(), "gone")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStopFailed)
		assert.Contains(t, err.Error(), "no such session")
	})

	t.Run("Empty Session Rejected", func(t *testing.T) {
		err := NewClient(Config{BaseURL: "http://unused"}).StopStream(context.Background(), "")
		assert.ErrorIs(t, err, ErrStopFailed)
	})
}
