package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: DebugLevel, Format: "json", Output: &buf})
	require.NoError(t, err)

	logger.With(String("component", "sender")).Info("round finished", Int("round", 2))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "round finished", entry["message"])
	assert.Equal(t, "sender", entry["component"])
	assert.EqualValues(t, 2, entry["round"])
}

func TestZapLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: WarnLevel, Format: "json", Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestWithContextAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: InfoLevel, Format: "json", Output: &buf})
	require.NoError(t, err)

	ctx := WithRunID(WithConversationID(context.Background(), "conv-1"), "run-9")
	logger.WithContext(ctx).Info("tagged")

	out := buf.String()
	assert.True(t, strings.Contains(out, `"conversation_id":"conv-1"`), out)
	assert.True(t, strings.Contains(out, `"run_id":"run-9"`), out)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
}
