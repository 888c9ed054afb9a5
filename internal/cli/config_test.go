package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/chatapi"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/config"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/metrics"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/resilience"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/transcript"
)

func TestSetConfigValue(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, setConfigValue(&cfg, "max_rounds", "4"))
	require.NoError(t, setConfigValue(&cfg, "circuit_breaker", "true"))
	assert.True(t, cfg.Backend.CircuitBreaker.Enabled)
	assert.Error(t, setConfigValue(&cfg, "circuit_breaker", "maybe"))
	assert.Equal(t, 4, cfg.Threads.MaxAutoContinueRounds)

	require.NoError(t, setConfigValue(&cfg, "metrics_enabled", "true"))
	assert.True(t, cfg.Metrics.Enabled)

	assert.Error(t, setConfigValue(&cfg, "max_rounds", "-1"))
	assert.Error(t, setConfigValue(&cfg, "transcript_driver", "sqlite"))
	assert.Error(t, setConfigValue(&cfg, "nope", "x"))
}

func TestShowConfigMasksAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.APIKey = "sk-secret"
	appConfig = &cfg
	configPaths = config.Paths{Global: filepath.Join(t.TempDir(), "config.yaml")}

	var out bytes.Buffer
	require.NoError(t, showConfig(&out))
	assert.NotContains(t, out.String(), "sk-secret")
	assert.Equal(t, "sk-secret", appConfig.Backend.APIKey)
}

func TestResetConfig(t *testing.T) {
	configPaths = config.Paths{Global: filepath.Join(t.TempDir(), "config.yaml")}

	var out bytes.Buffer
	require.NoError(t, resetConfig(&out))

	loaded, err := config.LoadFrom(config.Paths{Global: configPaths.Global})
	require.NoError(t, err)
	assert.Equal(t, config.Default().Backend.BaseURL, loaded.Backend.BaseURL)
}

func TestStopRetryConfig(t *testing.T) {
	rc := stopRetryConfig(config.StopConfig{})
	assert.Equal(t, 3, rc.MaxAttempts)

	rc = stopRetryConfig(config.StopConfig{MaxAttempts: 5, InitialDelay: time.Second})
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, time.Second, rc.InitialDelay)
}

func TestNewStore(t *testing.T) {
	store, err := newStore(config.TranscriptConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &transcript.MemoryStore{}, store)

	_, err = newStore(config.TranscriptConfig{Driver: "redis", Redis: transcript.RedisConfig{Addr: "127.0.0.1:1"}})
	assert.Error(t, err)
}

func TestNewBreakerTransport(t *testing.T) {
	client := chatapi.NewClient(chatapi.Config{BaseURL: "http://127.0.0.1:1"})
	bt := newBreakerTransport(client, config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, Timeout: time.Hour}, metrics.Nop(), logging.Nop())

	_, err := bt.OpenStream(context.Background(), "c", chatapi.MessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, chatapi.ErrRequestFailed)

	_, err = bt.OpenStream(context.Background(), "c", chatapi.MessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, resilience.CircuitOpen, bt.Breaker().State())
}
