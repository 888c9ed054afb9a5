package cli

import (
	"context"
	"fmt"

	"github.com/teryfly/solution-discussion-client-sub000/pkg/chatapi"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/config"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/continuation"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/events"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/metrics"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/resilience"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/thread"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/transcript"
)

// app holds the wired components shared by the commands
type app struct {
	cfg       *config.Config
	logger    logging.Logger
	client    *chatapi.Client
	transport chatapi.Transport
	collector metrics.Collector
	publisher events.Publisher
	store     transcript.Store
	registry  *thread.Registry
	watcher   *config.Watcher
	cancel    context.CancelFunc
}

// newApp wires the backend client, metrics, events, transcript store and
// thread registry from cfg. Close releases them.
func newApp(ctx context.Context, cfg *config.Config, paths config.Paths, logger logging.Logger) (*app, error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &app{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.Nop(),
		publisher: events.Nop(),
		cancel:    cancel,
	}

	a.client = chatapi.NewClient(chatapi.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.Timeout,
	})
	a.transport = a.client

	if cfg.Metrics.Enabled {
		collector := metrics.NewPrometheusCollector()
		if err := collector.RegisterStandardMetrics(); err != nil {
			a.Close()
			return nil, err
		}
		a.collector = collector
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, collector); err != nil {
				logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
		logger.Info("serving metrics", logging.String("addr", cfg.Metrics.Addr))
	}

	if cfg.Events.Enabled {
		publisher, err := events.NewKafkaPublisher(cfg.Events.Kafka, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		a.publisher = publisher
	}

	if cfg.Backend.CircuitBreaker.Enabled {
		a.transport = newBreakerTransport(a.client, cfg.Backend.CircuitBreaker, a.collector, logger)
	}

	store, err := newStore(cfg.Transcript)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	a.registry = thread.NewRegistry(a.transport,
		thread.WithLogger(logger),
		thread.WithMetrics(a.collector),
		thread.WithEvents(a.publisher),
		thread.WithPolicy(continuation.Policy{MaxRounds: cfg.Threads.MaxAutoContinueRounds}),
		thread.WithStopRetry(stopRetryConfig(cfg.Stop)),
	)

	a.watcher = config.NewWatcher(paths, cfg, logger)
	a.watcher.OnChange(func(c *config.Config) {
		a.registry.SetMaxRounds(c.Threads.MaxAutoContinueRounds)
	})
	if err := a.watcher.Start(ctx); err != nil {
		logger.Warn("config hot reload disabled", logging.Err(err))
	}

	return a, nil
}

func newStore(cfg config.TranscriptConfig) (transcript.Store, error) {
	switch cfg.Driver {
	case "redis":
		store, err := transcript.NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript store: %w", err)
		}
		return store, nil
	default:
		return transcript.NewMemoryStore(), nil
	}
}

var circuitStateValues = map[resilience.CircuitState]float64{
	resilience.CircuitClosed:   0,
	resilience.CircuitHalfOpen: 1,
	resilience.CircuitOpen:     2,
}

func newBreakerTransport(next chatapi.Transport, cfg config.CircuitBreakerConfig, collector metrics.Collector, logger logging.Logger) *chatapi.BreakerTransport {
	bc := resilience.DefaultCircuitBreakerConfig("backend")
	if cfg.FailureThreshold > 0 {
		bc.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.Timeout > 0 {
		bc.Timeout = cfg.Timeout
	}
	bc.OnStateChange = func(from, to resilience.CircuitState) {
		logger.Warn("backend circuit changed state",
			logging.String("from", string(from)),
			logging.String("to", string(to)),
		)
		collector.SetGauge(metrics.BackendCircuitState.Name, circuitStateValues[to], nil)
	}
	return chatapi.NewBreakerTransport(next, bc)
}

func stopRetryConfig(cfg config.StopConfig) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		rc.InitialDelay = cfg.InitialDelay
	}
	return rc
}

// Close stops every thread and releases the shared components
func (a *app) Close() {
	if a.registry != nil {
		a.registry.StopAll()
	}
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Warn("failed to close config watcher", logging.Err(err))
		}
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("failed to close event publisher", logging.Err(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close transcript store", logging.Err(err))
		}
	}
	a.cancel()
}
