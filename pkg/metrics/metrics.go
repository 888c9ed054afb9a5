package metrics

import (
	"net/http"
	"time"
)

// Collector interface for metrics collection
type Collector interface {
	// Counters
	IncrementCounter(name string, labels map[string]string)
	AddCounter(name string, value float64, labels map[string]string)

	// Gauges
	SetGauge(name string, value float64, labels map[string]string)
	IncrementGauge(name string, labels map[string]string)
	DecrementGauge(name string, labels map[string]string)

	// Histograms
	ObserveHistogram(name string, value float64, labels map[string]string)
	ObserveDuration(name string, start time.Time, labels map[string]string)

	// Registry
	Register(metric Metric) error
	Unregister(name string) error

	// HTTP handler for scraping
	Handler() http.Handler
}

// Metric represents a metric definition
type Metric struct {
	Name    string
	Type    MetricType
	Help    string
	Labels  []string
	Buckets []float64 // For histograms
}

// MetricType represents the type of metric
type MetricType string

const (
	CounterType   MetricType = "counter"
	GaugeType     MetricType = "gauge"
	HistogramType MetricType = "histogram"
)

// Round outcomes used as the "outcome" label.
const (
	OutcomeComplete  = "complete"
	OutcomeContinued = "continued"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Standard chatstream metrics
var (
	ThreadsLive = Metric{
		Name:   "chatstream_threads_live",
		Type:   GaugeType,
		Help:   "Number of threads currently registered",
		Labels: []string{},
	}

	SendsInFlight = Metric{
		Name:   "chatstream_threads_streaming",
		Type:   GaugeType,
		Help:   "Number of sends currently in flight",
		Labels: []string{},
	}

	RoundsTotal = Metric{
		Name:   "chatstream_rounds_total",
		Type:   CounterType,
		Help:   "Streamed rounds by outcome",
		Labels: []string{"outcome"},
	}

	RoundDuration = Metric{
		Name:    "chatstream_round_duration_seconds",
		Type:    HistogramType,
		Help:    "Wall time of one streamed round",
		Labels:  []string{"outcome"},
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}

	AutoContinues = Metric{
		Name:   "chatstream_auto_continues_total",
		Type:   CounterType,
		Help:   "Automatic continuations issued, by reason",
		Labels: []string{"reason"},
	}

	StreamErrors = Metric{
		Name:   "chatstream_stream_errors_total",
		Type:   CounterType,
		Help:   "Transport failures that ended a round",
		Labels: []string{"kind"},
	}

	MalformedPayloads = Metric{
		Name:   "chatstream_malformed_payloads_total",
		Type:   CounterType,
		Help:   "Stream payloads dropped because they were not valid JSON",
		Labels: []string{},
	}

	StopRequests = Metric{
		Name:   "chatstream_stop_requests_total",
		Type:   CounterType,
		Help:   "Out-of-band stop notifications by result",
		Labels: []string{"result"},
	}

	BackendCircuitState = Metric{
		Name:   "chatstream_backend_circuit_state",
		Type:   GaugeType,
		Help:   "Backend circuit breaker state (0 closed, 1 half-open, 2 open)",
		Labels: []string{},
	}
)

// StandardMetrics lists every metric registered by RegisterStandardMetrics.
func StandardMetrics() []Metric {
	return []Metric{
		ThreadsLive,
		SendsInFlight,
		RoundsTotal,
		RoundDuration,
		AutoContinues,
		StreamErrors,
		MalformedPayloads,
		StopRequests,
		BackendCircuitState,
	}
}

// Labels creates a labels map from key-value pairs
func Labels(kvs ...string) map[string]string {
	labels := make(map[string]string)
	for i := 0; i < len(kvs)-1; i += 2 {
		labels[kvs[i]] = kvs[i+1]
	}
	return labels
}

// Nop returns a Collector that discards everything.
func Nop() Collector {
	return nopCollector{}
}

type nopCollector struct{}

func (nopCollector) IncrementCounter(string, map[string]string)           {}
func (nopCollector) AddCounter(string, float64, map[string]string)        {}
func (nopCollector) SetGauge(string, float64, map[string]string)          {}
func (nopCollector) IncrementGauge(string, map[string]string)             {}
func (nopCollector) DecrementGauge(string, map[string]string)             {}
func (nopCollector) ObserveHistogram(string, float64, map[string]string)  {}
func (nopCollector) ObserveDuration(string, time.Time, map[string]string) {}
func (nopCollector) Register(Metric) error                                { return nil }
func (nopCollector) Unregister(string) error                              { return nil }
func (nopCollector) Handler() http.Handler                                { return http.NotFoundHandler() }
