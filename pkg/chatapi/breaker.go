package chatapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/teryfly/solution-discussion-client-sub000/pkg/resilience"
)

// BreakerTransport guards a Transport with a circuit breaker. Only server
// side failures count; client errors and cancellations pass through.
type BreakerTransport struct {
	next    Transport
	breaker *resilience.CircuitBreaker
}

// NewBreakerTransport wraps next. cfg.IsFailure is replaced with IsBackendFailure.
func NewBreakerTransport(next Transport, cfg resilience.CircuitBreakerConfig) *BreakerTransport {
	cfg.IsFailure = IsBackendFailure
	return &BreakerTransport{
		next:    next,
		breaker: resilience.NewCircuitBreaker(cfg),
	}
}

// Breaker returns the underlying circuit breaker.
func (t *BreakerTransport) Breaker() *resilience.CircuitBreaker {
	return t.breaker
}

// OpenStream implements Transport. Only opening the stream is guarded.
func (t *BreakerTransport) OpenStream(ctx context.Context, conversationID string, req MessageRequest) (io.ReadCloser, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	body, err := t.next.OpenStream(ctx, conversationID, req)
	t.breaker.Record(err)
	return body, err
}

// StopStream implements Transport.
func (t *BreakerTransport) StopStream(ctx context.Context, sessionID string) error {
	return t.breaker.Execute(ctx, func(ctx context.Context) error {
		return t.next.StopStream(ctx, sessionID)
	})
}

// IsBackendFailure reports whether err means the backend is unhealthy.
func IsBackendFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}
