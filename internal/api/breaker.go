package api

import (
	"log/slog"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// newBreaker opens after a 60% failure rate over at least 10 requests and
// probes again after two minutes. Auth and query errors are the caller's
// fault and do not count against the remote service.
func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= 0.6 {
				logger.Warn("Opening circuit breaker.", slog.Uint64("failures", uint64(counts.TotalFailures)), slog.Float64("failure_rate", ratio))
				return true
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsAuth(err) || IsQuery(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state transition.", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
}
