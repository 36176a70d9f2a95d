package orchestrator

import (
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
)

type unitFailure struct {
	index int
	err   string
}

// aggregator collects per-unit outcomes from workers and the writer.
type aggregator struct {
	mu         sync.Mutex
	successful int
	failed     int
	totalRows  int
	failures   []unitFailure

	// emitMu keeps progress callbacks serial and in the order outcomes were recorded.
	emitMu sync.Mutex
	logger *slog.Logger
}

func newAggregator(logger *slog.Logger) *aggregator {
	return &aggregator{logger: logger}
}

// record books one unit and then calls emit with the running row total.
// A panicking emit is logged and swallowed.
func (a *aggregator) record(index, rows int, err error, emit func(cumulative int)) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	if err != nil {
		a.failed++
		a.failures = append(a.failures, unitFailure{index: index, err: err.Error()})
	} else {
		a.successful++
		a.totalRows += rows
	}
	cumulative := a.totalRows
	a.mu.Unlock()

	if emit != nil {
		a.safeEmit(index, func() { emit(cumulative) })
	}
}

func (a *aggregator) safeEmit(index int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Progress callback panicked; ignoring.", slog.Int("unit", index), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

type aggregateSnapshot struct {
	successful int
	failed     int
	totalRows  int
	failures   []unitFailure // sorted by index
}

func (a *aggregator) snapshot() aggregateSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	failures := make([]unitFailure, len(a.failures))
	copy(failures, a.failures)
	sort.Slice(failures, func(i, j int) bool { return failures[i].index < failures[j].index })
	return aggregateSnapshot{
		successful: a.successful,
		failed:     a.failed,
		totalRows:  a.totalRows,
		failures:   failures,
	}
}
