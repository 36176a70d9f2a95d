package orchestrator

import (
	"sync"

	"github.com/brensch/mpduck/internal/db"
)

// WriteTask carries one unit's transformed rows to the writer.
type WriteTask struct {
	Unit int
	Rows []db.Row
	Meta db.TableMetadata
}

// WriteQueue is a bounded FIFO between fetch workers and the single writer.
// Put blocks while the queue is full; Close acts as the stop sentinel.
type WriteQueue struct {
	ch        chan WriteTask
	closeOnce sync.Once
}

// NewWriteQueue returns a queue holding at most capacity tasks (minimum 1).
func NewWriteQueue(capacity int) *WriteQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &WriteQueue{ch: make(chan WriteTask, capacity)}
}

// Put enqueues t, blocking until there is room. The writer drains until
// Close, so Put never blocks forever while the writer is running.
// Put after Close panics.
func (q *WriteQueue) Put(t WriteTask) {
	q.ch <- t
}

// Close tells the writer no more tasks will arrive. Safe to call twice.
func (q *WriteQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Tasks is the consumer side, closed after Close once drained.
func (q *WriteQueue) Tasks() <-chan WriteTask { return q.ch }

// Len returns the number of queued tasks.
func (q *WriteQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *WriteQueue) Cap() int { return cap(q.ch) }
