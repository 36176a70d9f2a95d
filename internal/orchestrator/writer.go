package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// writeOutcome reports a finished write back to the orchestrator.
type writeOutcome func(task WriteTask, rows int, err error)

// singleWriter is the only caller of Store.CreateTable and Store.AppendTable
// during a fetch.
type singleWriter struct {
	store     Store
	table     string
	append    bool
	batchSize int
	onDone    writeOutcome
	logger    *slog.Logger

	created bool // table created by this run; only touched by the writer
}

func newSingleWriter(store Store, table string, appendMode bool, batchSize int, onDone writeOutcome, logger *slog.Logger) *singleWriter {
	return &singleWriter{
		store:     store,
		table:     table,
		append:    appendMode,
		batchSize: batchSize,
		onDone:    onDone,
		logger:    logger.With(slog.String("component", "writer")),
	}
}

// start runs the writer loop in its own goroutine until q is closed and drained.
func (w *singleWriter) start(ctx context.Context, q *WriteQueue, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.logger.Debug("Writer goroutine started.")
		for task := range q.Tasks() {
			w.write(ctx, task)
		}
		w.logger.Debug("Writer: queue closed and drained.")
	}()
}

// write stores one task, reports the outcome and returns the storage error.
// Fetched rows are written even after ctx is cancelled.
func (w *singleWriter) write(ctx context.Context, task WriteTask) error {
	ctx = context.WithoutCancel(ctx)
	l := w.logger.With(slog.Int("unit", task.Unit), slog.Int("rows", len(task.Rows)))
	start := time.Now()

	var n int
	var err error
	switch {
	case !w.append && !w.created:
		n, err = w.store.CreateTable(ctx, w.table, task.Rows, task.Meta, w.batchSize)
		if err == nil {
			w.created = true
		}
	case len(task.Rows) == 0:
		// nothing to append
	default:
		n, err = w.store.AppendTable(ctx, w.table, task.Rows, task.Meta, w.batchSize)
	}

	if err != nil {
		l.Error("Writer: failed to store unit.", "error", err)
	} else {
		l.Debug("Writer: unit stored.", slog.Duration("duration", time.Since(start)))
	}
	w.onDone(task, n, err)
	return err
}
