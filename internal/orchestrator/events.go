package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/mpduck/internal/api"
	"github.com/brensch/mpduck/internal/config"
	"github.com/brensch/mpduck/internal/db"
)

// FetchEvents exports plan's date range chunk by chunk with bounded
// concurrency and stores every chunk through a single writer.
//
// Invalid plans and table precondition violations are returned before any
// fetch starts. Per-chunk fetch or write failures never abort the run; they
// are listed in the result. If ctx is cancelled, chunks not yet started are
// recorded as failed, already fetched chunks are still written, and the
// partial result is returned together with ctx.Err().
func FetchEvents(ctx context.Context, src EventSource, store Store, plan EventPlan, onProgress func(BatchProgress), logger *slog.Logger) (*EventResult, error) {
	start := time.Now()
	plan, err := plan.withDefaults()
	if err != nil {
		return nil, err
	}
	chunks, err := SplitDateRange(plan.FromDate, plan.ToDate, plan.ChunkDays)
	if err != nil {
		return nil, err
	}
	if err := checkTarget(ctx, store, plan.Table, db.KindEvents, plan.Append); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	workers := clampWorkers(plan.MaxWorkers, config.DefaultEventWorkers, MaxEventWorkers)
	l := logger.With(
		slog.String("component", "orchestrator"),
		slog.String("kind", "events"),
		slog.String("table", plan.Table),
		slog.String("run_id", runID),
	)
	l.Info("Starting events fetch.",
		slog.String("from", plan.FromDate),
		slog.String("to", plan.ToDate),
		slog.Int("chunks", len(chunks)),
		slog.Int("workers", workers),
		slog.Bool("append", plan.Append),
	)

	agg := newAggregator(l)
	report := func(c Chunk, rows int, err error) {
		agg.record(c.Index, rows, err, func(cumulative int) {
			if onProgress == nil {
				return
			}
			p := BatchProgress{
				Index:          c.Index,
				Total:          len(chunks),
				FromDate:       c.FromDate,
				ToDate:         c.ToDate,
				Rows:           rows,
				Success:        err == nil,
				CumulativeRows: cumulative,
			}
			if err != nil {
				p.Err = err.Error()
			}
			onProgress(p)
		})
	}

	writer := newSingleWriter(store, plan.Table, plan.Append, plan.BatchSize, func(task WriteTask, n int, err error) {
		if err != nil {
			unitsTotal.WithLabelValues("events", "write_error").Inc()
			err = fmt.Errorf("write failed: %w", err)
		} else {
			unitsTotal.WithLabelValues("events", "success").Inc()
			rowsWritten.WithLabelValues("events").Add(float64(n))
		}
		report(chunks[task.Unit], n, err)
	}, l)

	queue := NewWriteQueue(2 * workers)
	var writerWg sync.WaitGroup
	writer.start(ctx, queue, &writerWg)

	gate := NewGate(workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, c := range chunks {
		g.Go(func() error {
			cl := l.With(slog.Int("chunk", c.Index), slog.String("from", c.FromDate), slog.String("to", c.ToDate))
			rows, err := fetchChunk(ctx, src, gate, plan, c)
			if err != nil {
				cl.Warn("Chunk fetch failed.", "error", err)
				unitsTotal.WithLabelValues("events", "fetch_error").Inc()
				report(c, 0, err)
				return nil
			}
			cl.Debug("Chunk fetched, queueing for write.", slog.Int("rows", len(rows)))
			queue.Put(WriteTask{
				Unit: c.Index,
				Rows: rows,
				Meta: db.TableMetadata{
					Kind:      db.KindEvents,
					RunID:     runID,
					FetchedAt: time.Now().UTC(),
					FromDate:  c.FromDate,
					ToDate:    c.ToDate,
					Events:    plan.Events,
					Where:     plan.Where,
				},
			})
			return nil
		})
	}

	g.Wait() // workers never return errors
	queue.Close()
	writerWg.Wait()
	gatePeak.WithLabelValues("events").Set(float64(gate.Peak()))

	snap := agg.snapshot()
	failed := make([]ChunkFailure, 0, len(snap.failures))
	for _, f := range snap.failures {
		c := chunks[f.index]
		failed = append(failed, ChunkFailure{Index: c.Index, FromDate: c.FromDate, ToDate: c.ToDate, Err: f.err})
	}
	elapsed := time.Since(start)
	res := &EventResult{
		RunID:           runID,
		Table:           plan.Table,
		TotalRows:       snap.totalRows,
		TotalChunks:     len(chunks),
		Successful:      snap.successful,
		Failed:          snap.failed,
		FailedChunks:    failed,
		Duration:        elapsed,
		DurationSeconds: elapsed.Seconds(),
		CompletedAt:     time.Now().UTC(),
	}

	logFn := l.Info
	if res.HasFailures() {
		logFn = l.Warn
	}
	logFn("Events fetch finished.",
		slog.Int("rows", res.TotalRows),
		slog.Int("successful", res.Successful),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", elapsed),
	)
	return res, ctx.Err()
}

// fetchChunk streams and transforms one chunk while holding a gate slot.
// A panic in the source is turned into an error for this chunk only.
func fetchChunk(ctx context.Context, src EventSource, gate *Gate, plan EventPlan, c Chunk) (rows []db.Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	q := api.EventQuery{FromDate: c.FromDate, ToDate: c.ToDate, Events: plan.Events, Where: plan.Where}
	err = gate.Do(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		defer func() { fetchDuration.WithLabelValues("events").Observe(time.Since(start).Seconds()) }()
		return src.StreamEvents(ctx, q, func(ev api.RawEvent) error {
			row, err := transformEvent(ev)
			if err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
