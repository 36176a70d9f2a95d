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

// FetchProfiles fetches every page of plan.Query and stores it through a
// single writer.
//
// Page 0 is fetched and written synchronously: it fixes the session id and
// page count for the run and creates the table before any worker starts, so
// a failure on page 0 is returned as an error. Later pages are fetched
// concurrently with the shared session id; their failures are recorded per
// page. Cancellation behaves as in FetchEvents.
func FetchProfiles(ctx context.Context, src ProfileSource, store Store, plan ProfilePlan, onProgress func(ProfileProgress), logger *slog.Logger) (*ProfileResult, error) {
	start := time.Now()
	plan, err := plan.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := checkTarget(ctx, store, plan.Table, db.KindProfiles, plan.Append); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	l := logger.With(
		slog.String("component", "orchestrator"),
		slog.String("kind", "profiles"),
		slog.String("table", plan.Table),
		slog.String("run_id", runID),
	)
	meta := func() db.TableMetadata {
		return db.TableMetadata{
			Kind:      db.KindProfiles,
			RunID:     runID,
			FetchedAt: time.Now().UTC(),
			Events:    plan.Query.OutputProperties,
			Where:     plan.Query.Where,
			Filter:    describeProfileFilter(plan.Query),
		}
	}

	// totalPages is set once from page 0 before any callback can observe it.
	totalPages := 1
	agg := newAggregator(l)
	report := func(page, rows int, err error) {
		agg.record(page, rows, err, func(cumulative int) {
			if onProgress == nil {
				return
			}
			p := ProfileProgress{
				Page:           page,
				TotalPages:     totalPages,
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
			unitsTotal.WithLabelValues("profiles", "write_error").Inc()
			err = fmt.Errorf("write failed: %w", err)
		} else {
			unitsTotal.WithLabelValues("profiles", "success").Inc()
			rowsWritten.WithLabelValues("profiles").Add(float64(n))
		}
		if task.Unit > 0 {
			report(task.Unit, n, err)
		}
	}, l)

	// Page 0, synchronously.
	gate := NewGate(clampWorkers(plan.MaxWorkers, config.DefaultProfileWorkers, MaxProfileWorkers))
	first, rows, err := fetchPage(ctx, src, gate, plan.Query, Page{Index: 0})
	if err != nil {
		unitsTotal.WithLabelValues("profiles", "fetch_error").Inc()
		return nil, fmt.Errorf("failed to fetch first profiles page: %w", err)
	}
	totalPages = first.NumPages()
	session := first.SessionID
	if err := writer.write(ctx, WriteTask{Unit: 0, Rows: rows, Meta: meta()}); err != nil {
		return nil, fmt.Errorf("failed to store first profiles page: %w", err)
	}
	report(0, len(rows), nil)

	l.Info("First profiles page stored.",
		slog.Int("rows", len(rows)),
		slog.Int("total_profiles", first.Total),
		slog.Int("pages", totalPages),
	)

	var advisory string
	if totalPages >= plan.PageWarningThreshold {
		advisory = fmt.Sprintf("query spans %d pages (%d profiles); consider narrowing it with a where clause, cohort or output properties", totalPages, first.Total)
		l.Warn("Large profile fetch.", slog.Int("pages", totalPages), slog.Int("threshold", plan.PageWarningThreshold))
	}

	if totalPages > 1 {
		workers := gate.Cap()
		l.Info("Fetching remaining profile pages.", slog.Int("pages", totalPages-1), slog.Int("workers", workers))

		queue := NewWriteQueue(2 * workers)
		var writerWg sync.WaitGroup
		writer.start(ctx, queue, &writerWg)

		var g errgroup.Group
		g.SetLimit(workers)
		for i := 1; i < totalPages; i++ {
			page := Page{Index: i, SessionID: session}
			g.Go(func() error {
				_, rows, err := fetchPage(ctx, src, gate, plan.Query, page)
				if err != nil {
					l.Warn("Profile page fetch failed.", slog.Int("page", page.Index), "error", err)
					unitsTotal.WithLabelValues("profiles", "fetch_error").Inc()
					report(page.Index, 0, err)
					return nil
				}
				queue.Put(WriteTask{Unit: page.Index, Rows: rows, Meta: meta()})
				return nil
			})
		}
		g.Wait()
		queue.Close()
		writerWg.Wait()
	}
	gatePeak.WithLabelValues("profiles").Set(float64(gate.Peak()))

	snap := agg.snapshot()
	failed := make([]PageFailure, 0, len(snap.failures))
	for _, f := range snap.failures {
		failed = append(failed, PageFailure{Page: f.index, Err: f.err})
	}
	elapsed := time.Since(start)
	res := &ProfileResult{
		RunID:           runID,
		Table:           plan.Table,
		SessionID:       session,
		TotalRows:       snap.totalRows,
		TotalPages:      totalPages,
		Successful:      snap.successful,
		Failed:          snap.failed,
		FailedPages:     failed,
		Advisory:        advisory,
		Duration:        elapsed,
		DurationSeconds: elapsed.Seconds(),
		CompletedAt:     time.Now().UTC(),
	}

	logFn := l.Info
	if res.HasFailures() {
		logFn = l.Warn
	}
	logFn("Profiles fetch finished.",
		slog.Int("rows", res.TotalRows),
		slog.Int("successful", res.Successful),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", elapsed),
	)
	return res, ctx.Err()
}

// fetchPage fetches and transforms one page while holding a gate slot.
func fetchPage(ctx context.Context, src ProfileSource, gate *Gate, q api.ProfileQuery, page Page) (resp *api.ProfilePage, rows []db.Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, rows, err = nil, nil, fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	err = gate.Do(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		defer func() { fetchDuration.WithLabelValues("profiles").Observe(time.Since(start).Seconds()) }()

		p, err := src.FetchProfilesPage(ctx, q, page.Index, page.SessionID)
		if err != nil {
			return err
		}
		out := make([]db.Row, 0, len(p.Profiles))
		for _, raw := range p.Profiles {
			row, err := transformProfile(raw)
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		resp, rows = p, out
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, rows, nil
}
