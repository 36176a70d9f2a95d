package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/mpduck/internal/api"
	"github.com/brensch/mpduck/internal/db"
)

// capturingHandler keeps every log record for assertions.
type capturingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	next    slog.Handler
}

func newCapturingHandler() *capturingHandler {
	return &capturingHandler{next: slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})}
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capturingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r.Clone())
	h.mu.Unlock()
	return h.next.Handle(ctx, r)
}

func (h *capturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &capturingHandlerView{root: h, next: h.next.WithAttrs(attrs)}
}

func (h *capturingHandler) WithGroup(name string) slog.Handler {
	return &capturingHandlerView{root: h, next: h.next.WithGroup(name)}
}

// hasMessage reports whether a record at level with msg was logged.
func (h *capturingHandler) hasMessage(level slog.Level, msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Level == level && r.Message == msg {
			return true
		}
	}
	return false
}

// capturingHandlerView funnels derived loggers into the root's records.
type capturingHandlerView struct {
	root *capturingHandler
	next slog.Handler
}

func (v *capturingHandlerView) Enabled(context.Context, slog.Level) bool { return true }

func (v *capturingHandlerView) Handle(ctx context.Context, r slog.Record) error {
	v.root.mu.Lock()
	v.root.records = append(v.root.records, r.Clone())
	v.root.mu.Unlock()
	return v.next.Handle(ctx, r)
}

func (v *capturingHandlerView) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &capturingHandlerView{root: v.root, next: v.next.WithAttrs(attrs)}
}

func (v *capturingHandlerView) WithGroup(name string) slog.Handler {
	return &capturingHandlerView{root: v.root, next: v.next.WithGroup(name)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// concurrencyProbe tracks simultaneous entries into a section.
type concurrencyProbe struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (p *concurrencyProbe) enter() int32 {
	n := p.current.Add(1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			return n
		}
	}
}

func (p *concurrencyProbe) leave() { p.current.Add(-1) }

// stubEvents returns rowsPerChunk events for every chunk, failing chunks listed in fail.
type stubEvents struct {
	rowsPerChunk int
	delay        time.Duration
	fail         map[string]error // keyed by chunk from date
	panicOn      string

	probe concurrencyProbe
	mu    sync.Mutex
	calls []api.EventQuery
}

func (s *stubEvents) StreamEvents(ctx context.Context, q api.EventQuery, fn func(api.RawEvent) error) error {
	s.probe.enter()
	defer s.probe.leave()

	s.mu.Lock()
	s.calls = append(s.calls, q)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if q.FromDate == s.panicOn {
		panic("boom")
	}
	if err := s.fail[q.FromDate]; err != nil {
		return err
	}
	for i := 0; i < s.rowsPerChunk; i++ {
		ev := api.RawEvent{
			Event: "Signup",
			Properties: map[string]any{
				"time":        float64(1704067200 + i),
				"distinct_id": fmt.Sprintf("user-%d", i),
				"$insert_id":  fmt.Sprintf("%s-%d", q.FromDate, i),
				"plan":        "pro",
			},
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubEvents) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// stubStore is an in-memory Store that trips if two writes overlap.
type stubStore struct {
	exists     bool
	kind       db.TableKind // metadata kind of an existing table; empty means no metadata row
	writeDelay time.Duration
	failWrite  func(meta db.TableMetadata, rows []db.Row) error

	inFlight atomic.Int32
	tripped  atomic.Bool

	mu       sync.Mutex
	created  int
	appended int
	rows     int
	metas    []db.TableMetadata
}

var errConcurrentWrite = errors.New("concurrent write detected")

func (s *stubStore) TableExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists, nil
}

func (s *stubStore) GetMetadata(ctx context.Context, name string) (db.TableMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists || s.kind == "" {
		return db.TableMetadata{}, &db.TableNotFoundError{Table: name}
	}
	return db.TableMetadata{Kind: s.kind}, nil
}

func (s *stubStore) enterWrite() error {
	if s.inFlight.Add(1) > 1 {
		s.tripped.Store(true)
		return errConcurrentWrite
	}
	if s.writeDelay > 0 {
		time.Sleep(s.writeDelay)
	}
	return nil
}

func (s *stubStore) CreateTable(ctx context.Context, name string, rows []db.Row, meta db.TableMetadata, batchSize int) (int, error) {
	defer s.inFlight.Add(-1)
	if err := s.enterWrite(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists {
		return 0, &db.TableExistsError{Table: name}
	}
	if s.failWrite != nil {
		if err := s.failWrite(meta, rows); err != nil {
			return 0, err
		}
	}
	s.exists = true
	s.kind = meta.Kind
	s.created++
	s.rows += len(rows)
	s.metas = append(s.metas, meta)
	return len(rows), nil
}

func (s *stubStore) AppendTable(ctx context.Context, name string, rows []db.Row, meta db.TableMetadata, batchSize int) (int, error) {
	defer s.inFlight.Add(-1)
	if err := s.enterWrite(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return 0, &db.TableNotFoundError{Table: name}
	}
	if s.failWrite != nil {
		if err := s.failWrite(meta, rows); err != nil {
			return 0, err
		}
	}
	s.appended++
	s.rows += len(rows)
	s.metas = append(s.metas, meta)
	return len(rows), nil
}

func (s *stubStore) storedRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// stubProfiles serves pageSize profiles per page under one session id.
type stubProfiles struct {
	session  string
	total    int
	pageSize int
	delay    time.Duration
	fail     map[int]error

	probe concurrencyProbe
	mu    sync.Mutex
	seen  map[int]string // page -> session id used
}

func (s *stubProfiles) FetchProfilesPage(ctx context.Context, q api.ProfileQuery, page int, sessionID string) (*api.ProfilePage, error) {
	s.probe.enter()
	defer s.probe.leave()

	s.mu.Lock()
	if s.seen == nil {
		s.seen = make(map[int]string)
	}
	s.seen[page] = sessionID
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err := s.fail[page]; err != nil {
		return nil, err
	}
	if page > 0 && sessionID != s.session {
		return nil, &api.Error{Kind: api.KindQuery, Endpoint: "engage", Message: "unknown session " + sessionID}
	}

	n := s.pageSize
	if remaining := s.total - page*s.pageSize; remaining < n {
		n = max(remaining, 0)
	}
	out := &api.ProfilePage{Page: page, PageSize: s.pageSize, SessionID: s.session}
	if page == 0 {
		out.Total = s.total
	}
	for i := 0; i < n; i++ {
		out.Profiles = append(out.Profiles, api.RawProfile{
			DistinctID: fmt.Sprintf("u-%d-%d", page, i),
			Properties: map[string]any{"$last_seen": "2024-03-01T12:00:00", "$email": "x@example.com"},
		})
	}
	return out, nil
}
