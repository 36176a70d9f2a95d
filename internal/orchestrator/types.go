package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/brensch/mpduck/internal/api"
	"github.com/brensch/mpduck/internal/db"
)

// ErrInvalidPlan is wrapped by every plan validation failure.
var ErrInvalidPlan = errors.New("invalid fetch plan")

// Worker ceilings. The engage API keeps server-side session state and is
// much more sensitive to parallel load than export.
const (
	MaxEventWorkers   = 100
	MaxProfileWorkers = 5
)

// EventSource streams raw events for a date range.
type EventSource interface {
	StreamEvents(ctx context.Context, q api.EventQuery, fn func(api.RawEvent) error) error
}

// ProfileSource fetches sessioned profile pages.
type ProfileSource interface {
	FetchProfilesPage(ctx context.Context, q api.ProfileQuery, page int, sessionID string) (*api.ProfilePage, error)
}

// Store is the storage engine. It is not safe for concurrent writers; only
// the single writer goroutine calls CreateTable and AppendTable.
type Store interface {
	TableExists(ctx context.Context, name string) (bool, error)
	GetMetadata(ctx context.Context, name string) (db.TableMetadata, error)
	CreateTable(ctx context.Context, name string, rows []db.Row, meta db.TableMetadata, batchSize int) (int, error)
	AppendTable(ctx context.Context, name string, rows []db.Row, meta db.TableMetadata, batchSize int) (int, error)
}

// EventPlan describes one events fetch. Zero values fall back to defaults.
type EventPlan struct {
	Table      string
	FromDate   string // YYYY-MM-DD, inclusive
	ToDate     string // YYYY-MM-DD, inclusive
	Events     []string
	Where      string
	Append     bool
	MaxWorkers int
	ChunkDays  int
	BatchSize  int
}

// ProfilePlan describes one profiles fetch.
type ProfilePlan struct {
	Table                string
	Query                api.ProfileQuery
	Append               bool
	MaxWorkers           int
	BatchSize            int
	PageWarningThreshold int
}

// Chunk is one date slice of an events fetch.
type Chunk struct {
	Index    int
	FromDate string
	ToDate   string
}

// Page is one page of a profiles fetch. SessionID is fixed by page 0.
type Page struct {
	Index     int
	SessionID string
}

// BatchProgress is reported once per finished chunk.
type BatchProgress struct {
	Index          int    `json:"index"`
	Total          int    `json:"total"`
	FromDate       string `json:"from_date"`
	ToDate         string `json:"to_date"`
	Rows           int    `json:"rows"`
	Success        bool   `json:"success"`
	Err            string `json:"error,omitempty"`
	CumulativeRows int    `json:"cumulative_rows"`
}

// ProfileProgress is reported once per finished page.
type ProfileProgress struct {
	Page           int    `json:"page"`
	TotalPages     int    `json:"total_pages"`
	Rows           int    `json:"rows"`
	Success        bool   `json:"success"`
	Err            string `json:"error,omitempty"`
	CumulativeRows int    `json:"cumulative_rows"`
}

// ChunkFailure records why a chunk produced no rows.
type ChunkFailure struct {
	Index    int    `json:"index"`
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
	Err      string `json:"error"`
}

// PageFailure records why a page produced no rows.
type PageFailure struct {
	Page int    `json:"page"`
	Err  string `json:"error"`
}

// EventResult is the final outcome of FetchEvents.
type EventResult struct {
	RunID           string         `json:"run_id"`
	Table           string         `json:"table"`
	TotalRows       int            `json:"total_rows"`
	TotalChunks     int            `json:"total_chunks"`
	Successful      int            `json:"successful_chunks"`
	Failed          int            `json:"failed_chunks"`
	FailedChunks    []ChunkFailure `json:"failed_ranges"`
	Duration        time.Duration  `json:"-"`
	DurationSeconds float64        `json:"duration_seconds"`
	CompletedAt     time.Time      `json:"completed_at"`
}

// HasFailures reports whether any chunk failed.
func (r *EventResult) HasFailures() bool { return r.Failed > 0 }

// ProfileResult is the final outcome of FetchProfiles.
type ProfileResult struct {
	RunID           string        `json:"run_id"`
	Table           string        `json:"table"`
	SessionID       string        `json:"session_id"`
	TotalRows       int           `json:"total_rows"`
	TotalPages      int           `json:"total_pages"`
	Successful      int           `json:"successful_pages"`
	Failed          int           `json:"failed_pages"`
	FailedPages     []PageFailure `json:"failed_pages_detail"`
	Advisory        string        `json:"advisory,omitempty"`
	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
	CompletedAt     time.Time     `json:"completed_at"`
}

// HasFailures reports whether any page failed.
func (r *ProfileResult) HasFailures() bool { return r.Failed > 0 }

// clampWorkers applies the default and the hard ceiling.
func clampWorkers(requested, def, ceiling int) int {
	if requested <= 0 {
		requested = def
	}
	return min(requested, ceiling)
}
