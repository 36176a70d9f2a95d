package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/mpduck/internal/api"
	"github.com/brensch/mpduck/internal/db"
)

func TestFetchProfiles_SharedSessionAcrossPages(t *testing.T) {
	src := &stubProfiles{session: "abc", total: 30, pageSize: 10}
	store := &stubStore{}

	var mu sync.Mutex
	var progress []ProfileProgress
	res, err := FetchProfiles(context.Background(), src, store, ProfilePlan{Table: "people"}, func(p ProfileProgress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, "abc", res.SessionID)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, 30, res.TotalRows)
	assert.Equal(t, 3, res.Successful)
	assert.False(t, res.HasFailures())
	assert.Empty(t, res.Advisory)

	assert.Equal(t, map[int]string{0: "", 1: "abc", 2: "abc"}, src.seen)
	assert.Equal(t, 1, store.created)
	assert.Equal(t, 2, store.appended)
	assert.False(t, store.tripped.Load())

	require.Len(t, progress, 3)
	assert.Equal(t, 0, progress[0].Page, "page 0 reports first")
	assert.Equal(t, 30, progress[2].CumulativeRows)
	for _, p := range progress {
		assert.Equal(t, 3, p.TotalPages)
	}
	for _, m := range store.metas {
		assert.Equal(t, db.KindProfiles, m.Kind)
	}
}

func TestFetchProfiles_SinglePageStartsNoPool(t *testing.T) {
	src := &stubProfiles{session: "s", total: 4, pageSize: 10}
	res, err := FetchProfiles(context.Background(), src, &stubStore{}, ProfilePlan{Table: "people"}, nil, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalPages)
	assert.Equal(t, 4, res.TotalRows)
	assert.Len(t, src.seen, 1)
}

func TestFetchProfiles_EmptyResultCreatesTable(t *testing.T) {
	store := &stubStore{}
	res, err := FetchProfiles(context.Background(), &stubProfiles{session: "s", pageSize: 10}, store, ProfilePlan{Table: "people"}, nil, discardLogger())
	require.NoError(t, err)
	assert.Zero(t, res.TotalRows)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, store.created)
}

func TestFetchProfiles_PageFailureIsRecorded(t *testing.T) {
	src := &stubProfiles{
		session:  "abc",
		total:    50,
		pageSize: 10,
		fail:     map[int]error{3: &api.Error{Kind: api.KindServer, Endpoint: "engage", Status: 503, Message: "unavailable"}},
	}
	res, err := FetchProfiles(context.Background(), src, &stubStore{}, ProfilePlan{Table: "people"}, nil, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalPages)
	assert.Equal(t, 4, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 40, res.TotalRows)
	require.Len(t, res.FailedPages, 1)
	assert.Equal(t, 3, res.FailedPages[0].Page)
	assert.Contains(t, res.FailedPages[0].Err, "unavailable")
}

func TestFetchProfiles_WriteFailureIsRecorded(t *testing.T) {
	writes := 0
	store := &stubStore{
		failWrite: func(db.TableMetadata, []db.Row) error {
			writes++
			if writes == 2 {
				return errors.New("constraint violation")
			}
			return nil
		},
	}
	res, err := FetchProfiles(context.Background(), &stubProfiles{session: "abc", total: 30, pageSize: 10}, store, ProfilePlan{Table: "people"}, nil, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 20, res.TotalRows)
	assert.Contains(t, res.FailedPages[0].Err, "constraint violation")
}

func TestFetchProfiles_FirstPageFailureIsFatal(t *testing.T) {
	src := &stubProfiles{session: "abc", total: 30, pageSize: 10, fail: map[int]error{0: &api.Error{Kind: api.KindAuth, Endpoint: "engage", Status: 401}}}
	store := &stubStore{}
	res, err := FetchProfiles(context.Background(), src, store, ProfilePlan{Table: "people"}, nil, discardLogger())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, api.IsAuth(err))
	assert.Len(t, src.seen, 1)
	assert.Zero(t, store.created)
}

func TestFetchProfiles_ExistingTableWithoutAppend(t *testing.T) {
	src := &stubProfiles{session: "abc", total: 30, pageSize: 10}
	_, err := FetchProfiles(context.Background(), src, &stubStore{exists: true}, ProfilePlan{Table: "people"}, nil, discardLogger())
	require.Error(t, err)
	assert.True(t, db.IsTableExists(err))
	assert.Empty(t, src.seen)
}

func TestFetchProfiles_LargeResultAdvisory(t *testing.T) {
	h := newCapturingHandler()
	src := &stubProfiles{session: "abc", total: 40, pageSize: 10}
	res, err := FetchProfiles(context.Background(), src, &stubStore{}, ProfilePlan{Table: "people", PageWarningThreshold: 4}, nil, slog.New(h))
	require.NoError(t, err)
	assert.Contains(t, res.Advisory, "4 pages")
	assert.True(t, h.hasMessage(slog.LevelWarn, "Large profile fetch."))
	assert.False(t, res.HasFailures(), "the advisory is not a failure")
}

func TestFetchProfiles_WorkersCappedAtProfileCeiling(t *testing.T) {
	src := &stubProfiles{session: "abc", total: 400, pageSize: 10, delay: 5 * time.Millisecond}
	res, err := FetchProfiles(context.Background(), src, &stubStore{}, ProfilePlan{Table: "people", MaxWorkers: 50}, nil, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 40, res.Successful)
	assert.LessOrEqual(t, int(src.probe.peak.Load()), MaxProfileWorkers)
}

func TestFetchProfiles_AppendToEventsTable(t *testing.T) {
	src := &stubProfiles{session: "abc", total: 30, pageSize: 10}
	_, err := FetchProfiles(context.Background(), src, &stubStore{exists: true, kind: db.KindEvents}, ProfilePlan{Table: "people", Append: true}, nil, discardLogger())
	require.Error(t, err)
	assert.True(t, db.IsTableKindMismatch(err), "got %v", err)
	assert.Empty(t, src.seen)
}

func TestFetchProfiles_CancelledReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &stubProfiles{session: "abc", total: 100, pageSize: 10, delay: 10 * time.Millisecond}
	store := &stubStore{}

	res, err := FetchProfiles(ctx, src, store, ProfilePlan{Table: "people", MaxWorkers: 1}, func(p ProfileProgress) {
		if p.Page == 1 {
			cancel()
		}
	}, discardLogger())
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.Equal(t, 10, res.TotalPages)
	assert.Equal(t, res.TotalPages, res.Successful+res.Failed)
	assert.GreaterOrEqual(t, res.Successful, 2, "pages 0 and 1 were stored")
	assert.GreaterOrEqual(t, res.Failed, 1)
	assert.Equal(t, res.Successful*10, res.TotalRows)
	assert.Equal(t, res.TotalRows, store.storedRows())
	for _, f := range res.FailedPages {
		assert.Greater(t, f.Page, 1)
		assert.Contains(t, f.Err, context.Canceled.Error())
	}
	assert.False(t, store.tripped.Load())
}

func TestFetchProfiles_CancelledBeforeFirstPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &stubProfiles{session: "abc", total: 30, pageSize: 10}
	store := &stubStore{}

	res, err := FetchProfiles(ctx, src, store, ProfilePlan{Table: "people"}, nil, discardLogger())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Empty(t, src.seen)
	assert.Zero(t, store.created)
}
