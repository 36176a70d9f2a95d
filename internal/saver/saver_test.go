package saver

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/brensch/mpduck/internal/db"
)

func TestToParquetStrings(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	got := toParquetStrings(db.Row{"Signup", ts, nil})
	require.Len(t, got, 3)
	assert.Equal(t, "Signup", *got[0])
	assert.Equal(t, "1704067201000", *got[1])
	assert.Nil(t, got[2])
}

func TestParquetSchema(t *testing.T) {
	md, err := parquetSchema(db.KindProfiles)
	require.NoError(t, err)
	require.Len(t, md, 3)
	assert.Contains(t, md[1], "name=last_seen, type=INT64, convertedtype=TIMESTAMP_MILLIS")

	_, err = parquetSchema("nope")
	assert.Error(t, err)
}

func TestExportTable(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := db.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	defer store.Close()

	seen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []db.Row{
		{"u1", &seen, `{"$email":"a@example.com"}`},
		{"u2", (*time.Time)(nil), `{}`},
		{"u3", &seen, `{}`},
	}
	_, err = store.CreateTable(ctx, "people", rows, db.TableMetadata{Kind: db.KindProfiles}, 10)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "nested", "people.parquet")
	n, err := ExportTable(ctx, store, "people", out, logger)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	fr, err := local.NewLocalFileReader(out)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, nil, 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	assert.EqualValues(t, 3, pr.GetNumRows())
}

func TestExportTable_MissingTable(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := db.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	defer store.Close()

	_, err = ExportTable(ctx, store, "ghost", filepath.Join(t.TempDir(), "x.parquet"), logger)
	require.Error(t, err)
	assert.True(t, db.IsTableNotFound(err))
}

func TestInspectFile(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := db.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	defer store.Close()

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := []db.Row{{"u1", &ts, `{}`}, {"u2", &ts, `{}`}}
	_, err = store.CreateTable(ctx, "people", rows, db.TableMetadata{Kind: db.KindProfiles}, 10)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "people.parquet")
	_, err = ExportTable(ctx, store, "people", out, logger)
	require.NoError(t, err)

	summary, err := InspectFile(out, logger)
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.Rows)
	require.Len(t, summary.Columns, 3)
	assert.True(t, strings.EqualFold("last_seen", summary.Columns[1].Name), summary.Columns[1].Name)
	assert.Equal(t, "INT64", summary.Columns[1].Type)
	assert.Equal(t, "TIMESTAMP_MILLIS", summary.Columns[1].ConvertedType)
}

func TestInspectFile_Missing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := InspectFile(filepath.Join(t.TempDir(), "absent.parquet"), logger)
	assert.Error(t, err)
}
