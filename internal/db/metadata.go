package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// querier is the subset of *sql.DB, *sql.Conn and *sql.Tx the metadata helpers need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// putMetadata replaces the _metadata row of name. Table names match
// case-insensitively, as DuckDB identifiers do.
func putMetadata(ctx context.Context, q querier, name string, meta TableMetadata) error {
	names, err := json.Marshal(meta.Events)
	if err != nil {
		return fmt.Errorf("failed to encode metadata names: %w", err)
	}
	if meta.FetchedAt.IsZero() {
		meta.FetchedAt = time.Now().UTC()
	}
	// Keep the key spelling already on record so "Events" replaces "events".
	key := name
	var stored string
	err = q.QueryRowContext(ctx, `SELECT table_name FROM _metadata WHERE lower(table_name) = lower(?);`, name).Scan(&stored)
	switch {
	case err == nil:
		key = stored
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to look up metadata for %q: %w", name, err)
	}
	const query = `
        INSERT OR REPLACE INTO _metadata (table_name, kind, run_id, fetched_at, from_date, to_date, names, where_clause, filter, row_count)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `
	_, err = q.ExecContext(ctx, query,
		key,
		string(meta.Kind),
		nullString(meta.RunID),
		meta.FetchedAt.UTC(),
		nullString(meta.FromDate),
		nullString(meta.ToDate),
		string(names),
		nullString(meta.Where),
		nullString(meta.Filter),
		meta.RowCount,
	)
	if err != nil {
		return fmt.Errorf("failed to write metadata for %q: %w", name, err)
	}
	return nil
}

// mergeMetadata refreshes the metadata of name after an append: row count is
// recounted, the date range widened and the latest run recorded.
func mergeMetadata(ctx context.Context, q querier, name string, meta TableMetadata) error {
	current, err := getMetadata(ctx, q, name)
	if err != nil && !IsTableNotFound(err) {
		return err
	}
	if err == nil {
		if current.FromDate != "" && (meta.FromDate == "" || current.FromDate < meta.FromDate) {
			meta.FromDate = current.FromDate
		}
		if current.ToDate > meta.ToDate {
			meta.ToDate = current.ToDate
		}
		if meta.Kind == "" {
			meta.Kind = current.Kind
		}
	}
	var count int64
	if err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s;", quoteIdent(name))).Scan(&count); err != nil {
		return fmt.Errorf("failed to count rows of %q: %w", name, err)
	}
	meta.RowCount = count
	meta.FetchedAt = time.Now().UTC()
	return putMetadata(ctx, q, name, meta)
}

// GetMetadata returns the stored metadata of a fetched table.
func (s *Store) GetMetadata(ctx context.Context, name string) (TableMetadata, error) {
	return getMetadata(ctx, s.db, name)
}

func getMetadata(ctx context.Context, q querier, name string) (TableMetadata, error) {
	const query = `
        SELECT kind, run_id, fetched_at, from_date, to_date, names, where_clause, filter, row_count
        FROM _metadata WHERE lower(table_name) = lower(?);
    `
	meta, err := scanMetadata(q.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TableMetadata{}, &TableNotFoundError{Table: name}
		}
		return TableMetadata{}, fmt.Errorf("failed to read metadata for %q: %w", name, err)
	}
	return meta, nil
}

// ListTables returns every fetched table with its metadata, ordered by name.
// Tables created outside mpduck (no metadata row) are skipped.
func (s *Store) ListTables(ctx context.Context) ([]TableInfo, error) {
	const query = `
        SELECT m.table_name, m.kind, m.run_id, m.fetched_at, m.from_date, m.to_date, m.names, m.where_clause, m.filter, m.row_count
        FROM _metadata m
        JOIN information_schema.tables t ON lower(t.table_name) = lower(m.table_name) AND t.table_schema = 'main'
        ORDER BY m.table_name;
    `
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var out []TableInfo
	for rows.Next() {
		var name string
		meta, err := scanMetadata(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		out = append(out, TableInfo{Name: name, Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMetadata scans the metadata columns, preceded by any leading destinations.
func scanMetadata(row rowScanner, leading ...any) (TableMetadata, error) {
	var kind string
	var runID, fromDate, toDate, names, where, filter sql.NullString
	var fetchedAt time.Time
	var rowCount int64
	dest := append(leading, &kind, &runID, &fetchedAt, &fromDate, &toDate, &names, &where, &filter, &rowCount)
	if err := row.Scan(dest...); err != nil {
		return TableMetadata{}, err
	}
	meta := TableMetadata{
		Kind:      TableKind(kind),
		RunID:     runID.String,
		FetchedAt: fetchedAt,
		FromDate:  fromDate.String,
		ToDate:    toDate.String,
		Where:     where.String,
		Filter:    filter.String,
		RowCount:  rowCount,
	}
	if names.Valid && names.String != "" {
		if err := json.Unmarshal([]byte(names.String), &meta.Events); err != nil {
			return TableMetadata{}, fmt.Errorf("decode names: %w", err)
		}
	}
	return meta, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
