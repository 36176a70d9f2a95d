package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ScanRows streams every row of a fetched table to fn in storage order.
// Values are delivered as strings (VARCHAR), time.Time or nil (NULL).
func (s *Store) ScanRows(ctx context.Context, name string, fn func(Row) error) (TableKind, error) {
	meta, err := s.GetMetadata(ctx, name)
	if err != nil {
		return "", err
	}
	cols, err := Columns(meta.Kind)
	if err != nil {
		return "", err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s;", strings.Join(names, ", "), quoteIdent(name))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return meta.Kind, fmt.Errorf("failed to query %q: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i, c := range cols {
			if c.Type == "TIMESTAMP" {
				ptrs[i] = new(sql.NullTime)
			} else {
				ptrs[i] = new(sql.NullString)
			}
		}
		if err := rows.Scan(ptrs...); err != nil {
			return meta.Kind, fmt.Errorf("failed to scan row of %q: %w", name, err)
		}
		for i, p := range ptrs {
			switch v := p.(type) {
			case *sql.NullTime:
				if v.Valid {
					dest[i] = v.Time.UTC()
				}
			case *sql.NullString:
				if v.Valid {
					dest[i] = v.String
				}
			}
		}
		if err := fn(Row(dest)); err != nil {
			return meta.Kind, err
		}
	}
	if err := rows.Err(); err != nil {
		return meta.Kind, fmt.Errorf("error iterating rows of %q: %w", name, err)
	}
	return meta.Kind, nil
}

// DisplayTables prints the fetched tables as a fixed-width listing.
func DisplayTables(tables []TableInfo, printf func(format string, a ...any)) {
	printf("%-30s | %-8s | %-10s | %-10s | %-12s | %s\n", "Table", "Kind", "From", "To", "Rows", "Fetched (UTC)")
	printf("%s\n", strings.Repeat("-", 100))
	for _, t := range tables {
		printf("%-30s | %-8s | %-10s | %-10s | %-12d | %s\n",
			t.Name, t.Metadata.Kind, t.Metadata.FromDate, t.Metadata.ToDate, t.Metadata.RowCount, t.Metadata.FetchedAt.UTC().Format(time.RFC3339))
	}
	printf("Displayed %d tables.\n", len(tables))
}
