package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcboeker/go-duckdb"
)

// loadRows appends rows into table name through a DuckDB Appender.
//
// Rows are first appended to a private staging table, flushing every
// batchSize rows. They are then moved into the target with a single
// INSERT ... SELECT inside a transaction that also runs commit, so the rows
// and whatever commit records land together or not at all.
func (s *Store) loadRows(ctx context.Context, name string, cols []Column, rows []Row, batchSize int, commit func(tx *sql.Tx, n int) error) (int, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection for load: %w", err)
	}
	defer conn.Close()

	var stage string
	if len(rows) > 0 {
		s.stageSeq++
		stage = fmt.Sprintf("_stage_%s_%d", name, s.stageSeq)
		if _, err := conn.ExecContext(ctx, createTableSQL(stage, cols)); err != nil {
			return 0, fmt.Errorf("failed to create staging table for %q: %w", name, err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), fmt.Sprintf("DROP TABLE IF EXISTS %s;", quoteIdent(stage))); err != nil {
				s.logger.Warn("Failed to drop staging table.", slog.String("stage", stage), "error", err)
			}
		}()
		if err := appendStaged(ctx, conn, stage, cols, rows, batchSize); err != nil {
			return 0, fmt.Errorf("load into %q: %w", name, err)
		}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin load transaction for %q: %w", name, err)
	}
	defer tx.Rollback() // Rollback is safe even after commit

	if stage != "" {
		res, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s SELECT * FROM %s;", quoteIdent(name), quoteIdent(stage)))
		if err != nil {
			return 0, fmt.Errorf("failed to move staged rows into %q: %w", name, err)
		}
		if n, err := res.RowsAffected(); err == nil && int(n) != len(rows) {
			s.logger.Warn("Staged row count mismatch.", slog.String("table", name), slog.Int64("moved", n), slog.Int("staged", len(rows)))
		}
	}
	if commit != nil {
		if err := commit(tx, len(rows)); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit load into %q: %w", name, err)
	}
	return len(rows), nil
}

// appendStaged writes rows into the staging table through the Appender.
func appendStaged(ctx context.Context, conn *sql.Conn, stage string, cols []Column, rows []Row, batchSize int) error {
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", stage)
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		for i, row := range rows {
			if len(row) != len(cols) {
				appender.Close()
				return fmt.Errorf("row %d has %d values, table has %d columns", i, len(row), len(cols))
			}
			if err := appender.AppendRow(toDriverValues(row)...); err != nil {
				appender.Close()
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
			if (i+1)%batchSize == 0 {
				if err := ctx.Err(); err != nil {
					appender.Close()
					return err
				}
				if err := appender.Flush(); err != nil {
					appender.Close()
					return fmt.Errorf("failed to flush batch ending at row %d: %w", i, err)
				}
			}
		}
		// Close flushes the remainder.
		if err := appender.Close(); err != nil {
			return fmt.Errorf("failed to close appender: %w", err)
		}
		return nil
	})
}

// toDriverValues converts a Row into appender values. Nil time pointers become NULL.
func toDriverValues(row Row) []driver.Value {
	values := make([]driver.Value, len(row))
	for i, v := range row {
		switch tv := v.(type) {
		case *time.Time:
			if tv == nil {
				values[i] = nil
			} else {
				values[i] = *tv
			}
		default:
			values[i] = v
		}
	}
	return values
}
