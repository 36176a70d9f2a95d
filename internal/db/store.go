package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcboeker/go-duckdb" // DuckDB driver and Appender
)

// Store is the DuckDB storage engine for fetched tables.
//
// Store is NOT safe for concurrent writers: DuckDB allows one writing
// connection at a time, so CreateTable and AppendTable must only ever be
// called from a single goroutine. Reads may run from anywhere.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	stageSeq int64 // staging table suffix; only touched by the single writer
}

// Open connects to the DuckDB database at path (":memory:" or "" for an
// in-memory database) and initializes the internal schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := path
	if dsn == ":memory:" {
		dsn = ""
	}
	connector, err := duckdb.NewConnector(dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb connector (%s): %w", path, err)
	}
	sqlDB := sql.OpenDB(connector)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping duckdb database (%s): %w", path, err)
	}

	s := &Store{db: sqlDB, path: path, logger: logger}
	if err := s.InitializeSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

// InitializeSchema creates the internal tables if they are missing.
func (s *Store) InitializeSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaMetadataSQL); err != nil {
		return fmt.Errorf("failed to execute metadata table setup: %w", err)
	}
	return nil
}

// DB exposes the underlying pool for read-only queries.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// TableExists reports whether a user table called name exists. DuckDB
// identifiers are case-insensitive, so "Events" exists if "events" does.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	const query = `SELECT count(*) FROM information_schema.tables WHERE table_schema = 'main' AND lower(table_name) = lower(?);`
	var n int
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check table %q: %w", name, err)
	}
	return n > 0, nil
}

// CreateTable creates table name with the schema of meta.Kind, loads rows and
// records metadata. It fails with *TableExistsError if the table exists.
// On any failure after creation the table is dropped again so a later
// CreateTable can retry cleanly.
func (s *Store) CreateTable(ctx context.Context, name string, rows []Row, meta TableMetadata, batchSize int) (int, error) {
	if err := ValidateTableName(name); err != nil {
		return 0, err
	}
	cols, err := Columns(meta.Kind)
	if err != nil {
		return 0, err
	}
	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, &TableExistsError{Table: name}
	}

	l := s.logger.With(slog.String("table", name), slog.String("kind", string(meta.Kind)))
	if _, err := s.db.ExecContext(ctx, createTableSQL(name, cols)); err != nil {
		return 0, fmt.Errorf("failed to create table %q: %w", name, err)
	}
	l.Debug("Table created.")

	n, err := s.loadRows(ctx, name, cols, rows, batchSize, func(tx *sql.Tx, n int) error {
		meta.RowCount = int64(n)
		return putMetadata(ctx, tx, name, meta)
	})
	if err != nil {
		if _, dropErr := s.db.ExecContext(context.WithoutCancel(ctx), fmt.Sprintf("DROP TABLE IF EXISTS %s;", quoteIdent(name))); dropErr != nil {
			l.Error("Failed to drop partially created table.", "error", dropErr)
		}
		return 0, err
	}
	l.Info("Table created and loaded.", slog.Int("rows", n))
	return n, nil
}

// AppendTable appends rows to an existing table and refreshes its metadata
// in the same transaction, so a failed call leaves the table unchanged.
// It fails with *TableNotFoundError if the table does not exist.
func (s *Store) AppendTable(ctx context.Context, name string, rows []Row, meta TableMetadata, batchSize int) (int, error) {
	if err := ValidateTableName(name); err != nil {
		return 0, err
	}
	cols, err := Columns(meta.Kind)
	if err != nil {
		return 0, err
	}
	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, &TableNotFoundError{Table: name}
	}

	n, err := s.loadRows(ctx, name, cols, rows, batchSize, func(tx *sql.Tx, _ int) error {
		return mergeMetadata(ctx, tx, name, meta)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("Rows appended.", slog.String("table", name), slog.Int("rows", n))
	return n, nil
}

// DropTable removes a fetched table and its metadata.
func (s *Store) DropTable(ctx context.Context, name string) error {
	if err := ValidateTableName(name); err != nil {
		return err
	}
	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return &TableNotFoundError{Table: name}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for drop: %w", err)
	}
	defer tx.Rollback() // Rollback is safe even after commit

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s;", quoteIdent(name))); err != nil {
		return fmt.Errorf("failed to drop table %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM _metadata WHERE lower(table_name) = lower(?);`, name); err != nil {
		return fmt.Errorf("failed to delete metadata for %q: %w", name, err)
	}
	return tx.Commit()
}

// RowCount returns count(*) of table name.
func (s *Store) RowCount(ctx context.Context, name string) (int64, error) {
	if err := ValidateTableName(name); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s;", quoteIdent(name))).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %q: %w", name, err)
	}
	return n, nil
}
