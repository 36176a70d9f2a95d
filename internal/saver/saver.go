package saver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/mpduck/internal/db"
)

// TableReader is the read side of the store used by the export.
type TableReader interface {
	GetMetadata(ctx context.Context, name string) (db.TableMetadata, error)
	ScanRows(ctx context.Context, name string, fn func(db.Row) error) (db.TableKind, error)
}

// parquetSchema builds CSVWriter metadata for a table kind. Timestamps are
// stored as epoch milliseconds.
func parquetSchema(kind db.TableKind) ([]string, error) {
	cols, err := db.Columns(kind)
	if err != nil {
		return nil, err
	}
	md := make([]string, len(cols))
	for i, c := range cols {
		switch c.Type {
		case "TIMESTAMP":
			md[i] = fmt.Sprintf("name=%s, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL", c.Name)
		default:
			md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c.Name)
		}
	}
	return md, nil
}

// ExportTable writes every row of table name to a SNAPPY compressed Parquet
// file at outPath and returns the number of rows written. A failed export
// removes the partial file.
func ExportTable(ctx context.Context, store TableReader, name, outPath string, logger *slog.Logger) (n int, err error) {
	l := logger.With(slog.String("table", name), slog.String("output_path", outPath))
	start := time.Now()

	meta, err := store.GetMetadata(ctx, name)
	if err != nil {
		return 0, err
	}
	md, err := parquetSchema(meta.Kind)
	if err != nil {
		return 0, err
	}
	if dir := filepath.Dir(outPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create output directory '%s': %w", dir, err)
		}
	}

	fw, err := local.NewLocalFileWriter(outPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet file %s: %w", outPath, err)
	}
	pw, err := writer.NewCSVWriter(md, fw, 4)
	if err != nil {
		fw.Close()
		os.Remove(outPath)
		return 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	defer func() {
		if stopErr := pw.WriteStop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to finalize parquet file: %w", stopErr))
		}
		if closeErr := fw.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close parquet file: %w", closeErr))
		}
		if err != nil {
			os.Remove(outPath)
			n = 0
		}
	}()

	l.Info("Exporting table to Parquet.", slog.String("kind", string(meta.Kind)), slog.Int64("rows", meta.RowCount))
	_, err = store.ScanRows(ctx, name, func(row db.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := pw.WriteString(toParquetStrings(row)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", n+1, err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	l.Info("Export finished.", slog.Int("rows", n), slog.Duration("duration", time.Since(start)))
	return n, nil
}

// toParquetStrings renders a row for CSVWriter.WriteString: NULLs stay nil
// and timestamps become epoch milliseconds.
func toParquetStrings(row db.Row) []*string {
	out := make([]*string, len(row))
	for i, v := range row {
		var s string
		switch val := v.(type) {
		case nil:
			continue
		case time.Time:
			s = strconv.FormatInt(val.UnixMilli(), 10)
		case string:
			s = val
		default:
			s = fmt.Sprint(val)
		}
		out[i] = &s
	}
	return out
}
