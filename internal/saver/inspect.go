package saver

import (
	"fmt"
	"log/slog"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

// ColumnSummary describes one leaf column of a Parquet file.
type ColumnSummary struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	ConvertedType string `json:"converted_type,omitempty"`
}

// FileSummary is what InspectFile reports about an exported file.
type FileSummary struct {
	Path    string          `json:"path"`
	Rows    int64           `json:"rows"`
	Columns []ColumnSummary `json:"columns"`
}

// InspectFile reads the footer of a Parquet file and summarises its row
// count and leaf columns.
func InspectFile(path string, logger *slog.Logger) (*FileSummary, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet footer of %s: %w", path, err)
	}
	defer pr.ReadStop()

	summary := &FileSummary{Path: path, Rows: pr.GetNumRows()}
	// The first element is the schema root.
	for _, el := range pr.SchemaHandler.SchemaElements[1:] {
		if el.NumChildren != nil && *el.NumChildren > 0 {
			continue
		}
		col := ColumnSummary{Name: el.Name}
		if el.Type != nil {
			col.Type = el.Type.String()
		}
		if el.ConvertedType != nil {
			col.ConvertedType = el.ConvertedType.String()
		}
		summary.Columns = append(summary.Columns, col)
	}
	logger.Debug("Inspected parquet file.", slog.String("path", path), slog.Int64("rows", summary.Rows), slog.Int("columns", len(summary.Columns)))
	return summary, nil
}
