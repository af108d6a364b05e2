package repository

import (
	"context"

	"github.com/user/bizscraper/internal/entity"
)

// ExportFormat selects the artifact produced by an Exporter.
type ExportFormat string

const (
	FormatCSV         ExportFormat = "csv"
	FormatSpreadsheet ExportFormat = "xlsx"
	FormatJSON        ExportFormat = "json"
	FormatAll         ExportFormat = "all"
)

// Exporter writes the final record set. It returns the paths it produced.
type Exporter interface {
	Export(ctx context.Context, records []entity.BusinessRecord, format ExportFormat) ([]string, error)
}

// ReportWriter persists the run report next to the exported records.
type ReportWriter interface {
	WriteReport(ctx context.Context, report *entity.RunReport) (string, error)
}
