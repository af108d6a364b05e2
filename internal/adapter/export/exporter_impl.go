package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	baseName   = "business_contacts"
	reportName = "run_report"
	sheetName  = "Contacts"
	stampFmt   = "20060102_150405"
)

// Header is the column layout of the tabular exports.
var Header = []string{
	"business_name", "website_url", "emails", "phones", "social_media",
	"source_page", "location", "status", "errors", "scrape_timestamp",
}

// FileExporter writes records and reports into a directory, named after the
// export time so that runs never overwrite each other.
type FileExporter struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

var (
	_ repository.Exporter     = (*FileExporter)(nil)
	_ repository.ReportWriter = (*FileExporter)(nil)
)

func NewFileExporter(dir string, logger *zap.Logger) *FileExporter {
	return &FileExporter{
		dir:    dir,
		now:    time.Now,
		logger: logger.With(zap.String("component", "exporter")),
	}
}

// Formats expands FormatAll into the concrete formats.
func Formats(format repository.ExportFormat) ([]repository.ExportFormat, error) {
	switch format {
	case repository.FormatAll, "":
		return []repository.ExportFormat{repository.FormatCSV, repository.FormatSpreadsheet, repository.FormatJSON}, nil
	case repository.FormatCSV, repository.FormatSpreadsheet, repository.FormatJSON:
		return []repository.ExportFormat{format}, nil
	}
	return nil, fmt.Errorf("%w: unknown export format %q", entity.ErrConfiguration, format)
}

func (e *FileExporter) Export(ctx context.Context, records []entity.BusinessRecord, format repository.ExportFormat) ([]string, error) {
	formats, err := Formats(format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	base := filepath.Join(e.dir, fmt.Sprintf("%s_%s", baseName, e.now().Format(stampFmt)))
	var (
		files []string
		errs  []error
	)
	for _, f := range formats {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		path := base + "." + string(f)
		if err := write(path, f, records); err != nil {
			errs = append(errs, fmt.Errorf("failed to export %s: %w", f, err))
			continue
		}
		e.logger.Info("exported records", zap.String("format", string(f)), zap.String("path", path), zap.Int("records", len(records)))
		files = append(files, path)
	}
	return files, errors.Join(errs...)
}

func (e *FileExporter) WriteReport(_ context.Context, report *entity.RunReport) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(e.dir, fmt.Sprintf("%s_%s.json", reportName, e.now().Format(stampFmt)))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func write(path string, format repository.ExportFormat, records []entity.BusinessRecord) error {
	switch format {
	case repository.FormatCSV:
		return writeCSV(path, records)
	case repository.FormatSpreadsheet:
		return writeXLSX(path, records)
	case repository.FormatJSON:
		return writeJSON(path, records)
	}
	return fmt.Errorf("unsupported format %q", format)
}

// Row flattens a record into the Header columns.
func Row(r entity.BusinessRecord) []string {
	return []string{
		r.Name,
		r.Website,
		strings.Join(r.Contacts.Emails, "; "),
		strings.Join(r.Contacts.Phones, "; "),
		socialColumn(r.Contacts.Social),
		r.SourceURL,
		r.Location,
		string(r.Status),
		r.Error,
		r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func socialColumn(social map[string]string) string {
	platforms := make([]string, 0, len(social))
	for p := range social {
		platforms = append(platforms, p)
	}
	slices.Sort(platforms)
	parts := make([]string, 0, len(platforms))
	for _, p := range platforms {
		parts = append(parts, p+": "+social[p])
	}
	return strings.Join(parts, "; ")
}

func writeCSV(path string, records []entity.BusinessRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := w.Write(Row(r)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

type jsonRecord struct {
	BusinessName    string            `json:"business_name"`
	WebsiteURL      string            `json:"website_url"`
	Emails          []string          `json:"emails"`
	Phones          []string          `json:"phones"`
	SocialMedia     map[string]string `json:"social_media"`
	SourcePage      string            `json:"source_page"`
	Location        string            `json:"location,omitempty"`
	Status          string            `json:"status"`
	Errors          string            `json:"errors"`
	ScrapeTimestamp time.Time         `json:"scrape_timestamp"`
}

func writeJSON(path string, records []entity.BusinessRecord) error {
	out := make([]jsonRecord, 0, len(records))
	for _, r := range records {
		c := r.Contacts.Clone()
		out = append(out, jsonRecord{
			BusinessName:    r.Name,
			WebsiteURL:      r.Website,
			Emails:          c.Emails,
			Phones:          c.Phones,
			SocialMedia:     c.Social,
			SourcePage:      r.SourceURL,
			Location:        r.Location,
			Status:          string(r.Status),
			Errors:          r.Error,
			ScrapeTimestamp: r.UpdatedAt,
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeXLSX(path string, records []entity.BusinessRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	if err := setRow(f, 1, Header); err != nil {
		return err
	}
	for i, r := range records {
		if err := setRow(f, i+2, Row(r)); err != nil {
			return err
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(sheetName, cell, &cells)
}
