package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/pkg/utils"
	"github.com/xuri/excelize/v2"
)

const (
	colURL      = "url"
	colName     = "business_name"
	colLocation = "location"
)

// ReadTargets loads directory targets from a CSV or XLSX file with a "url"
// column and an optional "location" column.
func ReadTargets(path string) ([]entity.SeedTarget, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	return parseTargets(rows)
}

// ReadNames loads business names from a CSV or XLSX file with a
// "business_name" column and an optional "location" column.
func ReadNames(path string) ([]entity.SeedName, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	return parseNames(rows)
}

// ReadTargetsCSV is ReadTargets for an already opened CSV stream.
func ReadTargetsCSV(r io.Reader) ([]entity.SeedTarget, error) {
	rows, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	return parseTargets(rows)
}

// ReadNamesCSV is ReadNames for an already opened CSV stream.
func ReadNamesCSV(r io.Reader) ([]entity.SeedName, error) {
	rows, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	return parseNames(rows)
}

func parseTargets(rows [][]string) ([]entity.SeedTarget, error) {
	cols, err := indexHeader(rows, colURL)
	if err != nil {
		return nil, err
	}
	var targets []entity.SeedTarget
	for i, row := range rows[1:] {
		raw := cell(row, cols[colURL])
		if raw == "" {
			continue
		}
		if !utils.IsHTTPURL(raw) {
			return nil, fmt.Errorf("%w: row %d: invalid url %q", entity.ErrConfiguration, i+2, raw)
		}
		targets = append(targets, entity.SeedTarget{URL: raw, Location: cell(row, cols[colLocation])})
	}
	return targets, nil
}

func parseNames(rows [][]string) ([]entity.SeedName, error) {
	cols, err := indexHeader(rows, colName)
	if err != nil {
		return nil, err
	}
	var names []entity.SeedName
	for _, row := range rows[1:] {
		name := entity.NormalizeName(cell(row, cols[colName]))
		if name == "" {
			continue
		}
		names = append(names, entity.SeedName{Name: name, Location: cell(row, cols[colLocation])})
	}
	return names, nil
}

// indexHeader maps lowercased column names to their index. Missing optional
// columns map to -1.
func indexHeader(rows [][]string, required string) (map[string]int, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: input file is empty", entity.ErrConfiguration)
	}
	cols := map[string]int{colURL: -1, colName: -1, colLocation: -1}
	for i, col := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(col))
		if idx, ok := cols[key]; ok && idx < 0 {
			cols[key] = i
		}
	}
	if cols[required] < 0 {
		return nil, fmt.Errorf("%w: missing required column %q", entity.ErrConfiguration, required)
	}
	return cols, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func readRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readXLSX(path)
	case ".csv", ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", entity.ErrConfiguration, err)
		}
		defer f.Close()
		return readCSV(f)
	}
	return nil, fmt.Errorf("%w: unsupported input file %q", entity.ErrConfiguration, path)
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// readXLSX reads the first sheet of a workbook.
func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrConfiguration, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook %q has no sheets", entity.ErrConfiguration, path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}
