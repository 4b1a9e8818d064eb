// Package tabular loads CSV and Excel files into a uniform table of strings.
// It normalizes encodings, finds the real header row below metadata noise and
// drops empty rows. No value is parsed as a number or date at this stage; the
// inference layer needs the original formatting.
package tabular

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnreadableFile   = errors.New("file could not be read as tabular data")
	ErrEmptyFile        = errors.New("file is empty")
	ErrNoHeadersFound   = errors.New("could not find data headers")
	ErrInvalidDelimiter = errors.New("could not detect valid delimiter")
	ErrUnsupportedType  = errors.New("unsupported file type")
)

// Table is a fully loaded source file: trimmed headers plus data rows, all as
// raw strings. Rows that were entirely empty in the source are gone.
type Table struct {
	SourcePath string
	Headers    []string
	Rows       [][]string
}

// Column returns every value of the named column, in row order. Rows shorter
// than the header set contribute an empty string.
func (t *Table) Column(header string) []string {
	idx := -1
	for i, h := range t.Headers {
		if h == header {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			values[i] = row[idx]
		}
	}
	return values
}

// RowMap returns row i keyed by header name. Missing cells map to "".
func (t *Table) RowMap(i int) map[string]string {
	m := make(map[string]string, len(t.Headers))
	for j, h := range t.Headers {
		if j < len(t.Rows[i]) {
			m[h] = t.Rows[i][j]
		} else {
			m[h] = ""
		}
	}
	return m
}

// Read loads the file at path, dispatching on extension. Any failure to
// produce at least a header row wraps ErrUnreadableFile.
func Read(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableFile, path, err)
	}

	var table *Table
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		table, err = readCSV(data)
	case ".xlsx", ".xls":
		table, err = readExcel(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableFile, path, err)
	}

	table.SourcePath = path
	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("%w: %s: no data rows after cleaning", ErrUnreadableFile, path)
	}
	return table, nil
}

// dropEmptyRows removes rows whose every cell is blank after trimming, and
// trims trailing cells beyond the header width.
func dropEmptyRows(rows [][]string, width int) [][]string {
	kept := rows[:0]
	for _, row := range rows {
		if len(row) > width {
			row = row[:width]
		}
		empty := true
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if !empty {
			kept = append(kept, row)
		}
	}
	return kept
}
