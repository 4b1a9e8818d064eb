package tabular

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// readExcel loads the first non-empty sheet of an Excel workbook. Cells come
// back as the strings excelize renders, which preserves the original
// formatting closely enough for type inference.
func readExcel(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		headerIdx := findExcelHeaderRow(rows)
		if headerIdx < 0 {
			continue
		}

		headers := make([]string, len(rows[headerIdx]))
		for i, h := range rows[headerIdx] {
			headers[i] = strings.TrimSpace(h)
		}

		return &Table{
			Headers: headers,
			Rows:    dropEmptyRows(rows[headerIdx+1:], len(headers)),
		}, nil
	}

	return nil, ErrNoHeadersFound
}

// findExcelHeaderRow scans the first rows for the one that looks most like a
// header: every cell non-empty preferred, keyword matches break ties.
func findExcelHeaderRow(rows [][]string) int {
	best := -1
	bestScore := 0
	for i, row := range rows {
		if i >= headerScanLimit {
			break
		}
		nonEmpty := 0
		matches := 0
		for _, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			nonEmpty++
			matches += len(headerMatcher.Match([]byte(strings.ToLower(cell))))
		}
		if nonEmpty < 2 {
			continue
		}
		score := nonEmpty*10 + matches
		if score > bestScore {
			bestScore = score
			best = i
		}
		if matches > 0 {
			// A keyword-bearing row this early is the header.
			return i
		}
	}
	return best
}
