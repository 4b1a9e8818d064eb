package tabular

import (
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"
)

// readCSV decodes, sniffs and parses a delimited text file. Malformed lines
// are skipped rather than failing the whole file.
func readCSV(data []byte) (*Table, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	data = normalizeEncoding(data)

	cfg, err := sniff(data)
	if err != nil {
		return nil, err
	}

	// Parse from the line after the detected header; the csv reader never
	// sees the metadata noise above it.
	lines := strings.Split(string(data), "\n")
	body := strings.Join(lines[cfg.SkipLines+1:], "\n")

	reader := csv.NewReader(strings.NewReader(body))
	reader.Comma = cfg.Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		rows = append(rows, record)
	}

	return &Table{
		Headers: cfg.Headers,
		Rows:    dropEmptyRows(rows, len(cfg.Headers)),
	}, nil
}

// normalizeEncoding strips a UTF-8 BOM and falls back to Latin-1 when the
// bytes are not valid UTF-8. Latin-1 decodes any byte sequence, which also
// covers CP1252 and ISO-8859-1 sources well enough for header matching.
func normalizeEncoding(data []byte) []byte {
	data = stripUTF8BOM(data)
	if utf8.Valid(data) {
		return data
	}
	return decodeLatin1(data)
}

func stripUTF8BOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

func decodeLatin1(data []byte) []byte {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return []byte(string(runes))
}
