package tabular

import (
	"encoding/csv"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Header keywords common across business exports. A line matching several of
// these is very likely the header row rather than metadata noise above it.
var headerKeywords = []string{
	"id", "code", "name", "email", "phone", "date", "amount", "qty",
	"quantity", "price", "rate", "total", "description", "address",
	"city", "state", "country", "status", "type", "category", "reference",
	"number", "invoice", "order", "customer", "supplier", "item",
}

var headerMatcher = ahocorasick.NewStringMatcher(headerKeywords)

// headerScanLimit is how many leading lines the header search covers.
const headerScanLimit = 20

type fileConfig struct {
	Delimiter rune
	SkipLines int
	Headers   []string
}

// sniff finds the delimiter and header row of a delimited file. Files exported
// from spreadsheets often carry a few metadata lines above the real headers;
// the scan covers the first 20 lines and prefers keyword-bearing lines with
// the most columns.
func sniff(data []byte) (*fileConfig, error) {
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 {
		return nil, ErrEmptyFile
	}

	delimiter, skipLines, err := findHeaderRow(lines)
	if err != nil {
		return nil, err
	}

	headerLine := cleanLine(lines[skipLines], skipLines == 0)
	reader := csv.NewReader(strings.NewReader(headerLine))
	reader.Comma = delimiter
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return nil, ErrNoHeadersFound
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	return &fileConfig{
		Delimiter: delimiter,
		SkipLines: skipLines,
		Headers:   headers,
	}, nil
}

func findHeaderRow(lines []string) (rune, int, error) {
	fallbackIndex := -1
	fallbackDelimiter := rune(0)
	fallbackCount := 0

	keywordIndex := -1
	keywordDelimiter := rune(0)
	keywordCount := 0
	keywordScore := 0

	for i, line := range lines {
		if i >= headerScanLimit {
			break
		}

		line = cleanLine(line, i == 0)
		if line == "" {
			continue
		}

		delimiter, count := detectDelimiter(line)
		if count < 1 {
			continue
		}

		matches := len(headerMatcher.Match([]byte(strings.ToLower(line))))
		if matches > 0 {
			score := count*10 + matches
			if keywordIndex == -1 || score > keywordScore {
				keywordScore = score
				keywordCount = count
				keywordDelimiter = delimiter
				keywordIndex = i
			}
		} else if count > fallbackCount {
			fallbackCount = count
			fallbackDelimiter = delimiter
			fallbackIndex = i
		}
	}

	if keywordIndex >= 0 && keywordCount >= 1 {
		return keywordDelimiter, keywordIndex, nil
	}
	if fallbackCount >= 1 {
		return fallbackDelimiter, fallbackIndex, nil
	}
	return 0, 0, ErrNoHeadersFound
}

func cleanLine(line string, firstLine bool) string {
	line = strings.TrimRight(line, "\r")
	if firstLine {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}

func detectDelimiter(line string) (rune, int) {
	delimiters := []rune{';', '\t', ',', '|'}
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range delimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}
