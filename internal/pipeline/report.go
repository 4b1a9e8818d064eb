package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
)

// RunSummary tallies row outcomes for one imported file.
type RunSummary struct {
	SourceFile string
	Schema     string
	Inserted   int
	Updated    int
	Skipped    int
	Failed     int
	Errors     []RowError
	Duration   time.Duration
}

// RowError is a row that could not be imported.
type RowError struct {
	Row     int
	Message string
}

func (s *RunSummary) Total() int {
	return s.Inserted + s.Updated + s.Skipped + s.Failed
}

func (s *RunSummary) String() string {
	return fmt.Sprintf("%s → %s: %d inserted, %d updated, %d skipped, %d failed",
		filepath.Base(s.SourceFile), s.Schema, s.Inserted, s.Updated, s.Skipped, s.Failed)
}

// reportRow is one line of the per-run CSV report.
type reportRow struct {
	Row        int    `csv:"row"`
	Outcome    string `csv:"outcome"`
	RecordName string `csv:"record_name"`
	Error      string `csv:"error"`
}

// WriteReport writes the per-row outcome report next to the processed file.
// The report path is returned.
func WriteReport(dir string, summary *RunSummary, rows []reportRow) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(summary.SourceFile), filepath.Ext(summary.SourceFile))
	path := filepath.Join(dir, base+".report.csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
