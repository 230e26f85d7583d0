package runlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// SkipLog is a CSV sidecar listing every input line the parser rejected,
// one file per run, so malformed exports can be inspected after the
// fact.
type SkipLog struct {
	path   string
	f      *os.File
	w      *csv.Writer
	counts map[string]int
}

// NewSkipLog creates dir/skipped_<stamp>.csv lazily: the file only
// appears once the first rejected line is added, so clean runs leave no
// empty sidecars behind.
func NewSkipLog(dir, stamp string) *SkipLog {
	return &SkipLog{
		path:   filepath.Join(dir, fmt.Sprintf("skipped_%s.csv", stamp)),
		counts: make(map[string]int),
	}
}

// Path returns where the sidecar is (or would be) written.
func (s *SkipLog) Path() string { return s.path }

// Add records one rejected line.
func (s *SkipLog) Add(reason string, lineNum int, licence, raw string) error {
	if s.f == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("create skip dir: %w", err)
		}
		f, err := os.Create(s.path)
		if err != nil {
			return fmt.Errorf("create skip log: %w", err)
		}
		s.f = f
		s.w = csv.NewWriter(f)
		if err := s.w.Write([]string{"reason", "line_number", "licence", "raw_line"}); err != nil {
			return fmt.Errorf("write skip header: %w", err)
		}
	}
	s.counts[reason]++
	if err := s.w.Write([]string{reason, strconv.Itoa(lineNum), licence, raw}); err != nil {
		return fmt.Errorf("write skip row: %w", err)
	}
	return nil
}

// Counts returns rejected-line totals per reason.
func (s *SkipLog) Counts() map[string]int {
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Close flushes and closes the sidecar if it was opened.
func (s *SkipLog) Close() error {
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return fmt.Errorf("flush skip log: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close skip log: %w", err)
	}
	return nil
}
