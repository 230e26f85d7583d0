// Package snapshot locates and loads the daily export files and manages
// the single retained prior-day copy that the differ compares against.
// There is no other cross-run state: the retained file is overwritten
// after each successful run, so the baseline is always the last run that
// completed.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/erimojdehi/licsync/internal/domain"
	"github.com/erimojdehi/licsync/internal/parser/fixed"
)

// LatestExport returns the newest file in dir matching pattern, by
// modification time. It fails when no file matches: a run without an
// input export has nothing to do.
func LatestExport(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", pattern, err)
	}
	var (
		newest      string
		newestMtime time.Time
	)
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil || st.IsDir() {
			continue
		}
		if newest == "" || st.ModTime().After(newestMtime) {
			newest, newestMtime = m, st.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no export matching %q in %s", pattern, dir)
	}
	return newest, nil
}

// Load parses the export at path into a snapshot. Malformed lines are
// returned alongside, not treated as fatal.
func Load(path string, p *fixed.Parser) (*domain.Snapshot, []*fixed.MalformedRecordError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	recs, perrs, err := p.Parse(f)
	if err != nil {
		return nil, nil, err
	}
	snap := domain.NewSnapshot()
	for _, r := range recs {
		// The parser already rejected duplicates; Add cannot fail here.
		if err := snap.Add(r); err != nil {
			return nil, nil, err
		}
	}
	return snap, perrs, nil
}

// LoadPrior loads the retained prior-day snapshot. A missing file is not
// an error: it yields an empty snapshot and present=false, and the differ
// classifies every record as NEW.
func LoadPrior(path string, p *fixed.Parser) (snap *domain.Snapshot, present bool, perrs []*fixed.MalformedRecordError, err error) {
	if _, serr := os.Stat(path); serr != nil {
		if os.IsNotExist(serr) {
			return domain.NewSnapshot(), false, nil, nil
		}
		return nil, false, nil, fmt.Errorf("stat prior snapshot: %w", serr)
	}
	snap, perrs, err = Load(path, p)
	if err != nil {
		return nil, false, nil, err
	}
	return snap, true, perrs, nil
}

// Retain copies today's export over the retained prior-day file. The copy
// goes through a temp file and rename so a crash mid-copy cannot corrupt
// the baseline.
func Retain(todayPath, priorPath string) error {
	data, err := os.ReadFile(todayPath)
	if err != nil {
		return fmt.Errorf("read today's export: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(priorPath), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := priorPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write retained snapshot: %w", err)
	}
	if err := os.Rename(tmp, priorPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace retained snapshot: %w", err)
	}
	return nil
}

// CleanOld deletes files in dir matching pattern whose modification time
// is older than retainDays. A non-positive retainDays disables cleanup.
// Returns the number of files removed; individual failures are skipped.
func CleanOld(dir, pattern string, retainDays int) int {
	if retainDays <= 0 {
		return 0
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retainDays)
	removed := 0
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil || st.IsDir() {
			continue
		}
		if st.ModTime().Before(cutoff) {
			if os.Remove(m) == nil {
				removed++
			}
		}
	}
	return removed
}
