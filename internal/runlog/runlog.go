// Package runlog keeps the cumulative history of runs. Every run appends
// a block to one log file; nothing in here ever truncates it, so the
// file is the long-term audit trail for the job.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StampLayout names log blocks and generated artifacts.
const StampLayout = "2006-01-02_150405"

// Context identifies one run and collects its log lines. Add writes
// through to the file immediately so a crash mid-run still leaves the
// lines written so far.
type Context struct {
	RunID string
	When  time.Time
	Stamp string

	path  string
	lines []string
}

// Open starts a new run block in the log at path, creating the file and
// its directory on first use.
func Open(path string, now time.Time) (*Context, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rc := &Context{
		RunID: uuid.NewString(),
		When:  now,
		Stamp: now.Format(StampLayout),
		path:  path,
	}
	header := fmt.Sprintf("\n===== RUN %s (%s) =====\n", rc.Stamp, rc.RunID)
	if err := appendFile(path, header); err != nil {
		return nil, err
	}
	return rc, nil
}

// Add records one timestamped line. Write failures are reported on
// stderr but never abort the run; losing a log line is cheaper than
// losing the run.
func (rc *Context) Add(format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	rc.lines = append(rc.lines, line)
	if err := appendFile(rc.path, line+"\n"); err != nil {
		fmt.Fprintf(os.Stderr, "runlog: %v\n", err)
	}
}

// AppendRaw writes a titled verbatim block, used for the loader
// confirmation text.
func (rc *Context) AppendRaw(title, content string) {
	bar := strings.Repeat("=", 8)
	block := fmt.Sprintf("%s %s %s\n%s\n%s\n", bar, title, bar, strings.TrimRight(content, "\n"), bar)
	rc.lines = append(rc.lines, block)
	if err := appendFile(rc.path, block); err != nil {
		fmt.Fprintf(os.Stderr, "runlog: %v\n", err)
	}
}

// Lines returns everything recorded for this run so far.
func (rc *Context) Lines() []string {
	out := make([]string, len(rc.lines))
	copy(out, rc.lines)
	return out
}

func appendFile(path, text string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}
