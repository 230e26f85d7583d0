// Package fixed implements a line-oriented parser for the daily
// fixed-width operator licence export. The format is collaborator-defined:
// one record per line, columns at fixed byte offsets, UTF-8 with an
// optional BOM. The parser soft-fails individual lines: a malformed line
// is reported as a typed error and skipped, never aborting the run.
package fixed

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/erimojdehi/licsync/internal/domain"
	"github.com/erimojdehi/licsync/internal/fold"
)

// Column boundaries of the export, 0-based start, exclusive end.
// Lines may be shorter than the full width when trailing columns are blank.
var columns = struct {
	licence    [2]int
	name       [2]int
	class      [2]int
	status     [2]int
	department [2]int
	expiry     [2]int
	medical    [2]int
}{
	licence:    [2]int{0, 10},
	name:       [2]int{10, 40},
	class:      [2]int{40, 48},
	status:     [2]int{48, 58},
	department: [2]int{58, 66},
	expiry:     [2]int{66, 76},
	medical:    [2]int{76, 86},
}

// utf8BOM is stripped from the start of the input if present.
const utf8BOM = "\uFEFF"

// MalformedRecordError describes a line that could not be turned into an
// OperatorRecord. The record is excluded from the snapshot and counted;
// the run continues.
type MalformedRecordError struct {
	Line   int    // 1-based line number in the export
	Field  string // offending column, "" when the whole line is bad
	Reason string
	Raw    string
}

func (e *MalformedRecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: field %s: %s", e.Line, e.Field, e.Reason)
}

// Options configures parser behavior. All fields are optional.
type Options struct {
	// CommentPrefix marks lines to skip entirely. Default "#".
	CommentPrefix string
}

// Parser parses export lines according to Options. It is safe to reuse
// across inputs but is not concurrency-safe.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser {
	if opt.CommentPrefix == "" {
		opt.CommentPrefix = "#"
	}
	return &Parser{opt: opt}
}

// slice extracts and trims the column bounded by c from line. Short lines
// yield "" for columns past their end.
func slice(line string, c [2]int) string {
	if len(line) <= c[0] {
		return ""
	}
	end := c[1]
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[c[0]:end])
}

// ParseLine converts one export line into an OperatorRecord.
func (p *Parser) ParseLine(line string, lineNum int) (domain.OperatorRecord, *MalformedRecordError) {
	fail := func(field, reason string) (domain.OperatorRecord, *MalformedRecordError) {
		return domain.OperatorRecord{}, &MalformedRecordError{Line: lineNum, Field: field, Reason: reason, Raw: line}
	}

	licence := slice(line, columns.licence)
	if licence == "" {
		return fail("licence", "required field is empty")
	}
	class := slice(line, columns.class)
	if class == "" {
		return fail("class", "required field is empty")
	}

	status, err := parseStatus(slice(line, columns.status))
	if err != nil {
		return fail("status", err.Error())
	}

	expiryRaw := slice(line, columns.expiry)
	if expiryRaw == "" {
		return fail("expiry", "required field is empty")
	}
	expiry, err := time.Parse(domain.DateLayout, expiryRaw)
	if err != nil {
		return fail("expiry", fmt.Sprintf("unparsable date %q", expiryRaw))
	}

	var medical *time.Time
	if raw := slice(line, columns.medical); raw != "" {
		d, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			return fail("medical_due", fmt.Sprintf("unparsable date %q", raw))
		}
		medical = &d
	}

	return domain.OperatorRecord{
		Licence:    licence,
		Name:       slice(line, columns.name),
		Class:      class,
		Status:     status,
		Department: slice(line, columns.department),
		Expiry:     expiry,
		MedicalDue: medical,
	}, nil
}

// parseStatus accepts ACTIVE/INACTIVE and the single-letter forms the
// older export revisions still emit.
func parseStatus(raw string) (domain.Status, error) {
	switch fold.Key(raw) {
	case "ACTIVE", "A":
		return domain.StatusActive, nil
	case "INACTIVE", "I":
		return domain.StatusInactive, nil
	case "":
		return "", fmt.Errorf("required field is empty")
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// Parse reads the whole export from r. Blank lines, comment lines, and a
// leading header line are skipped. Duplicate licence keys after the first
// occurrence are reported as malformed. The returned slice preserves the
// export's record order.
func (p *Parser) Parse(r io.Reader) ([]domain.OperatorRecord, []*MalformedRecordError, error) {
	var (
		out  []domain.OperatorRecord
		errs []*MalformedRecordError
		seen = map[string]struct{}{}
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	sawContent := false
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if !sawContent {
			line = strings.TrimPrefix(line, utf8BOM)
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, p.opt.CommentPrefix) {
			continue
		}
		// The header may follow blank or comment lines; it is the first
		// content line, not necessarily the first physical one.
		first := !sawContent
		sawContent = true
		if first && strings.HasPrefix(fold.Key(trimmed), "LICENCE") {
			continue
		}

		rec, perr := p.ParseLine(line, lineNum)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		if _, dup := seen[rec.Licence]; dup {
			errs = append(errs, &MalformedRecordError{
				Line:   lineNum,
				Field:  "licence",
				Reason: fmt.Sprintf("duplicate licence %q", rec.Licence),
				Raw:    line,
			})
			continue
		}
		seen[rec.Licence] = struct{}{}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read export: %w", err)
	}
	return out, errs, nil
}
