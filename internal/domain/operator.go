// Package domain defines the business objects shared across the sync
// pipeline: the operator licence record as parsed from the daily export,
// the per-day snapshot keyed by licence number, and the diff result types
// consumed by the exporter, reporter, and run log.
package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used by the daily export for the
// expiry and medical-due columns.
const DateLayout = "2006-01-02"

// Status is the lifecycle state of an operator record in the export.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// OperatorRecord is one operator licence row from a daily export.
// Records are immutable once parsed; one instance per licence per snapshot.
type OperatorRecord struct {
	Licence    string // identity key, unique within a snapshot
	Name       string
	Class      string
	Status     Status
	Department string // may be empty
	Expiry     time.Time
	MedicalDue *time.Time // nil when the column is blank
}

// Active reports whether the record is in the active state.
func (r OperatorRecord) Active() bool { return r.Status == StatusActive }

// Snapshot is the ordered set of operator records from one day's export,
// indexed by licence number. Keys are unique within a snapshot.
type Snapshot struct {
	records []OperatorRecord
	index   map[string]int
}

// NewSnapshot returns an empty snapshot ready for Add.
func NewSnapshot() *Snapshot {
	return &Snapshot{index: map[string]int{}}
}

// Add appends a record, rejecting duplicate licence keys.
func (s *Snapshot) Add(r OperatorRecord) error {
	if _, ok := s.index[r.Licence]; ok {
		return fmt.Errorf("duplicate licence %q", r.Licence)
	}
	s.index[r.Licence] = len(s.records)
	s.records = append(s.records, r)
	return nil
}

// Get returns the record for licence and whether it exists.
func (s *Snapshot) Get(licence string) (OperatorRecord, bool) {
	if s == nil || s.index == nil {
		return OperatorRecord{}, false
	}
	i, ok := s.index[licence]
	if !ok {
		return OperatorRecord{}, false
	}
	return s.records[i], true
}

// Records returns the records in export order. The returned slice is
// shared; callers must not mutate it.
func (s *Snapshot) Records() []OperatorRecord {
	if s == nil {
		return nil
	}
	return s.records
}

// Active returns the active records in export order.
func (s *Snapshot) Active() []OperatorRecord {
	var out []OperatorRecord
	for _, r := range s.Records() {
		if r.Active() {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of records in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// ChangeKind classifies a record's transition between two snapshots.
type ChangeKind string

const (
	ChangeNew         ChangeKind = "NEW"
	ChangeModified    ChangeKind = "MODIFIED"
	ChangeInactivated ChangeKind = "INACTIVATED"
	ChangeUnchanged   ChangeKind = "UNCHANGED"
)

// FieldDelta records one tracked field that differs between yesterday's
// and today's version of a record.
type FieldDelta struct {
	Field string
	Old   string
	New   string
}

// ChangeEntry is the diff outcome for a single licence key.
type ChangeEntry struct {
	Licence string
	Kind    ChangeKind
	Deltas  []FieldDelta // populated only for MODIFIED
	Warning bool         // expiry/medical due inside the warning window
}

// RunResult is the full outcome of one sync run: every key from today's
// snapshot exactly once, followed by INACTIVATED entries for keys that
// disappeared since yesterday.
type RunResult struct {
	RunID        string
	When         time.Time
	Entries      []ChangeEntry
	Warnings     int    // records flagged by the warning window
	ParseErrors  int    // malformed lines excluded from today's snapshot
	PriorMissing bool   // no prior snapshot; every record classified NEW
	Confirmation string // verbatim data-loader confirmation text
}

// Counts tallies entries by change kind.
func (r RunResult) Counts() map[ChangeKind]int {
	c := map[ChangeKind]int{}
	for _, e := range r.Entries {
		c[e.Kind]++
	}
	return c
}
