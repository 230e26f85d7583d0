// Package diff implements the change-detection core: it matches two daily
// snapshots by licence key, classifies every record's transition, and
// emits the field-level deltas that drive the upload file and the report.
//
// Equality between two versions of a record is decided on normalized
// values (see internal/fold) so that whitespace, case, and diacritic
// differences never surface as changes, and on calendar dates rather than
// raw strings for the two date columns. A 64-bit xxh3 fingerprint over
// the normalized tracked fields short-circuits the common all-unchanged
// case; only records whose fingerprints differ pay for the per-field walk
// that builds deltas.
//
// Output is deterministic: entries follow today's export order, with
// INACTIVATED entries appended in yesterday's order. Identical inputs
// always produce identical results.
package diff

import (
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/erimojdehi/licsync/internal/domain"
	"github.com/erimojdehi/licsync/internal/fold"
)

// Options controls a diff run.
type Options struct {
	// Now is the run date; only its calendar day is significant.
	Now time.Time

	// LeadDays is the warning window: an active record whose expiry or
	// medical-due date is LeadDays or fewer days away (or already past)
	// is flagged. Non-positive disables warnings.
	LeadDays int
}

// Tracked field names, in the fixed order deltas are reported in.
const (
	fieldClass      = "class"
	fieldStatus     = "status"
	fieldExpiry     = "expiry"
	fieldDepartment = "department"
	fieldMedicalDue = "medical_due"
)

// tracked returns the normalized comparison values of the tracked fields,
// in delta order. Dates are rendered in the canonical layout, so string
// equality here is calendar-date equality.
func tracked(r domain.OperatorRecord) [5]string {
	var medical string
	if r.MedicalDue != nil {
		medical = r.MedicalDue.Format(domain.DateLayout)
	}
	return [5]string{
		fold.Key(r.Class),
		string(r.Status),
		r.Expiry.Format(domain.DateLayout),
		fold.Key(r.Department),
		medical,
	}
}

// display returns the values shown in deltas and reports: the record's
// own trimmed values, not the folded comparison forms.
func display(r domain.OperatorRecord) [5]string {
	var medical string
	if r.MedicalDue != nil {
		medical = r.MedicalDue.Format(domain.DateLayout)
	}
	return [5]string{
		r.Class,
		string(r.Status),
		r.Expiry.Format(domain.DateLayout),
		r.Department,
		medical,
	}
}

var fieldNames = [5]string{fieldClass, fieldStatus, fieldExpiry, fieldDepartment, fieldMedicalDue}

// Fingerprint hashes the normalized tracked fields of r. Equal
// fingerprints mean the tracked fields compare equal; the \x1f join keeps
// adjacent fields from colliding.
func Fingerprint(r domain.OperatorRecord) uint64 {
	vals := tracked(r)
	return xxh3.HashString(strings.Join(vals[:], "\x1f"))
}

// deltas walks the tracked fields of prev and cur and returns one
// FieldDelta per difference, in fixed field order.
func deltas(prev, cur domain.OperatorRecord) []domain.FieldDelta {
	oldKeys, newKeys := tracked(prev), tracked(cur)
	oldVals, newVals := display(prev), display(cur)
	var out []domain.FieldDelta
	for i := range fieldNames {
		if oldKeys[i] != newKeys[i] {
			out = append(out, domain.FieldDelta{Field: fieldNames[i], Old: oldVals[i], New: newVals[i]})
		}
	}
	return out
}

// dateOnly truncates t to its calendar day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// withinWindow reports whether due falls on or before now+leadDays.
// Elapsed dates are inside the window: an expired licence is at least as
// urgent as an expiring one.
func withinWindow(due, now time.Time, leadDays int) bool {
	if due.IsZero() {
		return false
	}
	deadline := dateOnly(now).AddDate(0, 0, leadDays)
	return !dateOnly(due).After(deadline)
}

// warn computes the warning flag for an active record in today's
// snapshot. Inactive records never warn.
func warn(r domain.OperatorRecord, opts Options) bool {
	if opts.LeadDays <= 0 || !r.Active() {
		return false
	}
	if withinWindow(r.Expiry, opts.Now, opts.LeadDays) {
		return true
	}
	return r.MedicalDue != nil && withinWindow(*r.MedicalDue, opts.Now, opts.LeadDays)
}

// Run diffs yesterday's snapshot y against today's snapshot t.
//
// Every key in t appears exactly once in the result; every key in y but
// not in t appears exactly once as INACTIVATED. The warning flag is
// computed independently of the change kind.
func Run(y, t *domain.Snapshot, opts Options) domain.RunResult {
	res := domain.RunResult{When: opts.Now}

	for _, cur := range t.Records() {
		entry := domain.ChangeEntry{Licence: cur.Licence, Warning: warn(cur, opts)}
		if entry.Warning {
			res.Warnings++
		}

		prev, ok := y.Get(cur.Licence)
		switch {
		case !ok:
			entry.Kind = domain.ChangeNew
		case Fingerprint(prev) == Fingerprint(cur):
			entry.Kind = domain.ChangeUnchanged
		default:
			entry.Kind = domain.ChangeModified
			entry.Deltas = deltas(prev, cur)
			if len(entry.Deltas) == 0 {
				// Fingerprint collision across distinct values; the
				// field walk is authoritative.
				entry.Kind = domain.ChangeUnchanged
			}
		}
		res.Entries = append(res.Entries, entry)
	}

	for _, prev := range y.Records() {
		if _, ok := t.Get(prev.Licence); ok {
			continue
		}
		res.Entries = append(res.Entries, domain.ChangeEntry{
			Licence: prev.Licence,
			Kind:    domain.ChangeInactivated,
		})
	}

	return res
}
