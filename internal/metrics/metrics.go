// Package metrics is a small backend-agnostic layer for recording
// operational metrics from the sync job.
//
// It exposes a narrow Backend interface (counters plus duration
// observations) with a global, pluggable implementation defaulting to a
// no-op, so instrumentation calls are always safe even when no backend
// is configured. Concrete systems live in subpackages; the rest of the
// codebase depends only on this interface.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface a metrics system must satisfy.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveDuration records a duration-style value.
	ObserveDuration(name string, value float64, labels Labels)
	// Flush pushes collected metrics if the backend needs it.
	Flush() error
}

// nopBackend is installed by default so metrics stay optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)      {}
func (nopBackend) ObserveDuration(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                              { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the current one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep measures one pipeline step: latency plus success/failure.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter("licsync_step_total", 1, lbls)
	backend.ObserveDuration("licsync_step_duration_seconds", d.Seconds(), lbls)
}

// RecordRecords increments a record-level counter for the given job and
// kind.
//
// Typical kinds mirror the run summary fields, e.g.:
//   - "parsed"
//   - "parse_errors"
//   - "new"
//   - "modified"
//   - "inactivated"
//   - "unchanged"
//   - "warnings"
func RecordRecords(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("licsync_records_total", float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}
