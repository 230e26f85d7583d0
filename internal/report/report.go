// Package report renders the run outcome into HTML: one summary document
// per run plus a small per-operator document for every record that
// actually changed. Templates are embedded so the binary is
// self-contained; styling follows the report the fleet office already
// receives.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/erimojdehi/licsync/internal/domain"
)

// Data is everything the templates need.
type Data struct {
	RunID        string
	When         time.Time
	Entries      []domain.ChangeEntry // non-UNCHANGED only, result order
	Total        int                  // all entries, including unchanged
	New          int
	Modified     int
	Inactivated  int
	Unchanged    int
	Warnings     int
	ParseErrors  int
	PriorMissing bool
	Confirmation string
}

// Build projects a RunResult into report Data. UNCHANGED entries are
// counted but not listed; the summary table only shows real changes.
func Build(res domain.RunResult) Data {
	d := Data{
		RunID:        res.RunID,
		When:         res.When,
		Total:        len(res.Entries),
		Warnings:     res.Warnings,
		ParseErrors:  res.ParseErrors,
		PriorMissing: res.PriorMissing,
		Confirmation: res.Confirmation,
	}
	for _, e := range res.Entries {
		switch e.Kind {
		case domain.ChangeNew:
			d.New++
		case domain.ChangeModified:
			d.Modified++
		case domain.ChangeInactivated:
			d.Inactivated++
		case domain.ChangeUnchanged:
			d.Unchanged++
		}
		if e.Kind != domain.ChangeUnchanged {
			d.Entries = append(d.Entries, e)
		}
	}
	return d
}

// Status gives the one-word run status used in the mail subject:
// ISSUE when anything needs an operator's eye, OK otherwise.
func (d Data) Status() string {
	if d.ParseErrors > 0 || d.PriorMissing {
		return "ISSUE"
	}
	return "OK"
}

const summaryTmpl = `<!DOCTYPE html>
<html><head><meta charset="utf-8">
<style>
body{font-family:Arial,sans-serif;font-size:14px;margin:24px;background:#111;color:#eee}
table{border-collapse:collapse;width:1100px;table-layout:fixed;margin:0}
th,td{border:1px solid #555;padding:8px 10px;text-align:left;white-space:nowrap;overflow:hidden;text-overflow:ellipsis}
th{background:#222}
.c1{width:160px}
.c2{width:140px}
h2{margin:0 0 10px 0} h3{margin:20px 0 8px 0}
pre.log{background:#0b0b0b;border:1px solid #444;padding:10px;max-height:500px;overflow:auto;white-space:pre-wrap}
.warn{color:#e8ae1c}
hr{border:0;border-top:1px solid #444;margin:20px 0}
</style></head><body>
<h2>Operator Licence Sync &mdash; Run Report</h2>
<p>Date: {{.When.Format "Jan 02, 2006 15:04"}} &middot; Run {{.RunID}}</p>
<p>{{.Total}} records &middot; {{.New}} new &middot; {{.Modified}} modified &middot; {{.Inactivated}} inactivated &middot; {{.Unchanged}} unchanged
{{- if .Warnings}} &middot; <span class="warn">{{.Warnings}} warning(s)</span>{{end}}
{{- if .ParseErrors}} &middot; <span class="warn">{{.ParseErrors}} malformed line(s) skipped</span>{{end}}</p>
{{- if .PriorMissing}}
<p class="warn">No prior snapshot was found; every record is reported as NEW.</p>
{{- end}}
{{- if .Entries}}
<table>
<tr><th class="c1">Licence</th><th class="c2">Change</th><th>Details</th></tr>
{{- range .Entries}}
<tr><td class="c1">{{.Licence}}{{if .Warning}} <span class="warn">&#9888;</span>{{end}}</td><td class="c2">{{.Kind}}</td><td>{{deltas .Deltas}}</td></tr>
{{- end}}
</table>
{{- else}}
<p>No changes since the previous run.</p>
{{- end}}
<hr><h3>DataLoader Confirmation</h3><pre class="log">{{if .Confirmation}}{{.Confirmation}}{{else}}(no confirmation captured){{end}}</pre>
</body></html>
`

const operatorTmpl = `<!DOCTYPE html>
<html><head><meta charset="utf-8">
<style>
body{font-family:Arial,sans-serif;font-size:14px;margin:24px;background:#111;color:#eee}
table{border-collapse:collapse;width:640px}
th,td{border:1px solid #555;padding:6px 10px;text-align:left}
th{background:#222}
h2{margin:0 0 10px 0}
.warn{color:#e8ae1c}
</style></head><body>
<h2>Operator {{.Entry.Licence}} &mdash; {{.Entry.Kind}}</h2>
<p>Run {{.RunID}} &middot; {{.When.Format "Jan 02, 2006 15:04"}}</p>
{{- if .Entry.Warning}}
<p class="warn">&#9888; expiry or medical date inside the warning window</p>
{{- end}}
{{- if .Entry.Deltas}}
<table>
<tr><th>Field</th><th>Old</th><th>New</th></tr>
{{- range .Entry.Deltas}}
<tr><td>{{.Field}}</td><td>{{if .Old}}{{.Old}}{{else}}&mdash;{{end}}</td><td>{{if .New}}{{.New}}{{else}}&mdash;{{end}}</td></tr>
{{- end}}
</table>
{{- end}}
</body></html>
`

var (
	summary = template.Must(template.New("summary").Funcs(template.FuncMap{
		"deltas": deltaText,
	}).Parse(summaryTmpl))
	operator = template.Must(template.New("operator").Parse(operatorTmpl))
)

// deltaText renders deltas as "field: old → new" pairs for the summary
// table's details column.
func deltaText(ds []domain.FieldDelta) string {
	if len(ds) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		oldV, newV := d.Old, d.New
		if oldV == "" {
			oldV = "—"
		}
		if newV == "" {
			newV = "—"
		}
		parts = append(parts, fmt.Sprintf("%s: %s → %s", d.Field, oldV, newV))
	}
	return strings.Join(parts, "; ")
}

// RenderSummary produces the summary document bytes.
func RenderSummary(d Data) ([]byte, error) {
	var buf bytes.Buffer
	if err := summary.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("render summary: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteSummary renders and writes the summary document. Any failure here
// is a ReportWriteFailure: the operator must see the report, so the run
// aborts.
func WriteSummary(path string, d Data) error {
	out, err := RenderSummary(d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write summary report: %w", err)
	}
	return nil
}

// WriteOperatorDocs writes one document per changed record into dir and
// returns the written paths. Licence numbers come from the export and
// are sanitized before use in filenames.
func WriteOperatorDocs(dir string, d Data) ([]string, error) {
	if len(d.Entries) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create operator report dir: %w", err)
	}
	var written []string
	for _, e := range d.Entries {
		data := struct {
			RunID string
			When  time.Time
			Entry domain.ChangeEntry
		}{d.RunID, d.When, e}

		var buf bytes.Buffer
		if err := operator.Execute(&buf, data); err != nil {
			return written, fmt.Errorf("render operator %s: %w", e.Licence, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("operator_%s.html", sanitize(e.Licence)))
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return written, fmt.Errorf("write operator report %s: %w", e.Licence, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// sanitize keeps filenames portable: anything outside [A-Za-z0-9_-]
// becomes '_'.
func sanitize(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
