package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/erimojdehi/licsync/internal/domain"
)

func sampleResult() domain.RunResult {
	return domain.RunResult{
		RunID: "run-1234",
		When:  time.Date(2024, 6, 3, 6, 30, 0, 0, time.UTC),
		Entries: []domain.ChangeEntry{
			{Licence: "L100", Kind: domain.ChangeNew, Warning: true},
			{Licence: "L200", Kind: domain.ChangeModified, Deltas: []domain.FieldDelta{
				{Field: "class", Old: "AZ", New: "DZ"},
			}},
			{Licence: "L300", Kind: domain.ChangeUnchanged},
			{Licence: "L400", Kind: domain.ChangeInactivated},
		},
		Warnings:     1,
		Confirmation: "Process finished: 2 records loaded",
	}
}

// Build should count every kind but list only real changes, preserving
// result order.
func TestBuild(t *testing.T) {
	t.Parallel()

	d := Build(sampleResult())

	if d.Total != 4 || d.New != 1 || d.Modified != 1 || d.Inactivated != 1 || d.Unchanged != 1 {
		t.Fatalf("counts = %+v", d)
	}
	if len(d.Entries) != 3 {
		t.Fatalf("listed entries = %d, want 3", len(d.Entries))
	}
	got := []string{d.Entries[0].Licence, d.Entries[1].Licence, d.Entries[2].Licence}
	want := []string{"L100", "L200", "L400"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry order = %v, want %v", got, want)
		}
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	if s := (Data{}).Status(); s != "OK" {
		t.Fatalf("clean run status = %q, want OK", s)
	}
	if s := (Data{ParseErrors: 2}).Status(); s != "ISSUE" {
		t.Fatalf("parse-error status = %q, want ISSUE", s)
	}
	if s := (Data{PriorMissing: true}).Status(); s != "ISSUE" {
		t.Fatalf("prior-missing status = %q, want ISSUE", s)
	}
}

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	out, err := RenderSummary(Build(sampleResult()))
	if err != nil {
		t.Fatalf("RenderSummary: %v", err)
	}
	html := string(out)

	for _, want := range []string{
		"run-1234",
		"L100", "L200", "L400",
		"class: AZ → DZ",
		"Process finished: 2 records loaded",
		"1 warning(s)",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("summary missing %q", want)
		}
	}
	if strings.Contains(html, "L300") {
		t.Error("summary lists an unchanged record")
	}
}

// Field values come from an external export; the template must escape
// them rather than let them inject markup.
func TestRenderSummary_EscapesFieldValues(t *testing.T) {
	t.Parallel()

	res := domain.RunResult{
		RunID: "r",
		When:  time.Now(),
		Entries: []domain.ChangeEntry{
			{Licence: "L1", Kind: domain.ChangeModified, Deltas: []domain.FieldDelta{
				{Field: "department", Old: "<script>x</script>", New: "OPS"},
			}},
		},
	}
	out, err := RenderSummary(Build(res))
	if err != nil {
		t.Fatalf("RenderSummary: %v", err)
	}
	if strings.Contains(string(out), "<script>x</script>") {
		t.Fatal("unescaped field value in summary output")
	}
}

func TestRenderSummary_NoPriorSnapshotBanner(t *testing.T) {
	t.Parallel()

	out, err := RenderSummary(Data{PriorMissing: true, When: time.Now()})
	if err != nil {
		t.Fatalf("RenderSummary: %v", err)
	}
	if !strings.Contains(string(out), "No prior snapshot") {
		t.Fatal("missing prior-snapshot banner")
	}
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "reports", "summary.html")
	if err := WriteSummary(path, Build(sampleResult())); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !strings.Contains(string(out), "Operator Licence Sync") {
		t.Fatal("summary file missing title")
	}
}

func TestWriteOperatorDocs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res := sampleResult()
	// Licence with a path-hostile character must be sanitized.
	res.Entries = append(res.Entries, domain.ChangeEntry{Licence: "X/1", Kind: domain.ChangeNew})

	paths, err := WriteOperatorDocs(dir, Build(res))
	if err != nil {
		t.Fatalf("WriteOperatorDocs: %v", err)
	}
	if len(paths) != 4 {
		t.Fatalf("wrote %d docs, want 4", len(paths))
	}
	for _, p := range paths {
		if filepath.Dir(p) != dir {
			t.Fatalf("doc escaped target dir: %s", p)
		}
	}
	out, err := os.ReadFile(filepath.Join(dir, "operator_L200.html"))
	if err != nil {
		t.Fatalf("read operator doc: %v", err)
	}
	if !strings.Contains(string(out), "MODIFIED") || !strings.Contains(string(out), "DZ") {
		t.Fatal("operator doc missing change details")
	}
	if _, err := os.Stat(filepath.Join(dir, "operator_X_1.html")); err != nil {
		t.Fatalf("sanitized doc not written: %v", err)
	}
}

func TestWriteOperatorDocs_NoChanges(t *testing.T) {
	t.Parallel()

	paths, err := WriteOperatorDocs(t.TempDir(), Data{})
	if err != nil {
		t.Fatalf("WriteOperatorDocs: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("wrote %d docs for an empty run", len(paths))
	}
}
