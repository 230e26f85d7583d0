package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/erimojdehi/licsync/internal/config"
	"github.com/erimojdehi/licsync/internal/domain"
	"github.com/erimojdehi/licsync/internal/parser/fixed"
)

type fakeUploader struct {
	confirmation string
	err          error
	calls        []string
}

func (f *fakeUploader) Run(ctx context.Context, uploadFile string) (string, error) {
	f.calls = append(f.calls, uploadFile)
	return f.confirmation, f.err
}

type fakeMailer struct {
	subject string
	body    string
	err     error
	sent    int
}

func (f *fakeMailer) SendSummary(ctx context.Context, subject, htmlBody string) error {
	f.sent++
	f.subject = subject
	f.body = htmlBody
	return f.err
}

// expLine builds one fixed-width export line.
func expLine(licence, name, class, status, dept, expiry, medical string) string {
	return fmt.Sprintf("%-10s%-30s%-8s%-10s%-8s%-10s%-10s",
		licence, name, class, status, dept, expiry, medical)
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Job:   "licsync",
		Paths: config.Paths{BaseDir: t.TempDir()},
	}
	cfg.ApplyDefaults()
	return cfg
}

func testDeps(up *fakeUploader, m *fakeMailer) Deps {
	d := Deps{
		Parser:   fixed.NewParser(fixed.Options{}),
		Uploader: up,
		Now: func() time.Time {
			return time.Date(2024, 6, 4, 6, 0, 0, 0, time.UTC)
		},
	}
	if m != nil {
		d.Mailer = m
	}
	return d
}

func TestRun_FullSync(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeLines(t, filepath.Join(cfg.Paths.InputDir, "operator_export_20240604.txt"),
		expLine("L100", "ANDERSON, P", "DZ", "ACTIVE", "OPS", "2025-01-15", ""),
		expLine("L200", "BAKER, J", "AZ", "ACTIVE", "OPS", "2024-06-20", ""), // inside 30-day window
		expLine("L300", "COLE, M", "DZ", "ACTIVE", "FLEET", "2025-03-01", ""),
	)
	// Yesterday: L100 had class AZ, L300 identical, L900 gone today.
	writeLines(t, cfg.Paths.PriorSnapshot,
		expLine("L100", "ANDERSON, P", "AZ", "ACTIVE", "OPS", "2025-01-15", ""),
		expLine("L300", "COLE, M", "DZ", "ACTIVE", "FLEET", "2025-03-01", ""),
		expLine("L900", "OLD, X", "DZ", "ACTIVE", "OPS", "2024-12-01", ""),
	)

	up := &fakeUploader{confirmation: "Process finished: 3 records loaded"}
	m := &fakeMailer{}

	res, err := Run(context.Background(), cfg, testDeps(up, m))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	counts := res.Counts()
	if counts[domain.ChangeNew] != 1 || counts[domain.ChangeModified] != 1 ||
		counts[domain.ChangeInactivated] != 1 || counts[domain.ChangeUnchanged] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	if res.Warnings != 1 {
		t.Errorf("warnings = %d, want 1 (L200 expiry inside window)", res.Warnings)
	}
	if res.Confirmation != "Process finished: 3 records loaded" {
		t.Errorf("confirmation = %q", res.Confirmation)
	}

	// Workbook handed to the uploader and left in place.
	if len(up.calls) != 1 {
		t.Fatalf("uploader calls = %d", len(up.calls))
	}
	wantUpload := filepath.Join(cfg.Paths.UploadDir, "2024-06-04 operator licence upload.xml")
	if up.calls[0] != wantUpload {
		t.Errorf("upload path = %q, want %q", up.calls[0], wantUpload)
	}
	out, err := os.ReadFile(wantUpload)
	if err != nil {
		t.Fatalf("workbook missing: %v", err)
	}
	if !strings.Contains(string(out), "L100") {
		t.Error("workbook missing active record")
	}

	// Summary report written.
	sum, err := os.ReadFile(filepath.Join(cfg.Paths.ReportDir, "summary_2024-06-04_060000.html"))
	if err != nil {
		t.Fatalf("summary missing: %v", err)
	}
	if !strings.Contains(string(sum), "class: AZ → DZ") {
		t.Error("summary missing field delta")
	}

	// Operator docs for the three changed records.
	for _, lic := range []string{"L100", "L200", "L900"} {
		p := filepath.Join(cfg.Paths.ReportDir, "operators", "operator_"+lic+".html")
		if _, err := os.Stat(p); err != nil {
			t.Errorf("operator doc for %s missing: %v", lic, err)
		}
	}

	// Mail sent with the subject convention.
	if m.sent != 1 {
		t.Fatalf("mail sent %d times", m.sent)
	}
	if want := "[Operator Licence Sync] 2024-06-04 — OK — 4 records"; m.subject != want {
		t.Errorf("subject = %q, want %q", m.subject, want)
	}

	// Today's input became tomorrow's baseline.
	prior, err := os.ReadFile(cfg.Paths.PriorSnapshot)
	if err != nil {
		t.Fatalf("prior snapshot: %v", err)
	}
	if !strings.Contains(string(prior), "L200") || strings.Contains(string(prior), "L900") {
		t.Error("prior snapshot not replaced with today's input")
	}

	// Run log carries the confirmation block.
	logText, err := os.ReadFile(cfg.Paths.LogFile)
	if err != nil {
		t.Fatalf("run log: %v", err)
	}
	if !strings.Contains(string(logText), "Process finished: 3 records loaded") {
		t.Error("run log missing confirmation block")
	}
}

// A failed upload must remove the workbook and keep yesterday's baseline
// so a retry diffs against the same state.
func TestRun_UploadFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeLines(t, filepath.Join(cfg.Paths.InputDir, "operator_export_20240604.txt"),
		expLine("L100", "ANDERSON, P", "DZ", "ACTIVE", "OPS", "2025-01-15", ""),
	)
	priorLine := expLine("L100", "ANDERSON, P", "AZ", "ACTIVE", "OPS", "2025-01-15", "")
	writeLines(t, cfg.Paths.PriorSnapshot, priorLine)

	up := &fakeUploader{err: errors.New("loader exited 1")}
	_, err := Run(context.Background(), cfg, testDeps(up, nil))
	if err == nil || !strings.Contains(err.Error(), "upload") {
		t.Fatalf("err = %v, want upload failure", err)
	}

	uploadPath := filepath.Join(cfg.Paths.UploadDir, "2024-06-04 operator licence upload.xml")
	if _, err := os.Stat(uploadPath); !os.IsNotExist(err) {
		t.Error("failed upload workbook left behind")
	}
	prior, err := os.ReadFile(cfg.Paths.PriorSnapshot)
	if err != nil {
		t.Fatalf("prior snapshot: %v", err)
	}
	if !strings.Contains(string(prior), "AZ") {
		t.Error("baseline advanced despite failed upload")
	}
}

func TestRun_NoPriorSnapshot(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeLines(t, filepath.Join(cfg.Paths.InputDir, "operator_export_20240604.txt"),
		expLine("L100", "ANDERSON, P", "DZ", "ACTIVE", "OPS", "2025-01-15", ""),
		expLine("L200", "BAKER, J", "AZ", "ACTIVE", "OPS", "2025-02-01", ""),
	)

	up := &fakeUploader{confirmation: "Process finished"}
	res, err := Run(context.Background(), cfg, testDeps(up, nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.PriorMissing {
		t.Error("PriorMissing not set")
	}
	if got := res.Counts()[domain.ChangeNew]; got != 2 {
		t.Errorf("new = %d, want 2", got)
	}
}

func TestRun_DryRunSkipsUploader(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeLines(t, filepath.Join(cfg.Paths.InputDir, "operator_export_20240604.txt"),
		expLine("L100", "ANDERSON, P", "DZ", "ACTIVE", "OPS", "2025-01-15", ""),
	)

	up := &fakeUploader{}
	deps := testDeps(up, nil)
	deps.DryRun = true

	res, err := Run(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(up.calls) != 0 {
		t.Error("uploader invoked during dry run")
	}
	if res.Confirmation != "SKIPPED (dry run)" {
		t.Errorf("confirmation = %q", res.Confirmation)
	}
	// Workbook still produced for inspection.
	if _, err := os.Stat(filepath.Join(cfg.Paths.UploadDir, "2024-06-04 operator licence upload.xml")); err != nil {
		t.Errorf("workbook missing in dry run: %v", err)
	}
}

// Rejected lines land in the skip sidecar; the run itself proceeds.
func TestRun_MalformedLinesAreSkipped(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeLines(t, filepath.Join(cfg.Paths.InputDir, "operator_export_20240604.txt"),
		expLine("L100", "ANDERSON, P", "DZ", "ACTIVE", "OPS", "2025-01-15", ""),
		expLine("L200", "BAKER, J", "AZ", "ACTIVE", "OPS", "not-a-date", ""),
	)

	up := &fakeUploader{confirmation: "Process finished"}
	m := &fakeMailer{}
	res, err := Run(context.Background(), cfg, testDeps(up, m))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ParseErrors != 1 {
		t.Fatalf("ParseErrors = %d, want 1", res.ParseErrors)
	}
	if !strings.Contains(m.subject, "ISSUE") {
		t.Errorf("subject = %q, want ISSUE status", m.subject)
	}

	matches, err := filepath.Glob(filepath.Join(cfg.Paths.SkippedDir, "skipped_*.csv"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("skip sidecars = %v (err %v)", matches, err)
	}
	raw, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if !strings.Contains(string(raw), "L200") {
		t.Error("sidecar missing rejected licence")
	}
}

func TestRun_MissingInputDirFails(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	up := &fakeUploader{}
	_, err := Run(context.Background(), cfg, testDeps(up, nil))
	if err == nil {
		t.Fatal("run succeeded with no input")
	}
	if len(up.calls) != 0 {
		t.Error("uploader invoked without input")
	}
}

// Mail failure is logged but never fails the run.
func TestRun_MailFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeLines(t, filepath.Join(cfg.Paths.InputDir, "operator_export_20240604.txt"),
		expLine("L100", "ANDERSON, P", "DZ", "ACTIVE", "OPS", "2025-01-15", ""),
	)

	up := &fakeUploader{confirmation: "Process finished"}
	m := &fakeMailer{err: errors.New("relay down")}
	if _, err := Run(context.Background(), cfg, testDeps(up, m)); err != nil {
		t.Fatalf("Run failed on mail error: %v", err)
	}

	logText, err := os.ReadFile(cfg.Paths.LogFile)
	if err != nil {
		t.Fatalf("run log: %v", err)
	}
	if !strings.Contains(string(logText), "mail delivery failed") {
		t.Error("run log missing mail warning")
	}
}
