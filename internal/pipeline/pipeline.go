// Package pipeline runs one complete sync: locate today's export, parse
// it, diff against the prior snapshot, write the upload workbook, invoke
// the vendor loader, render reports, mail the summary, and retain
// today's input for tomorrow. Steps run strictly in order; the job is a
// nightly batch and its safety comes from being deterministic, not
// concurrent.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/erimojdehi/licsync/internal/config"
	"github.com/erimojdehi/licsync/internal/diff"
	"github.com/erimojdehi/licsync/internal/domain"
	"github.com/erimojdehi/licsync/internal/export"
	"github.com/erimojdehi/licsync/internal/metrics"
	"github.com/erimojdehi/licsync/internal/parser/fixed"
	"github.com/erimojdehi/licsync/internal/report"
	"github.com/erimojdehi/licsync/internal/runlog"
	"github.com/erimojdehi/licsync/internal/snapshot"
)

// Deps are the pluggable pieces of a run. Tests substitute fakes; main
// wires the real implementations.
type Deps struct {
	Parser   *fixed.Parser
	Uploader Uploader
	Mailer   SummaryMailer

	// DryRun skips the vendor loader invocation but still writes the
	// workbook and reports.
	DryRun bool

	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// Uploader runs the vendor upload tool and returns its confirmation text.
type Uploader interface {
	Run(ctx context.Context, uploadFile string) (string, error)
}

// SummaryMailer delivers the rendered summary. A nil Mailer in Deps
// disables delivery.
type SummaryMailer interface {
	SendSummary(ctx context.Context, subject, htmlBody string) error
}

// Run executes one sync against cfg. The returned RunResult is populated
// even on failure, as far as the run got.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (domain.RunResult, error) {
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	start := now()

	rc, err := runlog.Open(cfg.Paths.LogFile, start)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("open run log: %w", err)
	}
	log := slog.Default().With("job", cfg.Job, "run_id", rc.RunID)
	log.Info("run started")

	var res domain.RunResult
	res.RunID = rc.RunID
	res.When = start

	skips := runlog.NewSkipLog(cfg.Paths.SkippedDir, rc.Stamp)
	defer func() {
		if cerr := skips.Close(); cerr != nil {
			log.Warn("closing skip log", "error", cerr)
		}
	}()

	// Locate and parse today's export.
	stepStart := now()
	inputPath, err := snapshot.LatestExport(cfg.Paths.InputDir, cfg.Input.Pattern)
	if err != nil {
		rc.Add("ERROR locating input: %v", err)
		metrics.RecordStep(cfg.Job, "locate_input", err, time.Since(stepStart))
		return res, fmt.Errorf("locate input: %w", err)
	}
	rc.Add("input: %s", inputPath)

	today, perrs, err := snapshot.Load(inputPath, deps.Parser)
	metrics.RecordStep(cfg.Job, "parse", err, time.Since(stepStart))
	if err != nil {
		rc.Add("ERROR parsing input: %v", err)
		return res, fmt.Errorf("parse input: %w", err)
	}
	logSkips(rc, skips, perrs, log)
	rc.Add("parsed %d records (%d lines rejected)", today.Len(), len(perrs))
	metrics.RecordRecords(cfg.Job, "parsed", int64(today.Len()))
	metrics.RecordRecords(cfg.Job, "parse_errors", int64(len(perrs)))

	prior, present, priorErrs, err := snapshot.LoadPrior(cfg.Paths.PriorSnapshot, deps.Parser)
	if err != nil {
		rc.Add("ERROR loading prior snapshot: %v", err)
		return res, fmt.Errorf("load prior snapshot: %w", err)
	}
	if !present {
		rc.Add("no prior snapshot; treating every record as NEW")
	}
	if len(priorErrs) > 0 {
		rc.Add("prior snapshot had %d unreadable lines", len(priorErrs))
	}

	// Diff.
	stepStart = now()
	res = diff.Run(prior, today, diff.Options{Now: start, LeadDays: cfg.Warning.LeadDays})
	res.RunID = rc.RunID
	res.ParseErrors = len(perrs)
	res.PriorMissing = !present
	metrics.RecordStep(cfg.Job, "diff", nil, time.Since(stepStart))

	counts := res.Counts()
	rc.Add("diff: %d new, %d modified, %d inactivated, %d unchanged, %d warning(s)",
		counts[domain.ChangeNew], counts[domain.ChangeModified],
		counts[domain.ChangeInactivated], counts[domain.ChangeUnchanged], res.Warnings)
	metrics.RecordRecords(cfg.Job, "new", int64(counts[domain.ChangeNew]))
	metrics.RecordRecords(cfg.Job, "modified", int64(counts[domain.ChangeModified]))
	metrics.RecordRecords(cfg.Job, "inactivated", int64(counts[domain.ChangeInactivated]))
	metrics.RecordRecords(cfg.Job, "unchanged", int64(counts[domain.ChangeUnchanged]))
	metrics.RecordRecords(cfg.Job, "warnings", int64(res.Warnings))

	// Upload workbook. Every active record goes out, not just changes;
	// the work-order system treats the file as a full refresh.
	stepStart = now()
	uploadPath := filepath.Join(cfg.Paths.UploadDir,
		fmt.Sprintf("%s operator licence upload.xml", start.Format(domain.DateLayout)))
	err = export.WriteWorkbook(uploadPath, start, today.Active())
	metrics.RecordStep(cfg.Job, "workbook", err, time.Since(stepStart))
	if err != nil {
		rc.Add("ERROR writing workbook: %v", err)
		return res, fmt.Errorf("write workbook: %w", err)
	}
	rc.Add("workbook: %s (%d active records)", uploadPath, len(today.Active()))

	// Vendor loader.
	if deps.DryRun {
		res.Confirmation = "SKIPPED (dry run)"
		rc.Add("upload skipped: dry run")
	} else {
		stepStart = now()
		confirmation, uerr := deps.Uploader.Run(ctx, uploadPath)
		metrics.RecordStep(cfg.Job, "upload", uerr, time.Since(stepStart))
		if uerr != nil {
			rc.Add("ERROR upload failed: %v", uerr)
			// A half-delivered workbook must not be retried by hand
			// against stale data tomorrow; remove it.
			if rmErr := os.Remove(uploadPath); rmErr != nil {
				log.Warn("removing failed upload file", "error", rmErr)
			}
			return res, fmt.Errorf("upload: %w", uerr)
		}
		res.Confirmation = confirmation
		rc.Add("upload confirmed")
	}

	// Reports are mandatory output; a run that cannot write them fails.
	stepStart = now()
	data := report.Build(res)
	summaryPath := filepath.Join(cfg.Paths.ReportDir,
		fmt.Sprintf("summary_%s.html", rc.Stamp))
	err = report.WriteSummary(summaryPath, data)
	if err == nil {
		_, err = report.WriteOperatorDocs(filepath.Join(cfg.Paths.ReportDir, "operators"), data)
	}
	metrics.RecordStep(cfg.Job, "report", err, time.Since(stepStart))
	if err != nil {
		rc.Add("ERROR writing reports: %v", err)
		return res, fmt.Errorf("write reports: %w", err)
	}
	rc.Add("summary report: %s", summaryPath)

	// Mail is best effort; the report is already on disk.
	if deps.Mailer != nil {
		subject := fmt.Sprintf("[Operator Licence Sync] %s — %s — %d records",
			start.Format(domain.DateLayout), data.Status(), data.Total)
		body, rerr := report.RenderSummary(data)
		if rerr == nil {
			rerr = deps.Mailer.SendSummary(ctx, subject, string(body))
		}
		if rerr != nil {
			rc.Add("WARNING mail delivery failed: %v", rerr)
			log.Warn("mail delivery failed", "error", rerr)
		} else {
			rc.Add("summary mailed")
		}
	}

	if res.Confirmation != "" {
		rc.AppendRaw("DataLoader Confirmation", res.Confirmation)
	}

	// Retain today's input as tomorrow's baseline only after everything
	// above succeeded, so a failed run diffs against the same baseline
	// when retried.
	if err := snapshot.Retain(inputPath, cfg.Paths.PriorSnapshot); err != nil {
		rc.Add("ERROR retaining snapshot: %v", err)
		return res, fmt.Errorf("retain snapshot: %w", err)
	}
	rc.Add("retained %s as prior snapshot", filepath.Base(inputPath))

	if cfg.Retention.Days > 0 {
		n := snapshot.CleanOld(cfg.Paths.InputDir, cfg.Input.Pattern, cfg.Retention.Days)
		n += snapshot.CleanOld(cfg.Paths.ReportDir, "summary_*.html", cfg.Retention.Days)
		n += snapshot.CleanOld(cfg.Paths.SkippedDir, "skipped_*.csv", cfg.Retention.Days)
		if n > 0 {
			rc.Add("retention: removed %d old file(s)", n)
		}
	}

	rc.Add("run finished in %s", time.Since(start).Round(time.Millisecond))
	log.Info("run finished",
		"records", len(res.Entries),
		"new", counts[domain.ChangeNew],
		"modified", counts[domain.ChangeModified],
		"inactivated", counts[domain.ChangeInactivated],
		"warnings", res.Warnings)
	return res, nil
}

func logSkips(rc *runlog.Context, skips *runlog.SkipLog, perrs []*fixed.MalformedRecordError, log *slog.Logger) {
	for _, pe := range perrs {
		licence := ""
		if pe.Field != "licence" {
			// Only keep the key when the key column itself parsed.
			licence = keyOf(pe.Raw)
		}
		if err := skips.Add(pe.Reason, pe.Line, licence, pe.Raw); err != nil {
			log.Warn("writing skip log", "error", err)
		}
		rc.Add("skipped line %d: %s", pe.Line, pe.Reason)
	}
}

// keyOf pulls the licence column out of a raw rejected line, best effort.
func keyOf(raw string) string {
	if len(raw) > 10 {
		raw = raw[:10]
	}
	return strings.TrimSpace(raw)
}
