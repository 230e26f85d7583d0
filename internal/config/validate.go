// This file adds a lightweight linter for Config values. It performs
// static checks over a decoded Config and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that is surfaced to users but
	// does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "uploader.exe"). Message
// is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a
// single error where needed.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static validation of a Config after defaults have
// been applied. It does not mutate the config; callers decide whether
// warnings are fatal.
func Validate(c *Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(c.Job) == "" {
		issues = append(issues, Issue{SeverityError, "job",
			"job must not be empty; it labels metrics and the mail subject"})
	}
	if strings.TrimSpace(c.Paths.BaseDir) == "" {
		issues = append(issues, Issue{SeverityError, "paths.base_dir",
			"base_dir must not be empty"})
	}
	if strings.TrimSpace(c.Input.Pattern) == "" {
		issues = append(issues, Issue{SeverityError, "input.pattern",
			"input pattern must not be empty"})
	}
	if c.Warning.LeadDays < 0 {
		issues = append(issues, Issue{SeverityError, "warning.lead_days",
			"lead_days must not be negative"})
	}

	issues = append(issues, validateUploader(c.Uploader)...)
	issues = append(issues, validateEmail(c.Email)...)

	if c.Retention.Days < 0 {
		issues = append(issues, Issue{SeverityWarning, "retention.days",
			"negative retention disables cleanup; use 0 to make that explicit"})
	}
	return issues
}

func validateUploader(u Uploader) []Issue {
	var issues []Issue

	if strings.TrimSpace(u.Exe) == "" {
		issues = append(issues, Issue{SeverityError, "uploader.exe",
			"uploader.exe must point at the vendor upload tool"})
	}
	if strings.TrimSpace(u.Host) == "" {
		issues = append(issues, Issue{SeverityError, "uploader.host",
			"uploader.host must not be empty"})
	}
	if u.Port <= 0 || u.Port > 65535 {
		issues = append(issues, Issue{SeverityError, "uploader.port",
			fmt.Sprintf("uploader.port %d is outside 1-65535", u.Port)})
	}
	if strings.TrimSpace(u.User) == "" {
		issues = append(issues, Issue{SeverityWarning, "uploader.user",
			"no uploader user configured; the tool will be invoked without credentials"})
	}
	if u.TimeoutSeconds <= 0 {
		issues = append(issues, Issue{SeverityError, "uploader.timeout_seconds",
			"timeout_seconds must be positive"})
	}
	return issues
}

func validateEmail(e Email) []Issue {
	var issues []Issue

	// Mailing is optional; only lint it when partially configured.
	if e.Host == "" && e.From == "" && len(e.Recipients) == 0 {
		return nil
	}
	if e.Host == "" {
		issues = append(issues, Issue{SeverityError, "email.host",
			"email is partially configured: host is missing"})
	}
	if e.From == "" {
		issues = append(issues, Issue{SeverityError, "email.from",
			"email is partially configured: from address is missing"})
	}
	if len(e.Recipients) == 0 {
		issues = append(issues, Issue{SeverityError, "email.recipients",
			"email is partially configured: no recipients"})
	}
	for i, r := range e.Recipients {
		if !strings.Contains(r, "@") {
			issues = append(issues, Issue{SeverityWarning,
				fmt.Sprintf("email.recipients[%d]", i),
				fmt.Sprintf("%q does not look like an address", r)})
		}
	}
	return issues
}

// HasErrors reports whether any issue is severity error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
