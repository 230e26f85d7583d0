// Package config defines the JSON-serializable configuration model for
// the sync job. It is intentionally small, explicit, and dependency-free
// so a job file can be loaded from disk and passed through the program
// without additional glue code.
//
// Design goals:
//
//  1. Stability: changes should stay additive and backwards-compatible.
//  2. Clarity: Go field names mirror the JSON structure of the job file.
//  3. Minimalism: no third-party config libraries; decoding is performed
//     by the standard library, with defaults applied after decode.
//
// Example (trimmed):
//
//	{
//	  "job": "licsync",
//	  "paths":    { "base_dir": "C:/licsync" },
//	  "input":    { "pattern": "operator_export_*.txt" },
//	  "warning":  { "lead_days": 30 },
//	  "uploader": { "exe": "C:/DataLoader/DataLoader.exe", "host": "wocenter", "port": 7001 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level object decoded from the job file.
type Config struct {
	// Job names this run for metrics labeling and the mail subject.
	Job string `json:"job"`

	Paths     Paths     `json:"paths"`
	Input     Input     `json:"input"`
	Warning   Warning   `json:"warning"`
	Uploader  Uploader  `json:"uploader"`
	Email     Email     `json:"email"`
	Retention Retention `json:"retention"`
}

// Paths locates every file the job reads or writes. Only BaseDir is
// required; the rest default to conventional locations under it.
type Paths struct {
	// BaseDir is the working root for the job.
	BaseDir string `json:"base_dir"`

	// InputDir holds the daily exports. Default: <base>/input.
	InputDir string `json:"input_dir"`

	// UploadDir receives the generated upload workbook. Default: <base>/upload.
	UploadDir string `json:"upload_dir"`

	// ReportDir receives the HTML reports. Default: <base>/reports.
	ReportDir string `json:"report_dir"`

	// LogFile is the cumulative run log. Default: <base>/logs/run_log.txt.
	LogFile string `json:"log_file"`

	// PriorSnapshot is the retained copy of the last successful run's
	// input. Default: <base>/state/prior_snapshot.txt.
	PriorSnapshot string `json:"prior_snapshot"`

	// SkippedDir receives per-run CSV sidecars listing rejected input
	// lines. Default: <base>/skipped.
	SkippedDir string `json:"skipped_dir"`
}

// Input selects today's export within InputDir.
type Input struct {
	// Pattern is a filename glob; the newest match is the run's input.
	Pattern string `json:"pattern"`
}

// Warning controls expiry flagging.
type Warning struct {
	// LeadDays flags active records whose expiry or medical date falls
	// within this many days. Zero disables warnings.
	LeadDays int `json:"lead_days"`
}

// Uploader configures the external vendor upload tool.
type Uploader struct {
	Exe      string `json:"exe"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`

	// LogDir is where the tool writes its logs. Default: <exe dir>/logs.
	LogDir string `json:"log_dir"`

	// Marker is the confirmation phrase expected in the tool's log.
	Marker string `json:"marker"`

	// TimeoutSeconds bounds one tool invocation. Default: 180.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Email configures summary delivery. Empty host disables mailing.
type Email struct {
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	From       string   `json:"from"`
	Recipients []string `json:"recipients"`
}

// Retention controls cleanup of old inputs and reports.
type Retention struct {
	// Days is how long old artifacts are kept. Zero or negative
	// disables cleanup.
	Days int `json:"days"`
}

// LoadFile decodes a job file and applies defaults and environment
// overrides. getenv follows the os.Getenv signature so tests can supply
// a map-backed version; pass os.Getenv in production.
func LoadFile(path string, getenv func(string) string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	cfg.applyEnv(getenv)
	return cfg, nil
}

// ApplyDefaults fills every optional field from its convention. Called
// by LoadFile; exported so tests and in-memory configs can use it too.
func (c *Config) ApplyDefaults() {
	if c.Job == "" {
		c.Job = "licsync"
	}
	base := c.Paths.BaseDir
	if c.Paths.InputDir == "" {
		c.Paths.InputDir = filepath.Join(base, "input")
	}
	if c.Paths.UploadDir == "" {
		c.Paths.UploadDir = filepath.Join(base, "upload")
	}
	if c.Paths.ReportDir == "" {
		c.Paths.ReportDir = filepath.Join(base, "reports")
	}
	if c.Paths.LogFile == "" {
		c.Paths.LogFile = filepath.Join(base, "logs", "run_log.txt")
	}
	if c.Paths.PriorSnapshot == "" {
		c.Paths.PriorSnapshot = filepath.Join(base, "state", "prior_snapshot.txt")
	}
	if c.Paths.SkippedDir == "" {
		c.Paths.SkippedDir = filepath.Join(base, "skipped")
	}
	if c.Input.Pattern == "" {
		c.Input.Pattern = "operator_export_*.txt"
	}
	if c.Warning.LeadDays == 0 {
		c.Warning.LeadDays = 30
	}
	if c.Uploader.TimeoutSeconds == 0 {
		c.Uploader.TimeoutSeconds = 180
	}
	if c.Uploader.Marker == "" {
		c.Uploader.Marker = "Process finished"
	}
	if c.Email.Port == 0 {
		c.Email.Port = 25
	}
	if c.Retention.Days == 0 {
		c.Retention.Days = 30
	}
}

// applyEnv overlays secrets that should not live in the job file.
func (c *Config) applyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	if v := getenv("LICSYNC_UPLOADER_PASSWORD"); v != "" {
		c.Uploader.Password = v
	}
	if v := getenv("LICSYNC_UPLOADER_USER"); v != "" {
		c.Uploader.User = v
	}
}
