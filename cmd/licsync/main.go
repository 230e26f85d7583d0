package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/erimojdehi/licsync/internal/config"
	"github.com/erimojdehi/licsync/internal/logging"
	"github.com/erimojdehi/licsync/internal/mailer"
	"github.com/erimojdehi/licsync/internal/metrics"
	"github.com/erimojdehi/licsync/internal/metrics/prompush"
	"github.com/erimojdehi/licsync/internal/parser/fixed"
	"github.com/erimojdehi/licsync/internal/pipeline"
	"github.com/erimojdehi/licsync/internal/uploader"
)

// main is the entry point for the nightly sync binary. It loads and
// lints the job config, optionally initializes a metrics backend, and
// executes one run.
func main() {
	var (
		cfgPath           string
		validate          bool
		dryRun            bool
		logLevel          string
		logFormat         string
		metricsBackendFlg string
		pushGatewayURLFlg string
	)

	flag.StringVar(&cfgPath, "config", "licsync.json", "job config JSON path")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "run everything except the vendor upload")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (pushgateway, none; default env METRICS_BACKEND or none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	verbose := flag.Bool("v", false, "shorthand for -log-level=debug")

	flag.Parse()

	if *verbose {
		logLevel = "debug"
	}
	logging.Setup(os.Stderr, logLevel, logFormat)

	cfg, err := config.LoadFile(cfgPath, os.Getenv)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fatalf("configuration is invalid: %s", cfgPath)
	}
	if validate {
		fmt.Printf("configuration is valid: %s\n", cfgPath)
		return
	}

	backendName, gatewayURL := resolveMetrics(metricsBackendFlg, pushGatewayURLFlg, os.Getenv)
	setupMetrics(cfg.Job, backendName, gatewayURL)
	defer func() {
		if err := metrics.Flush(); err != nil {
			slog.Warn("metrics flush failed", "error", err)
		}
	}()

	deps := pipeline.Deps{
		Parser: fixed.NewParser(fixed.Options{}),
		Uploader: uploader.NewExecRunner(uploader.ExecConfig{
			Exe:      cfg.Uploader.Exe,
			Host:     cfg.Uploader.Host,
			Port:     cfg.Uploader.Port,
			User:     cfg.Uploader.User,
			Password: cfg.Uploader.Password,
			LogDir:   cfg.Uploader.LogDir,
			Marker:   cfg.Uploader.Marker,
			Timeout:  time.Duration(cfg.Uploader.TimeoutSeconds) * time.Second,
		}),
		DryRun: dryRun,
	}
	mailCfg := mailer.Config{
		Host:       cfg.Email.Host,
		Port:       cfg.Email.Port,
		From:       cfg.Email.From,
		Recipients: cfg.Email.Recipients,
	}
	if mailCfg.Enabled() {
		deps.Mailer = mailer.New(mailCfg)
	}

	if _, err := pipeline.Run(context.Background(), cfg, deps); err != nil {
		fatalf("run failed: %v", err)
	}
}

// resolveMetrics decides the backend name and gateway URL: flag, then
// env, then defaults ("none" and the local Pushgateway port).
func resolveMetrics(backendFlag, gatewayFlag string, getenv func(string) string) (string, string) {
	backendName := backendFlag
	if backendName == "" {
		backendName = getenv("METRICS_BACKEND")
	}
	if backendName == "" {
		backendName = "none"
	}
	gatewayURL := gatewayFlag
	if gatewayURL == "" {
		gatewayURL = getenv("PUSHGATEWAY_URL")
	}
	if gatewayURL == "" {
		gatewayURL = "http://localhost:9091"
	}
	return backendName, gatewayURL
}

func setupMetrics(job, backendName, gatewayURL string) {
	switch backendName {
	case "pushgateway":
		b, err := prompush.NewBackend(job, gatewayURL)
		if err != nil {
			slog.Warn("metrics backend init failed; using nop", "error", err)
			return
		}
		slog.Info("metrics enabled", "backend", backendName, "url", gatewayURL, "job", job)
		metrics.SetBackend(b)

	case "none":
		// metrics disabled; nop backend remains

	default:
		slog.Warn("unknown metrics backend; metrics disabled", "backend", backendName)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "licsync: "+format+"\n", args...)
	os.Exit(1)
}
