// Package uploader drives the vendor data-loading tool. The tool is an
// opaque executable: it is pointed at the generated upload workbook,
// writes its own log files, and prints nothing useful on stdout. A run is
// confirmed by finding the confirmation marker in the newest loader log
// written after the invocation started.
//
// The Runner interface exists so the pipeline (and its tests) never
// depend on the real executable.
package uploader

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Runner invokes the upload tool against a generated upload file and
// returns the tool's confirmation text.
type Runner interface {
	Run(ctx context.Context, uploadFile string) (string, error)
}

// Failure is the UploaderFailure condition: the external tool is absent,
// exits non-zero, times out, or never confirms. The pipeline treats it as
// fatal and removes the upload file.
type Failure struct {
	Stage string // "locate", "start", "exit", "timeout", "confirm"
	Err   error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("uploader failure (%s)", f.Stage)
	}
	return fmt.Sprintf("uploader failure (%s): %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ExecConfig configures the real loader invocation.
type ExecConfig struct {
	Exe      string // path to the vendor executable
	Host     string // target server host
	Port     int
	User     string
	Password string
	LogDir   string        // where the tool writes its .txt logs
	Marker   string        // confirmation string to look for
	Timeout  time.Duration // zero means DefaultTimeout
}

// DefaultTimeout bounds a loader invocation. The tool normally finishes
// in seconds; a hung session must not stall the nightly run forever.
const DefaultTimeout = 180 * time.Second

// ExecRunner runs the vendor executable directly.
type ExecRunner struct {
	cfg ExecConfig
}

// NewExecRunner returns an ExecRunner for cfg.
func NewExecRunner(cfg ExecConfig) *ExecRunner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(filepath.Dir(cfg.Exe), "logs")
	}
	return &ExecRunner{cfg: cfg}
}

// Run writes the runfile artifact, executes the loader against
// uploadFile, and scrapes the loader's newest log for the confirmation
// marker. The returned string is the loader's log text verbatim.
func (r *ExecRunner) Run(ctx context.Context, uploadFile string) (string, error) {
	if _, err := os.Stat(r.cfg.Exe); err != nil {
		return "", &Failure{Stage: "locate", Err: fmt.Errorf("loader executable: %w", err)}
	}

	if err := r.writeRunfile(uploadFile); err != nil {
		// The runfile only exists for manual re-runs; its absence does
		// not block the automated invocation.
		fmt.Fprintf(os.Stderr, "uploader: runfile not written: %v\n", err)
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Exe,
		"-n", "10",
		"-l", "logs",
		"-a", fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port),
		"-u", r.cfg.User,
		"-p", r.cfg.Password,
		"-i", filepath.Base(uploadFile),
	)
	cmd.Dir = filepath.Dir(r.cfg.Exe)

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", &Failure{Stage: "timeout", Err: fmt.Errorf("no exit within %s", r.cfg.Timeout)}
		}
		return "", &Failure{Stage: "exit", Err: err}
	}

	text, err := ScanConfirmation(r.cfg.LogDir, start, r.cfg.Marker)
	if err != nil {
		return "", err
	}
	return text, nil
}

// writeRunfile drops a shell artifact next to the executable so an
// operator can re-run the exact upload by hand.
func (r *ExecRunner) writeRunfile(uploadFile string) error {
	runfile := filepath.Join(filepath.Dir(r.cfg.Exe), "runfile.bat")
	content := "setlocal\r\n" +
		"pushd \"%~dp0\"\r\n" +
		fmt.Sprintf("%s -n \"10\" -l \"logs\" -a \"%s:%d\" -u \"%s\" -p \"%s\" -i \"%s\"\r\n",
			filepath.Base(r.cfg.Exe), r.cfg.Host, r.cfg.Port, r.cfg.User, r.cfg.Password, filepath.Base(uploadFile)) +
		"popd\r\n" +
		"endlocal\r\n"
	return os.WriteFile(runfile, []byte(content), 0o644)
}

// newestLogAfter returns the .txt file in dir with the newest mtime at or
// after epoch, falling back to the newest overall when none qualify (the
// loader occasionally back-dates its log on fast runs).
func newestLogAfter(dir string, epoch time.Time) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no loader log in %s", dir)
	}
	var newest, newestAfter string
	var newestMtime, newestAfterMtime time.Time
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil {
			continue
		}
		mt := st.ModTime()
		if newest == "" || mt.After(newestMtime) {
			newest, newestMtime = m, mt
		}
		if !mt.Before(epoch) && (newestAfter == "" || mt.After(newestAfterMtime)) {
			newestAfter, newestAfterMtime = m, mt
		}
	}
	if newestAfter != "" {
		return newestAfter, nil
	}
	return newest, nil
}

// ScanConfirmation reads the loader's newest log written after start and
// verifies it contains marker. The whole log text is returned verbatim
// for the report and run log. An empty marker skips verification.
func ScanConfirmation(logDir string, start time.Time, marker string) (string, error) {
	path, err := newestLogAfter(logDir, start)
	if err != nil {
		return "", &Failure{Stage: "confirm", Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &Failure{Stage: "confirm", Err: fmt.Errorf("read loader log: %w", err)}
	}
	text := string(data)
	if marker != "" && !strings.Contains(text, marker) {
		return "", &Failure{Stage: "confirm", Err: fmt.Errorf("marker %q not found in %s", marker, filepath.Base(path))}
	}
	return text, nil
}
