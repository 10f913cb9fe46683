package hosts

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrSafetyCheckFailed means the hosts file does not look like a
	// hosts file and will not be touched.
	ErrSafetyCheckFailed = errors.New("hosts file failed safety check")
	// ErrPrivilegedWriteFailed means the elevated helper was denied,
	// cancelled, or its command failed.
	ErrPrivilegedWriteFailed = errors.New("privileged write failed")
)

// DaemonSteps supplies the shell fragments that toggle the access logger
// inside the elevated transaction. StartStep reports ok=false when the
// logger executable cannot be resolved, in which case the step is
// skipped entirely.
type DaemonSteps interface {
	StartStep() (string, bool)
	StopStep() string
}

// ShellElevator runs a composed shell script with administrator rights.
type ShellElevator interface {
	RunShell(script string) ([]byte, error)
}

// Writer applies a domain set to the system hosts file through a single
// elevated transaction: back up, replace, fix permissions, then
// best-effort cache flush, resolver restart and logger toggle.
type Writer struct {
	hostsPath  string
	backupPath string
	flusher    *Flusher
	elevator   ShellElevator
	daemon     DaemonSteps
	backups    *BackupKeeper
	logger     *zap.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithHostsPath overrides the hosts file location.
func WithHostsPath(path string) WriterOption {
	return func(w *Writer) { w.hostsPath = path }
}

// WithBackupPath overrides the fixed backup location.
func WithBackupPath(path string) WriterOption {
	return func(w *Writer) { w.backupPath = path }
}

// WithElevator injects the elevation mechanism.
func WithElevator(e ShellElevator) WriterOption {
	return func(w *Writer) { w.elevator = e }
}

// WithDaemonSteps wires the access-logger toggle into the transaction.
func WithDaemonSteps(d DaemonSteps) WriterOption {
	return func(w *Writer) { w.daemon = d }
}

// WithBackupKeeper enables timestamped local snapshots before each write.
func WithBackupKeeper(k *BackupKeeper) WriterOption {
	return func(w *Writer) { w.backups = k }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// NewWriter creates a writer for the system hosts file.
func NewWriter(flusher *Flusher, opts ...WriterOption) *Writer {
	w := &Writer{
		hostsPath:  Path,
		backupPath: BackupPath,
		flusher:    flusher,
		elevator:   NewElevator(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Apply computes new hosts content for the domain set and writes it via
// the elevated helper. The backup, replacement and permission steps must
// all succeed; the flush, resolver and logger steps are best-effort. The
// staged temp file is removed on every exit path.
func (w *Writer) Apply(domains []string) error {
	current, err := os.ReadFile(w.hostsPath)
	if err != nil {
		return fmt.Errorf("failed to read hosts file: %w", err)
	}

	if err := checkLooksLikeHosts(string(current)); err != nil {
		return err
	}

	newContent := BuildContent(string(current), domains)

	if w.backups != nil {
		if err := w.backups.Snapshot(string(current)); err != nil {
			w.logger.Warn("failed to snapshot hosts file", zap.Error(err))
		}
	}

	// Staged unprivileged; the protected file is only touched inside
	// the elevated command.
	tmp, err := os.CreateTemp("", "siteblock-hosts-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(newContent); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to stage hosts content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to stage hosts content: %w", err)
	}
	// The elevated helper reads the staged file as root, but it must be
	// readable when the helper drops into a restricted context.
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to stage hosts content: %w", err)
	}

	script := w.composeScript(tmpPath, len(domains) > 0)
	w.logger.Debug("running elevated hosts transaction", zap.Int("domains", len(domains)))

	out, err := w.elevator.RunShell(script)
	if err != nil {
		diag := strings.TrimSpace(string(out))
		if diag == "" {
			diag = err.Error()
		}
		return fmt.Errorf("%w: %s", ErrPrivilegedWriteFailed, diag)
	}

	return nil
}

// composeScript builds the single &&-joined command sequence. Steps 1-3
// gate success; the rest are wrapped so their failure cannot abort the
// transaction.
func (w *Writer) composeScript(tmpPath string, startLogger bool) string {
	hosts := ShellQuote(w.hostsPath)
	steps := []string{
		fmt.Sprintf("cp %s %s", hosts, ShellQuote(w.backupPath)),
		fmt.Sprintf("cp %s %s", ShellQuote(tmpPath), hosts),
		fmt.Sprintf("chmod 644 %s", hosts),
	}

	if s := w.flusher.FlushStep(); s != "" {
		steps = append(steps, bestEffort(s))
	}
	if s := w.flusher.RestartStep(); s != "" {
		steps = append(steps, bestEffort(s))
	}

	if w.daemon != nil {
		if startLogger {
			if s, ok := w.daemon.StartStep(); ok {
				steps = append(steps, bestEffort(s))
			}
		} else {
			steps = append(steps, bestEffort(w.daemon.StopStep()))
		}
	}

	return strings.Join(steps, " && ")
}

func bestEffort(cmd string) string {
	return "{ " + cmd + " || true; }"
}

// checkLooksLikeHosts is a cheap heuristic guard against operating on an
// unexpected or already-corrupted file.
func checkLooksLikeHosts(content string) error {
	if !strings.Contains(content, loopback) || !strings.Contains(content, "localhost") {
		return fmt.Errorf("%w: missing loopback or localhost entry", ErrSafetyCheckFailed)
	}
	return nil
}
