package accesslog

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/pkowalczyk/siteblock/internal/hosts"
)

const (
	// PidFileName lives in the per-user data directory.
	PidFileName = "sitelogd.pid"
	// StagingPath is where the logger executable is copied before an
	// elevated start. The copy must be world-readable so the elevated
	// shell can exec it regardless of where the agent binary lives.
	StagingPath = "/tmp/sitelogd"

	loggerName = "sitelogd"
)

// Supervisor manages the lifecycle of the external access logger. The
// logger is optional: every failure here degrades access logging only
// and is logged, never surfaced to the caller.
type Supervisor struct {
	dir        string
	loggerPath string
	staging    string
	elevator   hosts.ShellElevator
	logger     *zap.Logger

	// verify guards against a recycled pid pointing at an unrelated
	// process. Overridable in tests.
	verify func(pid int) bool
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLoggerPath pins the logger executable to an explicit path instead
// of resolving it next to the agent binary.
func WithLoggerPath(path string) SupervisorOption {
	return func(s *Supervisor) { s.loggerPath = path }
}

// WithElevator replaces the privileged shell used to start the logger.
func WithElevator(e hosts.ShellElevator) SupervisorOption {
	return func(s *Supervisor) { s.elevator = e }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor creates a supervisor keeping its pid file under dir.
func NewSupervisor(dir string, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		dir:      dir,
		staging:  StagingPath,
		elevator: hosts.NewElevator(),
		logger:   zap.NewNop(),
	}
	s.verify = s.looksLikeLogger
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PidPath returns the pid file location.
func (s *Supervisor) PidPath() string {
	return filepath.Join(s.dir, PidFileName)
}

// IsRunning reports whether the recorded pid names a live process that
// still looks like the access logger. A missing or stale pid file means
// not running.
func (s *Supervisor) IsRunning() bool {
	pid, err := s.readPid()
	if err != nil {
		return false
	}
	if !IsProcessAlive(pid) {
		return false
	}
	return s.verify(pid)
}

// EnsureRunning starts the logger when it is not already running.
func (s *Supervisor) EnsureRunning() {
	if s.IsRunning() {
		return
	}
	step, ok := s.StartStep()
	if !ok {
		return
	}
	if out, err := s.elevator.RunShell(step); err != nil {
		s.logger.Warn("failed to start access logger",
			zap.Error(err),
			zap.String("output", strings.TrimSpace(string(out))))
	}
}

// EnsureStopped stops the logger when it is running.
func (s *Supervisor) EnsureStopped() {
	if !s.IsRunning() {
		return
	}
	if out, err := s.elevator.RunShell(s.StopStep()); err != nil {
		s.logger.Warn("failed to stop access logger",
			zap.Error(err),
			zap.String("output", strings.TrimSpace(string(out))))
	}
}

// StartStep stages the logger executable and returns the shell fragment
// that launches it as the real user and records the pid. ok is false
// when the executable cannot be resolved or staged.
func (s *Supervisor) StartStep() (string, bool) {
	src, err := s.resolveExecutable()
	if err != nil {
		s.logger.Warn("access logger unavailable", zap.Error(err))
		return "", false
	}
	if err := s.stage(src); err != nil {
		s.logger.Warn("failed to stage access logger",
			zap.String("source", src), zap.Error(err))
		return "", false
	}

	inner := fmt.Sprintf("%s >/dev/null 2>&1 & echo $! > %s",
		s.staging, hosts.ShellQuote(s.PidPath()))
	return fmt.Sprintf("su %s -c %s",
		hosts.ShellQuote(realUser()), hosts.ShellQuote(inner)), true
}

// StopStep returns the shell fragment that kills the recorded pid and
// removes the pid file. Safe to run when the logger is already gone.
func (s *Supervisor) StopStep() string {
	pid := hosts.ShellQuote(s.PidPath())
	return fmt.Sprintf("test -f %s && kill $(cat %s) 2>/dev/null; rm -f %s", pid, pid, pid)
}

func (s *Supervisor) readPid() (int, error) {
	data, err := os.ReadFile(s.PidPath())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file: %w", err)
	}
	return pid, nil
}

func (s *Supervisor) looksLikeLogger(pid int) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	name, err := proc.Name()
	if err != nil {
		// Liveness is already established. An unreadable name usually
		// means the process runs privileged, which the logger may.
		return true
	}
	return strings.Contains(strings.ToLower(name), loggerName)
}

// resolveExecutable looks for the logger next to the agent binary, then
// in the packaged resource layout, then in the development tree.
func (s *Supervisor) resolveExecutable() (string, error) {
	if s.loggerPath != "" {
		if _, err := os.Stat(s.loggerPath); err != nil {
			return "", fmt.Errorf("access logger not found at %s: %w", s.loggerPath, err)
		}
		return s.loggerPath, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(exe)
	candidates := []string{
		filepath.Join(dir, loggerName),
		filepath.Join(dir, "..", "libexec", loggerName),
		filepath.Join(dir, "..", "..", "scripts", loggerName),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", errors.New("access logger executable not found")
}

func (s *Supervisor) stage(src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(s.staging, data, 0o755)
}

// IsProcessAlive probes pid with signal 0. EPERM still proves the
// process exists, it just belongs to someone else.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPERM
	}
	return false
}

// realUser returns the login the logger should run as. Under sudo the
// invoking user is preserved so logs stay owned by them.
func realUser() string {
	if u := os.Getenv("SUDO_USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
