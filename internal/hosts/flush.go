package hosts

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// FlushMethod defines the resolver cache flush method to use.
type FlushMethod string

const (
	FlushMethodAuto        FlushMethod = "auto"
	FlushMethodDscacheutil FlushMethod = "dscacheutil"
	FlushMethodKillall     FlushMethod = "killall"
	FlushMethodSystemd     FlushMethod = "systemd"
	FlushMethodNscd        FlushMethod = "nscd"
)

// Flusher selects the resolver cache flush and resolver restart commands
// for the running OS. The commands themselves run inside the elevated
// transaction, so Flusher only composes them.
type Flusher struct {
	method FlushMethod
	runner CommandRunner
}

// NewFlusher creates a flusher. An empty method means auto-detect.
func NewFlusher(method FlushMethod) *Flusher {
	return NewFlusherWithRunner(method, ExecRunner{})
}

// NewFlusherWithRunner creates a flusher with an injected runner (for testing).
func NewFlusherWithRunner(method FlushMethod, r CommandRunner) *Flusher {
	if method == "" {
		method = FlushMethodAuto
	}
	return &Flusher{method: method, runner: r}
}

func (f *Flusher) resolved() FlushMethod {
	if f.method != FlushMethodAuto {
		return f.method
	}

	switch runtime.GOOS {
	case "darwin":
		return FlushMethodDscacheutil
	case "linux":
		if _, err := exec.LookPath("resolvectl"); err == nil {
			return FlushMethodSystemd
		}
		if _, err := exec.LookPath("nscd"); err == nil {
			return FlushMethodNscd
		}
		return FlushMethodAuto
	default:
		return FlushMethodAuto
	}
}

// FlushStep returns the shell command that flushes the resolver cache,
// or "" when the platform needs none (/etc/hosts is read directly on
// most Linux setups without a caching resolver).
func (f *Flusher) FlushStep() string {
	switch f.resolved() {
	case FlushMethodDscacheutil:
		return "dscacheutil -flushcache"
	case FlushMethodKillall:
		return "killall -HUP mDNSResponder"
	case FlushMethodSystemd:
		return "resolvectl flush-caches"
	case FlushMethodNscd:
		return "nscd -i hosts"
	default:
		return ""
	}
}

// RestartStep returns the shell command that signals the resolver
// service to pick up the new hosts content, or "" when not needed.
func (f *Flusher) RestartStep() string {
	switch runtime.GOOS {
	case "darwin":
		return "killall -HUP mDNSResponder"
	case "linux":
		if f.resolved() == FlushMethodSystemd {
			return "systemctl try-restart systemd-resolved"
		}
		return ""
	default:
		return ""
	}
}

// Flush runs the flush command directly, outside an elevated
// transaction. Used after unprivileged operations that may still want a
// cache refresh; failures are the caller's to ignore.
func (f *Flusher) Flush() error {
	step := f.FlushStep()
	if step == "" {
		return nil
	}
	out, err := f.runner.Output("sh", "-c", step) // #nosec G204 - composed from constant command strings
	if err != nil {
		if diag := strings.TrimSpace(string(out)); diag != "" {
			return fmt.Errorf("flush failed: %w: %s", err, diag)
		}
		return fmt.Errorf("flush failed: %w", err)
	}
	return nil
}
