package hosts

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Output(name string, args ...string) ([]byte, error)
}

// ExecRunner executes real system commands.
type ExecRunner struct{}

// Output runs a command and returns its combined stdout and stderr, so
// a failing elevated helper always yields its diagnostics.
func (ExecRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput() // #nosec G204 - invoked only with the fixed elevation front-ends
}

// Elevator runs a shell script with administrator rights through the
// OS elevation mechanism, prompting the operator at most once per call.
type Elevator struct {
	runner CommandRunner
}

// NewElevator creates an elevator using the real command runner.
func NewElevator() *Elevator {
	return &Elevator{runner: ExecRunner{}}
}

// NewElevatorWithRunner creates an elevator with an injected runner (for testing).
func NewElevatorWithRunner(r CommandRunner) *Elevator {
	return &Elevator{runner: r}
}

// RunShell submits the script as a single elevation request and returns
// the helper's combined output. A denied or cancelled prompt surfaces as
// an error from the elevation front-end.
func (e *Elevator) RunShell(script string) ([]byte, error) {
	switch runtime.GOOS {
	case "darwin":
		osa := fmt.Sprintf("do shell script %s with administrator privileges", appleScriptQuote(script))
		return e.runner.Output("osascript", "-e", osa)
	case "linux":
		return e.runner.Output("pkexec", "sh", "-c", script)
	default:
		return nil, fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// ShellQuote wraps s in single quotes for safe interpolation into a
// shell command. Every dynamic segment of an elevated command (paths,
// usernames) must pass through here.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// appleScriptQuote produces an AppleScript string literal for the
// osascript -e payload.
func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
