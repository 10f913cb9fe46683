package hosts

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "'plain'"},
		{"/etc/hosts", "'/etc/hosts'"},
		{"with space", "'with space'"},
		{"o'brien", `'o'\''brien'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
		{"`whoami`", "'`whoami`'"},
		{"a;b&&c", "'a;b&&c'"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShellQuote(tt.input))
		})
	}
}

func TestAppleScriptQuote(t *testing.T) {
	assert.Equal(t, `"cp a b"`, appleScriptQuote("cp a b"))
	assert.Equal(t, `"say \"hi\""`, appleScriptQuote(`say "hi"`))
	assert.Equal(t, `"back\\slash"`, appleScriptQuote(`back\slash`))
}

type recordingRunner struct {
	name string
	args []string
	out  []byte
	err  error
}

func (r *recordingRunner) Output(name string, args ...string) ([]byte, error) {
	r.name = name
	r.args = args
	return r.out, r.err
}

func TestElevator_RunShell(t *testing.T) {
	runner := &recordingRunner{out: []byte("ok")}
	e := NewElevatorWithRunner(runner)

	out, err := e.RunShell("cp '/tmp/x' '/etc/hosts'")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))

	switch runtime.GOOS {
	case "darwin":
		assert.Equal(t, "osascript", runner.name)
		require.Len(t, runner.args, 2)
		assert.Equal(t, "-e", runner.args[0])
		assert.Contains(t, runner.args[1], "with administrator privileges")
		assert.Contains(t, runner.args[1], "cp '/tmp/x' '/etc/hosts'")
	case "linux":
		assert.Equal(t, "pkexec", runner.name)
		require.Len(t, runner.args, 3)
		assert.Equal(t, "sh", runner.args[0])
		assert.Equal(t, "-c", runner.args[1])
		assert.Equal(t, "cp '/tmp/x' '/etc/hosts'", runner.args[2])
	}
}
