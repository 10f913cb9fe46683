package hosts

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlusher_FlushStep_ExplicitMethods(t *testing.T) {
	tests := []struct {
		method   FlushMethod
		expected string
	}{
		{FlushMethodDscacheutil, "dscacheutil -flushcache"},
		{FlushMethodKillall, "killall -HUP mDNSResponder"},
		{FlushMethodSystemd, "resolvectl flush-caches"},
		{FlushMethodNscd, "nscd -i hosts"},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			assert.Equal(t, tt.expected, NewFlusher(tt.method).FlushStep())
		})
	}
}

func TestFlusher_DefaultsToAuto(t *testing.T) {
	f := NewFlusher("")
	assert.Equal(t, FlushMethodAuto, f.method)
}

func TestFlusher_RestartStep(t *testing.T) {
	step := NewFlusher(FlushMethodDscacheutil).RestartStep()

	switch runtime.GOOS {
	case "darwin":
		assert.Equal(t, "killall -HUP mDNSResponder", step)
	case "linux":
		// Non-systemd method needs no resolver restart.
		assert.Empty(t, step)
	}
}

func TestFlusher_SystemdRestartStep(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("systemd restart only composed on linux")
	}
	assert.Equal(t, "systemctl try-restart systemd-resolved", NewFlusher(FlushMethodSystemd).RestartStep())
}

func TestFlusher_Flush(t *testing.T) {
	runner := &recordingRunner{}
	f := NewFlusherWithRunner(FlushMethodNscd, runner)

	require.NoError(t, f.Flush())
	assert.Equal(t, "sh", runner.name)
	assert.Equal(t, []string{"-c", "nscd -i hosts"}, runner.args)
}

func TestFlusher_Flush_SurfacesCommandOutput(t *testing.T) {
	runner := &recordingRunner{out: []byte("nscd: not running\n"), err: errors.New("exit status 1")}
	f := NewFlusherWithRunner(FlushMethodNscd, runner)

	err := f.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nscd: not running")
}

func TestFlusher_Flush_NoCommandNeeded(t *testing.T) {
	runner := &recordingRunner{err: errors.New("should not run")}
	f := NewFlusherWithRunner(FlushMethod("none"), runner)

	require.NoError(t, f.Flush())
	assert.Empty(t, runner.name)
}
