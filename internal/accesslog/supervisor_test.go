package accesslog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeElevator struct {
	scripts []string
	err     error
}

func (f *fakeElevator) RunShell(script string) ([]byte, error) {
	f.scripts = append(f.scripts, script)
	return nil, f.err
}

func newTestSupervisor(t *testing.T, elev *fakeElevator) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	loggerPath := filepath.Join(dir, "sitelogd")
	require.NoError(t, os.WriteFile(loggerPath, []byte("#!/bin/sh\nsleep 1\n"), 0o755))
	s := NewSupervisor(dir,
		WithLoggerPath(loggerPath),
		WithElevator(elev))
	s.staging = filepath.Join(dir, "staged-sitelogd")
	return s
}

func TestIsProcessAlive(t *testing.T) {
	assert.False(t, IsProcessAlive(0))
	assert.False(t, IsProcessAlive(-5))
	assert.True(t, IsProcessAlive(os.Getpid()))
	// Pid far above any default pid_max.
	assert.False(t, IsProcessAlive(99999999))
}

func TestIsRunning(t *testing.T) {
	t.Run("no pid file", func(t *testing.T) {
		s := newTestSupervisor(t, &fakeElevator{})
		assert.False(t, s.IsRunning())
	})

	t.Run("malformed pid file", func(t *testing.T) {
		s := newTestSupervisor(t, &fakeElevator{})
		require.NoError(t, os.WriteFile(s.PidPath(), []byte("not a pid"), 0o644))
		assert.False(t, s.IsRunning())
	})

	t.Run("dead pid", func(t *testing.T) {
		s := newTestSupervisor(t, &fakeElevator{})
		require.NoError(t, os.WriteFile(s.PidPath(), []byte("99999999"), 0o644))
		assert.False(t, s.IsRunning())
	})

	t.Run("live pid verified as logger", func(t *testing.T) {
		s := newTestSupervisor(t, &fakeElevator{})
		require.NoError(t, os.WriteFile(s.PidPath(), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644))
		s.verify = func(int) bool { return true }
		assert.True(t, s.IsRunning())
	})

	t.Run("live pid recycled by another process", func(t *testing.T) {
		s := newTestSupervisor(t, &fakeElevator{})
		require.NoError(t, os.WriteFile(s.PidPath(), []byte(fmt.Sprintf("%d", os.Getpid())), 0o644))
		// The test binary is alive but is not the logger.
		assert.False(t, s.IsRunning())
	})
}

func TestStartStep(t *testing.T) {
	elev := &fakeElevator{}
	s := newTestSupervisor(t, elev)

	step, ok := s.StartStep()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(step, "su "))
	assert.Contains(t, step, s.staging)
	assert.Contains(t, step, "echo $!")
	assert.Contains(t, step, PidFileName)

	staged, err := os.ReadFile(s.staging)
	require.NoError(t, err)
	assert.Contains(t, string(staged), "sleep 1")
}

func TestStartStepMissingExecutable(t *testing.T) {
	s := NewSupervisor(t.TempDir(),
		WithLoggerPath("/nonexistent/sitelogd"),
		WithElevator(&fakeElevator{}))

	_, ok := s.StartStep()
	assert.False(t, ok)
}

func TestStopStep(t *testing.T) {
	s := newTestSupervisor(t, &fakeElevator{})

	step := s.StopStep()
	assert.Contains(t, step, "kill $(cat ")
	assert.Contains(t, step, "rm -f ")
	assert.Contains(t, step, s.PidPath())
}

func TestEnsureRunning(t *testing.T) {
	t.Run("starts when not running", func(t *testing.T) {
		elev := &fakeElevator{}
		s := newTestSupervisor(t, elev)

		s.EnsureRunning()
		require.Len(t, elev.scripts, 1)
		assert.Contains(t, elev.scripts[0], s.staging)
	})

	t.Run("no-op when already running", func(t *testing.T) {
		elev := &fakeElevator{}
		s := newTestSupervisor(t, elev)
		require.NoError(t, os.WriteFile(s.PidPath(), []byte(fmt.Sprintf("%d", os.Getpid())), 0o644))
		s.verify = func(int) bool { return true }

		s.EnsureRunning()
		assert.Empty(t, elev.scripts)
	})

	t.Run("start failure is swallowed", func(t *testing.T) {
		elev := &fakeElevator{err: errors.New("user canceled")}
		s := newTestSupervisor(t, elev)

		s.EnsureRunning()
		assert.Len(t, elev.scripts, 1)
	})
}

func TestEnsureStopped(t *testing.T) {
	t.Run("no-op when not running", func(t *testing.T) {
		elev := &fakeElevator{}
		s := newTestSupervisor(t, elev)

		s.EnsureStopped()
		assert.Empty(t, elev.scripts)
	})

	t.Run("stops a running logger", func(t *testing.T) {
		elev := &fakeElevator{}
		s := newTestSupervisor(t, elev)
		require.NoError(t, os.WriteFile(s.PidPath(), []byte(fmt.Sprintf("%d", os.Getpid())), 0o644))
		s.verify = func(int) bool { return true }

		s.EnsureStopped()
		require.Len(t, elev.scripts, 1)
		assert.Contains(t, elev.scripts[0], "kill $(cat ")
	})
}
