package aiocompl

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newDebugSubsystem(t *testing.T) *Subsystem {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IoMgr = IoMgrSimple
	cfg.EnableDebugHooks = true
	s, err := NewSubsystem(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Terminate()) })
	return s
}

func TestInjectErrorUnknownFileReportsNotFound(t *testing.T) {
	s := newDebugSubsystem(t)
	reply := s.handleDebugCommand("injecterror read missing.img badstate")
	require.Equal(t, "No file with name missing.img found", reply)
}

func TestInjectErrorAppliesToNextMatchingOp(t *testing.T) {
	s := newDebugSubsystem(t)
	path := filepath.Join(t.TempDir(), "disk.img")
	ep, err := s.CreateForFile(path, 0, nil)
	require.NoError(t, err)
	defer ep.Close()

	reply := s.handleDebugCommand("injecterror write disk.img 3") // 3 == CodeBusy, see debugStatusCodes
	require.Equal(t, "OK", reply)

	done := make(chan error, 1)
	ep.tmpl = newTemplate(TemplateDevice, nil, func(owner any, task *Task, user any, status error) {
		done <- status
	}, nil)

	_, err = ep.Write(0, []Segment{make([]byte, 16)}, nil)
	require.NoError(t, err)

	select {
	case werr := <-done:
		require.Error(t, werr)
		require.True(t, IsCode(werr, CodeBusy))
	case <-time.After(3 * time.Second):
		t.Fatal("write never completed")
	}

	// injected error is single-shot: the second write should succeed.
	done2 := make(chan error, 1)
	ep.tmpl = newTemplate(TemplateDevice, nil, func(owner any, task *Task, user any, status error) {
		done2 <- status
	}, nil)
	_, err = ep.Write(0, []Segment{make([]byte, 16)}, nil)
	require.NoError(t, err)
	select {
	case werr := <-done2:
		require.NoError(t, werr)
	case <-time.After(3 * time.Second):
		t.Fatal("second write never completed")
	}
}

func TestInjectErrorRejectsBadStatusCode(t *testing.T) {
	s := newDebugSubsystem(t)
	path := filepath.Join(t.TempDir(), "disk.img")
	ep, err := s.CreateForFile(path, 0, nil)
	require.NoError(t, err)
	defer ep.Close()

	reply := s.handleDebugCommand("injecterror write disk.img notanumber")
	require.Equal(t, "ERR statusCode must be an integer", reply)

	reply = s.handleDebugCommand("injecterror write disk.img 999")
	require.Equal(t, "ERR statusCode 999 out of range", reply)
}

func TestInjectDelayAddsLatency(t *testing.T) {
	s := newDebugSubsystem(t)
	path := filepath.Join(t.TempDir(), "disk.img")
	ep, err := s.CreateForFile(path, 0, nil)
	require.NoError(t, err)
	defer ep.Close()

	reply := s.handleDebugCommand("injectdelay write disk.img 50 0 1")
	require.Equal(t, "OK", reply)

	done := make(chan error, 1)
	ep.tmpl = newTemplate(TemplateDevice, nil, func(owner any, task *Task, user any, status error) {
		done <- status
	}, nil)

	start := time.Now()
	_, err = ep.Write(0, []Segment{make([]byte, 16)}, nil)
	require.NoError(t, err)

	select {
	case werr := <-done:
		require.NoError(t, werr)
		require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("write never completed")
	}
}

func TestHandleDebugCommandUnknown(t *testing.T) {
	s := newDebugSubsystem(t)
	reply := s.handleDebugCommand("bogus command")
	require.Contains(t, reply, "ERR")
}
