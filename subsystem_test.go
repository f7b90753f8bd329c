package aiocompl

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSubsystem(t *testing.T) *Subsystem {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IoMgr = IoMgrSimple // deterministic in CI: no kernel ring dependency
	s, err := NewSubsystem(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Terminate()) })
	return s
}

func TestSubsystemCreateForFileAndWrite(t *testing.T) {
	s := newTestSubsystem(t)

	var status error
	done := make(chan struct{}, 1)
	tmpl, err := s.CreateDeviceTemplate("owner", func(owner any, task *Task, user any, st error) {
		status = st
		done <- struct{}{}
	}, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "disk.img")
	ep, err := s.CreateForFile(path, 0, tmpl)
	require.NoError(t, err)
	defer ep.Close()

	payload := []byte("subsystem round trip")
	_, err = ep.Write(0, []Segment{payload}, nil)
	require.NoError(t, err)
	select {
	case <-done:
		require.NoError(t, status)
	case <-time.After(3 * time.Second):
		t.Fatal("write never completed")
	}
}

func TestSubsystemSetBandwidthMaxCreatesGroupIfMissing(t *testing.T) {
	s := newTestSubsystem(t)
	require.Nil(t, s.bandwidthManager("fresh"))
	require.NoError(t, s.SetBandwidthMax("fresh", 1<<20))
	require.NotNil(t, s.bandwidthManager("fresh"))
}

func TestSubsystemDestroyTemplateBusy(t *testing.T) {
	s := newTestSubsystem(t)
	tmpl, err := s.CreateInternalTemplate(nil, nil, nil)
	require.NoError(t, err)
	tmpl.retain()

	err = s.DestroyTemplate(tmpl)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeBusy))
}

func TestEndpointSetBandwidthManagerNotFound(t *testing.T) {
	s := newTestSubsystem(t)
	path := filepath.Join(t.TempDir(), "disk.img")
	ep, err := s.CreateForFile(path, 0, nil)
	require.NoError(t, err)
	defer ep.Close()

	err = ep.SetBandwidthManager("does-not-exist")
	require.Error(t, err)
	require.True(t, IsCode(err, CodeNotFound))
}
