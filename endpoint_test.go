package aiocompl

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/behrlich/go-aiocompl/internal/backend"
	"github.com/behrlich/go-aiocompl/internal/manager"
	"github.com/stretchr/testify/require"
)

// newTestEndpoint builds an Endpoint wired to a Failsafe manager
// running against a real temp file, for endpoint-level tests that
// don't need a full Subsystem.
func newTestEndpoint(t *testing.T, size int64, readOnly bool) (*Endpoint, *manager.Failsafe, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	be, err := backend.OpenFile(path, false, 0)
	require.NoError(t, err)
	require.NoError(t, be.SetSize(size))

	state := manager.NewEndpointState(1, "disk.img", be, 0, 4, 4096)
	fs := manager.NewFailsafe(manager.FailsafeConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go fs.Run(ctx)
	fs.AddEndpoint(state)

	ep := &Endpoint{
		id:       1,
		path:     path,
		readOnly: readOnly,
		backend:  be,
		state:    state,
		stats:    NewStats(time.Now()),
	}
	ep.cachedSize.Store(be.Size())
	ep.setManager(fs)

	return ep, fs, cancel
}

func TestEndpointReadPastEndReturnsEOF(t *testing.T) {
	ep, _, cleanup := newTestEndpoint(t, 4096, false)
	defer cleanup()

	_, err := ep.Read(4096, []Segment{make([]byte, 1)}, nil)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeEOF))
}

func TestEndpointWriteToReadOnlyFails(t *testing.T) {
	ep, _, cleanup := newTestEndpoint(t, 4096, true)
	defer cleanup()

	_, err := ep.Write(0, []Segment{make([]byte, 1)}, nil)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeNotSupported))
}

func TestEndpointWritePastEndGrowsSize(t *testing.T) {
	ep, _, cleanup := newTestEndpoint(t, 4096, false)
	defer cleanup()

	done := make(chan error, 1)
	tmpl := newTemplate(TemplateDevice, nil, func(owner any, task *Task, user any, status error) {
		done <- status
	}, nil)
	ep.tmpl = tmpl

	_, err := ep.Write(4096, []Segment{make([]byte, 512)}, nil)
	require.NoError(t, err)

	select {
	case werr := <-done:
		require.NoError(t, werr)
	case <-time.After(3 * time.Second):
		t.Fatal("write never completed")
	}

	require.Equal(t, int64(4608), ep.GetSize())
}

func TestEndpointReadWriteRoundTrip(t *testing.T) {
	ep, _, cleanup := newTestEndpoint(t, 4096, false)
	defer cleanup()

	payload := []byte("hello, aiocompl")
	writeDone := make(chan error, 1)
	ep.tmpl = newTemplate(TemplateDevice, nil, func(owner any, task *Task, user any, status error) {
		writeDone <- status
	}, nil)

	_, err := ep.Write(0, []Segment{payload}, "w1")
	require.NoError(t, err)
	select {
	case err := <-writeDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("write never completed")
	}

	readBuf := make([]byte, len(payload))
	readDone := make(chan error, 1)
	ep.tmpl = newTemplate(TemplateDevice, nil, func(owner any, task *Task, user any, status error) {
		readDone <- status
	}, nil)
	_, err = ep.Read(0, []Segment{readBuf}, "r1")
	require.NoError(t, err)
	select {
	case err := <-readDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("read never completed")
	}

	require.Equal(t, payload, readBuf)
}
