package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/behrlich/go-aiocompl/internal/backend"
	"github.com/behrlich/go-aiocompl/internal/bwmgr"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T, size int64) *backend.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	f, err := backend.OpenFile(path, false, 0)
	require.NoError(t, err)
	require.NoError(t, f.SetSize(size))
	t.Cleanup(func() { f.Close() })
	return f
}

func startNormal(t *testing.T, cfg NormalConfig) (*Normal, context.CancelFunc) {
	t.Helper()
	n, err := NewNormal(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	return n, cancel
}

// TestNormalAlignedSingleSegmentWrite is spec.md §8 scenario 1.
func TestNormalAlignedSingleSegmentWrite(t *testing.T) {
	f := newTestFile(t, 0)
	require.NoError(t, f.SetSize(4096))
	ep := NewEndpointState(1, "disk.img", f, 0, 4, 4096)

	n, cancel := startNormal(t, NormalConfig{ActiveRequestMax: 64})
	defer cancel()
	n.AddEndpoint(ep)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = 'A'
	}

	done := make(chan error, 1)
	ep.NewTasks.Push(&Job{Kind: KindWrite, Offset: 0, Buf: payload, OnDone: func(n int, err error) { done <- err }})
	n.Wake()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for write completion")
	}

	buf := make([]byte, 4096)
	_, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, payload, buf)

	n.Shutdown()
}

// TestNormalOverlappingWritesAreSerialized is spec.md §8 scenario 3.
// W1 uses a misaligned offset, so it is entered into the range tree and
// W2 (aligned, but overlapping while a misaligned range is active)
// takes the tree-based slow path too instead of the fast path that
// bypasses the tree, per rangelock.Table.TryLock.
func TestNormalOverlappingWritesAreSerialized(t *testing.T) {
	f := newTestFile(t, 1<<20)
	ep := NewEndpointState(1, "disk.img", f, 512, 4, 4096)

	n, cancel := startNormal(t, NormalConfig{ActiveRequestMax: 64})
	defer cancel()
	n.AddEndpoint(ep)

	var order []string
	doneW1 := make(chan struct{})
	doneW2 := make(chan struct{})

	w1 := &Job{Kind: KindWrite, Offset: 100, Buf: make([]byte, 8192), OnDone: func(n int, err error) {
		order = append(order, "W1")
		close(doneW1)
	}}
	w2 := &Job{Kind: KindWrite, Offset: 4096, Buf: make([]byte, 8192), OnDone: func(n int, err error) {
		order = append(order, "W2")
		close(doneW2)
	}}

	ep.NewTasks.Push(w1)
	n.Wake()
	ep.NewTasks.Push(w2)
	n.Wake()

	select {
	case <-doneW1:
	case <-time.After(3 * time.Second):
		t.Fatal("W1 never completed")
	}
	select {
	case <-doneW2:
	case <-time.After(3 * time.Second):
		t.Fatal("W2 never completed")
	}

	require.Equal(t, []string{"W1", "W2"}, order)
	n.Shutdown()
}

// TestNormalFatalErrorSurfacesImmediately is spec.md §8's fatal-error
// fast path: a fatal classification never triggers migration.
func TestNormalFatalErrorSurfacesImmediately(t *testing.T) {
	f := newTestFile(t, 4096)
	ep := NewEndpointState(1, "disk.img", f, 0, 4, 4096)

	migrated := false
	n, cancel := startNormal(t, NormalConfig{
		ActiveRequestMax: 64,
		IsFatal:          func(error) bool { return true },
		OnMigrate:        func(ep *EndpointState) { migrated = true },
	})
	defer cancel()
	n.AddEndpoint(ep)

	done := make(chan error, 1)
	// fd -1 guarantees a failure from the syscall layer.
	badEp := NewEndpointState(2, "bad.img", &failingBackend{}, 0, 4, 4096)
	n.AddEndpoint(badEp)
	badEp.NewTasks.Push(&Job{Kind: KindWrite, Offset: 0, Buf: []byte("x"), OnDone: func(n int, err error) { done <- err }})
	n.Wake()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	require.False(t, migrated)
	n.Shutdown()
}

type failingBackend struct{ backend.File }

func (b *failingBackend) FD() int { return -1 }

func (b *failingBackend) ReadAt(p []byte, off int64) (int, error)  { return 0, errFailing }
func (b *failingBackend) WriteAt(p []byte, off int64) (int, error) { return 0, errFailing }
func (b *failingBackend) Size() int64                              { return 0 }
func (b *failingBackend) Close() error                             { return nil }
func (b *failingBackend) Flush() error                             { return errFailing }
func (b *failingBackend) SetSize(int64) error                      { return nil }

var errFailing = errors.New("injected failure")

// readOnlyFileBackend opens path O_RDONLY: WriteAt fails with EBADF
// while ReadAt and FD still work, letting a test force one real
// non-fatal write failure alongside one real in-flight read on the
// same endpoint.
type readOnlyFileBackend struct{ f *os.File }

func newReadOnlyFileBackend(t *testing.T, path string, size int64) *readOnlyFileBackend {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return &readOnlyFileBackend{f: f}
}

func (b *readOnlyFileBackend) ReadAt(p []byte, off int64) (int, error)  { return b.f.ReadAt(p, off) }
func (b *readOnlyFileBackend) WriteAt(p []byte, off int64) (int, error) { return b.f.WriteAt(p, off) }
func (b *readOnlyFileBackend) Size() int64 {
	fi, err := b.f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}
func (b *readOnlyFileBackend) Close() error       { return b.f.Close() }
func (b *readOnlyFileBackend) Flush() error       { return nil }
func (b *readOnlyFileBackend) SetSize(int64) error { return nil }
func (b *readOnlyFileBackend) FD() int            { return int(b.f.Fd()) }

// TestNormalMigratesOnlyAfterAllInFlightDrain is spec.md §8 scenario 5
// with a second sub-request still active when the non-fatal failure
// happens: migration must wait for that one to drain too, not fire (or
// get stuck forever) off the failing sub-request's own completion
// alone.
func TestNormalMigratesOnlyAfterAllInFlightDrain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	be := newReadOnlyFileBackend(t, path, 4096)
	ep := NewEndpointState(1, "disk.img", be, 0, 4, 4096)

	// The failing write is requeued and retried on the Failsafe manager
	// after migration, where it fails again and reaches OnDone.
	fs := NewFailsafe(FailsafeConfig{})
	fsCtx, fsCancel := context.WithCancel(context.Background())
	defer fsCancel()
	go fs.Run(fsCtx)

	var migrated atomic.Bool
	n, cancel := startNormal(t, NormalConfig{
		ActiveRequestMax: 64,
		IsFatal:          func(error) bool { return false },
		OnMigrate:        func(ep *EndpointState) { migrated.Store(true); fs.AddEndpoint(ep) },
	})
	defer cancel()
	n.AddEndpoint(ep)

	writeDone := make(chan error, 1)
	readDone := make(chan error, 1)

	// Both sub-requests are queued before the single Wake, so
	// queueEndpoint submits both before either one completes: two
	// sub-requests genuinely in flight together. Offsets don't overlap
	// so the two never contend on the same range lock.
	ep.NewTasks.Push(&Job{Kind: KindWrite, Offset: 0, Buf: []byte("x"), OnDone: func(n int, err error) { writeDone <- err }})
	ep.NewTasks.Push(&Job{Kind: KindRead, Offset: 2048, Buf: make([]byte, 4), OnDone: func(n int, err error) { readDone <- err }})
	n.Wake()

	select {
	case err := <-writeDone:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("write never completed")
	}
	select {
	case err := <-readDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("read never completed")
	}

	require.Eventually(t, migrated.Load, time.Second, 5*time.Millisecond)
	n.Shutdown()
}

func TestNormalBandwidthAdmitsWithinBudget(t *testing.T) {
	f := newTestFile(t, 1<<20)
	ep := NewEndpointState(1, "disk.img", f, 0, 4, 4096)
	bw := bwmgr.New(bwmgr.Config{Name: "g1", Max: 4096}, time.Now())
	ep.SetBandwidthManager(bw)

	n, cancel := startNormal(t, NormalConfig{ActiveRequestMax: 64})
	defer cancel()
	n.AddEndpoint(ep)

	done := make(chan error, 1)
	ep.NewTasks.Push(&Job{Kind: KindWrite, Offset: 0, Buf: make([]byte, 4096), OnDone: func(n int, err error) { done <- err }})
	n.Wake()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	n.Shutdown()
}
