package backend

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.img")
	f, err := OpenFile(path, false, 0)
	require.NoError(t, err)
	defer f.Close()

	payload := []byte("hello file backend")
	_, err = f.WriteAt(payload, 0)
	require.NoError(t, err)
	require.NoError(t, f.Flush())

	buf := make([]byte, len(payload))
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, payload, buf)
}

func TestFileSetSizeTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.img")
	f, err := OpenFile(path, false, 0)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.SetSize(1<<20))
	require.Equal(t, int64(1<<20), f.Size())
}

func TestFileNonDirectHasNoAlignmentConstraint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.img")
	f, err := OpenFile(path, false, 0)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, 1, f.Alignment())
}
