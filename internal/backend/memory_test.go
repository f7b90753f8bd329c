package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryReadWriteRoundTrip(t *testing.T) {
	m := NewMemory(1 << 20)
	payload := []byte("data")
	n, err := m.WriteAt(payload, 4096)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = m.ReadAt(buf, 4096)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestMemoryReadPastEndReturnsZero(t *testing.T) {
	m := NewMemory(1024)
	buf := make([]byte, 16)
	n, err := m.ReadAt(buf, 2048)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMemoryWritePastEndErrors(t *testing.T) {
	m := NewMemory(1024)
	_, err := m.WriteAt([]byte("x"), 2048)
	require.Error(t, err)
}

func TestMemorySetSizeGrowsAndPreservesData(t *testing.T) {
	m := NewMemory(1024)
	_, err := m.WriteAt([]byte("preserved"), 0)
	require.NoError(t, err)

	require.NoError(t, m.SetSize(1<<20))
	require.Equal(t, int64(1<<20), m.Size())

	buf := make([]byte, len("preserved"))
	_, err = m.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "preserved", string(buf))
}

func TestMemorySetSizeShrinkTruncatesData(t *testing.T) {
	m := NewMemory(1 << 20)
	require.NoError(t, m.SetSize(512))
	require.Equal(t, int64(512), m.Size())
}

func TestMemoryCrossShardReadWrite(t *testing.T) {
	m := NewMemory(shardSize * 3)
	payload := make([]byte, shardSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	off := shardSize - 100
	_, err := m.WriteAt(payload, int64(off))
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	_, err = m.ReadAt(buf, int64(off))
	require.NoError(t, err)
	require.Equal(t, payload, buf)
}
