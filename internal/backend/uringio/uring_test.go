package uringio

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubmitWriteThenRead(t *testing.T) {
	b, err := New(8)
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	defer b.Close()

	f, err := os.CreateTemp(t.TempDir(), "uringio-*")
	require.NoError(t, err)
	defer f.Close()

	fd := int(f.Fd())
	payload := []byte("hello uringio")

	require.NoError(t, b.SubmitWrite(fd, payload, 0, 1))
	require.NoError(t, b.Flush())

	c, err := b.WaitOne()
	require.NoError(t, err)
	require.Equal(t, uint64(1), c.Key)
	require.Equal(t, int32(len(payload)), c.Res)

	buf := make([]byte, len(payload))
	require.NoError(t, b.SubmitRead(fd, buf, 0, 2))
	require.NoError(t, b.Flush())

	c, err = b.WaitOne()
	require.NoError(t, err)
	require.Equal(t, uint64(2), c.Key)
	require.Equal(t, int32(len(payload)), c.Res)
	require.Equal(t, payload, buf)
}

func TestPeekReturnsEmptyWhenNothingCompleted(t *testing.T) {
	b, err := New(8)
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	defer b.Close()

	completions, err := b.Peek(8)
	require.NoError(t, err)
	require.Empty(t, completions)
}
