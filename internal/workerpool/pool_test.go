package workerpool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitRunsJobAndDeliversResult(t *testing.T) {
	p := New(2)
	defer p.Close()

	doneCh := make(chan struct{})
	p.Submit(func() (any, error) {
		return 42, nil
	}, func(v any, err error) {
		require.NoError(t, err)
		require.Equal(t, 42, v)
		close(doneCh)
	})

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("job never completed")
	}
}

func TestSubmitPropagatesError(t *testing.T) {
	p := New(1)
	defer p.Close()

	wantErr := errors.New("boom")
	doneCh := make(chan struct{})
	p.Submit(func() (any, error) {
		return nil, wantErr
	}, func(v any, err error) {
		require.ErrorIs(t, err, wantErr)
		close(doneCh)
	})

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("job never completed")
	}
}

func TestManyJobsAllComplete(t *testing.T) {
	p := New(4)
	defer p.Close()

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		p.Submit(func() (any, error) {
			return i, nil
		}, func(v any, err error) {
			require.NoError(t, err)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all jobs completed")
	}
}

func TestSubmitAfterCloseReturnsErrClosed(t *testing.T) {
	p := New(1)
	p.Close()

	doneCh := make(chan struct{})
	p.Submit(func() (any, error) { return nil, nil }, func(v any, err error) {
		require.ErrorIs(t, err, ErrClosed)
		close(doneCh)
	})
	<-doneCh
}

func TestBufferPoolRoundTrip(t *testing.T) {
	buf := GetBuffer(10000)
	require.Equal(t, 10000, len(buf))
	require.Equal(t, size16k, cap(buf))
	PutBuffer(buf)

	buf2 := GetBuffer(10000)
	require.Equal(t, 10000, len(buf2))
}
