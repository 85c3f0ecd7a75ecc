package mpscq

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFIFOSingleProducer(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	got := q.DrainAll()
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestMultiProducerAllDelivered(t *testing.T) {
	q := New[int]()
	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	all := q.DrainAll()
	require.Len(t, all, producers*perProducer)
	sort.Ints(all)
	for i, v := range all {
		require.Equal(t, i, v)
	}
}

func TestWaitBlocksUntilPush(t *testing.T) {
	q := New[string]()
	done := make(chan []string, 1)
	go func() {
		items, ok := q.Wait()
		require.True(t, ok)
		done <- items
	}()

	q.Push("hello")
	items := <-done
	require.Equal(t, []string{"hello"}, items)
}

func TestCloseUnblocksWait(t *testing.T) {
	q := New[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Wait()
		done <- ok
	}()
	q.Close()
	require.False(t, <-done)
	require.False(t, q.Push(1))
}

func TestTryPopEmpty(t *testing.T) {
	q := New[int]()
	_, ok := q.TryPop()
	require.False(t, ok)

	q.Push(42)
	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 42, v)
}
