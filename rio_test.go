package libio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xnko/libio/internal/task"
)

func TestRunExecutesEntryAndStops(t *testing.T) {
	ranCh := make(chan struct{})
	go func() {
		err := Run(RunOptions{}, func(rt *Runtime, t *task.Task) {
			close(ranCh)
			rt.Stop()
		})
		require.NoError(t, err)
	}()

	select {
	case <-ranCh:
	case <-time.After(2 * time.Second):
		t.Fatal("entry never ran")
	}
}

func TestSpawnRunsConcurrentTask(t *testing.T) {
	doneCh := make(chan struct{}, 2)
	go Run(RunOptions{}, func(rt *Runtime, t *task.Task) {
		rt.Spawn(func(self *task.Task) {
			doneCh <- struct{}{}
		})
		doneCh <- struct{}{}
		rt.Spawn(func(self *task.Task) {
			rt.Stop()
		})
	})

	for i := 0; i < 2; i++ {
		select {
		case <-doneCh:
		case <-time.After(2 * time.Second):
			t.Fatal("spawned work never completed")
		}
	}
}

func TestMemoryStreamThroughRuntime(t *testing.T) {
	resultCh := make(chan string, 1)
	go Run(RunOptions{}, func(rt *Runtime, mainTask *task.Task) {
		s := NewMemoryStream()
		_, err := s.Write([]byte("round trip"))
		require.NoError(t, err)

		buf := make([]byte, len("round trip"))
		_, err = s.Read(buf, true)
		require.NoError(t, err)
		resultCh <- string(buf)
		rt.Stop()
	})

	select {
	case got := <-resultCh:
		require.Equal(t, "round trip", got)
	case <-time.After(2 * time.Second):
		t.Fatal("memory stream round trip never completed")
	}
}

func TestListenDialEcho(t *testing.T) {
	addrCh := make(chan string, 1)
	echoedCh := make(chan string, 1)

	go Run(RunOptions{}, func(rt *Runtime, mainTask *task.Task) {
		ln, err := rt.Listen("127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		addrCh <- addr

		rt.Spawn(func(self *task.Task) {
			conn, err := ln.Accept(self)
			require.NoError(t, err)
			buf := make([]byte, 5)
			n, err := conn.Read(buf, true)
			require.NoError(t, err)
			_, err = conn.Write(buf[:n])
			require.NoError(t, err)
			ln.Close()
		})

		rt.Spawn(func(self *task.Task) {
			conn, err := rt.Dial(self, addr, 2000)
			require.NoError(t, err)
			_, err = conn.Write([]byte("hello"))
			require.NoError(t, err)

			buf := make([]byte, 5)
			n, err := conn.Read(buf, true)
			require.NoError(t, err)
			echoedCh <- string(buf[:n])
			conn.Close()
			rt.Stop()
		})
	})

	select {
	case got := <-echoedCh:
		require.Equal(t, "hello", got)
	case <-time.After(3 * time.Second):
		t.Fatal("echo round trip never completed")
	}
}

func TestEventNotifyAcrossTasks(t *testing.T) {
	wokeCh := make(chan struct{})
	go Run(RunOptions{}, func(rt *Runtime, t *task.Task) {
		rt.Spawn(func(self *task.Task) {
			rt.WaitEvent(self, "rio-test-ready")
			close(wokeCh)
			rt.Stop()
		})
		rt.Spawn(func(self *task.Task) {
			rt.Sleep(self, 20)
			NotifyEvent("rio-test-ready")
		})
	})

	select {
	case <-wokeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("event notify never woke waiter")
	}
}
