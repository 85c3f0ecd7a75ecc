package eventsvc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xnko/libio/internal/looprt"
	"github.com/xnko/libio/internal/task"
)

func newTestLoop(t *testing.T) *looprt.Loop {
	t.Helper()
	l, err := looprt.New()
	require.NoError(t, err)
	go l.Run()
	t.Cleanup(func() {
		l.Stop()
		<-l.Stopped()
		l.Close()
	})
	return l
}

func TestNotifyWakesOneWaiter(t *testing.T) {
	svc := New()
	defer svc.Close()

	loop := newTestLoop(t)

	wokeCh := make(chan struct{})
	tk := task.New(func(self *task.Task, arg any) {
		svc.Wait(loop, self, "ready")
		close(wokeCh)
	}, nil)
	loop.Post(func() { tk.Run(nil) })

	time.Sleep(20 * time.Millisecond)
	svc.Notify("ready")

	select {
	case <-wokeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestNotifyAllWakesEveryWaiter(t *testing.T) {
	svc := New()
	defer svc.Close()

	loop := newTestLoop(t)

	const n = 5
	wokeCh := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		tk := task.New(func(self *task.Task, arg any) {
			svc.Wait(loop, self, "barrier")
			wokeCh <- struct{}{}
		}, nil)
		loop.Post(func() { tk.Run(nil) })
	}

	time.Sleep(30 * time.Millisecond)
	svc.NotifyAll("barrier")

	for i := 0; i < n; i++ {
		select {
		case <-wokeCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d/%d waiters woke", i, n)
		}
	}
}

func TestDeleteWakesWaitersWithoutNotify(t *testing.T) {
	svc := New()
	defer svc.Close()

	loop := newTestLoop(t)

	wokeCh := make(chan struct{})
	tk := task.New(func(self *task.Task, arg any) {
		svc.Wait(loop, self, "doomed")
		close(wokeCh)
	}, nil)
	loop.Post(func() { tk.Run(nil) })

	time.Sleep(20 * time.Millisecond)
	svc.Delete("doomed")

	select {
	case <-wokeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke after delete")
	}
}

func TestNotifyWithNoWaitersIsNoop(t *testing.T) {
	svc := New()
	defer svc.Close()
	svc.Notify("nobody-waiting")
	time.Sleep(20 * time.Millisecond)
}

// TestConcurrentNotifyAllReturn checks that Notify's ack-blocking doesn't
// deadlock when many callers hit the dispatcher at once — each call must
// still return once its own command is applied, not hang waiting on
// someone else's ack.
func TestConcurrentNotifyAllReturn(t *testing.T) {
	svc := New()
	defer svc.Close()

	loop := newTestLoop(t)

	const n = 8
	wokeCh := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		name := "ready"
		tk := task.New(func(self *task.Task, arg any) {
			svc.Wait(loop, self, name)
			wokeCh <- struct{}{}
		}, nil)
		loop.Post(func() { tk.Run(nil) })
	}
	time.Sleep(20 * time.Millisecond)

	doneCh := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			svc.Notify("ready")
			doneCh <- struct{}{}
		}()
	}

	for i := 0; i < n; i++ {
		select {
		case <-doneCh:
		case <-time.After(2 * time.Second):
			t.Fatal("a concurrent Notify call never returned")
		}
	}
	for i := 0; i < n; i++ {
		select {
		case <-wokeCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d/%d waiters woke", i, n)
		}
	}
}
