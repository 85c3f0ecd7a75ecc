// Package looprt implements the per-thread event loop: one epoll-backed
// reactor per OS thread, each owning its own timer sets, its own inbox of
// cross-thread work, and the tasks it is currently running or waiting on.
//
// Grounded on go-ublk's Runner.ioLoop (internal/queue/runner.go): pin to an
// OS thread with runtime.LockOSThread, then loop "drain pending work, poll
// for readiness, process what's ready" until told to stop. This package
// generalizes that shape from a single ublk queue's FETCH_REQ/COMMIT cycle
// to arbitrary registered waiters, backed by internal/backend/epollio
// instead of ublk's io_uring URING_CMD ring.
package looprt

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/xnko/libio/internal/backend/epollio"
	"github.com/xnko/libio/internal/backend/uringio"
	"github.com/xnko/libio/internal/mpscq"
	"github.com/xnko/libio/internal/task"
	"github.com/xnko/libio/internal/timerset"
)

// ErrTimedOut is returned by AwaitIO when its deadline moment fires before
// the fd becomes ready.
var ErrTimedOut = errors.New("looprt: operation timed out")

// maxEventsPerWait bounds one epoll_wait batch, mirroring the fixed-depth
// batching go-ublk's runner applies to FETCH_REQ completions.
const maxEventsPerWait = 256

// waiter ties a registered fd to the task that should resume when it fires,
// and optionally to the timeout moment racing against it.
type waiter struct {
	key     uint64
	task    *task.Task
	moment  *timerset.Moment
	timeout *timerset.Set
}

// Loop is a single-threaded reactor: create one per OS thread via New, call
// Run from the goroutine that is meant to own that thread (Run calls
// runtime.LockOSThread itself), and interact with it from other goroutines
// only through Post.
type Loop struct {
	backend *epollio.Backend

	sleeps   *timerset.Set
	idles    *timerset.Set
	timeouts *timerset.Set

	inbox *mpscq.Queue[func()]

	mu      sync.Mutex
	waiters map[uint64]*waiter
	nextKey uint64

	refCount int
	stopping bool
	stopped  chan struct{}

	// now is the loop's time source, overridable in tests.
	now func() int64

	uring             *uringio.Backend
	uringKey          uint64
	completionWaiters map[uint64]*task.Task
}

// New creates a Loop. The epoll instance and its wakeup eventfd are created
// immediately; Run must be called (on the thread that should be pinned)
// before the loop does any work.
func New() (*Loop, error) {
	backend, err := epollio.New()
	if err != nil {
		return nil, err
	}
	return &Loop{
		backend:  backend,
		sleeps:   timerset.New(),
		idles:    timerset.New(),
		timeouts: timerset.New(),
		inbox:    mpscq.New[func()](),
		waiters:  make(map[uint64]*waiter),
		stopped:  make(chan struct{}),
		now:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Backend exposes the loop's readiness backend so higher layers (stream,
// tcpio) can register/modify/remove fd interest directly.
func (l *Loop) Backend() *epollio.Backend { return l.backend }

// EnableURing creates this loop's io_uring instance (entries submission
// slots) and registers its completion eventfd with the epoll backend, so
// the same Run loop that dispatches readiness events also drains file I/O
// completions. Must be called before Run, at most once.
func (l *Loop) EnableURing(entries uint32) error {
	b, err := uringio.New(entries)
	if err != nil {
		return err
	}
	fd, err := b.EventFD()
	if err != nil {
		b.Close()
		return err
	}
	key := l.AllocKey()
	if err := l.backend.Add(fd, epollio.In, key); err != nil {
		b.Close()
		return err
	}
	l.uring = b
	l.uringKey = key
	l.completionWaiters = make(map[uint64]*task.Task)
	return nil
}

// URing exposes the loop's io_uring backend for direct SQE submission by
// higher layers (fileio); nil if EnableURing was never called.
func (l *Loop) URing() *uringio.Backend { return l.uring }

// SubmitURing registers the calling task as the waiter for one io_uring
// operation, invokes submit with the completion key to tag the SQE with,
// flushes the submission queue, and suspends the task until that
// operation's completion is dispatched.
func (l *Loop) SubmitURing(t *task.Task, submit func(key uint64) error) (uringio.Completion, error) {
	key := l.AllocKey()

	l.mu.Lock()
	l.completionWaiters[key] = t
	l.mu.Unlock()

	if err := submit(key); err != nil {
		l.mu.Lock()
		delete(l.completionWaiters, key)
		l.mu.Unlock()
		return uringio.Completion{}, err
	}
	if err := l.uring.Flush(); err != nil {
		l.mu.Lock()
		delete(l.completionWaiters, key)
		l.mu.Unlock()
		return uringio.Completion{}, err
	}

	result := t.Yield(nil)
	if c, ok := result.(uringio.Completion); ok {
		return c, nil
	}
	return uringio.Completion{}, nil
}

// AllocKey hands out a unique identifier for a new registration, used as the
// epoll user-data key and as the waiters map key.
func (l *Loop) AllocKey() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextKey++
	return l.nextKey
}

// Retain/Release implement the loop's liveness refcount: Stop only takes
// effect once every retained interest has been released, matching the "loop
// exits when it has no remaining work" contract of the run harness.
func (l *Loop) Retain() {
	l.mu.Lock()
	l.refCount++
	l.mu.Unlock()
}

func (l *Loop) Release() {
	l.mu.Lock()
	l.refCount--
	l.mu.Unlock()
	l.backend.Wake()
}

// Post schedules fn to run on the loop's own thread, safe to call from any
// goroutine. This is the loop's cross-thread entry point for non-task work.
func (l *Loop) Post(fn func()) {
	l.inbox.Push(fn)
	l.backend.Wake()
}

// AwaitIO registers fd for events and suspends the calling task (which must
// be running on this loop, inside its own entry goroutine) until either the
// fd becomes ready or, if deadlineMs is non-zero, the deadline passes first.
// Returns the ready epoll event mask, or an error (ErrTimedOut) on timeout.
func (l *Loop) AwaitIO(t *task.Task, fd int, events uint32, deadlineMs int64) (uint32, error) {
	key := l.AllocKey()
	w := &waiter{key: key, task: t}

	if deadlineMs > 0 {
		m := &timerset.Moment{Deadline: deadlineMs, TaskID: key}
		w.moment = m
		w.timeout = l.timeouts
		l.timeouts.Add(m)
	}

	l.mu.Lock()
	l.waiters[key] = w
	l.mu.Unlock()

	if err := l.backend.Add(fd, events, key); err != nil {
		l.mu.Lock()
		delete(l.waiters, key)
		l.mu.Unlock()
		return 0, err
	}

	result := t.Yield(nil)

	l.backend.Remove(fd)
	l.mu.Lock()
	delete(l.waiters, key)
	l.mu.Unlock()

	if res, ok := result.(ioResult); ok {
		if res.err != nil {
			return 0, res.err
		}
		return res.events, nil
	}
	return 0, nil
}

type ioResult struct {
	events uint32
	err    error
}

// SleepTask suspends the calling task until durationMs elapses.
func (l *Loop) SleepTask(t *task.Task, durationMs int64) {
	m := &timerset.Moment{Deadline: l.now() + durationMs, TaskID: t}
	l.sleeps.Add(m)
	t.Yield(nil)
}

// IdleTask suspends the calling task until at least afterMs have passed and
// the loop then completes an iteration with no readiness events and no inbox
// work, i.e. it is otherwise about to block.
func (l *Loop) IdleTask(t *task.Task, afterMs int64) {
	m := &timerset.Moment{Deadline: l.now() + afterMs, TaskID: t}
	l.idles.Add(m)
	t.Yield(nil)
}

// Stop requests the loop to exit once its refcount drains to zero.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopping = true
	l.mu.Unlock()
	l.backend.Wake()
}

// Stopped returns a channel closed once Run has returned.
func (l *Loop) Stopped() <-chan struct{} { return l.stopped }

// Run pins the calling goroutine's OS thread and executes the reactor body
// until Stop is called and the loop has no outstanding retained interest.
// Run must only ever be called once, from the goroutine meant to own this
// loop's thread.
func (l *Loop) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.stopped)

	for {
		l.mu.Lock()
		done := l.stopping && l.refCount == 0 && l.inbox.Len() == 0
		l.mu.Unlock()
		if done {
			return
		}

		timeoutMs := l.computeTimeoutMs()
		events, err := l.backend.Wait(timeoutMs, maxEventsPerWait)
		if err != nil {
			continue
		}

		now := l.now()

		jobs := l.inbox.DrainAll()
		for _, fn := range jobs {
			fn()
		}

		for _, ev := range events {
			l.dispatchReady(ev)
		}

		for _, m := range l.sleeps.Tick(now) {
			l.resumeSleep(m)
		}
		for _, m := range l.timeouts.Tick(now) {
			l.resumeTimeout(m)
		}

		if len(events) == 0 && len(jobs) == 0 {
			for _, m := range l.idles.Tick(now) {
				l.resumeSleep(m)
			}
		}
	}
}

func (l *Loop) dispatchReady(ev epollio.Event) {
	if l.uring != nil && ev.Key == l.uringKey {
		l.drainURing()
		return
	}

	l.mu.Lock()
	w, ok := l.waiters[ev.Key]
	l.mu.Unlock()
	if !ok {
		return
	}
	if w.moment != nil {
		w.timeout.Remove(w.moment)
	}
	l.resumeWaiter(w, ioResult{events: ev.Events})
}

func (l *Loop) drainURing() {
	completions, err := l.uring.Peek(maxEventsPerWait)
	if err != nil {
		return
	}
	for _, c := range completions {
		l.mu.Lock()
		t, ok := l.completionWaiters[c.Key]
		if ok {
			delete(l.completionWaiters, c.Key)
		}
		l.mu.Unlock()
		if !ok {
			continue
		}
		_, _, _ = t.Run(c)
	}
}

func (l *Loop) resumeTimeout(m *timerset.Moment) {
	key, ok := m.TaskID.(uint64)
	if !ok {
		return
	}
	l.mu.Lock()
	w, ok := l.waiters[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	l.resumeWaiter(w, ioResult{err: ErrTimedOut})
}

func (l *Loop) resumeWaiter(w *waiter, result ioResult) {
	_, done, _ := w.task.Run(result)
	if done {
		return
	}
}

func (l *Loop) resumeSleep(m *timerset.Moment) {
	t, ok := m.TaskID.(*task.Task)
	if !ok {
		return
	}
	_, _, _ = t.Run(nil)
}

// computeTimeoutMs returns how long epoll_wait should block: 0 if there is
// inbox work pending, the nearest of the three timer sets otherwise, or -1
// (block indefinitely) if nothing is scheduled.
func (l *Loop) computeTimeoutMs() int {
	if l.inbox.Len() > 0 {
		return 0
	}

	nearest := int64(0)
	for _, n := range []int64{l.sleeps.Nearest(), l.timeouts.Nearest(), l.idles.Nearest()} {
		if n == 0 {
			continue
		}
		if nearest == 0 || n < nearest {
			nearest = n
		}
	}
	if nearest == 0 {
		return -1
	}

	delta := nearest - l.now()
	if delta < 0 {
		return 0
	}
	if delta > 1<<30 {
		delta = 1 << 30
	}
	return int(delta)
}

// Close releases the loop's backend resources. Call only after Run returns.
func (l *Loop) Close() error {
	if l.uring != nil {
		l.uring.Close()
	}
	return l.backend.Close()
}
