// Package task implements a stackful-coroutine style of cooperative
// scheduling on top of a goroutine plus a pair of handoff channels, instead
// of hand-rolled CPU context switching. A similar translation shows up in
// go-ublk's queue.Runner: a per-tag state machine (TagStateInFlightFetch /
// Owned / InFlightCommit) advanced by a goroutine reading completion
// events, rather than manual register-level state capture.
package task

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Sentinel errors for this package's usage-error taxonomy.
var (
	ErrBusy     = errors.New("task: busy (cannot delete currently running task)")
	ErrAlready  = errors.New("task: already done")
	ErrDeadlock = errors.New("task: operation would deadlock (main task cannot yield/suspend)")
)

// State is a task's life cycle: new -> running <-> suspended -> done.
type State int32

const (
	StateNew State = iota
	StateRunning
	StateSuspended
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// EntryFunc is the body of a task. It receives the task itself (so it can
// call Suspend/Yield) and the caller-supplied argument.
type EntryFunc func(t *Task, arg any)

type handoff struct {
	value any
	done  bool
}

// Task is a cooperatively scheduled unit of work. The zero value is not
// usable; construct with New.
type Task struct {
	entry EntryFunc
	arg   any

	// Loop is an opaque owner reference (a *looprt.Loop in practice); task
	// never dereferences it, it only round-trips it for callers' bookkeeping.
	// The owning loop can change across a cross-thread post.
	Loop any

	// Parent records who last resumed this task.
	Parent *Task

	// Posted marks a task delivered via a cross-thread post: such tasks are
	// owned and freed by the loop once they finish, not by their creator.
	Posted bool

	// InheritErrorState marks that this task's error state should be
	// visible to its caller on return, the way a called subroutine's errno
	// would be observed by its caller in a single-threaded C program. Go has
	// no per-thread errno for this to apply to; the field is kept for
	// contract fidelity and is otherwise inert.
	InheritErrorState bool

	resumeCh chan any
	handoff  chan handoff

	mu      sync.Mutex
	started bool
	deleted bool
	state   atomic.Int32
}

// New allocates a Task. The task does not start running until the first
// call to Run.
func New(entry EntryFunc, arg any) *Task {
	t := &Task{
		entry:    entry,
		arg:      arg,
		resumeCh: make(chan any),
		handoff:  make(chan handoff, 1),
	}
	t.state.Store(int32(StateNew))
	return t
}

// State returns the task's current life-cycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// Done reports whether the task has finished running.
func (t *Task) Done() bool { return t.State() == StateDone }

// Delete releases the task. Returns ErrBusy if called while the task is
// currently executing (state Running): a task cannot delete itself.
func (t *Task) Delete() error {
	if t.State() == StateRunning {
		return ErrBusy
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = true
	return nil
}

// Run is the single primitive behind exec/post/resume: the first call
// starts the task's goroutine (passing resumeValue is meaningless then); any
// later call resumes a suspended task with resumeValue, which becomes that
// task's Suspend/Yield return value. Run blocks until the task next suspends
// or finishes, and returns either its yielded value or done=true.
//
// Run must only ever be called by the task's owning loop, and never
// concurrently with another Run call on the same Task: only the loop
// currently owning a task may swap into its context.
func (t *Task) Run(resumeValue any) (yielded any, done bool, err error) {
	t.mu.Lock()
	if t.state.Load() == int32(StateDone) {
		t.mu.Unlock()
		return nil, true, ErrAlready
	}
	first := !t.started
	if first {
		t.started = true
	}
	t.mu.Unlock()

	t.state.Store(int32(StateRunning))

	if first {
		go func() {
			defer func() {
				t.state.Store(int32(StateDone))
				t.handoff <- handoff{done: true}
			}()
			t.entry(t, t.arg)
		}()
	} else {
		t.resumeCh <- resumeValue
	}

	msg := <-t.handoff
	if msg.done {
		return nil, true, nil
	}
	t.state.Store(int32(StateSuspended))
	return msg.value, false, nil
}

// Yield suspends the calling task (must be called from within the task's own
// entry goroutine), handing value up to whoever called Run, and returns the
// value passed to the next Run call that resumes it.
func (t *Task) Yield(value any) any {
	t.handoff <- handoff{value: value}
	return <-t.resumeCh
}

// Suspend is Yield with no value, used by I/O primitives that only care
// about being woken up, not about a payload.
func (t *Task) Suspend() {
	t.Yield(nil)
}
