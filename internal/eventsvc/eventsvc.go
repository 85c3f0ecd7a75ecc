// Package eventsvc implements the process-wide named-event service: any
// task on any loop can wait on a name, and any task on any loop can notify
// it, the pairing resolved by a single dispatcher goroutine reading commands
// off an MPSC queue — one dispatcher per process, not per loop, since
// events are meant to cross loop/thread boundaries.
//
// Grounded on internal/mpscq (the same command-queue-drained-by-one-goroutine
// shape as the loop's own inbox) for the command channel, and on go-ublk's
// Runner pattern of "state lives in exactly one goroutine, everyone else
// talks to it through a queue" for why this isn't guarded by a mutex
// instead.
package eventsvc

import (
	"github.com/xnko/libio/internal/looprt"
	"github.com/xnko/libio/internal/mpscq"
	"github.com/xnko/libio/internal/task"
)

type cmdKind int

const (
	cmdWait cmdKind = iota
	cmdNotifyOne
	cmdNotifyAll
	cmdDelete
)

type command struct {
	kind cmdKind
	name string
	task *task.Task
	loop *looprt.Loop
	// ack, when non-nil, is closed by apply once the command has been
	// applied — Notify/NotifyAll/Delete block the calling goroutine on it
	// so the caller observes a dispatched command, not just a queued one.
	ack chan struct{}
}

type waitEntry struct {
	task *task.Task
	loop *looprt.Loop
}

// Service is the single process-wide dispatcher. The zero value is not
// usable; construct with New.
type Service struct {
	cmds    *mpscq.Queue[command]
	waiters map[string][]*waitEntry
}

// New starts the dispatcher goroutine and returns a handle to it.
func New() *Service {
	s := &Service{
		cmds:    mpscq.New[command](),
		waiters: make(map[string][]*waitEntry),
	}
	go s.run()
	return s
}

func (s *Service) run() {
	for {
		cmds, ok := s.cmds.Wait()
		if !ok {
			return
		}
		for _, c := range cmds {
			s.apply(c)
		}
	}
}

func (s *Service) apply(c command) {
	switch c.kind {
	case cmdWait:
		s.waiters[c.name] = append(s.waiters[c.name], &waitEntry{task: c.task, loop: c.loop})
	case cmdNotifyOne:
		entries := s.waiters[c.name]
		if len(entries) > 0 {
			e := entries[0]
			if len(entries) == 1 {
				delete(s.waiters, c.name)
			} else {
				s.waiters[c.name] = entries[1:]
			}
			wake(e)
		}
	case cmdNotifyAll:
		entries := s.waiters[c.name]
		delete(s.waiters, c.name)
		for _, e := range entries {
			wake(e)
		}
	case cmdDelete:
		entries := s.waiters[c.name]
		delete(s.waiters, c.name)
		for _, e := range entries {
			wake(e)
		}
	}
	if c.ack != nil {
		close(c.ack)
	}
}

func wake(e *waitEntry) {
	e.loop.Post(func() {
		e.task.Run(nil)
	})
}

// Wait registers the calling task as a waiter on name and suspends it until
// a matching Notify/NotifyAll/Delete wakes it.
func (s *Service) Wait(loop *looprt.Loop, t *task.Task, name string) {
	s.cmds.Push(command{kind: cmdWait, name: name, task: t, loop: loop})
	t.Yield(nil)
}

// Notify wakes at most one task currently waiting on name, FIFO. It blocks
// the calling goroutine until the dispatcher has actually applied the
// command, not merely queued it.
func (s *Service) Notify(name string) {
	s.dispatch(command{kind: cmdNotifyOne, name: name})
}

// NotifyAll wakes every task currently waiting on name, blocking the caller
// until the dispatcher has applied it.
func (s *Service) NotifyAll(name string) {
	s.dispatch(command{kind: cmdNotifyAll, name: name})
}

// Delete wakes every waiter on name (so none block forever) and forgets it,
// blocking the caller until the dispatcher has applied it.
func (s *Service) Delete(name string) {
	s.dispatch(command{kind: cmdDelete, name: name})
}

// dispatch pushes c with a fresh ack channel and blocks the calling
// goroutine until the dispatcher closes it.
func (s *Service) dispatch(c command) {
	ack := make(chan struct{})
	c.ack = ack
	s.cmds.Push(c)
	<-ack
}

// Close stops the dispatcher goroutine. Any still-registered waiters are
// left to block forever; callers should Delete their names before Close.
func (s *Service) Close() {
	s.cmds.Close()
}
