// Package uringio wraps github.com/pawelgaczynski/giouring into the
// completion-style backend the file stream uses for async reads/writes —
// the Linux analogue of an IOCP completion queue. Submitted operations
// complete asynchronously; callers
// learn about completions either by polling Peek or, for the steady-state
// loop, by registering the ring's eventfd with an epollio.Backend so a
// single epoll_wait drains both readiness and completion events.
//
// Grounded on go-ublk's internal/uring package, which wraps an io_uring
// instance behind a small Ring/Result interface pair (SubmitXCmd + Result);
// this package keeps that submit/complete shape but drops the ublk-specific
// URING_CMD opcode in favor of plain read/write/close/fsync, since nothing
// here talks to a ublk character device.
package uringio

import (
	"fmt"
	"sync"

	"github.com/pawelgaczynski/giouring"
)

// Completion reports the outcome of one submitted operation.
type Completion struct {
	Key uint64
	Res int32
	Err error
}

// Backend owns one io_uring instance. Every method takes an internal mutex,
// so calls from several goroutines are serialized one at a time.
type Backend struct {
	mu   sync.Mutex
	ring *giouring.Ring
}

// New creates a ring with room for entries in-flight submissions.
func New(entries uint32) (*Backend, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("io_uring setup: %w", err)
	}
	return &Backend{ring: ring}, nil
}

// Close tears down the ring.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring.QueueExit()
	return nil
}

// EventFD returns an fd that becomes readable when the ring has completions
// pending, suitable for registration with an epollio.Backend.
func (b *Backend) EventFD() (int, error) {
	fd, err := b.ring.RegisterEventfd()
	if err != nil {
		return 0, fmt.Errorf("register eventfd: %w", err)
	}
	return fd, nil
}

func (b *Backend) getSQE() (*giouring.SubmissionQueueEntry, error) {
	sqe := b.ring.GetSQE()
	if sqe == nil {
		if _, err := b.ring.Submit(); err != nil {
			return nil, fmt.Errorf("submit to drain SQ: %w", err)
		}
		sqe = b.ring.GetSQE()
		if sqe == nil {
			return nil, fmt.Errorf("submission queue full")
		}
	}
	return sqe, nil
}

// SubmitRead queues an asynchronous pread into buf at offset, tagged key.
func (b *Backend) SubmitRead(fd int, buf []byte, offset uint64, key uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sqe, err := b.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepRead(fd, buf, offset)
	sqe.UserData = key
	return nil
}

// SubmitWrite queues an asynchronous pwrite of buf at offset, tagged key.
func (b *Backend) SubmitWrite(fd int, buf []byte, offset uint64, key uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sqe, err := b.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepWrite(fd, buf, offset)
	sqe.UserData = key
	return nil
}

// SubmitClose queues an asynchronous close of fd, tagged key.
func (b *Backend) SubmitClose(fd int, key uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sqe, err := b.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepClose(fd)
	sqe.UserData = key
	return nil
}

// SubmitFsync queues an asynchronous fsync of fd, tagged key.
func (b *Backend) SubmitFsync(fd int, key uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sqe, err := b.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepFsync(fd, 0)
	sqe.UserData = key
	return nil
}

// Flush submits every queued-but-unsent SQE to the kernel without blocking
// for completions.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.ring.Submit()
	return err
}

// Peek drains up to max already-ready completions without blocking.
func (b *Backend) Peek(max int) ([]Completion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cqes := make([]*giouring.CompletionQueueEvent, max)
	n := b.ring.PeekBatchCQE(cqes)
	out := make([]Completion, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, fromCQE(cqes[i]))
	}
	if n > 0 {
		b.ring.CQAdvance(n)
	}
	return out, nil
}

// WaitOne blocks until at least one completion is available and returns it.
func (b *Backend) WaitOne() (Completion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cqe, err := b.ring.WaitCQE()
	if err != nil {
		return Completion{}, fmt.Errorf("wait_cqe: %w", err)
	}
	c := fromCQE(cqe)
	b.ring.CQESeen(cqe)
	return c, nil
}

func fromCQE(cqe *giouring.CompletionQueueEvent) Completion {
	c := Completion{Key: cqe.UserData, Res: cqe.Res}
	if cqe.Res < 0 {
		c.Err = fmt.Errorf("io_uring op failed: result %d", cqe.Res)
	}
	return c
}
