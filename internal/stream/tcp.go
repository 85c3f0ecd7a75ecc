package stream

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xnko/libio/internal/backend/epollio"
	"github.com/xnko/libio/internal/looprt"
	"github.com/xnko/libio/internal/task"
)

// TCPBackend is a non-blocking socket fd driven by one owning task: every
// Read/Write that would block instead suspends that task through the loop's
// AwaitIO and resumes it when the fd becomes ready, the same readiness-retry
// pattern the connector/listener use for EINPROGRESS/EAGAIN.
type TCPBackend struct {
	loop *looprt.Loop
	t    *task.Task
	fd   int

	readTimeoutMs  atomic.Int64
	writeTimeoutMs atomic.Int64
}

// NewTCPBackend wraps fd (already non-blocking) for use by t, the task that
// will call Read/Write on the resulting Stream. fd must belong to loop's
// epoll instance in the sense that AwaitIO will register/deregister it as
// needed; callers must not register it themselves.
func NewTCPBackend(loop *looprt.Loop, t *task.Task, fd int) *TCPBackend {
	return &TCPBackend{loop: loop, t: t, fd: fd}
}

// SetReadTimeout arms (or, with ms == 0, disables) the deadline AwaitIO
// races against the next time Read blocks on EAGAIN.
func (b *TCPBackend) SetReadTimeout(ms int64) { b.readTimeoutMs.Store(ms) }

// SetWriteTimeout arms (or disables) the deadline for Write.
func (b *TCPBackend) SetWriteTimeout(ms int64) { b.writeTimeoutMs.Store(ms) }

func (b *TCPBackend) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(b.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, errEOF
		case err == nil:
			return n, nil
		case err == unix.EAGAIN:
			deadline := b.readTimeoutMs.Load()
			if deadline > 0 {
				deadline += time.Now().UnixMilli()
			}
			if _, awaitErr := b.loop.AwaitIO(b.t, b.fd, epollio.In, deadline); awaitErr != nil {
				if awaitErr == looprt.ErrTimedOut {
					return 0, ErrTimeout
				}
				return 0, awaitErr
			}
		default:
			return 0, err
		}
	}
}

func (b *TCPBackend) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(b.fd, p[total:])
		switch {
		case err == nil:
			total += n
		case err == unix.EAGAIN:
			deadline := b.writeTimeoutMs.Load()
			if deadline > 0 {
				deadline += time.Now().UnixMilli()
			}
			if _, awaitErr := b.loop.AwaitIO(b.t, b.fd, epollio.Out, deadline); awaitErr != nil {
				if awaitErr == looprt.ErrTimedOut {
					return total, ErrTimeout
				}
				return total, awaitErr
			}
		default:
			return total, err
		}
	}
	return total, nil
}

func (b *TCPBackend) Close() error {
	return unix.Close(b.fd)
}
