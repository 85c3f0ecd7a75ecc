package libio

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/xnko/libio/internal/eventsvc"
	"github.com/xnko/libio/internal/fileio"
	"github.com/xnko/libio/internal/looprt"
	"github.com/xnko/libio/internal/stream"
	"github.com/xnko/libio/internal/task"
	"github.com/xnko/libio/internal/tcpio"
	"github.com/xnko/libio/internal/workerpool"
)

// events is the process-wide named-event dispatcher. One per process,
// shared across every Runtime, matching the run harness's cross-thread
// notify/wait contract.
var events = eventsvc.New()

// RunOptions configures a Runtime before it starts.
type RunOptions struct {
	// Workers is the size of the blocking-syscall worker pool backing file
	// open/stat. Zero uses workerpool's own default (4).
	Workers int

	// URingEntries enables the io_uring completion backend with this many
	// submission slots, required for streams returned by OpenFile. Zero
	// disables file streams entirely: OpenFile then fails. StatFile does not
	// need it.
	URingEntries uint32

	// Metrics lets a caller supply a pre-existing Metrics instance (e.g.
	// shared across several runtimes); nil creates a fresh one.
	Metrics *Metrics
}

// Runtime is the live handle to one event loop and its worker pool, the
// unit every Stream, Listener, and Task in this package is scoped to.
type Runtime struct {
	loop    *looprt.Loop
	pool    *workerpool.Pool
	metrics *Metrics
}

// Run creates a Runtime, pins the calling goroutine's OS thread to its
// event loop, spawns entry as the runtime's main task, and blocks until the
// runtime is stopped (via Runtime.Stop, called by entry or by another task)
// and every retained task/listener/stream has released its interest.
//
// Grounded on go-ublk's CreateAndServe/StopAndDelete pairing (backend.go):
// one call builds and starts the runtime, a matching teardown call (here,
// Stop plus Run's own return) drains it.
func Run(opts RunOptions, entry func(rt *Runtime, t *task.Task)) error {
	loop, err := looprt.New()
	if err != nil {
		return WrapError("run", err)
	}
	if opts.URingEntries > 0 {
		if err := loop.EnableURing(opts.URingEntries); err != nil {
			return WrapError("run", err)
		}
	}

	pool := workerpool.New(opts.Workers)
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	rt := &Runtime{loop: loop, pool: pool, metrics: metrics}

	loop.Retain()
	mainTask := task.New(func(self *task.Task, arg any) {
		defer loop.Release()
		entry(rt, self)
	}, nil)
	loop.Post(func() { mainTask.Run(nil) })

	loop.Run()

	pool.Close()
	loop.Close()
	metrics.Stop()
	return nil
}

// Spawn starts entry as a new task on rt's loop, retaining the runtime's
// liveness until entry returns.
func (rt *Runtime) Spawn(entry func(t *task.Task)) {
	rt.loop.Retain()
	tk := task.New(func(self *task.Task, arg any) {
		defer rt.loop.Release()
		entry(self)
	}, nil)
	rt.loop.Post(func() { tk.Run(nil) })
}

// Sleep suspends the calling task for durationMs milliseconds.
func (rt *Runtime) Sleep(t *task.Task, durationMs int64) {
	rt.loop.SleepTask(t, durationMs)
	rt.metrics.RecordTimerFire()
}

// Stop requests rt's loop to exit once it has no remaining retained work.
func (rt *Runtime) Stop() { rt.loop.Stop() }

// Metrics returns the runtime's metrics instance.
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// WaitEvent suspends the calling task until name is notified or deleted.
func (rt *Runtime) WaitEvent(t *task.Task, name string) {
	events.Wait(rt.loop, t, name)
}

// NotifyEvent wakes at most one task anywhere in the process waiting on
// name.
func NotifyEvent(name string) { events.Notify(name) }

// NotifyAllEvent wakes every task anywhere in the process waiting on name.
func NotifyAllEvent(name string) { events.NotifyAll(name) }

// DeleteEvent wakes every current waiter on name and forgets it.
func DeleteEvent(name string) { events.Delete(name) }

// Stream is a readable/writable/closable byte stream backed by memory, a
// TCP connection, or a file, with an optional chain of filters.
type Stream struct {
	inner   *stream.Stream
	peer    *net.TCPAddr
	metrics *Metrics
	loop    *looprt.Loop // retained by Accept, released by Close
}

// Read fills p. When exact is true, Read loops internally until p is full,
// the backend errors, or a call makes no progress, instead of returning
// after whatever the first underlying read happened to fill.
func (s *Stream) Read(p []byte, exact bool) (int, error) {
	start := time.Now()
	n, err := s.inner.Read(p, exact)
	if s.metrics != nil {
		s.metrics.RecordRead(uint64(n), uint64(time.Since(start)), err == nil || n > 0)
	}
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	start := time.Now()
	n, err := s.inner.Write(p)
	if s.metrics != nil {
		s.metrics.RecordWrite(uint64(n), uint64(time.Since(start)), err == nil)
	}
	return n, err
}
func (s *Stream) Unread(p []byte)   { s.inner.Unread(p) }
func (s *Stream) Info() stream.Info { return s.inner.Info() }

// Close closes the stream and, for a stream returned by Accept, releases the
// loop reference Accept took.
func (s *Stream) Close() error {
	err := s.inner.Close()
	if s.loop != nil {
		s.loop.Release()
		s.loop = nil
	}
	return err
}

// Use attaches f to the stream's filter chain, rejecting a second attach of
// the same filter.
func (s *Stream) Use(f stream.Filter) error { return s.inner.Use(f) }

// Detach removes f from the filter chain.
func (s *Stream) Detach(f stream.Filter) error { return s.inner.Detach(f) }

// SetReadTimeout arms a read deadline (milliseconds, 0 disables it) on
// backends that support one (TCP); a no-op otherwise.
func (s *Stream) SetReadTimeout(ms int64) { s.inner.SetReadTimeout(ms) }

// SetWriteTimeout arms a write deadline (milliseconds, 0 disables it).
func (s *Stream) SetWriteTimeout(ms int64) { s.inner.SetWriteTimeout(ms) }

// Shutdown half-closes the stream's write side without tearing down the
// backend.
func (s *Stream) Shutdown() { s.inner.Shutdown() }

// PeerAddr returns the remote address for a TCP-backed stream, or nil
// otherwise.
func (s *Stream) PeerAddr() *net.TCPAddr { return s.peer }

// Pipe copies from src to dst until src reports EOF.
func Pipe(dst, src *Stream, bufSize int) (int64, error) {
	return stream.Pipe(dst.inner, src.inner, bufSize)
}

// NewMemoryStream creates an in-process byte pipe, useful for tests and for
// composing filter chains without any real I/O backend.
func NewMemoryStream() *Stream {
	return &Stream{inner: stream.New(stream.NewMemoryBackend(), false)}
}

// Listener is a bound, listening TCP socket.
type Listener struct {
	inner *tcpio.Listener
	rt    *Runtime
}

// Listen binds and listens on address (host:port).
func (rt *Runtime) Listen(address string) (*Listener, error) {
	ln, err := tcpio.Listen(rt.loop, address)
	if err != nil {
		return nil, WrapError("listen", err)
	}
	rt.loop.Retain()
	return &Listener{inner: ln, rt: rt}, nil
}

// Addr returns the listener's bound local address.
func (l *Listener) Addr() *net.TCPAddr { return l.inner.Addr() }

// Accept suspends the calling task until a connection arrives, returning it
// as a Stream.
func (l *Listener) Accept(t *task.Task) (*Stream, error) {
	fd, peer, err := l.inner.Accept(t)
	if err != nil {
		return nil, WrapError("accept", err)
	}
	l.rt.loop.Retain()
	l.rt.metrics.RecordAccept()
	backend := stream.NewTCPBackend(l.rt.loop, t, fd)
	return &Stream{inner: stream.New(backend, false), peer: peer, metrics: l.rt.metrics, loop: l.rt.loop}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	defer l.rt.loop.Release()
	return l.inner.Close()
}

// Dial opens a non-blocking outbound TCP connection, suspending the calling
// task until the handshake completes, fails, or deadlineMs elapses (0 means
// no deadline).
func (rt *Runtime) Dial(t *task.Task, address string, deadlineMs int64) (*Stream, error) {
	deadline := int64(0)
	if deadlineMs > 0 {
		deadline = time.Now().UnixMilli() + deadlineMs
	}
	fd, err := tcpio.Connect(rt.loop, t, address, deadline)
	if err != nil {
		if errors.Is(err, looprt.ErrTimedOut) {
			return nil, &Error{Op: "connect", Code: CodeTimedOut, Msg: err.Error(), Inner: err}
		}
		return nil, WrapError("connect", err)
	}
	rt.metrics.RecordConnect()
	backend := stream.NewTCPBackend(rt.loop, t, fd)
	return &Stream{inner: stream.New(backend, false), metrics: rt.metrics}, nil
}

// OpenFile opens path for async reads/writes through the loop's io_uring
// backend (RunOptions.URingEntries must be non-zero).
func (rt *Runtime) OpenFile(t *task.Task, path string, flags int, perm os.FileMode) (*Stream, error) {
	if rt.loop.URing() == nil {
		return nil, NewError("open", CodeInvalid, "file streams need RunOptions.URingEntries > 0")
	}
	rt.metrics.RecordWorkerJob()
	s, err := fileio.Open(rt.loop, rt.pool, t, path, flags, perm)
	if err != nil {
		return nil, WrapError("open", err)
	}
	return &Stream{inner: s, metrics: rt.metrics}, nil
}

// StatFile stats path on the worker pool, suspending the calling task until
// it completes.
func (rt *Runtime) StatFile(t *task.Task, path string) (os.FileInfo, error) {
	rt.metrics.RecordWorkerJob()
	info, err := fileio.Stat(rt.pool, rt.loop, t, path)
	if err != nil {
		return nil, WrapError("stat", err)
	}
	return info, nil
}
