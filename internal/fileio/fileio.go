// Package fileio implements the runtime's async file stream: open/stat run
// on the worker pool (they're ordinary blocking syscalls with no io_uring path
// wired here), while read/write/close ride the loop's io_uring completion
// queue via internal/stream.FileBackend, unified with epoll readiness
// through the same Run loop.
//
// Grounded on go-ublk's pattern of keeping slow setup (device creation,
// waitLive's os.Stat polling in backend.go) off the hot I/O path, mirrored
// here as "open/stat go to a worker, not the loop."
package fileio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/xnko/libio/internal/looprt"
	"github.com/xnko/libio/internal/stream"
	"github.com/xnko/libio/internal/task"
	"github.com/xnko/libio/internal/workerpool"
)

type openResult struct {
	fd  int
	err error
}

// Open opens path on the worker pool, suspending the calling task until the
// open completes, and returns a Stream backed by io_uring reads/writes.
func Open(loop *looprt.Loop, pool *workerpool.Pool, t *task.Task, path string, flags int, perm os.FileMode) (*stream.Stream, error) {
	pool.Submit(func() (any, error) {
		fd, err := unix.Open(path, flags, uint32(perm))
		return fd, err
	}, func(v any, err error) {
		loop.Post(func() {
			res := openResult{err: err}
			if err == nil {
				res.fd = v.(int)
			}
			t.Run(res)
		})
	})

	raw := t.Yield(nil)
	res, ok := raw.(openResult)
	if !ok {
		return nil, fmt.Errorf("fileio: unexpected resume value %T", raw)
	}
	if res.err != nil {
		return nil, fmt.Errorf("open %s: %w", path, res.err)
	}

	backend := stream.NewFileBackend(loop, t, res.fd)
	if flags&unix.O_APPEND != 0 {
		// io_uring reads/writes carry an explicit byte offset rather than
		// riding the kernel's per-fd file position, so O_APPEND's usual
		// atomic-append behavior never kicks in here; seek the backend's
		// cursor to the current end of file before the caller's first
		// write instead.
		var st unix.Stat_t
		if err := unix.Fstat(res.fd, &st); err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		backend.Seek(uint64(st.Size))
	}
	return stream.New(backend, false), nil
}

type statResult struct {
	info os.FileInfo
	err  error
}

// Stat runs os.Stat on the worker pool, suspending the calling task until it
// completes.
func Stat(pool *workerpool.Pool, loop *looprt.Loop, t *task.Task, path string) (os.FileInfo, error) {
	pool.Submit(func() (any, error) {
		return os.Stat(path)
	}, func(v any, err error) {
		loop.Post(func() {
			res := statResult{err: err}
			if err == nil {
				res.info = v.(os.FileInfo)
			}
			t.Run(res)
		})
	})

	raw := t.Yield(nil)
	res, ok := raw.(statResult)
	if !ok {
		return nil, fmt.Errorf("fileio: unexpected resume value %T", raw)
	}
	return res.info, res.err
}
