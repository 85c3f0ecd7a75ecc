package stream

import (
	"github.com/xnko/libio/internal/looprt"
	"github.com/xnko/libio/internal/task"
)

// FileBackend is a regular file driven entirely through io_uring
// completions: reads and writes are submitted async and the owning task
// suspends until its specific completion arrives, mirroring the IOCP
// completion model a Windows file stream would use, realized here through
// internal/backend/uringio instead.
type FileBackend struct {
	loop   *looprt.Loop
	t      *task.Task
	fd     int
	offset uint64 // next read/write cursor, advanced after every completed op
}

// NewFileBackend wraps fd (already opened) for sequential async I/O driven
// by t. loop must have had EnableURing called on it.
func NewFileBackend(loop *looprt.Loop, t *task.Task, fd int) *FileBackend {
	return &FileBackend{loop: loop, t: t, fd: fd}
}

func (b *FileBackend) Read(p []byte) (int, error) {
	offset := b.offset
	c, err := b.loop.SubmitURing(b.t, func(key uint64) error {
		return b.loop.URing().SubmitRead(b.fd, p, offset, key)
	})
	if err != nil {
		return 0, err
	}
	if c.Err != nil {
		return 0, c.Err
	}
	if c.Res == 0 {
		return 0, errEOF
	}
	b.offset += uint64(c.Res)
	return int(c.Res), nil
}

func (b *FileBackend) Write(p []byte) (int, error) {
	offset := b.offset
	c, err := b.loop.SubmitURing(b.t, func(key uint64) error {
		return b.loop.URing().SubmitWrite(b.fd, p, offset, key)
	})
	if err != nil {
		return 0, err
	}
	if c.Err != nil {
		return 0, c.Err
	}
	b.offset += uint64(c.Res)
	return int(c.Res), nil
}

// Seek repositions the backend's read/write cursor, an explicit
// read-offset/write-offset field rather than a kernel-managed file position.
func (b *FileBackend) Seek(offset uint64) {
	b.offset = offset
}

func (b *FileBackend) Close() error {
	_, err := b.loop.SubmitURing(b.t, func(key uint64) error {
		return b.loop.URing().SubmitClose(b.fd, key)
	})
	return err
}
