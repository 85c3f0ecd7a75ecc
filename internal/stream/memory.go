package stream

import (
	"container/list"
	"sync"

	"github.com/xnko/libio/internal/workerpool"
)

// MemoryBackend is an in-process byte pipe: Write appends pooled chunks,
// Read drains them in order, and a closed-with-no-data Read returns EOF.
// Grounded on workerpool's bucketed buffer pool (internal/workerpool/
// buffers.go) for chunk allocation, and on internal/mpscq's mutex+condvar
// pattern for the blocking-until-available Read.
type MemoryBackend struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks *list.List // of []byte
	off    int        // read offset into the front chunk
	closed bool
}

// NewMemoryBackend creates an empty in-process pipe.
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{chunks: list.New()}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write copies p into pooled chunks and appends them to the pipe.
func (b *MemoryBackend) Write(p []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrClosed
	}
	chunk := workerpool.GetBuffer(len(p))
	copy(chunk, p)
	b.chunks.PushBack(chunk)
	b.mu.Unlock()
	b.cond.Broadcast()
	return len(p), nil
}

// Read blocks until at least one byte is available or the pipe is closed.
func (b *MemoryBackend) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.chunks.Len() == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.chunks.Len() == 0 {
		return 0, errEOF
	}

	front := b.chunks.Front()
	chunk := front.Value.([]byte)
	n := copy(p, chunk[b.off:])
	b.off += n
	if b.off >= len(chunk) {
		b.chunks.Remove(front)
		workerpool.PutBuffer(chunk)
		b.off = 0
	}
	return n, nil
}

// Close marks the pipe closed, unblocking any in-progress Read with EOF
// once buffered data is drained.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}
