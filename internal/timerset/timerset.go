// Package timerset implements the loop's three ordered deadline trees
// (sleeps, idles, timeouts).
//
// The original C runtime this is translated from backs its deadline
// tracking with an intrusive red-black tree (rbtree.c). No example in the
// pack implements an ordered tree in Go; the pack's own epoll-reactor
// example (gaio's watcher.go) keeps its deadline queue in a container/heap,
// which is this package's grounding. Equal-deadline ordering is resolved by
// insertion sequence: deterministic, even though relative ordering of
// equal-key entries is otherwise unspecified.
package timerset

import "container/heap"

// Moment is a single scheduled deadline. TaskID is an opaque caller-supplied
// handle (the task to resume); timerset never dereferences it.
type Moment struct {
	Deadline int64 // absolute milliseconds on the loop's time source
	TaskID   any

	Reached  bool
	Removed  bool
	Shutdown bool

	seq   int64
	index int // heap index, maintained by container/heap
	set   *Set
}

type momentHeap []*Moment

func (h momentHeap) Len() int { return len(h) }
func (h momentHeap) Less(i, j int) bool {
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline < h[j].Deadline
	}
	return h[i].seq < h[j].seq
}
func (h momentHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *momentHeap) Push(x any) {
	m := x.(*Moment)
	m.index = len(*h)
	*h = append(*h, m)
}
func (h *momentHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	m.index = -1
	*h = old[:n-1]
	return m
}

// Set is one ordered tree of Moments.
type Set struct {
	h       momentHeap
	nextSeq int64
}

// New creates an empty Set.
func New() *Set {
	s := &Set{}
	heap.Init(&s.h)
	return s
}

// Add inserts m, keyed by m.Deadline, O(log N).
func (s *Set) Add(m *Moment) {
	m.Reached, m.Removed, m.Shutdown = false, false, false
	m.seq = s.nextSeq
	s.nextSeq++
	m.set = s
	heap.Push(&s.h, m)
}

// Remove detaches m if still pending, marking it removed. No-op if m has
// already fired, been removed, or belongs to a different set.
func (s *Set) Remove(m *Moment) {
	if m.set != s || m.index < 0 {
		return
	}
	heap.Remove(&s.h, m.index)
	m.Removed = true
	m.set = nil
}

// Tick detaches every Moment with Deadline <= now, marks it Reached, and
// returns them in deadline order (ties broken by insertion order) for the
// caller to resume.
func (s *Set) Tick(now int64) []*Moment {
	var fired []*Moment
	for s.h.Len() > 0 && s.h[0].Deadline <= now {
		m := heap.Pop(&s.h).(*Moment)
		m.Reached = true
		m.set = nil
		fired = append(fired, m)
	}
	return fired
}

// Shutdown detaches every pending Moment, marks it Shutdown, and returns
// them all (order undefined). looprt.Loop.Run does not call it; moments
// still pending when a loop stops stay in their set.
func (s *Set) Shutdown() []*Moment {
	fired := make([]*Moment, 0, s.h.Len())
	for s.h.Len() > 0 {
		m := heap.Pop(&s.h).(*Moment)
		m.Shutdown = true
		m.set = nil
		fired = append(fired, m)
	}
	return fired
}

// Nearest returns the minimum pending deadline, or 0 if the set is empty.
func (s *Set) Nearest() int64 {
	if s.h.Len() == 0 {
		return 0
	}
	return s.h[0].Deadline
}

// Len reports the number of pending moments.
func (s *Set) Len() int { return s.h.Len() }
