package timerset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNearestEmpty(t *testing.T) {
	s := New()
	require.Equal(t, int64(0), s.Nearest())
}

func TestTimerFairness(t *testing.T) {
	s := New()
	m1 := &Moment{Deadline: 100, TaskID: "m1"}
	m2 := &Moment{Deadline: 200, TaskID: "m2"}
	s.Add(m2)
	s.Add(m1)

	require.Equal(t, int64(100), s.Nearest())

	fired := s.Tick(1000)
	require.Len(t, fired, 2)
	require.Equal(t, "m1", fired[0].TaskID)
	require.Equal(t, "m2", fired[1].TaskID)
	require.True(t, fired[0].Reached)
	require.True(t, fired[1].Reached)
}

func TestTickOnlyDueEntries(t *testing.T) {
	s := New()
	early := &Moment{Deadline: 10}
	late := &Moment{Deadline: 1000}
	s.Add(early)
	s.Add(late)

	fired := s.Tick(50)
	require.Len(t, fired, 1)
	require.Same(t, early, fired[0])
	require.Equal(t, int64(1000), s.Nearest())
}

func TestRemoveMarksRemoved(t *testing.T) {
	s := New()
	m := &Moment{Deadline: 100}
	s.Add(m)
	s.Remove(m)
	require.True(t, m.Removed)
	require.Equal(t, 0, s.Len())

	fired := s.Tick(1000)
	require.Empty(t, fired)
}

func TestShutdownDetachesAll(t *testing.T) {
	s := New()
	m1 := &Moment{Deadline: 100}
	m2 := &Moment{Deadline: 200}
	s.Add(m1)
	s.Add(m2)

	fired := s.Shutdown()
	require.Len(t, fired, 2)
	require.True(t, fired[0].Shutdown)
	require.True(t, fired[1].Shutdown)
	require.Equal(t, 0, s.Len())
}

func TestEqualDeadlineInsertionOrder(t *testing.T) {
	s := New()
	m1 := &Moment{Deadline: 100, TaskID: 1}
	m2 := &Moment{Deadline: 100, TaskID: 2}
	m3 := &Moment{Deadline: 100, TaskID: 3}
	s.Add(m1)
	s.Add(m2)
	s.Add(m3)

	fired := s.Tick(100)
	require.Equal(t, []any{1, 2, 3}, []any{fired[0].TaskID, fired[1].TaskID, fired[2].TaskID})
}
