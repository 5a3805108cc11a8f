package chunkdisk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

func seqOf(ts ...*task.Task) []uint64 {
	out := make([]uint64, len(ts))
	for i, t := range ts {
		out[i] = t.Seq()
	}
	return out
}

func TestEmptyDiskNotReady(t *testing.T) {
	d := New("d0")
	assert.False(t, d.Ready())
	assert.Equal(t, 0, d.Size())
	assert.Panics(t, func() { d.NextTask() })
}

func TestSingleChunkFIFO(t *testing.T) {
	var s task.Sequencer
	d := New("d0", WithMaxActiveChunks(4))

	a := s.New(task.Spec{ChunkID: 1})
	b := s.New(task.Spec{ChunkID: 1})
	c := s.New(task.Spec{ChunkID: 1})
	d.Enqueue(a)
	d.Enqueue(b)
	d.Enqueue(c)

	var got []*task.Task
	for d.Ready() {
		got = append(got, d.NextTask())
	}
	assert.Equal(t, seqOf(a, b, c), seqOf(got...))
	assert.Equal(t, 0, d.Size())
	assert.Equal(t, 3, d.InFlight())
}

func TestOutOfOrderInsertion(t *testing.T) {
	var s task.Sequencer
	d := New("d0")

	first := s.New(task.Spec{ChunkID: 2})
	second := s.New(task.Spec{ChunkID: 2})
	third := s.New(task.Spec{ChunkID: 2})

	d.Enqueue(third)
	d.Enqueue(first)
	d.Enqueue(second)

	got := []*task.Task{d.NextTask(), d.NextTask(), d.NextTask()}
	assert.Equal(t, seqOf(first, second, third), seqOf(got...))
}

func TestEnqueueTwicePanics(t *testing.T) {
	var s task.Sequencer
	d := New("d0")
	a := s.New(task.Spec{ChunkID: 1})
	b := s.New(task.Spec{ChunkID: 1})
	d.Enqueue(a)
	d.Enqueue(b)

	assert.Panics(t, func() { d.Enqueue(a) })

	got := d.NextTask()
	assert.Panics(t, func() { d.Enqueue(got) })
}

func TestContinuationBeatsOlderChunk(t *testing.T) {
	var s task.Sequencer
	d := New("d0")

	old := s.New(task.Spec{ChunkID: 9})
	first := s.New(task.Spec{ChunkID: 5})
	d.Enqueue(first)

	// Chunk 5 starts alone.
	require.Same(t, first, d.NextTask())
	d.RegisterInflight(first)

	// An older task for another chunk arrives late, then a reader joins chunk 5.
	d.Enqueue(old)
	joiner := s.New(task.Spec{ChunkID: 5})
	d.Enqueue(joiner)

	require.True(t, d.Ready())
	assert.Same(t, joiner, d.NextTask())
	d.RegisterInflight(joiner)

	// Chunk 9 must wait for chunk 5 to drain.
	assert.False(t, d.Ready())

	d.RemoveInflight(first)
	assert.False(t, d.Ready(), "joiner still in flight")
	d.RemoveInflight(joiner)

	require.True(t, d.Ready())
	assert.Same(t, old, d.NextTask())
}

func TestNewChunkPicksOldest(t *testing.T) {
	var s task.Sequencer
	d := New("d0")

	c3 := s.New(task.Spec{ChunkID: 3})
	c1 := s.New(task.Spec{ChunkID: 1})
	c2 := s.New(task.Spec{ChunkID: 2})
	d.Enqueue(c2)
	d.Enqueue(c1)
	d.Enqueue(c3)

	got := d.NextTask()
	assert.Same(t, c3, got)
	d.RegisterInflight(got)
	assert.Equal(t, []int{3}, d.ActiveChunks())
}

func TestChunkActivatesOnRegister(t *testing.T) {
	var s task.Sequencer
	d := New("d0")

	a1 := s.New(task.Spec{ChunkID: 7})
	b1 := s.New(task.Spec{ChunkID: 8})
	a2 := s.New(task.Spec{ChunkID: 7})
	d.Enqueue(a1)
	d.Enqueue(b1)
	d.Enqueue(a2)

	require.Same(t, a1, d.NextTask())
	assert.Empty(t, d.ActiveChunks(), "handed out but not started")
	assert.False(t, d.IsActive(7))
	assert.Equal(t, 1, d.InFlight())

	// With no active chunk the oldest pending task starts a new chunk.
	require.True(t, d.Ready())
	assert.Same(t, b1, d.NextTask())

	d.RegisterInflight(a1)
	assert.Equal(t, []int{7}, d.ActiveChunks())
	require.True(t, d.Ready())
	assert.Same(t, a2, d.NextTask(), "started chunk 7 has pending work")
}

func TestRemoveUnstartedLeavesActiveSet(t *testing.T) {
	var s task.Sequencer
	d := New("d0", WithMaxActiveChunks(2))

	running := s.New(task.Spec{ChunkID: 1})
	idle := s.New(task.Spec{ChunkID: 2})
	d.Enqueue(running)
	d.Enqueue(idle)
	d.RegisterInflight(d.NextTask())
	require.Same(t, idle, d.NextTask())

	d.RemoveInflight(idle)
	assert.Equal(t, []int{1}, d.ActiveChunks())
	assert.Equal(t, 1, d.InFlight())
	_, ok := d.LastFinished()
	assert.False(t, ok, "a task that never started does not drain its chunk")

	d.RemoveInflight(running)
	last, ok := d.LastFinished()
	require.True(t, ok)
	assert.Equal(t, 1, last)
	assert.Empty(t, d.Snapshot().Chunks)
}

func TestTieBreakPrefersLastFinishedThenLowestID(t *testing.T) {
	d := New("d0")

	// Tasks built with equal Seq exercise the tie-break.
	seqs := task.NewSequencer(0)
	warm := seqs.New(task.Spec{ChunkID: 8})
	d.Enqueue(warm)
	d.RegisterInflight(d.NextTask())
	d.RemoveInflight(warm)

	last, ok := d.LastFinished()
	require.True(t, ok)
	require.Equal(t, 8, last)

	tie := task.NewSequencer(100)
	a := tie.New(task.Spec{ChunkID: 4})
	tie2 := task.NewSequencer(100)
	b := tie2.New(task.Spec{ChunkID: 8})
	tie3 := task.NewSequencer(100)
	c := tie3.New(task.Spec{ChunkID: 2})
	require.Equal(t, a.Seq(), b.Seq())

	d.Enqueue(a)
	d.Enqueue(b)
	d.Enqueue(c)
	assert.Same(t, b, d.NextTask(), "recently finished chunk wins a tie")
	d.RemoveInflight(b)

	// Without a recently finished chunk the lowest id wins.
	d2 := New("d1")
	d2.Enqueue(a)
	d2.Enqueue(c)
	assert.Same(t, c, d2.NextTask())
}

func TestMaxActiveChunks(t *testing.T) {
	var s task.Sequencer
	d := New("d0", WithMaxActiveChunks(2))

	a := s.New(task.Spec{ChunkID: 1})
	b := s.New(task.Spec{ChunkID: 2})
	c := s.New(task.Spec{ChunkID: 3})
	d.Enqueue(a)
	d.Enqueue(b)
	d.Enqueue(c)

	assert.Same(t, a, d.NextTask())
	assert.Same(t, b, d.NextTask())
	d.RegisterInflight(a)
	d.RegisterInflight(b)
	assert.False(t, d.Ready(), "two chunks active, limit reached")
	assert.Panics(t, func() { d.NextTask() })

	d.RemoveInflight(a)
	assert.True(t, d.Ready())
	assert.Same(t, c, d.NextTask())
}

func TestMaxActiveChunksClamped(t *testing.T) {
	assert.Equal(t, 1, New("d0", WithMaxActiveChunks(0)).MaxActiveChunks())
	assert.Equal(t, 1, New("d0", WithMaxActiveChunks(-3)).MaxActiveChunks())
	assert.Equal(t, 6, New("d0", WithMaxActiveChunks(6)).MaxActiveChunks())
}

func TestRegisterInflight(t *testing.T) {
	var s task.Sequencer
	d := New("d0")
	a := s.New(task.Spec{ChunkID: 1})
	d.Enqueue(a)

	got := d.NextTask()
	d.RegisterInflight(got)
	d.RegisterInflight(got)
	assert.Equal(t, 1, d.InFlight())
	assert.Equal(t, 1, d.Snapshot().Started)

	// A task that bypassed NextTask is tracked too.
	stray := s.New(task.Spec{ChunkID: 6})
	d.RegisterInflight(stray)
	assert.Equal(t, []int{1, 6}, d.ActiveChunks())

	d.RemoveInflight(stray)
	d.RemoveInflight(got)
	assert.Empty(t, d.ActiveChunks())
	assert.Equal(t, 0, d.InFlight())
}

func TestRemoveUnknownPanics(t *testing.T) {
	var s task.Sequencer
	d := New("d0")
	assert.Panics(t, func() { d.RemoveInflight(s.New(task.Spec{ChunkID: 1})) })
}

func TestSnapshot(t *testing.T) {
	var s task.Sequencer
	d := New("d0", WithMaxActiveChunks(2))
	d.Enqueue(s.New(task.Spec{ChunkID: 7}))
	d.Enqueue(s.New(task.Spec{ChunkID: 7}))
	d.Enqueue(s.New(task.Spec{ChunkID: 3}))

	running := d.NextTask()
	d.RegisterInflight(running)

	snap := d.Snapshot()
	assert.Equal(t, "d0", snap.Name)
	assert.Equal(t, 2, snap.Pending)
	assert.Equal(t, 1, snap.InFlight)
	assert.Equal(t, 1, snap.Started)
	assert.Equal(t, 2, snap.MaxActiveChunks)
	assert.Nil(t, snap.LastFinished)
	assert.Equal(t, []ChunkLoad{
		{Chunk: 3, Pending: 1},
		{Chunk: 7, Pending: 1, InFlight: 1, Active: true},
	}, snap.Chunks)

	d.RemoveInflight(running)
	snap = d.Snapshot()
	require.NotNil(t, snap.LastFinished)
	assert.Equal(t, 7, *snap.LastFinished)
}
