package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

func TestHashPlacement(t *testing.T) {
	tests := []struct {
		chunk, disks, want int
	}{
		{chunk: 5, disks: 1, want: 0},
		{chunk: 5, disks: 0, want: 0},
		{chunk: 5, disks: 3, want: 2},
		{chunk: 6, disks: 3, want: 0},
		{chunk: -1, disks: 3, want: 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HashPlacement{}.Disk(tt.chunk, tt.disks), "chunk %d over %d disks", tt.chunk, tt.disks)
	}
}

func TestCatalogPlacement(t *testing.T) {
	p := NewCatalogPlacement(map[int]int{10: 1, 11: 7})

	assert.Equal(t, 1, p.Disk(10, 2))
	assert.Equal(t, 1, p.Disk(11, 2), "out of range entry falls back to hash")
	assert.Equal(t, 0, p.Disk(12, 2), "unknown chunk falls back to hash")

	p.Set(12, 1)
	assert.Equal(t, 1, p.Disk(12, 2))
	p.Remove(10)
	assert.Equal(t, 0, p.Disk(10, 2))
	assert.Equal(t, 2, p.Len())
}

func TestMultiDiskRunsInParallel(t *testing.T) {
	var seq task.Sequencer
	s := newTestScheduler(t, 4, func(o *Options) { o.Disks = []string{"d0", "d1"} })

	a := seq.New(task.Spec{ChunkID: 0}) // d0
	b := seq.New(task.Spec{ChunkID: 2}) // d0
	c := seq.New(task.Spec{ChunkID: 1}) // d1
	s.Enqueue(a)
	s.Enqueue(b)
	s.Enqueue(c)

	got, ok := s.NextRunnable(false)
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = s.NextRunnable(false)
	require.True(t, ok)
	assert.Same(t, c, got, "the second disk starts its own scan")
	s.OnStart(a)
	s.OnStart(c)

	_, ok = s.NextRunnable(false)
	assert.False(t, ok, "d0 waits for chunk 0 to drain")

	s.OnFinish(a)
	got, ok = s.NextRunnable(false)
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestLeastLoadedDiskWins(t *testing.T) {
	var seq task.Sequencer
	s := newTestScheduler(t, 8, func(o *Options) { o.Disks = []string{"d0", "d1"} })

	a0 := seq.New(task.Spec{ChunkID: 0})
	a1 := seq.New(task.Spec{ChunkID: 0})
	a2 := seq.New(task.Spec{ChunkID: 0})
	c0 := seq.New(task.Spec{ChunkID: 1})
	c1 := seq.New(task.Spec{ChunkID: 1})
	for _, tk := range []*task.Task{a0, a1, a2, c0, c1} {
		s.Enqueue(tk)
	}

	var order []*task.Task
	for range 5 {
		tk, ok := s.NextRunnable(false)
		require.True(t, ok)
		order = append(order, tk)
	}
	// Ties go to the lower index; otherwise the disk with fewer in flight.
	assert.Equal(t, []*task.Task{a0, c0, a1, c1, a2}, order)

	st := s.Status()
	require.Len(t, st.Disks, 2)
	assert.Equal(t, 3, st.Disks[0].InFlight)
	assert.Equal(t, 2, st.Disks[1].InFlight)
}

func TestCatalogPlacementRoutesTasks(t *testing.T) {
	var seq task.Sequencer
	p := NewCatalogPlacement(map[int]int{4: 1})
	s := newTestScheduler(t, 2, func(o *Options) {
		o.Disks = []string{"d0", "d1"}
		o.Placement = p
	})

	s.Enqueue(seq.New(task.Spec{ChunkID: 4}))
	st := s.Status()
	assert.Equal(t, 0, st.Disks[0].Pending)
	assert.Equal(t, 1, st.Disks[1].Pending)
}
