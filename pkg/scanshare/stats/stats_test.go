package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/scanshare/pkg/scanshare/pool"
	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

func result(t *task.Task, d time.Duration, err error) pool.Result {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return pool.Result{Task: t, Started: start, Finished: start.Add(d), Err: err}
}

func TestTrackerRecordsQueriesAndChunks(t *testing.T) {
	tr, err := New(DefaultOptions())
	require.NoError(t, err)

	var seq task.Sequencer
	a := seq.New(task.Spec{ChunkID: 7, QueryID: 1, Size: 100})
	b := seq.New(task.Spec{ChunkID: 7, QueryID: 1, Size: 50})
	c := seq.New(task.Spec{ChunkID: 9, QueryID: 2})

	for _, tk := range []*task.Task{a, b, c} {
		tr.Queued(tk)
	}
	tr.Record(result(a, 100*time.Millisecond, nil))
	tr.Hook()(result(b, 600*time.Millisecond, nil))
	tr.Record(result(c, time.Second, errors.New("read failed")))

	q1, ok := tr.Query(1)
	require.True(t, ok)
	assert.Equal(t, 2, q1.Queued)
	assert.Equal(t, 2, q1.Completed)
	assert.Equal(t, 0, q1.Outstanding())
	assert.Equal(t, 700*time.Millisecond, q1.TotalTime)

	c7, ok := tr.Chunk(7)
	require.True(t, ok)
	assert.Equal(t, uint64(2), c7.TasksCompleted)
	assert.Equal(t, int64(150), c7.BytesScanned)
	assert.Equal(t, 110*time.Millisecond, c7.AvgCompletion, "49:1 weighted mean")

	c9, ok := tr.Chunk(9)
	require.True(t, ok)
	assert.Equal(t, uint64(0), c9.TasksCompleted)
	assert.Equal(t, uint64(1), c9.TasksFailed)

	q2, _ := tr.Query(2)
	assert.Equal(t, 1, q2.Failed)

	snap := tr.Snapshot()
	require.Len(t, snap.Queries, 2)
	assert.Equal(t, uint64(1), snap.Queries[0].QueryID)
	require.Len(t, snap.Chunks, 2)
	assert.Equal(t, 7, snap.Chunks[0].ChunkID)
}

func TestTrackerRemoveDead(t *testing.T) {
	tr, err := New(Options{MaxQueries: 10, DeadAfter: time.Minute})
	require.NoError(t, err)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	var seq task.Sequencer
	done := seq.New(task.Spec{ChunkID: 1, QueryID: 1})
	busy := seq.New(task.Spec{ChunkID: 1, QueryID: 2})
	tr.Queued(done)
	tr.Queued(busy)
	tr.Record(result(done, time.Millisecond, nil))

	assert.Equal(t, 0, tr.RemoveDead(), "nothing is old enough")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, tr.RemoveDead())

	_, ok := tr.Query(1)
	assert.False(t, ok)
	_, ok = tr.Query(2)
	assert.True(t, ok, "query with outstanding tasks is kept")
}

func TestTrackerEvictsLeastRecentQuery(t *testing.T) {
	tr, err := New(Options{MaxQueries: 2})
	require.NoError(t, err)

	var seq task.Sequencer
	for q := range uint64(3) {
		tr.Queued(seq.New(task.Spec{QueryID: q}))
	}

	_, ok := tr.Query(0)
	assert.False(t, ok)
	assert.Len(t, tr.Snapshot().Queries, 2)
}
