package workload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/scanshare/pkg/scanshare/catalog"
	"github.com/jamesainslie/scanshare/pkg/scanshare/config"
	"github.com/jamesainslie/scanshare/pkg/scanshare/events"
	"github.com/jamesainslie/scanshare/pkg/scanshare/history"
	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
	"github.com/jamesainslie/scanshare/pkg/scanshare/tuner"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

var testResources = &tuner.SystemResources{CPUCores: 4, TotalRAM: 4 * types.GiB, AvailableRAM: 2 * types.GiB}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	return &config.Config{
		Scheduler: config.SchedulerConfig{Name: "test", MaxThreads: 2, MaxActiveChunks: 1},
		Pool:      config.PoolConfig{Size: 2},
		Disks: []config.DiskConfig{
			{Name: "d0", Root: filepath.Join(base, "d0")},
			{Name: "d1", Root: filepath.Join(base, "d1")},
		},
		Placement: config.PlacementCatalog,
		Executor:  config.ExecutorConfig{BlockSize: "1KiB", CacheSize: "1MiB", Bandwidth: "0"},
		Stats:     config.StatsConfig{MaxQueries: 64, DeadAfter: time.Minute},
		History:   config.HistoryConfig{Keep: 2},
	}
}

func runCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewAppliesOverrides(t *testing.T) {
	r, err := New(testConfig(t), Options{Resources: testResources})
	require.NoError(t, err)

	tuned := r.Tuned()
	assert.Equal(t, 2, tuned.MaxThreads)
	assert.Equal(t, 2, tuned.PoolSize)
	assert.Equal(t, 1, tuned.MaxActiveChunks)
	assert.Equal(t, types.MiB, tuned.CacheSize)
	assert.Equal(t, 2, r.Scheduler().MaxThreads())
	assert.Len(t, r.Catalog().Disks(), 2)
}

func TestRunScansChunkFiles(t *testing.T) {
	cfg := testConfig(t)
	store, err := history.Open("", history.Options{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	bus := events.New()
	defer bus.Close()
	sub := bus.Subscribe(events.Filter{Types: []events.Type{events.ChunkAdded}}, 64)

	var mu sync.Mutex
	var last types.RunProgress
	r, err := New(cfg, Options{
		Resources: testResources,
		Events:    bus,
		History:   store,
		OnProgress: func(p types.RunProgress) {
			mu.Lock()
			last = p
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	chunks := []int{1, 2, 3, 4}
	_, err = r.Catalog().Generate(context.Background(), catalog.GenerateOptions{
		Chunks: chunks, ChunkSize: 4 * types.KiB, Seed: 1,
	})
	require.NoError(t, err)

	w, err := Generate(GenerateOptions{Name: "files", Queries: 3, Chunks: chunks, Payload: "star", Seed: 3})
	require.NoError(t, err)

	report, err := r.Run(runCtx(t), w)
	require.NoError(t, err)

	assert.Equal(t, "files", report.Name)
	assert.Equal(t, uint64(12), report.Submitted)
	assert.Equal(t, uint64(12), report.Completed)
	assert.Zero(t, report.Failed)
	assert.Equal(t, uint64(12*4*types.KiB), report.BytesRead)
	assert.Equal(t, uint64(12*4), report.CacheHits+report.CacheMisses, "four blocks per task")
	assert.GreaterOrEqual(t, report.CacheMisses, uint64(16))
	assert.Len(t, report.Chunks, 4)
	assert.Equal(t, []string{"d0", "d1"}, report.Disks)

	// Chunks were placed on the disk holding their file.
	d, _, ok := r.Catalog().Locate(1)
	require.True(t, ok)
	assert.Equal(t, "d1", d)
	assert.Len(t, sub.C, 4)

	mu.Lock()
	assert.True(t, last.Done())
	assert.Equal(t, int64(12*4*types.KiB), last.BytesRead)
	mu.Unlock()

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = r.Run(runCtx(t), w)
	assert.ErrorIs(t, err, ErrRunning)
}

func TestRunMissingChunkFails(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, Options{Resources: testResources})
	require.NoError(t, err)
	_, err = r.Catalog().Generate(context.Background(), catalog.GenerateOptions{Chunks: []int{1}, ChunkSize: 512})
	require.NoError(t, err)

	w := &Workload{Queries: []Query{{ID: 1, Chunks: []int{1, 99}}}}
	report, err := r.Run(runCtx(t), w)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Completed)
	assert.Equal(t, uint64(1), report.Failed)
}

func TestRunSynthetic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Placement = config.PlacementHash

	r, err := New(cfg, Options{Name: "synthetic", Synthetic: true, Throughput: 100 * types.MiB, Resources: testResources})
	require.NoError(t, err)

	w, err := Parse([]byte(`
queries:
  - {chunks: [1, 2, 3], size: 10KiB}
  - {chunks: [3, 2, 1], size: 10KiB, repeat: 1}
commands:
  - kind: status
  - kind: add_chunk_group
    chunks: [5]
`))
	require.NoError(t, err)

	report, err := r.Run(runCtx(t), w)
	require.NoError(t, err)
	assert.Equal(t, "synthetic", report.Name)
	assert.Equal(t, uint64(9), report.Completed)
	assert.Equal(t, uint64(9*10*types.KiB), report.BytesRead)
	assert.Equal(t, uint64(1), report.Dropped, "status is not a scan command")
	assert.Zero(t, report.CacheHits+report.CacheMisses)

	q, ok := r.Tracker().Query(2)
	require.True(t, ok)
	assert.Equal(t, 3, q.Completed)
}

func TestRunCanceled(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, Options{Synthetic: true, Throughput: 1, Resources: testResources})
	require.NoError(t, err)

	w := &Workload{Queries: []Query{{ID: 1, Chunks: []int{1, 2, 3, 4}, Size: 3600}}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := r.Run(ctx, w)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, uint64(4), report.Submitted)
	assert.Less(t, report.Completed-report.Failed, uint64(4))
}

func TestHandler(t *testing.T) {
	r, err := New(testConfig(t), Options{Synthetic: true, Resources: testResources})
	require.NoError(t, err)
	var seq task.Sequencer
	r.Submit(seq.New(task.Spec{ChunkID: 4, QueryID: 1}))

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "test", status["name"])
	assert.Equal(t, float64(1), status["num_tasks_in_queue"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "scanshare_tasks_enqueued_total")
}
