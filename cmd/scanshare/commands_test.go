package main

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/jamesainslie/scanshare/pkg/scanshare/catalog"
	"github.com/jamesainslie/scanshare/pkg/scanshare/config"
	"github.com/jamesainslie/scanshare/pkg/scanshare/history"
	"github.com/jamesainslie/scanshare/pkg/scanshare/workload"
)

func TestResolveReport(t *testing.T) {
	store, err := history.Open("", history.Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer store.Close()

	start := time.Now()
	for i, id := range []string{"abc123", "abd456", "ffee00"} {
		r := &history.Report{ID: id, Name: "run", StartedAt: start.Add(time.Duration(i) * time.Second)}
		if err := store.Put(r); err != nil {
			t.Fatalf("Put(%s) error: %v", id, err)
		}
	}

	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"abc123", "abc123", false},
		{"ff", "ffee00", false},
		{"abc", "abc123", false},
		{"ab", "", true},
		{"zzz", "", true},
	}
	for _, tt := range tests {
		r, err := resolveReport(store, tt.id)
		if tt.wantErr {
			if err == nil {
				t.Errorf("resolveReport(%q) = %s, want error", tt.id, r.ID)
			}
			continue
		}
		if err != nil {
			t.Errorf("resolveReport(%q) error: %v", tt.id, err)
			continue
		}
		if r.ID != tt.want {
			t.Errorf("resolveReport(%q) = %s, want %s", tt.id, r.ID, tt.want)
		}
	}

	if _, err := resolveReport(store, "zzz"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	env := []string{"HOME=/root", "SCANSHARE_POOL_SIZE=4", "SCANSHARE_METRICS_ADDR=:9100", "PATH=/bin"}
	got := envOverrides(env)
	want := []string{"SCANSHARE_METRICS_ADDR=:9100", "SCANSHARE_POOL_SIZE=4"}
	if !slices.Equal(got, want) {
		t.Errorf("envOverrides() = %v, want %v", got, want)
	}
}

func TestCatalogDisks(t *testing.T) {
	cfg := &config.Config{Disks: []config.DiskConfig{{Name: "a", Root: "/a"}, {Name: "b", Root: "/b"}}}
	disks := catalogDisks(cfg)
	if len(disks) != 2 || disks[1].Name != "b" || disks[1].Root != "/b" {
		t.Errorf("catalogDisks() = %+v", disks)
	}
}

func TestLoadWorkloadSynthetic(t *testing.T) {
	saved := runOpts
	defer func() { runOpts = saved }()

	runOpts.synthetic = true
	runOpts.chunkCount = 5
	runOpts.queries = 3
	runOpts.chunksPerQuery = 2
	runOpts.size = "1MiB"
	runOpts.seed = 7

	w, err := loadWorkload(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("loadWorkload() error: %v", err)
	}
	if w.Name != "generated" {
		t.Errorf("Name = %q, want generated", w.Name)
	}
	if len(w.Queries) != 3 {
		t.Fatalf("got %d queries, want 3", len(w.Queries))
	}
	for _, q := range w.Queries {
		if len(q.Chunks) != 2 {
			t.Errorf("query %d has %d chunks, want 2", q.ID, len(q.Chunks))
		}
		if int64(q.Size) != 1<<20 {
			t.Errorf("query %d size = %d, want 1MiB", q.ID, q.Size)
		}
		for _, c := range q.Chunks {
			if c < 0 || c >= 5 {
				t.Errorf("query %d reads chunk %d outside 0..4", q.ID, c)
			}
		}
	}

	runOpts.size = "big"
	if _, err := loadWorkload(context.Background(), nil, nil); err == nil {
		t.Error("invalid --size should fail")
	}
}

func TestRunnerName(t *testing.T) {
	saved := runOpts.name
	defer func() { runOpts.name = saved }()

	runOpts.name = ""
	if got := runnerName(&workload.Workload{}); got != "run" {
		t.Errorf("runnerName() = %q, want run", got)
	}
	if got := runnerName(&workload.Workload{Name: "nightly"}); got != "nightly" {
		t.Errorf("runnerName() = %q, want nightly", got)
	}
	runOpts.name = "flag"
	if got := runnerName(&workload.Workload{Name: "nightly"}); got != "flag" {
		t.Errorf("runnerName() = %q, want flag", got)
	}
}

func TestFilterFlagsBuild(t *testing.T) {
	ff := filterFlags{
		disks:   []string{"d1"},
		chunks:  "1-3",
		minSize: "1KiB",
		sortBy:  "size",
		desc:    true,
		limit:   1,
	}
	f, err := ff.build()
	if err != nil {
		t.Fatalf("build() error: %v", err)
	}
	entries := []catalog.Entry{
		{Chunk: 1, Disk: "d1", Size: 2048},
		{Chunk: 2, Disk: "d1", Size: 4096},
		{Chunk: 3, Disk: "d0", Size: 8192},
		{Chunk: 4, Disk: "d1", Size: 8192},
		{Chunk: 5, Disk: "d1", Size: 10},
	}
	got := catalog.ChunkIDs(f.Apply(entries))
	if !slices.Equal(got, []int{2}) {
		t.Errorf("Apply() = %v, want [2]", got)
	}

	for _, bad := range []filterFlags{
		{minSize: "lots"},
		{chunks: "9-1"},
		{olderThan: "ages"},
		{sortBy: "name"},
		{include: []string{"[x"}},
	} {
		if _, err := bad.build(); err == nil {
			t.Errorf("build(%+v) should fail", bad)
		}
	}
}

func TestLoadWorkloadSyntheticChunkList(t *testing.T) {
	saved := runOpts
	defer func() { runOpts = saved }()

	runOpts.synthetic = true
	runOpts.queries = 4
	runOpts.chunksPerQuery = 0
	runOpts.size = "1MiB"
	runOpts.filter.chunks = "10-12"

	w, err := loadWorkload(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("loadWorkload() error: %v", err)
	}
	for _, q := range w.Queries {
		if !slices.Equal(q.Chunks, []int{10, 11, 12}) {
			t.Errorf("query %d chunks = %v, want [10 11 12]", q.ID, q.Chunks)
		}
	}
}
