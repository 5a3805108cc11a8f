package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tempDir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheduler.Name != DefaultSchedulerName {
		t.Errorf("Scheduler.Name = %q, want %q", cfg.Scheduler.Name, DefaultSchedulerName)
	}
	if cfg.Scheduler.MaxThreads != 0 {
		t.Errorf("Scheduler.MaxThreads = %d, want 0 (auto)", cfg.Scheduler.MaxThreads)
	}
	if cfg.Placement != PlacementCatalog {
		t.Errorf("Placement = %q, want %q", cfg.Placement, PlacementCatalog)
	}
	if len(cfg.Disks) != 1 || cfg.Disks[0].Name != "disk0" {
		t.Errorf("Disks = %+v, want one disk0", cfg.Disks)
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true")
	}
	if cfg.History.Path != DefaultHistoryPath() {
		t.Errorf("History.Path = %q, want %q", cfg.History.Path, DefaultHistoryPath())
	}
	if cfg.Stats.DeadAfter != 5*time.Minute {
		t.Errorf("Stats.DeadAfter = %v, want 5m", cfg.Stats.DeadAfter)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want empty", cfg.File)
	}

	bs, err := cfg.BlockSize()
	if err != nil || bs != 256*1024 {
		t.Errorf("BlockSize() = %d, %v; want 262144", bs, err)
	}
	if cs, _ := cfg.CacheSize(); cs != 0 {
		t.Errorf("CacheSize() = %d, want 0 (auto)", cs)
	}
	if bw, _ := cfg.Bandwidth(); bw != 0 {
		t.Errorf("Bandwidth() = %d, want 0", bw)
	}
}

func TestLoad_FromFile(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, filepath.Join(home, ".config", "scanshare"), `
scheduler:
  max_threads: 6
  max_active_chunks: 2
pool:
  size: 4
disks:
  - name: fast
    root: ~/chunks/fast
  - name: slow
    root: /srv/slow
placement: hash
executor:
  block_size: 64K
  cache_size: 1GiB
  bandwidth: 100MiB/s
history:
  enabled: false
  keep: 3
  ttl: 24h
logging:
  level: debug
  components:
    scheduler: warn
`)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
	if cfg.Scheduler.MaxThreads != 6 || cfg.Scheduler.MaxActiveChunks != 2 || cfg.Pool.Size != 4 {
		t.Errorf("scheduler/pool = %+v %+v", cfg.Scheduler, cfg.Pool)
	}
	if len(cfg.Disks) != 2 {
		t.Fatalf("len(Disks) = %d, want 2", len(cfg.Disks))
	}
	if want := filepath.Join(home, "chunks", "fast"); cfg.Disks[0].Root != want {
		t.Errorf("Disks[0].Root = %q, want %q", cfg.Disks[0].Root, want)
	}
	if cfg.Placement != PlacementHash {
		t.Errorf("Placement = %q, want hash", cfg.Placement)
	}
	if bs, _ := cfg.BlockSize(); bs != 64*1024 {
		t.Errorf("BlockSize() = %d, want 65536", bs)
	}
	if cs, _ := cfg.CacheSize(); cs != 1<<30 {
		t.Errorf("CacheSize() = %d, want 1GiB", cs)
	}
	if bw, _ := cfg.Bandwidth(); bw != 100<<20 {
		t.Errorf("Bandwidth() = %d, want 100MiB", bw)
	}
	if cfg.History.Enabled || cfg.History.Keep != 3 || cfg.History.TTL != 24*time.Hour {
		t.Errorf("History = %+v", cfg.History)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Components["scheduler"] != "warn" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, t.TempDir(), "scheduler:\n  name: custom\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error = %v", path, err)
	}
	if cfg.Scheduler.Name != "custom" {
		t.Errorf("Scheduler.Name = %q, want custom", cfg.Scheduler.Name)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing explicit file should fail")
	}
}

func TestLoad_XDGConfigHome(t *testing.T) {
	tempDir := isolate(t)
	xdgHome := filepath.Join(tempDir, "xdg-config")
	t.Setenv("XDG_CONFIG_HOME", xdgHome)
	writeConfig(t, filepath.Join(xdgHome, "scanshare"), "scheduler:\n  max_threads: 3\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.MaxThreads != 3 {
		t.Errorf("Scheduler.MaxThreads = %d, want 3", cfg.Scheduler.MaxThreads)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("SCANSHARE_SCHEDULER_MAX_THREADS", "12")
	t.Setenv("SCANSHARE_PLACEMENT", "hash")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.MaxThreads != 12 {
		t.Errorf("Scheduler.MaxThreads = %d, want 12", cfg.Scheduler.MaxThreads)
	}
	if cfg.Placement != PlacementHash {
		t.Errorf("Placement = %q, want hash", cfg.Placement)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative threads", "scheduler:\n  max_threads: -1\n"},
		{"bad placement", "placement: random\n"},
		{"bad block size", "executor:\n  block_size: big\n"},
		{"zero block size", "executor:\n  block_size: \"0\"\n"},
		{"bad bandwidth", "executor:\n  bandwidth: fast\n"},
		{"duplicate disk", "disks:\n  - {name: a, root: /a}\n  - {name: a, root: /b}\n"},
		{"disk without root", "disks:\n  - {name: a}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("uses XDG_CONFIG_HOME when set", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		dir, err := ConfigDir()
		if err != nil {
			t.Fatalf("ConfigDir() error = %v", err)
		}
		if dir != "/custom/config/scanshare" {
			t.Errorf("ConfigDir() = %q, want /custom/config/scanshare", dir)
		}
	})

	t.Run("uses HOME/.config when XDG_CONFIG_HOME not set", func(t *testing.T) {
		home := isolate(t)
		dir, err := ConfigDir()
		if err != nil {
			t.Fatalf("ConfigDir() error = %v", err)
		}
		if want := filepath.Join(home, ".config", "scanshare"); dir != want {
			t.Errorf("ConfigDir() = %q, want %q", dir, want)
		}
	})
}

func TestWriteDefault(t *testing.T) {
	home := isolate(t)

	path, created, err := WriteDefault("")
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if !created {
		t.Error("WriteDefault() created = false on first call")
	}
	if want := filepath.Join(home, ".config", "scanshare", "config.yaml"); path != want {
		t.Errorf("WriteDefault() path = %q, want %q", path, want)
	}

	// The written file must load cleanly.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(default file) error = %v", err)
	}
	if cfg.Placement != DefaultPlacement {
		t.Errorf("Placement = %q, want %q", cfg.Placement, DefaultPlacement)
	}

	_, created, err = WriteDefault("")
	if err != nil {
		t.Fatalf("second WriteDefault() error = %v", err)
	}
	if created {
		t.Error("WriteDefault() overwrote an existing file")
	}
}

func TestExpandPath(t *testing.T) {
	home := isolate(t)
	got, err := ExpandPath("~/x")
	if err != nil {
		t.Fatalf("ExpandPath() error = %v", err)
	}
	if want := filepath.Join(home, "x"); got != want {
		t.Errorf("ExpandPath(~/x) = %q, want %q", got, want)
	}
	if got, _ := ExpandPath("/abs"); got != "/abs" {
		t.Errorf("ExpandPath(/abs) = %q", got)
	}
}
