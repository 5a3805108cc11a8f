package logging_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{" warn ", logging.LevelWarn, false},
		{"error", logging.LevelError, false},
		{"verbose", logging.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, logging.ErrInvalidLevel) {
				t.Errorf("error %v does not wrap ErrInvalidLevel", err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     logging.Config
		wantErr bool
	}{
		{
			name: "defaults",
			cfg:  logging.Config{Level: "info", Path: filepath.Join(dir, "a.log")},
		},
		{
			name: "component overrides",
			cfg: logging.Config{
				Level:      "warn",
				Path:       filepath.Join(dir, "b.log"),
				Components: map[string]string{"scheduler": "debug"},
			},
		},
		{
			name:    "bad level",
			cfg:     logging.Config{Level: "loud", Path: filepath.Join(dir, "c.log")},
			wantErr: true,
		},
		{
			name: "bad component level",
			cfg: logging.Config{
				Level:      "info",
				Path:       filepath.Join(dir, "d.log"),
				Components: map[string]string{"pool": "nope"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := logging.Init(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := logging.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestComponentLevelWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanshare.log")
	err := logging.Init(logging.Config{
		Level:      "warn",
		Path:       path,
		Components: map[string]string{"scheduler": "debug"},
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	logging.Get("scheduler").Debug("enqueue", "seq", 7, "chunk", 3)
	logging.Get("pool").Info("worker started")

	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "enqueue") || !strings.Contains(out, "seq=7") {
		t.Errorf("scheduler debug record missing from log:\n%s", out)
	}
	if strings.Contains(out, "worker started") {
		t.Errorf("pool info record should be filtered at warn:\n%s", out)
	}
}

func TestSubscribeFiltersByLevel(t *testing.T) {
	if err := logging.Init(logging.Config{Level: "error", Path: filepath.Join(t.TempDir(), "x.log")}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer logging.Close()

	ch := logging.Subscribe(logging.LevelWarn)
	defer logging.Unsubscribe(ch)

	log := logging.Get("scheduler")
	if !log.Enabled(logging.LevelDebug) {
		t.Errorf("Enabled(debug) = false with an active subscriber")
	}

	log.Debug("quiet")
	log.Warn("dropping command", "command", "echo")

	select {
	case e := <-ch:
		if e.Message != "dropping command" {
			t.Fatalf("got %q, want the warning", e.Message)
		}
		if e.Component != "scheduler" || e.Level != logging.LevelWarn {
			t.Errorf("unexpected entry %+v", e)
		}
		if v, ok := e.Field("command"); !ok || v != "echo" {
			t.Errorf("Field(command) = %v, %v", v, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("no entry delivered")
	}

	select {
	case e := <-ch:
		t.Errorf("unexpected extra entry %+v", e)
	default:
	}
}

func TestWithCarriesFields(t *testing.T) {
	if err := logging.Init(logging.Config{Level: "info", Path: filepath.Join(t.TempDir(), "w.log")}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer logging.Close()

	ch := logging.Subscribe(logging.LevelDebug)
	defer logging.Unsubscribe(ch)

	logging.Get("chunkdisk").With("disk", "d0").Info("starting chunk scan", "chunk", 4)

	e := <-ch
	if v, _ := e.Field("disk"); v != "d0" {
		t.Errorf("disk field = %v, want d0", v)
	}
	if v, _ := e.Field("chunk"); v != 4 {
		t.Errorf("chunk field = %v, want 4", v)
	}
}

func TestTUIModeBuffer(t *testing.T) {
	if err := logging.Init(logging.Config{Level: "info", Path: filepath.Join(t.TempDir(), "t.log"), TUIMode: true}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer logging.Close()

	buf := logging.Buffer()
	if buf == nil {
		t.Fatal("Buffer() = nil in TUI mode")
	}
	logging.Get("pool").Info("worker started")
	logging.Get("pool").Debug("not buffered")

	if got := buf.Len(); got != 1 {
		t.Errorf("buffer Len() = %d, want 1", got)
	}
}

func TestDefaultLogPath(t *testing.T) {
	p := logging.DefaultLogPath()
	if !strings.HasSuffix(p, filepath.Join("scanshare", "scanshare.log")) {
		t.Errorf("DefaultLogPath() = %q", p)
	}
}
