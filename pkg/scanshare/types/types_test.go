package types

import (
	"errors"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr error
	}{
		{"4096", 4096, nil},
		{"100b", 100, nil},
		{"64K", 64 * KiB, nil},
		{"64KB", 64 * KiB, nil},
		{"64KiB", 64 * KiB, nil},
		{"1.5MiB", 3 * MiB / 2, nil},
		{"2GB", 2 * GiB, nil},
		{"1T", TiB, nil},
		{" 8M ", 8 * MiB, nil},
		{"", 0, ErrInvalidSize},
		{"-1K", 0, ErrNegativeSize},
		{"lots", 0, ErrInvalidSize},
		{"B", 0, ErrInvalidSize},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseSize(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSize(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1536, "1.5 KiB"},
		{MiB, "1.0 MiB"},
		{-KiB, "-1.0 KiB"},
	}

	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"200MiB/s", 200 * MiB},
		{"1G", GiB},
		{"0", 0},
		{"512K/s", 512 * KiB},
	}

	for _, tt := range tests {
		got, err := ParseRate(tt.input)
		if err != nil {
			t.Errorf("ParseRate(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRate(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}

	if _, err := ParseRate("fast/s"); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("ParseRate(fast/s) error = %v, want ErrInvalidSize", err)
	}

	if got := FormatRate(0); got != "unlimited" {
		t.Errorf("FormatRate(0) = %q, want unlimited", got)
	}
	if got := FormatRate(MiB); got != "1.0 MiB/s" {
		t.Errorf("FormatRate(MiB) = %q", got)
	}
}

func TestSizeYAML(t *testing.T) {
	var doc struct {
		Block Size `yaml:"block"`
	}
	if err := yaml.Unmarshal([]byte("block: 64KiB\n"), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int64(doc.Block) != 64*KiB {
		t.Errorf("block = %d, want %d", doc.Block, 64*KiB)
	}

	if err := yaml.Unmarshal([]byte("block: huge\n"), &doc); err == nil {
		t.Error("expected error for invalid size")
	}
}

func TestRunProgress(t *testing.T) {
	p := RunProgress{Submitted: 4, Completed: 4, BytesRead: 10 * MiB, Elapsed: 2 * time.Second}
	if !p.Done() {
		t.Error("Done() = false, want true")
	}
	if got := p.Throughput(); got != float64(5*MiB) {
		t.Errorf("Throughput() = %v, want %v", got, float64(5*MiB))
	}
	if (RunProgress{}).Done() {
		t.Error("empty progress reported done")
	}
	if (RunProgress{}).Throughput() != 0 {
		t.Error("zero elapsed should give zero throughput")
	}
}
