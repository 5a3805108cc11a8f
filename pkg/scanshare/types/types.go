// Package types holds small value types shared by the scanshare packages:
// byte sizes and bandwidths as written in config files, and run progress.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Binary size units.
const (
	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
	GiB int64 = 1 << 30
	TiB int64 = 1 << 40
)

var (
	// ErrInvalidSize indicates a size string that could not be parsed.
	ErrInvalidSize = errors.New("invalid size format")

	// ErrNegativeSize indicates a negative size.
	ErrNegativeSize = errors.New("size cannot be negative")
)

// ParseSize parses sizes such as "4096", "64K", "1.5MiB" or "2GB". Single
// letter and "xB" suffixes are binary, so "1M" and "1MB" are both 1 MiB.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	n, err := humanize.ParseBytes(binarySuffix(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return int64(n), nil
}

// binarySuffix rewrites "K", "KB" and friends to "KiB" so that humanize
// reads them as powers of two.
func binarySuffix(s string) string {
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "IB") {
		return s
	}
	trimmed := strings.TrimSuffix(upper, "B")
	if trimmed == "" {
		return s
	}
	switch unit := trimmed[len(trimmed)-1]; unit {
	case 'K', 'M', 'G', 'T', 'P':
		return strings.TrimSpace(trimmed[:len(trimmed)-1]) + string(unit) + "iB"
	}
	return s
}

// FormatSize formats bytes with binary units, e.g. "1.5 MiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// Size is a byte count that reads and writes human units in config files.
type Size int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Size) UnmarshalText(b []byte) error {
	n, err := ParseSize(string(b))
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Size) String() string { return FormatSize(int64(s)) }

// ParseRate parses a bandwidth such as "200MiB/s" or "1G". A missing "/s"
// is accepted. Zero means unlimited.
func ParseRate(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	for _, suffix := range []string{"/s", "ps"} {
		if strings.HasSuffix(lower, suffix) {
			trimmed = trimmed[:len(trimmed)-len(suffix)]
			break
		}
	}
	n, err := ParseSize(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parsing rate %q: %w", s, err)
	}
	return n, nil
}

// FormatRate formats a bandwidth, or "unlimited" for zero.
func FormatRate(bytesPerSec int64) string {
	if bytesPerSec <= 0 {
		return "unlimited"
	}
	return FormatSize(bytesPerSec) + "/s"
}

// RunProgress is a snapshot of a workload run, reported to progress
// callbacks and the status view.
type RunProgress struct {
	Submitted  int           `json:"submitted"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	InFlight   int           `json:"in_flight"`
	QueueSize  int           `json:"queue_size"`
	BytesRead  int64         `json:"bytes_read"`
	Elapsed    time.Duration `json:"elapsed"`
	ActiveInfo string        `json:"active_info,omitempty"`
}

// Throughput returns bytes read per second of elapsed time.
func (p RunProgress) Throughput() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.BytesRead) / p.Elapsed.Seconds()
}

// Done reports whether every submitted task has finished.
func (p RunProgress) Done() bool {
	return p.Submitted > 0 && p.Completed >= p.Submitted
}
