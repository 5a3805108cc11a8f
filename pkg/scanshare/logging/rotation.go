package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const rotatedTimeFormat = "20060102-150405.000"

// RotationConfig controls when the log file is rolled over.
type RotationConfig struct {
	// MaxSize is the size in bytes that triggers rotation. Zero means 10MiB.
	MaxSize int64

	// MaxAge removes rotated files older than this many days. Zero keeps them.
	MaxAge int

	// MaxBackups caps the number of rotated files. Zero keeps all.
	MaxBackups int

	// Daily rotates on the first write after midnight.
	Daily bool
}

// DefaultRotationConfig returns the rotation used when none is configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    10 << 20,
		MaxAge:     14,
		MaxBackups: 5,
		Daily:      true,
	}
}

// RotatingWriter is an io.WriteCloser that rolls the file over by size and
// by day. Rotated files are named <base>.<timestamp><ext>.
type RotatingWriter struct {
	mu     sync.Mutex
	path   string
	cfg    RotationConfig
	file   *os.File
	size   int64
	opened time.Time

	now func() time.Time
}

// NewRotatingWriter opens path for appending, creating parent directories.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultRotationConfig().MaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, cfg: cfg, now: time.Now}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.due(int64(len(p))) {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing log file: %w", err)
	}
	return n, nil
}

// Close syncs and closes the file. Further writes fail with os.ErrClosed.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return fmt.Errorf("syncing log file: %w", syncErr)
	}
	return closeErr
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	w.opened = info.ModTime()
	if w.size == 0 {
		w.opened = w.now()
	}
	return nil
}

func (w *RotatingWriter) due(n int64) bool {
	if w.size > 0 && w.size+n > w.cfg.MaxSize {
		return true
	}
	if !w.cfg.Daily {
		return false
	}
	y1, m1, d1 := w.opened.Date()
	y2, m2, d2 := w.now().Date()
	return w.size > 0 && (y1 != y2 || m1 != m2 || d1 != d2)
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing current file: %w", err)
	}
	w.file = nil

	if err := os.Rename(w.path, w.rotatedName(w.now())); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}
	w.prune()
	return nil
}

func (w *RotatingWriter) rotatedName(t time.Time) string {
	ext := filepath.Ext(w.path)
	return strings.TrimSuffix(w.path, ext) + "." + t.Format(rotatedTimeFormat) + ext
}

// backups lists rotated files, newest first.
func (w *RotatingWriter) backups() []string {
	ext := filepath.Ext(w.path)
	pattern := strings.TrimSuffix(w.path, ext) + ".*" + ext
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	out := matches[:0]
	for _, m := range matches {
		if m != w.path {
			out = append(out, m)
		}
	}
	// The timestamp format sorts lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

func (w *RotatingWriter) prune() {
	cutoff := time.Time{}
	if w.cfg.MaxAge > 0 {
		cutoff = w.now().AddDate(0, 0, -w.cfg.MaxAge)
	}
	for i, path := range w.backups() {
		drop := w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups
		if !drop && !cutoff.IsZero() {
			if info, err := os.Stat(path); err == nil && info.ModTime().Before(cutoff) {
				drop = true
			}
		}
		if drop {
			_ = os.Remove(path)
		}
	}
}
