package catalog

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"golang.org/x/sync/errgroup"
)

// ScanError records a path that could not be read during a scan.
type ScanError struct {
	Path string `json:"path" yaml:"path"`
	Err  string `json:"error" yaml:"error"`
}

// ScanResult summarises a catalog scan.
type ScanResult struct {
	Chunks     int           `json:"chunks" yaml:"chunks"`
	Duplicates int           `json:"duplicates" yaml:"duplicates"`
	Files      int64         `json:"files" yaml:"files"`
	Bytes      int64         `json:"bytes" yaml:"bytes"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
	Errors     []ScanError   `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type diskWalk struct {
	mu      sync.Mutex
	entries []Entry
	files   int64
	errors  []ScanError
}

// Scan walks every disk root and replaces the inventory with the chunk files
// found. Disks are walked in parallel. When a chunk appears on more than one
// disk, the disk listed first wins.
func (c *Catalog) Scan(ctx context.Context) (*ScanResult, error) {
	start := time.Now()
	walks := make([]*diskWalk, len(c.disks))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range c.disks {
		walks[i] = &diskWalk{}
		g.Go(func() error {
			return walkDisk(gctx, d, walks[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &ScanResult{}
	found := make(map[int]Entry)
	for _, w := range walks {
		res.Files += w.files
		res.Errors = append(res.Errors, w.errors...)
		for _, e := range w.entries {
			if prev, dup := found[e.Chunk]; dup {
				res.Duplicates++
				c.logger.Warn("chunk on more than one disk", "chunk", e.Chunk,
					"kept", prev.Path, "ignored", e.Path)
				continue
			}
			found[e.Chunk] = e
		}
	}

	for _, id := range c.Chunks() {
		if _, ok := found[id]; !ok {
			c.Remove(id)
		}
	}
	for _, e := range found {
		if err := c.Add(e); err != nil {
			return nil, err
		}
		res.Bytes += e.Size
	}

	res.Chunks = len(found)
	res.Elapsed = time.Since(start)
	c.logger.Info("catalog scanned", "chunks", res.Chunks, "files", res.Files,
		"errors", len(res.Errors), "elapsed", res.Elapsed)
	return res, nil
}

func walkDisk(ctx context.Context, d Disk, w *diskWalk) error {
	root, err := filepath.Abs(d.Root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(root); err != nil {
		return err
	}

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(path string, de fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fastwalk.ErrSkipFiles
		}
		if err != nil {
			w.mu.Lock()
			w.errors = append(w.errors, ScanError{Path: path, Err: err.Error()})
			w.mu.Unlock()
			return nil
		}
		if !de.Type().IsRegular() {
			return nil
		}

		chunk, ok := ParseFileName(de.Name())
		if !ok {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil //nolint:nilerr // removed during the walk
		}

		w.mu.Lock()
		w.files++
		w.entries = append(w.entries, Entry{
			Chunk:   chunk,
			Disk:    d.Name,
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		w.mu.Unlock()
		return nil
	})
	if err != nil && !errors.Is(err, fastwalk.ErrSkipFiles) {
		return err
	}
	return ctx.Err()
}

// find looks for chunk's file directly below each disk root.
func (c *Catalog) find(chunk int) (Entry, bool) {
	for _, d := range c.disks {
		path := filepath.Join(d.Root, FileName(chunk))
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return Entry{Chunk: chunk, Disk: d.Name, Path: path, Size: info.Size(), ModTime: info.ModTime()}, true
	}
	return Entry{}, false
}
