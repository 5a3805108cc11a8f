package catalog

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
)

// Watcher keeps a Catalog in step with chunk files appearing and
// disappearing below the disk roots.
type Watcher struct {
	catalog *Catalog
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	mu     sync.Mutex
	dirs   map[string]string // watched directory -> disk name
	closed bool
}

// NewWatcher creates a watcher for c. Call Watch or WatchAll, then Run.
func NewWatcher(c *Catalog) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		catalog: c,
		watcher: fsw,
		logger:  logging.Get("watcher"),
		dirs:    make(map[string]string),
	}, nil
}

// WatchAll watches every disk of the catalog.
func (w *Watcher) WatchAll() error {
	for _, d := range w.catalog.Disks() {
		if err := w.Watch(d); err != nil {
			return err
		}
	}
	return nil
}

// Watch adds watches on d's root and every directory below it. Symlinks are
// not followed.
func (w *Watcher) Watch(d Disk) error {
	root, err := filepath.Abs(d.Root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(root); err != nil {
		return err
	}
	return w.addTree(root, d.Name)
}

func (w *Watcher) addTree(root, disk string) error {
	return filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if de.Type()&fs.ModeSymlink != 0 || !de.IsDir() {
			return nil
		}
		return w.add(path, disk)
	})
}

func (w *Watcher) add(dir, disk string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.dirs[dir] != "" {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("failed to add watch", "path", dir, "error", err)
		return err
	}
	w.dirs[dir] = disk
	return nil
}

// Watching returns the number of watched directories.
func (w *Watcher) Watching() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Run processes file events until ctx ends or the watcher is closed.
// onChange, if set, is called after each chunk file event is applied.
func (w *Watcher) Run(ctx context.Context, onChange func(path string, op fsnotify.Op)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handle(ev) && onChange != nil {
				onChange(ev.Name, ev.Op)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handle applies ev and reports whether it concerned a chunk file.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		return w.created(ev.Name)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.forgetDir(ev.Name)
		return w.catalog.RemovePath(ev.Name)
	}
	return false
}

func (w *Watcher) created(path string) bool {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&fs.ModeSymlink != 0 {
		return false
	}
	disk := w.diskOf(filepath.Dir(path))
	if disk == "" {
		return false
	}

	if info.IsDir() {
		_ = w.addTree(path, disk)
		return false
	}
	chunk, ok := ParseFileName(info.Name())
	if !ok || !info.Mode().IsRegular() {
		return false
	}

	err = w.catalog.Add(Entry{
		Chunk:   chunk,
		Disk:    disk,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	})
	if err != nil {
		w.logger.Warn("failed to add chunk", "path", path, "error", err)
		return false
	}
	return true
}

func (w *Watcher) diskOf(dir string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirs[dir]
}

func (w *Watcher) forgetDir(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := range w.dirs {
		if dir == path || isSubPath(dir, path) {
			_ = w.watcher.Remove(dir)
			delete(w.dirs, dir)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.dirs = make(map[string]string)
	return w.watcher.Close()
}

func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
