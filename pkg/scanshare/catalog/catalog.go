// Package catalog keeps the inventory of chunk files a worker can scan: which
// chunks exist, and on which disk each one lives.
//
// Chunk files are named chunk_<id>.<ext> and may sit anywhere below a disk
// root. The catalog is filled by Scan, kept current by a Watcher, and edited
// directly by chunk group control commands.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jamesainslie/scanshare/pkg/scanshare/events"
	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
	"github.com/jamesainslie/scanshare/pkg/scanshare/metrics"
	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

// FileExt is the extension used for generated chunk files.
const FileExt = ".dat"

var (
	// ErrUnknownDisk is returned for entries naming a disk the catalog does
	// not have.
	ErrUnknownDisk = errors.New("unknown disk")

	// ErrChunkMissing is returned when a chunk group names a chunk with no
	// file on any disk.
	ErrChunkMissing = errors.New("chunk file missing")

	// ErrUnsupportedControl is returned by Apply for controls that do not
	// change the inventory.
	ErrUnsupportedControl = errors.New("control does not change the inventory")
)

var fileNamePattern = regexp.MustCompile(`^chunk_(-?\d+)(\.[A-Za-z0-9]+)?$`)

// FileName returns the file name of a chunk.
func FileName(chunk int) string {
	return "chunk_" + strconv.Itoa(chunk) + FileExt
}

// ParseFileName extracts the chunk id from a chunk file name.
func ParseFileName(name string) (int, bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// Disk is a storage root.
type Disk struct {
	Name string `mapstructure:"name" json:"name" yaml:"name"`
	Root string `mapstructure:"root" json:"root" yaml:"root"`
}

// Entry locates one chunk.
type Entry struct {
	Chunk   int       `json:"chunk" yaml:"chunk"`
	Disk    string    `json:"disk" yaml:"disk"`
	Path    string    `json:"path" yaml:"path"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
}

// Placer receives chunk to disk index updates. *scheduler.CatalogPlacement
// implements it.
type Placer interface {
	Set(chunk, disk int)
	Remove(chunk int)
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithPlacer keeps p in step with the catalog.
func WithPlacer(p Placer) Option {
	return func(c *Catalog) { c.placer = p }
}

// WithEvents publishes ChunkAdded and ChunkRemoved events to b.
func WithEvents(b *events.Broadcaster) Option {
	return func(c *Catalog) { c.events = b }
}

// WithLogger sets the catalog logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// Catalog is the chunk inventory. It is safe for concurrent use.
type Catalog struct {
	disks  []Disk
	placer Placer
	events *events.Broadcaster
	logger *logging.Logger

	mu      sync.RWMutex
	entries map[int]Entry
}

// New creates an empty catalog over disks.
func New(disks []Disk, opts ...Option) (*Catalog, error) {
	if len(disks) == 0 {
		return nil, errors.New("catalog needs at least one disk")
	}
	seen := make(map[string]bool, len(disks))
	for _, d := range disks {
		if d.Name == "" || d.Root == "" {
			return nil, fmt.Errorf("disk %q: name and root are required", d.Name)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("disk %q listed twice", d.Name)
		}
		seen[d.Name] = true
	}

	c := &Catalog{
		disks:   append([]Disk(nil), disks...),
		logger:  logging.Get("catalog"),
		entries: make(map[int]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.updateGauges()
	return c, nil
}

// Disks returns the configured disks in index order.
func (c *Catalog) Disks() []Disk {
	return append([]Disk(nil), c.disks...)
}

// DiskIndex returns the position of the named disk.
func (c *Catalog) DiskIndex(name string) (int, bool) {
	for i, d := range c.disks {
		if d.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Add records e, replacing any previous location of the chunk.
func (c *Catalog) Add(e Entry) error {
	idx, ok := c.DiskIndex(e.Disk)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDisk, e.Disk)
	}

	c.mu.Lock()
	prev, existed := c.entries[e.Chunk]
	c.entries[e.Chunk] = e
	c.mu.Unlock()

	if c.placer != nil {
		c.placer.Set(e.Chunk, idx)
	}
	if existed && prev.Disk == e.Disk && prev.Path == e.Path {
		return nil
	}
	if existed {
		c.logger.Warn("chunk moved", "chunk", e.Chunk, "from", prev.Path, "to", e.Path)
	}
	c.updateGauges()
	c.events.Publish(events.Event{Type: events.ChunkAdded, Disk: e.Disk, Chunk: e.Chunk})
	return nil
}

// Remove forgets chunk. It reports whether the chunk was known.
func (c *Catalog) Remove(chunk int) bool {
	c.mu.Lock()
	prev, ok := c.entries[chunk]
	delete(c.entries, chunk)
	c.mu.Unlock()
	if !ok {
		return false
	}

	if c.placer != nil {
		c.placer.Remove(chunk)
	}
	c.updateGauges()
	c.events.Publish(events.Event{Type: events.ChunkRemoved, Disk: prev.Disk, Chunk: chunk})
	return true
}

// RemovePath forgets the chunk stored at path, if any.
func (c *Catalog) RemovePath(path string) bool {
	c.mu.RLock()
	chunk, found := 0, false
	for id, e := range c.entries {
		if e.Path == path {
			chunk, found = id, true
			break
		}
	}
	c.mu.RUnlock()
	if !found {
		return false
	}
	return c.Remove(chunk)
}

// Get returns the entry of chunk.
func (c *Catalog) Get(chunk int) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[chunk]
	return e, ok
}

// Locate implements executor.Locator.
func (c *Catalog) Locate(chunk int) (string, string, bool) {
	e, ok := c.Get(chunk)
	return e.Disk, e.Path, ok
}

// Len returns the number of known chunks.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Chunks returns the known chunk ids in ascending order.
func (c *Catalog) Chunks() []int {
	c.mu.RLock()
	ids := make([]int, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// Entries returns every entry ordered by chunk id.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Chunk < out[j].Chunk })
	return out
}

// Locations returns the chunk to disk index map, suitable for seeding a
// scheduler.CatalogPlacement.
func (c *Catalog) Locations() map[int]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc := make(map[int]int, len(c.entries))
	for id, e := range c.entries {
		if idx, ok := c.DiskIndex(e.Disk); ok {
			loc[id] = idx
		}
	}
	return loc
}

// Apply executes a chunk group control. Adding a group looks for each chunk's
// file on the disks; chunks without a file are reported together and the
// rest are still added.
func (c *Catalog) Apply(ctrl *task.Control) error {
	switch ctrl.Kind {
	case task.ControlAddChunkGroup:
		var errs []error
		for _, chunk := range ctrl.Chunks {
			e, ok := c.find(chunk)
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %d", ErrChunkMissing, chunk))
				continue
			}
			if err := c.Add(e); err != nil {
				errs = append(errs, err)
			}
		}
		c.logger.Info("chunk group added", "chunks", len(ctrl.Chunks), "failed", len(errs))
		return errors.Join(errs...)

	case task.ControlRemoveChunkGroup:
		removed := 0
		for _, chunk := range ctrl.Chunks {
			if c.Remove(chunk) {
				removed++
			}
		}
		c.logger.Info("chunk group removed", "chunks", len(ctrl.Chunks), "removed", removed)
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedControl, ctrl.Kind)
	}
}

func (c *Catalog) updateGauges() {
	counts := make(map[string]int, len(c.disks))
	c.mu.RLock()
	for _, e := range c.entries {
		counts[e.Disk]++
	}
	c.mu.RUnlock()
	for _, d := range c.disks {
		metrics.ChunksKnown.WithLabelValues(d.Name).Set(float64(counts[d.Name]))
	}
}
