package catalog

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// SortField selects the ordering of filtered entries.
type SortField string

const (
	SortChunk SortField = "chunk"
	SortSize  SortField = "size"
	SortAge   SortField = "age"
	SortDisk  SortField = "disk"
)

// ParseSortField validates a sort field name.
func ParseSortField(s string) (SortField, error) {
	switch f := SortField(strings.ToLower(strings.TrimSpace(s))); f {
	case SortChunk, SortSize, SortAge, SortDisk:
		return f, nil
	case "":
		return SortChunk, nil
	default:
		return "", fmt.Errorf("invalid sort field %q (want chunk, size, age or disk)", s)
	}
}

// Filter selects, orders and limits catalog entries.
type Filter struct {
	MinSize int64
	MaxSize int64

	// Disks restricts entries to the named disks.
	Disks []string

	// Chunks restricts entries to the listed ids. Nil means any chunk.
	Chunks []int

	// Include and Exclude are glob patterns matched against the entry path.
	Include []string
	Exclude []string

	OlderThan time.Duration
	NewerThan time.Duration

	SortBy         SortField
	SortDescending bool

	// Limit caps the result. 0 means unlimited.
	Limit int

	include []glob.Glob
	exclude []glob.Glob
	now     func() time.Time
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// NewFilter returns a filter ordered by chunk id with no limit. Invalid glob
// patterns are reported here rather than skipped at match time.
func NewFilter(opts ...FilterOption) (*Filter, error) {
	f := &Filter{SortBy: SortChunk, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}

	var err error
	if f.include, err = compileGlobs(f.Include); err != nil {
		return nil, err
	}
	if f.exclude, err = compileGlobs(f.Exclude); err != nil {
		return nil, err
	}
	return f, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// WithSizeRange keeps entries with min <= size <= max. A max of 0 means no
// upper bound.
func WithSizeRange(minSize, maxSize int64) FilterOption {
	return func(f *Filter) {
		f.MinSize = max(minSize, 0)
		f.MaxSize = max(maxSize, 0)
	}
}

// WithDisks keeps entries on the named disks.
func WithDisks(names ...string) FilterOption {
	return func(f *Filter) { f.Disks = names }
}

// WithChunks keeps the listed chunk ids.
func WithChunks(ids ...int) FilterOption {
	return func(f *Filter) { f.Chunks = ids }
}

// WithInclude sets path globs of which at least one must match.
func WithInclude(patterns ...string) FilterOption {
	return func(f *Filter) { f.Include = patterns }
}

// WithExclude sets path globs that drop an entry.
func WithExclude(patterns ...string) FilterOption {
	return func(f *Filter) { f.Exclude = patterns }
}

// WithAge keeps entries modified more than olderThan ago and less than
// newerThan ago. Zero disables either bound.
func WithAge(olderThan, newerThan time.Duration) FilterOption {
	return func(f *Filter) {
		f.OlderThan = olderThan
		f.NewerThan = newerThan
	}
}

// WithSort sets the ordering.
func WithSort(field SortField, descending bool) FilterOption {
	return func(f *Filter) {
		f.SortBy = field
		f.SortDescending = descending
	}
}

// WithLimit caps the number of entries returned.
func WithLimit(n int) FilterOption {
	return func(f *Filter) { f.Limit = max(n, 0) }
}

// Match reports whether e passes every criterion.
func (f *Filter) Match(e Entry) bool {
	if f.MinSize > 0 && e.Size < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && e.Size > f.MaxSize {
		return false
	}
	if len(f.Disks) > 0 && !slices.Contains(f.Disks, e.Disk) {
		return false
	}
	if f.Chunks != nil && !slices.Contains(f.Chunks, e.Chunk) {
		return false
	}
	if !f.matchAge(e.ModTime) {
		return false
	}
	if matchesAny(f.exclude, e.Path) {
		return false
	}
	return len(f.include) == 0 || matchesAny(f.include, e.Path)
}

func (f *Filter) matchAge(mod time.Time) bool {
	now := f.now()
	if f.OlderThan > 0 && mod.After(now.Add(-f.OlderThan)) {
		return false
	}
	if f.NewerThan > 0 && mod.Before(now.Add(-f.NewerThan)) {
		return false
	}
	return true
}

func matchesAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Sort returns a sorted copy of entries. Ties fall back to chunk id.
func (f *Filter) Sort(entries []Entry) []Entry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		var r int
		switch f.SortBy {
		case SortSize:
			r = cmp.Compare(a.Size, b.Size)
		case SortAge:
			// older first
			r = a.ModTime.Compare(b.ModTime)
		case SortDisk:
			r = cmp.Compare(a.Disk, b.Disk)
		}
		if r == 0 {
			r = cmp.Compare(a.Chunk, b.Chunk)
		}
		if f.SortDescending {
			return -r
		}
		return r
	})
	return sorted
}

// Apply matches, sorts and limits entries.
func (f *Filter) Apply(entries []Entry) []Entry {
	matched := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			matched = append(matched, e)
		}
	}
	sorted := f.Sort(matched)
	if f.Limit > 0 && len(sorted) > f.Limit {
		return sorted[:f.Limit]
	}
	return sorted
}

// ChunkIDs returns the chunk ids of entries in order.
func ChunkIDs(entries []Entry) []int {
	ids := make([]int, len(entries))
	for i, e := range entries {
		ids[i] = e.Chunk
	}
	return ids
}

// Duration units beyond time.ParseDuration's.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var (
	// ErrInvalidDuration is returned by ParseAge.
	ErrInvalidDuration = errors.New("invalid duration format")
	// ErrInvalidChunkRange is returned by ParseChunkRange.
	ErrInvalidChunkRange = errors.New("invalid chunk range")
)

var agePattern = regexp.MustCompile(`(?i)^([0-9]+(?:\.[0-9]+)?)\s*(d|w|mo|y)$`)

// ParseAge parses "30d", "2w", "3mo", "1y" or any time.ParseDuration string.
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidDuration)
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidDuration, s)
	}

	m := agePattern.FindStringSubmatch(s)
	if m == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		return d, nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "d":
		unit = Day
	case "w":
		unit = Week
	case "mo":
		unit = Month
	case "y":
		unit = Year
	}
	return time.Duration(v * float64(unit)), nil
}

// ParseChunkRange parses a list like "1-4,9,12-13" into ascending, unique
// chunk ids.
func ParseChunkRange(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidChunkRange)
	}

	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidChunkRange, part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || last < first {
				return nil, fmt.Errorf("%w: %q", ErrInvalidChunkRange, part)
			}
		}
		for id := first; id <= last; id++ {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}
