// Package executor runs scan tasks against chunk files on local disks.
//
// Tasks that share a chunk are scheduled together, so a ChunkReader keeps a
// block cache in front of the files: the second task of a shared scan reads
// from memory instead of disk.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
	"github.com/jamesainslie/scanshare/pkg/scanshare/metrics"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

// DefaultBlockSize is the read granularity when none is configured.
const DefaultBlockSize = 256 * types.KiB

// ErrStopScan can be returned by a block callback to end a scan early
// without an error.
var ErrStopScan = errors.New("stop scan")

// ReaderOptions configures a ChunkReader.
type ReaderOptions struct {
	// BlockSize is the size of one read and one cache entry.
	BlockSize int64

	// CacheSize is the block cache capacity in bytes. Zero disables caching.
	CacheSize int64

	// Bandwidth caps disk reads per disk in bytes per second. Zero is
	// unlimited. Cache hits are not throttled.
	Bandwidth int64

	Logger *logging.Logger
}

type blockKey struct {
	path    string
	modTime int64
	index   int64
}

// ReaderStats counts cache behaviour.
type ReaderStats struct {
	Hits      uint64 `json:"hits" yaml:"hits"`
	Misses    uint64 `json:"misses" yaml:"misses"`
	BytesRead uint64 `json:"bytes_read" yaml:"bytes_read"`
	Cached    int    `json:"cached_blocks" yaml:"cached_blocks"`
}

// ChunkReader reads chunk files block by block. It is safe for concurrent
// use.
type ChunkReader struct {
	blockSize int64
	bandwidth int64
	cache     *lru.Cache[blockKey, []byte]
	logger    *logging.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	hits      atomic.Uint64
	misses    atomic.Uint64
	bytesRead atomic.Uint64
}

// NewChunkReader creates a reader.
func NewChunkReader(opts ReaderOptions) (*ChunkReader, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.CacheSize < 0 || opts.Bandwidth < 0 {
		return nil, fmt.Errorf("cache size and bandwidth must not be negative")
	}
	r := &ChunkReader{
		blockSize: opts.BlockSize,
		bandwidth: opts.Bandwidth,
		logger:    opts.Logger,
		limiters:  make(map[string]*rate.Limiter),
	}
	if r.logger == nil {
		r.logger = logging.Get("executor")
	}
	if opts.CacheSize > 0 {
		blocks := max(int(opts.CacheSize/opts.BlockSize), 1)
		cache, err := lru.New[blockKey, []byte](blocks)
		if err != nil {
			return nil, fmt.Errorf("creating block cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// BlockSize returns the read granularity.
func (r *ChunkReader) BlockSize() int64 { return r.blockSize }

// Stats returns cache counters.
func (r *ChunkReader) Stats() ReaderStats {
	s := ReaderStats{
		Hits:      r.hits.Load(),
		Misses:    r.misses.Load(),
		BytesRead: r.bytesRead.Load(),
	}
	if r.cache != nil {
		s.Cached = r.cache.Len()
	}
	return s
}

// Purge empties the block cache.
func (r *ChunkReader) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

func (r *ChunkReader) limiter(disk string) *rate.Limiter {
	if r.bandwidth <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[disk]
	if !ok {
		burst := int(max(r.bandwidth, r.blockSize))
		l = rate.NewLimiter(rate.Limit(r.bandwidth), burst)
		r.limiters[disk] = l
	}
	return l
}

// ReadChunk calls fn with each block of the file at path, in order, stopping
// after limit bytes when limit is positive. The block passed to fn must not
// be modified or retained. It returns the number of bytes handed to fn.
func (r *ChunkReader) ReadChunk(ctx context.Context, disk, path string, limit int64, fn func(block []byte) error) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening chunk file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat chunk file: %w", err)
	}
	size := info.Size()
	if limit > 0 && limit < size {
		size = limit
	}

	var done int64
	for idx := int64(0); idx*r.blockSize < size; idx++ {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		key := blockKey{path: path, modTime: info.ModTime().UnixNano(), index: idx}
		block, err := r.block(ctx, f, disk, key)
		if err != nil {
			return done, err
		}
		if rem := size - done; int64(len(block)) > rem {
			block = block[:rem]
		}
		if len(block) == 0 {
			break
		}

		err = fn(block)
		done += int64(len(block))
		if errors.Is(err, ErrStopScan) {
			return done, nil
		}
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

func (r *ChunkReader) block(ctx context.Context, f *os.File, disk string, key blockKey) ([]byte, error) {
	if r.cache != nil {
		if b, ok := r.cache.Get(key); ok {
			r.hits.Add(1)
			metrics.BlockCacheLookups.WithLabelValues("hit").Inc()
			return b, nil
		}
		r.misses.Add(1)
		metrics.BlockCacheLookups.WithLabelValues("miss").Inc()
	}

	if l := r.limiter(disk); l != nil {
		if err := l.WaitN(ctx, int(r.blockSize)); err != nil {
			return nil, fmt.Errorf("waiting for disk bandwidth: %w", err)
		}
	}

	buf := make([]byte, r.blockSize)
	n, err := f.ReadAt(buf, key.index*r.blockSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading block %d: %w", key.index, err)
	}
	buf = buf[:n]

	r.bytesRead.Add(uint64(n))
	metrics.BytesRead.WithLabelValues(disk).Add(float64(n))

	if r.cache != nil && n > 0 {
		r.cache.Add(key, buf)
	}
	return buf, nil
}
