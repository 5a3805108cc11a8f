package catalog

import (
	"bufio"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// words fill generated chunks so scan payloads have something to match.
var words = []string{
	"ra", "decl", "objectId", "flux", "psf", "band", "visit", "ccd",
	"sky", "star", "galaxy", "mag", "error", "flag", "null",
}

// GenerateOptions describes a set of synthetic chunk files.
type GenerateOptions struct {
	Chunks    []int
	ChunkSize int64
	Seed      uint64

	// Parallel bounds concurrent file writes. Zero means one per disk.
	Parallel int
}

// Generate writes a synthetic file for each chunk, spreading chunks over the
// catalog's disks by chunk id. Existing files are overwritten. It does not
// add the files to the catalog; call Scan afterwards.
func (c *Catalog) Generate(ctx context.Context, opts GenerateOptions) ([]string, error) {
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = len(c.disks)
	}

	for _, d := range c.disks {
		if err := os.MkdirAll(d.Root, 0o755); err != nil {
			return nil, fmt.Errorf("creating disk root %s: %w", d.Root, err)
		}
	}

	paths := make([]string, len(opts.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, chunk := range opts.Chunks {
		d := c.disks[diskFor(chunk, len(c.disks))]
		paths[i] = filepath.Join(d.Root, FileName(chunk))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return writeChunk(paths[i], opts.ChunkSize, opts.Seed+uint64(chunk))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.logger.Info("chunk files generated", "chunks", len(opts.Chunks), "size", opts.ChunkSize)
	return paths, nil
}

func diskFor(chunk, disks int) int {
	i := chunk % disks
	if i < 0 {
		i += disks
	}
	return i
}

func writeChunk(path string, size int64, seed uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	w := bufio.NewWriter(f)
	var written int64
	for written < size {
		word := words[rng.IntN(len(words))]
		line := word + "\n"
		if rem := size - written; int64(len(line)) > rem {
			line = line[:rem]
		}
		n, err := w.WriteString(line)
		written += int64(n)
		if err != nil {
			f.Close()
			return fmt.Errorf("writing chunk file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing chunk file: %w", err)
	}
	return f.Close()
}
