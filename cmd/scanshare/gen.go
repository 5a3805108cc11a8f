package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/scanshare/pkg/scanshare/catalog"
	"github.com/jamesainslie/scanshare/pkg/scanshare/output"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
	"github.com/jamesainslie/scanshare/pkg/scanshare/workload"
)

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Write synthetic chunk files and optionally a workload",
	Long: `Write one file per chunk id across the configured disks. Chunk c goes
to disk c mod the number of disks. Existing files are overwritten.

With --workload, a generated workload over the same chunks is written too.`,
	Args: cobra.NoArgs,
	RunE: runGen,
}

var genOpts struct {
	chunks         int
	first          int
	size           string
	seed           uint64
	parallel       int
	workload       string
	queries        int
	chunksPerQuery int
	payload        string
}

func init() {
	f := genCmd.Flags()
	f.IntVar(&genOpts.chunks, "chunks", 16, "number of chunk files")
	f.IntVar(&genOpts.first, "first", 0, "first chunk id")
	f.StringVar(&genOpts.size, "size", "8MiB", "size of each chunk file")
	f.Uint64Var(&genOpts.seed, "seed", 1, "random seed for file contents and the workload")
	f.IntVar(&genOpts.parallel, "parallel", 0, "concurrent file writes (0=one per disk)")
	f.StringVar(&genOpts.workload, "workload", "", "also write a workload file to this path")
	f.IntVar(&genOpts.queries, "queries", 8, "queries in the generated workload")
	f.IntVar(&genOpts.chunksPerQuery, "chunks-per-query", 0, "chunks per generated query (0=all)")
	f.StringVar(&genOpts.payload, "payload", "", "payload of generated queries")
	rootCmd.AddCommand(genCmd)
}

// runGen is the gen command handler.
func runGen(_ *cobra.Command, _ []string) error {
	if genOpts.chunks <= 0 {
		return fmt.Errorf("--chunks must be positive, got %d", genOpts.chunks)
	}
	size, err := types.ParseSize(genOpts.size)
	if err != nil {
		return fmt.Errorf("invalid --size: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := catalog.New(catalogDisks(cfg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chunks := make([]int, genOpts.chunks)
	for i := range chunks {
		chunks[i] = genOpts.first + i
	}

	printVerbose("Writing %d chunks of %s over %d disks", len(chunks), types.FormatSize(size), len(cfg.Disks))
	if _, err := cat.Generate(ctx, catalog.GenerateOptions{
		Chunks:    chunks,
		ChunkSize: size,
		Seed:      genOpts.seed,
		Parallel:  genOpts.parallel,
	}); err != nil {
		return fmt.Errorf("writing chunk files: %w", err)
	}

	result := &output.Result{}
	if genOpts.workload != "" {
		if err := writeWorkload(genOpts.workload, chunks); err != nil {
			return err
		}
		result.Warnings = append(result.Warnings, "workload written to "+genOpts.workload)
	}

	res, err := cat.Scan(ctx)
	if err != nil {
		return err
	}
	result.Scan = res
	result.Catalog = cat.Entries()
	return render(result)
}

func writeWorkload(path string, chunks []int) error {
	w, err := workload.Generate(workload.GenerateOptions{
		Name:           "generated",
		Queries:        genOpts.queries,
		Chunks:         chunks,
		ChunksPerQuery: genOpts.chunksPerQuery,
		Payload:        genOpts.payload,
		Seed:           genOpts.seed,
	})
	if err != nil {
		return err
	}
	data, err := w.Marshal()
	if err != nil {
		return fmt.Errorf("encoding workload: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing workload: %w", err)
	}
	return nil
}
