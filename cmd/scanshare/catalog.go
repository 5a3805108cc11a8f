package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jamesainslie/scanshare/pkg/scanshare/catalog"
	"github.com/jamesainslie/scanshare/pkg/scanshare/config"
	"github.com/jamesainslie/scanshare/pkg/scanshare/output"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List chunk files on the configured disks",
	Long: `Walk every configured disk and list the chunk files found.

Filter flags narrow and order the listing:
  scanshare catalog --disk disk0 --min-size 16MiB
  scanshare catalog --chunks 0-9,20 --sort size --desc --limit 5
  scanshare catalog --exclude '**/old/**' --older-than 30d

With --watch, keep watching the disks and print each chunk file that is
added or removed until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runCatalog,
}

var (
	catalogWatch  bool
	catalogFilter filterFlags
)

func init() {
	catalogCmd.Flags().BoolVar(&catalogWatch, "watch", false, "watch the disks for chunk file changes")
	catalogFilter.register(catalogCmd.Flags(), true)
	rootCmd.AddCommand(catalogCmd)
}

// filterFlags holds the chunk filter flags shared by catalog and run.
type filterFlags struct {
	disks     []string
	chunks    string
	minSize   string
	maxSize   string
	include   []string
	exclude   []string
	olderThan string
	newerThan string
	sortBy    string
	desc      bool
	limit     int
}

// register adds the filter flags. Ordering flags are only added when
// ordering is meaningful for the command.
func (ff *filterFlags) register(f *pflag.FlagSet, ordering bool) {
	f.StringSliceVar(&ff.disks, "disk", nil, "only chunks on these disks")
	f.StringVar(&ff.chunks, "chunks", "", "only these chunk ids, e.g. 0-9,20")
	f.StringVar(&ff.minSize, "min-size", "", "minimum chunk file size (e.g. 16MiB)")
	f.StringVar(&ff.maxSize, "max-size", "", "maximum chunk file size")
	f.StringSliceVar(&ff.include, "include", nil, "path globs to include")
	f.StringSliceVar(&ff.exclude, "exclude", nil, "path globs to exclude")
	f.StringVar(&ff.olderThan, "older-than", "", "only chunks modified before this age (e.g. 30d, 2w)")
	f.StringVar(&ff.newerThan, "newer-than", "", "only chunks modified within this age")
	if ordering {
		f.StringVar(&ff.sortBy, "sort", "chunk", "sort by: chunk, size, age, disk")
		f.BoolVar(&ff.desc, "desc", false, "sort descending")
		f.IntVar(&ff.limit, "limit", 0, "maximum chunks to list (0=all)")
	}
}

// build converts the flags into a catalog filter.
func (ff *filterFlags) build() (*catalog.Filter, error) {
	opts := []catalog.FilterOption{
		catalog.WithDisks(ff.disks...),
		catalog.WithInclude(ff.include...),
		catalog.WithExclude(ff.exclude...),
		catalog.WithLimit(ff.limit),
	}

	var minSize, maxSize int64
	var err error
	if ff.minSize != "" {
		if minSize, err = types.ParseSize(ff.minSize); err != nil {
			return nil, fmt.Errorf("invalid --min-size: %w", err)
		}
	}
	if ff.maxSize != "" {
		if maxSize, err = types.ParseSize(ff.maxSize); err != nil {
			return nil, fmt.Errorf("invalid --max-size: %w", err)
		}
	}
	opts = append(opts, catalog.WithSizeRange(minSize, maxSize))

	if ff.chunks != "" {
		ids, err := catalog.ParseChunkRange(ff.chunks)
		if err != nil {
			return nil, fmt.Errorf("invalid --chunks: %w", err)
		}
		opts = append(opts, catalog.WithChunks(ids...))
	}

	var older, newer time.Duration
	if ff.olderThan != "" {
		if older, err = catalog.ParseAge(ff.olderThan); err != nil {
			return nil, fmt.Errorf("invalid --older-than: %w", err)
		}
	}
	if ff.newerThan != "" {
		if newer, err = catalog.ParseAge(ff.newerThan); err != nil {
			return nil, fmt.Errorf("invalid --newer-than: %w", err)
		}
	}
	opts = append(opts, catalog.WithAge(older, newer))

	field, err := catalog.ParseSortField(ff.sortBy)
	if err != nil {
		return nil, err
	}
	opts = append(opts, catalog.WithSort(field, ff.desc))

	return catalog.NewFilter(opts...)
}

// catalogDisks converts the configured disks.
func catalogDisks(cfg *config.Config) []catalog.Disk {
	disks := make([]catalog.Disk, len(cfg.Disks))
	for i, d := range cfg.Disks {
		disks[i] = catalog.Disk{Name: d.Name, Root: d.Root}
	}
	return disks
}

// runCatalog is the catalog command handler.
func runCatalog(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	filter, err := catalogFilter.build()
	if err != nil {
		return err
	}
	cat, err := catalog.New(catalogDisks(cfg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := cat.Scan(ctx)
	if err != nil {
		return err
	}
	result := &output.Result{Scan: res, Catalog: filter.Apply(cat.Entries())}
	for _, e := range res.Errors {
		result.Warnings = append(result.Warnings, e.Path+": "+e.Err)
	}
	if err := render(result); err != nil {
		return err
	}

	if !catalogWatch {
		return nil
	}
	return watchCatalog(ctx, cat)
}

func watchCatalog(ctx context.Context, cat *catalog.Catalog) error {
	w, err := catalog.NewWatcher(cat)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.WatchAll(); err != nil {
		return err
	}

	printInfo("\nWatching %d directories, Ctrl+C to stop...", w.Watching())
	w.Run(ctx, func(path string, op fsnotify.Op) {
		switch {
		case op.Has(fsnotify.Create), op.Has(fsnotify.Write):
			printInfo("+ %s (%d chunks)", path, cat.Len())
		default:
			printInfo("- %s (%d chunks)", path, cat.Len())
		}
	})
	return nil
}
