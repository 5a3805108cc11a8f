package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/scanshare/pkg/scanshare/config"
	"github.com/jamesainslie/scanshare/pkg/scanshare/history"
	"github.com/jamesainslie/scanshare/pkg/scanshare/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View past run reports",
	Long: `View the reports of previous runs.

Every run archives a report with its task counts, bytes read, cache
statistics and per-chunk timings. Reports can be addressed by their full
id or any unique prefix of it.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run report",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one run report",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete all but the newest reports",
	Long:  `Delete old reports, keeping the newest --keep (default history.keep).`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var (
	historyLimit int
	historyKeep  int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of reports to show")
	historyCleanCmd.Flags().IntVar(&historyKeep, "keep", -1, "reports to keep (default history.keep)")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// openStore opens the configured history store.
func openStore() (*history.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := history.Open(cfg.History.Path, history.Options{TTL: cfg.History.TTL})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, cfg, nil
}

// resolveReport finds a report by id or unique id prefix.
func resolveReport(store *history.Store, id string) (*history.Report, error) {
	r, err := store.Get(id)
	if !errors.Is(err, history.ErrNotFound) {
		return r, err
	}

	all, listErr := store.List(0)
	if listErr != nil {
		return nil, listErr
	}
	var match *history.Report
	for _, c := range all {
		if !strings.HasPrefix(c.ID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("id prefix %q is ambiguous", id)
		}
		match = c
	}
	if match == nil {
		return nil, err
	}
	return match, nil
}

// runHistory lists recent reports.
func runHistory(_ *cobra.Command, _ []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	reports, err := store.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	return render(&output.Result{History: reports})
}

// runHistoryShow displays one report.
func runHistoryShow(_ *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := resolveReport(store, args[0])
	if err != nil {
		return err
	}
	return render(&output.Result{Run: r})
}

// runHistoryDelete removes one report.
func runHistoryDelete(_ *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := resolveReport(store, args[0])
	if err != nil {
		return err
	}
	if err := store.Delete(r.ID); err != nil {
		return err
	}
	printInfo("Deleted report %s", r.ID)
	return nil
}

// runHistoryClean prunes old reports.
func runHistoryClean(_ *cobra.Command, _ []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	keep := historyKeep
	if keep < 0 {
		keep = cfg.History.Keep
	}
	n, err := store.Prune(keep)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo("Removed %d reports, kept up to %d", n, keep)
	return nil
}
