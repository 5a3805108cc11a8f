package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/scanshare/pkg/scanshare/config"
	"github.com/jamesainslie/scanshare/pkg/scanshare/output"
)

var (
	cfgFile      string
	outputFormat string
	v            = config.NewViper("")

	rootCmd = &cobra.Command{
		Use:   "scanshare",
		Short: "Run shared-scan workloads against chunked table data",
		Long: `scanshare runs query fragments over chunk files on one or more disks.

Fragments that read the same chunk are scheduled together so one pass over
the chunk serves every query waiting for it.

Examples:
  scanshare gen --chunks 32 --size 8MiB     # Write synthetic chunk files
  scanshare catalog                          # List chunk files found on disk
  scanshare run workload.yaml                # Run a workload file
  scanshare run --queries 20 --tui           # Run a generated workload with a live view
  scanshare run --synthetic --chunks 64      # Run without chunk files
  scanshare history                          # List past runs`,
		SilenceUsage:      true,
		PersistentPreRunE: initializeLogging,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/scanshare/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "pretty", "output format: pretty, plain, json, yaml, csv")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output on stderr")
	rootCmd.PersistentFlags().Int("max-threads", 0, "override scheduler thread cap (0=auto)")
	rootCmd.PersistentFlags().IntP("workers", "w", 0, "override worker count (0=max threads)")
	rootCmd.PersistentFlags().Int("max-active-chunks", 0, "override per-disk active chunk limit (0=auto)")
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"quiet":             "quiet",
	"verbose":           "verbose",
	"max-threads":       "scheduler.max_threads",
	"workers":           "pool.size",
	"max-active-chunks": "scheduler.max_active_chunks",
}

// initConfig builds the viper instance for the selected config file and
// binds the persistent flags to it.
func initConfig() {
	v = config.NewViper(cfgFile)
	for flag, key := range flagKeys {
		_ = v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
	}
}

// bindFlag binds a command flag to a configuration key.
func bindFlag(cmd *cobra.Command, flag, key string) {
	_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func viperInstance() *viper.Viper { return v }

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return v.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return v.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...any) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...any) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// render writes r in the selected output format.
func render(r *output.Result) error {
	formatter, err := output.Get(outputFormat)
	if err != nil {
		return fmt.Errorf("unknown output format %q: available formats are %v", outputFormat, output.Available())
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, r); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(buf.String())
	return nil
}
