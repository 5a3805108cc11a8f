package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/scanshare/pkg/scanshare/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage scanshare configuration settings.

Configuration is loaded from:
  1. --config, if given
  2. $XDG_CONFIG_HOME/scanshare/config.yaml (if set)
  3. ~/.config/scanshare/config.yaml

Environment variables override config file settings using the SCANSHARE_
prefix, with dots replaced by underscores:
  SCANSHARE_SCHEDULER_MAX_THREADS=8
  SCANSHARE_EXECUTOR_BANDWIDTH=400MiB/s
  SCANSHARE_METRICS_ADDR=:9100`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Display the configuration after defaults, the config file, environment and flags are merged.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the configuration file",
	Long: `Open the configuration file in your default editor.

The editor is $VISUAL, then $EDITOR, then vi. A default file is created
first if none exists.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the default configuration file",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the configuration file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow prints the effective configuration in the output format
// (yaml unless json is asked for) and lists environment overrides.
func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var data []byte
	if outputFormat == "json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	if outputFormat == "json" || outputFormat == "yaml" {
		fmt.Print(string(data))
		return nil
	}

	if cfg.File != "" {
		fmt.Printf("Config file: %s\n\n", cfg.File)
	} else {
		fmt.Print("Config file: (using defaults, no file found)\n\n")
	}
	fmt.Print(string(data))

	fmt.Println("\nEnvironment Overrides:")
	fmt.Println("----------------------")
	overrides := envOverrides(os.Environ())
	if len(overrides) == 0 {
		fmt.Println("(none)")
	}
	for _, kv := range overrides {
		fmt.Println(kv)
	}
	return nil
}

// envOverrides returns the SCANSHARE_ variables in env, sorted.
func envOverrides(env []string) []string {
	var out []string
	for _, kv := range env {
		if strings.HasPrefix(kv, "SCANSHARE_") {
			out = append(out, kv)
		}
	}
	sort.Strings(out)
	return out
}

// configFilePath returns --config or the default path.
func configFilePath() (string, error) {
	if cfgFile != "" {
		return config.ExpandPath(cfgFile)
	}
	return config.ConfigPath()
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(_ *cobra.Command, _ []string) error {
	path, err := configFilePath()
	if err != nil {
		return err
	}
	if _, _, err := config.WriteDefault(path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	printVerbose("Opening %s with %s", path, editor)

	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(_ *cobra.Command, _ []string) error {
	path, err := configFilePath()
	if err != nil {
		return err
	}
	written, created, err := config.WriteDefault(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if !created {
		printInfo("Config file already exists: %s", written)
		printInfo("Use 'scanshare config edit' to modify it.")
		return nil
	}
	printInfo("Created default config file: %s", written)
	return nil
}

// runConfigPath prints the config file path.
func runConfigPath(_ *cobra.Command, _ []string) error {
	path, err := configFilePath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		printInfo("(file does not exist, run 'scanshare config init' to create it)")
	}
	return nil
}
