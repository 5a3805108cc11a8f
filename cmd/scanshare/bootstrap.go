package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/scanshare/pkg/scanshare/config"
	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

const defaultMaxLogSize = 10 * types.MiB

// initializeLogging is the root PersistentPreRunE hook. It makes sure the
// config, data and log directories exist and configures logging from the
// config file. A config that fails to load falls back to default logging;
// the command reports the config error itself.
func initializeLogging(cmd *cobra.Command, _ []string) error {
	if err := ensureDirectories(); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	if cfg, err := config.FromViper(viperInstance()); err == nil {
		logCfg = loggingConfig(cfg)
	}
	if getVerbose() && !getQuiet() {
		logCfg.ConsoleLevel = "debug"
	}
	logCfg.TUIMode = tuiRequested(cmd)

	if err := logging.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Get("cli").Debug("logging initialized", "path", logCfg.Path, "level", logCfg.Level, "tui", logCfg.TUIMode)
	return nil
}

// loggingConfig converts the logging section of cfg.
func loggingConfig(cfg *config.Config) logging.Config {
	path := cfg.Logging.Path
	if path == "" {
		path = logging.DefaultLogPath()
	} else if expanded, err := config.ExpandPath(path); err == nil {
		path = expanded
	}
	return logging.Config{
		Level:        cfg.Logging.Level,
		Path:         path,
		Rotation:     parseRotationConfig(cfg.Logging.Rotation),
		Components:   cfg.Logging.Components,
		ConsoleLevel: cfg.Logging.Console,
	}
}

// parseRotationConfig converts the config file rotation section. An empty or
// unparseable max_size falls back to 10MiB.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	maxSize := defaultMaxLogSize
	if rc.MaxSize != "" {
		if n, err := types.ParseSize(rc.MaxSize); err == nil && n > 0 {
			maxSize = n
		}
	}
	return logging.RotationConfig{
		MaxSize:    maxSize,
		MaxAge:     rc.MaxAge,
		MaxBackups: rc.MaxBackups,
		Daily:      rc.Daily,
	}
}

// tuiRequested reports whether cmd was invoked with --tui.
func tuiRequested(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	f := cmd.Flags().Lookup("tui")
	return f != nil && f.Value.String() == "true"
}

func ensureDirectories() error {
	dirs := []string{config.DataDir(), filepath.Dir(logging.DefaultLogPath())}
	if dir, err := config.ConfigDir(); err == nil {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
