package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Daily      bool   `mapstructure:"daily" yaml:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" yaml:"level"`
	Path       string            `mapstructure:"path" yaml:"path"`
	Console    string            `mapstructure:"console" yaml:"console"`
	Rotation   RotationConfig    `mapstructure:"rotation" yaml:"rotation"`
	Components map[string]string `mapstructure:"components" yaml:"components"`
}

// DiskConfig names a storage root holding chunk files.
type DiskConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Root string `mapstructure:"root" yaml:"root"`
}

// SchedulerConfig configures the scan scheduler.
type SchedulerConfig struct {
	Name            string `mapstructure:"name" yaml:"name"`
	MaxThreads      int    `mapstructure:"max_threads" yaml:"max_threads"`
	MaxActiveChunks int    `mapstructure:"max_active_chunks" yaml:"max_active_chunks"`
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Size int `mapstructure:"size" yaml:"size"`
}

// ExecutorConfig configures chunk reads. Sizes accept units such as "64KiB".
type ExecutorConfig struct {
	BlockSize string `mapstructure:"block_size" yaml:"block_size"`
	CacheSize string `mapstructure:"cache_size" yaml:"cache_size"`
	Bandwidth string `mapstructure:"bandwidth" yaml:"bandwidth"`
}

// StatsConfig configures the query statistics tracker.
type StatsConfig struct {
	MaxQueries int           `mapstructure:"max_queries" yaml:"max_queries"`
	DeadAfter  time.Duration `mapstructure:"dead_after" yaml:"dead_after"`
}

// HistoryConfig configures the run report archive.
type HistoryConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Path    string        `mapstructure:"path" yaml:"path"`
	Keep    int           `mapstructure:"keep" yaml:"keep"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Config represents the application configuration.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Pool      PoolConfig      `mapstructure:"pool" yaml:"pool"`
	Disks     []DiskConfig    `mapstructure:"disks" yaml:"disks"`
	Placement string          `mapstructure:"placement" yaml:"placement"`
	Executor  ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
	Stats     StatsConfig     `mapstructure:"stats" yaml:"stats"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.name", DefaultSchedulerName)
	v.SetDefault("scheduler.max_threads", 0)
	v.SetDefault("scheduler.max_active_chunks", 0)
	v.SetDefault("pool.size", 0)
	v.SetDefault("disks", []map[string]string{
		{"name": "disk0", "root": filepath.Join(DataDir(), "chunks", "disk0")},
	})
	v.SetDefault("placement", DefaultPlacement)

	v.SetDefault("executor.block_size", DefaultBlockSize)
	v.SetDefault("executor.cache_size", "") // Empty means auto-tune
	v.SetDefault("executor.bandwidth", DefaultBandwidth)

	v.SetDefault("stats.max_queries", DefaultStatsMaxQueries)
	v.SetDefault("stats.dead_after", 5*time.Minute)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "") // Empty means DefaultHistoryPath
	v.SetDefault("history.keep", DefaultHistoryKeep)
	v.SetDefault("history.ttl", time.Duration(0))

	v.SetDefault("metrics.addr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.console", "")
	v.SetDefault("logging.rotation.max_size", "10MiB")
	v.SetDefault("logging.rotation.max_age", 14)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"scheduler": "info",
		"chunkdisk": "info",
		"pool":      "info",
		"catalog":   "info",
		"watcher":   "warn",
	})
}

// NewViper returns a viper instance reading file, or the default config
// locations when file is empty, with SCANSHARE_ environment overrides:
//   - $XDG_CONFIG_HOME/scanshare/config.yaml
//   - $HOME/.config/scanshare/config.yaml
func NewViper(file string) *viper.Viper {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix("SCANSHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration from file, or from the default locations when file
// is empty. A missing default file is not an error.
func Load(file string) (*Config, error) {
	return FromViper(NewViper(file))
}

// FromViper reads, decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	for i := range cfg.Disks {
		root, err := ExpandPath(cfg.Disks[i].Root)
		if err != nil {
			return nil, err
		}
		cfg.Disks[i].Root = root
	}
	if cfg.History.Path == "" {
		cfg.History.Path = DefaultHistoryPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be auto-tuned.
func (c *Config) Validate() error {
	if c.Scheduler.MaxThreads < 0 || c.Scheduler.MaxActiveChunks < 0 || c.Pool.Size < 0 {
		return fmt.Errorf("%w: thread, chunk and pool counts must not be negative", ErrInvalid)
	}
	if len(c.Disks) == 0 {
		return fmt.Errorf("%w: at least one disk is required", ErrInvalid)
	}
	names := make(map[string]bool, len(c.Disks))
	for _, d := range c.Disks {
		if d.Name == "" || d.Root == "" {
			return fmt.Errorf("%w: disk needs a name and a root", ErrInvalid)
		}
		if names[d.Name] {
			return fmt.Errorf("%w: disk %q listed twice", ErrInvalid, d.Name)
		}
		names[d.Name] = true
	}
	switch c.Placement {
	case PlacementHash, PlacementCatalog:
	default:
		return fmt.Errorf("%w: placement %q, want %s or %s", ErrInvalid, c.Placement, PlacementHash, PlacementCatalog)
	}

	if _, err := c.BlockSize(); err != nil {
		return err
	}
	if _, err := c.CacheSize(); err != nil {
		return err
	}
	if _, err := c.Bandwidth(); err != nil {
		return err
	}
	return nil
}

// BlockSize returns executor.block_size in bytes.
func (c *Config) BlockSize() (int64, error) {
	n, err := types.ParseSize(c.Executor.BlockSize)
	if err != nil {
		return 0, fmt.Errorf("%w: executor.block_size: %w", ErrInvalid, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: executor.block_size must be positive", ErrInvalid)
	}
	return n, nil
}

// CacheSize returns executor.cache_size in bytes, zero when unset.
func (c *Config) CacheSize() (int64, error) {
	if c.Executor.CacheSize == "" {
		return 0, nil
	}
	n, err := types.ParseSize(c.Executor.CacheSize)
	if err != nil {
		return 0, fmt.Errorf("%w: executor.cache_size: %w", ErrInvalid, err)
	}
	return n, nil
}

// Bandwidth returns executor.bandwidth in bytes per second, zero for
// unlimited.
func (c *Config) Bandwidth() (int64, error) {
	if c.Executor.Bandwidth == "" {
		return 0, nil
	}
	n, err := types.ParseRate(c.Executor.Bandwidth)
	if err != nil {
		return 0, fmt.Errorf("%w: executor.bandwidth: %w", ErrInvalid, err)
	}
	return n, nil
}

// ConfigDir returns the configuration directory.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "scanshare"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "scanshare"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns $XDG_DATA_HOME/scanshare/ for chunk files and history.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "scanshare")
}

// DefaultHistoryPath returns the default history database directory.
func DefaultHistoryPath() string {
	return filepath.Join(DataDir(), "history")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// WriteDefault writes a commented default config file to path, or to
// ConfigPath when path is empty. An existing file is left alone and
// reported with created false.
func WriteDefault(path string) (written string, created bool, err error) {
	if path == "" {
		if path, err = ConfigPath(); err != nil {
			return "", false, err
		}
	}

	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(defaultTemplate,
		DefaultSchedulerName,
		filepath.Join(DataDir(), "chunks", "disk0"),
		DefaultPlacement,
		DefaultBlockSize,
		DefaultBandwidth,
		DefaultStatsMaxQueries,
		DefaultHistoryKeep,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write default config: %w", err)
	}
	return path, true, nil
}

const defaultTemplate = `# scanshare configuration

scheduler:
  name: %s
  # Maximum scan tasks running at once (0 = number of CPUs)
  max_threads: 0
  # Chunks one disk may scan at the same time (0 = auto)
  max_active_chunks: 0

pool:
  # Worker goroutines (0 = max_threads)
  size: 0

# Storage roots holding chunk_<id>.dat files
disks:
  - name: disk0
    root: %s

# How chunks map to disks: hash or catalog
placement: %s

executor:
  block_size: %s
  # Block cache capacity (empty = a tenth of available RAM)
  cache_size: ""
  # Per-disk read limit, e.g. 200MiB/s (0 = unlimited)
  bandwidth: "%s"

stats:
  max_queries: %d
  dead_after: 5m

history:
  enabled: true
  # Empty means $XDG_DATA_HOME/scanshare/history
  path: ""
  keep: %d

metrics:
  # Serve Prometheus metrics on this address during runs, e.g. :9090
  addr: ""

logging:
  # Log level: debug, info, warn, error
  level: info
  # Empty means $XDG_STATE_HOME/scanshare/scanshare.log
  path: ""
  # Mirror records at this level or above to stderr (empty = off)
  console: ""
  rotation:
    max_size: 10MiB
    max_age: 14       # days
    max_backups: 5
    daily: true
  components:
    scheduler: info
    chunkdisk: info
    pool: info
    catalog: info
    watcher: warn
`
