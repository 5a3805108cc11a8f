// Package config loads scanshare configuration from YAML files and SCANSHARE_
// environment variables.
package config

// Default configuration values. Zero numeric values are auto-tuned at start.
const (
	// DefaultSchedulerName labels the scan scheduler in logs and metrics.
	DefaultSchedulerName = "scan"

	// DefaultPlacement maps chunks to disks from the chunk catalog.
	DefaultPlacement = PlacementCatalog

	// DefaultBlockSize is the chunk read granularity.
	DefaultBlockSize = "256KiB"

	// DefaultBandwidth leaves disk reads unthrottled.
	DefaultBandwidth = "0"

	// DefaultHistoryKeep is the number of run reports kept by `history clean`.
	DefaultHistoryKeep = 50

	// DefaultStatsMaxQueries bounds the per-query statistics table.
	DefaultStatsMaxQueries = 4096
)

// Placement policies.
const (
	PlacementHash    = "hash"
	PlacementCatalog = "catalog"
)
