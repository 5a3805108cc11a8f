// Package tui provides the live status view for `scanshare run --tui`.
// It uses Charmbracelet's Bubble Tea, Lip Gloss, and Bubbles.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/scanshare/pkg/scanshare/chunkdisk"
)

// Palette. Chunk cells are coloured by scan state: scanning chunks green,
// chunks with tasks handed out but not yet started amber, waiting chunks dim.
var (
	brandColor = lipgloss.Color("#7D56F4")
	diskColor  = lipgloss.Color("#00D9FF")

	scanColor  = lipgloss.Color("#28A745")
	queueColor = lipgloss.Color("#FFC107")
	failColor  = lipgloss.Color("#DC3545")

	dimColor   = lipgloss.Color("#666666")
	faintColor = lipgloss.Color("#444444")
	frameColor = lipgloss.Color("#333333")
)

var (
	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(brandColor).
			Padding(0, 1)

	ruleStyle = lipgloss.NewStyle().Foreground(frameColor)

	brandStyle  = lipgloss.NewStyle().Bold(true).Foreground(brandColor)
	dimStyle    = lipgloss.NewStyle().Foreground(dimColor)
	failedStyle = lipgloss.NewStyle().Foreground(failColor)
	doneStyle   = lipgloss.NewStyle().Foreground(scanColor)
	queuedStyle = lipgloss.NewStyle().Foreground(queueColor)
)

// Disk rows.
var (
	diskLabelStyle = lipgloss.NewStyle().
			Width(10).
			Foreground(diskColor).
			Bold(true)

	scanningCellStyle = lipgloss.NewStyle().Foreground(scanColor).Bold(true)
	handedCellStyle   = lipgloss.NewStyle().Foreground(queueColor)
	pendingCellStyle  = lipgloss.NewStyle().Foreground(dimColor)
)

// Run counters.
var (
	statBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(frameColor).
			Padding(0, 1)

	statLabelStyle = lipgloss.NewStyle().Foreground(dimColor)
	statValueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
)

var (
	keyHintStyle     = lipgloss.NewStyle().Foreground(brandColor).Bold(true)
	keyHintDescStyle = lipgloss.NewStyle().Foreground(dimColor)
)

// Log pane.
var (
	logTimeStyle      = lipgloss.NewStyle().Foreground(dimColor)
	logComponentStyle = lipgloss.NewStyle().Foreground(diskColor)
	logDebugStyle     = lipgloss.NewStyle().Foreground(faintColor)
	logInfoStyle      = lipgloss.NewStyle().Foreground(scanColor)
	logWarnStyle      = lipgloss.NewStyle().Foreground(queueColor)
	logErrorStyle     = lipgloss.NewStyle().Foreground(failColor).Bold(true)
)

// chunkState names how far a chunk's scan has progressed on its disk.
type chunkState int

const (
	chunkWaiting chunkState = iota
	chunkHanded
	chunkScanning
)

func stateOf(c chunkdisk.ChunkLoad) chunkState {
	switch {
	case c.Active:
		return chunkScanning
	case c.InFlight > 0:
		return chunkHanded
	default:
		return chunkWaiting
	}
}

// chunkCellStyle picks the style of a chunk cell in a disk row.
func chunkCellStyle(c chunkdisk.ChunkLoad) lipgloss.Style {
	switch stateOf(c) {
	case chunkScanning:
		return scanningCellStyle
	case chunkHanded:
		return handedCellStyle
	default:
		return pendingCellStyle
	}
}

// rule draws a horizontal separator.
func rule(width int) string {
	return ruleStyle.Render(strings.Repeat("─", max(width, 0)))
}

// truncate shortens s to maxLen, keeping the start and marking the cut.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// centerIn pads s on both sides to width, measuring rendered width.
func centerIn(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	left := (width - w) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-w-left)
}
