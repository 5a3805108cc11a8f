package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
)

const logPaneEntries = 100

// filterEntriesByLevel returns entries at or above the specified level.
func filterEntriesByLevel(entries []logging.LogEntry, minLevel logging.Level) []logging.LogEntry {
	result := make([]logging.LogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Level >= minLevel {
			result = append(result, e)
		}
	}
	return result
}

// clampLogScroll keeps a scroll offset inside the visible range.
func clampLogScroll(offset, totalEntries, visibleRows int) int {
	if totalEntries <= visibleRows || offset < 0 {
		return 0
	}
	return min(offset, totalEntries-visibleRows)
}

func logLevelStyle(level logging.Level) lipgloss.Style {
	switch level {
	case logging.LevelDebug:
		return logDebugStyle
	case logging.LevelWarn:
		return logWarnStyle
	case logging.LevelError:
		return logErrorStyle
	default:
		return logInfoStyle
	}
}

func logLevelChar(level logging.Level) string {
	switch level {
	case logging.LevelDebug:
		return "D"
	case logging.LevelInfo:
		return "I"
	case logging.LevelWarn:
		return "W"
	case logging.LevelError:
		return "E"
	default:
		return "?"
	}
}

// LogViewerState holds the log pane state. Entries arrive from a
// logging.Subscribe channel and are kept in a ring.
type LogViewerState struct {
	Open         bool
	Buffer       *logging.LogBuffer
	FilterLevel  logging.Level
	ScrollOffset int

	// Follow keeps the view pinned to the newest entry.
	Follow bool
}

// NewLogViewerState returns a closed pane showing info and above.
func NewLogViewerState() *LogViewerState {
	return &LogViewerState{
		Buffer:      logging.NewLogBuffer(logPaneEntries),
		FilterLevel: logging.LevelInfo,
		Follow:      true,
	}
}

// Toggle opens or closes the pane.
func (s *LogViewerState) Toggle() { s.Open = !s.Open }

// SetFilterLevel changes the minimum level shown and jumps to the newest entry.
func (s *LogViewerState) SetFilterLevel(level logging.Level) {
	s.FilterLevel = level
	s.ScrollOffset = 0
	s.Follow = true
}

// AddEntry stores entry.
func (s *LogViewerState) AddEntry(entry logging.LogEntry) {
	s.Buffer.Add(entry)
}

// Filtered returns the stored entries passing the level filter.
func (s *LogViewerState) Filtered() []logging.LogEntry {
	return filterEntriesByLevel(s.Buffer.Entries(), s.FilterLevel)
}

// ScrollUp moves one line towards older entries.
func (s *LogViewerState) ScrollUp(visibleRows int) {
	if s.Follow {
		s.ScrollOffset = clampLogScroll(len(s.Filtered()), len(s.Filtered()), visibleRows)
		s.Follow = false
	}
	if s.ScrollOffset > 0 {
		s.ScrollOffset--
	}
}

// ScrollDown moves one line towards newer entries, following again at the end.
func (s *LogViewerState) ScrollDown(visibleRows int) {
	maxOffset := max(len(s.Filtered())-visibleRows, 0)
	if s.ScrollOffset < maxOffset {
		s.ScrollOffset++
	}
	if s.ScrollOffset >= maxOffset {
		s.Follow = true
	}
}

// View renders the pane in width columns and height rows.
func (s *LogViewerState) View(width, height int) string {
	if height < 3 {
		return ""
	}

	var b strings.Builder
	title := brandStyle.Render(fmt.Sprintf(" Logs [%s] ", s.FilterLevel))
	b.WriteString(title + dimStyle.Render("[1-4] level  [↑/↓] scroll  [l] close"))
	b.WriteString("\n")
	b.WriteString(rule(width))
	b.WriteString("\n")

	rows := height - 2
	filtered := s.Filtered()
	offset := s.ScrollOffset
	if s.Follow {
		offset = len(filtered)
	}
	offset = clampLogScroll(offset, len(filtered), rows)
	end := min(offset+rows, len(filtered))

	for _, e := range filtered[offset:end] {
		b.WriteString(renderLogEntry(e, width))
		b.WriteString("\n")
	}
	for i := end - offset; i < rows; i++ {
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// renderLogEntry formats one entry as "HH:MM:SS [L] component: message".
func renderLogEntry(entry logging.LogEntry, width int) string {
	comp := truncate(entry.Component, 10)
	prefix := 8 + 1 + 3 + 1 + len(comp) + 2
	msg := truncate(entry.Message, max(width-prefix, 10))

	return fmt.Sprintf("%s %s %s: %s",
		logTimeStyle.Render(entry.Time.Format("15:04:05")),
		logLevelStyle(entry.Level).Render("["+logLevelChar(entry.Level)+"]"),
		logComponentStyle.Render(comp),
		msg)
}
