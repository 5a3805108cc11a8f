package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/scanshare/pkg/scanshare/chunkdisk"
	"github.com/jamesainslie/scanshare/pkg/scanshare/events"
)

// renderAppHeader renders the title line: run name, disk count and the hint
// on the right.
func renderAppHeader(name string, disks int, hint string, width int) string {
	title := brandStyle.Render("  SCANSHARE") +
		dimStyle.Render(fmt.Sprintf("  %s  •  %d disks", name, disks))
	right := dimStyle.Render(hint)

	spacing := max(width-lipgloss.Width(title)-lipgloss.Width(right), 1)
	return title + strings.Repeat(" ", spacing) + right
}

// renderDisks renders one line per disk: pending and in-flight counts, then
// its chunks as chunk:in-flight coloured by scan state.
func renderDisks(disks []chunkdisk.Snapshot, width int) string {
	if len(disks) == 0 {
		return dimStyle.Render("  No disks")
	}

	var b strings.Builder
	for i, d := range disks {
		if i > 0 {
			b.WriteString("\n")
		}
		line := fmt.Sprintf("  %s %s ",
			diskLabelStyle.Render(truncate(d.Name, 10)),
			dimStyle.Render(fmt.Sprintf("pending %-4d running %-3d", d.Pending, d.InFlight)))
		b.WriteString(line)

		used := lipgloss.Width(line)
		for _, c := range d.Chunks {
			cell := fmt.Sprintf("%d:%d ", c.Chunk, c.InFlight)
			if used+len(cell) > width {
				b.WriteString(dimStyle.Render("…"))
				break
			}
			used += len(cell)
			b.WriteString(chunkCellStyle(c).Render(cell))
		}
	}
	return b.String()
}

// eventOrder fixes the column order of the event counter line.
var eventOrder = []events.Type{
	events.Enqueued, events.Emitted, events.Started, events.Finished,
	events.Dropped, events.ChunkAdded, events.ChunkRemoved,
}

// renderEventCounts renders how many events of each type were seen.
func renderEventCounts(counts map[events.Type]int64) string {
	parts := make([]string, 0, len(eventOrder))
	for _, t := range eventOrder {
		if n := counts[t]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", t, humanize.Comma(n)))
		}
	}
	if len(parts) == 0 {
		return dimStyle.Render("  Events: none yet")
	}
	return dimStyle.Render("  Events: " + strings.Join(parts, "  |  "))
}
