package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

// PrettyFormatter renders boxed, coloured sections with lipgloss for
// terminal display.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	var sections []string

	if r.Run != nil {
		sections = append(sections, f.formatRun(r))
	}
	if r.Status != nil {
		sections = append(sections, f.formatStatus(r))
	}
	if r.Stats != nil && len(r.Stats.Chunks) > 0 {
		sections = append(sections, f.formatChunkStats(r))
	}
	if r.Catalog != nil {
		sections = append(sections, f.formatCatalog(r))
	}
	if r.History != nil {
		sections = append(sections, f.formatHistory(r))
	}
	if len(r.Warnings) > 0 {
		sections = append(sections, f.formatWarnings(r.Warnings))
	}

	w.WriteString(strings.Join(sections, "\n"))
	if len(sections) > 0 {
		w.WriteString("\n")
	}
	return nil
}

func field(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
}

func (f *PrettyFormatter) formatRun(r *Result) string {
	run := r.Run
	outcome := SuccessStyle.Render("ok")
	if run.Failed > 0 {
		outcome = ErrorStyle.Render(fmt.Sprintf("%d failed", run.Failed))
	}

	lines := []string{
		TitleStyle.Render(run.Name) + "  " + outcome,
		strings.Join([]string{
			field("Tasks:", fmt.Sprintf("%d/%d", run.Completed, run.Submitted)),
			field("Elapsed:", formatDuration(run.Elapsed())),
			field("Workers:", fmt.Sprintf("%d", run.Workers)),
		}, "  "),
		strings.Join([]string{
			LabelStyle.Render("Read:") + " " + SizeStyle.Render(types.FormatSize(int64(run.BytesRead))),
			field("Cache:", cacheRatio(run.CacheHits, run.CacheMisses)),
		}, "  "),
	}
	if run.Dropped > 0 {
		lines = append(lines, WarningStyle.Render(fmt.Sprintf("%d non-scan commands dropped", run.Dropped)))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func cacheRatio(hits, misses uint64) string {
	total := hits + misses
	if total == 0 {
		return "off"
	}
	return fmt.Sprintf("%.0f%% hits (%s lookups)", float64(hits)*100/float64(total), humanize.Comma(int64(total)))
}

func (f *PrettyFormatter) formatStatus(r *Result) string {
	st := r.Status
	var sb strings.Builder

	sb.WriteString(TitleStyle.Render("Scheduler " + st.Name))
	sb.WriteString("\n")
	sb.WriteString(strings.Join([]string{
		field("Queued:", fmt.Sprintf("%d", st.QueueSize)),
		field("In flight:", fmt.Sprintf("%d/%d", st.InFlight, st.MaxThreads)),
		field("Waiting:", fmt.Sprintf("%d", st.Waiting)),
	}, "  "))
	sb.WriteString("\n")

	for _, d := range st.Disks {
		var active []string
		for _, c := range d.Chunks {
			if c.Active {
				active = append(active, fmt.Sprintf("%d:%d", c.Chunk, c.InFlight))
			}
		}
		fmt.Fprintf(&sb, "  %s  %s  %s\n",
			ValueStyle.Render(padRight(d.Name, 8)),
			LabelStyle.Render(fmt.Sprintf("pending %d", d.Pending)),
			SuccessStyle.Render("active ["+strings.Join(active, " ")+"]"))
	}
	return sb.String()
}

func (f *PrettyFormatter) formatChunkStats(r *Result) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %s%s%s%s\n",
		TableHeaderStyle.Render(padLeft("CHUNK", 8)),
		TableHeaderStyle.Render(padLeft("TASKS", 8)),
		TableHeaderStyle.Render(padLeft("AVG", 10)),
		TableHeaderStyle.Render("SCANNED")))
	for _, c := range r.Stats.Chunks {
		sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
			ValueStyle.Render(padLeft(fmt.Sprintf("%d", c.ChunkID), 8)),
			ValueStyle.Render(padLeft(fmt.Sprintf("%d", c.TasksCompleted), 8)),
			MutedStyle.Render(padLeft(formatDuration(c.AvgCompletion), 10)),
			SizeStyle.Render(types.FormatSize(c.BytesScanned))))
	}
	return sb.String()
}

func (f *PrettyFormatter) formatCatalog(r *Result) string {
	if len(r.Catalog) == 0 {
		return MutedStyle.Render("  No chunk files found\n")
	}

	var sb strings.Builder
	sizeWidth := 8
	for _, e := range r.Catalog {
		sizeWidth = max(sizeWidth, len(types.FormatSize(e.Size)))
	}
	for _, e := range r.Catalog {
		sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
			ValueStyle.Render(padLeft(fmt.Sprintf("%d", e.Chunk), 8)),
			LabelStyle.Render(padRight(e.Disk, 8)),
			SizeStyle.Render(padLeft(types.FormatSize(e.Size), sizeWidth)),
			ValueStyle.Render(e.Path)))
	}

	summary := []string{
		field("Chunks:", fmt.Sprintf("%d", len(r.Catalog))),
		LabelStyle.Render("Total:") + " " + SizeStyle.Render(types.FormatSize(r.CatalogBytes())),
	}
	if disks := r.CatalogByDisk(); len(disks) > 1 {
		for _, u := range disks {
			summary = append(summary, LabelStyle.Render(u.Disk+":")+" "+
				ValueStyle.Render(fmt.Sprintf("%d", u.Chunks))+" "+
				SizeStyle.Render(types.FormatSize(u.Bytes)))
		}
	}
	if r.Scan != nil {
		summary = append(summary, field("Scanned in:", formatDuration(r.Scan.Elapsed)))
		if r.Scan.Duplicates > 0 {
			summary = append(summary, WarningStyle.Render(fmt.Sprintf("%d duplicates ignored", r.Scan.Duplicates)))
		}
	}
	sb.WriteString(FooterBox.Render(strings.Join(summary, "  ")))
	return sb.String()
}

func (f *PrettyFormatter) formatHistory(r *Result) string {
	if len(r.History) == 0 {
		return MutedStyle.Render("  No runs recorded\n")
	}

	var sb strings.Builder
	for _, h := range r.History {
		status := SuccessStyle.Render("ok")
		if h.Failed > 0 {
			status = ErrorStyle.Render(fmt.Sprintf("%d failed", h.Failed))
		}
		sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s  %s\n",
			MutedStyle.Render(shortID(h.ID)),
			LabelStyle.Render(humanize.Time(h.StartedAt)),
			ValueStyle.Render(padRight(h.Name, 16)),
			ValueStyle.Render(fmt.Sprintf("%d tasks in %s", h.Completed, formatDuration(h.Elapsed()))),
			status))
	}
	return sb.String()
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warn := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warn))
		sb.WriteString("\n")
	}
	return sb.String()
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	switch {
	case d < time.Millisecond:
		return d.String()
	case sec < 1:
		return fmt.Sprintf("%.0fms", sec*1000)
	case sec < 60:
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}


var _ Formatter = (*PrettyFormatter)(nil)
