package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/scanshare/pkg/scanshare/history"
	"github.com/jamesainslie/scanshare/pkg/scanshare/scheduler"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

// RunModel renders a workload run in progress.
type RunModel struct {
	progress types.RunProgress
	status   scheduler.Status
	spinner  spinner.Model
	bar      progress.Model
	width    int
	height   int
	done     bool
	err      error
	report   *history.Report
}

// ProgressMsg carries a progress sample and scheduler snapshot.
type ProgressMsg struct {
	Progress types.RunProgress
	Status   scheduler.Status
}

// RunDoneMsg is sent when the run returns.
type RunDoneMsg struct {
	Report *history.Report
	Err    error
}

// NewRunModel creates the run view.
func NewRunModel() RunModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(brandColor)

	return RunModel{
		spinner: s,
		bar:     progress.New(progress.WithGradient(string(brandColor), string(diskColor))),
		width:   80,
		height:  24,
	}
}

// Init starts the spinner.
func (m RunModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the run view.
func (m RunModel) Update(msg tea.Msg) (RunModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
	case ProgressMsg:
		m.SetProgress(msg.Progress, msg.Status)
	case RunDoneMsg:
		m.SetDone(msg.Report, msg.Err)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// SetSize records the terminal size.
func (m *RunModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.bar.Width = max(width-14, 10)
}

// SetProgress updates the progress sample.
func (m *RunModel) SetProgress(p types.RunProgress, st scheduler.Status) {
	m.progress = p
	m.status = st
}

// SetDone marks the run finished.
func (m *RunModel) SetDone(report *history.Report, err error) {
	m.done = true
	m.report = report
	m.err = err
}

// IsDone reports whether the run has returned.
func (m RunModel) IsDone() bool { return m.done }

// Fraction returns the finished share of submitted tasks.
func (m RunModel) Fraction() float64 {
	if m.progress.Submitted == 0 {
		return 0
	}
	return min(float64(m.progress.Completed)/float64(m.progress.Submitted), 1)
}

// View renders the status line, the progress bar, stat boxes and the disks.
func (m RunModel) View() string {
	width := max(m.width-4, 40)

	var b strings.Builder
	switch {
	case m.done && m.err != nil:
		b.WriteString(failedStyle.Render(fmt.Sprintf("  Run stopped: %v", m.err)))
	case m.done:
		b.WriteString(doneStyle.Render("  Run complete"))
	default:
		b.WriteString(fmt.Sprintf("  %s Running %s", m.spinner.View(),
			dimStyle.Render(truncate(m.progress.ActiveInfo, width-12))))
	}
	b.WriteString("\n\n  ")
	b.WriteString(m.bar.ViewAs(m.Fraction()))
	b.WriteString("\n\n")
	b.WriteString(m.renderStats(width))
	b.WriteString("\n\n")
	b.WriteString(renderDisks(m.status.Disks, width))
	return b.String()
}

func (m RunModel) renderStats(width int) string {
	boxWidth := max((width-8)/7, 10)
	p := m.progress

	tasks := fmt.Sprintf("%s/%s", humanize.Comma(int64(p.Completed)), humanize.Comma(int64(p.Submitted)))
	inFlight := fmt.Sprintf("%d/%d", p.InFlight, m.status.MaxThreads)
	rate := "-"
	if bps := int64(p.Throughput()); bps > 0 {
		rate = types.FormatRate(bps)
	}
	failed := humanize.Comma(int64(p.Failed))
	if m.report != nil {
		failed = humanize.Comma(int64(m.report.Failed))
	}

	boxes := []string{
		renderStatBox("Tasks", tasks, boxWidth),
		renderStatBox("Running", inFlight, boxWidth),
		renderStatBox("Queued", humanize.Comma(int64(p.QueueSize)), boxWidth),
		renderStatBox("Failed", failed, boxWidth),
		renderStatBox("Read", types.FormatSize(p.BytesRead), boxWidth),
		renderStatBox("Rate", rate, boxWidth),
		renderStatBox("Time", formatDuration(p.Elapsed), boxWidth),
	}

	parts := make([]string, 0, 2*len(boxes))
	parts = append(parts, "  ")
	for i, box := range boxes {
		if i > 0 {
			parts = append(parts, " ")
		}
		parts = append(parts, box)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func renderStatBox(label, value string, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		centerIn(statLabelStyle.Render(label), width-2),
		centerIn(statValueStyle.Render(value), width-2))
	return statBoxStyle.Width(width).Render(content)
}

// formatDuration formats a duration as M:SS.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d", m, s)
}
