package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jamesainslie/scanshare/pkg/scanshare/events"
	"github.com/jamesainslie/scanshare/pkg/scanshare/history"
	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
	"github.com/jamesainslie/scanshare/pkg/scanshare/scheduler"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
	"github.com/jamesainslie/scanshare/pkg/scanshare/workload"
)

const (
	tickInterval = 100 * time.Millisecond
	logPaneRows  = 10
)

// Source is polled for progress while a run is going.
type Source interface {
	Progress() types.RunProgress
	Status() scheduler.Status
}

type runnerSource struct{ r *workload.Runner }

func (s runnerSource) Progress() types.RunProgress { return s.r.Progress() }
func (s runnerSource) Status() scheduler.Status    { return s.r.Scheduler().Status() }

// RunnerSource adapts a workload runner to Source.
func RunnerSource(r *workload.Runner) Source { return runnerSource{r} }

// Options configures the TUI.
type Options struct {
	Name   string
	Disks  int
	Source Source

	// Events, when set, feeds the event counter line.
	Events *events.Broadcaster

	// Run executes the workload. It must return once ctx is canceled.
	Run func(ctx context.Context) (*history.Report, error)
}

// Model is the Bubble Tea model for `scanshare run --tui`.
type Model struct {
	opts   Options
	run    RunModel
	logs   *LogViewerState
	logCh  <-chan logging.LogEntry
	sub    *events.Subscriber
	counts map[events.Type]int64
	cancel context.CancelFunc

	width  int
	height int
}

type (
	tickUIMsg struct{}
	eventMsg  events.Event
	logMsg    logging.LogEntry
)

// NewModel creates the model. cancel stops the run when the user quits
// early; it may be nil.
func NewModel(opts Options, cancel context.CancelFunc) Model {
	if cancel == nil {
		cancel = func() {}
	}
	m := Model{
		opts:   opts,
		run:    NewRunModel(),
		logs:   NewLogViewerState(),
		counts: make(map[events.Type]int64),
		cancel: cancel,
		width:  80,
		height: 24,
	}
	if opts.Events != nil {
		m.sub = opts.Events.Subscribe(events.Filter{}, 1024)
	}
	return m
}

// Init starts the spinner, the refresh tick and the event and log listeners.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.run.Init(), m.tickUI(), m.listenEvents(), m.listenLogs())
}

func (m Model) tickUI() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickUIMsg{} })
}

func (m Model) listenEvents() tea.Cmd {
	if m.sub == nil {
		return nil
	}
	ch := m.sub.C
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func (m Model) listenLogs() tea.Cmd {
	if m.logCh == nil {
		return nil
	}
	ch := m.logCh
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(e)
	}
}

// poll samples the source.
func (m Model) poll() tea.Msg {
	if m.opts.Source == nil {
		return nil
	}
	return ProgressMsg{Progress: m.opts.Source.Progress(), Status: m.opts.Source.Status()}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.run.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickUIMsg:
		if m.run.IsDone() {
			return m, nil
		}
		return m, tea.Batch(m.poll, m.tickUI())

	case ProgressMsg:
		m.run.SetProgress(msg.Progress, msg.Status)
		return m, nil

	case RunDoneMsg:
		m.run.SetDone(msg.Report, msg.Err)
		return m, m.poll

	case eventMsg:
		m.counts[msg.Type]++
		return m, m.listenEvents()

	case logMsg:
		m.logs.AddEntry(logging.LogEntry(msg))
		return m, m.listenLogs()

	case spinner.TickMsg:
		if m.run.IsDone() {
			return m, nil
		}
		var cmd tea.Cmd
		m.run, cmd = m.run.Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleKey handles keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "ctrl+c", "q", "esc":
		m.cancel()
		return m, tea.Quit
	case "enter":
		if m.run.IsDone() {
			return m, tea.Quit
		}
	case "l":
		m.logs.Toggle()
	case "1", "2", "3", "4":
		m.logs.SetFilterLevel(logging.Level(key[0] - '1'))
	case "up", "k":
		if m.logs.Open {
			m.logs.ScrollUp(logPaneRows - 2)
		}
	case "down", "j":
		if m.logs.Open {
			m.logs.ScrollDown(logPaneRows - 2)
		}
	}
	return m, nil
}

// View renders the header, the run view, event counts and the log pane.
func (m Model) View() string {
	width := max(m.width-4, 40)

	hint := "[q] stop  [l] logs"
	if m.run.IsDone() {
		hint = "[enter] exit  [l] logs"
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(renderAppHeader(m.opts.Name, m.opts.Disks, hint, width))
	b.WriteString("\n")
	b.WriteString(rule(width))
	b.WriteString("\n\n")
	b.WriteString(m.run.View())
	b.WriteString("\n\n")
	b.WriteString(renderEventCounts(m.counts))
	if m.sub != nil && m.opts.Events != nil {
		if lost := m.opts.Events.Dropped(m.sub.ID); lost > 0 {
			b.WriteString(queuedStyle.Render(fmt.Sprintf("  (%d not shown)", lost)))
		}
	}
	b.WriteString("\n")

	if m.logs.Open {
		b.WriteString("\n")
		b.WriteString(m.logs.View(width, logPaneRows))
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
		b.WriteString(keyHintStyle.Render("  [l]") + " " + keyHintDescStyle.Render("show logs"))
		b.WriteString("\n")
	}

	content := b.String()
	if lines := strings.Count(content, "\n") + 1; m.height-2 > lines {
		content += strings.Repeat("\n", m.height-2-lines)
	}
	return frameStyle.Width(m.width - 2).Render(content)
}

// Run shows the TUI while opts.Run executes and returns the run's result.
// Quitting early cancels the run and waits for it to return.
func Run(ctx context.Context, opts Options) (*history.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewModel(opts, cancel)
	model.logCh = logging.Subscribe(logging.LevelDebug)
	defer logging.Unsubscribe(model.logCh)
	if model.sub != nil {
		defer opts.Events.Unsubscribe(model.sub.ID)
	}

	p := tea.NewProgram(model, tea.WithAltScreen())

	type result struct {
		report *history.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := opts.Run(ctx)
		done <- result{report, err}
		p.Send(RunDoneMsg{Report: report, Err: err})
	}()

	_, uiErr := p.Run()
	if uiErr != nil {
		cancel()
	}
	res := <-done
	if uiErr != nil {
		return res.report, fmt.Errorf("running TUI: %w", uiErr)
	}
	return res.report, res.err
}
