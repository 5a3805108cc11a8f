package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/scanshare/pkg/scanshare/chunkdisk"
	"github.com/jamesainslie/scanshare/pkg/scanshare/events"
	"github.com/jamesainslie/scanshare/pkg/scanshare/history"
	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
	"github.com/jamesainslie/scanshare/pkg/scanshare/scheduler"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

type fakeSource struct {
	p  types.RunProgress
	st scheduler.Status
}

func (f fakeSource) Progress() types.RunProgress { return f.p }
func (f fakeSource) Status() scheduler.Status    { return f.st }

func TestChunkState(t *testing.T) {
	tests := []struct {
		load chunkdisk.ChunkLoad
		want chunkState
	}{
		{chunkdisk.ChunkLoad{Chunk: 1, Pending: 3}, chunkWaiting},
		{chunkdisk.ChunkLoad{Chunk: 2, Pending: 1, InFlight: 1}, chunkHanded},
		{chunkdisk.ChunkLoad{Chunk: 3, InFlight: 2, Active: true}, chunkScanning},
	}
	for _, tt := range tests {
		if got := stateOf(tt.load); got != tt.want {
			t.Errorf("stateOf(%+v) = %d, want %d", tt.load, got, tt.want)
		}
	}
}

func TestRuleAndCenter(t *testing.T) {
	if got := lipgloss.Width(rule(5)); got != 5 {
		t.Errorf("rule(5) width = %d, want 5", got)
	}
	if got := rule(-1); strings.Contains(got, "─") {
		t.Errorf("rule(-1) = %q, want empty", got)
	}
	if got := centerIn("ab", 6); got != "  ab  " {
		t.Errorf("centerIn() = %q, want %q", got, "  ab  ")
	}
	if got := centerIn("abcdef", 3); got != "abcdef" {
		t.Errorf("centerIn() = %q, want unchanged", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s        string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"scheduler", 6, "sch..."},
		{"abcd", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.s, tt.maxLen); got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "0:00"},
		{1500 * time.Millisecond, "0:02"},
		{90 * time.Second, "1:30"},
		{61 * time.Minute, "61:00"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.expected)
		}
	}
}

func TestFilterEntriesByLevel(t *testing.T) {
	entries := []logging.LogEntry{
		{Level: logging.LevelDebug, Message: "d"},
		{Level: logging.LevelInfo, Message: "i"},
		{Level: logging.LevelWarn, Message: "w"},
		{Level: logging.LevelError, Message: "e"},
	}
	if got := filterEntriesByLevel(entries, logging.LevelWarn); len(got) != 2 || got[0].Message != "w" {
		t.Errorf("filterEntriesByLevel(warn) = %v", got)
	}
	if got := filterEntriesByLevel(entries, logging.LevelDebug); len(got) != 4 {
		t.Errorf("filterEntriesByLevel(debug) returned %d entries, want 4", len(got))
	}
}

func TestClampLogScroll(t *testing.T) {
	tests := []struct {
		offset, total, rows, want int
	}{
		{5, 3, 10, 0},
		{-1, 20, 5, 0},
		{30, 20, 5, 15},
		{7, 20, 5, 7},
	}
	for _, tt := range tests {
		if got := clampLogScroll(tt.offset, tt.total, tt.rows); got != tt.want {
			t.Errorf("clampLogScroll(%d, %d, %d) = %d, want %d", tt.offset, tt.total, tt.rows, got, tt.want)
		}
	}
}

func TestLogViewerScroll(t *testing.T) {
	s := NewLogViewerState()
	for i := range 12 {
		s.AddEntry(logging.LogEntry{Level: logging.LevelInfo, Component: "pool", Message: string(rune('a' + i))})
	}

	s.ScrollUp(4)
	if s.Follow {
		t.Error("scrolling up should stop following")
	}
	if s.ScrollOffset != 7 {
		t.Errorf("ScrollOffset = %d, want 7", s.ScrollOffset)
	}

	s.ScrollDown(4)
	if !s.Follow {
		t.Error("scrolling to the end should follow again")
	}

	view := s.View(60, 6)
	if !strings.Contains(view, "pool: l") || strings.Contains(view, "pool: a\n") {
		t.Errorf("following view should show the newest entries:\n%s", view)
	}

	s.SetFilterLevel(logging.LevelError)
	if n := len(s.Filtered()); n != 0 {
		t.Errorf("error filter kept %d info entries", n)
	}
}

func TestLogLevelChar(t *testing.T) {
	want := map[logging.Level]string{
		logging.LevelDebug: "D",
		logging.LevelInfo:  "I",
		logging.LevelWarn:  "W",
		logging.LevelError: "E",
		logging.Level(9):   "?",
	}
	for level, c := range want {
		if got := logLevelChar(level); got != c {
			t.Errorf("logLevelChar(%v) = %q, want %q", level, got, c)
		}
	}
}

func TestRenderDisks(t *testing.T) {
	disks := []chunkdisk.Snapshot{{
		Name:     "disk0",
		Pending:  3,
		InFlight: 2,
		Chunks: []chunkdisk.ChunkLoad{
			{Chunk: 7, InFlight: 2, Active: true},
			{Chunk: 9, Pending: 3},
		},
	}}
	out := renderDisks(disks, 80)
	for _, want := range []string{"disk0", "pending 3", "running 2", "7:2", "9:0"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderDisks() missing %q:\n%s", want, out)
		}
	}
	if out := renderDisks(nil, 80); !strings.Contains(out, "No disks") {
		t.Errorf("renderDisks(nil) = %q", out)
	}
}

func TestRenderEventCounts(t *testing.T) {
	out := renderEventCounts(map[events.Type]int64{events.Finished: 1200, events.Enqueued: 3})
	if !strings.Contains(out, "enqueued 3") || !strings.Contains(out, "finished 1,200") {
		t.Errorf("renderEventCounts() = %q", out)
	}
	if strings.Index(out, "enqueued") > strings.Index(out, "finished") {
		t.Errorf("enqueued should come before finished: %q", out)
	}
	if out := renderEventCounts(nil); !strings.Contains(out, "none yet") {
		t.Errorf("renderEventCounts(nil) = %q", out)
	}
}

func TestRenderAppHeader(t *testing.T) {
	out := renderAppHeader("nightly", 2, "[q] stop", 80)
	if !strings.Contains(out, "SCANSHARE") || !strings.Contains(out, "nightly") || !strings.Contains(out, "2 disks") {
		t.Errorf("renderAppHeader() = %q", out)
	}
	if w := lipgloss.Width(out); w != 80 {
		t.Errorf("header width = %d, want 80", w)
	}
}

func TestRunModelFraction(t *testing.T) {
	m := NewRunModel()
	if m.Fraction() != 0 {
		t.Errorf("empty run fraction = %v", m.Fraction())
	}
	m.SetProgress(types.RunProgress{Submitted: 8, Completed: 2}, scheduler.Status{})
	if m.Fraction() != 0.25 {
		t.Errorf("Fraction() = %v, want 0.25", m.Fraction())
	}
}

func TestRunModelView(t *testing.T) {
	m := NewRunModel()
	m.SetSize(120, 40)
	m.SetProgress(types.RunProgress{Submitted: 10, Completed: 4, InFlight: 2, BytesRead: 3 << 20}, scheduler.Status{MaxThreads: 4})

	view := m.View()
	for _, want := range []string{"Running", "4/10", "2/4", "3.0 MiB"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}

	m.SetDone(&history.Report{Failed: 1}, nil)
	if view := m.View(); !strings.Contains(view, "Run complete") {
		t.Error("finished view should say the run is complete")
	}
	m.SetDone(nil, errors.New("boom"))
	if view := m.View(); !strings.Contains(view, "boom") {
		t.Error("failed view should show the error")
	}
}

func TestModelUpdate(t *testing.T) {
	bus := events.New()
	defer bus.Close()

	src := fakeSource{
		p:  types.RunProgress{Submitted: 4, Completed: 1},
		st: scheduler.Status{Name: "scan", MaxThreads: 2},
	}
	canceled := false
	m := NewModel(Options{Name: "t", Disks: 1, Source: src, Events: bus}, func() { canceled = true })

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(Model)
	if m.width != 100 || m.run.width != 100 {
		t.Errorf("window size not applied: %d/%d", m.width, m.run.width)
	}

	next, _ = m.Update(m.poll())
	m = next.(Model)
	if m.run.progress.Completed != 1 {
		t.Errorf("progress not applied: %+v", m.run.progress)
	}

	next, _ = m.Update(eventMsg(events.Event{Type: events.Started}))
	m = next.(Model)
	if m.counts[events.Started] != 1 {
		t.Errorf("event not counted: %v", m.counts)
	}

	next, _ = m.Update(logMsg(logging.LogEntry{Level: logging.LevelWarn, Message: "slow disk"}))
	m = next.(Model)
	if m.logs.Buffer.Len() != 1 {
		t.Errorf("log entry not stored")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("l")})
	m = next.(Model)
	if !m.logs.Open {
		t.Error("l should open the log pane")
	}
	if !strings.Contains(m.View(), "slow disk") {
		t.Error("open log pane should show the entry")
	}

	next, _ = m.Update(RunDoneMsg{Report: &history.Report{Completed: 4}})
	m = next.(Model)
	if !m.run.IsDone() {
		t.Error("RunDoneMsg should finish the run view")
	}
	if _, cmd := m.Update(tickUIMsg{}); cmd != nil {
		t.Error("ticks should stop after the run is done")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c should quit")
	}
	if !canceled {
		t.Error("ctrl+c should cancel the run")
	}
}

func TestNewModelWithoutCancel(t *testing.T) {
	m := NewModel(Options{}, nil)
	m.cancel()
	if m.listenEvents() != nil || m.listenLogs() != nil {
		t.Error("listeners should be nil without sources")
	}
	if m.poll() != nil {
		t.Error("poll without a source should return nil")
	}
}
