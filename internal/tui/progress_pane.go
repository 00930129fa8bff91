package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aristath/focusstack/internal/events"
)

// ProgressPaneModel shows pool counters and an overall progress bar.
type ProgressPaneModel struct {
	total     int
	completed int
	running   int
	queued    int
	current   string
	failure   string
	started   time.Time
	last      time.Time
	bar       progress.Model
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates a progress pane.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.TaskQueuedEvent:
		m.total++
		m.queued++
		m.stamp(msg.Timestamp)

	case events.PoolProgressEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.queued = msg.Queued
		m.current = msg.Current
		m.stamp(msg.Timestamp)

	case events.PoolFailedEvent:
		m.failure = fmt.Sprintf("%s: %v", msg.Name, msg.Err)
		m.stamp(msg.Timestamp)
	}
	return m, nil
}

func (m *ProgressPaneModel) stamp(t time.Time) {
	if m.started.IsZero() {
		m.started = t
	}
	m.last = t
}

// Percent is the share of submitted tasks that have finished.
func (m ProgressPaneModel) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.completed) / float64(m.total)
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Total:     %d\n", m.total))
	b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.completed))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.running))))
	b.WriteString(fmt.Sprintf("Queued:    %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.queued))))
	if m.current != "" {
		b.WriteString(fmt.Sprintf("Current:   %s\n", m.current))
	}
	if !m.started.IsZero() {
		b.WriteString(fmt.Sprintf("Started:   %s\n", humanize.Time(m.started)))
	}
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.Percent()))
	b.WriteString(fmt.Sprintf("  %d/%d\n", m.completed, m.total))

	if m.failure != "" {
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render("Stopped: " + m.failure))
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.bar.Width = max(10, min(w-14, 60))
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
