package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/focusstack/internal/events"
)

// Task statuses as shown in the list.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// TaskState is what the pane knows about one task.
type TaskState struct {
	Name      string
	Index     int
	Status    string
	Worker    int
	Exclusive bool
	Started   time.Time
	Duration  time.Duration
	Err       error
}

// TaskPaneModel lists tasks and shows details for the selected one.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // name -> state
	order       []string              // queue order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		case KeyFirst:
			m.selectedIdx = 0
		case KeyLast:
			m.selectedIdx = max(0, len(m.order)-1)
		case KeyNextFailed:
			m.selectNext(StatusFailed)
		case KeyNextRunning:
			m.selectNext(StatusRunning)
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskQueuedEvent:
		state := m.track(msg.Name)
		state.Index = msg.Index

	case events.TaskStartedEvent:
		state := m.track(msg.Name)
		state.Status = StatusRunning
		state.Worker = msg.Worker
		state.Exclusive = msg.Exclusive
		state.Started = msg.Timestamp

	case events.TaskCompletedEvent:
		state := m.track(msg.Name)
		state.Status = StatusCompleted
		state.Duration = msg.Duration

	case events.TaskFailedEvent:
		state := m.track(msg.Name)
		state.Status = StatusFailed
		state.Duration = msg.Duration
		state.Err = msg.Err
	}

	m.updateViewportContent()
	return m, cmd
}

// track returns the state for name, adding it in queued state if unseen.
func (m *TaskPaneModel) track(name string) *TaskState {
	if state, ok := m.tasks[name]; ok {
		return state
	}
	state := &TaskState{Name: name, Status: StatusQueued}
	m.tasks[name] = state
	m.order = append(m.order, name)
	return state
}

// selectNext moves the selection to the next task after the current one
// with the given status, wrapping around. The selection is unchanged when
// no task matches.
func (m *TaskPaneModel) selectNext(status string) {
	n := len(m.order)
	for step := 1; step <= n; step++ {
		i := (m.selectedIdx + step) % n
		if m.tasks[m.order[i]].Status == status {
			m.selectedIdx = i
			return
		}
	}
}

// Task returns the state of a task by name.
func (m TaskPaneModel) Task(name string) (TaskState, bool) {
	state, ok := m.tasks[name]
	if !ok {
		return TaskState{}, false
	}
	return *state, true
}

// Selected returns the name of the selected task, or "".
func (m TaskPaneModel) Selected() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := min(40, m.width/2)
	detailWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(listWidth),
		lipgloss.NewStyle().
			Width(detailWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, name := range m.order {
		label := name
		if len(label) > width-4 && width > 7 {
			label = "..." + label[len(label)-(width-7):]
		}
		line := fmt.Sprintf("%s %s", StatusIcon(m.tasks[name].Status), label)
		if m.tasks[name].Exclusive && m.tasks[name].Status == StatusRunning {
			line += StyleExclusive.Render(" ◆")
		}
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case StatusRunning:
		return StyleStatusRunning.Render("●")
	case StatusCompleted:
		return StyleStatusComplete.Render("✓")
	case StatusFailed:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m *TaskPaneModel) updateViewportContent() {
	name := m.Selected()
	if name == "" {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	state := m.tasks[name]

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", name)
	fmt.Fprintf(&b, "Index:     %d\n", state.Index)
	fmt.Fprintf(&b, "Status:    %s\n", state.Status)
	if state.Status != StatusQueued {
		fmt.Fprintf(&b, "Worker:    %d\n", state.Worker)
		fmt.Fprintf(&b, "Exclusive: %v\n", state.Exclusive)
	}
	if state.Duration > 0 {
		fmt.Fprintf(&b, "Duration:  %v\n", state.Duration.Round(time.Millisecond))
	}
	if state.Err != nil {
		fmt.Fprintf(&b, "\n%s\n", StyleStatusFailed.Render(state.Err.Error()))
	}
	m.viewport.SetContent(b.String())
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(10, w-min(40, w/2)-4)
	m.viewport.Height = max(5, h-4)
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
