package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/FadeVT/Frostband/types"
)

// MaxLogLines bounds the log tail shown under the stage list.
const MaxLogLines = 10

// Source is the part of a pipeline run the view observes.
type Source interface {
	ID() string
	Kind() types.PipelineKind
	Events() <-chan types.Event
	Wait() *types.RunResult
}

type (
	eventMsg  types.Event
	closedMsg struct{}
	resultMsg struct{ res *types.RunResult }
)

// keyMap defines key bindings.
type keyMap struct {
	Cancel key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Cancel: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "cancel before deletion"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// ProgressModel is a Bubble Tea model following one run to its end.
type ProgressModel struct {
	src       Source
	cancel    func()
	spinner   spinner.Model
	stages    []types.Stage
	stage     types.Stage
	lines     []string
	result    *types.RunResult
	canceling bool
}

// NewProgressModel creates a model for src. cancel is called at most once,
// when the user asks to stop; it may be nil.
func NewProgressModel(src Source, cancel func()) ProgressModel {
	return ProgressModel{
		src:    src,
		cancel: cancel,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(primaryColor)),
		),
		stage: types.StageIdle,
	}
}

// Result returns the run result once the run has ended.
func (m ProgressModel) Result() *types.RunResult { return m.result }

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.src.Events()))
}

func waitForEvent(ch <-chan types.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func waitForResult(src Source) tea.Cmd {
	return func() tea.Msg {
		return resultMsg{res: src.Wait()}
	}
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Cancel):
			if m.result != nil {
				return m, tea.Quit
			}
			if !m.canceling && m.cancel != nil {
				m.canceling = true
				m.cancel()
			}
		case key.Matches(msg, keys.Quit):
			if m.result != nil {
				return m, tea.Quit
			}
		}
		return m, nil

	case eventMsg:
		m.observe(types.Event(msg))
		return m, waitForEvent(m.src.Events())

	case closedMsg:
		return m, waitForResult(m.src)

	case resultMsg:
		m.result = msg.res
		if msg.res != nil {
			if msg.res.Succeeded() {
				m.enter(types.StageComplete)
			} else {
				m.enter(types.StageFailed)
			}
		}
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *ProgressModel) observe(ev types.Event) {
	m.enter(ev.Stage)
	if ev.Line == "" {
		return
	}
	m.lines = append(m.lines, ev.Line)
	if len(m.lines) > MaxLogLines {
		m.lines = m.lines[len(m.lines)-MaxLogLines:]
	}
}

func (m *ProgressModel) enter(s types.Stage) {
	if s == "" || s == m.stage {
		return
	}
	m.stage = s
	if s != types.StageIdle {
		m.stages = append(m.stages, s)
	}
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Frostband %s  %s", m.src.Kind(), shortID(m.src.ID()))))
	b.WriteString("\n")

	for i, s := range m.stages {
		last := i == len(m.stages)-1
		switch {
		case last && s.IsTerminal():
			b.WriteString(StageStyle(s).Render(marker(s) + " " + string(s)))
		case last:
			b.WriteString(m.spinner.View() + " " + StageStyle(s).Render(string(s)))
		default:
			b.WriteString(SuccessStyle.Render("✓") + " " + MutedStyle.Render(string(s)))
		}
		b.WriteString("\n")
	}

	if len(m.lines) > 0 {
		b.WriteString(BoxStyle.Render(MutedStyle.Render(strings.Join(m.lines, "\n"))))
		b.WriteString("\n")
	}

	if m.result != nil {
		if m.result.Error != "" {
			b.WriteString(ErrorStyle.Render(m.result.Error))
			b.WriteString("\n")
		}
		b.WriteString(Summary(m.result))
		b.WriteString("\n")
		return b.String()
	}

	help := "ctrl+c to cancel before deletion"
	if m.canceling {
		help = "cancel requested; waiting for the current step"
	}
	b.WriteString(HelpStyle.Render(help))
	return b.String()
}

func marker(s types.Stage) string {
	if s == types.StageFailed {
		return "✗"
	}
	return "✓"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Summary renders the result counters as stat boxes.
func Summary(res *types.RunResult) string {
	var boxes []string
	switch res.Pipeline {
	case types.PipelinePullPurge:
		boxes = []string{
			renderStatBox("Verified", res.Verified, successColor),
			renderStatBox("Mismatched", len(res.VerificationFailures), errorColor),
			renderStatBox("Deleted", res.RemoteDeleted, warningColor),
		}
	default:
		counts := res.CountOutcomes()
		boxes = []string{
			renderStatBox("Uploaded", counts[types.OutcomeUploaded], successColor),
			renderStatBox("No ID", counts[types.OutcomeUploadedNoID], highlightColor),
			renderStatBox("Failed", counts[types.OutcomeFailed], errorColor),
		}
		if res.Pipeline == types.PipelineDirectUpload {
			boxes = append(boxes, renderStatBox("Deleted", res.RemoteDeleted, warningColor))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// Run shows the progress view until src ends and returns its result.
// If the view itself fails, the run is still awaited.
func Run(src Source, cancel func(), opts ...tea.ProgramOption) (*types.RunResult, error) {
	final, err := tea.NewProgram(NewProgressModel(src, cancel), opts...).Run()
	if err != nil {
		return src.Wait(), fmt.Errorf("progress view: %w", err)
	}
	if m, ok := final.(ProgressModel); ok && m.result != nil {
		return m.result, nil
	}
	return src.Wait(), nil
}
