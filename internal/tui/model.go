package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pdf-rag/internal/models"
	"pdf-rag/internal/rag"
)

// Asker is the TUI-facing subset of the pipeline.
type Asker interface {
	Ask(ctx context.Context, question string, opts ...rag.AskOption) (models.Answer, error)
}

type answerMsg struct {
	answer models.Answer
	err    error
}

// Model is the Bubble Tea model of the interactive question loop.
type Model struct {
	ctx      context.Context
	asker    Asker
	topK     int
	input    textinput.Model
	viewport viewport.Model
	answers  []models.Answer
	summary  string
	status   string
	cursor   int
	ready    bool
	pending  bool
}

// New creates the model. topK is passed with every question.
func New(ctx context.Context, asker Asker, topK int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question about the document (exit to quit)"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{ctx: ctx, asker: asker, topK: topK, input: ti, viewport: vp, summary: summary, status: "Ready. Type a question."}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ah := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-ah)
		m.viewport.SetContent(m.renderCurrentAnswer())
		return m, nil

	case answerMsg:
		m.pending = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.answers = append(m.answers, msg.answer)
		m.cursor = len(m.answers) - 1
		m.status = fmt.Sprintf("Answered %q", msg.answer.Query)
		m.viewport.SetContent(m.renderCurrentAnswer())
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if isExit(q) {
				return m, tea.Quit
			}
			if q == "" || m.pending {
				return m, nil
			}
			m.pending = true
			m.status = "Thinking..."
			m.input.SetValue("")
			return m, m.ask(q)
		case "up":
			if len(m.answers) > 0 {
				m.cursor = (m.cursor - 1 + len(m.answers)) % len(m.answers)
				m.viewport.SetContent(m.renderCurrentAnswer())
				return m, nil
			}
		case "down":
			if len(m.answers) > 0 {
				m.cursor = (m.cursor + 1) % len(m.answers)
				m.viewport.SetContent(m.renderCurrentAnswer())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		ans, err := m.asker.Ask(m.ctx, question, rag.WithTopK(m.topK))
		return answerMsg{answer: ans, err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("PDF Question Answering")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	answer := answerBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + summary + "\n" + answer + "\n" + input + "\n" + status
}

func (m Model) renderCurrentAnswer() string {
	if len(m.answers) == 0 {
		return "No answers yet."
	}
	a := m.answers[m.cursor]
	title := fmt.Sprintf("Answer %d/%d", m.cursor+1, len(m.answers))
	question := questionStyle.Render(a.Query)
	refs := make([]string, len(a.Sources))
	for i, s := range a.Sources {
		refs[i] = s.String()
	}
	sources := sourceStyle.Render("Sources: " + strings.Join(refs, ", "))
	return title + "\n\n" + question + "\n\n" + a.Text + "\n\n" + sources
}

var (
	answerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func isExit(q string) bool {
	switch strings.ToLower(q) {
	case "exit", "quit", "salir":
		return true
	}
	return false
}

// Run starts the interactive loop and blocks until the user quits.
func Run(ctx context.Context, asker Asker, topK int, summary string) error {
	_, err := tea.NewProgram(New(ctx, asker, topK, summary), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
