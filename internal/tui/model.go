package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medical-qa-rag/internal/helper"
	"medical-qa-rag/internal/models"
	"medical-qa-rag/internal/rag"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const sourcePreviewRunes = 120

// Asker is the subset of the RAG pipeline the chat needs.
type Asker interface {
	Ask(ctx context.Context, req rag.Request) (*models.Answer, error)
}

type answerMsg struct {
	question string
	answer   *models.Answer
	err      error
	elapsed  time.Duration
}

// Model is the Bubble Tea model of the terminal chat.
type Model struct {
	ctx        context.Context
	asker      Asker
	title      string
	input      textinput.Model
	viewport   viewport.Model
	history    []models.Message
	transcript []string
	status     string
	busy       bool
	ready      bool
}

func New(ctx context.Context, asker Asker, title, greeting string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about a medicine or disease and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		ctx:        ctx,
		asker:      asker,
		title:      title,
		input:      ti,
		viewport:   viewport.New(0, 0),
		transcript: []string{aiStyle.Render("AI: ") + greeting},
		status:     "Ready.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := transcriptStyle.GetFrameSize()
		_, qh := inputStyle.GetFrameSize()
		vh := msg.Height - 2 - qh - fh - 1
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, vh)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			question := strings.TrimSpace(m.input.Value())
			if question == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Thinking..."
			m.transcript = append(m.transcript, userStyle.Render("You: ")+question)
			m.input.Reset()
			m.refresh()
			return m, m.ask(question)
		}
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.transcript = append(m.transcript, errorStyle.Render("Error: "+msg.err.Error()))
			m.refresh()
			return m, nil
		}
		m.history = append(m.history,
			models.Message{Role: models.RoleHuman, Content: msg.question},
			models.Message{Role: models.RoleAI, Content: msg.answer.Content},
		)
		m.transcript = append(m.transcript, renderAnswer(msg.answer))
		m.status = fmt.Sprintf("Answered in %s with %d sources.", msg.elapsed.Round(time.Millisecond), len(msg.answer.Sources))
		if msg.answer.Cached {
			m.status += " (cached)"
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs the question off the UI loop with the history as it was
// before the question.
func (m Model) ask(question string) tea.Cmd {
	hist := append([]models.Message(nil), m.history...)
	ctx, asker := m.ctx, m.asker
	return func() tea.Msg {
		start := time.Now()
		answer, err := asker.Ask(ctx, rag.Request{Question: question, History: hist})
		return answerMsg{question: question, answer: answer, err: err, elapsed: time.Since(start)}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(strings.Join(m.transcript, "\n\n"))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render(m.title)
	status := statusStyle.Render(m.status)
	return header + "\n" + transcriptStyle.Render(m.viewport.View()) + "\n" + inputStyle.Render(m.input.View()) + "\n" + status
}

func renderAnswer(a *models.Answer) string {
	var sb strings.Builder
	sb.WriteString(aiStyle.Render("AI: "))
	sb.WriteString(a.Content)
	if len(a.Sources) == 0 {
		return sb.String()
	}
	sb.WriteString("\n")
	sb.WriteString(sourceStyle.Render("Sources:"))
	for i, s := range a.Sources {
		line := fmt.Sprintf("\n [%d] %s p.%d", i+1, s.DisplaySource, s.PageNumber)
		if s.Section != "" {
			line += " " + s.Section
		}
		line += fmt.Sprintf(" (%.2f)\n     %s", s.Score, helper.Preview(s.Content, sourcePreviewRunes))
		sb.WriteString(sourceStyle.Render(line))
	}
	return sb.String()
}

var (
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	aiStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
