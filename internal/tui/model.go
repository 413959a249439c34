package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pdfchat/internal/rag"
)

const loadCommand = ":load"

// Reply is an answer that streams in.
type Reply interface {
	Tokens() <-chan string
	Wait() (string, error)
}

// ChatPort is the TUI-facing subset of the pipeline.
type ChatPort interface {
	Process(ctx context.Context, paths []string) (rag.ProcessResult, error)
	Ask(ctx context.Context, question string) (Reply, error)
}

type pipelinePort struct {
	p *rag.Pipeline
}

// FromPipeline adapts a pipeline to ChatPort.
func FromPipeline(p *rag.Pipeline) ChatPort {
	return pipelinePort{p: p}
}

func (pp pipelinePort) Process(ctx context.Context, paths []string) (rag.ProcessResult, error) {
	return pp.p.Process(ctx, paths)
}

func (pp pipelinePort) Ask(ctx context.Context, question string) (Reply, error) {
	a, err := pp.p.Ask(ctx, question)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type turn struct {
	role string
	text string
}

type (
	processedMsg struct {
		res rag.ProcessResult
		err error
	}
	answerStartedMsg struct {
		reply Reply
		err   error
	}
	tokenMsg   string
	streamEnd  struct{}
	answerDone struct {
		text string
		err  error
	}
)

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	ctx      context.Context
	port     ChatPort
	input    textinput.Model
	viewport viewport.Model
	turns    []turn
	status   string
	busy     bool
	ready    bool
	reply    Reply
}

func New(ctx context.Context, port ChatPort, status string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or :load file.pdf ..."
	ti.Focus()
	ti.CharLimit = 0
	if status == "" {
		status = "Load PDFs with :load <path...>"
	}
	return Model{ctx: ctx, port: port, input: ti, viewport: viewport.New(0, 0), status: status}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, input, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}

	case processedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("Processed %d document(s) into %d segments.", len(msg.res.Documents), msg.res.Segments)
		}
		return m, nil

	case answerStartedMsg:
		if msg.err != nil {
			// the question never reached the history
			m.busy = false
			m.turns = m.turns[:len(m.turns)-2]
			m.status = "Error: " + msg.err.Error()
			m.refresh()
			return m, nil
		}
		m.reply = msg.reply
		return m, nextToken(msg.reply)

	case tokenMsg:
		m.turns[len(m.turns)-1].text += string(msg)
		m.refresh()
		return m, nextToken(m.reply)

	case streamEnd:
		return m, waitReply(m.reply)

	case answerDone:
		m.busy = false
		m.reply = nil
		if msg.err != nil {
			m.turns = m.turns[:len(m.turns)-1]
			m.status = "Error: " + msg.err.Error()
		} else {
			m.turns[len(m.turns)-1].text = msg.text
			m.status = "Ready."
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" || m.busy {
		return m, nil
	}
	m.input.Reset()

	if line == loadCommand || strings.HasPrefix(line, loadCommand+" ") {
		paths := strings.Fields(strings.TrimPrefix(line, loadCommand))
		if len(paths) == 0 {
			m.status = "Usage: :load <file.pdf> [more.pdf ...]"
			return m, nil
		}
		m.busy = true
		m.status = fmt.Sprintf("Processing %d file(s)...", len(paths))
		return m, processFiles(m.ctx, m.port, paths)
	}

	m.busy = true
	m.status = "Thinking..."
	m.turns = append(m.turns, turn{role: "user", text: line}, turn{role: "assistant"})
	m.refresh()
	return m, ask(m.ctx, m.port, line)
}

func processFiles(ctx context.Context, port ChatPort, paths []string) tea.Cmd {
	return func() tea.Msg {
		res, err := port.Process(ctx, paths)
		return processedMsg{res: res, err: err}
	}
}

func ask(ctx context.Context, port ChatPort, question string) tea.Cmd {
	return func() tea.Msg {
		reply, err := port.Ask(ctx, question)
		return answerStartedMsg{reply: reply, err: err}
	}
}

func nextToken(r Reply) tea.Cmd {
	return func() tea.Msg {
		tok, ok := <-r.Tokens()
		if !ok {
			return streamEnd{}
		}
		return tokenMsg(tok)
	}
}

func waitReply(r Reply) tea.Cmd {
	return func() tea.Msg {
		text, err := r.Wait()
		return answerDone{text: text, err: err}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("PDF Chat")
	body := transcriptStyle.Render(m.viewport.View())
	input := inputStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "No messages yet."
	}
	width := max(10, m.viewport.Width-2)
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if t.role == "user" {
			b.WriteString(userStyle.Render("You"))
		} else {
			b.WriteString(assistantStyle.Render("Assistant"))
		}
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(width).Render(t.text))
	}
	return b.String()
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)
