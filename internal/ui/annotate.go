package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"pepper/internal/annotate"
)

const backendTimeout = 15 * time.Second

type nextDoneMsg struct{ err error }

type storeDoneMsg struct {
	count int
	err   error
}

// toolView is what the page renders. It is copied out of the tool after every
// change so View never reads the tool while a backend call is running.
type toolView struct {
	state     annotate.State
	tokens    []string
	index     int
	candidate int
	pending   string
	preParse  string
	status    string
	examples  int
	deps      []string
	heads     []int
}

// AnnotateModel drives an annotate.Tool from the keyboard. Backend calls run
// as commands; keys other than quit are ignored until they finish. An idle
// tool fetches its first phrase on Init, a restored one is shown as is.
type AnnotateModel struct {
	tool   *annotate.Tool
	labels []string
	styles Styles

	relation int
	busy     bool
	err      error
	view     toolView
}

func NewAnnotateModel(tool *annotate.Tool) AnnotateModel {
	m := AnnotateModel{
		tool:   tool,
		labels: tool.Vocabulary().Labels(),
		styles: DefaultStyles(),
		busy:   tool.State() == annotate.Idle,
	}
	m.snapshot()
	return m
}

func (m AnnotateModel) Init() tea.Cmd {
	if !m.busy {
		return nil
	}
	return m.next()
}

func (m *AnnotateModel) snapshot() {
	t := m.tool
	pending, _ := t.Pending()
	m.view = toolView{
		state:     t.State(),
		tokens:    append([]string(nil), t.Tokens...),
		index:     t.Index,
		candidate: t.Candidate,
		pending:   pending,
		preParse:  annotate.PlainText(t.PreParse),
		status:    t.Status,
		examples:  t.Examples,
		deps:      append([]string(nil), t.Deps...),
		heads:     append([]int(nil), t.Heads...),
	}
}

func (m AnnotateModel) next() tea.Cmd {
	tool := m.tool
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()
		return nextDoneMsg{err: tool.Next(ctx)}
	}
}

func (m AnnotateModel) store() tea.Cmd {
	tool := m.tool
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()
		count, err := tool.Store(ctx)
		return storeDoneMsg{count: count, err: err}
	}
}

func (m AnnotateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case nextDoneMsg:
		m.busy = false
		m.err = msg.err
		m.relation = 0
		m.snapshot()
		return m, nil

	case storeDoneMsg:
		m.busy = false
		m.err = msg.err
		m.snapshot()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			return m, tea.Quit
		}
		if m.busy {
			return m, nil
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m AnnotateModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	switch msg.String() {
	case "left":
		m.err = m.tool.SelectToken(m.view.candidate - 1)
	case "right":
		m.err = m.tool.SelectToken(m.view.candidate + 1)
	case "up":
		if m.relation > 0 {
			m.relation--
		}
	case "down":
		if m.relation < len(m.labels)-1 {
			m.relation++
		}
	case "enter":
		if len(m.labels) > 0 {
			m.err = m.tool.SelectRelation(m.labels[m.relation])
		}
	case "s":
		m.busy = true
		return m, m.store()
	case "n":
		m.busy = true
		return m, m.next()
	default:
		return m, nil
	}
	m.snapshot()
	return m, nil
}

func (m AnnotateModel) View() string {
	v := m.view
	var sb strings.Builder
	sb.WriteString(m.styles.Header.Render("Adnotare dependențe"))
	sb.WriteString("\n")

	if len(v.tokens) == 0 {
		sb.WriteString("no phrase loaded\n")
	} else {
		for i, tok := range v.tokens {
			style := m.styles.Token
			switch {
			case v.state == annotate.Labeling && i == v.candidate:
				style = m.styles.Candidate
			case v.pending != "" && i == v.index:
				style = m.styles.Pending
			}
			sb.WriteString(style.Render(tok))
		}
		sb.WriteString("\n\n")
		for i, dep := range v.deps {
			fmt.Fprintf(&sb, "  %s ← %s (%s)\n", v.tokens[i], v.tokens[v.heads[i]], dep)
		}
		if v.pending != "" {
			fmt.Fprintf(&sb, "  %s ← %s ?\n", v.pending, v.tokens[v.candidate])
		}
	}

	if v.preParse != "" {
		sb.WriteString("\n")
		sb.WriteString(m.styles.Meta.Render(v.preParse))
		sb.WriteString("\n")
	}

	if v.state == annotate.Labeling {
		sb.WriteString("\n")
		for i, label := range m.labels {
			if i == m.relation {
				sb.WriteString(m.styles.Selected.Render("> " + label))
			} else {
				sb.WriteString("  " + label)
			}
			sb.WriteString("\n")
		}
	}

	status := fmt.Sprintf("%s | %s | examples: %d", v.state, v.status, v.examples)
	if m.busy {
		status += " | ..."
	}
	if m.err != nil {
		status += " | " + m.err.Error()
	}
	sb.WriteString("\n")
	sb.WriteString(m.styles.Status.Render(status))
	sb.WriteString("\n")
	sb.WriteString(m.styles.Help.Render("←/→ head • ↑/↓ relation • enter apply • s store • n next • q quit"))
	return sb.String()
}
