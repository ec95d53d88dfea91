package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"pepper/internal/chat"
	"pepper/internal/logger"
	"pepper/internal/models"
	"pepper/internal/speech"
)

const chatChrome = 3 // input, status, help

// ChatController is the part of the session controller the chat page drives.
type ChatController interface {
	Submit(text string, speechConfidence *float64) (id string, ok bool)
	Retry(id string) error
	Transcript() []*models.Message
	Subscribe(fn func(chat.Event)) (cancel func())
}

// SpeechInput starts one capture; the chat page only needs to trigger it.
type SpeechInput interface {
	Start(ctx context.Context) error
	State() speech.State
}

type transcriptChangedMsg struct{}

// SpeechStateMsg reports a speech adapter transition to the chat page.
type SpeechStateMsg speech.State

type speechDoneMsg struct{ err error }

// ChatModel renders the transcript and an input line. It never mutates the
// transcript itself: every change comes back from the controller.
type ChatModel struct {
	ctrl   ChatController
	speech SpeechInput
	styles Styles

	viewport viewport.Model
	input    textinput.Model

	messages    []*models.Message
	speechState speech.State
	status      string

	changed     chan struct{}
	states      <-chan speech.State
	unsubscribe func()

	width, height int
}

// ChatOptions configures a ChatModel. Speech is optional; SpeechStates carries
// the adapter's OnState transitions.
type ChatOptions struct {
	Title        string
	Speech       SpeechInput
	SpeechStates <-chan speech.State
	Styles       *Styles
}

func NewChatModel(ctrl ChatController, opts ChatOptions) ChatModel {
	styles := DefaultStyles()
	if opts.Styles != nil {
		styles = *opts.Styles
	}
	ti := textinput.New()
	ti.Placeholder = "Scrie un mesaj..."
	ti.Prompt = "> "
	ti.CharLimit = 500
	ti.Focus()

	m := ChatModel{
		ctrl:     ctrl,
		speech:   opts.Speech,
		styles:   styles,
		viewport: viewport.New(80, 20),
		input:    ti,
		changed:  make(chan struct{}, 1),
		states:   opts.SpeechStates,
		status:   opts.Title,
	}
	// the callback runs on the controller's goroutine; it only signals and the
	// page re-reads the transcript on its own goroutine
	changed := m.changed
	m.unsubscribe = ctrl.Subscribe(func(chat.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	m.messages = ctrl.Transcript()
	m.refresh()
	return m
}

func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForChange(m.changed), waitForSpeechState(m.states))
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return transcriptChangedMsg{}
	}
}

func waitForSpeechState(ch <-chan speech.State) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return SpeechStateMsg(s)
	}
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chatChrome, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case transcriptChangedMsg:
		m.messages = m.ctrl.Transcript()
		m.refresh()
		return m, waitForChange(m.changed)

	case SpeechStateMsg:
		m.speechState = speech.State(msg)
		return m, waitForSpeechState(m.states)

	case speechDoneMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.unsubscribe != nil {
				m.unsubscribe()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			text := m.input.Value()
			if _, ok := m.ctrl.Submit(text, nil); ok {
				m.input.Reset()
				m.status = ""
			}
			return m, nil
		case tea.KeyCtrlR:
			m.status = m.retryLastFailed()
			return m, nil
		case tea.KeyCtrlT:
			return m, m.startSpeech()
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *ChatModel) retryLastFailed() string {
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.Author != models.AuthorBot || msg.Status != models.StatusFailed {
			continue
		}
		if err := m.ctrl.Retry(msg.ID); err != nil {
			logger.Warn().Err(err).Str("id", msg.ID).Msg("retry failed")
			return err.Error()
		}
		return "retrying"
	}
	return "nothing to retry"
}

func (m *ChatModel) startSpeech() tea.Cmd {
	if m.speech == nil {
		m.status = "speech input unavailable"
		return nil
	}
	if m.speech.State() == speech.Capturing {
		return nil
	}
	in := m.speech
	return func() tea.Msg {
		err := in.Start(context.Background())
		if errors.Is(err, speech.ErrCaptureActive) {
			err = nil
		}
		return speechDoneMsg{err: err}
	}
}

func (m *ChatModel) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m ChatModel) renderTranscript() string {
	var sb strings.Builder
	for _, msg := range m.messages {
		sb.WriteString(m.renderMessage(msg))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m ChatModel) renderMessage(msg *models.Message) string {
	var line string
	switch {
	case msg.Author == models.AuthorMe:
		line = m.styles.Me.Render("tu:") + " " + deref(msg.Text)
	case msg.Status == models.StatusFailed:
		line = m.styles.Bot.Render("pepper:") + " " +
			m.styles.Failed.Render(fmt.Sprintf("✗ %s (ctrl+r to retry)", msg.Error))
	case msg.IsPlaceholder():
		line = m.styles.Bot.Render("pepper:") + " " + m.styles.Typing.Render("scrie...")
	default:
		line = m.styles.Bot.Render("pepper:") + " " + deref(msg.Text)
	}
	if msg.Metadata != nil {
		line += "\n" + m.styles.Meta.Render(*msg.Metadata)
	}
	return line
}

func (m ChatModel) View() string {
	var sb strings.Builder
	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")
	sb.WriteString(m.input.View())
	sb.WriteString("\n")
	status := "mic: " + m.speechState.String()
	if m.status != "" {
		status += " | " + m.status
	}
	sb.WriteString(m.styles.Status.Render(status))
	sb.WriteString("\n")
	sb.WriteString(m.styles.Help.Render("enter send • ctrl+t speak • ctrl+r retry • esc quit"))
	return sb.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
