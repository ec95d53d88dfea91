package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"pepper/internal/chat"
	"pepper/internal/logger"
	"pepper/internal/speech"
	"pepper/internal/ui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the bot, ctrl+t for speech input",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	client := newBotClient()
	ctrl := chat.NewController(client, chat.Options{
		SessionID: client.Sender(),
		Timeout:   time.Duration(cfg.Bot.TimeoutSeconds) * time.Second,
	})

	opts := ui.ChatOptions{Title: fmt.Sprintf("sender %s", client.Sender())}
	if adapter, states, err := newChatSpeech(cmd.Context(), ctrl); err != nil {
		logger.Info().Err(err).Msg("speech input disabled")
	} else {
		opts.Speech = adapter
		opts.SpeechStates = states
	}

	program := tea.NewProgram(ui.NewChatModel(ctrl, opts), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run chat view: %w", err)
	}
	return nil
}

// newChatSpeech wires the adapter so a transcript is submitted like typed
// text, carrying its confidence.
func newChatSpeech(ctx context.Context, ctrl *chat.Controller) (*speech.Adapter, <-chan speech.State, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	source, err := audioSource("")
	if err != nil {
		return nil, nil, err
	}
	rec, err := newRecognizer(ctx)
	if err != nil {
		return nil, nil, err
	}
	states := make(chan speech.State, 8)
	adapter := speech.NewAdapter(source, rec, speech.Options{
		MimeType: cfg.Speech.MimeType,
		OnState: func(s speech.State) {
			select {
			case states <- s:
			default:
				logger.Warn().Str("state", s.String()).Msg("speech state dropped")
			}
		},
		OnTranscript: func(text string, confidence float64) {
			ctrl.Submit(text, &confidence)
		},
	})
	return adapter, states, nil
}
