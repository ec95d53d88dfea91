package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pepper/internal/chat"
	"pepper/internal/speech"
)

var (
	listenFile string
	listenSend bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Transcribe one utterance from the microphone or a file",
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().StringVar(&listenFile, "file", "", "recorded audio file instead of the record command")
	listenCmd.Flags().BoolVar(&listenSend, "send", false, "send the transcript to the bot and print the reply")
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	source, err := audioSource(listenFile)
	if err != nil {
		return err
	}
	rec, err := newRecognizer(ctx)
	if err != nil {
		return err
	}

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	var (
		heard      string
		confidence float64
	)
	adapter := speech.NewAdapter(source, rec, speech.Options{
		MimeType: cfg.Speech.MimeType,
		OnState: func(s speech.State) {
			fmt.Println(faint("mic: " + s.String()))
		},
		OnTranscript: func(text string, c float64) {
			heard, confidence = text, c
		},
	})
	if err := adapter.Start(ctx); err != nil {
		return err
	}
	if heard == "" {
		color.Yellow("Nu am auzit nimic.")
		return nil
	}
	fmt.Printf("%s %s %s\n", boldGreen("Tu:"), heard, faint(fmt.Sprintf("(confidence: %.2f)", confidence)))

	if !listenSend {
		return nil
	}
	reply, err := newBotClient().SendMessage(ctx, heard)
	if err != nil {
		color.Red("bot: %v", err)
		return err
	}
	fmt.Printf("%s %s\n", boldCyan("Pepper:"), reply.Text)
	fmt.Println(faint(chat.FormatIntent(reply.Intent)))
	return nil
}
