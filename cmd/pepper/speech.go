package main

import (
	"context"
	"errors"
	"fmt"

	"pepper/internal/speech"
)

var errNoAudio = errors.New("no audio source: set speech.record_command or pass --file")

// newRecognizer returns the configured speech platform.
func newRecognizer(ctx context.Context) (speech.Recognizer, error) {
	if cfg.Speech.APIKey == "" {
		return nil, errors.New("speech recognition needs GEMINI_API_KEY")
	}
	rec, err := speech.NewGeminiRecognizer(ctx, cfg.Speech.APIKey, cfg.Speech.Model, cfg.Speech.Locale)
	if err != nil {
		return nil, fmt.Errorf("create recognizer: %w", err)
	}
	return rec, nil
}

func audioSource(file string) (speech.AudioSource, error) {
	if file != "" {
		return speech.FileSource{Path: file}, nil
	}
	if len(cfg.Speech.RecordCommand) > 0 {
		return speech.CommandSource{Command: cfg.Speech.RecordCommand}, nil
	}
	return nil, errNoAudio
}
