package speech

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"sync"

	"pepper/internal/errx"
	"pepper/internal/logger"
	"pepper/internal/metrics"
)

// State is the capture level reported on every transition.
type State int

const (
	Idle State = iota
	Capturing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrNoMatch is returned by a Recognizer that heard nothing usable.
	ErrNoMatch = errors.New("no speech recognised")
	// ErrCaptureActive rejects a Start while a capture is already running.
	ErrCaptureActive = errx.New(nil, errx.CodeCaptureActive, http.StatusConflict, "speech capture already active")
)

// AudioSource captures one utterance of audio.
type AudioSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Result is the single best alternative of a recognition attempt.
type Result struct {
	Transcript string
	Confidence float64
}

// Recognizer turns captured audio into text.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, mimeType string) (Result, error)
}

// Options configures an Adapter.
type Options struct {
	MimeType     string
	OnState      func(State)
	OnTranscript func(text string, confidence float64)
}

// Adapter runs one recognition attempt at a time and reports through callbacks.
type Adapter struct {
	source     AudioSource
	recognizer Recognizer
	mimeType   string

	onState      func(State)
	onTranscript func(string, float64)

	mu    sync.Mutex
	state State
}

func NewAdapter(source AudioSource, recognizer Recognizer, opts Options) *Adapter {
	mime := opts.MimeType
	if mime == "" {
		mime = "audio/wav"
	}
	return &Adapter{
		source:       source,
		recognizer:   recognizer,
		mimeType:     mime,
		onState:      opts.OnState,
		onTranscript: opts.OnTranscript,
	}
}

// State reports the current capture level.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start captures and recognises one utterance, blocking until the session
// ends. Recognition failures and no-match are logged and end the session
// without a transcript; only a concurrent Start is reported to the caller.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state == Capturing {
		a.mu.Unlock()
		return ErrCaptureActive
	}
	a.state = Capturing
	a.mu.Unlock()
	a.emit(Capturing)

	result, err := a.recognize(ctx)
	switch {
	case errors.Is(err, ErrNoMatch):
		metrics.SpeechSessions.WithLabelValues("no_match").Inc()
		logger.Info().Msg("speech recognition: no match")
	case err != nil:
		metrics.SpeechSessions.WithLabelValues("error").Inc()
		logger.Warn().Err(err).Msg("speech recognition failed")
	default:
		metrics.SpeechSessions.WithLabelValues("ok").Inc()
		if a.onTranscript != nil {
			a.onTranscript(result.Transcript, RoundConfidence(result.Confidence))
		}
	}

	a.mu.Lock()
	a.state = Stopped
	a.mu.Unlock()
	a.emit(Stopped)
	return nil
}

func (a *Adapter) recognize(ctx context.Context) (Result, error) {
	audio, err := a.source.Capture(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(audio) == 0 {
		return Result{}, ErrNoMatch
	}
	result, err := a.recognizer.Recognize(ctx, audio, a.mimeType)
	if err != nil {
		return Result{}, err
	}
	result.Transcript = strings.TrimSpace(result.Transcript)
	if result.Transcript == "" {
		return Result{}, ErrNoMatch
	}
	return result, nil
}

func (a *Adapter) emit(s State) {
	if a.onState != nil {
		a.onState(s)
	}
}

// RoundConfidence clamps c into [0,1] and rounds it to two decimals.
func RoundConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return math.Round(c*100) / 100
}
