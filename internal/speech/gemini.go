package speech

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/genai"
)

const transcribePrompt = "Transcribe the speech in this recording. The language is %s. " +
	"Reply with the transcript only, without quotes or commentary. Reply with an empty message if nothing was said."

// GeminiRecognizer transcribes audio with a Gemini model, asking for a single
// candidate in a fixed locale.
type GeminiRecognizer struct {
	client *genai.Client
	model  string
	locale string
}

func NewGeminiRecognizer(ctx context.Context, apiKey, model, locale string) (*GeminiRecognizer, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiRecognizer{client: client, model: model, locale: locale}, nil
}

func (r *GeminiRecognizer) Recognize(ctx context.Context, audio []byte, mimeType string) (Result, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(fmt.Sprintf(transcribePrompt, r.locale)),
			genai.NewPartFromBytes(audio, mimeType),
		}, genai.RoleUser),
	}
	resp, err := r.client.Models.GenerateContent(ctx, r.model, contents, &genai.GenerateContentConfig{
		CandidateCount: 1,
		Temperature:    genai.Ptr[float32](0),
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate transcript: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return Result{}, ErrNoMatch
	}
	text := resp.Text()
	if text == "" {
		return Result{}, ErrNoMatch
	}
	return Result{Transcript: text, Confidence: logprobConfidence(resp.Candidates[0].AvgLogprobs)}, nil
}

// logprobConfidence maps an average token log-probability to [0,1]. A
// missing value (0) maps to full confidence.
func logprobConfidence(avg float64) float64 {
	c := math.Exp(avg)
	if c > 1 {
		return 1
	}
	return c
}
