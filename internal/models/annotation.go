package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Annotation holds a phrase with one head index and one relation label per token.
type Annotation struct {
	Phrase string
	Heads  []int
	Deps   []string
}

type annotationRelations struct {
	Heads []int    `json:"heads"`
	Deps  []string `json:"deps"`
}

// MarshalJSON encodes the annotation as [phrase, {"heads": [...], "deps": [...]}].
func (a Annotation) MarshalJSON() ([]byte, error) {
	heads := a.Heads
	if heads == nil {
		heads = []int{}
	}
	deps := a.Deps
	if deps == nil {
		deps = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{a.Phrase, annotationRelations{Heads: heads, Deps: deps}}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON decodes the two-element array form.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("annotation: %w", err)
	}
	if len(raw) != 2 {
		return errors.New("annotation: expected [phrase, relations]")
	}
	var phrase string
	if err := json.Unmarshal(raw[0], &phrase); err != nil {
		return fmt.Errorf("annotation phrase: %w", err)
	}
	var rel annotationRelations
	if err := json.Unmarshal(raw[1], &rel); err != nil {
		return fmt.Errorf("annotation relations: %w", err)
	}
	if len(rel.Heads) != len(rel.Deps) {
		return fmt.Errorf("annotation: %d heads but %d deps", len(rel.Heads), len(rel.Deps))
	}
	a.Phrase = phrase
	a.Heads = rel.Heads
	a.Deps = rel.Deps
	return nil
}
