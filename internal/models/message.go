package models

import "time"

// Author identifies who produced a transcript entry.
type Author string

const (
	AuthorMe  Author = "me"
	AuthorBot Author = "bot"
)

// Status tracks the lifecycle of a bot turn.
type Status string

const (
	StatusTyping    Status = "typing"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Message is one transcript entry. A bot message with a nil Text is a
// placeholder for a reply that has not arrived yet.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Author    Author    `json:"author"`
	Text      *string   `json:"text"`
	Metadata  *string   `json:"metadata"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsPlaceholder reports whether the message is an unresolved bot turn.
func (m *Message) IsPlaceholder() bool {
	return m != nil && m.Author == AuthorBot && m.Text == nil
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Text != nil {
		text := *m.Text
		c.Text = &text
	}
	if m.Metadata != nil {
		meta := *m.Metadata
		c.Metadata = &meta
	}
	return &c
}

// Intent is the backend's classification of an utterance.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}
