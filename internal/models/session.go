package models

import "time"

// Session groups the transcript of one web-chat visitor. Its ID doubles as the
// sender identifier sent to the bot backend.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
