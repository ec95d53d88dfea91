package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"pepper/internal/errx"
	"pepper/internal/models"
)

// DefaultTitle names sessions until their first message arrives.
const DefaultTitle = "New conversation"

const titleRunes = 48

// Service persists chat sessions and their ordered transcripts.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateSession inserts a new session. Its id doubles as the bot sender id.
func (s *Service) CreateSession(ctx context.Context, title string) (*models.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	session := &models.Session{ID: uuid.NewString(), Title: title, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.Title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions ordered by last activity.
func (s *Service) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var se models.Session
		if err := rows.Scan(&se.ID, &se.Title, &se.CreatedAt, &se.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, se)
	}
	return sessions, rows.Err()
}

// GetSession loads one session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var se models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&se.ID, &se.Title, &se.CreatedAt, &se.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errx.NotFound("session not found")
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &se, nil
}

// GetSessionWithMessages returns one session and its transcript in order.
func (s *Service) GetSessionWithMessages(ctx context.Context, sessionID string) (*models.Session, []*models.Message, error) {
	se, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT correlation_id, author, text, metadata, status, error, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return se, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var (
			m          = &models.Message{SessionID: sessionID}
			text, meta sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Author, &text, &meta, &m.Status, &m.Error, &m.CreatedAt); err != nil {
			return se, nil, fmt.Errorf("scan message: %w", err)
		}
		if text.Valid {
			m.Text = &text.String
		}
		if meta.Valid {
			m.Metadata = &meta.String
		}
		messages = append(messages, m)
	}
	return se, messages, rows.Err()
}

// AppendMessage stores the transcript entry at position seq and touches the session.
func (s *Service) AppendMessage(ctx context.Context, sessionID string, seq int, msg *models.Message) error {
	now := time.Now().UTC()
	created := msg.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, seq, correlation_id, author, text, metadata, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, seq, msg.ID, msg.Author, nullable(msg.Text), nullable(msg.Metadata), msg.Status, msg.Error, created,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// ReplaceMessage overwrites the entry at seq, which must carry the same correlation id.
func (s *Service) ReplaceMessage(ctx context.Context, sessionID string, seq int, msg *models.Message) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET text = ?, metadata = ?, status = ?, error = ?
		 WHERE session_id = ? AND seq = ? AND correlation_id = ?`,
		nullable(msg.Text), nullable(msg.Metadata), msg.Status, msg.Error, sessionID, seq, msg.ID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message rows affected: %w", err)
	}
	if affected == 0 {
		return errx.NotFound("message not found")
	}
	return nil
}

// DeleteSession removes a session and its transcript.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		err = errx.NotFound("session not found")
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

// UpdateSessionTitle sets a session title.
func (s *Service) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title cannot be empty")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, sessionID)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return errx.NotFound("session not found")
	}
	return nil
}

// TitleFrom derives a session title from the first utterance.
func TitleFrom(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= titleRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:titleRunes])) + "…"
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
