package corpus

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"pepper/internal/annotate"
	"pepper/internal/errx"
	"pepper/internal/metrics"
	"pepper/internal/models"
)

// Service keeps the pool of phrases awaiting annotation and the stored examples.
type Service struct {
	db        *sql.DB
	minTokens int
	vocab     *annotate.Vocabulary
}

func NewService(db *sql.DB, minTokens int, vocab *annotate.Vocabulary) *Service {
	if minTokens <= 0 {
		minTokens = 3
	}
	return &Service{db: db, minTokens: minTokens, vocab: vocab}
}

// ImportPending adds one phrase per non-blank line of r, skipping phrases
// already pending. It returns how many were added.
func (s *Service) ImportPending(ctx context.Context, r io.Reader) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	added := 0
	now := time.Now().UTC()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		phrase := strings.TrimSpace(scanner.Text())
		if phrase == "" {
			continue
		}
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM pending_phrases WHERE phrase = ?`, phrase).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("check pending phrase: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO pending_phrases (phrase, created_at) VALUES (?, ?)`, phrase, now); err != nil {
			return 0, fmt.Errorf("insert pending phrase: %w", err)
		}
		added++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read pending phrases: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit pending phrases: %w", err)
	}
	return added, nil
}

// Next removes and returns the first pending phrase that is not annotated yet
// and has at least minTokens tokens. Phrases that do not qualify stay pending.
func (s *Service) Next(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT p.id, p.phrase FROM pending_phrases p
		 WHERE NOT EXISTS (SELECT 1 FROM annotations a WHERE a.phrase = p.phrase)
		 ORDER BY p.id ASC`,
	)
	if err != nil {
		return "", fmt.Errorf("list pending phrases: %w", err)
	}
	var (
		id     int64
		phrase string
		found  bool
	)
	for rows.Next() {
		if err := rows.Scan(&id, &phrase); err != nil {
			rows.Close()
			return "", fmt.Errorf("scan pending phrase: %w", err)
		}
		if len(annotate.Tokenize(phrase)) >= s.minTokens {
			found = true
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate pending phrases: %w", err)
	}
	if !found {
		return "", errx.NotFound("no pending phrases")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_phrases WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("remove pending phrase: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit next phrase: %w", err)
	}
	return phrase, nil
}

// Store validates and appends an annotation, returning the new example count.
func (s *Service) Store(ctx context.Context, a models.Annotation) (int, error) {
	if err := annotate.Validate(a, s.vocab); err != nil {
		return 0, err
	}
	heads, err := json.Marshal(a.Heads)
	if err != nil {
		return 0, fmt.Errorf("encode heads: %w", err)
	}
	deps, err := marshalNoEscape(a.Deps)
	if err != nil {
		return 0, fmt.Errorf("encode deps: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO annotations (phrase, heads, deps, created_at) VALUES (?, ?, ?, ?)`,
		a.Phrase, string(heads), string(deps), time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("insert annotation: %w", err)
	}
	metrics.AnnotationsStored.Inc()
	return s.Count(ctx)
}

// Count returns the number of stored examples.
func (s *Service) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count annotations: %w", err)
	}
	return n, nil
}

// Annotations returns every stored example in insertion order.
func (s *Service) Annotations(ctx context.Context) ([]models.Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phrase, heads, deps FROM annotations ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	out := make([]models.Annotation, 0)
	for rows.Next() {
		var (
			a           models.Annotation
			heads, deps string
		)
		if err := rows.Scan(&a.Phrase, &heads, &deps); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		if err := json.Unmarshal([]byte(heads), &a.Heads); err != nil {
			return nil, fmt.Errorf("decode heads: %w", err)
		}
		if err := json.Unmarshal([]byte(deps), &a.Deps); err != nil {
			return nil, fmt.Errorf("decode deps: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Export writes all examples as one JSON array of [phrase, {heads, deps}].
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	all, err := s.Annotations(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(all)
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
