package transcript

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"pepper/internal/config"
	"pepper/internal/errx"
	"pepper/internal/models"
	"pepper/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := storage.OpenDSN("sqlite3", config.DatabaseConfig{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db)
}

func strPtr(s string) *string { return &s }

func TestSessionLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	se, err := svc.CreateSession(ctx, "  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if se.Title != DefaultTitle || se.ID == "" {
		t.Fatalf("unexpected session %+v", se)
	}

	if err := svc.UpdateSessionTitle(ctx, se.ID, "Salut"); err != nil {
		t.Fatalf("update title: %v", err)
	}
	list, err := svc.ListSessions(ctx)
	if err != nil || len(list) != 1 || list[0].Title != "Salut" {
		t.Fatalf("list mismatch: %+v err=%v", list, err)
	}

	if err := svc.DeleteSession(ctx, se.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetSession(ctx, se.ID); errx.CodeOf(err) != errx.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.DeleteSession(ctx, se.ID); errx.CodeOf(err) != errx.CodeNotFound {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestAppendAndReplaceMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	se, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	user := &models.Message{ID: "c1", Author: models.AuthorMe, Text: strPtr("salut"), Metadata: strPtr("confidence: 0.93"), Status: models.StatusDelivered}
	placeholder := &models.Message{ID: "c1", Author: models.AuthorBot, Status: models.StatusTyping}
	if err := svc.AppendMessage(ctx, se.ID, 0, user); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := svc.AppendMessage(ctx, se.ID, 1, placeholder); err != nil {
		t.Fatalf("append placeholder: %v", err)
	}

	_, msgs, err := svc.GetSessionWithMessages(ctx, se.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Text != nil || msgs[1].Status != models.StatusTyping {
		t.Fatalf("placeholder not stored with null text: %+v", msgs)
	}
	if *msgs[0].Metadata != "confidence: 0.93" {
		t.Fatalf("metadata lost: %v", *msgs[0].Metadata)
	}

	resolved := &models.Message{ID: "c1", Author: models.AuthorBot, Text: strPtr("Bună!"),
		Metadata: strPtr("intent: greet, confidence: 0.99"), Status: models.StatusDelivered}
	if err := svc.ReplaceMessage(ctx, se.ID, 1, resolved); err != nil {
		t.Fatalf("replace: %v", err)
	}
	_, msgs, _ = svc.GetSessionWithMessages(ctx, se.ID)
	if msgs[1].Text == nil || *msgs[1].Text != "Bună!" || msgs[1].Status != models.StatusDelivered {
		t.Fatalf("placeholder not replaced: %+v", msgs[1])
	}

	// a mismatched correlation id never overwrites another exchange
	resolved.ID = "other"
	if err := svc.ReplaceMessage(ctx, se.ID, 1, resolved); errx.CodeOf(err) != errx.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := svc.AppendMessage(ctx, se.ID, 1, placeholder); err == nil {
		t.Fatalf("duplicate seq should be rejected")
	}
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	se, _ := svc.CreateSession(ctx, "x")
	_ = svc.AppendMessage(ctx, se.ID, 0, &models.Message{ID: "a", Author: models.AuthorMe, Text: strPtr("a"), Status: models.StatusDelivered})

	if err := svc.DeleteSession(ctx, se.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var n int
	if err := svc.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil && err != sql.ErrNoRows {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("messages left behind: %d", n)
	}
}

func TestTitleFrom(t *testing.T) {
	if got := TitleFrom("  salut   ce  faci "); got != "salut ce faci" {
		t.Fatalf("unexpected title %q", got)
	}
	long := strings.Repeat("ă", 60)
	got := TitleFrom(long)
	if !strings.HasSuffix(got, "…") || len([]rune(got)) != titleRunes+1 {
		t.Fatalf("long title not truncated: %q", got)
	}
}
