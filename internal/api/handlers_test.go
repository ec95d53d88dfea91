package api

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"pepper/internal/bot"
	"pepper/internal/chat"
	"pepper/internal/config"
	"pepper/internal/errx"
	"pepper/internal/models"
	"pepper/internal/service/transcript"
	"pepper/internal/storage"
	"pepper/internal/worker"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	router, db, _ := newTestServer(t, syncExecutor{})

	// Create a session.
	createResp := doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions", nil, nil)
	assertStatus(t, createResp, http.StatusCreated)
	var createBody struct {
		Session models.Session `json:"session"`
	}
	decodeJSON(t, createResp.Body.Bytes(), &createBody)
	if createBody.Session.ID == "" {
		t.Fatalf("expected session id in create response")
	}
	sessionID := createBody.Session.ID

	// Send a message; the synchronous executor resolves it before the reply.
	sendResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/chat/sessions/%s/messages", sessionID),
		map[string]any{"text": "  Salut Pepper  ", "confidence": 0.934},
		nil)
	assertStatus(t, sendResp, http.StatusAccepted)
	var sendBody struct {
		ID       string            `json:"id"`
		Messages []*models.Message `json:"messages"`
	}
	decodeJSON(t, sendResp.Body.Bytes(), &sendBody)
	if sendBody.ID == "" || len(sendBody.Messages) != 2 {
		t.Fatalf("unexpected send response: %s", sendResp.Body.String())
	}
	user, reply := sendBody.Messages[0], sendBody.Messages[1]
	if user.Author != models.AuthorMe || user.Text == nil || *user.Text != "Salut Pepper" {
		t.Fatalf("unexpected user entry: %+v", user)
	}
	if user.Metadata == nil || *user.Metadata != "confidence: 0.93" {
		t.Fatalf("unexpected user metadata: %v", user.Metadata)
	}
	if reply.Text == nil || *reply.Text != "echo Salut Pepper" || reply.ID != sendBody.ID {
		t.Fatalf("unexpected reply entry: %+v", reply)
	}
	if reply.Metadata == nil || *reply.Metadata != "intent: echo, confidence: 0.50" {
		t.Fatalf("unexpected reply metadata: %v", reply.Metadata)
	}

	// History endpoint returns the same transcript, title derived from the first message.
	historyResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/chat/sessions/%s/messages", sessionID), nil, nil)
	assertStatus(t, historyResp, http.StatusOK)
	var historyBody struct {
		Session  models.Session    `json:"session"`
		Messages []*models.Message `json:"messages"`
	}
	decodeJSON(t, historyResp.Body.Bytes(), &historyBody)
	if len(historyBody.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(historyBody.Messages))
	}
	if historyBody.Session.Title != "Salut Pepper" {
		t.Fatalf("unexpected title %q", historyBody.Session.Title)
	}
	if n := countMessages(t, db, sessionID); n != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", n)
	}

	// Session list.
	listResp := doJSONRequest(t, router, http.MethodGet, "/api/chat/sessions", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		SessionList []models.Session `json:"session_list"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.SessionList) != 1 || listBody.SessionList[0].ID != sessionID {
		t.Fatalf("unexpected session list: %+v", listBody.SessionList)
	}

	// Delete removes it everywhere.
	delResp := doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/chat/sessions/%s", sessionID), nil, nil)
	assertStatus(t, delResp, http.StatusNoContent)
	if n := countMessages(t, db, sessionID); n != 0 {
		t.Fatalf("expected messages removed, got %d", n)
	}
	missingResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/chat/sessions/%s/messages", sessionID), nil, nil)
	assertStatus(t, missingResp, http.StatusNotFound)
}

func TestSendMessageValidation(t *testing.T) {
	router, db, _ := newTestServer(t, syncExecutor{})
	sessionID := createSession(t, router)

	path := fmt.Sprintf("/api/chat/sessions/%s/messages", sessionID)

	// Blank text is a no-op.
	emptyResp := doJSONRequest(t, router, http.MethodPost, path, map[string]string{"text": "   "}, nil)
	assertStatus(t, emptyResp, http.StatusNoContent)
	if n := countMessages(t, db, sessionID); n != 0 {
		t.Fatalf("blank text must not change the transcript, got %d rows", n)
	}

	badConf := doJSONRequest(t, router, http.MethodPost, path, map[string]any{"text": "hi", "confidence": 1.5}, nil)
	assertStatus(t, badConf, http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)

	unknown := doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions/nope/messages", map[string]string{"text": "hi"}, nil)
	assertStatus(t, unknown, http.StatusNotFound)
}

func TestRetryFailedMessage(t *testing.T) {
	router, _, bridges := newTestServer(t, syncExecutor{})
	sessionID := createSession(t, router)
	bridges.setFail(true)

	sendResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/chat/sessions/%s/messages", sessionID), map[string]string{"text": "unde e sala?"}, nil)
	assertStatus(t, sendResp, http.StatusAccepted)
	var sendBody struct {
		ID       string            `json:"id"`
		Messages []*models.Message `json:"messages"`
	}
	decodeJSON(t, sendResp.Body.Bytes(), &sendBody)
	failed := sendBody.Messages[1]
	if failed.Status != models.StatusFailed || failed.Text != nil || failed.Error == "" {
		t.Fatalf("expected failed placeholder, got %+v", failed)
	}

	retryPath := fmt.Sprintf("/api/chat/sessions/%s/messages/%s/retry", sessionID, sendBody.ID)
	bridges.setFail(false)
	retryResp := doJSONRequest(t, router, http.MethodPost, retryPath, nil, nil)
	assertStatus(t, retryResp, http.StatusAccepted)

	// Delivered replies cannot be retried.
	again := doJSONRequest(t, router, http.MethodPost, retryPath, nil, nil)
	assertStatus(t, again, http.StatusConflict)

	missing := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/chat/sessions/%s/messages/unknown/retry", sessionID), nil, nil)
	assertStatus(t, missing, http.StatusNotFound)

	historyResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/chat/sessions/%s/messages", sessionID), nil, nil)
	var historyBody struct {
		Messages []*models.Message `json:"messages"`
	}
	decodeJSON(t, historyResp.Body.Bytes(), &historyBody)
	if got := historyBody.Messages[1]; got.Status != models.StatusDelivered || got.Text == nil || *got.Text != "echo unde e sala?" {
		t.Fatalf("retry did not resolve the reply: %+v", got)
	}
}

func TestSendMessageBusyDispatcher(t *testing.T) {
	router, _, _ := newTestServer(t, busyExecutor{})
	sessionID := createSession(t, router)

	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/chat/sessions/%s/messages", sessionID), map[string]string{"text": "hello"}, nil)
	assertStatus(t, resp, http.StatusTooManyRequests)
	var body struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.ID == "" || body.Error == "" {
		t.Fatalf("expected id and error in busy response: %s", resp.Body.String())
	}
}

func TestStreamEventsSendsSnapshotThenUpdates(t *testing.T) {
	router, _, _ := newTestServer(t, syncExecutor{})
	sessionID := createSession(t, router)

	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/chat/sessions/%s/events", server.URL, sessionID), nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := make(chan sseEvent, 8)
	go readSSE(resp.Body, events)

	first := nextEvent(t, events)
	if first.Name != "snapshot" {
		t.Fatalf("expected snapshot first, got %q", first.Name)
	}

	sendResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/chat/sessions/%s/messages", sessionID), map[string]string{"text": "bună"}, nil)
	assertStatus(t, sendResp, http.StatusAccepted)

	want := []string{"appended", "appended", "replaced"}
	for i, name := range want {
		evt := nextEvent(t, events)
		if evt.Name != name {
			t.Fatalf("event %d: expected %q, got %q", i, name, evt.Name)
		}
		var payload struct {
			Index   int            `json:"index"`
			Message models.Message `json:"message"`
		}
		decodeJSON(t, []byte(evt.Data), &payload)
		if name == "replaced" && (payload.Index != 1 || payload.Message.Text == nil) {
			t.Fatalf("unexpected replaced payload: %s", evt.Data)
		}
	}
}

func TestStreamEventsUnknownSession(t *testing.T) {
	router, _, _ := newTestServer(t, syncExecutor{})
	resp := doJSONRequest(t, router, http.MethodGet, "/api/chat/sessions/missing/events", nil, nil)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestServer(t, syncExecutor{})
	resp := doJSONRequest(t, router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, resp, http.StatusOK)
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		events = append(events, parseSSEChunk(lines))
	}
	return events
}

func parseSSEChunk(lines []string) sseEvent {
	var evt sseEvent
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "event:"):
			evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if evt.Data == "" {
				evt.Data = data
			} else {
				evt.Data += "\n" + data
			}
		}
	}
	return evt
}

func TestParseSSE(t *testing.T) {
	events := parseSSE(t, "event: snapshot\ndata: {}\n\nevent: appended\ndata: {\"index\":0}\n\n")
	if len(events) != 2 || events[0].Name != "snapshot" || events[1].Data != `{"index":0}` {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func readSSE(body io.Reader, out chan<- sseEvent) {
	defer close(out)
	scanner := bufio.NewScanner(body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(lines) > 0 {
				out <- parseSSEChunk(lines)
				lines = nil
			}
			continue
		}
		lines = append(lines, line)
	}
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case evt, ok := <-events:
		if !ok {
			t.Fatalf("event stream closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return sseEvent{}
}

// syncExecutor runs every exchange inline, so replies land before the
// request returns.
type syncExecutor struct{}

func (syncExecutor) Execute(_ string, run func()) error {
	run()
	return nil
}

type busyExecutor struct{}

func (busyExecutor) Execute(string, func()) error {
	return worker.ErrDispatcherBusy
}

type echoBridges struct {
	mu   sync.Mutex
	fail bool
}

func (b *echoBridges) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func (b *echoBridges) SendMessage(_ context.Context, text string) (*bot.Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, errx.New(errors.New("connection refused"), errx.CodeBridgeFailed, http.StatusBadGateway, "bot backend request failed")
	}
	return &bot.Reply{Text: "echo " + text, Intent: models.Intent{Name: "echo", Confidence: 0.5}}, nil
}

func newTestServer(t *testing.T, exec chat.Executor) (*gin.Engine, *sql.DB, *echoBridges) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.OpenDSN("sqlite3", config.DatabaseConfig{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	bridges := &echoBridges{}
	manager := worker.NewManager(worker.ManagerOptions{
		Store:    transcript.NewService(db),
		Executor: exec,
		Bridges:  func(string) chat.Bridge { return bridges },
	})
	t.Cleanup(func() {
		manager.Close()
		db.Close()
	})

	router := gin.New()
	NewHandler(manager).RegisterRoutes(router)
	return router, db, bridges
}

func createSession(t *testing.T, router *gin.Engine) string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions", map[string]string{"title": "test"}, nil)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		Session models.Session `json:"session"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	return body.Session.ID
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func countMessages(t *testing.T, db *sql.DB, sessionID string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}
