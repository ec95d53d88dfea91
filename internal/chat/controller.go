package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pepper/internal/bot"
	"pepper/internal/errx"
	"pepper/internal/logger"
	"pepper/internal/metrics"
	"pepper/internal/models"
)

// interruptedReply marks placeholders restored from history whose reply can no
// longer arrive.
const interruptedReply = "reply interrupted"

// Bridge resolves one utterance against the bot backend.
type Bridge interface {
	SendMessage(ctx context.Context, text string) (*bot.Reply, error)
}

// Executor runs bridge exchanges off the caller's goroutine. key groups jobs
// belonging to the same session.
type Executor interface {
	Execute(key string, run func()) error
}

// GoExecutor starts one goroutine per exchange.
type GoExecutor struct{}

func (GoExecutor) Execute(_ string, run func()) error {
	go run()
	return nil
}

type EventKind string

const (
	EventAppended EventKind = "appended"
	EventReplaced EventKind = "replaced"
)

// Event describes one transcript mutation. Message is a copy.
type Event struct {
	SessionID string          `json:"session_id"`
	Kind      EventKind       `json:"kind"`
	Index     int             `json:"index"`
	Message   *models.Message `json:"message"`
}

type Options struct {
	SessionID string
	Executor  Executor
	// Timeout bounds a single exchange; zero leaves it to the transport.
	Timeout time.Duration
	Now     func() time.Time
}

// Controller owns the ordered transcript of one conversation.
type Controller struct {
	sessionID string
	bridge    Bridge
	exec      Executor
	timeout   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	messages []*models.Message
	subs     map[int]func(Event)
	nextSub  int

	// emitMu is taken before mu is released so events reach subscribers in
	// mutation order.
	emitMu sync.Mutex
}

func NewController(bridge Bridge, opts Options) *Controller {
	exec := opts.Executor
	if exec == nil {
		exec = GoExecutor{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		sessionID: opts.SessionID,
		bridge:    bridge,
		exec:      exec,
		timeout:   opts.Timeout,
		now:       now,
		subs:      make(map[int]func(Event)),
	}
}

func (c *Controller) SessionID() string {
	return c.sessionID
}

// Subscribe registers fn for every subsequent event. fn must not call back
// into the controller; it runs on the mutating goroutine.
func (c *Controller) Subscribe(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Transcript returns a copy of the ordered transcript.
func (c *Controller) Transcript() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Restore replaces the transcript with persisted history. Placeholders that
// were still pending are marked failed so they can be retried.
func (c *Controller) Restore(history []*models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]*models.Message, 0, len(history))
	for _, m := range history {
		cp := m.Clone()
		if cp.IsPlaceholder() && cp.Status == models.StatusTyping {
			cp.Status = models.StatusFailed
			cp.Error = interruptedReply
		}
		c.messages = append(c.messages, cp)
	}
}

// Submit appends the user message and a typing placeholder, then resolves the
// placeholder asynchronously. Blank input is ignored and reported with ok=false.
func (c *Controller) Submit(text string, speechConfidence *float64) (id string, ok bool) {
	id, _ = c.Send(text, speechConfidence)
	return id, id != ""
}

// Send is Submit with the failure reason. A busy executor still leaves both
// entries in the transcript, the placeholder marked failed.
func (c *Controller) Send(text string, speechConfidence *float64) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errx.New(nil, errx.CodeEmptyInput, http.StatusBadRequest, "message text is empty")
	}

	id := uuid.NewString()
	now := c.now()
	user := &models.Message{
		ID:        id,
		SessionID: c.sessionID,
		Author:    models.AuthorMe,
		Text:      &text,
		Status:    models.StatusDelivered,
		CreatedAt: now,
	}
	if speechConfidence != nil {
		meta := fmt.Sprintf("confidence: %.2f", *speechConfidence)
		user.Metadata = &meta
	}
	placeholder := &models.Message{
		ID:        id,
		SessionID: c.sessionID,
		Author:    models.AuthorBot,
		Status:    models.StatusTyping,
		CreatedAt: now,
	}

	c.mu.Lock()
	c.messages = append(c.messages, user)
	first := len(c.messages) - 1
	c.messages = append(c.messages, placeholder)
	c.unlockAndEmit(
		c.event(EventAppended, first, user),
		c.event(EventAppended, first+1, placeholder),
	)
	metrics.ChatMessages.WithLabelValues(string(models.AuthorMe), string(models.StatusDelivered)).Inc()

	if err := c.dispatch(id, text); err != nil {
		return id, err
	}
	return id, nil
}

// Retry re-sends the utterance behind a failed reply.
func (c *Controller) Retry(id string) error {
	c.mu.Lock()
	idx := c.placeholderIndexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return errx.NotFound("message not found")
	}
	msg := c.messages[idx]
	if msg.Status != models.StatusFailed {
		c.mu.Unlock()
		return errx.Conflict("message is not failed")
	}
	text := c.userTextLocked(id, idx)
	if text == "" {
		c.mu.Unlock()
		return errx.NotFound("original message not found")
	}
	msg.Status = models.StatusTyping
	msg.Error = ""
	msg.Text = nil
	msg.Metadata = nil
	c.unlockAndEmit(c.event(EventReplaced, idx, msg))

	return c.dispatch(id, text)
}

func (c *Controller) dispatch(id, text string) error {
	err := c.exec.Execute(c.sessionID, func() {
		ctx := context.Background()
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		reply, err := c.bridge.SendMessage(ctx, text)
		c.resolve(id, reply, err)
	})
	if err != nil {
		c.resolve(id, nil, err)
	}
	return err
}

// resolve replaces the placeholder carrying id. Placeholders are matched by
// correlation id, not position, so overlapping exchanges cannot swap replies.
func (c *Controller) resolve(id string, reply *bot.Reply, err error) {
	c.mu.Lock()
	idx := c.placeholderIndexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		logger.Debug().Str("session", c.sessionID).Str("id", id).Msg("reply for unknown placeholder dropped")
		return
	}
	msg := c.messages[idx]
	if err != nil {
		msg.Status = models.StatusFailed
		msg.Error = errorMessage(err)
		logger.Warn().Err(err).Str("session", c.sessionID).Str("id", id).Msg("bot exchange failed")
	} else {
		text := reply.Text
		meta := FormatIntent(reply.Intent)
		msg.Text = &text
		msg.Metadata = &meta
		msg.Status = models.StatusDelivered
		msg.Error = ""
	}
	status := msg.Status
	c.unlockAndEmit(c.event(EventReplaced, idx, msg))
	metrics.ChatMessages.WithLabelValues(string(models.AuthorBot), string(status)).Inc()
}

// FormatIntent renders the metadata line attached to bot replies.
func FormatIntent(in models.Intent) string {
	return fmt.Sprintf("intent: %s, confidence: %.2f", in.Name, in.Confidence)
}

func (c *Controller) placeholderIndexLocked(id string) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.ID == id && m.Author == models.AuthorBot {
			return i
		}
	}
	return -1
}

func (c *Controller) userTextLocked(id string, before int) string {
	for i := before - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.ID == id && m.Author == models.AuthorMe && m.Text != nil {
			return *m.Text
		}
	}
	return ""
}

func (c *Controller) event(kind EventKind, idx int, msg *models.Message) Event {
	return Event{SessionID: c.sessionID, Kind: kind, Index: idx, Message: msg.Clone()}
}

// unlockAndEmit must be called with mu held.
func (c *Controller) unlockAndEmit(events ...Event) {
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

func errorMessage(err error) string {
	var appErr *errx.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
