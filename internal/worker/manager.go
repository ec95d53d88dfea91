package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pepper/internal/chat"
	"pepper/internal/logger"
	"pepper/internal/models"
	"pepper/internal/redis"
	"pepper/internal/service/transcript"
)

const persistTimeout = 5 * time.Second

// Store persists sessions and transcripts.
type Store interface {
	CreateSession(ctx context.Context, title string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]models.Session, error)
	GetSessionWithMessages(ctx context.Context, sessionID string) (*models.Session, []*models.Message, error)
	AppendMessage(ctx context.Context, sessionID string, seq int, msg *models.Message) error
	ReplaceMessage(ctx context.Context, sessionID string, seq int, msg *models.Message) error
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// BridgeFactory returns the bot bridge for a session; the session id is the
// bot sender so the backend keeps one tracker per session.
type BridgeFactory func(sessionID string) chat.Bridge

type ManagerOptions struct {
	Store    Store
	Bridges  BridgeFactory
	Executor chat.Executor
	Redis    *redis.Client
	Timeout  time.Duration
}

// Manager keeps one chat controller per active session, persists every
// transcript mutation and fans events out to local and remote subscribers.
type Manager struct {
	store      Store
	bridges    BridgeFactory
	exec       chat.Executor
	timeout    time.Duration
	cache      *stateRedis
	instanceID string

	state *stateTable

	subMu   sync.RWMutex
	subs    map[string]map[int]func(chat.Event)
	nextSub int
}

func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		store:      opts.Store,
		bridges:    opts.Bridges,
		exec:       opts.Executor,
		timeout:    opts.Timeout,
		cache:      newStateCache(opts.Redis),
		instanceID: uuid.NewString(),
		state:      newStateTable(),
		subs:       make(map[string]map[int]func(chat.Event)),
	}
	m.cache.startListener(m.handleBroadcast)
	return m
}

// CreateSession creates and activates a new session.
func (m *Manager) CreateSession(ctx context.Context, title string) (*models.Session, error) {
	se, err := m.store.CreateSession(ctx, title)
	if err != nil {
		return nil, err
	}
	m.activate(se, nil)
	return se, nil
}

func (m *Manager) ListSessions(ctx context.Context) ([]models.Session, error) {
	return m.store.ListSessions(ctx)
}

// Snapshot returns the session and a copy of its transcript.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (*models.Session, []*models.Message, error) {
	st, err := m.ensure(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return st.getSession(), st.controller.Transcript(), nil
}

// Submit sends text through the session's controller. Blank text yields an
// empty_input error and no transcript change.
func (m *Manager) Submit(ctx context.Context, sessionID, text string, confidence *float64) (string, error) {
	st, err := m.ensure(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return st.controller.Send(text, confidence)
}

// Retry re-sends a failed exchange.
func (m *Manager) Retry(ctx context.Context, sessionID, messageID string) error {
	st, err := m.ensure(ctx, sessionID)
	if err != nil {
		return err
	}
	return st.controller.Retry(messageID)
}

// Subscribe delivers every event of sessionID, local or from another
// instance, until cancel is called. fn must not block.
func (m *Manager) Subscribe(sessionID string, fn func(chat.Event)) (cancel func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[sessionID] == nil {
		m.subs[sessionID] = make(map[int]func(chat.Event))
	}
	m.subs[sessionID][id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs[sessionID], id)
		if len(m.subs[sessionID]) == 0 {
			delete(m.subs, sessionID)
		}
		m.subMu.Unlock()
	}
}

// Delete removes a session everywhere.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if d, ok := m.exec.(interface{ CancelKey(string) }); ok {
		d.CancelKey(sessionID)
	}
	m.Purge(sessionID)
	m.cache.invalidateSession(sessionID)
	m.cache.publish(broadcastMessage{Instance: m.instanceID, Scope: scopeSession, SessionID: sessionID})
	return nil
}

// Purge drops the local copy of a session; the next access reloads it.
func (m *Manager) Purge(sessionID string) {
	if st := m.state.purge(sessionID); st != nil && st.unsubscribe != nil {
		st.unsubscribe()
	}
}

// Close stops the broadcast listener and forgets every active session.
func (m *Manager) Close() {
	m.cache.stopListener()
	for _, st := range m.state.reset() {
		if st.unsubscribe != nil {
			st.unsubscribe()
		}
	}
}

func (m *Manager) ensure(ctx context.Context, sessionID string) (*sessionState, error) {
	if st := m.state.get(sessionID); st != nil {
		return st, nil
	}
	se, history, ok := m.cache.loadSession(sessionID)
	if !ok {
		var err error
		se, history, err = m.store.GetSessionWithMessages(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		m.cache.cacheSession(se, history)
	}
	return m.activate(se, history), nil
}

func (m *Manager) activate(se *models.Session, history []*models.Message) *sessionState {
	var bridge chat.Bridge
	if m.bridges != nil {
		bridge = m.bridges(se.ID)
	}
	ctrl := chat.NewController(bridge, chat.Options{
		SessionID: se.ID,
		Executor:  m.exec,
		Timeout:   m.timeout,
	})
	ctrl.Restore(history)

	st := &sessionState{session: se, controller: ctrl, history: ctrl.Transcript()}
	st, loaded := m.state.putIfAbsent(se.ID, st)
	if loaded {
		return st
	}
	st.unsubscribe = ctrl.Subscribe(func(ev chat.Event) { m.handleEvent(st, ev) })
	return st
}

// handleEvent runs on the controller's mutating goroutine.
func (m *Manager) handleEvent(st *sessionState, ev chat.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	switch ev.Kind {
	case chat.EventAppended:
		err = m.store.AppendMessage(ctx, ev.SessionID, ev.Index, ev.Message)
		if err == nil && ev.Index == 0 && ev.Message.Author == models.AuthorMe && ev.Message.Text != nil {
			m.titleFromFirstMessage(ctx, st, *ev.Message.Text)
		}
	case chat.EventReplaced:
		err = m.store.ReplaceMessage(ctx, ev.SessionID, ev.Index, ev.Message)
	}
	if err != nil {
		logger.Error().Err(err).Str("session", ev.SessionID).Str("kind", string(ev.Kind)).Msg("persist transcript event failed")
	}

	history := st.apply(ev)
	m.cache.cacheSession(st.getSession(), history)
	m.cache.publish(broadcastMessage{Instance: m.instanceID, Scope: scopeEvent, SessionID: ev.SessionID, Event: &ev})
	m.deliver(ev)
}

func (m *Manager) titleFromFirstMessage(ctx context.Context, st *sessionState, text string) {
	se := st.getSession()
	if se == nil || se.Title != transcript.DefaultTitle {
		return
	}
	title := transcript.TitleFrom(text)
	if err := m.store.UpdateSessionTitle(ctx, se.ID, title); err != nil {
		logger.Warn().Err(err).Str("session", se.ID).Msg("update session title failed")
		return
	}
	st.setTitle(title)
}

func (m *Manager) handleBroadcast(msg broadcastMessage) {
	if msg.Instance == m.instanceID {
		return
	}
	switch msg.Scope {
	case scopeSession:
		m.Purge(msg.SessionID)
	case scopeEvent:
		// another instance wrote to this session, so our copy is stale; keep it
		// while our own replies are still in flight so they get persisted
		if st := m.state.get(msg.SessionID); st != nil && !st.pending() {
			m.Purge(msg.SessionID)
		}
		if msg.Event != nil {
			m.deliver(*msg.Event)
		}
	}
}

func (m *Manager) deliver(ev chat.Event) {
	m.subMu.RLock()
	fns := make([]func(chat.Event), 0, len(m.subs[ev.SessionID]))
	for _, fn := range m.subs[ev.SessionID] {
		fns = append(fns, fn)
	}
	m.subMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Shutdown closes d before m so replies finishing during the drain are still
// persisted through m's controllers. Queued jobs that never started are
// dropped and counted in the log.
func Shutdown(d *Dispatcher, m *Manager) {
	logger.Info().Int("queued", d.Pending()).Msg("draining dispatcher")
	d.Close()
	m.Close()
}
