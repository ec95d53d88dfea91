package worker

import (
	"sync"

	"pepper/internal/chat"
	"pepper/internal/models"
)

// sessionState is the in-memory view of one active session: its controller
// and a mirror of the transcript kept current from controller events.
type sessionState struct {
	mu          sync.RWMutex
	session     *models.Session
	history     []*models.Message
	controller  *chat.Controller
	unsubscribe func()
}

func (s *sessionState) getSession() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

func (s *sessionState) setTitle(title string) {
	s.mu.Lock()
	if s.session != nil {
		s.session.Title = title
	}
	s.mu.Unlock()
}

// pending reports whether a reply is still outstanding.
func (s *sessionState) pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.history {
		if m.IsPlaceholder() && m.Status == models.StatusTyping {
			return true
		}
	}
	return false
}

// apply mirrors ev into history and returns a copy of the result.
func (s *sessionState) apply(ev chat.Event) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case chat.EventAppended:
		if ev.Index == len(s.history) {
			s.history = append(s.history, ev.Message.Clone())
		}
	case chat.EventReplaced:
		if ev.Index >= 0 && ev.Index < len(s.history) {
			s.history[ev.Index] = ev.Message.Clone()
		}
	}
	return cloneHistory(s.history)
}

func cloneHistory(history []*models.Message) []*models.Message {
	out := make([]*models.Message, len(history))
	for i, m := range history {
		out[i] = m.Clone()
	}
	return out
}

// stateTable holds the active sessions of this gateway instance.
type stateTable struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
}

func newStateTable() *stateTable {
	return &stateTable{sessions: make(map[string]*sessionState)}
}

func (t *stateTable) get(id string) *sessionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// putIfAbsent stores st unless another goroutine won the race; the stored
// state is returned with loaded=true in that case.
func (t *stateTable) putIfAbsent(id string, st *sessionState) (*sessionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.sessions[id]; ok {
		return cur, true
	}
	t.sessions[id] = st
	return st, false
}

func (t *stateTable) purge(id string) *sessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.sessions[id]
	delete(t.sessions, id)
	return st
}

func (t *stateTable) reset() []*sessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*sessionState, 0, len(t.sessions))
	for _, st := range t.sessions {
		out = append(out, st)
	}
	t.sessions = make(map[string]*sessionState)
	return out
}
