package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

const DefaultTTL = 24 * time.Hour

type Manager struct {
	mux      sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	nowFn    func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      DefaultTTL,
		nowFn:    time.Now,
	}
}

func (m *Manager) Create() *Session {
	m.mux.Lock()
	defer m.mux.Unlock()

	session := &Session{
		ID:        ksuid.New().String(),
		CreatedAt: m.nowFn(),
	}
	m.sessions[session.ID] = session
	slog.Debug("session created", "id", session.ID)
	return session
}

// Get resolves a session by cookie id. Sessions past their TTL are
// destroyed on lookup.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mux.RLock()
	session, ok := m.sessions[id]
	m.mux.RUnlock()
	if !ok {
		return nil, false
	}

	if m.nowFn().Sub(session.CreatedAt) > m.ttl {
		m.Destroy(id)
		return nil, false
	}

	return session, true
}

func (m *Manager) Destroy(id string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		slog.Debug("session destroyed", "id", id)
	}
}
