package checkout

import (
	"sync"

	"github.com/google/uuid"
)

// ChannelFactory builds the status channel for one session. Each session
// gets its own adapter so the one-connection-per-reservation guard never
// leaks across sessions.
type ChannelFactory func() StatusChannel

// SessionHook observes phase changes across all sessions, tagged with the
// session and the customer it belongs to.
type SessionHook func(sessionID, customerID string, from, to Phase, snap Snapshot)

// Manager owns the live checkout sessions, one coordinator each.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	booker   Booker
	channels ChannelFactory
	hook     SessionHook
	sessions map[string]*Coordinator
	closed   bool
}

func NewManager(cfg Config, booker Booker, channels ChannelFactory, hook SessionHook) *Manager {
	return &Manager{
		cfg:      cfg,
		booker:   booker,
		channels: channels,
		hook:     hook,
		sessions: make(map[string]*Coordinator),
	}
}

// Create starts a new session for the customer and returns its id.
func (m *Manager) Create(customerID string) (string, *Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", nil, ErrClosed
	}
	id := uuid.New().String()
	var hook TransitionHook
	if m.hook != nil {
		sessionHook := m.hook
		hook = func(from, to Phase, snap Snapshot) {
			sessionHook(id, customerID, from, to, snap)
		}
	}
	c := New(m.cfg, m.booker, m.channels(), hook)
	m.sessions[id] = c
	return id, c, nil
}

func (m *Manager) Get(id string) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[id]
	return c, ok
}

// Delete tears the session down and forgets it. Unknown ids are a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	c, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Close tears down every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Coordinator)
	m.mu.Unlock()
	for _, c := range sessions {
		c.Close()
	}
}
