package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"heartstring/internal/domain/service"
	"heartstring/internal/infrastructure/metrics"
	"heartstring/pkg/logger"
)

// SessionFactory builds an unopened session bound to identity.
type SessionFactory func(identity *TokenIdentity, listener func(ChangeKind)) *Session

type sessionEntry struct {
	session  *Session
	identity *TokenIdentity
	ready    chan struct{}
	err      error
	clients  int
	lastUsed time.Time
}

// SessionManager owns the per-user sessions of the process. Sessions are opened
// on first use and closed when their last websocket client leaves, when idle
// past the timeout, or on shutdown.
type SessionManager struct {
	verifier    service.TokenVerifier
	factory     SessionFactory
	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	entries  map[string]*sessionEntry
	onChange func(userID string, kind ChangeKind, s *Session)
}

func NewSessionManager(verifier service.TokenVerifier, factory SessionFactory, idleTimeout time.Duration) *SessionManager {
	return &SessionManager{
		verifier:    verifier,
		factory:     factory,
		idleTimeout: idleTimeout,
		now:         time.Now,
		entries:     make(map[string]*sessionEntry),
	}
}

// OnChange registers the callback invoked whenever a session's stores change.
// It runs on the reconciler's goroutines and must not block.
func (m *SessionManager) OnChange(fn func(userID string, kind ChangeKind, s *Session)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *SessionManager) emit(userID string, kind ChangeKind, s *Session) {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(userID, kind, s)
	}
}

// Acquire returns the user's open session, opening it if needed. token replaces
// the session's token so a refreshed token keeps the session alive.
func (m *SessionManager) Acquire(ctx context.Context, userID, token string) (*Session, error) {
	m.mu.Lock()
	if e, ok := m.entries[userID]; ok {
		e.identity.SetToken(token)
		e.lastUsed = m.now()
		m.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.session, nil
	}

	e := &sessionEntry{
		identity: NewTokenIdentity(m.verifier, token),
		ready:    make(chan struct{}),
		lastUsed: m.now(),
	}
	m.entries[userID] = e
	m.mu.Unlock()

	var sess *Session
	sess = m.factory(e.identity, func(kind ChangeKind) {
		m.emit(userID, kind, sess)
	})
	err := sess.Open(ctx)

	m.mu.Lock()
	if err != nil {
		if m.entries[userID] == e {
			delete(m.entries, userID)
		}
	} else {
		e.session = sess
		metrics.ActiveSessions.Inc()
	}
	e.err = err
	close(e.ready)
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns an open session without creating one.
func (m *SessionManager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[userID]
	if !ok || e.session == nil {
		return nil, false
	}
	e.lastUsed = m.now()
	return e.session, true
}

// Attach counts a websocket client of the user's session.
func (m *SessionManager) Attach(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[userID]
	if !ok || e.session == nil {
		return false
	}
	e.clients++
	e.lastUsed = m.now()
	return true
}

// Detach releases a websocket client. The session closes with its last client.
func (m *SessionManager) Detach(userID string) {
	m.mu.Lock()
	e, ok := m.entries[userID]
	if !ok || e.session == nil {
		m.mu.Unlock()
		return
	}
	if e.clients > 0 {
		e.clients--
	}
	if e.clients > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.entries, userID)
	m.mu.Unlock()

	m.closeSession(userID, e.session, "last client left")
}

// ReapIdle closes sessions without clients that were not used within the idle
// timeout, and returns how many were closed.
func (m *SessionManager) ReapIdle() int {
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	var victims []*sessionEntry
	var ids []string
	for uid, e := range m.entries {
		if e.session == nil || e.clients > 0 || e.lastUsed.After(cutoff) {
			continue
		}
		delete(m.entries, uid)
		victims = append(victims, e)
		ids = append(ids, uid)
	}
	m.mu.Unlock()

	for i, e := range victims {
		m.closeSession(ids[i], e.session, "idle")
	}
	return len(victims)
}

func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*sessionEntry)
	m.mu.Unlock()

	for uid, e := range entries {
		if e.session != nil {
			m.closeSession(uid, e.session, "shutdown")
		}
	}
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *SessionManager) closeSession(userID string, s *Session, reason string) {
	s.Close()
	metrics.ActiveSessions.Dec()
	logger.L().Info("messaging session closed", zap.String("user_id", userID), zap.String("reason", reason))
}
