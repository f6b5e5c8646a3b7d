package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"guidance/pkg/logx"
)

// ErrNotFound is returned when a session id is unknown or already evicted.
var ErrNotFound = fmt.Errorf("session not found")

// entry pairs a session with the mutex that serializes its requests.
type entry struct {
	mu      sync.Mutex
	session *Session
}

// Manager owns all live sessions. The map mutex guards membership; each
// entry's own mutex serializes request handling for that session, so two
// concurrent requests against the same id never interleave state changes.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	maxSessions int
	idleTTL     time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	logger      *logx.Logger
}

// NewManager creates a session manager and starts its TTL janitor.
func NewManager(maxSessions int, idleTTL time.Duration) *Manager {
	m := &Manager{
		sessions:    make(map[string]*entry),
		maxSessions: maxSessions,
		idleTTL:     idleTTL,
		done:        make(chan struct{}),
		logger:      logx.NewLogger("session"),
	}

	go m.janitor()

	return m
}

// Create allocates a new session. When the manager is at capacity the
// longest-idle session is evicted first.
func (m *Manager) Create(query, edition string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:         uuid.New().String(),
		Query:      query,
		Edition:    edition,
		Mode:       ModeSimple,
		Pending:    PendingNone,
		CreatedAt:  now,
		LastActive: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.evictOldestLocked()
	}
	m.sessions[s.ID] = &entry{session: s}

	m.logger.Info("Created session %s (active: %d)", s.ID, len(m.sessions))
	return s
}

// WithSession runs fn with exclusive access to the session. The per-session
// lock is held for the whole call, so callbacks for the same id run one at
// a time in arrival order.
func (m *Manager) WithSession(id string, fn func(*Session) error) error {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.session.LastActive = time.Now().UTC()
	return fn(e.session)
}

// Snapshot returns a copy of the session for read-only reporting. Slices are
// copied so callers can marshal them without holding the session lock.
func (m *Manager) Snapshot(id string) (Session, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := *e.session
	s.History = append([]Turn(nil), e.session.History...)
	s.Warnings = append([]string(nil), e.session.Warnings...)
	s.Steps = make([]*Step, len(e.session.Steps))
	for i, step := range e.session.Steps {
		copied := *step
		s.Steps[i] = &copied
	}
	return s, nil
}

// Delete removes a session.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops the janitor goroutine.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

// evictOldestLocked drops the longest-idle session. Caller holds the map lock.
func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldestTime time.Time
	for id, e := range m.sessions {
		if oldestID == "" || e.session.LastActive.Before(oldestTime) {
			oldestID = id
			oldestTime = e.session.LastActive
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
		m.logger.Warn("Evicted session %s at capacity %d", oldestID, m.maxSessions)
	}
}

// janitor periodically removes sessions idle past the TTL.
func (m *Manager) janitor() {
	interval := m.idleTTL / 10
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep removes every session idle longer than the TTL.
func (m *Manager) sweep() {
	if m.idleTTL <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.sessions {
		if e.session.LastActive.Before(cutoff) {
			delete(m.sessions, id)
			m.logger.Info("Expired idle session %s", id)
		}
	}
}
