// ABOUTME: Manages active connection sessions and the caller fan-out index.
// ABOUTME: Central coordinator for registration, lookup, and per-user broadcast.

package connmgr

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrConnectionNotFound indicates the connection id is not registered.
var ErrConnectionNotFound = errors.New("connection not found")

// Manager tracks every open connection session and indexes them by user id
// so a message can fan out to all of one user's connections.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	users    map[string]map[string]struct{} // user id -> set of connection ids
	logger   *slog.Logger
}

// NewManager creates an empty connection manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		users:    make(map[string]map[string]struct{}),
		logger:   logger.With("component", "connmgr"),
	}
}

// register adds a session to the manager and, when it carries a user id, to
// the fan-out index.
func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID] = s
	if s.UserID != "" {
		if m.users[s.UserID] == nil {
			m.users[s.UserID] = make(map[string]struct{})
		}
		m.users[s.UserID][s.ID] = struct{}{}
	}

	m.logger.Info("connection opened",
		"connection_id", s.ID,
		"user_id", s.UserID,
		"total_connections", len(m.sessions),
	)
}

// unregister removes a session from the manager and the fan-out index.
// Idempotent: unregistering an unknown id is a no-op.
func (m *Manager) unregister(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connID]
	if !ok {
		return
	}
	delete(m.sessions, connID)
	if s.UserID != "" {
		delete(m.users[s.UserID], connID)
		if len(m.users[s.UserID]) == 0 {
			delete(m.users, s.UserID)
		}
	}

	m.logger.Info("connection closed",
		"connection_id", connID,
		"user_id", s.UserID,
		"total_connections", len(m.sessions),
	)
}

// Get returns the session with the given connection id.
func (m *Manager) Get(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	return s, ok
}

// Len returns the number of open connections.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// UserConnections returns the connection ids currently open for a user.
func (m *Manager) UserConnections(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.users[userID]))
	for id := range m.users[userID] {
		ids = append(ids, id)
	}
	return ids
}

// Send delivers one envelope to one connection by id.
func (m *Manager) Send(connID string, env *ResponseEnvelope) error {
	s, ok := m.Get(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	return s.send(env)
}

// BroadcastToUser sends an envelope to every connection the user has open
// and returns how many sends succeeded. Connections that fail to write are
// left for their own read loops to tear down.
func (m *Manager) BroadcastToUser(userID string, env *ResponseEnvelope) int {
	m.mu.RLock()
	var targets []*Session
	for id := range m.users[userID] {
		if s, ok := m.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if err := s.send(env); err != nil {
			m.logger.Warn("broadcast send failed",
				"connection_id", s.ID,
				"user_id", userID,
				"error", err,
			)
			continue
		}
		sent++
	}
	return sent
}
