// ABOUTME: Per-connection session: sequential read-decode-dispatch-respond loop over a websocket.
// ABOUTME: Disconnect cancels in-flight work and removes the session from the manager.

package connmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// socket is the subset of *websocket.Conn the session uses, extracted so
// tests can drive a session without a network.
type socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is one persistent bidirectional connection. Messages on a session
// are processed strictly sequentially; different sessions run concurrently.
type Session struct {
	ID     string
	UserID string

	conn     socket
	manager  *Manager
	handlers *Handlers
	logger   *slog.Logger

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSession wraps an accepted websocket connection. userID may be empty for
// anonymous connections.
func NewSession(conn *websocket.Conn, userID string, manager *Manager, handlers *Handlers, logger *slog.Logger) *Session {
	return newSession(conn, userID, manager, handlers, logger)
}

func newSession(conn socket, userID string, manager *Manager, handlers *Handlers, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Session{
		ID:       id,
		UserID:   userID,
		conn:     conn,
		manager:  manager,
		handlers: handlers,
		logger:   logger.With("component", "session", "connection_id", id),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run registers the session, sends the welcome status envelope, and services
// the connection until it closes. It blocks for the life of the connection.
func (s *Session) Run() {
	s.manager.register(s)
	defer s.close()

	welcome := newEnvelope(TypeStatus, "")
	welcome.Message = "connected"
	welcome.Data = map[string]any{
		"connection_id": s.ID,
		"user_id":       s.UserID,
	}
	if err := s.send(welcome); err != nil {
		s.logger.Warn("welcome send failed", "error", err)
		return
	}

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("connection read failed", "error", err)
			}
			return
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			// Validation errors are reported; the connection stays open.
			if serr := s.send(errorEnvelope(TypeError, "", err.Error())); serr != nil {
				return
			}
			continue
		}
		if env.MessageID == "" {
			env.MessageID = uuid.New().String()
		}
		if env.UserID == "" {
			env.UserID = s.UserID
		}

		s.dispatch(env)
	}
}

// dispatch routes one decoded envelope to its handler. Each message gets a
// context cancelled on disconnect, and a panic in a handler fails only that
// message.
func (s *Session) dispatch(env *MessageEnvelope) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "type", env.Type, "panic", r)
			s.trySend(errorEnvelope(TypeError, env.MessageID,
				fmt.Sprintf("internal error handling %s request", env.Type)))
		}
	}()

	switch env.Type {
	case TypeGenerate:
		s.handlers.handleGenerate(ctx, s, env)
	case TypeConversational:
		s.handlers.handleConversational(ctx, s, env)
	case TypeStream:
		s.handlers.handleStream(ctx, s, env)
	case TypeMCPQuery:
		s.handlers.handleMCPQuery(ctx, s, env)
	}
}

// send writes one envelope to the socket. Writes are mutex-serialized
// because broadcasts may arrive from outside the read loop.
func (s *Session) send(env *ResponseEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.ctx.Err() != nil {
		return fmt.Errorf("connection closed")
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// trySend is send with the error dropped, for paths already tearing down.
func (s *Session) trySend(env *ResponseEnvelope) {
	if err := s.send(env); err != nil {
		s.logger.Debug("send failed", "type", env.Type, "error", err)
	}
}

// close cancels in-flight work and removes the session everywhere.
func (s *Session) close() {
	s.cancel()
	s.manager.unregister(s.ID)
	s.conn.Close()
}
