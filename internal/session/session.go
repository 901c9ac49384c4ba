// Package session implements the session manager (C7): websocket
// upgrade lifecycle for the two surfaces, the global "/events"
// notification socket and the per-conversation "/chat/:hex" socket,
// wiring each connection to the registry, the hub, and the frame
// dispatcher (C8).
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/brinewave/cipherline/internal/apperr"
	"github.com/brinewave/cipherline/internal/auth"
	"github.com/brinewave/cipherline/internal/hub"
	"github.com/brinewave/cipherline/internal/ids"
	"github.com/brinewave/cipherline/internal/registry"
	"github.com/brinewave/cipherline/internal/repo"
)

// Close codes used when terminating a session.
const (
	CloseUnauthenticated = 4401
	CloseNotFound        = 4404
	CloseInternal        = 1011
)

// Dispatcher is the narrow surface session depends on for incoming
// chat frames; internal/dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, principal auth.Principal, conversationHex string, raw []byte) ([]byte, error)
}

// Manager wires the token verifier, repository, registry, hub, and
// dispatcher together into the two upgrade handlers.
type Manager struct {
	verifier   *auth.Verifier
	repository repo.Repository
	registry   *registry.Registry
	hub        *hub.Hub
	dispatcher Dispatcher
	logger     *zap.SugaredLogger

	idleTimeout   time.Duration
	writeDeadline time.Duration
	pingInterval  time.Duration
	maxMessageSize int64
}

func New(verifier *auth.Verifier, repository repo.Repository, reg *registry.Registry, h *hub.Hub, dispatcher Dispatcher, logger *zap.SugaredLogger, idleTimeout time.Duration) *Manager {
	return &Manager{
		verifier:       verifier,
		repository:     repository,
		registry:       reg,
		hub:            h,
		dispatcher:     dispatcher,
		logger:         logger,
		idleTimeout:    idleTimeout,
		writeDeadline:  10 * time.Second,
		pingInterval:   30 * time.Second,
		maxMessageSize: 1 << 20,
	}
}

// socketConn adapts a *websocket.Conn into registry.Conn and
// hub.Subscriber, buffering writes through a channel so a slow reader
// never blocks the publisher.
type socketConn struct {
	conn *websocket.Conn
	send chan frameOut
	once sync.Once
}

type frameOut struct {
	payload []byte
	binary  bool
	closeCode int
	closeMsg  string
	isClose   bool
}

func newSocketConn(conn *websocket.Conn) *socketConn {
	return &socketConn{conn: conn, send: make(chan frameOut, 256)}
}

func (s *socketConn) Send(payload []byte, binary bool) {
	select {
	case s.send <- frameOut{payload: payload, binary: binary}:
	default:
		// slow reader; drop rather than block the publisher.
	}
}

func (s *socketConn) Close(code int, reason string) {
	s.once.Do(func() {
		select {
		case s.send <- frameOut{isClose: true, closeCode: code, closeMsg: reason}:
		default:
		}
	})
}

// writePump drains s.send until the channel is closed by the reader
// loop returning, sending periodic pings in between.
func (s *socketConn) writePump(pingInterval, writeDeadline time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case f, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if f.isClose {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.closeCode, f.closeMsg))
				_ = s.conn.Close()
				return
			}
			mt := websocket.TextMessage
			if f.binary {
				mt = websocket.BinaryMessage
			}
			if err := s.conn.WriteMessage(mt, f.payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *socketConn) stop() {
	defer func() { recover() }()
	close(s.send)
}

// authenticate extracts and verifies the access-token cookie carried
// by the upgrade request, closing conn with 4401 on any failure.
func (m *Manager) authenticate(c *websocket.Conn) *auth.Principal {
	cookie := c.Cookies(m.verifier.CookieName())
	if cookie == "" {
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseUnauthenticated, "missing access token"))
		_ = c.Close()
		return nil
	}
	p, authErr := m.verifier.AuthenticateToken(cookie)
	if authErr != nil {
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseUnauthenticated, authErr.Message))
		_ = c.Close()
		return nil
	}
	return p
}

// HandleEvents upgrades the global notification socket. Frames the
// client sends are read and discarded, never dispatched; the handler
// only registers the connection so the delivery worker can push to it.
func (m *Manager) HandleEvents(c *websocket.Conn) {
	principal := m.authenticate(c)
	if principal == nil {
		return
	}

	sc := newSocketConn(c)
	instanceID := m.registry.Register(principal.Hex, sc)
	m.hub.Subscribe(hub.EventsTopic, instanceID, sc)
	defer func() {
		m.hub.Unsubscribe(hub.EventsTopic, instanceID)
		m.registry.Unregister(principal.Hex, instanceID)
		sc.stop()
	}()

	go sc.writePump(m.pingInterval, m.writeDeadline)

	c.SetReadLimit(m.maxMessageSize)
	_ = c.SetReadDeadline(time.Now().Add(m.idleTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(m.idleTimeout))
	})

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

// HandleChat upgrades a per-conversation chat socket: it verifies the
// caller is a participant, subscribes to the conversation topic,
// announces the join with a synthetic system message, and then reads
// frames and routes each through the dispatcher (C8).
func (m *Manager) HandleChat(c *websocket.Conn) {
	principal := m.authenticate(c)
	if principal == nil {
		return
	}
	conversationHex := c.Params("hex")

	ctx := context.Background()
	conv, err := m.repository.Conversations().FindByHex(ctx, conversationHex)
	if err != nil {
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseNotFound, "conversation not found"))
		_ = c.Close()
		return
	}
	if !conv.IsParticipant(principal.Hex) {
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseNotFound, "conversation not found"))
		_ = c.Close()
		return
	}

	sc := newSocketConn(c)
	topic := hub.ConversationTopic(conversationHex)
	instanceID := m.registry.Register(principal.Hex, sc)
	m.hub.Subscribe(topic, instanceID, sc)
	defer func() {
		m.hub.Unsubscribe(topic, instanceID)
		m.registry.Unregister(principal.Hex, instanceID)
		sc.stop()
	}()

	go sc.writePump(m.pingInterval, m.writeDeadline)
	m.announceJoin(topic, conversationHex, principal.Hex)

	c.SetReadLimit(m.maxMessageSize)
	_ = c.SetReadDeadline(time.Now().Add(m.idleTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(m.idleTimeout))
	})

	for {
		mt, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		reply, dispatchErr := m.dispatcher.Dispatch(ctx, *principal, conversationHex, raw)
		if dispatchErr != nil {
			sc.Send(errorFrame(dispatchErr), false)
			continue
		}
		if reply != nil {
			sc.Send(reply, false)
		}
		_ = c.SetReadDeadline(time.Now().Add(m.idleTimeout))
	}
}

// announceJoin publishes a synthetic system message to a conversation
// topic when a participant connects.
func (m *Manager) announceJoin(topic, conversationHex, userHex string) {
	frame := map[string]any{
		"kind": "system",
		"conversation": conversationHex,
		"user":         userHex,
		"text":         "A user joined",
		"at":           time.Now().UTC(),
		"id":           ids.MustGenerateHex(ids.DefaultHexBytes),
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		m.logger.Warnw("failed to marshal join announcement", "error", err)
		return
	}
	m.hub.Publish(topic, payload, false)
}

// errorFrame renders a single-recipient error frame, tagging the
// failure with its apperr.Kind so clients can branch on it.
func errorFrame(err error) []byte {
	kind := apperr.KindOf(err)
	message := err.Error()
	payload, marshalErr := json.Marshal(map[string]any{
		"kind":    "error",
		"error":   kind,
		"message": message,
	})
	if marshalErr != nil {
		return []byte(`{"kind":"error","error":"backend","message":"internal error"}`)
	}
	return payload
}
