// Package socket maintains the single persistent connection to the
// messaging server: authenticated handshake, automatic reconnection with
// exponential backoff, and an event bus that fans inbound traffic out to
// subscribers.
package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psn-mobile/psnchat/internal/wire"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// AuthError means no usable credential was available at connect time, or
// the server rejected the handshake token. It is terminal for the
// attempt: the reconnect loop never retries an auth failure.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "socket: no authentication token"
	}
	return fmt.Sprintf("socket: authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TokenSource supplies the bearer token used as handshake credential.
type TokenSource interface {
	BearerToken() (string, error)
}

// Config tunes the connection manager.
type Config struct {
	// URL is the socket endpoint, e.g. ws://host:port/ws.
	URL string
	// ReconnectBase is the first retry delay; attempt n waits base << (n-1).
	ReconnectBase time.Duration
	// MaxReconnectAttempts caps the retry cycle before giving up.
	MaxReconnectAttempts int
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ReconnectBase <= 0 {
		out.ReconnectBase = time.Second
	}
	if out.MaxReconnectAttempts <= 0 {
		out.MaxReconnectAttempts = 5
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 20 * time.Second
	}
	return out
}

// Manager owns the transport. Consumers never touch the websocket
// directly; they subscribe on the bus and call the named wire actions.
type Manager struct {
	cfg    Config
	tokens TokenSource
	log    *slog.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	attempts   int
	retryTimer *time.Timer
	manual     bool
	gen        uint64

	writeMu sync.Mutex

	bus bus
}

// NewManager builds a disconnected manager. Connect starts it.
func NewManager(cfg Config, tokens TokenSource, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		tokens: tokens,
		log:    log,
		bus:    newBus(),
	}
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether a live, authenticated transport exists.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect establishes the transport. It is a no-op while a connection is
// live or an attempt is in flight, so concurrent calls collapse to one
// handshake. An AuthError is terminal; transport failures arm the
// reconnect cycle.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.manual = false
	m.mu.Unlock()

	token, err := m.tokens.BearerToken()
	if err != nil || token == "" {
		m.toDisconnected()
		return &AuthError{Err: err}
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := dialer.DialContext(ctx, m.cfg.URL, header)
	if err != nil {
		m.toDisconnected()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &AuthError{Err: err}
		}
		m.log.Warn("socket connect failed", "url", m.cfg.URL, "err", err)
		m.bus.publish(wire.Event{Kind: wire.KindConnectionError, Reason: err.Error()})
		m.scheduleReconnect()
		return fmt.Errorf("socket: dial %s: %w", m.cfg.URL, err)
	}

	m.mu.Lock()
	if m.manual {
		// Disconnect raced the dial; honor the teardown.
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.log.Info("socket connected", "url", m.cfg.URL)
	go m.readPump(conn, gen)
	m.bus.publish(wire.Event{Kind: wire.KindConnected})
	return nil
}

// Disconnect tears the transport down deliberately: the retry timer is
// cancelled, all subscriptions are cleared, and no event is published.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.attempts = 0
	m.mu.Unlock()

	m.bus.clear()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
		m.log.Info("socket disconnected manually")
	}
}

func (m *Manager) toDisconnected() {
	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
}

func (m *Manager) readPump(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, gen, err)
			return
		}
		ev, derr := wire.DecodeEvent(data)
		if derr != nil {
			m.log.Debug("dropping undecodable frame", "err", derr)
			continue
		}
		m.bus.publish(ev)
	}
}

func (m *Manager) handleDisconnect(conn *websocket.Conn, gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.manual {
		// A newer connection superseded this pump, or Disconnect already ran.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	conn.Close()

	reason := err.Error()
	m.log.Warn("socket disconnected", "reason", reason)
	m.bus.publish(wire.Event{Kind: wire.KindDisconnected, Reason: reason})

	// A clean close initiated by the server is a deliberate disconnect:
	// do not fight it with retries.
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		m.log.Info("server requested disconnect, not reconnecting")
		return
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.manual || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.log.Error("max reconnect attempts reached", "attempts", m.cfg.MaxReconnectAttempts)
		m.bus.publish(wire.Event{Kind: wire.KindMaxReconnect})
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := ReconnectDelay(m.cfg.ReconnectBase, attempt)
	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		stale := m.manual || m.state != StateDisconnected
		m.mu.Unlock()
		if stale {
			return
		}
		if err := m.Connect(context.Background()); err != nil {
			m.log.Warn("reconnect attempt failed", "attempt", attempt, "err", err)
		}
	})
	m.mu.Unlock()
	m.log.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// ReconnectDelay is the backoff schedule: base << (attempt-1).
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// On subscribes to one event kind. Callbacks for a kind run in
// registration order, on the delivery goroutine.
func (m *Manager) On(kind wire.Kind, fn func(wire.Event)) Subscription {
	return m.bus.on(kind, fn)
}

// Off removes one subscription. Removing a callback mid-dispatch
// guarantees it is not invoked again in that cycle.
func (m *Manager) Off(sub Subscription) {
	m.bus.off(sub)
}

// OffAll removes every subscriber for a kind.
func (m *Manager) OffAll(kind wire.Kind) {
	m.bus.offAll(kind)
}

// trySend writes one frame, reporting false when not connected.
func (m *Manager) trySend(kind wire.Kind, payload any) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return false
	}

	data, err := wire.Encode(kind, payload)
	if err != nil {
		m.log.Error("encode failed", "event", string(kind), "err", err)
		return true
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		// The read pump will observe the broken transport and recover.
		m.log.Warn("write failed", "event", string(kind), "err", err)
	}
	return true
}

// emit performs a one-way send; frames attempted while disconnected are
// dropped and reported on the bus as send_failed. No queuing, no retry.
func (m *Manager) emit(kind wire.Kind, conversationID, content string, payload any) {
	if m.trySend(kind, payload) {
		return
	}
	m.log.Warn("send dropped while disconnected", "event", string(kind), "conversation", conversationID)
	m.bus.publish(wire.Event{
		Kind:    wire.KindSendFailed,
		Dropped: &wire.DroppedSend{Kind: kind, ConversationID: conversationID, Content: content},
	})
}

// JoinConversation asks the server to route a conversation's events here.
func (m *Manager) JoinConversation(conversationID string) {
	m.emit(wire.KindJoinConversation, conversationID, "", conversationID)
}

// LeaveConversation stops routing for a conversation.
func (m *Manager) LeaveConversation(conversationID string) {
	m.emit(wire.KindLeaveConversation, conversationID, "", conversationID)
}

// SendMessage dispatches a chat message. Delivery confirmation arrives
// asynchronously as a receive_message echo, never as a return value.
func (m *Manager) SendMessage(conversationID, content string) {
	m.emit(wire.KindSendMessage, conversationID, content,
		wire.SendMessagePayload{ConversationID: conversationID, Content: content})
}

// StartTyping signals the local user began typing.
func (m *Manager) StartTyping(conversationID string) {
	m.emit(wire.KindTypingStart, conversationID, "", wire.TypingPayload{ConversationID: conversationID})
}

// StopTyping signals the local user stopped typing.
func (m *Manager) StopTyping(conversationID string) {
	m.emit(wire.KindTypingStop, conversationID, "", wire.TypingPayload{ConversationID: conversationID})
}

// MarkMessagesRead acknowledges the conversation's messages as read.
func (m *Manager) MarkMessagesRead(conversationID string) {
	m.emit(wire.KindMarkMessagesRead, conversationID, "", wire.MarkReadPayload{ConversationID: conversationID})
}
