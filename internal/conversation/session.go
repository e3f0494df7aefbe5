// Package conversation orchestrates one chat screen's lifecycle on top
// of the connection manager: bootstrap over REST, live message
// reconciliation, typing indicators, presence, and the dual-path send.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/psn-mobile/psnchat/internal/creds"
	"github.com/psn-mobile/psnchat/internal/rest"
	"github.com/psn-mobile/psnchat/internal/socket"
	"github.com/psn-mobile/psnchat/internal/wire"
)

// IdentityError means the local user's identity could not be resolved
// from the credential store. Terminal for this session.
type IdentityError struct {
	Err error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("conversation: cannot resolve local identity: %v", e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }

// BootstrapError means the conversation could not be created or its
// history loaded. Recoverable by reopening the screen.
type BootstrapError struct {
	Timeout bool
	Err     error
}

func (e *BootstrapError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("conversation: bootstrap timed out: %v", e.Err)
	}
	return fmt.Sprintf("conversation: bootstrap failed: %v", e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// SendError means the REST fallback send failed. The draft is restored
// so the user can retry; authored content is never dropped.
type SendError struct {
	Content string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("conversation: send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ErrNotActive is returned by operations on a session that has not
// finished bootstrapping or has been closed.
var ErrNotActive = errors.New("conversation: session not active")

// DeliveryPath reports which path confirmed an outbound message.
type DeliveryPath int

const (
	// PathNone: nothing was sent (empty draft or a send already in flight).
	PathNone DeliveryPath = iota
	// PathSocket: handed to the wire; the server echo confirms delivery.
	PathSocket
	// PathREST: created via the fallback POST and inserted locally.
	PathREST
)

func (p DeliveryPath) String() string {
	switch p {
	case PathSocket:
		return "socket"
	case PathREST:
		return "rest"
	default:
		return "none"
	}
}

// SendResult describes the outcome of a Send call.
type SendResult struct {
	Path DeliveryPath
}

// Bus is the slice of the connection manager contract the session uses.
type Bus interface {
	On(kind wire.Kind, fn func(wire.Event)) socket.Subscription
	Off(sub socket.Subscription)
	IsConnected() bool
	JoinConversation(conversationID string)
	LeaveConversation(conversationID string)
	SendMessage(conversationID, content string)
	StartTyping(conversationID string)
	StopTyping(conversationID string)
	MarkMessagesRead(conversationID string)
}

// API is the REST collaborator surface.
type API interface {
	CreateConversation(ctx context.Context, recipientID string) (*rest.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]wire.Message, error)
	PostMessage(ctx context.Context, conversationID, content string) (*wire.Message, error)
}

// IdentitySource resolves the signed-in member.
type IdentitySource interface {
	Load() (*creds.Credentials, error)
}

// Options tunes one session. Zero values take the production defaults.
type Options struct {
	// RecipientID is the other participant of the 1:1 conversation.
	RecipientID string

	// BootstrapTimeout bounds create-conversation plus history load (10s).
	BootstrapTimeout time.Duration
	// TypingIdle is the keystroke debounce before typing_stop (2s).
	TypingIdle time.Duration
	// TypingExpiry bounds how long a received indicator may live without
	// a refreshing signal (3s).
	TypingExpiry time.Duration
	// MarkReadDelay batches read acknowledgments for rapid arrivals (1s).
	MarkReadDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.BootstrapTimeout <= 0 {
		o.BootstrapTimeout = 10 * time.Second
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 2 * time.Second
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = 3 * time.Second
	}
	if o.MarkReadDelay <= 0 {
		o.MarkReadDelay = time.Second
	}
	return o
}

type phase int

const (
	phaseInit phase = iota
	phaseLoading
	phaseActive
	phaseClosed
)

type typingKey struct {
	userID         string
	conversationID string
}

type typingEntry struct {
	user  wire.TypingUser
	timer *time.Timer
	gen   uint64
}

// Session is the per-screen controller. All mutable state lives behind
// one mutex; every mutation replaces state wholesale so re-entrant event
// delivery observes consistent snapshots.
type Session struct {
	bus  Bus
	api  API
	ids  IdentitySource
	log  *slog.Logger
	opts Options

	mu             sync.Mutex
	phase          phase
	self           creds.Credentials
	conversationID string
	peer           rest.Participant

	messages []wire.Message
	seen     map[string]struct{}

	typing map[typingKey]*typingEntry
	online map[string]wire.OnlineUser

	draft        string
	lastErr      error
	sending      bool
	typingActive bool
	idleTimer    *time.Timer
	idleGen      uint64
	typingGen    uint64
	readTimer    *time.Timer

	subs    []socket.Subscription
	updates chan struct{}
}

// NewSession wires a controller for one conversation. Start must be
// called before any other operation.
func NewSession(bus Bus, api API, ids IdentitySource, opts Options, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		bus:     bus,
		api:     api,
		ids:     ids,
		log:     log,
		opts:    opts.withDefaults(),
		seen:    make(map[string]struct{}),
		typing:  make(map[typingKey]*typingEntry),
		online:  make(map[string]wire.OnlineUser),
		updates: make(chan struct{}, 1),
	}
}

// Start resolves identity, bootstraps the conversation over REST within
// the bootstrap timeout, and goes live. It does not connect the shared
// manager; joining is issued now if connected and re-issued on every
// reconnect while the session lives.
func (s *Session) Start(ctx context.Context) error {
	cred, err := s.ids.Load()
	if err != nil {
		return &IdentityError{Err: err}
	}
	if cred.UserID == "" {
		return &IdentityError{Err: errors.New("stored credentials have no user id")}
	}

	s.mu.Lock()
	if s.phase != phaseInit {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.phase = phaseLoading
	s.self = *cred
	s.mu.Unlock()

	bctx, cancel := context.WithTimeout(ctx, s.opts.BootstrapTimeout)
	defer cancel()

	conv, err := s.api.CreateConversation(bctx, s.opts.RecipientID)
	if err != nil {
		return s.bootstrapFailed(err)
	}
	history, err := s.api.Messages(bctx, conv.ID)
	if err != nil {
		return s.bootstrapFailed(err)
	}

	s.mu.Lock()
	if s.phase == phaseClosed {
		// Torn down while the REST calls were in flight; drop the result.
		s.mu.Unlock()
		return ErrNotActive
	}
	s.conversationID = conv.ID
	for _, p := range conv.Participants {
		if p.ID != cred.UserID {
			s.peer = p
		}
	}
	s.messages = history
	for _, m := range history {
		s.seen[m.ID] = struct{}{}
	}
	s.phase = phaseActive
	s.mu.Unlock()

	s.subscribe()
	if s.bus.IsConnected() {
		s.bus.JoinConversation(conv.ID)
	}
	s.log.Info("conversation active", "conversation", conv.ID, "history", len(history))
	s.notify()
	return nil
}

func (s *Session) bootstrapFailed(err error) error {
	s.mu.Lock()
	if s.phase == phaseLoading {
		s.phase = phaseInit
	}
	s.mu.Unlock()
	// Only a blown deadline counts as a timeout; a cancelled parent
	// context is the caller's decision, not a slow backend.
	timeout := errors.Is(err, context.DeadlineExceeded)
	s.log.Warn("conversation bootstrap failed", "timeout", timeout, "err", err)
	return &BootstrapError{Timeout: timeout, Err: err}
}

func (s *Session) subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseActive {
		return
	}
	s.subs = []socket.Subscription{
		s.bus.On(wire.KindConnected, s.handleConnected),
		s.bus.On(wire.KindReceiveMessage, s.handleMessage),
		s.bus.On(wire.KindUserTyping, s.handleTyping),
		s.bus.On(wire.KindUserOnline, s.handleOnline),
		s.bus.On(wire.KindUserOffline, s.handleOffline),
		s.bus.On(wire.KindDisconnected, func(wire.Event) { s.notify() }),
	}
}

func (s *Session) handleConnected(wire.Event) {
	s.mu.Lock()
	convID := s.conversationID
	active := s.phase == phaseActive
	s.mu.Unlock()
	if active && convID != "" {
		s.bus.JoinConversation(convID)
	}
	s.notify()
}

// handleMessage reconciles one inbound message: dedup by id (first seen
// wins), newest-first prepend, and a batched read acknowledgment when
// the sender is not the local user.
func (s *Session) handleMessage(ev wire.Event) {
	m := ev.Message
	if m == nil {
		return
	}

	s.mu.Lock()
	if s.phase != phaseActive || m.ConversationID != s.conversationID {
		s.mu.Unlock()
		return
	}
	if _, dup := s.seen[m.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[m.ID] = struct{}{}
	s.messages = append([]wire.Message{*m}, s.messages...)

	if m.SenderID != s.self.UserID && s.readTimer == nil {
		s.readTimer = time.AfterFunc(s.opts.MarkReadDelay, s.flushReadAck)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) flushReadAck() {
	s.mu.Lock()
	s.readTimer = nil
	convID := s.conversationID
	active := s.phase == phaseActive
	s.mu.Unlock()
	if active && s.bus.IsConnected() {
		s.bus.MarkMessagesRead(convID)
	}
}

func (s *Session) handleOnline(ev wire.Event) {
	u := ev.Presence
	if u == nil {
		return
	}
	s.mu.Lock()
	if s.phase == phaseActive {
		s.online[u.UserID] = *u
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleOffline(ev wire.Event) {
	u := ev.Presence
	if u == nil {
		return
	}
	s.mu.Lock()
	delete(s.online, u.UserID)
	s.mu.Unlock()
	s.notify()
}

// Send dispatches the current draft. Single-flight: a call while a send
// is in flight is a no-op. While connected the message goes over the
// wire and the echo confirms it; otherwise the REST fallback creates it
// and the result is inserted locally. A REST failure restores the draft.
func (s *Session) Send(ctx context.Context) (SendResult, error) {
	s.mu.Lock()
	if s.phase != phaseActive {
		s.mu.Unlock()
		return SendResult{}, ErrNotActive
	}
	if s.sending {
		s.mu.Unlock()
		return SendResult{Path: PathNone}, nil
	}
	original := s.draft
	content := strings.TrimSpace(original)
	if content == "" {
		s.mu.Unlock()
		return SendResult{Path: PathNone}, nil
	}
	convID := s.conversationID
	s.sending = true
	s.draft = ""
	// Sending a message implicitly ends the typing state.
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.typingActive = false
	s.mu.Unlock()
	s.notify()

	if s.bus.IsConnected() {
		s.bus.StopTyping(convID)
		s.bus.SendMessage(convID, content)
		s.mu.Lock()
		s.sending = false
		s.lastErr = nil
		s.mu.Unlock()
		return SendResult{Path: PathSocket}, nil
	}

	msg, err := s.api.PostMessage(ctx, convID, content)
	if err != nil {
		sendErr := &SendError{Content: content, Err: err}
		s.mu.Lock()
		s.sending = false
		s.lastErr = sendErr
		if s.phase == phaseActive && s.draft == "" {
			s.draft = original
		}
		s.mu.Unlock()
		s.notify()
		return SendResult{}, sendErr
	}

	s.mu.Lock()
	s.sending = false
	s.lastErr = nil
	if s.phase == phaseActive {
		if _, dup := s.seen[msg.ID]; !dup {
			s.seen[msg.ID] = struct{}{}
			s.messages = append([]wire.Message{*msg}, s.messages...)
		}
	}
	s.mu.Unlock()
	s.notify()
	return SendResult{Path: PathREST}, nil
}

// Close leaves the conversation, cancels every timer, and detaches all
// subscriptions. The shared connection manager is left running.
func (s *Session) Close() {
	s.mu.Lock()
	if s.phase == phaseClosed {
		s.mu.Unlock()
		return
	}
	s.phase = phaseClosed
	convID := s.conversationID
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.readTimer != nil {
		s.readTimer.Stop()
		s.readTimer = nil
	}
	for key, e := range s.typing {
		e.timer.Stop()
		delete(s.typing, key)
	}
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.bus.Off(sub)
	}
	if convID != "" && s.bus.IsConnected() {
		s.bus.LeaveConversation(convID)
	}
	s.log.Info("conversation closed", "conversation", convID)
}

// Updates signals state changes; the UI drains it and re-reads the
// snapshot accessors.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// ConversationID returns the resolved conversation id, empty before the
// bootstrap completes.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Peer returns the other participant of the conversation.
func (s *Session) Peer() rest.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Self returns the resolved local identity.
func (s *Session) Self() creds.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Messages returns the rendered list, newest live arrivals first.
func (s *Session) Messages() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Draft returns the current input text.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Err returns the most recent send failure, cleared by the next
// successful send.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Sending reports whether a send is in flight.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// OnlineUsers snapshots the presence set. Absence means offline.
// Freshness is entirely server-driven: there is no client-side staleness
// timeout, so a crashed server leaves entries until reconnect.
func (s *Session) OnlineUsers() []wire.OnlineUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.OnlineUser, 0, len(s.online))
	for _, u := range s.online {
		out = append(out, u)
	}
	return out
}

// IsUserOnline reports presence-set membership for one user.
func (s *Session) IsUserOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}
