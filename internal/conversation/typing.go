package conversation

import (
	"time"

	"github.com/psn-mobile/psnchat/internal/wire"
)

// SetDraft records the input text and drives the sender-side typing
// lifecycle: the first rune after empty emits typing_start and arms the
// idle timer, each keystroke re-arms it, and emptying the input emits
// typing_stop. Nothing is emitted while disconnected.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	if s.phase != phaseActive {
		s.mu.Unlock()
		return
	}
	s.draft = text
	convID := s.conversationID
	wasActive := s.typingActive

	const (
		doNothing = iota
		doStart
		doRearm
		doStop
	)
	action := doNothing
	switch {
	case text == "" && wasActive:
		action = doStop
	case text == "":
	case !wasActive:
		action = doStart
	default:
		action = doRearm
	}

	if (action == doStart || action == doRearm) && !s.bus.IsConnected() {
		// No typing traffic while the transport is down; no queuing either.
		action = doNothing
	}

	switch action {
	case doStart:
		s.typingActive = true
		s.armIdleTimerLocked()
	case doRearm:
		s.armIdleTimerLocked()
	case doStop:
		s.typingActive = false
		if s.idleTimer != nil {
			s.idleTimer.Stop()
			s.idleTimer = nil
		}
	}
	s.mu.Unlock()

	switch action {
	case doStart:
		s.bus.StartTyping(convID)
	case doStop:
		if s.bus.IsConnected() {
			s.bus.StopTyping(convID)
		}
	}
}

// armIdleTimerLocked supersedes any pending idle timer. The generation
// counter also invalidates a timer that already fired but whose callback
// has not run yet; Stop alone cannot cancel those.
func (s *Session) armIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleGen++
	gen := s.idleGen
	s.idleTimer = time.AfterFunc(s.opts.TypingIdle, func() { s.typingIdleExpired(gen) })
}

func (s *Session) typingIdleExpired(gen uint64) {
	s.mu.Lock()
	if gen != s.idleGen || s.phase != phaseActive || !s.typingActive {
		s.mu.Unlock()
		return
	}
	s.typingActive = false
	s.idleTimer = nil
	convID := s.conversationID
	s.mu.Unlock()

	if s.bus.IsConnected() {
		s.bus.StopTyping(convID)
	}
}

// handleTyping owns the receiver side: insert-or-refresh on
// typing-start with a bounded expiry, immediate removal on typing-stop.
// A stale indicator never outlives TypingExpiry without a refresh.
func (s *Session) handleTyping(ev wire.Event) {
	t := ev.Typing
	if t == nil {
		return
	}

	key := typingKey{userID: t.UserID, conversationID: t.ConversationID}

	s.mu.Lock()
	if s.phase != phaseActive {
		s.mu.Unlock()
		return
	}
	if t.IsTyping {
		s.armTypingLocked(key, *t)
	} else if e, ok := s.typing[key]; ok {
		e.timer.Stop()
		delete(s.typing, key)
	}
	s.mu.Unlock()
	s.notify()
}

// armTypingLocked inserts or refreshes one indicator entry. Each arm
// takes a fresh generation so an expiry timer that fired just before
// the refresh cannot remove the entry when its callback runs.
func (s *Session) armTypingLocked(key typingKey, user wire.TypingUser) {
	s.typingGen++
	gen := s.typingGen
	if e, ok := s.typing[key]; ok {
		// Same (user, conversation) pair: refresh, don't duplicate.
		e.user = user
		e.timer.Stop()
		e.gen = gen
		e.timer = time.AfterFunc(s.opts.TypingExpiry, func() { s.expireTyping(key, gen) })
		return
	}
	s.typing[key] = &typingEntry{
		user:  user,
		gen:   gen,
		timer: time.AfterFunc(s.opts.TypingExpiry, func() { s.expireTyping(key, gen) }),
	}
}

func (s *Session) expireTyping(key typingKey, gen uint64) {
	s.mu.Lock()
	e, ok := s.typing[key]
	if !ok || e.gen != gen {
		// A refresh superseded this timer after it fired.
		s.mu.Unlock()
		return
	}
	delete(s.typing, key)
	s.mu.Unlock()
	s.notify()
}

// TypingUsers snapshots every live indicator across conversations.
func (s *Session) TypingUsers() []wire.TypingUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.TypingUser, 0, len(s.typing))
	for _, e := range s.typing {
		out = append(out, e.user)
	}
	return out
}

// TypingUsersFor filters the live indicators down to one conversation.
func (s *Session) TypingUsersFor(conversationID string) []wire.TypingUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.TypingUser
	for _, e := range s.typing {
		if e.user.ConversationID == conversationID {
			out = append(out, e.user)
		}
	}
	return out
}
