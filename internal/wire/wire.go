// Package wire defines the messaging protocol spoken over the socket:
// a closed set of event kinds, their payload shapes, and the JSON
// envelope that carries them.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind names a wire or locally synthesized event. The set is closed;
// DecodeEvent rejects anything outside it.
type Kind string

// Events sent to the server.
const (
	KindJoinConversation  Kind = "join_conversation"
	KindLeaveConversation Kind = "leave_conversation"
	KindSendMessage       Kind = "send_message"
	KindTypingStart       Kind = "typing_start"
	KindTypingStop        Kind = "typing_stop"
	KindMarkMessagesRead  Kind = "mark_messages_read"
)

// Events received from the server.
const (
	KindReceiveMessage Kind = "receive_message"
	KindUserTyping     Kind = "user_typing"
	KindUserOnline     Kind = "user_online"
	KindUserOffline    Kind = "user_offline"
	KindUserJoined     Kind = "user_joined_conversation"
	KindUserLeft       Kind = "user_left_conversation"
	KindMessagesRead   Kind = "messages_read"
	KindError          Kind = "error"
)

// Events synthesized by the connection manager itself. They never cross
// the wire; they exist so consumers subscribe to transport state the
// same way they subscribe to chat traffic.
const (
	KindConnected       Kind = "connected"
	KindDisconnected    Kind = "disconnected"
	KindConnectionError Kind = "connection_error"
	KindSendFailed      Kind = "send_failed"
	KindMaxReconnect    Kind = "max_reconnect_attempts_reached"
)

// ErrUnknownEvent is returned by DecodeEvent for types outside the closed set.
var ErrUnknownEvent = errors.New("wire: unknown event type")

// Message is a chat message as delivered by the server. ID is unique
// within a conversation; Timestamp is the server-formatted display
// string, CreatedAt the creation instant.
type Message struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversationId"`
	SenderID         string    `json:"senderId"`
	SenderName       string    `json:"senderName"`
	SenderProfilePic string    `json:"senderProfilePic,omitempty"`
	Content          string    `json:"content"`
	Timestamp        string    `json:"timestamp"`
	CreatedAt        time.Time `json:"createdAt"`
}

// TypingUser is the ephemeral typing indicator tuple.
type TypingUser struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// OnlineUser is a presence entry. user_offline carries only the id.
type OnlineUser struct {
	UserID     string `json:"userId"`
	Name       string `json:"name,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// ReadAck acknowledges that a participant read a conversation's messages.
type ReadAck struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

// ErrorPayload is the server's error event body.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ConversationRef names a conversation when a join/leave style event
// needs more than the bare id.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	UserName       string `json:"userName,omitempty"`
}

// SendMessagePayload is the outbound send_message body.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// TypingPayload is the outbound typing_start/typing_stop body.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

// MarkReadPayload is the outbound mark_messages_read body.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
}

// DroppedSend describes an outbound frame discarded because the
// transport was not connected. Content is set for send_message only.
type DroppedSend struct {
	Kind           Kind
	ConversationID string
	Content        string
}

// Event is the tagged variant delivered on the event bus. Kind selects
// which payload field is populated; all others are nil.
type Event struct {
	Kind Kind

	Message  *Message
	Typing   *TypingUser
	Presence *OnlineUser
	ReadAck  *ReadAck
	Ref      *ConversationRef
	Err      *ErrorPayload
	Dropped  *DroppedSend

	// Reason carries disconnect/connection_error detail.
	Reason string
}

// Envelope is the frame format on the wire.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps a payload in an envelope and marshals it.
func Encode(kind Kind, payload any) ([]byte, error) {
	env := Envelope{Type: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: encode %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", kind, err)
	}
	return data, nil
}

// DecodeEvent parses an inbound frame into a tagged Event.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("wire: decode envelope: %w", err)
	}

	payload := env.Payload
	if len(payload) == 0 || string(payload) == "null" {
		// Some server events arrive without a body; decode them as empty.
		payload = []byte("{}")
	}

	ev := Event{Kind: env.Type}
	var err error
	switch env.Type {
	case KindReceiveMessage:
		ev.Message = &Message{}
		err = json.Unmarshal(payload, ev.Message)
	case KindUserTyping:
		ev.Typing = &TypingUser{}
		err = json.Unmarshal(payload, ev.Typing)
	case KindUserOnline, KindUserOffline:
		ev.Presence = &OnlineUser{}
		err = json.Unmarshal(payload, ev.Presence)
	case KindUserJoined, KindUserLeft:
		ev.Ref = &ConversationRef{}
		err = json.Unmarshal(payload, ev.Ref)
	case KindMessagesRead:
		ev.ReadAck = &ReadAck{}
		err = json.Unmarshal(payload, ev.ReadAck)
	case KindError:
		ev.Err = &ErrorPayload{}
		err = json.Unmarshal(payload, ev.Err)
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return Event{}, fmt.Errorf("wire: decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}
