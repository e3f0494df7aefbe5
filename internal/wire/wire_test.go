package wire

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeReceiveMessage(t *testing.T) {
	frame := `{"type":"receive_message","payload":{"id":"m1","conversationId":"c1","senderId":"u2","senderName":"Dr. Reyes","content":"Hello","timestamp":"10:42 AM","createdAt":"2026-08-01T10:42:00Z"}}`

	ev, err := DecodeEvent([]byte(frame))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Kind != KindReceiveMessage {
		t.Fatalf("kind = %q, want %q", ev.Kind, KindReceiveMessage)
	}
	if ev.Message == nil {
		t.Fatal("Message payload is nil")
	}
	if ev.Message.ID != "m1" || ev.Message.ConversationID != "c1" || ev.Message.Content != "Hello" {
		t.Errorf("unexpected message: %+v", ev.Message)
	}
	if ev.Message.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}
}

func TestDecodeTypingAndPresence(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"user_typing","payload":{"userId":"u1","userName":"Ana","conversationId":"c1","isTyping":true}}`))
	if err != nil {
		t.Fatalf("DecodeEvent typing: %v", err)
	}
	if ev.Typing == nil || !ev.Typing.IsTyping || ev.Typing.UserID != "u1" {
		t.Errorf("unexpected typing payload: %+v", ev.Typing)
	}

	ev, err = DecodeEvent([]byte(`{"type":"user_offline","payload":{"userId":"u3"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent offline: %v", err)
	}
	if ev.Presence == nil || ev.Presence.UserID != "u3" || ev.Presence.Name != "" {
		t.Errorf("unexpected presence payload: %+v", ev.Presence)
	}
}

func TestDecodeMissingPayload(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"messages_read"}`))
	if err != nil {
		t.Fatalf("DecodeEvent without payload: %v", err)
	}
	if ev.Kind != KindMessagesRead || ev.ReadAck == nil {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.ReadAck.ConversationID != "" {
		t.Errorf("phantom conversation id: %+v", ev.ReadAck)
	}

	ev, err = DecodeEvent([]byte(`{"type":"user_left_conversation","payload":null}`))
	if err != nil {
		t.Fatalf("DecodeEvent null payload: %v", err)
	}
	if ev.Ref == nil {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"reboot_universe","payload":{}}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestEncodeOutbound(t *testing.T) {
	data, err := Encode(KindSendMessage, SendMessagePayload{ConversationID: "c7", Content: "Hello"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := string(data)
	for _, want := range []string{`"type":"send_message"`, `"conversationId":"c7"`, `"content":"Hello"`} {
		if !strings.Contains(got, want) {
			t.Errorf("frame %s missing %s", got, want)
		}
	}

	// join_conversation carries the bare conversation id.
	data, err = Encode(KindJoinConversation, "c7")
	if err != nil {
		t.Fatalf("Encode join: %v", err)
	}
	if string(data) != `{"type":"join_conversation","payload":"c7"}` {
		t.Errorf("unexpected join frame: %s", data)
	}
}
