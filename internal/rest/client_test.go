package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fixedToken string

func (f fixedToken) BearerToken() (string, error) { return string(f), nil }

func TestCreateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/conversations" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		json.Unmarshal(body, &req)
		if req["recipientId"] != "u2" {
			t.Errorf("recipientId = %q", req["recipientId"])
		}
		io.WriteString(w, `{"conversation":{"id":"c9","participants":[{"id":"u1","name":"Ana"},{"id":"u2","name":"Ben"}]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", fixedToken("tok"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	conv, err := c.CreateConversation(context.Background(), "u2")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID != "c9" || len(conv.Participants) != 2 {
		t.Errorf("unexpected conversation: %+v", conv)
	}
}

func TestMessagesAndPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/conversations/c9/messages":
			io.WriteString(w, `{"messages":[{"id":"m1","conversationId":"c9","content":"first"},{"id":"m2","conversationId":"c9","content":"second"}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/conversations/c9/messages":
			body, _ := io.ReadAll(r.Body)
			var req map[string]string
			json.Unmarshal(body, &req)
			io.WriteString(w, `{"message":{"id":"m3","conversationId":"c9","content":"`+req["content"]+`"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", fixedToken("tok"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	msgs, err := c.Messages(context.Background(), "c9")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("unexpected history: %+v", msgs)
	}

	msg, err := c.PostMessage(context.Background(), "c9", "Hello")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if msg.ID != "m3" || msg.Content != "Hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"not a member"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", fixedToken("tok"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.Messages(context.Background(), "c9")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Message != "not a member" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}
