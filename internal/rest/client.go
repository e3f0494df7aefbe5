// Package rest is the typed client for the chat REST collaborators:
// conversation bootstrap, message history, and the fallback send path
// used while the socket is down.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/psn-mobile/psnchat/internal/wire"
)

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	BearerToken() (string, error)
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rest: status %d: %s", e.Status, e.Message)
}

// Participant is one member of a conversation.
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// Conversation is the bootstrap record returned by POST /conversations.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
}

// Client wraps the chat endpoints of the society backend.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	log     *slog.Logger
}

// NewClient builds a client for the given API origin (including any /api
// path prefix). Requests are bounded by a 10 second timeout.
func NewClient(baseURL string, tokens TokenSource, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// CreateConversation gets or creates the 1:1 conversation with the
// recipient. The server guarantees idempotency: the same pair of
// participants always resolves to the same conversation id.
func (c *Client) CreateConversation(ctx context.Context, recipientID string) (*Conversation, error) {
	var out struct {
		Conversation Conversation `json:"conversation"`
	}
	body := map[string]string{"recipientId": recipientID}
	if err := c.do(ctx, http.MethodPost, "/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out.Conversation, nil
}

// Messages fetches the conversation history in the server's order.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]wire.Message, error) {
	var out struct {
		Messages []wire.Message `json:"messages"`
	}
	path := fmt.Sprintf("/conversations/%s/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// PostMessage creates a message over REST and returns the stored record.
// Used as the fallback send path; no socket echo follows.
func (c *Client) PostMessage(ctx context.Context, conversationID, content string) (*wire.Message, error) {
	var out struct {
		Message wire.Message `json:"message"`
	}
	path := fmt.Sprintf("/conversations/%s/messages", conversationID)
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.tokens.BearerToken()
	if err != nil {
		return fmt.Errorf("rest: token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil {
			apiErr.Message = payload.Message
			if apiErr.Message == "" {
				apiErr.Message = payload.Error
			}
		}
		c.log.Warn("api request failed", "method", method, "path", path, "status", resp.StatusCode)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode %s %s response: %w", method, path, err)
	}
	return nil
}
