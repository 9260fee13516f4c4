package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// OpenSessionRequest opens a session for the calling owner.
type OpenSessionRequest struct {
	Title string `json:"title,omitempty"`
}

// SessionInfo is the wire representation of a session.
type SessionInfo struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TurnSubmission is one inbound user message.
type TurnSubmission struct {
	SessionID   string       `json:"sessionId"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	// Model optionally switches the session's model before this turn.
	Model string `json:"model,omitempty"`
}

// Attachment references non-text input by URI.
type Attachment struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
}

// SetModelRequest switches a session's model selector.
type SetModelRequest struct {
	Model string `json:"model"`
}

// RememberRequest stores a note into the memory corpus.
type RememberRequest struct {
	Scope string `json:"scope"`
	Text  string `json:"text"`
}

// RememberResponse reports where the note landed.
type RememberResponse struct {
	Path string `json:"path"`
}

// ErrorResponse is the JSON body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// EventMessage is one entry on the lifecycle feed.
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	TurnID    string      `json:"turnId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// AuthChallenge is sent to a feed client right after the upgrade.
type AuthChallenge struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// AuthResponse is the client's signed answer to the challenge.
type AuthResponse struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
}

// AuthResult reports the outcome of the challenge.
type AuthResult struct {
	Event   string `json:"event"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClientState tracks where a feed connection is in its lifecycle.
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

// Client is one connected lifecycle-feed subscriber.
type Client struct {
	ID            string
	Conn          *websocket.Conn
	Authenticated bool
	Challenge     string
	ConnectedAt   time.Time
	LastActivity  time.Time
	IPAddress     string
	AuthAttempts  int
	State         ClientState

	// writeMu serializes writes; gorilla connections allow one writer.
	writeMu sync.Mutex
}

// WriteMessage writes one websocket message, serialized per connection.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// WriteJSON writes one JSON message, serialized per connection.
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

// ClientInfo is the read-only view of a feed subscriber.
type ClientInfo struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
}
