package chat

import "encoding/json"

// Event names on the websocket channel.
const (
	EventSetUsername   = "setUsername"   // out: LoginRequest
	EventLoggedIn      = "loggedin"      // in: {}
	EventNewConnection = "newConnection" // in: {}
	EventSendMessage   = "sendmessage"   // out: SendRequest
	EventMessage       = "message"       // in: Message
)

// Envelope is one websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LoginRequest is the payload of setUsername.
type LoginRequest struct {
	Username string `json:"username"`
	Room     Room   `json:"room"`
}

// SendRequest is the payload of sendmessage.
type SendRequest struct {
	Message Message `json:"message"`
	Room    Room    `json:"room"`
}

// OnlineUsersResponse is the body of GET /online-users.
type OnlineUsersResponse struct {
	OnlineUsers []PresenceEntry `json:"onlineUsers"`
}
