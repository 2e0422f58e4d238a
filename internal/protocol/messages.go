// Package protocol defines the WebSocket message types and structures used
// for communication between the Relay client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/relay/chat-app/internal/broker"
	"github.com/relay/chat-app/internal/store"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeHello       = "hello"
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
	TypeWatchChat   = "watch_chat"
	TypeUnwatchChat = "unwatch_chat"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeHelloOK      = "hello_ok"
	TypeMessage      = "message"
	TypeTypingUpdate = "typing_update"
	TypeRateLimited  = "rate_limited"
	TypeError        = "error"
	TypePong         = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// HelloMsg identifies the user behind a fresh connection. The server answers
// with hello_ok and begins streaming that user's messages.
type HelloMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// SendMessageMsg submits a chat message.
type SendMessageMsg struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// TypingMsg sets or clears the sender's typing flag for a chat.
type TypingMsg struct {
	Type     string `json:"type"`
	ChatID   int64  `json:"chat_id"`
	IsTyping bool   `json:"is_typing"`
}

// WatchChatMsg asks the server to stream typing updates for a chat (sent
// when the client opens that chat's view).
type WatchChatMsg struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
}

// UnwatchChatMsg stops the typing update stream for a chat.
type UnwatchChatMsg struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// HelloOKMsg acknowledges a hello. The message stream for the user is live
// from this point on.
type HelloOKMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// MessageMsg delivers a newly created message with its chat snapshot, in the
// shape the chat list consumes directly.
type MessageMsg struct {
	Type         string        `json:"type"`
	Chat         store.Chat    `json:"chat"`
	Message      store.Message `json:"message"`
	Participants []store.User  `json:"participants"`
}

// TypingUpdateMsg delivers the complete current typing set for a chat.
type TypingUpdateMsg struct {
	Type    string  `json:"type"`
	ChatID  int64   `json:"chat_id"`
	UserIDs []int64 `json:"user_ids"`
}

// RateLimitedMsg tells the client an action was throttled.
type RateLimitedMsg struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

// ErrorMsg is a structured error response.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Parsing and construction helpers
// ---------------------------------------------------------------------------

// ParseClientMessage decodes raw bytes into the envelope and then into the
// concrete client message struct for the embedded type. It returns the type
// string, the concrete struct, and any parse error.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}

	switch env.Type {
	case TypeHello:
		var msg HelloMsg
		if err := json.Unmarshal(env.Raw, &msg); err != nil {
			return env.Type, nil, fmt.Errorf("protocol: bad hello payload: %w", err)
		}
		return env.Type, msg, nil

	case TypeSendMessage:
		var msg SendMessageMsg
		if err := json.Unmarshal(env.Raw, &msg); err != nil {
			return env.Type, nil, fmt.Errorf("protocol: bad send_message payload: %w", err)
		}
		return env.Type, msg, nil

	case TypeTyping:
		var msg TypingMsg
		if err := json.Unmarshal(env.Raw, &msg); err != nil {
			return env.Type, nil, fmt.Errorf("protocol: bad typing payload: %w", err)
		}
		return env.Type, msg, nil

	case TypeWatchChat:
		var msg WatchChatMsg
		if err := json.Unmarshal(env.Raw, &msg); err != nil {
			return env.Type, nil, fmt.Errorf("protocol: bad watch_chat payload: %w", err)
		}
		return env.Type, msg, nil

	case TypeUnwatchChat:
		var msg UnwatchChatMsg
		if err := json.Unmarshal(env.Raw, &msg); err != nil {
			return env.Type, nil, fmt.Errorf("protocol: bad unwatch_chat payload: %w", err)
		}
		return env.Type, msg, nil

	case TypePing:
		return env.Type, PingMsg{Type: TypePing}, nil

	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown message type %q", env.Type)
	}
}

// NewServerMessage builds a JSON server message of the given type. The
// payload struct's Type field is set from msgType via a map round-trip so
// callers don't have to fill it in.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", msgType, err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("protocol: remarshal %s payload: %w", msgType, err)
	}
	fields["type"] = msgType

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s message: %w", msgType, err)
	}
	return data, nil
}

// NewMessageMsg builds the wire form of a broker message event.
func NewMessageMsg(ev broker.MessageEvent) ([]byte, error) {
	return NewServerMessage(TypeMessage, MessageMsg{
		Chat:         ev.Chat,
		Message:      ev.Message,
		Participants: ev.Participants,
	})
}

// NewTypingUpdateMsg builds the wire form of a broker typing event.
func NewTypingUpdateMsg(ev broker.TypingEvent) ([]byte, error) {
	return NewServerMessage(TypeTypingUpdate, TypingUpdateMsg{
		ChatID:  ev.ChatID,
		UserIDs: ev.UserIDs,
	})
}
