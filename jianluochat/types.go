package jianluochat

import "encoding/json"

// Frame types sent by the server.
const (
	TypeConnected       = "CONNECTED"
	TypeNewMessage      = "NEW_MESSAGE"
	TypeWorldMessage    = "WORLD_MESSAGE"
	TypeWorldJoined     = "WORLD_JOINED"
	TypeTypingIndicator = "TYPING_INDICATOR"
	TypePong            = "PONG"
	TypeError           = "ERROR"
)

// Frame types sent by the client. WORLD_MESSAGE travels in both directions.
const (
	TypeChatMessage = "CHAT_MESSAGE"
	TypeJoinWorld   = "JOIN_WORLD"
	TypeTyping      = "TYPING"
	TypePing        = "PING"
)

// Frame is the envelope received from the server. Data stays raw until the
// dispatcher knows which payload to decode it into.
type Frame struct {
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// OutFrame is the envelope sent to the server.
type OutFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// MessagePayload rides NEW_MESSAGE and WORLD_MESSAGE frames.
type MessagePayload struct {
	EventID   string `json:"eventId"`
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ChatMessagePayload rides outbound CHAT_MESSAGE frames.
type ChatMessagePayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// TypingPayload rides TYPING and TYPING_INDICATOR frames.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// WorldMessagePayload rides outbound WORLD_MESSAGE frames.
type WorldMessagePayload struct {
	Content string `json:"content"`
}

// UnmarshalData decodes a frame payload into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
