package jianluochat

// Event identifies a logical event the transport can deliver to subscribers.
// Logical events are stable even if the wire frame types evolve.
type Event string

const (
	EventConnected   Event = "connected"
	EventMessage     Event = "message"
	EventWorld       Event = "world"
	EventWorldJoined Event = "world_joined"
	EventTyping      Event = "typing"
	EventPong        Event = "pong"
	EventError       Event = "error"
)

// MessageEvent is a chat message delivered over the socket.
type MessageEvent struct {
	ID        string
	RoomID    string
	Sender    string
	Content   string
	Timestamp string
}

// TypingEvent signals that a member started or stopped composing in a room.
type TypingEvent struct {
	RoomID   string
	UserID   string
	IsTyping bool
}
