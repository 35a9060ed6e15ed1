package store

import (
	"strings"

	"github.com/jianluochat/jianluochat-sdk-go/jianluochat/rest"
)

// TempIDPrefix marks client-generated message IDs awaiting server
// confirmation. Server IDs never start with it, so the two cannot collide.
const TempIDPrefix = "temp_"

// MessageType classifies message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// MessageStatus is the delivery lifecycle of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	}
	return 0
}

// CanTransition reports whether the status may move to the target. Forward
// transitions advance one step at a time; the only branch is
// sending -> failed, and failed is terminal.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	if to == StatusFailed {
		return s == StatusSending
	}
	if s == StatusFailed {
		return false
	}
	return to.rank() == s.rank()+1
}

// RoomType distinguishes one-on-one conversations from groups.
type RoomType string

const (
	RoomDirect RoomType = "direct"
	RoomGroup  RoomType = "group"
)

// Message is one chat message in a room's cache.
type Message struct {
	ID        string
	RoomID    string
	Sender    string
	Content   string
	Type      MessageType
	Timestamp string // ISO8601
	Status    MessageStatus
}

// IsTemp reports whether the message still carries a client-generated ID.
func (m Message) IsTemp() bool { return strings.HasPrefix(m.ID, TempIDPrefix) }

// Room is one conversation visible to the user.
type Room struct {
	ID          string
	Name        string
	Type        RoomType
	AvatarURL   string
	LastMessage *Message
	UnreadCount int
	Members     []string
}

func roomFromInfo(info rest.RoomInfo) Room {
	r := Room{
		ID:          info.ID,
		Name:        info.Name,
		Type:        RoomType(info.Type),
		AvatarURL:   info.AvatarURL,
		UnreadCount: info.UnreadCount,
		Members:     append([]string(nil), info.Members...),
	}
	if info.LastMessage != nil {
		m := messageFromInfo(*info.LastMessage)
		r.LastMessage = &m
	}
	return r
}

func messageFromInfo(info rest.MessageInfo) Message {
	mt := MessageType(info.MessageType)
	if mt == "" {
		mt = MessageText
	}
	status := MessageStatus(info.Status)
	if status == "" {
		status = StatusDelivered
	}
	return Message{
		ID:        info.ID,
		RoomID:    info.RoomID,
		Sender:    info.Sender,
		Content:   info.Content,
		Type:      mt,
		Timestamp: info.Timestamp,
		Status:    status,
	}
}
