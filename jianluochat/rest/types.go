package rest

// RoomType represents the type of a room.
type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
	RoomTypeWorld  RoomType = "world"
)

// RoomInfo is the room representation returned by the API.
type RoomInfo struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        RoomType     `json:"type"`
	AvatarURL   string       `json:"avatarUrl,omitempty"`
	LastMessage *MessageInfo `json:"lastMessage,omitempty"`
	UnreadCount int          `json:"unreadCount"`
	Members     []string     `json:"members"`
}

// MessageInfo represents a single message.
type MessageInfo struct {
	ID          string `json:"id"`
	RoomID      string `json:"roomId"`
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	Timestamp   string `json:"timestamp"`
	Status      string `json:"status,omitempty"`
}

// SendMessageRequest is the request body for posting a message to a room.
type SendMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
}

// CreateRoomRequest is the request body for creating a room.
type CreateRoomRequest struct {
	Name    string   `json:"name"`
	Type    RoomType `json:"type,omitempty"` // defaults to "group" if not specified
	Members []string `json:"members,omitempty"`
}

// Authentication types

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

// TokenResponse contains the bearer token returned after successful authentication.
type TokenResponse struct {
	Token string `json:"token"`
}

// UserInfo represents the authenticated user.
type UserInfo struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Invitation types

// InvitationRequest is the request body for inviting a user to a room.
type InvitationRequest struct {
	TargetUserID string `json:"targetUserId"`
	RoomID       string `json:"roomId"`
	Message      string `json:"message,omitempty"`
}

// InvitationInfo represents a room invitation.
type InvitationInfo struct {
	ID         string `json:"id"`
	RoomID     string `json:"roomId"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Message    string `json:"message,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
}

// ErrorResponse represents an API error response body.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
