package models

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrNotParticipant = errors.New("user is not a chat participant")
)

// MessageStatus is the delivery lifecycle stage of a message.
// It only ever advances: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// Valid reports whether s is a known status value.
func (s MessageStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return statusRank[next] > statusRank[s]
}

// User represents a user in the system.
type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Avatar   string   `json:"avatar"`
	Presence Presence `json:"presence"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

// Chat represents a conversation between two (direct) or more (group) users.
type Chat struct {
	ID            string   `json:"id"`
	Participants  []string `json:"participants"`
	IsGroup       bool     `json:"isGroup"`
	GroupName     string   `json:"groupName,omitempty"`
	GroupAvatar   string   `json:"groupAvatar,omitempty"`
	LastMessageID string   `json:"lastMessageId,omitempty"`
	UpdatedAt     int64    `json:"updatedAt"` // Unix timestamp (seconds)
}

// HasParticipant reports whether userID is a member of the chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message represents a chat message.
type Message struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chatId"`
	SenderID  string        `json:"senderId"`
	Text      string        `json:"text"`
	HTML      string        `json:"html,omitempty"`
	Status    MessageStatus `json:"status"`
	CreatedAt int64         `json:"createdAt"` // Unix timestamp (seconds)
}

// MessageView is a message with the sender's profile denormalized for clients.
type MessageView struct {
	Message
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar"`
}

// PushSubscription is a web push endpoint registered by a user's browser.
type PushSubscription struct {
	UserID   string   `json:"userId"`
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}

type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type ClientEventType string

const (
	ClientEventPresenceSet ClientEventType = "presence:set"
	ClientEventRoomJoin    ClientEventType = "room:join"
	ClientEventMessageSend ClientEventType = "message:send"
	ClientEventReadMark    ClientEventType = "read:mark"
	ClientEventTypingStart ClientEventType = "typing:start"
	ClientEventTypingStop  ClientEventType = "typing:stop"
)

// ClientEvent represents an event sent from the client to the server.
type ClientEvent struct {
	Type       ClientEventType `json:"type"`
	UserID     string          `json:"userId,omitempty"`
	UserName   string          `json:"userName,omitempty"`
	ChatID     string          `json:"chatId,omitempty"`
	SenderID   string          `json:"senderId,omitempty"`
	Text       string          `json:"text,omitempty"`
	MessageIDs []string        `json:"messageIds,omitempty"`
}

type ServerEventType string

const (
	ServerEventPresence    ServerEventType = "presence:cleared"
	ServerEventMessage     ServerEventType = "message:receive"
	ServerEventStatus      ServerEventType = "message:status"
	ServerEventReadAck     ServerEventType = "read:ack"
	ServerEventTypingStart ServerEventType = "typing:start"
	ServerEventTypingStop  ServerEventType = "typing:stop"
	ServerEventHistory     ServerEventType = "room:history"
	ServerEventError       ServerEventType = "error"
)

// ServerEvent represents an event pushed to clients.
type ServerEvent struct {
	Type       ServerEventType `json:"type"`
	UserID     string          `json:"userId,omitempty"`
	UserName   string          `json:"userName,omitempty"`
	Online     bool            `json:"online"`
	ChatID     string          `json:"chatId,omitempty"`
	Message    *MessageView    `json:"message,omitempty"`
	Messages   []MessageView   `json:"messages,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	MessageIDs []string        `json:"messageIds,omitempty"`
	Status     MessageStatus   `json:"status,omitempty"`
	Error      string          `json:"error,omitempty"`
}
