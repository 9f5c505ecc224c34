package ws

import "pigeon/internal/models"

// EventType tags server-to-client events on the realtime channel.
type EventType string

const (
	EventNewMessage     EventType = "newMessage"
	EventMessageEdited  EventType = "messageEdited"
	EventMessageDeleted EventType = "messageDeleted"
	EventTyping         EventType = "typing"
	EventOnlineUsers    EventType = "onlineUsers"
)

// Event is the tagged envelope for everything the server pushes. One variant
// per event type; unused fields stay empty on the wire.
type Event struct {
	Type EventType `json:"type"`

	// newMessage
	Message *models.Message `json:"message,omitempty"`

	// messageEdited, messageDeleted
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text,omitempty"`

	// typing
	SenderID string `json:"senderId,omitempty"`

	// onlineUsers
	OnlineUserIDs []string `json:"onlineUserIds,omitempty"`
}

// ClientEventType tags client-to-server events.
type ClientEventType string

const (
	ClientEventTyping ClientEventType = "typing"
)

// ClientEvent is the envelope for client-to-server traffic. Typing is the
// only fire-and-forget event clients push; mutations go over HTTP.
type ClientEvent struct {
	Type       ClientEventType `json:"type"`
	ReceiverID string          `json:"receiverId,omitempty"`
}
