package ws

import (
	"log"

	"pigeon/internal/models"
	"pigeon/internal/presence"
)

// Hub is the realtime event bus: it owns the presence registry, delivers
// targeted events to every connection a user holds, and broadcasts presence
// changes to all connected clients. Delivery is at-most-once; events for
// offline users are dropped, correctness is restored by the next fetch.
type Hub struct {
	registry *presence.Registry[*Conn]
	typing   func(senderID, receiverID string)
}

func NewHub() *Hub {
	h := &Hub{
		registry: presence.NewRegistry[*Conn](),
	}
	h.registry.OnChange(h.broadcastOnline)
	return h
}

// SetTypingHandler wires inbound typing events to their handler. Must be
// called during wiring, before connections are accepted.
func (h *Hub) SetTypingHandler(fn func(senderID, receiverID string)) {
	h.typing = fn
}

func (h *Hub) Join(userID string, c *Conn) {
	h.registry.Register(userID, c)
	log.Printf("ws: user %s connected (%d online)", userID, len(h.registry.ListOnline()))
}

func (h *Hub) Leave(userID string, c *Conn) {
	h.registry.Unregister(userID, c)
	log.Printf("ws: user %s connection closed (%d online)", userID, len(h.registry.ListOnline()))
}

func (h *Hub) Dispatch(userID string, evt ClientEvent) {
	switch evt.Type {
	case ClientEventTyping:
		if h.typing != nil && evt.ReceiverID != "" {
			h.typing(userID, evt.ReceiverID)
		}
	}
}

// NewMessage implements chat.Notifier.
func (h *Hub) NewMessage(receiverID string, msg models.Message) {
	h.emit(receiverID, Event{Type: EventNewMessage, Message: &msg})
}

// MessageEdited implements chat.Notifier.
func (h *Hub) MessageEdited(receiverID string, msg models.Message) {
	h.emit(receiverID, Event{Type: EventMessageEdited, MessageID: msg.ID, Text: msg.Text})
}

// MessageDeleted implements chat.Notifier.
func (h *Hub) MessageDeleted(receiverID, messageID string) {
	h.emit(receiverID, Event{Type: EventMessageDeleted, MessageID: messageID})
}

// Typing implements chat.Notifier.
func (h *Hub) Typing(receiverID, senderID string) {
	h.emit(receiverID, Event{Type: EventTyping, SenderID: senderID})
}

// emit delivers an event to every connection the user holds. An offline
// user simply receives nothing.
func (h *Hub) emit(userID string, evt Event) {
	for _, c := range h.registry.ConnectionsFor(userID) {
		if !c.Deliver(evt) {
			log.Printf("ws: dropped %s event for %s, outbound buffer full", evt.Type, userID)
		}
	}
}

func (h *Hub) broadcastOnline(online []string) {
	evt := Event{Type: EventOnlineUsers, OnlineUserIDs: online}
	for _, c := range h.registry.AllConnections() {
		if !c.Deliver(evt) {
			log.Printf("ws: dropped presence broadcast for %s, outbound buffer full", c.userID)
		}
	}
}
