// Package chat holds the conversation sync engine: the orchestration layer
// between the HTTP surface, the message store and the realtime event bus.
// The engine keeps no state of its own; for every mutation it persists
// first and notifies the counterpart second. A failed persist never emits.
package chat

import (
	"pigeon/internal/content"
	"pigeon/internal/models"
)

// Store is the persistence contract the engine needs. Single-message
// atomicity is the store's responsibility; concurrent reaction togglers on
// one message must serialize there.
type Store interface {
	ListConversation(userA, userB string) ([]models.Message, error)
	CreateMessage(senderID, receiverID, text, html, image string) (models.Message, error)
	UpdateMessageText(messageID, editorID, text, html string) (models.Message, error)
	DeleteMessage(messageID, requesterID string) (models.Message, error)
	ToggleReaction(messageID, userID, emoji string) ([]models.Reaction, error)
	ListUsers() ([]models.User, error)
}

// Notifier pushes events to a user's open connections. Implementations
// deliver best effort: an offline receiver means the event is dropped, the
// receiver reconciles on its next fetch.
type Notifier interface {
	NewMessage(receiverID string, msg models.Message)
	MessageEdited(receiverID string, msg models.Message)
	MessageDeleted(receiverID, messageID string)
	Typing(receiverID, senderID string)
}

type Engine struct {
	store  Store
	notify Notifier
}

func NewEngine(store Store, notify Notifier) *Engine {
	return &Engine{store: store, notify: notify}
}

// Send persists a new message and notifies the receiver's connections.
func (e *Engine) Send(senderID, receiverID, text, image string) (models.Message, error) {
	text = content.Sanitize(text)
	msg, err := e.store.CreateMessage(senderID, receiverID, text, renderHTML(text), image)
	if err != nil {
		return models.Message{}, err
	}

	e.notify.NewMessage(receiverID, msg)
	return msg, nil
}

// Edit replaces a message's text. Only the sender may edit; the
// counterpart's connections get a messageEdited event.
func (e *Engine) Edit(editorID, messageID, text string) (models.Message, error) {
	text = content.Sanitize(text)
	msg, err := e.store.UpdateMessageText(messageID, editorID, text, renderHTML(text))
	if err != nil {
		return models.Message{}, err
	}

	e.notify.MessageEdited(msg.ReceiverID, msg)
	return msg, nil
}

// Delete removes a message for good. Only the sender may delete.
func (e *Engine) Delete(requesterID, messageID string) error {
	msg, err := e.store.DeleteMessage(messageID, requesterID)
	if err != nil {
		return err
	}

	e.notify.MessageDeleted(msg.ReceiverID, messageID)
	return nil
}

// React toggles the (emoji, requester) pair on a message and returns the
// updated reaction set. No event is pushed: the reacting client refetches
// and the counterpart picks the change up on its next fetch.
func (e *Engine) React(userID, messageID, emoji string) ([]models.Reaction, error) {
	return e.store.ToggleReaction(messageID, userID, emoji)
}

// Typing relays a fire-and-forget typing indicator. Nothing is persisted.
func (e *Engine) Typing(senderID, receiverID string) {
	e.notify.Typing(receiverID, senderID)
}

// Messages returns the requester's conversation with peer, oldest first.
func (e *Engine) Messages(requesterID, peerID string) ([]models.Message, error) {
	return e.store.ListConversation(requesterID, peerID)
}

// Users lists everyone the requester can start a conversation with, i.e.
// all users except the requester.
func (e *Engine) Users(requesterID string) ([]models.User, error) {
	all, err := e.store.ListUsers()
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(all))
	for _, u := range all {
		if u.ID != requesterID {
			users = append(users, u)
		}
	}
	return users, nil
}

func renderHTML(text string) string {
	if text == "" {
		return ""
	}
	return content.RenderMarkdown(text)
}
