// Package client holds the message-list reconciliation logic a chat client
// runs for its open conversation: it merges server-confirmed state with
// optimistic local mutations and folds realtime events into the list
// deterministically, whatever order they arrive in relative to local edits.
package client

import (
	"context"
	"sync"

	"pigeon/internal/models"
	"pigeon/internal/ws"
)

// State of the open conversation's message list.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
)

// API is the request surface the store talks to. In production it is a thin
// HTTP client over the /api/messages endpoints; tests substitute a fake.
type API interface {
	Messages(ctx context.Context, peerID string) ([]models.Message, error)
	Send(ctx context.Context, peerID, text, image string) (models.Message, error)
	Edit(ctx context.Context, messageID, text string) (models.Message, error)
	Delete(ctx context.Context, messageID string) error
	React(ctx context.Context, messageID, emoji string) ([]models.Reaction, error)
}

// ChatStore keeps the local message list for one open conversation.
//
// The authoritative list only changes through fetches and event folds. The
// reaction overlay sits beside it: a transient per-message pending reaction
// set consulted at render time, replaced by the next successful full fetch
// and rolled back when the request behind it fails. One mutex guards both,
// so event folds and overlay edits can never interleave destructively.
type ChatStore struct {
	api     API
	selfID  string
	onError func(error)

	mu       sync.Mutex
	state    State
	peerID   string
	messages []models.Message
	overlay  map[string][]models.Reaction
}

// NewChatStore builds a store for the given authenticated user. onError
// receives every surfaced request failure (the toast equivalent); nil is
// allowed.
func NewChatStore(a API, selfID string, onError func(error)) *ChatStore {
	if onError == nil {
		onError = func(error) {}
	}
	return &ChatStore{
		api:     a,
		selfID:  selfID,
		onError: onError,
		overlay: make(map[string][]models.Reaction),
	}
}

// Open selects a conversation and fetches its messages. On success the list
// is replaced wholesale and the store is Ready; on failure the store stays
// in its prior state and the error is surfaced.
func (s *ChatStore) Open(ctx context.Context, peerID string) error {
	s.mu.Lock()
	prev := s.state
	s.state = StateLoading
	s.peerID = peerID
	s.mu.Unlock()

	msgs, err := s.api.Messages(ctx, peerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = prev
		s.onError(err)
		return err
	}
	s.messages = msgs
	s.overlay = make(map[string][]models.Reaction)
	s.state = StateReady
	return nil
}

// Refresh refetches the open conversation, reconciling the local list with
// server truth and clearing the optimistic overlay.
func (s *ChatStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	peerID := s.peerID
	s.mu.Unlock()
	if peerID == "" {
		return nil
	}
	return s.Open(ctx, peerID)
}

// HandleEvent folds a realtime event into the local list without a refetch.
// Events for other conversations are ignored; events arriving before the
// first successful fetch are ignored too, the fetch will include them.
func (s *ChatStore) HandleEvent(evt ws.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}

	switch evt.Type {
	case ws.EventNewMessage:
		if evt.Message == nil || evt.Message.SenderID != s.peerID {
			return
		}
		s.messages = append(s.messages, *evt.Message)
	case ws.EventMessageEdited:
		for i := range s.messages {
			if s.messages[i].ID == evt.MessageID {
				s.messages[i].Text = evt.Text
				s.messages[i].HTML = ""
				break
			}
		}
	case ws.EventMessageDeleted:
		for i := range s.messages {
			if s.messages[i].ID == evt.MessageID {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
				break
			}
		}
	}
}

// Send posts a new message and appends the server's response payload to the
// local list. There is no pre-send placeholder; a failed send changes
// nothing locally.
func (s *ChatStore) Send(ctx context.Context, text, image string) error {
	s.mu.Lock()
	peerID := s.peerID
	s.mu.Unlock()

	msg, err := s.api.Send(ctx, peerID, text, image)
	if err != nil {
		s.onError(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

// Edit replaces a message's text on the server, then mirrors the change in
// the local list.
func (s *ChatStore) Edit(ctx context.Context, messageID, text string) error {
	if _, err := s.api.Edit(ctx, messageID, text); err != nil {
		s.onError(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Text = text
			s.messages[i].HTML = ""
			break
		}
	}
	return nil
}

// Delete removes a message on the server, then drops it locally.
func (s *ChatStore) Delete(ctx context.Context, messageID string) error {
	if err := s.api.Delete(ctx, messageID); err != nil {
		s.onError(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	return nil
}

// React toggles a reaction optimistically: the overlay is mutated before the
// request completes. A successful request triggers a full refetch to
// reconcile with server truth (which also clears the overlay); a failed one
// rolls the overlay back to its pre-mutation value.
func (s *ChatStore) React(ctx context.Context, messageID, emoji string) error {
	s.mu.Lock()
	prev := s.effectiveReactions(messageID)
	s.overlay[messageID] = toggled(prev, emoji, s.selfID)
	s.mu.Unlock()

	if _, err := s.api.React(ctx, messageID, emoji); err != nil {
		s.mu.Lock()
		s.overlay[messageID] = prev
		s.mu.Unlock()
		s.onError(err)
		return err
	}

	return s.Refresh(ctx)
}

// Reactions returns what should be rendered for a message: the pending
// overlay when one exists, the server-confirmed set otherwise.
func (s *ChatStore) Reactions(messageID string) []models.Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Reaction(nil), s.effectiveReactions(messageID)...)
}

// Messages returns a snapshot of the authoritative message list.
func (s *ChatStore) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

func (s *ChatStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ChatStore) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// effectiveReactions must be called with the lock held.
func (s *ChatStore) effectiveReactions(messageID string) []models.Reaction {
	if pending, ok := s.overlay[messageID]; ok {
		return pending
	}
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			return s.messages[i].Reactions
		}
	}
	return nil
}

// toggled returns a copy of reactions with the (emoji, userID) pair removed
// when present, appended otherwise.
func toggled(reactions []models.Reaction, emoji, userID string) []models.Reaction {
	out := make([]models.Reaction, 0, len(reactions)+1)
	removed := false
	for _, r := range reactions {
		if !removed && r.Emoji == emoji && r.UserID == userID {
			removed = true
			continue
		}
		out = append(out, r)
	}
	if !removed {
		out = append(out, models.Reaction{Emoji: emoji, UserID: userID})
	}
	return out
}
