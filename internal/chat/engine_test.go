package chat

import (
	"errors"
	"strings"
	"testing"

	"pigeon/internal/models"
)

type fakeStore struct {
	createErr error
	updateErr error
	deleteErr error

	createdText string
	createdHTML string
	toggled     []string
	msgs        []models.Message
	users       []models.User
}

func (s *fakeStore) ListConversation(userA, userB string) ([]models.Message, error) {
	return s.msgs, nil
}

func (s *fakeStore) CreateMessage(senderID, receiverID, text, html, image string) (models.Message, error) {
	if s.createErr != nil {
		return models.Message{}, s.createErr
	}
	s.createdText = text
	s.createdHTML = html
	return models.Message{ID: "m1", SenderID: senderID, ReceiverID: receiverID, Text: text, HTML: html, Image: image}, nil
}

func (s *fakeStore) UpdateMessageText(messageID, editorID, text, html string) (models.Message, error) {
	if s.updateErr != nil {
		return models.Message{}, s.updateErr
	}
	return models.Message{ID: messageID, SenderID: editorID, ReceiverID: "peer", Text: text, HTML: html}, nil
}

func (s *fakeStore) DeleteMessage(messageID, requesterID string) (models.Message, error) {
	if s.deleteErr != nil {
		return models.Message{}, s.deleteErr
	}
	return models.Message{ID: messageID, SenderID: requesterID, ReceiverID: "peer"}, nil
}

func (s *fakeStore) ToggleReaction(messageID, userID, emoji string) ([]models.Reaction, error) {
	s.toggled = append(s.toggled, emoji)
	return []models.Reaction{{Emoji: emoji, UserID: userID}}, nil
}

func (s *fakeStore) ListUsers() ([]models.User, error) {
	return s.users, nil
}

type fakeNotifier struct {
	newMessages []models.Message
	edited      []models.Message
	deleted     []string
	typing      []string
}

func (n *fakeNotifier) NewMessage(receiverID string, msg models.Message) {
	n.newMessages = append(n.newMessages, msg)
}

func (n *fakeNotifier) MessageEdited(receiverID string, msg models.Message) {
	n.edited = append(n.edited, msg)
}

func (n *fakeNotifier) MessageDeleted(receiverID, messageID string) {
	n.deleted = append(n.deleted, messageID)
}

func (n *fakeNotifier) Typing(receiverID, senderID string) {
	n.typing = append(n.typing, senderID+"->"+receiverID)
}

func TestEngineSend(t *testing.T) {
	store := &fakeStore{}
	notify := &fakeNotifier{}
	engine := NewEngine(store, notify)

	msg, err := engine.Send("alice", "bob", "*hi* <script>alert(1)</script>", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(notify.newMessages) != 1 {
		t.Fatalf("expected exactly one newMessage event, got %d", len(notify.newMessages))
	}
	if notify.newMessages[0].ID != msg.ID {
		t.Errorf("expected event to carry the persisted message")
	}
	if store.createdText == "" || store.createdHTML == "" {
		t.Errorf("expected sanitized text and rendered html to be persisted")
	}
	for _, s := range []string{store.createdText, store.createdHTML} {
		if strings.Contains(s, "<script>") {
			t.Errorf("expected script tags to be stripped, got %q", s)
		}
	}
}

func TestEngineSendStoreError(t *testing.T) {
	store := &fakeStore{createErr: errors.New("disk full")}
	notify := &fakeNotifier{}
	engine := NewEngine(store, notify)

	if _, err := engine.Send("alice", "bob", "hi", ""); err == nil {
		t.Fatal("expected error from store to propagate")
	}
	if len(notify.newMessages) != 0 {
		t.Errorf("a failed persist must not emit, got %d events", len(notify.newMessages))
	}
}

func TestEngineEdit(t *testing.T) {
	store := &fakeStore{}
	notify := &fakeNotifier{}
	engine := NewEngine(store, notify)

	msg, err := engine.Edit("alice", "m1", "fixed")
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if len(notify.edited) != 1 || notify.edited[0].ID != msg.ID {
		t.Errorf("expected one messageEdited event for %s, got %v", msg.ID, notify.edited)
	}

	store.updateErr = models.ErrForbidden
	if _, err := engine.Edit("bob", "m1", "hijack"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden to propagate, got %v", err)
	}
	if len(notify.edited) != 1 {
		t.Errorf("a failed edit must not emit")
	}
}

func TestEngineDelete(t *testing.T) {
	store := &fakeStore{}
	notify := &fakeNotifier{}
	engine := NewEngine(store, notify)

	if err := engine.Delete("alice", "m1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(notify.deleted) != 1 || notify.deleted[0] != "m1" {
		t.Errorf("expected one messageDeleted event for m1, got %v", notify.deleted)
	}

	store.deleteErr = models.ErrNotFound
	if err := engine.Delete("alice", "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound to propagate, got %v", err)
	}
	if len(notify.deleted) != 1 {
		t.Errorf("a failed delete must not emit")
	}
}

func TestEngineReactDoesNotNotify(t *testing.T) {
	store := &fakeStore{}
	notify := &fakeNotifier{}
	engine := NewEngine(store, notify)

	reactions, err := engine.React("alice", "m1", "👍")
	if err != nil {
		t.Fatalf("React failed: %v", err)
	}
	if len(reactions) != 1 {
		t.Errorf("expected updated reaction set, got %v", reactions)
	}
	if len(notify.newMessages)+len(notify.edited)+len(notify.deleted) != 0 {
		t.Errorf("reactions must not push events")
	}
}

func TestEngineTyping(t *testing.T) {
	notify := &fakeNotifier{}
	engine := NewEngine(&fakeStore{}, notify)

	engine.Typing("alice", "bob")
	if len(notify.typing) != 1 || notify.typing[0] != "alice->bob" {
		t.Errorf("expected typing relayed to bob from alice, got %v", notify.typing)
	}
}

func TestEngineUsers(t *testing.T) {
	store := &fakeStore{users: []models.User{
		{ID: "u1", DisplayName: "Alice"},
		{ID: "u2", DisplayName: "Bob"},
	}}
	engine := NewEngine(store, &fakeNotifier{})

	users, err := engine.Users("u1")
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	if len(users) != 1 || users[0].ID != "u2" {
		t.Errorf("expected requester filtered out, got %v", users)
	}
}
