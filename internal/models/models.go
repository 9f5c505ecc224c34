package models

import "errors"

var (
	// ErrNotFound marks message or user ids that cannot be resolved.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input, e.g. a message with neither text nor image.
	ErrValidation = errors.New("invalid input")
	// ErrForbidden marks mutations attempted by someone other than the owner.
	ErrForbidden = errors.New("forbidden")
)

// User represents a user in the system.
type User struct {
	ID          string `json:"id"`
	UserName    string `json:"userName"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	CreatedAt   int64  `json:"createdAt"` // Unix timestamp (seconds)
}

// Reaction is a single emoji reaction left by a user on a message.
// A message holds at most one (Emoji, UserID) pair; toggling an existing
// pair removes it.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

// Message represents a direct message between two users. The conversation
// it belongs to is exactly the unordered pair {SenderID, ReceiverID}.
type Message struct {
	ID         string     `json:"id"`
	Seq        int64      `json:"seq"` // per-conversation order, oldest first
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Text       string     `json:"text,omitempty"`
	HTML       string     `json:"html,omitempty"` // rendered markdown of Text
	Image      string     `json:"image,omitempty"`
	Reactions  []Reaction `json:"reactions,omitempty"`
	CreatedAt  int64      `json:"createdAt"` // Unix timestamp (seconds), immutable
	EditedAt   int64      `json:"editedAt,omitempty"`
}
