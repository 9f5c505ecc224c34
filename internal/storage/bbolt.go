package storage

import (
	"fmt"
	"sort"
	"time"

	"pigeon/internal/auth"
	"pigeon/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers        = []byte("users")
	bucketMessages     = []byte("messages")
	bucketMessageIndex = []byte("message_index")
	bucketFiles        = []byte("files")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUsers); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessageIndex); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketFiles); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// conversationID derives the storage key of the unordered user pair.
func conversationID(u1, u2 string) string {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return fmt.Sprintf("dm_%s_%s", u1, u2)
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			UserName:     credentials.UserName,
			DisplayName:  credentials.DisplayName,
			AvatarURL:    credentials.AvatarURL,
			CreatedAt:    credentials.CreatedAt,
			PasswordHash: credentials.PasswordHash,
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User:         userToModel(&dbUser),
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	return credentials, err
}

// GetUser returns a single user profile by id.
func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = userToModel(&dbUser)
		return nil
	})
	return user, err
}

// ListUsers returns all user profiles, sorted by display name.
func (s *BboltStorage) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, userToModel(&dbUser))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].DisplayName < users[j].DisplayName
	})
	return users, nil
}

// ListConversation returns all messages between the two users, oldest first.
func (s *BboltStorage) ListConversation(userA, userB string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID(userA, userB)))
		if convBucket == nil {
			return nil // No messages for this conversation
		}
		return convBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageToModel(&dbMsg))
			return nil
		})
	})
	return messages, err
}

// CreateMessage persists a new message and indexes it by id. At least one of
// text and image must be present; the receiver must be a known user.
func (s *BboltStorage) CreateMessage(senderID, receiverID, text, html, image string) (models.Message, error) {
	if text == "" && image == "" {
		return models.Message{}, fmt.Errorf("message needs text or image: %w", models.ErrValidation)
	}

	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketUsers).Get([]byte(receiverID)) == nil {
			return fmt.Errorf("receiver %s: %w", receiverID, models.ErrNotFound)
		}

		convID := conversationID(senderID, receiverID)
		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(convID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := convBucket.NextSequence()
		if err != nil {
			return err
		}

		dbMsg := DBMessage{
			ID:         uuid.NewString(),
			Seq:        int64(seq),
			ConvID:     convID,
			SenderID:   senderID,
			ReceiverID: receiverID,
			Text:       text,
			HTML:       html,
			Image:      image,
			CreatedAt:  time.Now().Unix(),
		}

		if err := putMessage(convBucket, &dbMsg); err != nil {
			return err
		}

		ref := DBMessageRef{MessageID: dbMsg.ID, ConvID: convID, Seq: dbMsg.Seq}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessageIndex).Put(ref.Key(), refData); err != nil {
			return fmt.Errorf("failed to index message: %w", err)
		}

		msg = messageToModel(&dbMsg)
		return nil
	})
	return msg, err
}

// UpdateMessageText replaces the text of an existing message. Only the
// original sender may edit.
func (s *BboltStorage) UpdateMessageText(messageID, editorID, text, html string) (models.Message, error) {
	if text == "" {
		return models.Message{}, fmt.Errorf("edited text cannot be empty: %w", models.ErrValidation)
	}

	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, dbMsg, err := lookupMessage(tx, messageID)
		if err != nil {
			return err
		}
		if dbMsg.SenderID != editorID {
			return fmt.Errorf("only the sender can edit a message: %w", models.ErrForbidden)
		}

		dbMsg.Text = text
		dbMsg.HTML = html
		dbMsg.EditedAt = time.Now().Unix()

		if err := putMessage(convBucket, dbMsg); err != nil {
			return err
		}
		msg = messageToModel(dbMsg)
		return nil
	})
	return msg, err
}

// DeleteMessage removes a message and its index entry. Only the original
// sender may delete. The removed message is returned so callers can still
// address its conversation.
func (s *BboltStorage) DeleteMessage(messageID, requesterID string) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, dbMsg, err := lookupMessage(tx, messageID)
		if err != nil {
			return err
		}
		if dbMsg.SenderID != requesterID {
			return fmt.Errorf("only the sender can delete a message: %w", models.ErrForbidden)
		}

		if err := convBucket.Delete(dbMsg.Key()); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessageIndex).Delete([]byte(messageID)); err != nil {
			return err
		}
		msg = messageToModel(dbMsg)
		return nil
	})
	return msg, err
}

// ToggleReaction adds the (emoji, userID) pair to the message's reaction
// sequence, or removes it when already present. Runs in a single update
// transaction, concurrent togglers on the same message serialize here.
func (s *BboltStorage) ToggleReaction(messageID, userID, emoji string) ([]models.Reaction, error) {
	if emoji == "" {
		return nil, fmt.Errorf("emoji cannot be empty: %w", models.ErrValidation)
	}

	var reactions []models.Reaction
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, dbMsg, err := lookupMessage(tx, messageID)
		if err != nil {
			return err
		}
		if dbMsg.SenderID != userID && dbMsg.ReceiverID != userID {
			return fmt.Errorf("only conversation participants can react: %w", models.ErrForbidden)
		}

		found := -1
		for i, r := range dbMsg.Reactions {
			if r.Emoji == emoji && r.UserID == userID {
				found = i
				break
			}
		}
		if found >= 0 {
			dbMsg.Reactions = append(dbMsg.Reactions[:found], dbMsg.Reactions[found+1:]...)
		} else {
			dbMsg.Reactions = append(dbMsg.Reactions, DBReaction{Emoji: emoji, UserID: userID})
		}

		if err := putMessage(convBucket, dbMsg); err != nil {
			return err
		}
		reactions = reactionsToModel(dbMsg.Reactions)
		return nil
	})
	return reactions, err
}

// lookupMessage resolves a message id through the index to its conversation
// bucket and record.
func lookupMessage(tx *bbolt.Tx, messageID string) (*bbolt.Bucket, *DBMessage, error) {
	refData := tx.Bucket(bucketMessageIndex).Get([]byte(messageID))
	if refData == nil {
		return nil, nil, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return nil, nil, fmt.Errorf("corrupt index entry for %s: %w", messageID, err)
	}

	convBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ConvID))
	if convBucket == nil {
		return nil, nil, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}

	dbMsg := DBMessage{Seq: ref.Seq}
	data := convBucket.Get(dbMsg.Key())
	if data == nil {
		return nil, nil, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return nil, nil, fmt.Errorf("corrupt message %s: %w", messageID, err)
	}
	return convBucket, &dbMsg, nil
}

func putMessage(convBucket *bbolt.Bucket, dbMsg *DBMessage) error {
	data, err := dbMsg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return convBucket.Put(dbMsg.Key(), data)
}

func userToModel(u *DBUser) models.User {
	return models.User{
		ID:          u.ID,
		UserName:    u.UserName,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		CreatedAt:   u.CreatedAt,
	}
}

func messageToModel(m *DBMessage) models.Message {
	return models.Message{
		ID:         m.ID,
		Seq:        m.Seq,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		HTML:       m.HTML,
		Image:      m.Image,
		Reactions:  reactionsToModel(m.Reactions),
		CreatedAt:  m.CreatedAt,
		EditedAt:   m.EditedAt,
	}
}

func reactionsToModel(rs []DBReaction) []models.Reaction {
	if len(rs) == 0 {
		return nil
	}
	out := make([]models.Reaction, len(rs))
	for i, r := range rs {
		out[i] = models.Reaction{Emoji: r.Emoji, UserID: r.UserID}
	}
	return out
}
