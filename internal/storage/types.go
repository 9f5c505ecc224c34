package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	UserName     string `msgpack:"userName"`
	DisplayName  string `msgpack:"displayName"`
	AvatarURL    string `msgpack:"avatarUrl"`
	CreatedAt    int64  `msgpack:"createdAt"`
	PasswordHash string `msgpack:"passwordHash"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBReaction struct {
	Emoji  string `msgpack:"emoji"`
	UserID string `msgpack:"userId"`
}

// DBMessage lives in a per-conversation sub-bucket, keyed by its sequence
// number so a cursor walk yields oldest-first order.
type DBMessage struct {
	ID         string       `msgpack:"id"`
	Seq        int64        `msgpack:"seq"`
	ConvID     string       `msgpack:"convId"`
	SenderID   string       `msgpack:"senderId"`
	ReceiverID string       `msgpack:"receiverId"`
	Text       string       `msgpack:"text"`
	HTML       string       `msgpack:"html"`
	Image      string       `msgpack:"image"`
	Reactions  []DBReaction `msgpack:"reactions"`
	CreatedAt  int64        `msgpack:"createdAt"`
	EditedAt   int64        `msgpack:"editedAt"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef is the message-id index entry pointing into the conversation
// sub-bucket that holds the record.
type DBMessageRef struct {
	MessageID string `msgpack:"messageId"`
	ConvID    string `msgpack:"convId"`
	Seq       int64  `msgpack:"seq"`
}

func (r *DBMessageRef) Key() []byte {
	return []byte(r.MessageID)
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}
