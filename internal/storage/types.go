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
	Email        string `msgpack:"email"`
	UserName     string `msgpack:"userName"`
	AvatarURL    string `msgpack:"avatarUrl"`
	Role         string `msgpack:"role"`
	LastSeen     int64  `msgpack:"lastSeen"`
	PasswordHash string `msgpack:"passwordHash"`
	Status       string `msgpack:"status"`
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

// DBSession is the single session record per account. SessionID is the
// device token of whichever device last won the login compare-and-set.
type DBSession struct {
	UserID    string `msgpack:"userId"`
	SessionID string `msgpack:"sessionId"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (s *DBSession) Key() []byte {
	return []byte(s.UserID)
}

func (s *DBSession) MarshalBinary() (data []byte, err error) {
	type alias DBSession
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSession) UnmarshalBinary(data []byte) error {
	type alias DBSession
	return msgpack.Unmarshal(data, (*alias)(s))
}

type DBConversation struct {
	ID      string   `msgpack:"id"`
	Name    string   `msgpack:"name"`
	IsGroup bool     `msgpack:"isGroup"`
	Members []string `msgpack:"members"`
	LastSeq int64    `msgpack:"lastSeq"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBGroup struct {
	ID        string   `msgpack:"id"`
	Name      string   `msgpack:"name"`
	AvatarURL string   `msgpack:"avatarUrl"`
	Members   []string `msgpack:"members"`
	CreatedBy string   `msgpack:"createdBy"`
	CreatedAt int64    `msgpack:"createdAt"`
}

func (g *DBGroup) Key() []byte {
	return []byte(g.ID)
}

func (g *DBGroup) MarshalBinary() (data []byte, err error) {
	type alias DBGroup
	return msgpack.Marshal((*alias)(g))
}

func (g *DBGroup) UnmarshalBinary(data []byte) error {
	type alias DBGroup
	return msgpack.Unmarshal(data, (*alias)(g))
}

type DBMessage struct {
	ID             string            `msgpack:"id"`
	Seq            int64             `msgpack:"seq"`
	Timestamp      int64             `msgpack:"timestamp"`
	ConversationID string            `msgpack:"conversationId"`
	SenderID       string            `msgpack:"senderId"`
	SenderName     string            `msgpack:"senderName"`
	SenderAvatar   string            `msgpack:"senderAvatar"`
	Content        string            `msgpack:"content"`
	HTML           string            `msgpack:"html"`
	Reactions      map[string]string `msgpack:"reactions"`
	ReadBy         map[string]bool   `msgpack:"readBy"`
	ThreadCount    int               `msgpack:"threadCount"`
	Attachments    []DBAttachment    `msgpack:"attachments"`
}

type DBAttachment struct {
	Type     string `msgpack:"type"`
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	FileID   string `msgpack:"fileId"`
}

// Messages are keyed by sequence number so a cursor walks them in send order.
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

type DBTimeEvent struct {
	ID        string `msgpack:"id"`
	UserID    string `msgpack:"userId"`
	Type      string `msgpack:"type"`
	BreakType string `msgpack:"breakType"`
	Note      string `msgpack:"note"`
	Timestamp int64  `msgpack:"timestamp"`
	Seq       int64  `msgpack:"seq"`
}

func (e *DBTimeEvent) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(e.Seq))
	return key
}

func (e *DBTimeEvent) MarshalBinary() (data []byte, err error) {
	type alias DBTimeEvent
	return msgpack.Marshal((*alias)(e))
}

func (e *DBTimeEvent) UnmarshalBinary(data []byte) error {
	type alias DBTimeEvent
	return msgpack.Unmarshal(data, (*alias)(e))
}

type DBToken struct {
	UserID string `msgpack:"userId"`
	Token  string `msgpack:"token"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.Token)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (p *DBPushSubscription) Key() []byte {
	return []byte(p.Endpoint)
}

func (p *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(p))
}
