package models

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrSessionConflict    = errors.New("account is already signed in on another device")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Status is the tri-state presence value stored for every account.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOnBreak Status = "onBreak"
	StatusOffline Status = "offline"
)

// DecodeStatus maps a raw presence value from the live store to a Status.
// Older clients wrote booleans instead of strings; those decode as
// online/offline. Anything unrecognized is offline.
func DecodeStatus(raw any) Status {
	switch v := raw.(type) {
	case Status:
		if v == StatusOnline || v == StatusOnBreak {
			return v
		}
	case string:
		if Status(v) == StatusOnline || Status(v) == StatusOnBreak {
			return Status(v)
		}
	case bool:
		if v {
			return StatusOnline
		}
	}
	return StatusOffline
}

type UserStatus string

const (
	UserStatusCreated UserStatus = "created"
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents an account in the system.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	UserName  string     `json:"userName"`
	AvatarURL string     `json:"avatarUrl"`
	Role      string     `json:"role,omitempty"`
	Presence  Status     `json:"presence"`
	LastSeen  int64      `json:"lastSeen"` // Unix timestamp (seconds)
	Status    UserStatus `json:"status"`
}

// Session is the single per-account session record. It is overwritten on
// every successful login; every live client of the account compares its
// own device token against SessionID to detect takeover.
type Session struct {
	SessionID string `json:"sessionId"`
	CreatedAt int64  `json:"createdAt"` // Unix timestamp (seconds)
}

// Conversation is a direct or group chat.
type Conversation struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	IsGroup bool     `json:"isGroup"`
	Members []string `json:"members,omitempty"` // group only; DMs derive members from the ID
	LastSeq int64    `json:"lastSeq"`
}

// Group holds group metadata beyond the conversation itself.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
	Members   []string `json:"members"`
	CreatedBy string   `json:"createdBy"`
	CreatedAt int64    `json:"createdAt"`
}

// Message is a single chat message. Reactions and ReadBy are merge-written
// by any participant; messages are never deleted.
type Message struct {
	ID               string            `json:"id"`
	Seq              int64             `json:"seq"`
	ConversationID   string            `json:"conversationId"`
	SenderID         string            `json:"senderId"`
	SenderName       string            `json:"senderName"`
	SenderAvatar     string            `json:"senderAvatar,omitempty"`
	Content          string            `json:"content"`
	HTML             string            `json:"html,omitempty"`
	Timestamp        int64             `json:"timestamp"` // Unix timestamp (milliseconds)
	Reactions        map[string]string `json:"reactions,omitempty"`
	ReadBy           map[string]bool   `json:"readBy,omitempty"`
	ThreadReplyCount int               `json:"threadReplyCount,omitempty"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
}

// UnreadFor reports whether the message counts as unread for the viewer.
// A viewer's own messages never do.
func (m Message) UnreadFor(viewerID string) bool {
	return m.SenderID != viewerID && !m.ReadBy[viewerID]
}

type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypeFile  AttachmentType = "file"
)

type Attachment struct {
	Type     AttachmentType `json:"type"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType"`
	FileID   string         `json:"fileId"`
}

// TimeEventType is one of the four time-tracking log entry kinds.
type TimeEventType string

const (
	TimeEventCheckIn    TimeEventType = "checkin"
	TimeEventCheckOut   TimeEventType = "checkout"
	TimeEventBreakStart TimeEventType = "breakStart"
	TimeEventBreakEnd   TimeEventType = "breakEnd"
)

// TimeEvent is one entry in a user's time-tracking log.
type TimeEvent struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	Type      TimeEventType `json:"type"`
	BreakType string        `json:"breakType,omitempty"`
	Note      string        `json:"note,omitempty"`
	Timestamp int64         `json:"timestamp"` // Unix timestamp (seconds)
}

// WorkState is derived from the last time event of the day.
type WorkState string

const (
	WorkStateOffline    WorkState = "offline"
	WorkStateCheckedIn  WorkState = "checkedIn"
	WorkStateOnBreak    WorkState = "onBreak"
	WorkStateCheckedOut WorkState = "checkedOut"
)

// PushSubscription is a browser push endpoint registered by a client.
type PushSubscription struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}
