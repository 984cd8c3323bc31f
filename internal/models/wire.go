package models

// ClientMessage is sent from the client over the websocket.
type ClientMessage struct {
	Type           ClientMessageType `json:"type"`
	ConversationID string            `json:"conversationId,omitempty"`
	Content        string            `json:"content,omitempty"`
	Seq            int64             `json:"seq,omitempty"`
	ParentSeq      int64             `json:"parentSeq,omitempty"`
	Emoji          string            `json:"emoji,omitempty"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
}

type ClientMessageType string

const (
	// ClientMessageTypeSend posts a message to a conversation.
	ClientMessageTypeSend ClientMessageType = "send"
	// ClientMessageTypeFocus marks the conversation the viewer has open;
	// its messages are marked read and its unread count pins to zero.
	ClientMessageTypeFocus ClientMessageType = "focus"
	// ClientMessageTypeReact toggles the sender's emoji on a message.
	ClientMessageTypeReact ClientMessageType = "react"
	// ClientMessageTypeRead marks messages up to Seq as read.
	ClientMessageTypeRead ClientMessageType = "read"
	// ClientMessageTypeThread posts a reply under the ParentSeq message.
	ClientMessageTypeThread ClientMessageType = "thread"
)

// ServerMessage is pushed to the client over the websocket.
type ServerMessage struct {
	Type           ServerMessageType `json:"type"`
	ConversationID string            `json:"conversationId,omitempty"`
	Messages       []Message         `json:"messages,omitempty"`
	UserID         string            `json:"userId,omitempty"`
	Status         Status            `json:"status,omitempty"`
	Unread         int               `json:"unread,omitempty"`
	Conversations  []string          `json:"conversations,omitempty"`
	Notice         string            `json:"notice,omitempty"`
}

type ServerMessageType string

const (
	ServerMessageTypeMessages ServerMessageType = "messages"
	ServerMessageTypeUpdate   ServerMessageType = "update"
	ServerMessageTypeThread   ServerMessageType = "thread"
	ServerMessageTypePresence ServerMessageType = "presence"
	ServerMessageTypeUnread   ServerMessageType = "unread"
	ServerMessageTypeRoster   ServerMessageType = "roster"
	ServerMessageTypeEvicted  ServerMessageType = "evicted"
)
