package chat

import (
	"fmt"
	"sort"
	"time"

	"huddle/internal/content"
	"huddle/internal/models"

	"github.com/google/uuid"
)

// FeedEventType tags the notifications published on a conversation's
// message feed.
type FeedEventType string

const (
	// FeedEventMessage is a newly appended message.
	FeedEventMessage FeedEventType = "message"
	// FeedEventUpdate is an in-place mutation: reactions, read receipts,
	// thread counters.
	FeedEventUpdate FeedEventType = "update"
	// FeedEventThread is a new reply under a parent message.
	FeedEventThread FeedEventType = "thread"
)

type FeedEvent struct {
	Type    FeedEventType
	Message models.Message
}

// Store is the persistence the chat service needs, implemented by the
// bbolt storage layer.
type Store interface {
	UpsertConversation(conv models.Conversation) error
	GetConversation(id string) (models.Conversation, error)
	ListConversations() ([]models.Conversation, error)
	AppendMessage(message models.Message) (models.Message, error)
	ListMessages(conversationID string, from, to int64) ([]models.Message, error)
	MarkRead(conversationID, viewerID string, seqs []int64) error
	SetReaction(conversationID string, seq int64, userID, emoji string) (models.Message, error)
	AppendThreadReply(conversationID string, parentSeq int64, reply models.Message) (models.Message, error)
	ListThreadReplies(conversationID string, parentSeq int64) ([]models.Message, error)
	UpsertGroup(group models.Group) error
	GetGroup(id string) (models.Group, error)
	ListGroups() ([]models.Group, error)
}

// Publisher is the live-store surface the service fans events out on.
type Publisher interface {
	Set(path string, value any)
}

// Notifier delivers out-of-band notifications (web push) for new messages.
type Notifier interface {
	MessagePosted(conv models.Conversation, msg models.Message)
}

// Service owns conversations, groups and messages. Mutations persist to
// the store first and are then published on the corresponding live-store
// feed path, so every subscriber observes them in write order.
type Service struct {
	store    Store
	pub      Publisher
	notifier Notifier
	now      func() time.Time
}

func NewService(store Store, pub Publisher) *Service {
	return &Service{
		store: store,
		pub:   pub,
		now:   time.Now,
	}
}

// SetNotifier attaches the push notifier. Optional; nil means no push.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// EnsureDM returns the direct conversation between the two users, creating
// it on first use.
func (s *Service) EnsureDM(u1, u2 string) (models.Conversation, error) {
	id := DMID(u1, u2)
	conv, err := s.store.GetConversation(id)
	if err == nil {
		return conv, nil
	}
	conv = models.Conversation{ID: id}
	if err := s.store.UpsertConversation(conv); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to create dm: %w", err)
	}
	s.publishMembership(u1, u2)
	return conv, nil
}

// CreateGroup creates a group and its conversation. The creator is always
// a member.
func (s *Service) CreateGroup(name, createdBy string, members []string, avatarURL string) (models.Group, error) {
	if name == "" {
		return models.Group{}, fmt.Errorf("group name is required")
	}
	seen := map[string]bool{createdBy: true}
	all := []string{createdBy}
	for _, m := range members {
		if !seen[m] {
			seen[m] = true
			all = append(all, m)
		}
	}
	sort.Strings(all)

	group := models.Group{
		ID:        "grp_" + uuid.NewString(),
		Name:      content.Sanitize(name),
		AvatarURL: avatarURL,
		Members:   all,
		CreatedBy: createdBy,
		CreatedAt: s.now().Unix(),
	}
	if err := s.store.UpsertGroup(group); err != nil {
		return models.Group{}, fmt.Errorf("failed to create group: %w", err)
	}
	conv := models.Conversation{
		ID:      group.ID,
		Name:    group.Name,
		IsGroup: true,
		Members: all,
	}
	if err := s.store.UpsertConversation(conv); err != nil {
		return models.Group{}, fmt.Errorf("failed to create group conversation: %w", err)
	}
	s.publishMembership(all...)
	return group, nil
}

// AddMember adds a user to the group and republishes membership for
// everyone affected.
func (s *Service) AddMember(groupID, userID string) (models.Group, error) {
	group, err := s.store.GetGroup(groupID)
	if err != nil {
		return models.Group{}, err
	}
	for _, m := range group.Members {
		if m == userID {
			return group, nil
		}
	}
	group.Members = append(group.Members, userID)
	sort.Strings(group.Members)
	if err := s.saveGroup(group); err != nil {
		return models.Group{}, err
	}
	s.publishMembership(group.Members...)
	return group, nil
}

// RemoveMember removes a user from the group. The removed user's
// membership is republished too, so their aggregator disposes the
// conversation's subscriptions.
func (s *Service) RemoveMember(groupID, userID string) (models.Group, error) {
	group, err := s.store.GetGroup(groupID)
	if err != nil {
		return models.Group{}, err
	}
	kept := group.Members[:0]
	found := false
	for _, m := range group.Members {
		if m == userID {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return group, nil
	}
	group.Members = kept
	if err := s.saveGroup(group); err != nil {
		return models.Group{}, err
	}
	s.publishMembership(append(append([]string{}, group.Members...), userID)...)
	return group, nil
}

func (s *Service) saveGroup(group models.Group) error {
	if err := s.store.UpsertGroup(group); err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}
	conv, err := s.store.GetConversation(group.ID)
	if err != nil {
		return err
	}
	conv.Members = group.Members
	conv.Name = group.Name
	if err := s.store.UpsertConversation(conv); err != nil {
		return fmt.Errorf("failed to save group conversation: %w", err)
	}
	return nil
}

// GetGroup returns group metadata.
func (s *Service) GetGroup(groupID string) (models.Group, error) {
	return s.store.GetGroup(groupID)
}

// CanAccess reports whether the user participates in the conversation.
func (s *Service) CanAccess(userID, conversationID string) error {
	if IsDM(conversationID) {
		if IsDirectMember(userID, conversationID) {
			return nil
		}
		return models.ErrPermissionDenied
	}
	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return err
	}
	for _, m := range conv.Members {
		if m == userID {
			return nil
		}
	}
	return models.ErrPermissionDenied
}

// ConversationIDs returns the IDs of every conversation the user belongs
// to: their existing DMs plus their groups.
func (s *Service) ConversationIDs(userID string) ([]string, error) {
	convs, err := s.store.ListConversations()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, c := range convs {
		if IsDM(c.ID) {
			if IsDirectMember(userID, c.ID) {
				ids = append(ids, c.ID)
			}
			continue
		}
		for _, m := range c.Members {
			if m == userID {
				ids = append(ids, c.ID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SendMessage renders, persists and fans out a message from sender to the
// conversation.
func (s *Service) SendMessage(sender models.User, conversationID, text string, attachments []models.Attachment) (models.Message, error) {
	if err := s.CanAccess(sender.ID, conversationID); err != nil {
		return models.Message{}, err
	}
	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderName:     sender.UserName,
		SenderAvatar:   sender.AvatarURL,
		Content:        text,
		HTML:           content.Render(text),
		Timestamp:      s.now().UnixMilli(),
		Attachments:    attachments,
	}
	msg, err = s.store.AppendMessage(msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to append message: %w", err)
	}

	s.pub.Set(FeedPath(conversationID), FeedEvent{Type: FeedEventMessage, Message: msg})
	if s.notifier != nil {
		s.notifier.MessagePosted(conv, msg)
	}
	return msg, nil
}

// Messages returns the viewer's visible slice of the conversation feed in
// send order. Access is rechecked on every call so a revoked membership
// surfaces as models.ErrPermissionDenied.
func (s *Service) Messages(viewerID, conversationID string, from, to int64) ([]models.Message, error) {
	if err := s.CanAccess(viewerID, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(conversationID, from, to)
}

// MarkRead sets the viewer's read marker on the listed messages and
// publishes the receipt so senders observe it.
func (s *Service) MarkRead(viewerID, conversationID string, seqs []int64) error {
	if err := s.CanAccess(viewerID, conversationID); err != nil {
		return err
	}
	if len(seqs) == 0 {
		return nil
	}
	if err := s.store.MarkRead(conversationID, viewerID, seqs); err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	s.pub.Set(FeedPath(conversationID), FeedEvent{Type: FeedEventUpdate, Message: models.Message{
		ConversationID: conversationID,
		Seq:            seqs[len(seqs)-1],
	}})
	return nil
}

// React records the user's emoji on a message; an empty emoji removes it.
func (s *Service) React(userID, conversationID string, seq int64, emoji string) (models.Message, error) {
	if err := s.CanAccess(userID, conversationID); err != nil {
		return models.Message{}, err
	}
	msg, err := s.store.SetReaction(conversationID, seq, userID, emoji)
	if err != nil {
		return models.Message{}, err
	}
	s.pub.Set(FeedPath(conversationID), FeedEvent{Type: FeedEventUpdate, Message: msg})
	return msg, nil
}

// ReplyInThread appends a threaded reply under the parent message and
// publishes both the reply and the parent's new reply count.
func (s *Service) ReplyInThread(sender models.User, conversationID string, parentSeq int64, text string) (models.Message, error) {
	if err := s.CanAccess(sender.ID, conversationID); err != nil {
		return models.Message{}, err
	}
	reply := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderName:     sender.UserName,
		SenderAvatar:   sender.AvatarURL,
		Content:        text,
		HTML:           content.Render(text),
		Timestamp:      s.now().UnixMilli(),
	}
	reply, err := s.store.AppendThreadReply(conversationID, parentSeq, reply)
	if err != nil {
		return models.Message{}, err
	}
	s.pub.Set(FeedPath(conversationID), FeedEvent{Type: FeedEventThread, Message: reply})
	return reply, nil
}

// ThreadReplies lists the replies under a parent message.
func (s *Service) ThreadReplies(viewerID, conversationID string, parentSeq int64) ([]models.Message, error) {
	if err := s.CanAccess(viewerID, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListThreadReplies(conversationID, parentSeq)
}

// publishMembership recomputes and publishes each user's conversation
// list. Aggregators subscribe to these paths and rediff on every change.
func (s *Service) publishMembership(userIDs ...string) {
	for _, userID := range userIDs {
		ids, err := s.ConversationIDs(userID)
		if err != nil {
			continue
		}
		s.pub.Set(MembershipPath(userID), ids)
	}
}
