package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"huddle/internal/auth"
	"huddle/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketSessions      = []byte("sessions")
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketThreads       = []byte("threads")
	bucketGroups        = []byte("groups")
	bucketTimeLogs      = []byte("time_logs")
	bucketTokens        = []byte("tokens")
	bucketPushSubs      = []byte("push_subscriptions")
	bucketFiles         = []byte("files")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	buckets := [][]byte{
		bucketUsers,
		bucketSessions,
		bucketConversations,
		bucketMessages,
		bucketThreads,
		bucketGroups,
		bucketTimeLogs,
		bucketTokens,
		bucketPushSubs,
		bucketFiles,
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
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

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			Email:        credentials.Email,
			UserName:     credentials.UserName,
			AvatarURL:    credentials.AvatarURL,
			Role:         credentials.Role,
			LastSeen:     credentials.LastSeen,
			PasswordHash: credentials.PasswordHash,
			Status:       string(credentials.Status),
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListAllCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListAllCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User: models.User{
					ID:        dbUser.ID,
					Email:     dbUser.Email,
					UserName:  dbUser.UserName,
					AvatarURL: dbUser.AvatarURL,
					Role:      dbUser.Role,
					LastSeen:  dbUser.LastSeen,
					Status:    models.UserStatus(dbUser.Status),
				},
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	return credentials, err
}

// ListCredentials returns only active user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	all, err := s.ListAllCredentials()
	if err != nil {
		return nil, err
	}
	var active []auth.UserCredentials
	for _, c := range all {
		if c.Status == models.UserStatusActive {
			active = append(active, c)
		}
	}
	return active, nil
}

// ClaimSession performs the login compare-and-set for one account. The read
// of the current session record and the conditional write of the new one
// happen inside a single bbolt update transaction, so two devices racing to
// log in cannot both observe "no session" and both win.
//
// A stored token that is non-empty and different from deviceToken means
// another device owns the account: the claim fails with ErrSessionConflict
// and nothing is written. One transaction attempt per call; there is no
// retry loop on top.
func (s *BboltStorage) ClaimSession(userID, deviceToken string, now time.Time) (models.Session, error) {
	var session models.Session
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if data := b.Get([]byte(userID)); data != nil {
			var existing DBSession
			if err := existing.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
			if existing.SessionID != "" && existing.SessionID != deviceToken {
				return models.ErrSessionConflict
			}
		}

		dbSession := DBSession{
			UserID:    userID,
			SessionID: deviceToken,
			CreatedAt: now.Unix(),
		}
		data, err := dbSession.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbSession.Key(), data); err != nil {
			return err
		}
		session = models.Session{SessionID: dbSession.SessionID, CreatedAt: dbSession.CreatedAt}
		return nil
	})
	return session, err
}

// TakeOverSession unconditionally writes the session record, displacing any
// previous owner. Used when a device without a local token claims the
// account; the displaced device notices on its next session notification.
func (s *BboltStorage) TakeOverSession(userID, deviceToken string, now time.Time) (models.Session, error) {
	var session models.Session
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		dbSession := DBSession{
			UserID:    userID,
			SessionID: deviceToken,
			CreatedAt: now.Unix(),
		}
		data, err := dbSession.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbSession.Key(), data); err != nil {
			return err
		}
		session = models.Session{SessionID: dbSession.SessionID, CreatedAt: dbSession.CreatedAt}
		return nil
	})
	return session, err
}

// GetSession returns the account's current session record.
func (s *BboltStorage) GetSession(userID string) (models.Session, error) {
	var session models.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(userID))
		if data == nil {
			return models.ErrNotFound
		}
		var dbSession DBSession
		if err := dbSession.UnmarshalBinary(data); err != nil {
			return err
		}
		session = models.Session{SessionID: dbSession.SessionID, CreatedAt: dbSession.CreatedAt}
		return nil
	})
	return session, err
}

// ReleaseSession clears the session record, but only if the stored token
// still belongs to the releasing device. An evicted device calling this
// must not wipe the record its successor just wrote.
func (s *BboltStorage) ReleaseSession(userID, deviceToken string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data := b.Get([]byte(userID))
		if data == nil {
			return nil
		}
		var existing DBSession
		if err := existing.UnmarshalBinary(data); err != nil {
			return err
		}
		if existing.SessionID != deviceToken {
			return nil
		}
		return b.Delete([]byte(userID))
	})
}

// UpsertConversation saves a conversation to the database.
func (s *BboltStorage) UpsertConversation(conv models.Conversation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		dbConv := DBConversation{
			ID:      conv.ID,
			Name:    conv.Name,
			IsGroup: conv.IsGroup,
			Members: conv.Members,
			LastSeq: conv.LastSeq,
		}
		data, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbConv.Key(), data)
	})
}

func (s *BboltStorage) GetConversation(id string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConversations).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(data); err != nil {
			return err
		}
		conv = conversationFromDB(dbConv)
		return nil
	})
	return conv, err
}

// ListConversations returns all conversations stored in the database.
func (s *BboltStorage) ListConversations() ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		return b.ForEach(func(k, v []byte) error {
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(v); err != nil {
				return err
			}
			convs = append(convs, conversationFromDB(dbConv))
			return nil
		})
	})
	return convs, err
}

func conversationFromDB(dbConv DBConversation) models.Conversation {
	return models.Conversation{
		ID:      dbConv.ID,
		Name:    dbConv.Name,
		IsGroup: dbConv.IsGroup,
		Members: dbConv.Members,
		LastSeq: dbConv.LastSeq,
	}
}

// AppendMessage assigns the next sequence number in the conversation and
// saves the message, updating the conversation's LastSeq in the same
// transaction. Returns the message with Seq filled in.
func (s *BboltStorage) AppendMessage(message models.Message) (models.Message, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if message.ConversationID == "" {
			return errors.New("message missing conversationID")
		}

		convBucket := tx.Bucket(bucketConversations)
		convKey := []byte(message.ConversationID)
		convData := convBucket.Get(convKey)
		if convData == nil {
			return fmt.Errorf("conversation %s not found for message append", message.ConversationID)
		}
		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(convData); err != nil {
			return fmt.Errorf("failed to unmarshal conversation: %w", err)
		}

		dbConv.LastSeq++
		message.Seq = dbConv.LastSeq

		newConvData, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		if err := convBucket.Put(convKey, newConvData); err != nil {
			return err
		}

		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists(convKey)
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		dbMessage := messageToDB(message)
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return chatBucket.Put(dbMessage.Key(), data)
	})
	return message, err
}

// ListMessages returns conversation messages with from <= seq <= to,
// in send order.
func (s *BboltStorage) ListMessages(conversationID string, from, to int64) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if chatBucket == nil {
			return nil // No messages for this conversation
		}

		c := chatBucket.Cursor()

		minKey := make([]byte, 8)
		binary.BigEndian.PutUint64(minKey, uint64(from))

		maxKey := make([]byte, 8)
		binary.BigEndian.PutUint64(maxKey, uint64(to))

		for k, v := c.Seek(minKey); k != nil && bytes.Compare(k, maxKey) <= 0; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageFromDB(dbMsg))
		}
		return nil
	})
	return messages, err
}

// MarkRead sets ReadBy[viewerID]=true on every listed message of the
// conversation in one transaction. Unknown sequence numbers are skipped.
func (s *BboltStorage) MarkRead(conversationID, viewerID string, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if chatBucket == nil {
			return nil
		}
		key := make([]byte, 8)
		for _, seq := range seqs {
			binary.BigEndian.PutUint64(key, uint64(seq))
			data := chatBucket.Get(key)
			if data == nil {
				continue
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(data); err != nil {
				return err
			}
			if dbMsg.ReadBy == nil {
				dbMsg.ReadBy = make(map[string]bool)
			}
			if dbMsg.ReadBy[viewerID] {
				continue
			}
			dbMsg.ReadBy[viewerID] = true
			updated, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := chatBucket.Put(dbMsg.Key(), updated); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetReaction records userID's emoji on a message. An empty emoji removes
// the user's reaction. Last writer wins per user key.
func (s *BboltStorage) SetReaction(conversationID string, seq int64, userID, emoji string) (models.Message, error) {
	var updated models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if chatBucket == nil {
			return models.ErrNotFound
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(seq))
		data := chatBucket.Get(key)
		if data == nil {
			return models.ErrNotFound
		}
		var dbMsg DBMessage
		if err := dbMsg.UnmarshalBinary(data); err != nil {
			return err
		}
		if dbMsg.Reactions == nil {
			dbMsg.Reactions = make(map[string]string)
		}
		if emoji == "" {
			delete(dbMsg.Reactions, userID)
		} else {
			dbMsg.Reactions[userID] = emoji
		}
		newData, err := dbMsg.MarshalBinary()
		if err != nil {
			return err
		}
		if err := chatBucket.Put(dbMsg.Key(), newData); err != nil {
			return err
		}
		updated = messageFromDB(dbMsg)
		return nil
	})
	return updated, err
}

// AppendThreadReply saves a reply under the parent message and bumps the
// parent's thread counter in the same transaction.
func (s *BboltStorage) AppendThreadReply(conversationID string, parentSeq int64, reply models.Message) (models.Message, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if chatBucket == nil {
			return models.ErrNotFound
		}
		parentKey := make([]byte, 8)
		binary.BigEndian.PutUint64(parentKey, uint64(parentSeq))
		parentData := chatBucket.Get(parentKey)
		if parentData == nil {
			return models.ErrNotFound
		}
		var parent DBMessage
		if err := parent.UnmarshalBinary(parentData); err != nil {
			return err
		}

		convThreads, err := tx.Bucket(bucketThreads).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return err
		}
		threadBucket, err := convThreads.CreateBucketIfNotExists(parentKey)
		if err != nil {
			return err
		}

		seq, err := threadBucket.NextSequence()
		if err != nil {
			return err
		}
		reply.Seq = int64(seq)

		dbReply := messageToDB(reply)
		data, err := dbReply.MarshalBinary()
		if err != nil {
			return err
		}
		if err := threadBucket.Put(dbReply.Key(), data); err != nil {
			return err
		}

		parent.ThreadCount++
		newParent, err := parent.MarshalBinary()
		if err != nil {
			return err
		}
		return chatBucket.Put(parentKey, newParent)
	})
	return reply, err
}

// ListThreadReplies returns all replies to the parent message in send order.
func (s *BboltStorage) ListThreadReplies(conversationID string, parentSeq int64) ([]models.Message, error) {
	var replies []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convThreads := tx.Bucket(bucketThreads).Bucket([]byte(conversationID))
		if convThreads == nil {
			return nil
		}
		parentKey := make([]byte, 8)
		binary.BigEndian.PutUint64(parentKey, uint64(parentSeq))
		threadBucket := convThreads.Bucket(parentKey)
		if threadBucket == nil {
			return nil
		}
		return threadBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			replies = append(replies, messageFromDB(dbMsg))
			return nil
		})
	})
	return replies, err
}

func messageToDB(message models.Message) DBMessage {
	dbMessage := DBMessage{
		ID:             message.ID,
		Seq:            message.Seq,
		Timestamp:      message.Timestamp,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		SenderName:     message.SenderName,
		SenderAvatar:   message.SenderAvatar,
		Content:        message.Content,
		HTML:           message.HTML,
		Reactions:      message.Reactions,
		ReadBy:         message.ReadBy,
		ThreadCount:    message.ThreadReplyCount,
	}
	if len(message.Attachments) > 0 {
		dbMessage.Attachments = make([]DBAttachment, len(message.Attachments))
		for i, a := range message.Attachments {
			dbMessage.Attachments[i] = DBAttachment{
				Type:     string(a.Type),
				Name:     a.Name,
				MimeType: a.MimeType,
				FileID:   a.FileID,
			}
		}
	}
	return dbMessage
}

func messageFromDB(dbMsg DBMessage) models.Message {
	msg := models.Message{
		ID:               dbMsg.ID,
		Seq:              dbMsg.Seq,
		Timestamp:        dbMsg.Timestamp,
		ConversationID:   dbMsg.ConversationID,
		SenderID:         dbMsg.SenderID,
		SenderName:       dbMsg.SenderName,
		SenderAvatar:     dbMsg.SenderAvatar,
		Content:          dbMsg.Content,
		HTML:             dbMsg.HTML,
		Reactions:        dbMsg.Reactions,
		ReadBy:           dbMsg.ReadBy,
		ThreadReplyCount: dbMsg.ThreadCount,
	}
	if len(dbMsg.Attachments) > 0 {
		msg.Attachments = make([]models.Attachment, len(dbMsg.Attachments))
		for i, a := range dbMsg.Attachments {
			msg.Attachments[i] = models.Attachment{
				Type:     models.AttachmentType(a.Type),
				Name:     a.Name,
				MimeType: a.MimeType,
				FileID:   a.FileID,
			}
		}
	}
	return msg
}

// UpsertGroup saves group metadata to the database.
func (s *BboltStorage) UpsertGroup(group models.Group) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		dbGroup := DBGroup{
			ID:        group.ID,
			Name:      group.Name,
			AvatarURL: group.AvatarURL,
			Members:   group.Members,
			CreatedBy: group.CreatedBy,
			CreatedAt: group.CreatedAt,
		}
		data, err := dbGroup.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbGroup.Key(), data)
	})
}

func (s *BboltStorage) GetGroup(id string) (models.Group, error) {
	var group models.Group
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketGroups).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbGroup DBGroup
		if err := dbGroup.UnmarshalBinary(data); err != nil {
			return err
		}
		group = groupFromDB(dbGroup)
		return nil
	})
	return group, err
}

// ListGroups returns all groups stored in the database.
func (s *BboltStorage) ListGroups() ([]models.Group, error) {
	var groups []models.Group
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		return b.ForEach(func(k, v []byte) error {
			var dbGroup DBGroup
			if err := dbGroup.UnmarshalBinary(v); err != nil {
				return err
			}
			groups = append(groups, groupFromDB(dbGroup))
			return nil
		})
	})
	return groups, err
}

func groupFromDB(dbGroup DBGroup) models.Group {
	return models.Group{
		ID:        dbGroup.ID,
		Name:      dbGroup.Name,
		AvatarURL: dbGroup.AvatarURL,
		Members:   dbGroup.Members,
		CreatedBy: dbGroup.CreatedBy,
		CreatedAt: dbGroup.CreatedAt,
	}
}

// AppendTimeEvent saves a time-tracking log entry for the user. Entries get
// a per-user monotonic sequence so same-second events keep their order.
func (s *BboltStorage) AppendTimeEvent(event models.TimeEvent) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketTimeLogs).CreateBucketIfNotExists([]byte(event.UserID))
		if err != nil {
			return fmt.Errorf("failed to create time log bucket: %w", err)
		}
		seq, err := userBucket.NextSequence()
		if err != nil {
			return err
		}
		dbEvent := DBTimeEvent{
			ID:        event.ID,
			UserID:    event.UserID,
			Type:      string(event.Type),
			BreakType: event.BreakType,
			Note:      event.Note,
			Timestamp: event.Timestamp,
			Seq:       int64(seq),
		}
		data, err := dbEvent.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbEvent.Key(), data)
	})
}

// ListTimeEvents returns the user's time events with from <= ts < to,
// in log order.
func (s *BboltStorage) ListTimeEvents(userID string, from, to int64) ([]models.TimeEvent, error) {
	var events []models.TimeEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketTimeLogs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbEvent DBTimeEvent
			if err := dbEvent.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbEvent.Timestamp < from || dbEvent.Timestamp >= to {
				return nil
			}
			events = append(events, models.TimeEvent{
				ID:        dbEvent.ID,
				UserID:    dbEvent.UserID,
				Type:      models.TimeEventType(dbEvent.Type),
				BreakType: dbEvent.BreakType,
				Note:      dbEvent.Note,
				Timestamp: dbEvent.Timestamp,
			})
			return nil
		})
	})
	return events, err
}

func (s *BboltStorage) UpsertToken(userID string, tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		dbToken := &DBToken{
			UserID: userID,
			Token:  tokenHash,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbToken.Key(), data)
	})
}

func (s *BboltStorage) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.Delete([]byte(tokenHash))
	})
}

func (s *BboltStorage) ListTokens() (map[string]string, error) {
	tokens := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return err
			}
			tokens[dbToken.Token] = dbToken.UserID
			return nil
		})
	})
	return tokens, err
}

func (s *BboltStorage) UpsertPushSubscription(sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs)
		dbSub := &DBPushSubscription{
			UserID:   sub.UserID,
			Endpoint: sub.Endpoint,
			P256dh:   sub.P256dh,
			Auth:     sub.Auth,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) DeletePushSubscription(endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubs).Delete([]byte(endpoint))
	})
}

// ListPushSubscriptions returns all push subscriptions for the user.
func (s *BboltStorage) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs)
		return b.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbSub.UserID != userID {
				return nil
			}
			subs = append(subs, models.PushSubscription{
				UserID:   dbSub.UserID,
				Endpoint: dbSub.Endpoint,
				P256dh:   dbSub.P256dh,
				Auth:     dbSub.Auth,
			})
			return nil
		})
	})
	return subs, err
}
