package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"huddle/internal/auth"
	"huddle/internal/models"
)

func TestStorage(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewBboltStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	t.Run("Credentials", func(t *testing.T) {
		creds := auth.UserCredentials{
			User: models.User{
				ID:       "user1",
				Email:    "alice@example.com",
				UserName: "Alice",
				Status:   models.UserStatusActive,
			},
			PasswordHash: "hash",
		}

		if err := store.UpsertCredentials(creds); err != nil {
			t.Fatalf("UpsertCredentials failed: %v", err)
		}

		listCreds, err := store.ListCredentials()
		if err != nil {
			t.Fatalf("ListCredentials failed: %v", err)
		}
		if len(listCreds) != 1 {
			t.Errorf("expected 1 credential, got %d", len(listCreds))
		}
		if listCreds[0].ID != creds.ID {
			t.Errorf("expected ID %s, got %s", creds.ID, listCreds[0].ID)
		}

		deleted := auth.UserCredentials{
			User: models.User{
				ID:       "user2",
				Email:    "bob@example.com",
				UserName: "Bob",
				Status:   models.UserStatusDeleted,
			},
			PasswordHash: "hash",
		}
		if err := store.UpsertCredentials(deleted); err != nil {
			t.Fatalf("UpsertCredentials deleted failed: %v", err)
		}

		// ListCredentials filters to active accounts only.
		listCreds, err = store.ListCredentials()
		if err != nil {
			t.Fatalf("ListCredentials failed: %v", err)
		}
		if len(listCreds) != 1 {
			t.Errorf("expected 1 active credential, got %d", len(listCreds))
		}

		listAll, err := store.ListAllCredentials()
		if err != nil {
			t.Fatalf("ListAllCredentials failed: %v", err)
		}
		if len(listAll) != 2 {
			t.Errorf("expected 2 credentials, got %d", len(listAll))
		}
	})

	t.Run("SessionClaim", func(t *testing.T) {
		now := time.Unix(1700000000, 0)

		// First device claims an unowned account.
		sess, err := store.ClaimSession("user1", "device-a", now)
		if err != nil {
			t.Fatalf("first claim failed: %v", err)
		}
		if sess.SessionID != "device-a" {
			t.Errorf("expected session device-a, got %s", sess.SessionID)
		}

		// The same device re-claims its own session (e.g. app restart).
		if _, err := store.ClaimSession("user1", "device-a", now.Add(time.Minute)); err != nil {
			t.Errorf("re-claim by holder failed: %v", err)
		}

		// A second device must be rejected, and nothing written.
		_, err = store.ClaimSession("user1", "device-b", now.Add(time.Minute))
		if !errors.Is(err, models.ErrSessionConflict) {
			t.Fatalf("expected ErrSessionConflict, got %v", err)
		}
		got, err := store.GetSession("user1")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.SessionID != "device-a" {
			t.Errorf("losing claim overwrote the record: %s", got.SessionID)
		}

		// Takeover always wins.
		sess, err = store.TakeOverSession("user1", "device-b", now.Add(2*time.Minute))
		if err != nil {
			t.Fatalf("takeover failed: %v", err)
		}
		if sess.SessionID != "device-b" {
			t.Errorf("expected session device-b, got %s", sess.SessionID)
		}
	})

	t.Run("SessionRelease", func(t *testing.T) {
		// The evicted device must not wipe the successor's record.
		if err := store.ReleaseSession("user1", "device-a"); err != nil {
			t.Fatalf("release by non-holder errored: %v", err)
		}
		got, err := store.GetSession("user1")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.SessionID != "device-b" {
			t.Errorf("release by non-holder cleared the record: %q", got.SessionID)
		}

		// The holder's release clears it.
		if err := store.ReleaseSession("user1", "device-b"); err != nil {
			t.Fatalf("release by holder failed: %v", err)
		}
		if _, err := store.GetSession("user1"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound after release, got %v", err)
		}

		// Releasing a missing record is a no-op.
		if err := store.ReleaseSession("user1", "device-b"); err != nil {
			t.Errorf("release of missing record errored: %v", err)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		conv := models.Conversation{ID: "dm_user1_user2"}
		if err := store.UpsertConversation(conv); err != nil {
			t.Fatalf("UpsertConversation failed: %v", err)
		}

		m1, err := store.AppendMessage(models.Message{
			ConversationID: "dm_user1_user2",
			SenderID:       "user1",
			Content:        "hello",
			Timestamp:      time.Now().UnixMilli(),
		})
		if err != nil {
			t.Fatalf("AppendMessage 1 failed: %v", err)
		}
		if m1.Seq != 1 {
			t.Errorf("expected seq 1, got %d", m1.Seq)
		}

		m2, err := store.AppendMessage(models.Message{
			ConversationID: "dm_user1_user2",
			SenderID:       "user2",
			Content:        "world",
			Timestamp:      time.Now().UnixMilli(),
		})
		if err != nil {
			t.Fatalf("AppendMessage 2 failed: %v", err)
		}
		if m2.Seq != 2 {
			t.Errorf("expected seq 2, got %d", m2.Seq)
		}

		msgs, err := store.ListMessages("dm_user1_user2", 1, 100)
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].Content != "hello" || msgs[1].Content != "world" {
			t.Errorf("messages out of order: %v", msgs)
		}

		ranged, err := store.ListMessages("dm_user1_user2", 2, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(ranged) != 1 || ranged[0].Seq != 2 {
			t.Errorf("expected only seq 2 in range, got %v", ranged)
		}

		got, err := store.GetConversation("dm_user1_user2")
		if err != nil {
			t.Fatal(err)
		}
		if got.LastSeq != 2 {
			t.Errorf("expected conversation LastSeq 2, got %d", got.LastSeq)
		}
	})

	t.Run("MarkRead", func(t *testing.T) {
		if err := store.MarkRead("dm_user1_user2", "user2", []int64{1, 2}); err != nil {
			t.Fatalf("MarkRead failed: %v", err)
		}
		msgs, err := store.ListMessages("dm_user1_user2", 1, 100)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range msgs {
			if !m.ReadBy["user2"] {
				t.Errorf("message %d not marked read for user2", m.Seq)
			}
			if m.ReadBy["user1"] {
				t.Errorf("message %d wrongly marked read for user1", m.Seq)
			}
		}

		// Unknown sequence numbers are skipped, not errors.
		if err := store.MarkRead("dm_user1_user2", "user2", []int64{99}); err != nil {
			t.Errorf("MarkRead with unknown seq errored: %v", err)
		}
	})

	t.Run("Reactions", func(t *testing.T) {
		msg, err := store.SetReaction("dm_user1_user2", 1, "user2", "👍")
		if err != nil {
			t.Fatalf("SetReaction failed: %v", err)
		}
		if msg.Reactions["user2"] != "👍" {
			t.Errorf("expected reaction stored, got %v", msg.Reactions)
		}

		// Last writer wins per user.
		msg, err = store.SetReaction("dm_user1_user2", 1, "user2", "🎉")
		if err != nil {
			t.Fatal(err)
		}
		if msg.Reactions["user2"] != "🎉" {
			t.Errorf("expected reaction replaced, got %v", msg.Reactions)
		}

		// Empty emoji removes the user's reaction.
		msg, err = store.SetReaction("dm_user1_user2", 1, "user2", "")
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := msg.Reactions["user2"]; ok {
			t.Errorf("expected reaction removed, got %v", msg.Reactions)
		}

		if _, err := store.SetReaction("dm_user1_user2", 99, "user2", "👍"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown message, got %v", err)
		}
	})

	t.Run("Threads", func(t *testing.T) {
		reply, err := store.AppendThreadReply("dm_user1_user2", 2, models.Message{
			ConversationID: "dm_user1_user2",
			SenderID:       "user1",
			Content:        "threaded",
		})
		if err != nil {
			t.Fatalf("AppendThreadReply failed: %v", err)
		}
		if reply.Seq != 1 {
			t.Errorf("expected thread seq 1, got %d", reply.Seq)
		}

		replies, err := store.ListThreadReplies("dm_user1_user2", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(replies) != 1 || replies[0].Content != "threaded" {
			t.Errorf("unexpected replies: %v", replies)
		}

		// Parent counter bumped in the same transaction.
		msgs, err := store.ListMessages("dm_user1_user2", 2, 2)
		if err != nil {
			t.Fatal(err)
		}
		if msgs[0].ThreadReplyCount != 1 {
			t.Errorf("expected ThreadReplyCount 1, got %d", msgs[0].ThreadReplyCount)
		}

		if _, err := store.AppendThreadReply("dm_user1_user2", 99, models.Message{Content: "x"}); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown parent, got %v", err)
		}
	})

	t.Run("Groups", func(t *testing.T) {
		group := models.Group{
			ID:        "grp_1",
			Name:      "Backend",
			Members:   []string{"user1", "user2"},
			CreatedBy: "user1",
			CreatedAt: time.Now().Unix(),
		}
		if err := store.UpsertGroup(group); err != nil {
			t.Fatalf("UpsertGroup failed: %v", err)
		}
		got, err := store.GetGroup("grp_1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Name != "Backend" || len(got.Members) != 2 {
			t.Errorf("unexpected group: %+v", got)
		}
		groups, err := store.ListGroups()
		if err != nil {
			t.Fatal(err)
		}
		if len(groups) != 1 {
			t.Errorf("expected 1 group, got %d", len(groups))
		}
	})

	t.Run("TimeEvents", func(t *testing.T) {
		base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Unix()
		events := []models.TimeEvent{
			{ID: "e1", UserID: "user1", Type: models.TimeEventCheckIn, Timestamp: base},
			{ID: "e2", UserID: "user1", Type: models.TimeEventBreakStart, Timestamp: base + 3600},
			{ID: "e3", UserID: "user1", Type: models.TimeEventBreakEnd, Timestamp: base + 3600},
		}
		for _, e := range events {
			if err := store.AppendTimeEvent(e); err != nil {
				t.Fatalf("AppendTimeEvent failed: %v", err)
			}
		}

		got, err := store.ListTimeEvents("user1", base, base+86400)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 events, got %d", len(got))
		}
		// Same-second events keep insertion order via the per-user sequence.
		if got[1].Type != models.TimeEventBreakStart || got[2].Type != models.TimeEventBreakEnd {
			t.Errorf("events out of order: %v", got)
		}

		// Range filter excludes other days.
		got, err = store.ListTimeEvents("user1", base+86400, base+2*86400)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("expected no events on next day, got %d", len(got))
		}
	})

	t.Run("Tokens", func(t *testing.T) {
		if err := store.UpsertToken("user1", "hash123"); err != nil {
			t.Fatalf("UpsertToken failed: %v", err)
		}
		tokens, err := store.ListTokens()
		if err != nil {
			t.Fatal(err)
		}
		if tokens["hash123"] != "user1" {
			t.Errorf("expected user1 for hash123, got %s", tokens["hash123"])
		}
		if err := store.DeleteToken("hash123"); err != nil {
			t.Fatal(err)
		}
		tokens, _ = store.ListTokens()
		if _, ok := tokens["hash123"]; ok {
			t.Error("expected token deleted")
		}
	})

	t.Run("PushSubscriptions", func(t *testing.T) {
		sub := models.PushSubscription{
			UserID:   "user1",
			Endpoint: "https://push.example.com/abc",
			P256dh:   "p",
			Auth:     "a",
		}
		if err := store.UpsertPushSubscription(sub); err != nil {
			t.Fatalf("UpsertPushSubscription failed: %v", err)
		}
		subs, err := store.ListPushSubscriptions("user1")
		if err != nil {
			t.Fatal(err)
		}
		if len(subs) != 1 || subs[0].Endpoint != sub.Endpoint {
			t.Errorf("unexpected subscriptions: %v", subs)
		}
		if subs, _ := store.ListPushSubscriptions("user2"); len(subs) != 0 {
			t.Errorf("expected no subscriptions for user2, got %v", subs)
		}
		if err := store.DeletePushSubscription(sub.Endpoint); err != nil {
			t.Fatal(err)
		}
		if subs, _ := store.ListPushSubscriptions("user1"); len(subs) != 0 {
			t.Error("expected subscription deleted")
		}
	})

	t.Run("FileMetadata", func(t *testing.T) {
		meta := FileMetadata{
			ID:        "file1",
			Hash:      "deadbeef",
			MimeType:  "image/png",
			Size:      42,
			CreatedAt: time.Now().Unix(),
			UserID:    "user1",
		}
		if err := store.UpsertFileMetadata(meta); err != nil {
			t.Fatalf("UpsertFileMetadata failed: %v", err)
		}
		got, err := store.GetFileMetadata("file1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Hash != "deadbeef" || got.MimeType != "image/png" {
			t.Errorf("unexpected metadata: %+v", got)
		}
	})
}
