package chat

import (
	"sort"
	"strings"
)

// DMID builds the deterministic conversation ID for a direct chat. Both
// participants derive the same ID regardless of argument order.
func DMID(u1, u2 string) string {
	ids := []string{u1, u2}
	sort.Strings(ids)
	return "dm_" + ids[0] + "_" + ids[1]
}

// IsDM reports whether the conversation ID names a direct chat.
func IsDM(conversationID string) bool {
	return strings.HasPrefix(conversationID, "dm_")
}

// DMMembers extracts the two participant IDs from a direct conversation
// ID. Returns false for anything that is not a well-formed DM ID.
func DMMembers(conversationID string) (string, string, bool) {
	if !IsDM(conversationID) {
		return "", "", false
	}
	parts := strings.Split(conversationID[3:], "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DMCounterpart returns the other participant of the user's direct chat.
func DMCounterpart(userID, conversationID string) (string, bool) {
	a, b, ok := DMMembers(conversationID)
	if !ok {
		return "", false
	}
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// IsDirectMember reports whether userID is one of the two DM participants.
func IsDirectMember(userID, conversationID string) bool {
	a, b, ok := DMMembers(conversationID)
	return ok && (a == userID || b == userID)
}

// FeedPath is the live-store location of a conversation's message feed.
func FeedPath(conversationID string) string {
	return "conversations/" + conversationID + "/messages"
}

// MembershipPath is the live-store location of a user's conversation list.
func MembershipPath(userID string) string {
	return "users/" + userID + "/conversations"
}
