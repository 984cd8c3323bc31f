package models

import "testing"

func TestDecodeStatus(t *testing.T) {
	cases := []struct {
		name string
		raw  any
		want Status
	}{
		{"online string", "online", StatusOnline},
		{"onBreak string", "onBreak", StatusOnBreak},
		{"offline string", "offline", StatusOffline},
		{"status value", StatusOnBreak, StatusOnBreak},
		{"legacy true", true, StatusOnline},
		{"legacy false", false, StatusOffline},
		{"nil", nil, StatusOffline},
		{"garbage string", "away", StatusOffline},
		{"garbage type", 42, StatusOffline},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DecodeStatus(tc.raw); got != tc.want {
				t.Errorf("DecodeStatus(%v) = %s, want %s", tc.raw, got, tc.want)
			}
		})
	}
}

func TestMessageUnreadFor(t *testing.T) {
	msg := Message{
		SenderID: "alice",
		ReadBy:   map[string]bool{"bob": true},
	}

	if msg.UnreadFor("alice") {
		t.Error("a sender's own message must never be unread for them")
	}
	if msg.UnreadFor("bob") {
		t.Error("message read by bob must not be unread for bob")
	}
	if !msg.UnreadFor("carol") {
		t.Error("message not read by carol must be unread for carol")
	}

	// No ReadBy map at all.
	bare := Message{SenderID: "alice"}
	if !bare.UnreadFor("bob") {
		t.Error("message without read receipts must be unread for others")
	}
	if bare.UnreadFor("alice") {
		t.Error("message without read receipts must not be unread for the sender")
	}
}
