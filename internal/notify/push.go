// Package notify delivers web push notifications for messages posted
// while the recipient has no live connection.
package notify

import (
	"encoding/json"
	"log/slog"
	"strings"
	"unicode/utf8"

	"huddle/internal/chat"
	"huddle/internal/models"
	"huddle/internal/presence"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type SubscriptionStore interface {
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(endpoint string) error
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string // contact mailto/URL for the push service
	BaseURL         string // public server URL the notification links back to
}

// Pusher sends a push to every registered endpoint of each conversation
// participant who is currently offline. Send failures are logged, never
// surfaced; a 404/410 from the push service drops the subscription.
type Pusher struct {
	cfg     Config
	store   SubscriptionStore
	tracker *presence.Tracker

	send func(sub *webpush.Subscription, payload []byte, opts *webpush.Options) (int, error)
}

func NewPusher(cfg Config, store SubscriptionStore, tracker *presence.Tracker) *Pusher {
	return &Pusher{
		cfg:     cfg,
		store:   store,
		tracker: tracker,
		send: func(sub *webpush.Subscription, payload []byte, opts *webpush.Options) (int, error) {
			resp, err := webpush.SendNotification(payload, sub, opts)
			if err != nil {
				return 0, err
			}
			defer func() { _ = resp.Body.Close() }()
			return resp.StatusCode, nil
		},
	}
}

type pushPayload struct {
	ConversationID string `json:"conversationId"`
	SenderName     string `json:"senderName"`
	Preview        string `json:"preview"`
	Link           string `json:"link,omitempty"`
}

// MessagePosted implements chat.Notifier.
func (p *Pusher) MessagePosted(conv models.Conversation, msg models.Message) {
	if p.cfg.VAPIDPrivateKey == "" {
		return
	}

	recipients := conv.Members
	if a, b, ok := chat.DMMembers(conv.ID); ok {
		recipients = []string{a, b}
	}

	payload, err := json.Marshal(pushPayload{
		ConversationID: msg.ConversationID,
		SenderName:     msg.SenderName,
		Preview:        truncatePreview(msg.Content, 120),
		Link:           p.conversationLink(msg.ConversationID),
	})
	if err != nil {
		return
	}

	for _, userID := range recipients {
		if userID == msg.SenderID {
			continue
		}
		if p.tracker.Status(userID) != models.StatusOffline {
			continue
		}
		p.pushTo(userID, payload)
	}
}

// truncatePreview cuts the preview at max bytes without splitting a
// multi-byte rune, so the JSON payload stays valid UTF-8.
func truncatePreview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (p *Pusher) conversationLink(conversationID string) string {
	if p.cfg.BaseURL == "" {
		return ""
	}
	return strings.TrimSuffix(p.cfg.BaseURL, "/") + "/conversations/" + conversationID
}

func (p *Pusher) pushTo(userID string, payload []byte) {
	subs, err := p.store.ListPushSubscriptions(userID)
	if err != nil {
		slog.Error("failed to list push subscriptions", "user_id", userID, "error", err)
		return
	}
	for _, sub := range subs {
		status, err := p.send(&webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, payload, &webpush.Options{
			Subscriber:      p.cfg.Subscriber,
			VAPIDPublicKey:  p.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: p.cfg.VAPIDPrivateKey,
			TTL:             60,
		})
		if err != nil {
			slog.Error("push send failed", "user_id", userID, "error", err)
			continue
		}
		if status == 404 || status == 410 {
			// Endpoint expired on the push service side.
			_ = p.store.DeletePushSubscription(sub.Endpoint)
		}
	}
}
