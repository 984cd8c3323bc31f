package chat

import (
	"errors"
	"log/slog"
	"sync"

	"huddle/internal/live"
	"huddle/internal/models"
)

// Aggregator maintains one viewer's live unread counts. It subscribes to
// the message feed of every conversation the viewer belongs to, recomputes
// the count on each feed notification, and issues the batched mark-read
// write for whichever conversation the viewer has focused.
//
// Counts for different conversations update independently; there is no
// cross-conversation ordering.
type Aggregator struct {
	viewerID string
	svc      *Service
	store    *live.Store
	onUnread func(conversationID string, count int)

	mu      sync.Mutex
	focused string
	subs    map[string]*live.Subscription
	counts  map[string]int
	closed  bool
}

// NewAggregator starts aggregation for the viewer. onUnread fires on every
// count change; it must not call back into the aggregator synchronously.
func NewAggregator(viewerID string, svc *Service, store *live.Store, onUnread func(conversationID string, count int)) *Aggregator {
	return &Aggregator{
		viewerID: viewerID,
		svc:      svc,
		store:    store,
		onUnread: onUnread,
		subs:     make(map[string]*live.Subscription),
		counts:   make(map[string]int),
	}
}

// SetMembership replaces the set of aggregated conversations. Removed
// conversations get their subscription disposed and their unread entry
// dropped; added ones get an initial recompute and a feed subscription.
// Calling it again with the same set is a no-op.
func (ag *Aggregator) SetMembership(conversationIDs []string) {
	wanted := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		wanted[id] = true
	}

	ag.mu.Lock()
	if ag.closed {
		ag.mu.Unlock()
		return
	}
	var stale []*live.Subscription
	for id, sub := range ag.subs {
		if !wanted[id] {
			stale = append(stale, sub)
			delete(ag.subs, id)
			delete(ag.counts, id)
		}
	}
	var added []string
	for id := range wanted {
		if _, ok := ag.subs[id]; !ok {
			added = append(added, id)
		}
	}
	ag.mu.Unlock()

	for _, sub := range stale {
		sub.Close()
	}
	for _, id := range added {
		ag.subscribe(id)
	}
}

func (ag *Aggregator) subscribe(conversationID string) {
	sub := ag.store.Subscribe(FeedPath(conversationID), func(value any) {
		// The event itself only signals a change; the count is always
		// recomputed from the full feed, like a fresh snapshot.
		ag.recompute(conversationID)
	})

	ag.mu.Lock()
	if ag.closed || ag.subs[conversationID] != nil {
		ag.mu.Unlock()
		sub.Close()
		return
	}
	ag.subs[conversationID] = sub
	ag.mu.Unlock()

	// The snapshot delivered during Subscribe ran before the handle was
	// registered, so compute the initial count now.
	ag.recompute(conversationID)
}

// recompute recounts unread messages for the conversation and, when it is
// the focused one, marks everything read and reports zero instead.
func (ag *Aggregator) recompute(conversationID string) {
	msgs, err := ag.svc.Messages(ag.viewerID, conversationID, 1, int64(1)<<62)
	if err != nil {
		if errors.Is(err, models.ErrPermissionDenied) || errors.Is(err, models.ErrNotFound) {
			// Access revoked mid-session: drop the entry and dispose the
			// subscription without surfacing an error.
			ag.drop(conversationID)
			return
		}
		slog.Error("unread recompute failed", "conversation_id", conversationID, "error", err)
		return
	}

	var unreadSeqs []int64
	count := 0
	for _, m := range msgs {
		if m.UnreadFor(ag.viewerID) {
			count++
		}
		if !m.ReadBy[ag.viewerID] {
			unreadSeqs = append(unreadSeqs, m.Seq)
		}
	}

	ag.mu.Lock()
	if ag.closed {
		ag.mu.Unlock()
		return
	}
	if _, ok := ag.subs[conversationID]; !ok {
		ag.mu.Unlock()
		return
	}
	focused := ag.focused == conversationID
	if focused {
		// The focused conversation always reports zero; the messages are
		// marked read below instead of being counted.
		count = 0
	}
	changed := ag.counts[conversationID] != count
	ag.counts[conversationID] = count
	ag.mu.Unlock()

	if focused && len(unreadSeqs) > 0 {
		if err := ag.svc.MarkRead(ag.viewerID, conversationID, unreadSeqs); err != nil &&
			!errors.Is(err, models.ErrPermissionDenied) {
			slog.Error("mark read failed", "conversation_id", conversationID, "error", err)
		}
	}
	if changed && ag.onUnread != nil {
		ag.onUnread(conversationID, count)
	}
}

func (ag *Aggregator) drop(conversationID string) {
	ag.mu.Lock()
	sub := ag.subs[conversationID]
	delete(ag.subs, conversationID)
	delete(ag.counts, conversationID)
	ag.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Focus marks the conversation as the one the viewer has open. Its unread
// count is reported as zero and pending messages are marked read at once.
// An empty ID clears focus.
func (ag *Aggregator) Focus(conversationID string) {
	ag.mu.Lock()
	ag.focused = conversationID
	ag.mu.Unlock()
	if conversationID != "" {
		ag.recompute(conversationID)
	}
}

// Counts returns a copy of the current unread count per conversation.
func (ag *Aggregator) Counts() map[string]int {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	out := make(map[string]int, len(ag.counts))
	for id, c := range ag.counts {
		out[id] = c
	}
	return out
}

// Close disposes every feed subscription.
func (ag *Aggregator) Close() {
	ag.mu.Lock()
	subs := ag.subs
	ag.subs = make(map[string]*live.Subscription)
	ag.closed = true
	ag.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
