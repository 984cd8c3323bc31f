// Package presence maintains the per-account tri-state status records in
// the live store and hands out watch handles for them.
package presence

import (
	"sync"

	"huddle/internal/live"
	"huddle/internal/models"
)

// Path is the live-store location of one account's status record.
func Path(userID string) string {
	return "status/" + userID
}

type Tracker struct {
	store *live.Store
}

func NewTracker(store *live.Store) *Tracker {
	return &Tracker{store: store}
}

// SetStatus writes the account's status. Best-effort last-writer-wins.
func (t *Tracker) SetStatus(userID string, status models.Status) {
	t.store.Set(Path(userID), string(status))
}

// Status returns the account's current status, decoding legacy values.
func (t *Tracker) Status(userID string) models.Status {
	raw, _ := t.store.Get(Path(userID))
	return models.DecodeStatus(raw)
}

// Connected marks the account online and registers the on-disconnect
// fallback that flips it offline when the client's connection drops.
func (t *Tracker) Connected(clientID, userID string) {
	t.store.Set(Path(userID), string(models.StatusOnline))
	t.store.OnDisconnect(clientID, Path(userID), string(models.StatusOffline))
}

// Watch subscribes to one account's status. Every raw value is decoded
// before fn sees it. Handles are independent: closing one watch for a user
// leaves other watches of the same user delivering.
func (t *Tracker) Watch(userID string, fn func(models.Status)) *live.Subscription {
	return t.store.Subscribe(Path(userID), func(value any) {
		fn(models.DecodeStatus(value))
	})
}

// WatchSet tracks the statuses of a changing set of visible users. Update
// diffs the wanted set against current watches, opening new ones and
// closing stale ones, so repeated calls with an unchanged set are no-ops.
type WatchSet struct {
	tracker  *Tracker
	onChange func(userID string, status models.Status)

	mu       sync.Mutex
	watches  map[string]*live.Subscription
	statuses map[string]models.Status
	closed   bool
}

func (t *Tracker) NewWatchSet(onChange func(userID string, status models.Status)) *WatchSet {
	return &WatchSet{
		tracker:  t,
		onChange: onChange,
		watches:  make(map[string]*live.Subscription),
		statuses: make(map[string]models.Status),
	}
}

// Update replaces the watched user set with userIDs.
func (ws *WatchSet) Update(userIDs []string) {
	wanted := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}

	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return
	}
	var stale []*live.Subscription
	for id, sub := range ws.watches {
		if !wanted[id] {
			stale = append(stale, sub)
			delete(ws.watches, id)
			delete(ws.statuses, id)
		}
	}
	var added []string
	for id := range wanted {
		if _, ok := ws.watches[id]; !ok {
			added = append(added, id)
		}
	}
	ws.mu.Unlock()

	for _, sub := range stale {
		sub.Close()
	}
	for _, id := range added {
		userID := id
		sub := ws.tracker.Watch(userID, func(status models.Status) {
			ws.mu.Lock()
			if ws.closed || ws.statuses[userID] == status {
				ws.mu.Unlock()
				return
			}
			ws.statuses[userID] = status
			ws.mu.Unlock()
			if ws.onChange != nil {
				ws.onChange(userID, status)
			}
		})
		ws.mu.Lock()
		if ws.closed {
			ws.mu.Unlock()
			sub.Close()
			continue
		}
		ws.watches[userID] = sub
		ws.mu.Unlock()
	}
}

// Statuses returns a copy of the last seen status per watched user.
func (ws *WatchSet) Statuses() map[string]models.Status {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make(map[string]models.Status, len(ws.statuses))
	for id, st := range ws.statuses {
		out[id] = st
	}
	return out
}

func (ws *WatchSet) Close() {
	ws.mu.Lock()
	watches := ws.watches
	ws.watches = make(map[string]*live.Subscription)
	ws.closed = true
	ws.mu.Unlock()
	for _, sub := range watches {
		sub.Close()
	}
}
