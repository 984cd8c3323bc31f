// Package live is the in-process realtime key-value store. It keeps the
// last value written to every path and notifies path subscribers on each
// write. Clients can register on-disconnect fallback writes that the store
// applies when their connection drops, which is how presence flips to
// offline without a clean logout.
package live

import (
	"sync"

	"github.com/c-pro/geche"
)

type Store struct {
	values geche.Geche[string, any]

	mu     sync.RWMutex
	subs   map[string]map[int]*Subscription
	nextID int

	// clientID -> fallback writes applied on disconnect
	disconnects map[string][]fallbackWrite
}

type fallbackWrite struct {
	path  string
	value any
}

// Subscription is an owned handle for one live subscription. Callers must
// Close it when the owning scope ends or the callback keeps firing.
type Subscription struct {
	store *Store
	path  string
	id    int
	fn    func(value any)

	once sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		if subs, ok := s.store.subs[s.path]; ok {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.store.subs, s.path)
			}
		}
	})
}

func NewStore() *Store {
	return &Store{
		values:      geche.NewMapCache[string, any](),
		subs:        make(map[string]map[int]*Subscription),
		disconnects: make(map[string][]fallbackWrite),
	}
}

// Set writes the value for the path and notifies all path subscribers.
// Writing nil clears the stored value but still notifies.
func (st *Store) Set(path string, value any) {
	if value == nil {
		_ = st.values.Del(path)
	} else {
		st.values.Set(path, value)
	}

	st.mu.RLock()
	fns := make([]func(any), 0, len(st.subs[path]))
	for _, sub := range st.subs[path] {
		fns = append(fns, sub.fn)
	}
	st.mu.RUnlock()

	// Callbacks run outside the lock so they may subscribe or close handles.
	for _, fn := range fns {
		fn(value)
	}
}

// Get returns the last value written to the path.
func (st *Store) Get(path string) (any, bool) {
	v, err := st.values.Get(path)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Subscribe registers fn for every future write to the path and invokes it
// once immediately with the current value (nil if none), matching
// snapshot-then-updates semantics. Subscriptions are independent: two
// subscribers to one path each get their own handle.
func (st *Store) Subscribe(path string, fn func(value any)) *Subscription {
	st.mu.Lock()
	sub := &Subscription{store: st, path: path, id: st.nextID, fn: fn}
	st.nextID++
	if st.subs[path] == nil {
		st.subs[path] = make(map[int]*Subscription)
	}
	st.subs[path][sub.id] = sub
	st.mu.Unlock()

	current, _ := st.Get(path)
	fn(current)

	return sub
}

// OnDisconnect registers a fallback write applied when the client's
// connection drops. Multiple registrations stack; Disconnect applies them
// in registration order.
func (st *Store) OnDisconnect(clientID, path string, value any) {
	st.mu.Lock()
	st.disconnects[clientID] = append(st.disconnects[clientID], fallbackWrite{path: path, value: value})
	st.mu.Unlock()
}

// CancelDisconnects drops the client's registered fallback writes without
// applying them. Used on clean logout, where the client already wrote its
// final values itself.
func (st *Store) CancelDisconnects(clientID string) {
	st.mu.Lock()
	delete(st.disconnects, clientID)
	st.mu.Unlock()
}

// Disconnect applies and clears the client's fallback writes.
func (st *Store) Disconnect(clientID string) {
	st.mu.Lock()
	writes := st.disconnects[clientID]
	delete(st.disconnects, clientID)
	st.mu.Unlock()

	for _, w := range writes {
		st.Set(w.path, w.value)
	}
}
