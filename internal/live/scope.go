package live

import "sync"

// Scope owns a set of subscriptions and closes them together when the
// parent lifetime ends (a connection, a selected conversation). Adding to
// a closed scope closes the handle immediately.
type Scope struct {
	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

func NewScope() *Scope {
	return &Scope{}
}

func (s *Scope) Add(sub *Subscription) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

func (s *Scope) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
