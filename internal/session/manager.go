package session

import (
	"errors"
	"sync"

	"huddle/internal/auth"
	"huddle/internal/live"
	"huddle/internal/models"
	"huddle/internal/presence"
)

// TokenEvents is the slice of the identity provider the manager listens
// to for revocations, so evicted arbitrators do not linger.
type TokenEvents interface {
	OnPrincipalChanged(fn func(auth.PrincipalEvent)) func()
}

// Manager runs one Arbitrator per signed-in device. Login creates the
// arbitrator and runs the claim; Logout finds it by the bearer token it
// issued. Eviction removes the entry through the identity revocation
// event, since the winning device never holds the loser's token.
type Manager struct {
	identity Identity
	store    Store
	liveS    *live.Store
	tracker  *presence.Tracker

	mu sync.Mutex
	// auth token -> arbitrator for that device's session
	byToken map[string]*Arbitrator

	unsubscribe func()
}

func NewManager(identity Identity, store Store, liveStore *live.Store, tracker *presence.Tracker) *Manager {
	return &Manager{
		identity: identity,
		store:    store,
		liveS:    liveStore,
		tracker:  tracker,
		byToken:  make(map[string]*Arbitrator),
	}
}

// WatchRevocations registers the cleanup listener. Call once at startup.
func (m *Manager) WatchRevocations(events TokenEvents) {
	m.unsubscribe = events.OnPrincipalChanged(func(ev auth.PrincipalEvent) {
		if ev.SignedIn {
			return
		}
		m.mu.Lock()
		delete(m.byToken, ev.Token)
		m.mu.Unlock()
	})
}

func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// LoginResult carries what a device needs to persist after a successful
// login: the bearer token for requests and the device token to present on
// its next login so it can reclaim its own session without conflict.
type LoginResult struct {
	User        models.User
	Token       string
	DeviceToken string
}

// Login runs the full arbitration for one device. deviceToken may be
// empty for a first-time device; the minted token comes back in the
// result. models.ErrSessionConflict means another device holds the
// account and nothing was changed.
func (m *Manager) Login(email, password, deviceToken string) (LoginResult, error) {
	arb := NewArbitrator(m.identity, m.store, m.liveS, m.tracker)
	if deviceToken != "" {
		arb.SetDeviceToken(deviceToken)
	}

	user, token, err := arb.Login(email, password)
	if err != nil {
		return LoginResult{}, err
	}

	m.mu.Lock()
	m.byToken[token] = arb
	m.mu.Unlock()

	return LoginResult{
		User:        user,
		Token:       token,
		DeviceToken: arb.DeviceToken(),
	}, nil
}

// Logout ends the session behind the bearer token. Unknown tokens are a
// no-op: the session may already have been evicted.
func (m *Manager) Logout(token string) error {
	m.mu.Lock()
	arb := m.byToken[token]
	delete(m.byToken, token)
	m.mu.Unlock()
	if arb == nil {
		return m.identity.SignOut(token)
	}
	return arb.Logout()
}

// TakeOver forces the login through even when another device holds the
// session: the previous holder's record is overwritten, which its watch
// observes as an eviction.
func (m *Manager) TakeOver(email, password, deviceToken string) (LoginResult, error) {
	res, err := m.Login(email, password, deviceToken)
	if err == nil || !errors.Is(err, models.ErrSessionConflict) {
		return res, err
	}

	arb := NewArbitrator(m.identity, m.store, m.liveS, m.tracker)
	if deviceToken != "" {
		arb.SetDeviceToken(deviceToken)
	}
	user, token, err := arb.ForceLogin(email, password)
	if err != nil {
		return LoginResult{}, err
	}
	m.mu.Lock()
	m.byToken[token] = arb
	m.mu.Unlock()
	return LoginResult{
		User:        user,
		Token:       token,
		DeviceToken: arb.DeviceToken(),
	}, nil
}
