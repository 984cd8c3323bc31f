// Package session enforces single-session-per-account login arbitration.
// Each Arbitrator instance represents one device: it authenticates against
// the identity provider, claims the account's session record with a
// compare-and-set, and watches the record to detect takeover by another
// device.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"huddle/internal/live"
	"huddle/internal/models"
	"huddle/internal/presence"

	"github.com/google/uuid"
)

type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateArbitrating    State = "arbitrating"
	StateActive         State = "active"
	StateEvicted        State = "evicted"
)

// Path is the live-store location of one account's session record.
func Path(userID string) string {
	return "sessions/" + userID
}

// Identity is the external identity provider collaborator.
type Identity interface {
	Authenticate(email, password string) (models.User, string, error)
	SignOut(token string) error
}

// Store is the transactional session record store. ClaimSession must
// perform its read and conditional write as one indivisible transaction.
type Store interface {
	ClaimSession(userID, deviceToken string, now time.Time) (models.Session, error)
	TakeOverSession(userID, deviceToken string, now time.Time) (models.Session, error)
	ReleaseSession(userID, deviceToken string) error
}

// Notice is surfaced to the user when a session ends. Evicted
// distinguishes "signed in elsewhere" from a manual sign-out, which does
// not produce a notice at all.
type Notice struct {
	Evicted bool
	Message string
}

type Arbitrator struct {
	identity Identity
	store    Store
	liveS    *live.Store
	tracker  *presence.Tracker
	now      func() time.Time

	mu          sync.Mutex
	state       State
	user        models.User
	authToken   string
	deviceToken string
	watch       *live.Subscription

	notices chan Notice
}

func NewArbitrator(identity Identity, store Store, liveStore *live.Store, tracker *presence.Tracker) *Arbitrator {
	return &Arbitrator{
		identity: identity,
		store:    store,
		liveS:    liveStore,
		tracker:  tracker,
		now:      time.Now,
		state:    StateAnonymous,
		notices:  make(chan Notice, 4),
	}
}

// MintDeviceToken generates the device-scoped opaque token persisted by a
// client and reused across logins. UUID v4 from the secure source, with a
// pseudo-random fallback when no secure randomness is available.
func MintDeviceToken() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	return fallbackDeviceToken()
}

// Login authenticates and performs the session compare-and-set. On
// models.ErrSessionConflict the just-issued identity token is revoked
// before returning, leaving the caller anonymous. One transaction attempt
// per call; transaction failures surface to the caller unretried.
func (a *Arbitrator) Login(email, password string) (models.User, string, error) {
	return a.login(email, password, a.store.ClaimSession)
}

// ForceLogin claims the session unconditionally, displacing whichever
// device currently holds it. The loser's record watch observes the
// overwrite as an eviction.
func (a *Arbitrator) ForceLogin(email, password string) (models.User, string, error) {
	return a.login(email, password, a.store.TakeOverSession)
}

func (a *Arbitrator) login(email, password string, claim func(userID, deviceToken string, now time.Time) (models.Session, error)) (models.User, string, error) {
	a.mu.Lock()
	if a.state == StateActive {
		a.mu.Unlock()
		return models.User{}, "", errors.New("already logged in")
	}
	a.state = StateAuthenticating
	a.mu.Unlock()

	user, token, err := a.identity.Authenticate(email, password)
	if err != nil {
		a.setState(StateAnonymous)
		return models.User{}, "", err
	}

	a.mu.Lock()
	a.state = StateArbitrating
	if a.deviceToken == "" {
		a.deviceToken = MintDeviceToken()
	}
	deviceToken := a.deviceToken
	a.mu.Unlock()

	session, err := claim(user.ID, deviceToken, a.now())
	if err != nil {
		if signOutErr := a.identity.SignOut(token); signOutErr != nil {
			slog.Error("failed to revoke identity session", "user_id", user.ID, "error", signOutErr)
		}
		a.setState(StateAnonymous)
		if errors.Is(err, models.ErrSessionConflict) {
			return models.User{}, "", models.ErrSessionConflict
		}
		return models.User{}, "", fmt.Errorf("session claim failed: %w", err)
	}

	a.mu.Lock()
	a.state = StateActive
	a.user = user
	a.authToken = token
	a.mu.Unlock()

	// Publish the claimed record and start watching for takeover before
	// anything else can overwrite it.
	a.liveS.Set(Path(user.ID), session.SessionID)
	a.observeEviction(user.ID)

	a.tracker.Connected(deviceToken, user.ID)
	a.liveS.OnDisconnect(deviceToken, Path(user.ID), nil)

	return user, token, nil
}

// observeEviction subscribes to the account's session record. A non-empty
// observed token that differs from this device's token means another
// device displaced us.
func (a *Arbitrator) observeEviction(userID string) {
	a.mu.Lock()
	old := a.watch
	a.watch = nil
	deviceToken := a.deviceToken
	a.mu.Unlock()
	if old != nil {
		old.Close()
	}

	// Subscribe outside the lock: the initial snapshot callback fires
	// synchronously and may need to take it.
	watch := a.liveS.Subscribe(Path(userID), func(value any) {
		stored, ok := value.(string)
		if !ok || stored == "" || stored == deviceToken {
			return
		}
		a.evict()
	})

	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		watch.Close()
		return
	}
	a.watch = watch
	a.mu.Unlock()
}

func (a *Arbitrator) evict() {
	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		return
	}
	a.state = StateEvicted
	user := a.user
	token := a.authToken
	watch := a.watch
	a.watch = nil
	// The local device token is cleared so the next login mints a fresh
	// one instead of racing the winner with the stale identity.
	a.deviceToken = ""
	a.authToken = ""
	a.mu.Unlock()

	if watch != nil {
		watch.Close()
	}
	if err := a.identity.SignOut(token); err != nil {
		slog.Error("failed to revoke identity session on eviction", "user_id", user.ID, "error", err)
	}
	a.tracker.SetStatus(user.ID, models.StatusOffline)

	select {
	case a.notices <- Notice{Evicted: true, Message: "Your account was signed in on another device."}:
	default:
	}

	a.setState(StateAnonymous)
	slog.Info("session evicted", "user_id", user.ID)
}

// Logout is the explicit, user-initiated sign-out. It clears the session
// record, flips presence offline and revokes the identity token. It never
// produces the eviction notice.
func (a *Arbitrator) Logout() error {
	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		return nil
	}
	user := a.user
	token := a.authToken
	deviceToken := a.deviceToken
	watch := a.watch
	a.watch = nil
	a.deviceToken = ""
	a.authToken = ""
	a.state = StateAnonymous
	a.mu.Unlock()

	// Close the watch first so clearing the record below cannot be taken
	// for an eviction.
	if watch != nil {
		watch.Close()
	}

	if err := a.store.ReleaseSession(user.ID, deviceToken); err != nil {
		return fmt.Errorf("failed to release session: %w", err)
	}
	a.liveS.CancelDisconnects(deviceToken)
	a.liveS.Set(Path(user.ID), nil)
	a.tracker.SetStatus(user.ID, models.StatusOffline)

	if err := a.identity.SignOut(token); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// Notices delivers session-end notices (currently only evictions).
func (a *Arbitrator) Notices() <-chan Notice {
	return a.notices
}

func (a *Arbitrator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// DeviceToken exposes the minted device token so a client can persist it.
func (a *Arbitrator) DeviceToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deviceToken
}

// SetDeviceToken restores a previously persisted device token, as a client
// does on startup before its first login.
func (a *Arbitrator) SetDeviceToken(token string) {
	a.mu.Lock()
	a.deviceToken = token
	a.mu.Unlock()
}

func (a *Arbitrator) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}
