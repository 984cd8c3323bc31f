package session

import (
	"errors"
	"testing"

	"huddle/internal/auth"
	"huddle/internal/models"
)

type fakeTokenEvents struct {
	listener func(auth.PrincipalEvent)
}

func (f *fakeTokenEvents) OnPrincipalChanged(fn func(auth.PrincipalEvent)) func() {
	f.listener = fn
	return func() { f.listener = nil }
}

func TestManager(t *testing.T) {
	t.Run("LoginAndLogout", func(t *testing.T) {
		identity, store, liveStore, tracker := newFixture()
		m := NewManager(identity, store, liveStore, tracker)

		res, err := m.Login("alice@example.com", "secret1", "")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if res.Token == "" || res.DeviceToken == "" {
			t.Fatalf("incomplete login result: %+v", res)
		}
		if got := store.current("u1"); got != res.DeviceToken {
			t.Errorf("session record %q, want %q", got, res.DeviceToken)
		}

		if err := m.Logout(res.Token); err != nil {
			t.Fatalf("Logout failed: %v", err)
		}
		if got := store.current("u1"); got != "" {
			t.Errorf("logout left session record %q", got)
		}
		if tracker.Status("u1") != models.StatusOffline {
			t.Errorf("expected offline after logout")
		}
	})

	t.Run("LogoutUnknownToken", func(t *testing.T) {
		identity, store, liveStore, tracker := newFixture()
		m := NewManager(identity, store, liveStore, tracker)

		// No arbitrator for the token, so only the identity sign-out runs.
		if err := m.Logout("stale-token"); err != nil {
			t.Fatalf("Logout failed: %v", err)
		}
		revoked := identity.revoked()
		if len(revoked) != 1 || revoked[0] != "stale-token" {
			t.Errorf("expected stale token revoked, got %v", revoked)
		}
	})

	t.Run("SecondDeviceConflict", func(t *testing.T) {
		identity, store, liveStore, tracker := newFixture()
		m := NewManager(identity, store, liveStore, tracker)

		first, err := m.Login("alice@example.com", "secret1", "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.Login("alice@example.com", "secret1", ""); !errors.Is(err, models.ErrSessionConflict) {
			t.Fatalf("expected ErrSessionConflict, got %v", err)
		}
		if got := store.current("u1"); got != first.DeviceToken {
			t.Errorf("conflict changed the session record to %q", got)
		}
	})

	t.Run("TakeOver", func(t *testing.T) {
		identity, store, liveStore, tracker := newFixture()
		m := NewManager(identity, store, liveStore, tracker)

		if _, err := m.Login("alice@example.com", "secret1", ""); err != nil {
			t.Fatal(err)
		}
		res, err := m.TakeOver("alice@example.com", "secret1", "")
		if err != nil {
			t.Fatalf("TakeOver failed: %v", err)
		}
		if got := store.current("u1"); got != res.DeviceToken {
			t.Errorf("takeover did not claim the record: %q vs %q", got, res.DeviceToken)
		}
		if tracker.Status("u1") != models.StatusOnline {
			t.Errorf("expected winner online, got %s", tracker.Status("u1"))
		}
	})

	t.Run("TakeOverWithoutHolder", func(t *testing.T) {
		identity, store, liveStore, tracker := newFixture()
		m := NewManager(identity, store, liveStore, tracker)

		// TakeOver on a free account is just a login, no forced claim.
		res, err := m.TakeOver("alice@example.com", "secret1", "")
		if err != nil {
			t.Fatalf("TakeOver failed: %v", err)
		}
		if got := store.current("u1"); got != res.DeviceToken {
			t.Errorf("session record %q, want %q", got, res.DeviceToken)
		}
	})

	t.Run("RevocationRemovesArbitrator", func(t *testing.T) {
		identity, store, liveStore, tracker := newFixture()
		m := NewManager(identity, store, liveStore, tracker)
		events := &fakeTokenEvents{}
		m.WatchRevocations(events)
		defer m.Close()

		res, err := m.Login("alice@example.com", "secret1", "")
		if err != nil {
			t.Fatal(err)
		}

		events.listener(auth.PrincipalEvent{UserID: "u1", Token: res.Token, SignedIn: false})
		m.mu.Lock()
		_, ok := m.byToken[res.Token]
		m.mu.Unlock()
		if ok {
			t.Error("revoked token still mapped to an arbitrator")
		}

		// Logout after revocation falls back to the identity sign-out.
		if err := m.Logout(res.Token); err != nil {
			t.Errorf("Logout after revocation errored: %v", err)
		}
	})
}
