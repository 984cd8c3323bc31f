package presence

import (
	"testing"

	"huddle/internal/live"
	"huddle/internal/models"
)

func TestTrackerStatus(t *testing.T) {
	store := live.NewStore()
	tracker := NewTracker(store)

	if got := tracker.Status("u1"); got != models.StatusOffline {
		t.Errorf("expected offline for unknown user, got %s", got)
	}

	tracker.SetStatus("u1", models.StatusOnline)
	if got := tracker.Status("u1"); got != models.StatusOnline {
		t.Errorf("expected online, got %s", got)
	}

	tracker.SetStatus("u1", models.StatusOnBreak)
	if got := tracker.Status("u1"); got != models.StatusOnBreak {
		t.Errorf("expected onBreak, got %s", got)
	}
}

func TestTrackerDecodesLegacyBooleans(t *testing.T) {
	store := live.NewStore()
	tracker := NewTracker(store)

	// Records written by old clients hold booleans instead of strings.
	store.Set(Path("u1"), true)
	if got := tracker.Status("u1"); got != models.StatusOnline {
		t.Errorf("expected legacy true to decode online, got %s", got)
	}
	store.Set(Path("u1"), false)
	if got := tracker.Status("u1"); got != models.StatusOffline {
		t.Errorf("expected legacy false to decode offline, got %s", got)
	}

	var seen []models.Status
	sub := tracker.Watch("u1", func(s models.Status) { seen = append(seen, s) })
	defer sub.Close()
	store.Set(Path("u1"), true)
	if len(seen) != 2 || seen[1] != models.StatusOnline {
		t.Errorf("watch did not decode legacy value: %v", seen)
	}
}

func TestConnectedDisconnectFallback(t *testing.T) {
	store := live.NewStore()
	tracker := NewTracker(store)

	tracker.Connected("conn1", "u1")
	if got := tracker.Status("u1"); got != models.StatusOnline {
		t.Fatalf("expected online after connect, got %s", got)
	}

	// Dropping the connection flips the status without a clean logout.
	store.Disconnect("conn1")
	if got := tracker.Status("u1"); got != models.StatusOffline {
		t.Errorf("expected offline after disconnect, got %s", got)
	}
}

func TestWatchesAreIndependent(t *testing.T) {
	store := live.NewStore()
	tracker := NewTracker(store)

	var a, b []models.Status
	subA := tracker.Watch("u1", func(s models.Status) { a = append(a, s) })
	subB := tracker.Watch("u1", func(s models.Status) { b = append(b, s) })

	tracker.SetStatus("u1", models.StatusOnline)
	subA.Close()
	tracker.SetStatus("u1", models.StatusOnBreak)

	if len(a) != 2 {
		t.Errorf("closed watch saw %d updates, want 2", len(a))
	}
	if len(b) != 3 || b[2] != models.StatusOnBreak {
		t.Errorf("remaining watch missed updates: %v", b)
	}
	subB.Close()
}

func TestWatchSet(t *testing.T) {
	store := live.NewStore()
	tracker := NewTracker(store)

	type change struct {
		userID string
		status models.Status
	}
	var changes []change
	ws := tracker.NewWatchSet(func(userID string, status models.Status) {
		changes = append(changes, change{userID, status})
	})
	defer ws.Close()

	tracker.SetStatus("u1", models.StatusOnline)
	ws.Update([]string{"u1", "u2"})

	statuses := ws.Statuses()
	if statuses["u1"] != models.StatusOnline || statuses["u2"] != models.StatusOffline {
		t.Errorf("unexpected initial statuses: %v", statuses)
	}

	// Duplicate statuses are suppressed.
	before := len(changes)
	tracker.SetStatus("u2", models.StatusOffline)
	if len(changes) != before {
		t.Errorf("duplicate status produced a change notification")
	}

	tracker.SetStatus("u2", models.StatusOnline)
	if len(changes) != before+1 {
		t.Fatalf("expected one change, got %d", len(changes)-before)
	}
	last := changes[len(changes)-1]
	if last.userID != "u2" || last.status != models.StatusOnline {
		t.Errorf("unexpected change: %+v", last)
	}

	// Removing a user from the set stops its watch.
	ws.Update([]string{"u1"})
	before = len(changes)
	tracker.SetStatus("u2", models.StatusOnBreak)
	if len(changes) != before {
		t.Error("removed user still watched")
	}
	if _, ok := ws.Statuses()["u2"]; ok {
		t.Error("removed user still in statuses")
	}

	// Re-running with the same set is a no-op.
	ws.Update([]string{"u1"})
}
