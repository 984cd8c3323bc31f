package live

import "testing"

func TestStoreSetGet(t *testing.T) {
	st := NewStore()

	if _, ok := st.Get("status/u1"); ok {
		t.Error("expected no value for unwritten path")
	}

	st.Set("status/u1", "online")
	v, ok := st.Get("status/u1")
	if !ok || v != "online" {
		t.Errorf("expected online, got %v (ok=%v)", v, ok)
	}

	// nil clears the stored value
	st.Set("status/u1", nil)
	if _, ok := st.Get("status/u1"); ok {
		t.Error("expected value cleared after nil write")
	}
}

func TestSubscribeSnapshotThenUpdates(t *testing.T) {
	st := NewStore()
	st.Set("p", "first")

	var got []any
	sub := st.Subscribe("p", func(v any) { got = append(got, v) })
	defer sub.Close()

	if len(got) != 1 || got[0] != "first" {
		t.Fatalf("expected immediate snapshot [first], got %v", got)
	}

	st.Set("p", "second")
	if len(got) != 2 || got[1] != "second" {
		t.Fatalf("expected update delivered, got %v", got)
	}
}

func TestSubscriptionsAreIndependent(t *testing.T) {
	st := NewStore()

	var a, b int
	subA := st.Subscribe("p", func(any) { a++ })
	subB := st.Subscribe("p", func(any) { b++ })

	st.Set("p", 1)
	if a != 2 || b != 2 {
		t.Fatalf("expected both subscribers notified (snapshot+update), got a=%d b=%d", a, b)
	}

	// Closing one handle must not touch the other.
	subA.Close()
	st.Set("p", 2)
	if a != 2 {
		t.Errorf("closed subscription still firing: a=%d", a)
	}
	if b != 3 {
		t.Errorf("remaining subscription missed update: b=%d", b)
	}
	subB.Close()

	// Close is idempotent.
	subA.Close()
}

func TestDisconnectFallbacks(t *testing.T) {
	st := NewStore()
	st.Set("status/u1", "online")

	st.OnDisconnect("client1", "status/u1", "offline")
	st.OnDisconnect("client1", "sessions/u1", nil)

	var statuses []any
	sub := st.Subscribe("status/u1", func(v any) { statuses = append(statuses, v) })
	defer sub.Close()

	st.Disconnect("client1")
	if v, _ := st.Get("status/u1"); v != "offline" {
		t.Errorf("expected offline after disconnect, got %v", v)
	}
	if _, ok := st.Get("sessions/u1"); ok {
		t.Error("expected session record cleared after disconnect")
	}
	if len(statuses) != 2 || statuses[1] != "offline" {
		t.Errorf("expected subscriber to observe the fallback write, got %v", statuses)
	}

	// Fallbacks apply once.
	st.Set("status/u1", "online")
	st.Disconnect("client1")
	if v, _ := st.Get("status/u1"); v != "online" {
		t.Errorf("fallback applied twice: %v", v)
	}
}

func TestCancelDisconnects(t *testing.T) {
	st := NewStore()
	st.Set("status/u1", "online")
	st.OnDisconnect("client1", "status/u1", "offline")

	st.CancelDisconnects("client1")
	st.Disconnect("client1")
	if v, _ := st.Get("status/u1"); v != "online" {
		t.Errorf("cancelled fallback still applied: %v", v)
	}
}

func TestScope(t *testing.T) {
	st := NewStore()

	var fired int
	scope := NewScope()
	scope.Add(st.Subscribe("a", func(any) { fired++ }))
	scope.Add(st.Subscribe("b", func(any) { fired++ }))
	fired = 0 // ignore snapshots

	scope.Close()
	st.Set("a", 1)
	st.Set("b", 1)
	if fired != 0 {
		t.Errorf("scope-closed subscriptions still firing: %d", fired)
	}

	// Adding to a closed scope closes the handle immediately.
	scope.Add(st.Subscribe("c", func(any) { fired++ }))
	fired = 0
	st.Set("c", 1)
	if fired != 0 {
		t.Errorf("subscription added to closed scope still firing: %d", fired)
	}
}
