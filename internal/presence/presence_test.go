package presence

import "testing"

func TestRegistry_SetAndClear(t *testing.T) {
	r := NewRegistry()

	if _, replaced := r.SetOnline("u1", "c1"); replaced {
		t.Error("first SetOnline should not replace anything")
	}

	if !r.Online("u1") {
		t.Error("u1 should be online")
	}
	if userID, ok := r.UserFor("c1"); !ok || userID != "u1" {
		t.Errorf("expected reverse lookup u1, got %q (ok=%v)", userID, ok)
	}
	if connID, ok := r.ConnFor("u1"); !ok || connID != "c1" {
		t.Errorf("expected conn c1, got %q (ok=%v)", connID, ok)
	}

	userID, ok := r.ClearOnline("c1")
	if !ok || userID != "u1" {
		t.Errorf("expected ClearOnline to return u1, got %q (ok=%v)", userID, ok)
	}
	if r.Online("u1") {
		t.Error("u1 should be offline after clear")
	}
}

func TestRegistry_ClearUntrackedIsNoop(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.ClearOnline("ghost"); ok {
		t.Error("clearing an untracked connection should report not found")
	}
}

func TestRegistry_LastConnectionWins(t *testing.T) {
	r := NewRegistry()

	r.SetOnline("u1", "c1")
	stale, replaced := r.SetOnline("u1", "c2")
	if !replaced || stale != "c1" {
		t.Errorf("expected c1 to be replaced, got %q (replaced=%v)", stale, replaced)
	}

	// Only the newest connection is tracked.
	if connID, _ := r.ConnFor("u1"); connID != "c2" {
		t.Errorf("expected conn c2, got %q", connID)
	}
	if _, ok := r.UserFor("c1"); ok {
		t.Error("stale connection c1 should have no user binding")
	}

	// The stale connection disconnecting must not take the user offline.
	if _, ok := r.ClearOnline("c1"); ok {
		t.Error("stale connection clear should not report the user offline")
	}
	if !r.Online("u1") {
		t.Error("u1 should still be online via c2")
	}
}

func TestRegistry_OnlineUsers(t *testing.T) {
	r := NewRegistry()

	r.SetOnline("u1", "c1")
	r.SetOnline("u2", "c2")

	users := r.OnlineUsers()
	if len(users) != 2 {
		t.Fatalf("expected 2 online users, got %d", len(users))
	}

	r.ClearOnline("c2")
	users = r.OnlineUsers()
	if len(users) != 1 || users[0] != "u1" {
		t.Errorf("expected [u1], got %v", users)
	}
}
