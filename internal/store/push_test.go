package store

import (
	"testing"

	"github.com/flacronsport/daily/internal/database"
)

func setupPushTestDB(t *testing.T) *PushStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPushStore(db)
}

func TestUpsertSubscription(t *testing.T) {
	ps := setupPushTestDB(t)

	sub, err := ps.Upsert("U1", "https://push.example.com/sub1", "p256dh_key1", "auth_key1", "Firefox")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if sub.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if sub.Subject != "U1" || sub.UserAgent != "Firefox" {
		t.Errorf("sub = %+v", sub)
	}
}

func TestUpsertMovesEndpoint(t *testing.T) {
	ps := setupPushTestDB(t)

	first, _ := ps.Upsert("U1", "https://push.example.com/sub1", "k1", "a1", "")
	second, err := ps.Upsert("U2", "https://push.example.com/sub1", "k2", "a2", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("ID = %d, want %d", second.ID, first.ID)
	}
	if second.Subject != "U2" || second.P256dhKey != "k2" {
		t.Errorf("sub = %+v", second)
	}

	subs, _ := ps.ListBySubject("U1")
	if len(subs) != 0 {
		t.Errorf("U1 still has %d subscriptions", len(subs))
	}
}

func TestListBySubject(t *testing.T) {
	ps := setupPushTestDB(t)
	ps.Upsert("U1", "https://push.example.com/a", "k", "a", "")
	ps.Upsert("U1", "https://push.example.com/b", "k", "a", "")
	ps.Upsert("U2", "https://push.example.com/c", "k", "a", "")

	subs, err := ps.ListBySubject("U1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len = %d, want 2", len(subs))
	}
	if subs[0].Endpoint != "https://push.example.com/b" {
		t.Errorf("newest first: got %q", subs[0].Endpoint)
	}
}

func TestDeleteForSubject(t *testing.T) {
	ps := setupPushTestDB(t)
	ps.Upsert("U1", "https://push.example.com/a", "k", "a", "")

	ok, err := ps.DeleteForSubject("U2", "https://push.example.com/a")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok {
		t.Error("deleted another subject's endpoint")
	}

	ok, _ = ps.DeleteForSubject("U1", "https://push.example.com/a")
	if !ok {
		t.Error("expected delete to succeed")
	}
	sub, _ := ps.GetByEndpoint("https://push.example.com/a")
	if sub != nil {
		t.Error("subscription still present")
	}
}

func TestDeleteByEndpoint(t *testing.T) {
	ps := setupPushTestDB(t)
	ps.Upsert("U1", "https://push.example.com/gone", "k", "a", "")

	if err := ps.DeleteByEndpoint("https://push.example.com/gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if sub, _ := ps.GetByEndpoint("https://push.example.com/gone"); sub != nil {
		t.Error("subscription still present")
	}
}
