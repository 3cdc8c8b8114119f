package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Bolatan/messaging/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	store := newTestStorage(t)

	t.Run("Users", func(t *testing.T) {
		alice := models.User{ID: "u1", Name: "Alice", Email: "alice@example.com", Avatar: "🦅"}
		if err := store.CreateUser(alice); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}

		// Duplicate email is rejected.
		dup := models.User{ID: "u2", Name: "Alice Again", Email: "alice@example.com"}
		if err := store.CreateUser(dup); !errors.Is(err, models.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}

		if err := store.CreateUser(models.User{ID: "u2", Name: "Bob", Email: "bob@example.com"}); err != nil {
			t.Fatalf("CreateUser bob failed: %v", err)
		}

		got, err := store.GetUser("u1")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got.Name != "Alice" || got.Avatar != "🦅" {
			t.Errorf("unexpected user: %+v", got)
		}

		users, err := store.ListUsers()
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 2 {
			t.Errorf("expected 2 users, got %d", len(users))
		}

		if _, err := store.GetUser("missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Presence", func(t *testing.T) {
		now := time.Now().Unix()
		if err := store.SetPresence("u1", true, now); err != nil {
			t.Fatalf("SetPresence failed: %v", err)
		}
		got, _ := store.GetUser("u1")
		if !got.Presence.Online || got.Presence.LastSeen != now {
			t.Errorf("unexpected presence: %+v", got.Presence)
		}

		if err := store.SetPresence("u1", false, now+10); err != nil {
			t.Fatalf("SetPresence offline failed: %v", err)
		}
		got, _ = store.GetUser("u1")
		if got.Presence.Online || got.Presence.LastSeen != now+10 {
			t.Errorf("unexpected presence after clear: %+v", got.Presence)
		}

		if err := store.SetPresence("missing", true, now); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DirectChatUniqueness", func(t *testing.T) {
		first, err := store.CreateChat(models.Chat{
			ID:           "chat1",
			Participants: []string{"u1", "u2"},
			UpdatedAt:    time.Now().Unix(),
		})
		if err != nil {
			t.Fatalf("CreateChat failed: %v", err)
		}
		if first.ID != "chat1" {
			t.Errorf("expected new chat chat1, got %s", first.ID)
		}

		// Same pair in reverse order returns the existing chat.
		second, err := store.CreateChat(models.Chat{
			ID:           "chat2",
			Participants: []string{"u2", "u1"},
			UpdatedAt:    time.Now().Unix(),
		})
		if err != nil {
			t.Fatalf("CreateChat duplicate failed: %v", err)
		}
		if second.ID != "chat1" {
			t.Errorf("expected existing chat chat1, got %s", second.ID)
		}

		if _, err := store.CreateChat(models.Chat{ID: "bad", Participants: []string{"u1"}}); err == nil {
			t.Error("expected error for direct chat with 1 participant")
		}
	})

	t.Run("GroupChats", func(t *testing.T) {
		group, err := store.CreateChat(models.Chat{
			ID:           "group1",
			Participants: []string{"u1", "u2", "u3"},
			IsGroup:      true,
			GroupName:    "The Gang",
			UpdatedAt:    time.Now().Unix() + 100,
		})
		if err != nil {
			t.Fatalf("CreateChat group failed: %v", err)
		}
		if group.ID != "group1" {
			t.Errorf("expected group1, got %s", group.ID)
		}

		chats, err := store.ListChats("u1")
		if err != nil {
			t.Fatalf("ListChats failed: %v", err)
		}
		if len(chats) != 2 {
			t.Fatalf("expected 2 chats for u1, got %d", len(chats))
		}
		// Most recently active first.
		if chats[0].ID != "group1" {
			t.Errorf("expected group1 first, got %s", chats[0].ID)
		}

		chats, err = store.ListChats("u3")
		if err != nil {
			t.Fatal(err)
		}
		if len(chats) != 1 || chats[0].ID != "group1" {
			t.Errorf("expected only group1 for u3, got %v", chats)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		msg1 := models.Message{
			ID:        "m1",
			ChatID:    "chat1",
			SenderID:  "u1",
			Text:      "hello",
			Status:    models.StatusSent,
			CreatedAt: 100,
		}
		if err := store.InsertMessage(msg1); err != nil {
			t.Fatalf("InsertMessage 1 failed: %v", err)
		}

		msg2 := msg1
		msg2.ID = "m2"
		msg2.Text = "world"
		msg2.CreatedAt = 200
		if err := store.InsertMessage(msg2); err != nil {
			t.Fatalf("InsertMessage 2 failed: %v", err)
		}

		msgs, err := store.ListMessages("chat1")
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
			t.Errorf("messages out of order: %v", msgs)
		}

		// The owning chat tracks the last message and activity time.
		chat, err := store.GetChat("chat1")
		if err != nil {
			t.Fatal(err)
		}
		if chat.LastMessageID != "m2" {
			t.Errorf("expected last message m2, got %s", chat.LastMessageID)
		}
		if chat.UpdatedAt != 200 {
			t.Errorf("expected updatedAt 200, got %d", chat.UpdatedAt)
		}

		if err := store.InsertMessage(models.Message{ID: "mx", ChatID: "missing"}); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown chat, got %v", err)
		}
	})

	t.Run("StatusMonotonic", func(t *testing.T) {
		advanced, err := store.AdvanceMessageStatus("chat1", "m1", models.StatusDelivered)
		if err != nil {
			t.Fatalf("AdvanceMessageStatus failed: %v", err)
		}
		if !advanced {
			t.Error("sent -> delivered should advance")
		}

		advanced, err = store.AdvanceMessageStatus("chat1", "m1", models.StatusRead)
		if err != nil || !advanced {
			t.Errorf("delivered -> read should advance (advanced=%v, err=%v)", advanced, err)
		}

		// Never backward.
		advanced, err = store.AdvanceMessageStatus("chat1", "m1", models.StatusDelivered)
		if err != nil {
			t.Fatal(err)
		}
		if advanced {
			t.Error("read -> delivered must not advance")
		}
		msg, _ := store.GetMessage("chat1", "m1")
		if msg.Status != models.StatusRead {
			t.Errorf("status regressed to %s", msg.Status)
		}

		if _, err := store.AdvanceMessageStatus("chat1", "m1", "bogus"); err == nil {
			t.Error("expected error for invalid status")
		}
		if _, err := store.AdvanceMessageStatus("chat1", "missing", models.StatusRead); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("MarkReadIdempotent", func(t *testing.T) {
		// m1 is already read, m2 is still sent, mghost does not exist.
		affected, err := store.MarkMessagesRead("chat1", []string{"m1", "m2", "mghost"})
		if err != nil {
			t.Fatalf("MarkMessagesRead failed: %v", err)
		}
		if len(affected) != 1 || affected[0] != "m2" {
			t.Errorf("expected affected [m2], got %v", affected)
		}

		// Second call changes nothing.
		affected, err = store.MarkMessagesRead("chat1", []string{"m1", "m2"})
		if err != nil {
			t.Fatal(err)
		}
		if len(affected) != 0 {
			t.Errorf("expected no affected messages, got %v", affected)
		}
	})

	t.Run("PushSubscriptions", func(t *testing.T) {
		sub := models.PushSubscription{
			UserID:   "u1",
			Endpoint: "https://push.example/abc",
			Keys:     models.PushKeys{P256dh: "p", Auth: "a"},
		}
		if err := store.UpsertPushSubscription(sub); err != nil {
			t.Fatalf("UpsertPushSubscription failed: %v", err)
		}
		// Re-registering the same endpoint replaces it.
		if err := store.UpsertPushSubscription(sub); err != nil {
			t.Fatal(err)
		}

		subs, err := store.ListPushSubscriptions("u1")
		if err != nil {
			t.Fatalf("ListPushSubscriptions failed: %v", err)
		}
		if len(subs) != 1 || subs[0].Endpoint != sub.Endpoint {
			t.Errorf("unexpected subscriptions: %v", subs)
		}

		if err := store.DeletePushSubscription("u1", sub.Endpoint); err != nil {
			t.Fatal(err)
		}
		subs, _ = store.ListPushSubscriptions("u1")
		if len(subs) != 0 {
			t.Errorf("expected no subscriptions after delete, got %v", subs)
		}

		// Listing for a user with no bucket is fine.
		subs, err = store.ListPushSubscriptions("nobody")
		if err != nil || len(subs) != 0 {
			t.Errorf("expected empty list, got %v (err=%v)", subs, err)
		}
	})
}
