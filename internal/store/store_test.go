package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestConversationKeyOrderIndependent(t *testing.T) {
	if ConversationKey("u1", "u2") != ConversationKey("u2", "u1") {
		t.Error("key must not depend on participant order")
	}
	if ConversationKey("u1", "u2") == ConversationKey("u1", "u3") {
		t.Error("distinct conversations must get distinct keys")
	}
}

func TestContactUpsert(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{ID: "u2", Username: "bea", Email: "bea@x.y"}); err != nil {
		t.Fatal(err)
	}

	// Update username, empty fields must not clobber existing values.
	if err := db.UpsertContact(&Contact{ID: "u2", Username: "bea2"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetContact("u2")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Username != "bea2" {
		t.Errorf("got %+v, want username bea2", c)
	}
	if c.Email != "bea@x.y" {
		t.Errorf("email = %q, want preserved bea@x.y", c.Email)
	}

	// Non-existent.
	c, err = db.GetContact("missing")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("expected nil for missing contact")
	}
}

func TestBulkUpsertContacts(t *testing.T) {
	db := testDB(t)

	contacts := []Contact{
		{ID: "u2", Username: "bea"},
		{ID: "u3", Username: "caio"},
	}
	if err := db.BulkUpsertContacts(contacts); err != nil {
		t.Fatal(err)
	}
	if err := db.BulkUpsertContacts(contacts); err != nil {
		t.Fatal(err)
	}

	count, err := db.ContactCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	list, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Username != "bea" {
		t.Errorf("list = %+v, want bea first", list)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	key := ConversationKey("u1", "u2")
	msg := &Message{ConversationID: key, MsgID: "m1", SenderID: "u1", ReceiverID: "u2", Body: "hello", SentAt: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	// Upsert again should not create a duplicate.
	msg.Body = "hello updated"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(key, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
}

func TestListMessagesScopedToConversation(t *testing.T) {
	db := testDB(t)

	k12 := ConversationKey("u1", "u2")
	k13 := ConversationKey("u1", "u3")
	if err := db.UpsertMessage(&Message{ConversationID: k12, MsgID: "m1", SenderID: "u1", ReceiverID: "u2", Body: "a", SentAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: k13, MsgID: "m2", SenderID: "u3", ReceiverID: "u1", Body: "b", SentAt: 2000}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(k12, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != "m1" {
		t.Errorf("got %+v, want only m1", msgs)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)

	key := ConversationKey("u1", "u2")
	for i, ts := range []int64{1000, 2000, 3000} {
		msg := &Message{ConversationID: key, MsgID: string(rune('a' + i)), SenderID: "u1", ReceiverID: "u2", SentAt: ts}
		if err := db.UpsertMessage(msg); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListMessages(key, 3000, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d messages before ts 3000, want 2", len(page))
	}
	if page[0].SentAt != 2000 {
		t.Errorf("first = %d, want newest-first 2000", page[0].SentAt)
	}
}
