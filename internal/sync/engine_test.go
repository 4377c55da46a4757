package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatty/internal/api"
	"github.com/matheus3301/chatty/internal/bus"
	"github.com/matheus3301/chatty/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, zap.NewNop())

	ch, unsub := b.Subscribe("cache.", 10)
	defer unsub()

	msg := &api.Message{
		ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "hello",
		CreatedAt: time.UnixMilli(1000),
	}
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}

	key := store.ConversationKey("u1", "u2")
	msgs, err := db.ListMessages(key, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Errorf("got %d messages, want 1 with body=hello", len(msgs))
	}

	select {
	case evt := <-ch:
		if evt.Kind != "cache.message_upserted" {
			t.Errorf("event kind = %q, want cache.message_upserted", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cache.message_upserted event")
	}
}

func TestEngineIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), zap.NewNop())

	msg := &api.Message{
		ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "v1",
		CreatedAt: time.UnixMilli(1000),
	}
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Text = "v2"
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(store.ConversationKey("u1", "u2"), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2 (updated)", msgs[0].Body)
	}
}

// TestEngineConversationKeyFoldsDirections verifies that both directions of
// a conversation land in the same cached row set.
func TestEngineConversationKeyFoldsDirections(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), zap.NewNop())

	if err := e.IngestMessage(&api.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "a", CreatedAt: time.UnixMilli(1000)}); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestMessage(&api.Message{ID: "m2", SenderID: "u2", ReceiverID: "u1", Text: "b", CreatedAt: time.UnixMilli(2000)}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(store.ConversationKey("u2", "u1"), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2 (both directions in one conversation)", len(msgs))
	}
}

func TestEngineIngestRoster(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), zap.NewNop())

	users := []api.User{
		{ID: "u2", Name: "bea", Email: "bea@x.y"},
		{ID: "u3", Name: "caio"},
	}
	if err := e.IngestRoster(users); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestRoster(users); err != nil {
		t.Fatal(err)
	}

	count, err := db.ContactCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2 (idempotent roster ingest)", count)
	}

	c, err := db.GetContact("u2")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Username != "bea" {
		t.Errorf("got %+v, want bea", c)
	}
}

// TestEngineBusSubscription verifies the engine processes events from the
// bus. This is the core of the chat→bus→cache decoupling.
func TestEngineBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, zap.NewNop())

	e.Start(context.Background())
	defer e.Stop()

	b.Publish(bus.Event{
		Kind:      "chat.message_appended",
		Timestamp: time.Now(),
		Payload: &api.Message{
			ID: "bm1", SenderID: "u1", ReceiverID: "u2", Text: "from bus",
			CreatedAt: time.UnixMilli(5000),
		},
	})

	// Give the engine time to process.
	time.Sleep(100 * time.Millisecond)

	msgs, err := db.ListMessages(store.ConversationKey("u1", "u2"), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (bus subscription)", len(msgs))
	}
	if msgs[0].Body != "from bus" {
		t.Errorf("body = %q, want 'from bus'", msgs[0].Body)
	}

	b.Publish(bus.Event{
		Kind:      "chat.roster_updated",
		Timestamp: time.Now(),
		Payload:   []api.User{{ID: "u2", Name: "bea"}},
	})

	time.Sleep(100 * time.Millisecond)

	count, err := db.ContactCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("contact count = %d, want 1 (roster via bus)", count)
	}
}
