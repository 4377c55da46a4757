// Package sync mirrors live conversation state into the session cache.
// It subscribes to "chat." events on the bus and upserts idempotently, so
// the cache converges no matter how often an event is replayed.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatty/internal/api"
	"github.com/matheus3301/chatty/internal/bus"
	"github.com/matheus3301/chatty/internal/store"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of roster and message events into
// the cache.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to conversation events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("chat.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "chat.message_appended":
		msg, ok := evt.Payload.(*api.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case "chat.roster_updated":
		users, ok := evt.Payload.([]api.User)
		if !ok {
			return
		}
		if err := e.IngestRoster(users); err != nil {
			e.logger.Error("failed to ingest roster", zap.Error(err), zap.Int("count", len(users)))
		}
	}
}

// IngestMessage upserts a single message into the cache (idempotent on
// conversation key + message id).
func (e *Engine) IngestMessage(msg *api.Message) error {
	var sentAt int64
	if !msg.CreatedAt.IsZero() {
		sentAt = msg.CreatedAt.UnixMilli()
	}

	cached := &store.Message{
		ConversationID: store.ConversationKey(msg.SenderID, msg.ReceiverID),
		MsgID:          msg.ID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Body:           msg.Text,
		ImageURL:       msg.ImageURL,
		SentAt:         sentAt,
	}
	if err := e.db.UpsertMessage(cached); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	e.bus.Publish(bus.Event{
		Kind:      "cache.message_upserted",
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": cached.ConversationID,
			"msg_id":          cached.MsgID,
		},
	})
	return nil
}

// IngestRoster upserts the roster snapshot in a single transaction.
func (e *Engine) IngestRoster(users []api.User) error {
	contacts := make([]store.Contact, 0, len(users))
	for _, u := range users {
		contacts = append(contacts, store.Contact{
			ID:        u.ID,
			Username:  u.Name,
			Email:     u.Email,
			AvatarURL: u.AvatarURL,
		})
	}
	if err := e.db.BulkUpsertContacts(contacts); err != nil {
		return fmt.Errorf("upsert roster: %w", err)
	}

	e.bus.Publish(bus.Event{
		Kind:      "cache.roster_upserted",
		Timestamp: time.Now(),
		Payload:   len(contacts),
	})
	return nil
}
