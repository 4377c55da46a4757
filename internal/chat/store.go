// Package chat owns the contact roster and the message history for the
// currently selected conversation partner, kept in sync with live pushes
// from the shared realtime connection.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/chatty/internal/api"
	"github.com/matheus3301/chatty/internal/bus"
	"go.uber.org/zap"
)

var (
	// ErrNoRecipient is returned when no conversation partner is selected.
	ErrNoRecipient = errors.New("chat: no conversation partner selected")

	// ErrEmptyMessage is returned when a message has neither text nor image.
	ErrEmptyMessage = errors.New("chat: message needs text or an image")

	// ErrNotImage is returned when the attached file is not an image.
	ErrNotImage = errors.New("chat: attachment must be an image file")
)

// API is the slice of the backend client the store needs.
type API interface {
	Users(ctx context.Context) ([]api.User, error)
	Messages(ctx context.Context, partnerID string) ([]api.Message, error)
	SendMessage(ctx context.Context, partnerID, text string, image io.Reader, filename string) (*api.Message, error)
}

// Socket is the push side of the duplex channel.
type Socket interface {
	On(event string, fn func(data json.RawMessage))
	Off(event string)
}

// SocketSource returns the current shared connection, or nil when the
// client is offline. Read at call time so the store survives reconnects.
type SocketSource func() Socket

// Store holds the roster and the per-partner message sequence.
type Store struct {
	backend API
	socket  SocketSource
	bus     *bus.Bus
	logger  *zap.Logger

	mu       sync.RWMutex
	users    []api.User
	selected *api.User
	messages []api.Message
	seen     map[string]bool

	usersLoading    bool
	messagesLoading bool
}

// NewStore creates the conversation store.
func NewStore(backend API, socket SocketSource, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		socket:  socket,
		bus:     b,
		logger:  logger,
		seen:    make(map[string]bool),
	}
}

// GetUsers fetches the roster snapshot and replaces it wholesale.
func (s *Store) GetUsers(ctx context.Context) error {
	s.setFlag(&s.usersLoading, true)
	defer s.setFlag(&s.usersLoading, false)

	users, err := s.backend.Users(ctx)
	if err != nil {
		s.logger.Warn("roster fetch failed", zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()

	s.publish("chat.roster_updated", users)
	return nil
}

// GetMessages fetches the full history with a partner and replaces the
// local sequence wholesale.
func (s *Store) GetMessages(ctx context.Context, partnerID string) error {
	s.setFlag(&s.messagesLoading, true)
	defer s.setFlag(&s.messagesLoading, false)

	msgs, err := s.backend.Messages(ctx, partnerID)
	if err != nil {
		s.logger.Warn("history fetch failed", zap.String("partner_id", partnerID), zap.Error(err))
		return err
	}

	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			seen[m.ID] = true
		}
	}

	s.mu.Lock()
	s.messages = msgs
	s.seen = seen
	s.mu.Unlock()
	return nil
}

// SendMessage validates and posts a message to the selected partner.
// Validation failures never reach the network. On success the server echo,
// not the local draft, is appended to the sequence.
func (s *Store) SendMessage(ctx context.Context, text, imagePath string) error {
	s.mu.RLock()
	selected := s.selected
	s.mu.RUnlock()

	if selected == nil {
		s.logger.Error("send without selected partner")
		return ErrNoRecipient
	}
	if strings.TrimSpace(text) == "" && imagePath == "" {
		return ErrEmptyMessage
	}

	var image io.Reader
	var filename string
	if imagePath != "" {
		if !isImageFile(imagePath) {
			return ErrNotImage
		}
		f, err := os.Open(imagePath)
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		defer func() { _ = f.Close() }()
		image = f
		filename = filepath.Base(imagePath)
	}

	echo, err := s.backend.SendMessage(ctx, selected.ID, text, image, filename)
	if err != nil {
		s.logger.Warn("send failed", zap.String("partner_id", selected.ID), zap.Error(err))
		return err
	}

	s.appendMessage(*echo)
	return nil
}

// SubscribeToMessages registers the single push handler for new messages.
// Any previously registered handler is replaced, so repeated calls across
// partner switches never stack handlers. Inbound messages are appended only
// when the selected partner is their sender or receiver.
func (s *Store) SubscribeToMessages() {
	sock := s.socket()
	if sock == nil {
		s.logger.Warn("subscribe skipped: not connected")
		return
	}

	sock.Off("newMessage")
	sock.On("newMessage", func(data json.RawMessage) {
		var msg api.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("bad message push", zap.Error(err))
			return
		}

		s.mu.RLock()
		selected := s.selected
		s.mu.RUnlock()
		if selected == nil {
			return
		}
		if msg.SenderID != selected.ID && msg.ReceiverID != selected.ID {
			return
		}
		s.appendMessage(msg)
	})
}

// UnsubscribeFromMessages removes the push handler. A push arriving after
// this call must not mutate the sequence.
func (s *Store) UnsubscribeFromMessages() {
	sock := s.socket()
	if sock == nil {
		return
	}
	sock.Off("newMessage")
}

// SetSelectedUser switches the active conversation. It does not clear the
// sequence; callers follow up with GetMessages for the new partner.
func (s *Store) SetSelectedUser(u *api.User) {
	s.mu.Lock()
	s.selected = u
	s.mu.Unlock()
	s.publish("chat.partner_selected", u)
}

// Selected returns the active conversation partner, or nil.
func (s *Store) Selected() *api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Users returns a snapshot of the roster.
func (s *Store) Users() []api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.User, len(s.users))
	copy(out, s.users)
	return out
}

// Messages returns a snapshot of the message sequence.
func (s *Store) Messages() []api.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// appendMessage adds a message to the sequence unless its id has been seen
// before. Send echo and push delivery of the same message therefore produce
// a single visible entry.
func (s *Store) appendMessage(m api.Message) {
	s.mu.Lock()
	if m.ID != "" && s.seen[m.ID] {
		s.mu.Unlock()
		return
	}
	if m.ID != "" {
		s.seen[m.ID] = true
	}
	s.messages = append(s.messages, m)
	s.mu.Unlock()

	s.publish("chat.message_appended", &m)
}

func isImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

func (s *Store) setFlag(flag *bool, v bool) {
	s.mu.Lock()
	*flag = v
	s.mu.Unlock()
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
