// Package auth owns the authentication lifecycle and the single shared
// realtime connection. There is exactly one Store per running client; every
// other component reaches the push channel through it.
package auth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/matheus3301/chatty/internal/api"
	"github.com/matheus3301/chatty/internal/bus"
	"go.uber.org/zap"
)

// API is the slice of the backend client the store needs.
type API interface {
	CheckAuth(ctx context.Context) (*api.User, error)
	Login(ctx context.Context, email, password string) (*api.AuthResult, error)
	Signup(ctx context.Context, name, email, password string) (*api.AuthResult, error)
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, avatar io.Reader, filename string) (*api.User, error)
}

// Socket is the duplex channel handle, satisfied by *realtime.Conn.
type Socket interface {
	On(event string, fn func(data json.RawMessage))
	Off(event string)
	Emit(event string, payload any) error
	Connected() bool
	Close() error
}

// Dialer opens the duplex channel for an authenticated user id.
type Dialer func(userID string) (Socket, error)

// TokenStore persists the bearer token across restarts.
type TokenStore interface {
	Save(token string) error
	Clear() error
}

// Store holds the authenticated identity, the presence set and the shared
// connection. All methods are safe for concurrent use.
type Store struct {
	backend API
	dial    Dialer
	tokens  TokenStore
	bus     *bus.Bus
	logger  *zap.Logger

	mu       sync.RWMutex
	identity *api.User
	sock     Socket
	online   map[string]bool

	checkingAuth bool
	loggingIn    bool
	signingUp    bool
}

// NewStore creates the session store.
func NewStore(backend API, dial Dialer, tokens TokenStore, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		dial:    dial,
		tokens:  tokens,
		bus:     b,
		logger:  logger,
		online:  make(map[string]bool),
	}
}

// CheckAuth queries the backend for the current identity. On success the
// identity is stored and the connection is opened; on failure the identity
// is cleared.
func (s *Store) CheckAuth(ctx context.Context) error {
	s.setFlag(&s.checkingAuth, true)
	defer s.setFlag(&s.checkingAuth, false)

	ident, err := s.backend.CheckAuth(ctx)
	if err != nil {
		s.mu.Lock()
		s.identity = nil
		s.mu.Unlock()
		s.logger.Warn("auth check failed", zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.identity = ident
	s.mu.Unlock()

	s.publish("auth.checked", ident)
	return s.ConnectSocket()
}

// Login exchanges credentials for an identity, persists the bearer token
// and opens the connection.
func (s *Store) Login(ctx context.Context, email, password string) error {
	s.setFlag(&s.loggingIn, true)
	defer s.setFlag(&s.loggingIn, false)

	res, err := s.backend.Login(ctx, email, password)
	if err != nil {
		s.logger.Warn("login failed", zap.Error(err))
		return err
	}

	if err := s.tokens.Save(res.Token); err != nil {
		s.logger.Warn("failed to persist token", zap.Error(err))
	}

	s.mu.Lock()
	s.identity = &res.User
	s.mu.Unlock()

	s.logger.Info("logged in", zap.String("user_id", res.User.ID))
	s.publish("auth.logged_in", &res.User)
	return s.ConnectSocket()
}

// Signup registers a new account, then behaves like Login.
func (s *Store) Signup(ctx context.Context, name, email, password string) error {
	s.setFlag(&s.signingUp, true)
	defer s.setFlag(&s.signingUp, false)

	res, err := s.backend.Signup(ctx, name, email, password)
	if err != nil {
		s.logger.Warn("signup failed", zap.Error(err))
		return err
	}

	if res.Token != "" {
		if err := s.tokens.Save(res.Token); err != nil {
			s.logger.Warn("failed to persist token", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.identity = &res.User
	s.mu.Unlock()

	s.publish("auth.logged_in", &res.User)
	return s.ConnectSocket()
}

// Logout invalidates the session on the backend, clears the identity and
// token, and closes the connection. A backend failure leaves the store
// untouched so the user can retry.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.backend.Logout(ctx); err != nil {
		s.logger.Warn("logout failed", zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.identity = nil
	s.mu.Unlock()

	if err := s.tokens.Clear(); err != nil {
		s.logger.Warn("failed to clear token", zap.Error(err))
	}
	s.DisconnectSocket()
	s.publish("auth.logged_out", nil)
	return nil
}

// UpdateProfile uploads a new avatar and replaces the stored identity with
// the backend's response.
func (s *Store) UpdateProfile(ctx context.Context, avatar io.Reader, filename string) error {
	user, err := s.backend.UpdateProfile(ctx, avatar, filename)
	if err != nil {
		s.logger.Warn("profile update failed", zap.Error(err))
		return err
	}
	s.mu.Lock()
	s.identity = user
	s.mu.Unlock()
	s.publish("auth.checked", user)
	return nil
}

// ConnectSocket opens the duplex channel. Idempotent: no-ops when there is
// no identity or the channel is already connected.
func (s *Store) ConnectSocket() error {
	s.mu.Lock()
	if s.identity == nil || (s.sock != nil && s.sock.Connected()) {
		s.mu.Unlock()
		return nil
	}
	userID := s.identity.ID
	s.mu.Unlock()

	sock, err := s.dial(userID)
	if err != nil {
		s.logger.Warn("socket connect failed", zap.Error(err))
		return err
	}

	// Presence pushes replace the online set wholesale.
	sock.On("getOnlineUsers", func(data json.RawMessage) {
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			s.logger.Warn("bad presence payload", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.online = make(map[string]bool, len(ids))
		for _, id := range ids {
			s.online[id] = true
		}
		s.mu.Unlock()
		s.publish("presence.updated", ids)
	})

	s.mu.Lock()
	s.sock = sock
	s.mu.Unlock()
	return nil
}

// DisconnectSocket closes the channel if open and clears the handle along
// with the presence set.
func (s *Store) DisconnectSocket() {
	s.mu.Lock()
	sock := s.sock
	s.sock = nil
	s.online = make(map[string]bool)
	s.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}
}

// Identity returns the authenticated user, or nil.
func (s *Store) Identity() *api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Socket returns the shared connection handle, or nil when disconnected.
func (s *Store) Socket() Socket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sock
}

// IsOnline reports whether a user id is in the current presence set.
func (s *Store) IsOnline(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online[id]
}

// OnlineUsers returns a snapshot of the presence set.
func (s *Store) OnlineUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	return ids
}

// IsCheckingAuth reports whether an auth check is in flight.
func (s *Store) IsCheckingAuth() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkingAuth
}

// IsLoggingIn reports whether a login is in flight.
func (s *Store) IsLoggingIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggingIn
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
