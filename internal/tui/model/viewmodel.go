package model

import (
	"context"
	"time"

	"github.com/matheus3301/chatty/internal/api"
	"github.com/matheus3301/chatty/internal/auth"
	"github.com/matheus3301/chatty/internal/call"
	"github.com/matheus3301/chatty/internal/chat"
	"github.com/matheus3301/chatty/internal/store"
)

// ViewModel glues the stores to the views: it exposes snapshots for
// rendering and wraps operations with flash feedback. The cache is only
// read when the live store has nothing yet.
type ViewModel struct {
	auth  *auth.Store
	chat  *chat.Store
	calls *call.Manager
	cache *store.DB
	Flash Flash
}

// NewViewModel creates a view model over the three stores and the session
// cache. cache may be nil.
func NewViewModel(a *auth.Store, c *chat.Store, m *call.Manager, cache *store.DB) *ViewModel {
	return &ViewModel{
		auth:  a,
		chat:  c,
		calls: m,
		cache: cache,
	}
}

// Identity returns the authenticated user, or nil.
func (vm *ViewModel) Identity() *api.User { return vm.auth.Identity() }

// IsOnline reports the live presence of a user id.
func (vm *ViewModel) IsOnline(id string) bool { return vm.auth.IsOnline(id) }

// Connected reports whether the realtime channel is up.
func (vm *ViewModel) Connected() bool {
	s := vm.auth.Socket()
	return s != nil && s.Connected()
}

// CheckAuth restores the session from the persisted token.
func (vm *ViewModel) CheckAuth(ctx context.Context) error {
	return vm.auth.CheckAuth(ctx)
}

// Login authenticates and reports failures via flash.
func (vm *ViewModel) Login(ctx context.Context, email, password string) error {
	if err := vm.auth.Login(ctx, email, password); err != nil {
		vm.Flash.Set("Login failed: "+err.Error(), 5*time.Second)
		return err
	}
	return nil
}

// Signup registers a new account and reports failures via flash.
func (vm *ViewModel) Signup(ctx context.Context, name, email, password string) error {
	if err := vm.auth.Signup(ctx, name, email, password); err != nil {
		vm.Flash.Set("Signup failed: "+err.Error(), 5*time.Second)
		return err
	}
	return nil
}

// Logout ends the session.
func (vm *ViewModel) Logout(ctx context.Context) error {
	if err := vm.auth.Logout(ctx); err != nil {
		vm.Flash.Set("Logout failed: "+err.Error(), 5*time.Second)
		return err
	}
	vm.Flash.Clear()
	return nil
}

// LoadRoster refreshes the contact roster from the backend.
func (vm *ViewModel) LoadRoster(ctx context.Context) error {
	return vm.chat.GetUsers(ctx)
}

// Roster returns the live roster, falling back to the cached one when the
// network has not answered yet.
func (vm *ViewModel) Roster() []api.User {
	users := vm.chat.Users()
	if len(users) > 0 || vm.cache == nil {
		return users
	}
	cached, err := vm.cache.ListContacts()
	if err != nil {
		return nil
	}
	out := make([]api.User, 0, len(cached))
	for _, c := range cached {
		out = append(out, api.User{ID: c.ID, Name: c.Username, Email: c.Email, AvatarURL: c.AvatarURL})
	}
	return out
}

// SelectPartner switches the active conversation, loads its history and
// (re)subscribes to pushes.
func (vm *ViewModel) SelectPartner(ctx context.Context, u *api.User) error {
	vm.chat.SetSelectedUser(u)
	if u == nil {
		vm.chat.UnsubscribeFromMessages()
		return nil
	}
	if err := vm.chat.GetMessages(ctx, u.ID); err != nil {
		return err
	}
	vm.chat.SubscribeToMessages()
	return nil
}

// Selected returns the active conversation partner, or nil.
func (vm *ViewModel) Selected() *api.User { return vm.chat.Selected() }

// Messages returns the live message sequence, falling back to the cached
// history of the selected conversation when the live sequence is empty.
func (vm *ViewModel) Messages() []api.Message {
	msgs := vm.chat.Messages()
	if len(msgs) > 0 || vm.cache == nil {
		return msgs
	}
	ident := vm.auth.Identity()
	sel := vm.chat.Selected()
	if ident == nil || sel == nil {
		return nil
	}
	cached, err := vm.cache.ListMessages(store.ConversationKey(ident.ID, sel.ID), 0, 100)
	if err != nil {
		return nil
	}
	// Cache pages newest-first; the thread renders oldest-first.
	out := make([]api.Message, 0, len(cached))
	for i := len(cached) - 1; i >= 0; i-- {
		m := cached[i]
		out = append(out, api.Message{
			ID:         m.MsgID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			Text:       m.Body,
			ImageURL:   m.ImageURL,
			CreatedAt:  time.UnixMilli(m.SentAt),
		})
	}
	return out
}

// Send posts a message to the selected partner, reporting validation and
// network failures via flash.
func (vm *ViewModel) Send(ctx context.Context, text, imagePath string) error {
	if err := vm.chat.SendMessage(ctx, text, imagePath); err != nil {
		vm.Flash.Set("Send failed: "+err.Error(), 5*time.Second)
		return err
	}
	return nil
}

// StartCall rings the selected partner.
func (vm *ViewModel) StartCall(video bool) error {
	sel := vm.chat.Selected()
	if sel == nil {
		vm.Flash.Set("No conversation selected", 3*time.Second)
		return chat.ErrNoRecipient
	}
	if err := vm.calls.StartCall(sel.ID, video); err != nil {
		vm.Flash.Set("Call failed: "+err.Error(), 5*time.Second)
		return err
	}
	return nil
}

// AcceptCall answers the ringing call.
func (vm *ViewModel) AcceptCall() error {
	if err := vm.calls.Accept(); err != nil {
		vm.Flash.Set("Accept failed: "+err.Error(), 5*time.Second)
		return err
	}
	return nil
}

// RejectCall declines the ringing call.
func (vm *ViewModel) RejectCall() { vm.calls.Reject() }

// HangUp ends the active call.
func (vm *ViewModel) HangUp() { vm.calls.HangUp() }

// ToggleMute flips the outgoing audio track.
func (vm *ViewModel) ToggleMute() bool { return vm.calls.ToggleMute() }

// ToggleCamera flips the outgoing video track.
func (vm *ViewModel) ToggleCamera() bool { return vm.calls.ToggleCamera() }

// CallState returns the current call state.
func (vm *ViewModel) CallState() call.State { return vm.calls.State() }

// CallSession returns the active call session, or nil.
func (vm *ViewModel) CallSession() *call.Session { return vm.calls.Session() }
