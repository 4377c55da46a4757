package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/matheus3301/chatty/internal/api"
	"github.com/matheus3301/chatty/internal/bus"
	"go.uber.org/zap"
)

type fakeBackend struct {
	user      *api.User
	loginErr  error
	checkErr  error
	logoutErr error
}

func (f *fakeBackend) CheckAuth(context.Context) (*api.User, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.user, nil
}

func (f *fakeBackend) Login(_ context.Context, email, password string) (*api.AuthResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &api.AuthResult{Message: "ok", User: *f.user, Token: "tok-1"}, nil
}

func (f *fakeBackend) Signup(_ context.Context, name, email, password string) (*api.AuthResult, error) {
	return &api.AuthResult{Message: "ok", User: *f.user, Token: "tok-1"}, nil
}

func (f *fakeBackend) Logout(context.Context) error { return f.logoutErr }

func (f *fakeBackend) UpdateProfile(context.Context, io.Reader, string) (*api.User, error) {
	return f.user, nil
}

type fakeSocket struct {
	handlers  map[string]func(json.RawMessage)
	connected bool
	closed    bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{handlers: make(map[string]func(json.RawMessage)), connected: true}
}

func (f *fakeSocket) On(event string, fn func(json.RawMessage)) { f.handlers[event] = fn }
func (f *fakeSocket) Off(event string)                          { delete(f.handlers, event) }
func (f *fakeSocket) Emit(string, any) error                    { return nil }
func (f *fakeSocket) Connected() bool                           { return f.connected }
func (f *fakeSocket) Close() error {
	f.closed = true
	f.connected = false
	return nil
}

// push simulates an inbound event from the backend.
func (f *fakeSocket) push(event, data string) {
	if fn := f.handlers[event]; fn != nil {
		fn(json.RawMessage(data))
	}
}

type nopTokens struct{ saved, cleared string }

func (n *nopTokens) Save(tok string) error { n.saved = tok; return nil }
func (n *nopTokens) Clear() error          { n.cleared = "yes"; return nil }

func newTestStore(backend *fakeBackend) (*Store, *[]*fakeSocket, *nopTokens) {
	var socks []*fakeSocket
	dial := func(userID string) (Socket, error) {
		s := newFakeSocket()
		socks = append(socks, s)
		return s, nil
	}
	tokens := &nopTokens{}
	st := NewStore(backend, dial, tokens, bus.New(), zap.NewNop())
	return st, &socks, tokens
}

func TestCheckAuthSuccessOpensSocket(t *testing.T) {
	st, socks, _ := newTestStore(&fakeBackend{user: &api.User{ID: "u1", Name: "ana"}})

	if err := st.CheckAuth(context.Background()); err != nil {
		t.Fatalf("CheckAuth() error = %v", err)
	}
	if st.Identity() == nil || st.Identity().ID != "u1" {
		t.Errorf("Identity() = %+v, want u1", st.Identity())
	}
	if len(*socks) != 1 {
		t.Fatalf("dialed %d sockets, want 1", len(*socks))
	}
	if st.Socket() == nil {
		t.Error("Socket() = nil after successful check")
	}
}

func TestCheckAuthFailureClearsIdentity(t *testing.T) {
	st, socks, _ := newTestStore(&fakeBackend{checkErr: errors.New("401")})

	if err := st.CheckAuth(context.Background()); err == nil {
		t.Fatal("CheckAuth() expected error")
	}
	if st.Identity() != nil {
		t.Error("Identity() should be nil after failed check")
	}
	if len(*socks) != 0 {
		t.Errorf("dialed %d sockets, want 0", len(*socks))
	}
}

func TestConnectSocketIdempotent(t *testing.T) {
	st, socks, _ := newTestStore(&fakeBackend{user: &api.User{ID: "u1"}})
	if err := st.CheckAuth(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := st.ConnectSocket(); err != nil {
		t.Fatalf("second ConnectSocket() error = %v", err)
	}
	if err := st.ConnectSocket(); err != nil {
		t.Fatalf("third ConnectSocket() error = %v", err)
	}
	if len(*socks) != 1 {
		t.Errorf("dialed %d sockets, want 1 (idempotence)", len(*socks))
	}
}

func TestConnectSocketWithoutIdentity(t *testing.T) {
	st, socks, _ := newTestStore(&fakeBackend{})
	if err := st.ConnectSocket(); err != nil {
		t.Fatalf("ConnectSocket() error = %v", err)
	}
	if len(*socks) != 0 {
		t.Error("ConnectSocket() without identity must not dial")
	}
}

func TestLoginPersistsTokenAndConnects(t *testing.T) {
	st, socks, tokens := newTestStore(&fakeBackend{user: &api.User{ID: "u1"}})

	if err := st.Login(context.Background(), "a@b.c", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if tokens.saved != "tok-1" {
		t.Errorf("saved token = %q, want tok-1", tokens.saved)
	}
	if len(*socks) != 1 {
		t.Errorf("dialed %d sockets, want 1", len(*socks))
	}
}

func TestLoginFailureLeavesStoreUnset(t *testing.T) {
	st, socks, tokens := newTestStore(&fakeBackend{loginErr: errors.New("invalid credentials")})

	if err := st.Login(context.Background(), "a@b.c", "bad"); err == nil {
		t.Fatal("Login() expected error")
	}
	if st.Identity() != nil {
		t.Error("Identity() should stay nil after failed login")
	}
	if tokens.saved != "" {
		t.Error("token should not be saved after failed login")
	}
	if len(*socks) != 0 {
		t.Error("socket should not be dialed after failed login")
	}
	if st.IsLoggingIn() {
		t.Error("IsLoggingIn() flag not reset")
	}
}

func TestPresenceReplacedWholesale(t *testing.T) {
	st, socks, _ := newTestStore(&fakeBackend{user: &api.User{ID: "u1"}})
	if err := st.CheckAuth(context.Background()); err != nil {
		t.Fatal(err)
	}
	sock := (*socks)[0]

	sock.push("getOnlineUsers", `["u2","u3"]`)
	if !st.IsOnline("u2") || !st.IsOnline("u3") {
		t.Error("u2/u3 should be online after first push")
	}

	sock.push("getOnlineUsers", `["u4"]`)
	if st.IsOnline("u2") {
		t.Error("u2 should be gone after wholesale replace")
	}
	if !st.IsOnline("u4") {
		t.Error("u4 should be online after second push")
	}
}

func TestLogoutClosesSocketAndClearsState(t *testing.T) {
	st, socks, tokens := newTestStore(&fakeBackend{user: &api.User{ID: "u1"}})
	if err := st.Login(context.Background(), "a@b.c", "pw"); err != nil {
		t.Fatal(err)
	}

	if err := st.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if st.Identity() != nil {
		t.Error("Identity() should be nil after logout")
	}
	if st.Socket() != nil {
		t.Error("Socket() should be nil after logout")
	}
	if !(*socks)[0].closed {
		t.Error("socket not closed on logout")
	}
	if tokens.cleared == "" {
		t.Error("token not cleared on logout")
	}
}

func TestLogoutBackendFailureKeepsSession(t *testing.T) {
	backend := &fakeBackend{user: &api.User{ID: "u1"}}
	st, _, _ := newTestStore(backend)
	if err := st.Login(context.Background(), "a@b.c", "pw"); err != nil {
		t.Fatal(err)
	}

	backend.logoutErr = errors.New("network down")
	if err := st.Logout(context.Background()); err == nil {
		t.Fatal("Logout() expected error")
	}
	if st.Identity() == nil {
		t.Error("failed logout must leave identity in place")
	}
	if st.Socket() == nil {
		t.Error("failed logout must leave socket open")
	}
}
