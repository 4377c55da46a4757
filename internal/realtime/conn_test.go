package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer upgrades one connection and hands it to fn.
func testServer(t *testing.T, fn func(ws *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() { _ = ws.Close() }()
		fn(ws, r)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialSendsUserID(t *testing.T) {
	gotUser := make(chan string, 1)
	srv := testServer(t, func(ws *websocket.Conn, r *http.Request) {
		gotUser <- r.URL.Query().Get("userId")
		// Keep the connection open until the client hangs up.
		_, _, _ = ws.ReadMessage()
	})
	defer srv.Close()

	c, err := Dial(wsURL(srv), "u1", zap.NewNop())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	select {
	case uid := <-gotUser:
		if uid != "u1" {
			t.Errorf("userId = %q, want u1", uid)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for server to see connection")
	}
}

func TestEmitDeliversEnvelope(t *testing.T) {
	got := make(chan Envelope, 1)
	srv := testServer(t, func(ws *websocket.Conn, r *http.Request) {
		var env Envelope
		if err := ws.ReadJSON(&env); err == nil {
			got <- env
		}
	})
	defer srv.Close()

	c, err := Dial(wsURL(srv), "u1", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Emit("offer", map[string]string{"sdp": "v=0"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	select {
	case env := <-got:
		if env.Event != "offer" {
			t.Errorf("event = %q, want offer", env.Event)
		}
		var payload map[string]string
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload["sdp"] != "v=0" {
			t.Errorf("payload = %s, want sdp v=0", env.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for envelope")
	}
}

func TestInboundDispatchAndOff(t *testing.T) {
	srv := testServer(t, func(ws *websocket.Conn, r *http.Request) {
		send := func(event, data string) {
			_ = ws.WriteJSON(Envelope{Event: event, Data: json.RawMessage(data)})
		}
		send("newMessage", `{"_id":"m1"}`)
		// Give the client a moment to process, then send again after Off.
		time.Sleep(200 * time.Millisecond)
		send("newMessage", `{"_id":"m2"}`)
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	c, err := Dial(wsURL(srv), "u1", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	received := make(chan string, 2)
	c.On("newMessage", func(data json.RawMessage) {
		received <- string(data)
		c.Off("newMessage")
	})

	select {
	case data := <-received:
		if !strings.Contains(data, "m1") {
			t.Errorf("first push = %s, want m1", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first push")
	}

	// After Off, the second push must not be dispatched.
	select {
	case data := <-received:
		t.Errorf("received push after Off: %s", data)
	case <-time.After(500 * time.Millisecond):
		// Expected.
	}
}

func TestOnReplacesHandler(t *testing.T) {
	srv := testServer(t, func(ws *websocket.Conn, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_ = ws.WriteJSON(Envelope{Event: "getOnlineUsers", Data: json.RawMessage(`["u2"]`)})
		time.Sleep(300 * time.Millisecond)
	})
	defer srv.Close()

	c, err := Dial(wsURL(srv), "u1", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	oldCalled := make(chan struct{}, 1)
	newCalled := make(chan struct{}, 1)
	c.On("getOnlineUsers", func(json.RawMessage) { oldCalled <- struct{}{} })
	c.On("getOnlineUsers", func(json.RawMessage) { newCalled <- struct{}{} })

	select {
	case <-newCalled:
	case <-time.After(time.Second):
		t.Fatal("replacement handler never called")
	}
	select {
	case <-oldCalled:
		t.Error("replaced handler was still called")
	default:
	}
}

func TestEmitAfterClose(t *testing.T) {
	srv := testServer(t, func(ws *websocket.Conn, r *http.Request) {
		_, _, _ = ws.ReadMessage()
	})
	defer srv.Close()

	c, err := Dial(wsURL(srv), "u1", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Close()

	if err := c.Emit("offer", nil); err != ErrClosed {
		t.Errorf("Emit() after Close error = %v, want ErrClosed", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after Close")
	}
}
