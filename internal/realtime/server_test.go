package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/db"
	"github.com/suPer8Hu/gopherchat/internal/models"
)

const testSecret = "realtime-test-secret"

type testEnv struct {
	srv      *httptest.Server
	ws       *Server
	registry *Registry
	dir      *auth.Directory
	conv     *chat.Conversation
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, n := range []string{"alice", "bob"} {
		if err := gdb.Create(&models.User{ID: n, Email: n + "@example.com", Username: n, PasswordHash: "x"}).Error; err != nil {
			t.Fatalf("seed %s: %v", n, err)
		}
	}

	svc := chat.NewService(chat.NewRepo(gdb), nil)
	conv, _, err := svc.FindOrCreateConversation(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}

	registry := NewRegistry()
	hub := NewHub()
	router := NewRouter(svc, svc, hub, NewLocalBroker(hub))
	dir := auth.NewDirectory(testSecret, time.Hour)
	ws := NewServer(dir, registry, hub, router, Options{
		AllowedOrigins:  []string{"http://allowed.test"},
		SendBuffer:      32,
		MaxMessageBytes: 64 * 1024,
		RateBurst:       50,
		RatePerSecond:   50,
	})
	srv := httptest.NewServer(ws)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ws.Shutdown(ctx)
		srv.Close()
	})

	return &testEnv{srv: srv, ws: ws, registry: registry, dir: dir, conv: conv}
}

func (e *testEnv) token(t *testing.T, user string) string {
	t.Helper()
	tok, err := e.dir.Issue(auth.Identity{UserID: user, Username: user, Email: user + "@example.com"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *testEnv) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (e *testEnv) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(e.token(t, user)), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	waitFor(t, func() bool { return len(e.registry.Lookup(user)) > 0 })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestServer_RejectsBadCredentialBeforeUpgrade(t *testing.T) {
	e := newTestEnv(t)

	for _, u := range []string{e.wsURL(""), e.wsURL("not-a-jwt")} {
		_, resp, err := websocket.DefaultDialer.Dial(u, nil)
		if err == nil {
			t.Fatalf("expected handshake failure for %s", u)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %+v", resp)
		}
		var body struct {
			Success bool   `json:"success"`
			Code    string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = resp.Body.Close()
		if body.Success || body.Code != "UNAUTHORIZED" {
			t.Fatalf("unexpected body %+v", body)
		}
	}
	if e.registry.Count() != 0 {
		t.Fatalf("rejected handshake registered a connection")
	}
}

func TestServer_BearerHeaderAndOrigin(t *testing.T) {
	e := newTestEnv(t)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+e.token(t, "alice"))
	h.Set("Origin", "http://allowed.test")
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(""), h)
	if err != nil {
		t.Fatalf("dial with bearer header: %v", err)
	}
	_ = resp.Body.Close()
	_ = conn.Close()

	h.Set("Origin", "http://blocked.test")
	_, resp, err = websocket.DefaultDialer.Dial(e.wsURL(""), h)
	if err == nil {
		t.Fatalf("blocked origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for blocked origin, got %+v", resp)
	}
}

func TestServer_LiveConversation(t *testing.T) {
	e := newTestEnv(t)
	alice := e.dial(t, "alice")
	bob := e.dial(t, "bob")

	for i, c := range []*websocket.Conn{alice, bob} {
		send(t, c, map[string]any{"event": EventJoin, "data": e.conv.ID, "ack": fmt.Sprint(i)})
		if ack := decodeAck(t, readFrame(t, c)); !ack.Success {
			t.Fatalf("join %d failed: %+v", i, ack)
		}
	}

	send(t, alice, map[string]any{"event": EventTyping, "data": e.conv.ID})
	if f := readFrame(t, bob); f.Event != EventUserTyping {
		t.Fatalf("bob expected user_typing, got %s", f.Event)
	}

	send(t, alice, map[string]any{
		"event": EventSend,
		"ack":   "s1",
		"data":  map[string]any{"conversation_id": e.conv.ID, "content": "hello bob"},
	})

	f := readFrame(t, bob)
	if f.Event != EventNewMessage {
		t.Fatalf("bob expected new_message, got %s", f.Event)
	}
	var nm NewMessageData
	if err := json.Unmarshal(f.Data, &nm); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if nm.Content != "hello bob" || nm.SenderName != "alice" {
		t.Fatalf("unexpected message %+v", nm)
	}

	if f := readFrame(t, alice); f.Event != EventNewMessage {
		t.Fatalf("sender expected its own new_message first, got %s", f.Event)
	}
	f = readFrame(t, alice)
	ack := decodeAck(t, f)
	if !ack.Success || ack.Message == nil || ack.Message.ID != nm.ID || f.Ack != "s1" {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestServer_DisconnectClearsRegistry(t *testing.T) {
	e := newTestEnv(t)
	first := e.dial(t, "alice")
	e.dial(t, "alice")
	waitFor(t, func() bool { return len(e.registry.Lookup("alice")) == 2 })

	_ = first.Close()
	waitFor(t, func() bool { return len(e.registry.Lookup("alice")) == 1 })
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.ws.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if e.registry.Count() != 0 {
		t.Fatalf("registry not empty after shutdown: %d", e.registry.Count())
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}
