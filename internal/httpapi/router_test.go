package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/db"
	"github.com/suPer8Hu/gopherchat/internal/users"
)

type recordingLive struct {
	mu   sync.Mutex
	msgs []*chat.Message
}

func (l *recordingLive) BroadcastMessage(_ context.Context, m *chat.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
	return nil
}

func (l *recordingLive) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testAPI struct {
	t    *testing.T
	r    *gin.Engine
	live *recordingLive
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	cfg := config.Default()
	cfg.JWTSecret = "http-test-secret"
	dir := auth.NewDirectory(cfg.JWTSecret, time.Hour)
	live := &recordingLive{}
	r := NewRouter(Deps{
		DB:    gdb,
		Cfg:   cfg,
		Auth:  dir,
		Users: users.NewService(gdb, dir),
		Chat:  chat.NewService(chat.NewRepo(gdb), nil),
		Live:  live,
	})
	return &testAPI{t: t, r: r, live: live}
}

func (a *testAPI) do(method, path, token string, body any) (int, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		a.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func (a *testAPI) decode(raw json.RawMessage, v any) {
	a.t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		a.t.Fatalf("decode data %s: %v", raw, err)
	}
}

type session struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Token string `json:"token"`
}

func (a *testAPI) register(username string) session {
	a.t.Helper()
	code, env := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    username + "@example.com",
		"username": username,
		"password": "secret123",
	})
	if code != http.StatusCreated || !env.Success {
		a.t.Fatalf("register %s: %d %+v", username, code, env)
	}
	var s session
	a.decode(env.Data, &s)
	return s
}

func TestRouter_HealthAndFallbacks(t *testing.T) {
	a := newTestAPI(t)

	if code, env := a.do(http.MethodGet, "/health", "", nil); code != http.StatusOK || !env.Success {
		t.Fatalf("health: %d %+v", code, env)
	}
	if code, _ := a.do(http.MethodGet, "/db-check", "", nil); code != http.StatusOK {
		t.Fatalf("db-check: %d", code)
	}
	if code, env := a.do(http.MethodGet, "/nope", "", nil); code != http.StatusNotFound || env.Success || env.Code != "NOT_FOUND" {
		t.Fatalf("unknown route: %d %+v", code, env)
	}
	if code, env := a.do(http.MethodDelete, "/health", "", nil); code != http.StatusMethodNotAllowed || env.Code != "METHOD_NOT_ALLOWED" {
		t.Fatalf("wrong method: %d %+v", code, env)
	}
}

func TestRouter_Auth(t *testing.T) {
	a := newTestAPI(t)
	alice := a.register("alice")
	if alice.Token == "" || alice.User.ID == "" {
		t.Fatalf("register returned no session: %+v", alice)
	}

	code, env := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "ALICE@example.com", "username": "alice2", "password": "secret123",
	})
	if code != http.StatusConflict || env.Code != "CONFLICT" {
		t.Fatalf("duplicate email: %d %+v", code, env)
	}

	code, env = a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "not-an-email", "username": "zed", "password": "secret123",
	})
	if code != http.StatusBadRequest || env.Code != "VALIDATION_ERROR" {
		t.Fatalf("bad email: %d %+v", code, env)
	}

	if code, _ := a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "secret123"}); code != http.StatusOK {
		t.Fatalf("login: %d", code)
	}
	if code, env := a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "wrong-pass"}); code != http.StatusUnauthorized || env.Code != "UNAUTHORIZED" {
		t.Fatalf("wrong password: %d %+v", code, env)
	}
	if code, _ := a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ghost@example.com", "password": "secret123"}); code != http.StatusNotFound {
		t.Fatalf("unknown email: %d", code)
	}

	code, env = a.do(http.MethodGet, "/api/auth/verify", alice.Token, nil)
	if code != http.StatusOK {
		t.Fatalf("verify: %d %+v", code, env)
	}
	var v struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	a.decode(env.Data, &v)
	if v.User.ID != alice.User.ID {
		t.Fatalf("verify returned %s, want %s", v.User.ID, alice.User.ID)
	}

	if code, env := a.do(http.MethodGet, "/api/auth/verify", "", nil); code != http.StatusUnauthorized || env.Success {
		t.Fatalf("verify without token: %d %+v", code, env)
	}
	if code, _ := a.do(http.MethodGet, "/api/users/profile", "garbage", nil); code != http.StatusUnauthorized {
		t.Fatalf("profile with bad token: %d", code)
	}
}

func TestRouter_UsersSearchAndProfile(t *testing.T) {
	a := newTestAPI(t)
	alice := a.register("alice")
	a.register("bobby")
	a.register("bob")

	code, env := a.do(http.MethodGet, "/api/users/search?username=BO", alice.Token, nil)
	if code != http.StatusOK {
		t.Fatalf("search: %d %+v", code, env)
	}
	var found []struct {
		Username string `json:"username"`
	}
	a.decode(env.Data, &found)
	if len(found) != 2 || found[0].Username != "bob" || found[1].Username != "bobby" {
		t.Fatalf("unexpected search result %+v", found)
	}

	code, env = a.do(http.MethodGet, "/api/users/search?username=alice", alice.Token, nil)
	a.decode(env.Data, &found)
	if code != http.StatusOK || len(found) != 0 {
		t.Fatalf("search should exclude the caller: %d %+v", code, found)
	}

	if code, _ := a.do(http.MethodGet, "/api/users/search", alice.Token, nil); code != http.StatusBadRequest {
		t.Fatalf("empty search: %d", code)
	}

	code, env = a.do(http.MethodGet, "/api/users/profile", alice.Token, nil)
	var p map[string]any
	a.decode(env.Data, &p)
	if code != http.StatusOK || p["username"] != "alice" || p["password_hash"] != nil {
		t.Fatalf("unexpected profile %d %+v", code, p)
	}
}

func TestRouter_ConversationsAndMessages(t *testing.T) {
	a := newTestAPI(t)
	alice := a.register("alice")
	bob := a.register("bob")
	carol := a.register("carol")

	code, env := a.do(http.MethodPost, "/api/conversations", alice.Token, map[string]string{"participant_id": bob.User.ID})
	if code != http.StatusCreated {
		t.Fatalf("create conversation: %d %+v", code, env)
	}
	var conv struct {
		ID string `json:"id"`
	}
	a.decode(env.Data, &conv)

	code, env = a.do(http.MethodPost, "/api/conversations", bob.Token, map[string]string{"participant_id": alice.User.ID})
	var again struct {
		ID string `json:"id"`
	}
	a.decode(env.Data, &again)
	if code != http.StatusOK || again.ID != conv.ID {
		t.Fatalf("reverse order should return existing: %d %s vs %s", code, again.ID, conv.ID)
	}

	if code, env := a.do(http.MethodPost, "/api/conversations", alice.Token, map[string]string{"participant_id": alice.User.ID}); code != http.StatusBadRequest || env.Code != "SELF_CONVERSATION" {
		t.Fatalf("self conversation: %d %+v", code, env)
	}
	if code, _ := a.do(http.MethodPost, "/api/conversations", alice.Token, map[string]string{"participant_id": "ghost"}); code != http.StatusNotFound {
		t.Fatalf("unknown participant: %d", code)
	}

	if code, _ := a.do(http.MethodGet, "/api/conversations/"+conv.ID, bob.Token, nil); code != http.StatusOK {
		t.Fatalf("member get: %d", code)
	}
	if code, env := a.do(http.MethodGet, "/api/conversations/"+conv.ID, carol.Token, nil); code != http.StatusForbidden || env.Code != "FORBIDDEN" {
		t.Fatalf("outsider get: %d %+v", code, env)
	}
	if code, _ := a.do(http.MethodGet, "/api/conversations/missing", carol.Token, nil); code != http.StatusNotFound {
		t.Fatalf("missing get: %d", code)
	}

	code, env = a.do(http.MethodPost, "/api/messages", alice.Token, map[string]string{"conversation_id": conv.ID, "content": "hello"})
	if code != http.StatusCreated {
		t.Fatalf("send: %d %+v", code, env)
	}
	if a.live.count() != 1 {
		t.Fatalf("REST send should broadcast once, got %d", a.live.count())
	}

	if code, _ := a.do(http.MethodPost, "/api/messages", alice.Token, map[string]string{"conversation_id": conv.ID, "content": "  "}); code != http.StatusBadRequest {
		t.Fatalf("empty content: %d", code)
	}
	if code, _ := a.do(http.MethodPost, "/api/messages", carol.Token, map[string]string{"conversation_id": conv.ID, "content": "hi"}); code != http.StatusForbidden {
		t.Fatalf("outsider send: %d", code)
	}
	if a.live.count() != 1 {
		t.Fatalf("rejected sends must not broadcast, got %d", a.live.count())
	}

	code, env = a.do(http.MethodGet, "/api/messages/"+conv.ID+"?limit=10", bob.Token, nil)
	var page struct {
		Messages []struct {
			Content    string `json:"content"`
			SenderName string `json:"sender_name"`
		} `json:"messages"`
		Total int `json:"total"`
	}
	a.decode(env.Data, &page)
	if code != http.StatusOK || page.Total != 1 || len(page.Messages) != 1 || page.Messages[0].SenderName != "alice" {
		t.Fatalf("unexpected page %d %+v", code, page)
	}
	if code, _ := a.do(http.MethodGet, "/api/messages/"+conv.ID+"?limit=abc", bob.Token, nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", code)
	}
	for _, q := range []string{"?limit=-1", "?offset=-5", "?limit=10&offset=-1"} {
		if code, env := a.do(http.MethodGet, "/api/messages/"+conv.ID+q, bob.Token, nil); code != http.StatusBadRequest || env.Code != "VALIDATION_ERROR" {
			t.Fatalf("negative paging %s: %d %+v", q, code, env)
		}
	}

	code, env = a.do(http.MethodGet, "/api/messages/"+conv.ID+"?limit=0", bob.Token, nil)
	a.decode(env.Data, &page)
	if code != http.StatusOK || len(page.Messages) != 0 || page.Total != 1 {
		t.Fatalf("limit=0 should be an empty page with the total: %d %+v", code, page)
	}

	code, env = a.do(http.MethodGet, "/api/messages/"+conv.ID, bob.Token, nil)
	a.decode(env.Data, &page)
	if code != http.StatusOK || len(page.Messages) != 1 || page.Total != 1 {
		t.Fatalf("absent paging should use the defaults: %d %+v", code, page)
	}
	if code, _ := a.do(http.MethodGet, "/api/messages/"+conv.ID, carol.Token, nil); code != http.StatusForbidden {
		t.Fatalf("outsider history: %d", code)
	}

	for i, want := range []int{1, 0} {
		code, env = a.do(http.MethodPut, "/api/messages/"+conv.ID+"/read", bob.Token, nil)
		var ack struct {
			Acknowledged bool `json:"acknowledged"`
			Updated      int  `json:"updated"`
		}
		a.decode(env.Data, &ack)
		if code != http.StatusOK || !ack.Acknowledged || ack.Updated != want {
			t.Fatalf("mark read #%d: %d %+v", i, code, ack)
		}
	}

	code, env = a.do(http.MethodGet, "/api/conversations", alice.Token, nil)
	var list []struct {
		ID          string `json:"id"`
		LastMessage *struct {
			Content string `json:"content"`
		} `json:"last_message"`
	}
	a.decode(env.Data, &list)
	if code != http.StatusOK || len(list) != 1 || list[0].LastMessage == nil || list[0].LastMessage.Content != "hello" {
		t.Fatalf("unexpected conversation list %d %+v", code, list)
	}
}
