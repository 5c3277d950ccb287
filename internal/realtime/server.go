package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/common"
)

type Options struct {
	// "*" allows any origin.
	AllowedOrigins  []string
	SendBuffer      int
	MaxMessageBytes int64
	RateBurst       int
	RatePerSecond   float64
}

type Authenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

// Server upgrades authenticated requests and runs one read and one write
// pump per connection.
type Server struct {
	authn    Authenticator
	registry *Registry
	hub      *Hub
	router   *Router
	opts     Options
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewServer(authn Authenticator, registry *Registry, hub *Hub, router *Router, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	policy := newOriginPolicy(opts.AllowedOrigins)
	return &Server{
		authn:    authn,
		registry: registry,
		hub:      hub,
		router:   router,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     policy.check,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token, _ = auth.BearerToken(r.Header.Get("Authorization"))
	}
	id, err := s.authn.Authenticate(token)
	if err != nil {
		writeReject(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		log.Printf("[realtime] upgrade failed user=%s origin=%q err=%v", id.UserID, r.Header.Get("Origin"), err)
		return
	}

	c := newClient(conn, common.NewUUID(), id.UserID, id.Username, s.opts)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}
	s.registry.Register(id.UserID, c)
	s.wg.Add(2)
	s.mu.Unlock()

	log.Printf("[realtime] connected user=%s conn=%s live=%d", c.userID, c.id, s.registry.Count())

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump(s.ctx, s.router.Dispatch, s.disconnect)
	}()
}

func (s *Server) disconnect(c *Client) {
	s.hub.LeaveAll(c)
	s.registry.Unregister(c.userID, c)
	log.Printf("[realtime] disconnected user=%s conn=%s live=%d", c.userID, c.id, s.registry.Count())
}

// Shutdown refuses new connections, closes the live ones and waits for
// their pumps to exit or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	for _, c := range s.registry.all() {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeReject(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}
