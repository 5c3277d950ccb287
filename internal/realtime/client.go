package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one authenticated live connection.
type Client struct {
	id       string
	userID   string
	username string

	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, id, userID, username string, opts Options) *Client {
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageBytes)
	}
	return &Client{
		id:       id,
		userID:   userID,
		username: username,
		conn:     conn,
		send:     make(chan []byte, opts.SendBuffer),
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RateBurst),
		done:     make(chan struct{}),
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) UserID() string   { return c.userID }
func (c *Client) Username() string { return c.username }

// enqueue never blocks. It returns false when the client is closed or its
// buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) emit(ev Outbound) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[realtime] marshal %s for conn=%s: %v", ev.Event, c.id, err)
		return
	}
	if !c.enqueue(b) && !c.isClosed() {
		log.Printf("[realtime] send buffer full, disconnecting user=%s conn=%s", c.userID, c.id)
		c.Close()
	}
}

// Close stops the pumps; the write pump sends a close frame and releases
// the socket. Safe to call more than once and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readPump reads frames until the connection fails, dispatching each one in
// order. onClose runs exactly once when the loop ends, whatever the cause.
func (c *Client) readPump(ctx context.Context, dispatch func(context.Context, *Client, []byte), onClose func(*Client)) {
	defer func() {
		onClose(c)
		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			c.emit(Outbound{Event: EventError, Data: ErrorData{Error: "rate limit exceeded", Code: "RATE_LIMITED"}})
			continue
		}

		dispatch(ctx, c, raw)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case c.isClosed():
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("[realtime] frame too large user=%s conn=%s", c.userID, c.id)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
	default:
		log.Printf("[realtime] read error user=%s conn=%s err=%v", c.userID, c.id, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("[realtime] write error user=%s conn=%s err=%v", c.userID, c.id, err)
				}
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "websocket: close sent") ||
		strings.Contains(s, "broken pipe")
}
