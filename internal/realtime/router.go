package realtime

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/apperr"
	"github.com/suPer8Hu/gopherchat/internal/chat"
)

const eventTimeout = 10 * time.Second

type ConversationAuthorizer interface {
	Authorize(ctx context.Context, conversationID, userID string) (*chat.Conversation, error)
}

type MessageAppender interface {
	SendMessage(ctx context.Context, senderID, conversationID, content, msgType string) (*chat.Message, error)
}

// Router handles inbound frames for one process. Frames of a single
// connection are dispatched in order by its read pump.
type Router struct {
	authz    ConversationAuthorizer
	messages MessageAppender
	hub      *Hub
	broker   Broker
	timeout  time.Duration
}

func NewRouter(authz ConversationAuthorizer, messages MessageAppender, hub *Hub, broker Broker) *Router {
	return &Router{
		authz:    authz,
		messages: messages,
		hub:      hub,
		broker:   broker,
		timeout:  eventTimeout,
	}
}

func (r *Router) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		c.emit(Outbound{Event: EventError, Data: ErrorData{Error: "malformed frame", Code: "BAD_FRAME"}})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	switch in.Event {
	case EventJoin:
		r.join(ctx, c, in)
	case EventLeave:
		r.leave(c, in)
	case EventSend:
		r.send(ctx, c, in)
	case EventTyping:
		r.typing(ctx, c, in, EventUserTyping)
	case EventStopTyping:
		r.typing(ctx, c, in, EventUserStopTyping)
	default:
		c.emit(Outbound{Event: EventError, Data: ErrorData{Event: in.Event, Error: "unknown event", Code: "UNKNOWN_EVENT"}})
	}
}

func (r *Router) join(ctx context.Context, c *Client, in Inbound) {
	id, err := conversationID(in.Data)
	if err == nil {
		_, err = r.authz.Authorize(ctx, id, c.userID)
	}
	if err != nil {
		log.Printf("[realtime] join rejected user=%s conn=%s kind=%s", c.userID, c.id, apperr.KindOf(err))
		r.fail(c, in, err)
		return
	}

	if r.hub.Join(id, c) {
		log.Printf("[realtime] user=%s conn=%s joined conversation=%s", c.userID, c.id, id)
	}
	r.reply(c, in, AckData{Success: true, ConversationID: id})
}

func (r *Router) leave(c *Client, in Inbound) {
	id, err := conversationID(in.Data)
	if err != nil {
		r.fail(c, in, err)
		return
	}
	if r.hub.Leave(id, c) {
		log.Printf("[realtime] user=%s conn=%s left conversation=%s", c.userID, c.id, id)
	}
	r.reply(c, in, AckData{Success: true, ConversationID: id})
}

// send always acknowledges, whether or not the client asked for one.
func (r *Router) send(ctx context.Context, c *Client, in Inbound) {
	var d SendMessageData
	if err := json.Unmarshal(in.Data, &d); err != nil {
		c.emit(Outbound{Event: EventAck, Ack: in.Ack, Data: failureAck(apperr.Validation("invalid payload"))})
		return
	}

	msg, err := r.messages.SendMessage(ctx, c.userID, d.ConversationID, d.Content, d.Type)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			log.Printf("[realtime] send failed user=%s conversation=%s err=%v", c.userID, d.ConversationID, err)
		}
		c.emit(Outbound{Event: EventAck, Ack: in.Ack, Data: failureAck(err)})
		return
	}

	if err := r.BroadcastMessage(ctx, msg); err != nil {
		log.Printf("[realtime] broadcast failed message=%s conversation=%s err=%v", msg.ID, msg.ConversationID, err)
	}
	c.emit(Outbound{Event: EventAck, Ack: in.Ack, Data: AckData{Success: true, Message: msg}})
}

// typing is ephemeral: it is forwarded only from a connection that joined
// the room, and dropped silently otherwise.
func (r *Router) typing(ctx context.Context, c *Client, in Inbound, out string) {
	id, err := conversationID(in.Data)
	if err != nil || !r.hub.IsJoined(id, c) {
		return
	}
	payload, err := json.Marshal(Outbound{
		Event: out,
		Data:  TypingData{ConversationID: id, UserID: c.userID, Username: c.username},
	})
	if err != nil {
		return
	}
	if err := r.broker.Publish(ctx, RoomEvent{Room: id, ExceptConn: c.id, Payload: payload}); err != nil {
		log.Printf("[realtime] typing publish failed conversation=%s err=%v", id, err)
	}
}

// BroadcastMessage sends a persisted message to every subscriber of its
// conversation, the sender's own connections included.
func (r *Router) BroadcastMessage(ctx context.Context, msg *chat.Message) error {
	payload, err := json.Marshal(Outbound{Event: EventNewMessage, Data: newMessageData(msg)})
	if err != nil {
		return err
	}
	return r.broker.Publish(ctx, RoomEvent{Room: msg.ConversationID, Payload: payload})
}

func (r *Router) reply(c *Client, in Inbound, data AckData) {
	if in.Ack == "" {
		return
	}
	c.emit(Outbound{Event: EventAck, Ack: in.Ack, Data: data})
}

func (r *Router) fail(c *Client, in Inbound, err error) {
	if in.Ack != "" {
		c.emit(Outbound{Event: EventAck, Ack: in.Ack, Data: failureAck(err)})
		return
	}
	c.emit(Outbound{Event: EventError, Data: ErrorData{
		Event: in.Event,
		Error: apperr.PublicMessage(err),
		Code:  apperr.Code(apperr.KindOf(err)),
	}})
}
