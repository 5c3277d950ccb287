package realtime

import (
	"context"
	"encoding/json"
)

// RoomEvent is one frame addressed to every subscriber of Room, except the
// connection ExceptConn when set. Payload is the encoded Outbound frame.
type RoomEvent struct {
	Room       string          `json:"room"`
	ExceptConn string          `json:"except_conn,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Broker moves room events to the hubs that hold the subscribers.
type Broker interface {
	Publish(ctx context.Context, ev RoomEvent) error
}

// LocalBroker delivers straight into this process's hub.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(_ context.Context, ev RoomEvent) error {
	b.hub.Deliver(ev.Room, ev.Payload, ev.ExceptConn)
	return nil
}
