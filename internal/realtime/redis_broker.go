package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/suPer8Hu/gopherchat/internal/store/redisstore"
)

// RedisBroker fans room events out through a redis channel so every server
// instance delivers to the subscribers it holds. Publish does not touch the
// local hub; the local copy arrives through Run like everyone else's.
type RedisBroker struct {
	store   *redisstore.Store
	channel string
	hub     *Hub
}

func NewRedisBroker(store *redisstore.Store, channel string, hub *Hub) *RedisBroker {
	return &RedisBroker{store: store, channel: channel, hub: hub}
}

func (b *RedisBroker) Publish(ctx context.Context, ev RoomEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.store.Publish(ctx, b.channel, body)
}

// Start subscribes and then delivers in the background until ctx ends. It
// returns once the subscription is live.
func (b *RedisBroker) Start(ctx context.Context) error {
	sub, err := b.store.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}
	log.Printf("[realtime] redis broker subscribed channel=%s", b.channel)

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					log.Printf("[realtime] redis broker channel closed channel=%s", b.channel)
					return
				}
				b.deliver([]byte(m.Payload))
			}
		}
	}()
	return nil
}

func (b *RedisBroker) deliver(body []byte) int {
	var ev RoomEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.Room == "" {
		log.Printf("[realtime] redis broker dropped bad event err=%v", err)
		return 0
	}
	return b.hub.Deliver(ev.Room, ev.Payload, ev.ExceptConn)
}
