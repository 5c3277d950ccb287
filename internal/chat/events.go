package chat

import (
	"context"
	"time"
)

// MessageEvent is exported to the message-event queue after a message is
// committed. Consumers reload the message by id.
type MessageEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type EventPublisher interface {
	PublishMessageEvent(ctx context.Context, ev MessageEvent) error
}
