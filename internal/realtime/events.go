package realtime

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/apperr"
	"github.com/suPer8Hu/gopherchat/internal/chat"
)

// Inbound event names.
const (
	EventJoin       = "join_conversation"
	EventLeave      = "leave_conversation"
	EventSend       = "send_message"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
)

// Outbound event names.
const (
	EventNewMessage     = "new_message"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventAck            = "ack"
	EventError          = "error"
)

// Inbound is a frame sent by a client. Ack, when set, is echoed on the
// acknowledgment for this frame.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   string          `json:"ack,omitempty"`
}

type Outbound struct {
	Event string `json:"event"`
	Ack   string `json:"ack,omitempty"`
	Data  any    `json:"data"`
}

type SendMessageData struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
}

type AckData struct {
	Success        bool          `json:"success"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Message        *chat.Message `json:"message,omitempty"`
	Error          string        `json:"error,omitempty"`
	Code           string        `json:"code,omitempty"`
}

type ErrorData struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

type TypingData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username,omitempty"`
}

// NewMessageData is the broadcast form of a persisted message.
type NewMessageData struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	SenderID       string           `json:"sender_id"`
	SenderName     string           `json:"sender_name"`
	Content        string           `json:"content"`
	Type           chat.MessageType `json:"type"`
	CreatedAt      time.Time        `json:"created_at"`
	IsRead         bool             `json:"is_read"`
}

func newMessageData(m *chat.Message) NewMessageData {
	return NewMessageData{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        m.Content,
		Type:           m.Type,
		CreatedAt:      m.CreatedAt,
		IsRead:         m.IsRead,
	}
}

func failureAck(err error) AckData {
	return AckData{
		Success: false,
		Error:   apperr.PublicMessage(err),
		Code:    apperr.Code(apperr.KindOf(err)),
	}
}

var errMissingConversation = apperr.Validation("conversation_id is required")

// conversationID accepts both a bare JSON string and an object carrying
// conversation_id.
func conversationID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id = strings.TrimSpace(id); id != "" {
			return id, nil
		}
		return "", errMissingConversation
	}

	var obj struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", apperr.Validation("invalid payload")
	}
	if obj.ConversationID = strings.TrimSpace(obj.ConversationID); obj.ConversationID == "" {
		return "", errMissingConversation
	}
	return obj.ConversationID, nil
}
