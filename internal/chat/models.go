package chat

import (
	"strings"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/apperr"
	"github.com/suPer8Hu/gopherchat/internal/models"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeGIF      MessageType = "gif"
	TypeDocument MessageType = "document"
	TypeLocation MessageType = "location"
)

// ParseMessageType maps an empty string to text and rejects anything
// outside the closed set.
func ParseMessageType(s string) (MessageType, error) {
	switch t := MessageType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeText, nil
	case TypeText, TypeImage, TypeVideo, TypeGIF, TypeDocument, TypeLocation:
		return t, nil
	default:
		return "", apperr.Validation("type must be one of text, image, video, gif, document, location")
	}
}

type Conversation struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ParticipantAID string `gorm:"type:varchar(36);index;not null" json:"participant_a_id"`
	ParticipantBID string `gorm:"type:varchar(36);index;not null" json:"participant_b_id"`
	// PairKey is both participant ids sorted and joined; its unique index
	// allows one conversation per unordered pair.
	PairKey string `gorm:"type:varchar(80);uniqueIndex;not null" json:"-"`

	ParticipantA *models.User `gorm:"foreignKey:ParticipantAID" json:"participant_a,omitempty"`
	ParticipantB *models.User `gorm:"foreignKey:ParticipantBID" json:"participant_b,omitempty"`

	LastMessage *Message `gorm:"-" json:"last_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt moves forward with every appended message.
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

type Message struct {
	ID             string       `gorm:"primaryKey;type:varchar(26)" json:"id"`
	ConversationID string       `gorm:"type:varchar(36);not null;index:idx_msg_conv_created,priority:1" json:"conversation_id"`
	SenderID       string       `gorm:"type:varchar(36);not null;index" json:"sender_id"`
	Sender         *models.User `gorm:"foreignKey:SenderID" json:"-"`
	SenderName     string       `gorm:"-" json:"sender_name"`
	Content        string       `gorm:"type:text;not null" json:"content"`
	Type           MessageType  `gorm:"type:varchar(16);not null" json:"type"`
	IsRead         bool         `gorm:"not null;index" json:"is_read"`
	CreatedAt      time.Time    `gorm:"index:idx_msg_conv_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int64     `json:"total"`
}

type ReadAck struct {
	Acknowledged bool  `json:"acknowledged"`
	Updated      int64 `json:"updated"`
}
