package chat

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/models"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repo) withParticipants(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("ParticipantA").
		Preload("ParticipantB")
}

func (r *Repo) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) GetConversationWithParticipants(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	if err := r.withParticipants(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) GetConversationByPair(ctx context.Context, pairKey string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).
		Where("pair_key = ?", pairKey).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversationOrGetExisting inserts c, but if a conversation for the
// same pair already exists (including one inserted concurrently and losing
// us the unique index race) it returns that one instead.
func (r *Repo) CreateConversationOrGetExisting(ctx context.Context, c *Conversation) (*Conversation, bool, error) {
	err := r.db.WithContext(ctx).Omit("ParticipantA", "ParticipantB").Create(c).Error
	if err == nil {
		return c, true, nil
	}

	existing, getErr := r.GetConversationByPair(ctx, c.PairKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// ListConversations returns the user's conversations, most recently active
// first.
func (r *Repo) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	var convs []Conversation
	if err := r.withParticipants(ctx).
		Where("participant_a_id = ? OR participant_b_id = ?", userID, userID).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

// LastMessage returns nil, nil when the conversation has no messages.
func (r *Repo) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	fillSenderNames(msgs)
	return &msgs[0], nil
}

// InsertMessage stores m and moves its conversation's updated_at forward in
// one transaction.
func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Sender").Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&Conversation{}).
			Where("id = ?", m.ConversationID).
			UpdateColumn("updated_at", time.Now()).Error
	})
}

func (r *Repo) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).Preload("Sender").First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	m.SenderName = senderName(m.Sender)
	return &m, nil
}

// ListMessagesDesc returns a page of messages newest -> oldest.
func (r *Repo) ListMessagesDesc(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	fillSenderNames(msgs)
	return msgs, nil
}

func (r *Repo) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	return n, err
}

// MarkRead flips every unread message in the conversation not sent by
// readerID and returns how many rows changed.
func (r *Repo) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, readerID, false).
		UpdateColumn("is_read", true)
	return res.RowsAffected, res.Error
}

func fillSenderNames(msgs []Message) {
	for i := range msgs {
		msgs[i].SenderName = senderName(msgs[i].Sender)
	}
}

func senderName(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.Username
}
