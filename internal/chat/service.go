package chat

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/suPer8Hu/gopherchat/internal/apperr"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"gorm.io/gorm"
)

// Paging defaults for callers that leave limit or offset unset.
const (
	DefaultPageLimit  = 50
	DefaultPageOffset = 0
)

type Service struct {
	repo      *Repo
	publisher EventPublisher
}

// NewService wires the stores. publisher may be nil, in which case message
// events are not exported.
func NewService(repo *Repo, publisher EventPublisher) *Service {
	return &Service{repo: repo, publisher: publisher}
}

// FindOrCreateConversation returns the conversation between initiatorID and
// participantID, creating it when none exists in either order. created
// reports whether this call inserted the row.
func (s *Service) FindOrCreateConversation(ctx context.Context, initiatorID, participantID string) (conv *Conversation, created bool, err error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, false, apperr.Validation("participant_id is required")
	}
	if initiatorID == participantID {
		return nil, false, apperr.SelfConversation()
	}

	if _, err := s.repo.GetUser(ctx, participantID); err != nil {
		return nil, false, storeErr(err, "User")
	}

	key := PairKey(initiatorID, participantID)
	existing, err := s.repo.GetConversationByPair(ctx, key)
	switch {
	case err == nil:
		conv = existing
	case errors.Is(err, gorm.ErrRecordNotFound):
		conv, created, err = s.repo.CreateConversationOrGetExisting(ctx, &Conversation{
			ID:             common.NewUUID(),
			ParticipantAID: initiatorID,
			ParticipantBID: participantID,
			PairKey:        key,
		})
		if err != nil {
			return nil, false, apperr.Internal(err)
		}
	default:
		return nil, false, apperr.Internal(err)
	}

	full, err := s.repo.GetConversationWithParticipants(ctx, conv.ID)
	if err != nil {
		return nil, false, storeErr(err, "Conversation")
	}
	return full, created, nil
}

// ListConversations returns the user's conversations, most recent activity
// first, each with its last message.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	convs, err := s.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	for i := range convs {
		last, err := s.repo.LastMessage(ctx, convs[i].ID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		convs[i].LastMessage = last
	}
	return convs, nil
}

// Authorize loads the conversation and checks membership. A missing
// conversation is NotFound regardless of caller; an existing one the caller
// is not part of is Forbidden.
func (s *Service) Authorize(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeErr(err, "Conversation")
	}
	if !IsMember(conv, userID) {
		return nil, apperr.Forbidden()
	}
	return conv, nil
}

func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	if _, err := s.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	conv, err := s.repo.GetConversationWithParticipants(ctx, conversationID)
	if err != nil {
		return nil, storeErr(err, "Conversation")
	}
	return conv, nil
}

// SendMessage validates, authorizes and persists a message. Nothing is
// written when any check fails.
func (s *Service) SendMessage(ctx context.Context, senderID, conversationID, content, msgType string) (*Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, apperr.Validation("conversation_id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("Message content is required")
	}
	typ, err := ParseMessageType(msgType)
	if err != nil {
		return nil, err
	}

	if _, err := s.Authorize(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	id, createdAt, err := common.NewULIDWithTime()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	msg := &Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           typ,
		IsRead:         false,
		CreatedAt:      createdAt,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, apperr.Internal(err)
	}

	sender, err := s.repo.GetUser(ctx, senderID)
	if err == nil {
		msg.Sender = sender
		msg.SenderName = sender.Username
	} else {
		log.Printf("[chat] sender lookup failed message=%s sender=%s err=%v", msg.ID, senderID, err)
	}

	s.publish(ctx, msg)
	return msg, nil
}

// FetchMessages returns one page of history in chronological order. The
// window is taken from the newest end: offset 0 is the latest limit
// messages. limit and offset are used as given; a limit of 0 yields an
// empty page that still reports the total.
func (s *Service) FetchMessages(ctx context.Context, conversationID, userID string, limit, offset int) (*MessagePage, error) {
	if limit < 0 {
		return nil, apperr.Validation("limit must be a non-negative integer")
	}
	if offset < 0 {
		return nil, apperr.Validation("offset must be a non-negative integer")
	}
	if _, err := s.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	total, err := s.repo.CountMessages(ctx, conversationID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if limit == 0 {
		return &MessagePage{Messages: []Message{}, Total: total}, nil
	}

	desc, err := s.repo.ListMessagesDesc(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	// reverse to ASC (oldest -> newest)
	asc := make([]Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		asc = append(asc, desc[i])
	}
	return &MessagePage{Messages: asc, Total: total}, nil
}

// MarkRead marks the other participant's unread messages as read. Calling it
// again is a no-op that still acknowledges.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string) (*ReadAck, error) {
	if _, err := s.Authorize(ctx, conversationID, readerID); err != nil {
		return nil, err
	}
	n, err := s.repo.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &ReadAck{Acknowledged: true, Updated: n}, nil
}

func (s *Service) publish(ctx context.Context, msg *Message) {
	if s.publisher == nil {
		return
	}
	ev := MessageEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		CreatedAt:      msg.CreatedAt,
	}
	// the message is committed; a failed export must not fail the send
	if err := s.publisher.PublishMessageEvent(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("[chat] publish message event failed message=%s conversation=%s err=%v", msg.ID, msg.ConversationID, err)
	}
}

func storeErr(err error, resource string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(resource)
	}
	return apperr.Internal(err)
}
