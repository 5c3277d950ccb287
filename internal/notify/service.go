// Package notify turns exported message events into offline notifications
// for the recipient.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/email"
	"gorm.io/gorm"
)

type Outcome string

const (
	OutcomeSkipped Outcome = "skipped"
	OutcomeEmailed Outcome = "emailed"
	OutcomeLogged  Outcome = "logged"
)

const previewLen = 140

type Mailer interface {
	SendText(to, subject, body string) error
}

// SMTPMailer sends through email.SendText.
type SMTPMailer struct {
	Config email.SMTPConfig
}

func (m SMTPMailer) SendText(to, subject, body string) error {
	return email.SendText(m.Config, to, subject, body)
}

type Service struct {
	repo   *chat.Repo
	mailer Mailer
}

// NewService builds the handler. A nil mailer logs notifications instead
// of sending them.
func NewService(repo *chat.Repo, mailer Mailer) *Service {
	return &Service{repo: repo, mailer: mailer}
}

// Handle notifies the recipient of ev's message unless it has already been
// read. A returned error is worth retrying; permanent conditions such as a
// deleted message are skipped.
func (s *Service) Handle(ctx context.Context, ev chat.MessageEvent) (Outcome, error) {
	msg, err := s.repo.GetMessage(ctx, ev.MessageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[notify] message=%s gone, skipping", ev.MessageID)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("load message %s: %w", ev.MessageID, err)
	}
	if msg.IsRead {
		return OutcomeSkipped, nil
	}

	conv, err := s.repo.GetConversation(ctx, msg.ConversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("load conversation %s: %w", msg.ConversationID, err)
	}

	recipient, err := s.repo.GetUser(ctx, chat.OtherParticipant(conv, msg.SenderID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("load recipient: %w", err)
	}

	subject := fmt.Sprintf("New message from %s", msg.SenderName)
	body := fmt.Sprintf("Hello %s,\n\n%s sent you a message:\n\n%s\n", recipient.Username, msg.SenderName, preview(msg))

	if s.mailer == nil {
		log.Printf("[notify] message=%s recipient=%s subject=%q", msg.ID, recipient.ID, subject)
		return OutcomeLogged, nil
	}
	if err := s.mailer.SendText(recipient.Email, subject, body); err != nil {
		return "", fmt.Errorf("send email to %s: %w", recipient.ID, err)
	}
	return OutcomeEmailed, nil
}

func preview(m *chat.Message) string {
	if m.Type != chat.TypeText {
		return "[" + string(m.Type) + "]"
	}
	r := []rune(m.Content)
	if len(r) <= previewLen {
		return m.Content
	}
	return string(r[:previewLen]) + "..."
}
