package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/kyshr/asap-roadworthy-test-backend/internal/util"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
)

const maxMessageLength = 5000

// ListMessages returns a booking's messages newest first. The caller must
// own the booking.
func (a *App) ListMessages(bookingID, customerID string) ([]domain.Message, error) {
	if _, err := a.resolveOwned(bookingID, customerID); err != nil {
		return nil, err
	}
	messages, err := a.store.ListMessagesByBooking(bookingID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// CreateMessage posts a message on an owned booking. The sender tag follows
// the caller's role, not a client-supplied field.
func (a *App) CreateMessage(bookingID string, sender domain.Identity, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, validationError("Message content is required")
	}
	if len(content) > maxMessageLength {
		return domain.Message{}, validationError("Message content must be less than 5000 characters")
	}
	if _, err := a.resolveOwned(bookingID, sender.ID); err != nil {
		return domain.Message{}, err
	}

	senderType := domain.SenderCustomer
	if sender.Role == domain.RoleAdmin {
		senderType = domain.SenderAdmin
	}
	now := time.Now().UTC()
	msg := domain.Message{
		ID:         util.NewID(),
		BookingID:  bookingID,
		SenderID:   sender.ID,
		SenderType: senderType,
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateMessage(msg); err != nil {
		return domain.Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// MarkMessagesRead flags every message on an owned booking that the caller
// did not send as read.
func (a *App) MarkMessagesRead(bookingID, customerID string) error {
	if _, err := a.resolveOwned(bookingID, customerID); err != nil {
		return err
	}
	if err := a.store.MarkMessagesRead(bookingID, customerID); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}
