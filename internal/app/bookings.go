package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kyshr/asap-roadworthy-test-backend/internal/util"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/store"
)

// createAttemptBudget bounds generate+insert retries when a generated number
// loses the unique-index race to a concurrent creator.
const createAttemptBudget = 3

// CreateBookingParams carries a booking creation request.
type CreateBookingParams struct {
	ServiceType   string
	Description   string
	ScheduledDate string
	Location      string
}

// CreateBooking creates a pending booking for customerID with a freshly
// generated booking number.
func (a *App) CreateBooking(ctx context.Context, customerID string, p CreateBookingParams) (domain.Booking, error) {
	serviceType := strings.TrimSpace(p.ServiceType)
	if serviceType == "" {
		return domain.Booking{}, validationError("Service type is required")
	}
	scheduled, err := parseScheduledDate(p.ScheduledDate)
	if err != nil {
		return domain.Booking{}, validationError("Invalid scheduled date")
	}

	for attempt := 0; attempt < createAttemptBudget; attempt++ {
		number, err := a.numbers.Generate(ctx)
		if err != nil {
			return domain.Booking{}, fmt.Errorf("generate booking number: %w", err)
		}
		now := time.Now().UTC()
		booking := domain.Booking{
			ID:            util.NewID(),
			CustomerID:    customerID,
			BookingNumber: number,
			Status:        domain.StatusPending,
			ServiceType:   serviceType,
			Description:   strings.TrimSpace(p.Description),
			ScheduledDate: scheduled,
			Location:      strings.TrimSpace(p.Location),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = a.store.CreateBooking(booking)
		if err == nil {
			return booking, nil
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return domain.Booking{}, fmt.Errorf("create booking: %w", err)
		}
	}
	return domain.Booking{}, fmt.Errorf("create booking: exhausted booking number attempts")
}

// ListBookings returns the customer's bookings, newest first. Soft-deleted
// bookings are excluded.
func (a *App) ListBookings(customerID string) ([]domain.Booking, error) {
	bookings, err := a.store.ListBookingsByCustomer(customerID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// GetBooking returns a booking only when it exists, is not deleted, and
// belongs to customerID. Missing, deleted and foreign bookings are
// indistinguishable to the caller.
func (a *App) GetBooking(bookingID, customerID string) (domain.Booking, error) {
	return a.resolveOwned(bookingID, customerID)
}

// BookingUpdateParams carries a partial booking mutation. Nil fields are
// left untouched.
type BookingUpdateParams struct {
	Status        *string
	ServiceType   *string
	Description   *string
	ScheduledDate *string
	Location      *string
}

// UpdateBooking applies a partial update to an owned booking. The update is
// a single conditional statement keyed on owner and liveness, so a
// concurrent delete cannot resurrect the row.
func (a *App) UpdateBooking(bookingID, customerID string, p BookingUpdateParams) (domain.Booking, error) {
	update := store.BookingUpdate{}
	if p.Status != nil {
		status := domain.BookingStatus(*p.Status)
		if !domain.ValidBookingStatus(status) {
			return domain.Booking{}, validationError("Invalid booking status")
		}
		update.Status = &status
	}
	if p.ServiceType != nil {
		serviceType := strings.TrimSpace(*p.ServiceType)
		if serviceType == "" {
			return domain.Booking{}, validationError("Service type is required")
		}
		update.ServiceType = &serviceType
	}
	if p.Description != nil {
		description := strings.TrimSpace(*p.Description)
		update.Description = &description
	}
	if p.ScheduledDate != nil {
		scheduled, err := parseScheduledDate(*p.ScheduledDate)
		if err != nil || scheduled == nil {
			return domain.Booking{}, validationError("Invalid scheduled date")
		}
		update.ScheduledDate = scheduled
	}
	if p.Location != nil {
		location := strings.TrimSpace(*p.Location)
		update.Location = &location
	}
	if update.Empty() {
		return domain.Booking{}, validationError("No fields to update")
	}

	booking, found, err := a.store.UpdateBookingForCustomer(bookingID, customerID, update)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("update booking: %w", err)
	}
	if !found {
		return domain.Booking{}, notFoundError(msgBookingNotFound)
	}
	return booking, nil
}

// DeleteBooking soft-deletes an owned booking. The record stays in storage
// and disappears from every customer-facing read.
func (a *App) DeleteBooking(bookingID, customerID string) error {
	found, err := a.store.SoftDeleteBookingForCustomer(bookingID, customerID)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	if !found {
		return notFoundError(msgBookingNotFound)
	}
	return nil
}

// ListAttachments returns the attachments of an owned booking.
func (a *App) ListAttachments(bookingID, customerID string) ([]domain.Attachment, error) {
	booking, err := a.resolveOwned(bookingID, customerID)
	if err != nil {
		return nil, err
	}
	return booking.Attachments, nil
}

// AddAttachment streams an upload into object storage and records it on an
// owned booking.
func (a *App) AddAttachment(ctx context.Context, bookingID, customerID, originalName, mimeType string, size int64, r io.Reader) (domain.Attachment, error) {
	if a.objects == nil {
		return domain.Attachment{}, errors.New("object storage not configured")
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	if len(a.allowedExts) > 0 && !a.allowedExts[ext] {
		return domain.Attachment{}, validationError("File type not allowed")
	}
	if a.maxUpload > 0 && size > a.maxUpload {
		return domain.Attachment{}, validationError("File too large")
	}
	if _, err := a.resolveOwned(bookingID, customerID); err != nil {
		return domain.Attachment{}, err
	}

	filename := uuid.NewString() + ext
	key := fmt.Sprintf("bookings/%s/%s", bookingID, filename)
	if err := a.objects.Put(ctx, key, r, size, mimeType); err != nil {
		return domain.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}

	attachment := domain.Attachment{
		ID:           util.NewID(),
		Filename:     filename,
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         size,
		Path:         key,
		UploadedAt:   time.Now().UTC(),
	}
	found, err := a.store.AppendBookingAttachment(bookingID, customerID, attachment)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("record attachment: %w", err)
	}
	if !found {
		// Booking vanished between the ownership probe and the append.
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			return domain.Attachment{}, fmt.Errorf("clean orphaned attachment: %w", delErr)
		}
		return domain.Attachment{}, notFoundError(msgBookingNotFound)
	}
	return attachment, nil
}

// AttachmentDownloadURL returns a short-lived pre-signed URL for an
// attachment on an owned booking.
func (a *App) AttachmentDownloadURL(ctx context.Context, bookingID, customerID, attachmentID string) (string, error) {
	if a.objects == nil {
		return "", errors.New("object storage not configured")
	}
	booking, err := a.resolveOwned(bookingID, customerID)
	if err != nil {
		return "", err
	}
	for _, attachment := range booking.Attachments {
		if attachment.ID == attachmentID {
			url, err := a.objects.PresignGet(ctx, attachment.Path, 15*time.Minute)
			if err != nil {
				return "", fmt.Errorf("presign attachment: %w", err)
			}
			return url, nil
		}
	}
	return "", notFoundError("Attachment not found")
}

// AdminListBookings returns every booking, optionally including
// soft-deleted rows. It is reachable only behind the admin role guard.
func (a *App) AdminListBookings(includeDeleted bool) ([]domain.Booking, error) {
	bookings, err := a.store.ListBookings(includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list all bookings: %w", err)
	}
	return bookings, nil
}

func (a *App) resolveOwned(bookingID, customerID string) (domain.Booking, error) {
	booking, found, err := a.store.GetBookingForCustomer(bookingID, customerID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("fetch booking: %w", err)
	}
	if !found {
		return domain.Booking{}, notFoundError(msgBookingNotFound)
	}
	return booking, nil
}

func parseScheduledDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", raw)
}
