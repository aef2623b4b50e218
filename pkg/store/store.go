package store

import (
	"errors"
	"time"

	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
)

// ErrDuplicateKey is returned by implementations when an insert violates a
// unique constraint (email, phone number, booking number). The orchestration
// layer translates it to a conflict; the constraint, not the pre-check, is
// the correctness guarantee under concurrent writers.
var ErrDuplicateKey = errors.New("duplicate key")

// BookingUpdate holds the partial fields of a booking mutation. Nil fields
// are left untouched.
type BookingUpdate struct {
	Status        *domain.BookingStatus
	ServiceType   *string
	Description   *string
	ScheduledDate *time.Time
	Location      *string
}

// Empty reports whether the update would change nothing.
func (u BookingUpdate) Empty() bool {
	return u.Status == nil && u.ServiceType == nil && u.Description == nil &&
		u.ScheduledDate == nil && u.Location == nil
}

// Store defines persistence for users, bookings and messages.
//
// Every booking operation that takes a customerID is ownership-scoped: it
// matches only rows whose customer equals customerID and whose deleted_at is
// unset, in a single conditional statement, so "verify ownership then
// mutate" cannot race with a concurrent writer.
type Store interface {
	// users
	CreateUser(user domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByPhone(phone string) (domain.User, bool, error)
	UpdateUserPassword(id, passwordHash string) error

	// bookings
	CreateBooking(booking domain.Booking) error
	ListBookingsByCustomer(customerID string) ([]domain.Booking, error)
	ListBookings(includeDeleted bool) ([]domain.Booking, error)
	GetBookingForCustomer(id, customerID string) (domain.Booking, bool, error)
	UpdateBookingForCustomer(id, customerID string, update BookingUpdate) (domain.Booking, bool, error)
	SoftDeleteBookingForCustomer(id, customerID string) (bool, error)
	AppendBookingAttachment(id, customerID string, attachment domain.Attachment) (bool, error)
	HasBookingNumber(number string) (bool, error)

	// messages
	CreateMessage(msg domain.Message) error
	ListMessagesByBooking(bookingID string) ([]domain.Message, error)
	MarkMessagesRead(bookingID, exceptSenderID string) error
}
