package store

import (
	"sort"
	"sync"
	"time"

	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
)

// MemoryStore keeps all records in-process. It is used by tests and mirrors
// the unique-constraint and ownership-filter behavior of the SQL store.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	emails   map[string]string // normalized email -> user ID
	phones   map[string]string // phone -> user ID
	bookings map[string]domain.Booking
	numbers  map[string]string // booking number -> booking ID
	messages map[string][]domain.Message

	lastStamp time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		emails:   make(map[string]string),
		phones:   make(map[string]string),
		bookings: make(map[string]domain.Booking),
		numbers:  make(map[string]string),
		messages: make(map[string][]domain.Message),
	}
}

// CreateUser registers a user, enforcing email/phone uniqueness.
func (m *MemoryStore) CreateUser(user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.emails[user.Email]; taken {
		return ErrDuplicateKey
	}
	if user.PhoneNumber != "" {
		if _, taken := m.phones[user.PhoneNumber]; taken {
			return ErrDuplicateKey
		}
	}
	m.users[user.ID] = user
	m.emails[user.Email] = user.ID
	if user.PhoneNumber != "" {
		m.phones[user.PhoneNumber] = user.ID
	}
	return nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	return user, ok, nil
}

// GetUserByEmail looks up a user by normalized email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.User{}, false, nil
	}
	user, ok := m.users[id]
	return user, ok, nil
}

// GetUserByPhone looks up a user by phone number.
func (m *MemoryStore) GetUserByPhone(phone string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.phones[phone]
	if !ok {
		return domain.User{}, false, nil
	}
	user, ok := m.users[id]
	return user, ok, nil
}

// UpdateUserPassword persists a new password hash.
func (m *MemoryStore) UpdateUserPassword(id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	m.users[id] = user
	return nil
}

// CreateBooking stores a booking, enforcing booking-number uniqueness.
func (m *MemoryStore) CreateBooking(booking domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.numbers[booking.BookingNumber]; taken {
		return ErrDuplicateKey
	}
	booking.CreatedAt = m.stamp(booking.CreatedAt)
	m.bookings[booking.ID] = booking
	m.numbers[booking.BookingNumber] = booking.ID
	return nil
}

// ListBookingsByCustomer returns the customer's live bookings, newest first.
func (m *MemoryStore) ListBookingsByCustomer(customerID string) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Booking, 0)
	for _, b := range m.bookings {
		if b.CustomerID == customerID && b.DeletedAt == nil {
			res = append(res, b)
		}
	}
	sortBookingsNewestFirst(res)
	return res, nil
}

// ListBookings returns all bookings, optionally including soft-deleted ones.
func (m *MemoryStore) ListBookings(includeDeleted bool) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		if !includeDeleted && b.DeletedAt != nil {
			continue
		}
		res = append(res, b)
	}
	sortBookingsNewestFirst(res)
	return res, nil
}

// GetBookingForCustomer resolves an owned, live booking.
func (m *MemoryStore) GetBookingForCustomer(id, customerID string) (domain.Booking, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.lookupOwned(id, customerID)
	return b, ok, nil
}

// UpdateBookingForCustomer applies a partial update to an owned, live booking.
func (m *MemoryStore) UpdateBookingForCustomer(id, customerID string, update BookingUpdate) (domain.Booking, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.lookupOwned(id, customerID)
	if !ok {
		return domain.Booking{}, false, nil
	}
	if update.Status != nil {
		b.Status = *update.Status
	}
	if update.ServiceType != nil {
		b.ServiceType = *update.ServiceType
	}
	if update.Description != nil {
		b.Description = *update.Description
	}
	if update.ScheduledDate != nil {
		date := *update.ScheduledDate
		b.ScheduledDate = &date
	}
	if update.Location != nil {
		b.Location = *update.Location
	}
	b.UpdatedAt = time.Now().UTC()
	m.bookings[id] = b
	return b, true, nil
}

// SoftDeleteBookingForCustomer stamps a deletion time on an owned booking.
func (m *MemoryStore) SoftDeleteBookingForCustomer(id, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.lookupOwned(id, customerID)
	if !ok {
		return false, nil
	}
	now := time.Now().UTC()
	b.DeletedAt = &now
	b.UpdatedAt = now
	m.bookings[id] = b
	return true, nil
}

// AppendBookingAttachment adds attachment metadata to an owned booking.
func (m *MemoryStore) AppendBookingAttachment(id, customerID string, attachment domain.Attachment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.lookupOwned(id, customerID)
	if !ok {
		return false, nil
	}
	b.Attachments = append(b.Attachments, attachment)
	b.UpdatedAt = time.Now().UTC()
	m.bookings[id] = b
	return true, nil
}

// HasBookingNumber checks whether a booking number is already taken.
func (m *MemoryStore) HasBookingNumber(number string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, taken := m.numbers[number]
	return taken, nil
}

// CreateMessage records a message on a booking.
func (m *MemoryStore) CreateMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.CreatedAt = m.stamp(msg.CreatedAt)
	m.messages[msg.BookingID] = append(m.messages[msg.BookingID], msg)
	return nil
}

// ListMessagesByBooking returns messages for a booking, newest first.
func (m *MemoryStore) ListMessagesByBooking(bookingID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := make([]domain.Message, len(m.messages[bookingID]))
	copy(msgs, m.messages[bookingID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// MarkMessagesRead flags messages not sent by exceptSenderID as read.
func (m *MemoryStore) MarkMessagesRead(bookingID, exceptSenderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[bookingID]
	for i := range msgs {
		if msgs[i].SenderID != exceptSenderID && !msgs[i].Read {
			msgs[i].Read = true
			msgs[i].UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

// lookupOwned requires m.mu held.
func (m *MemoryStore) lookupOwned(id, customerID string) (domain.Booking, bool) {
	b, ok := m.bookings[id]
	if !ok || b.DeletedAt != nil || b.CustomerID != customerID {
		return domain.Booking{}, false
	}
	return b, true
}

// stamp fills a zero creation time and keeps stamps strictly increasing so
// newest-first sorts are stable under rapid inserts. Requires m.mu held.
func (m *MemoryStore) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	if !t.After(m.lastStamp) {
		t = m.lastStamp.Add(time.Nanosecond)
	}
	m.lastStamp = t
	return t
}

func sortBookingsNewestFirst(bookings []domain.Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].CreatedAt.After(bookings[j].CreatedAt)
	})
}
