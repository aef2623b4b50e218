package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
)

const migrateLockID int64 = 48210377

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookingModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}

// CreateUser inserts a user record.
func (s *GormStore) CreateUser(user domain.User) error {
	model := userToModel(user)
	if err := s.db.Create(&model).Error; err != nil {
		return translateErr(err)
	}
	return nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by exact (already normalized) email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByPhone looks up a user by phone number.
func (s *GormStore) GetUserByPhone(phone string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("phone_number = ?", phone).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UpdateUserPassword persists a new password hash.
func (s *GormStore) UpdateUserPassword(id, passwordHash string) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash": passwordHash,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// CreateBooking inserts a booking record.
func (s *GormStore) CreateBooking(booking domain.Booking) error {
	model, err := bookingToModel(booking)
	if err != nil {
		return err
	}
	if err := s.db.Create(&model).Error; err != nil {
		return translateErr(err)
	}
	return nil
}

// ListBookingsByCustomer returns the customer's live bookings, newest first.
func (s *GormStore) ListBookingsByCustomer(customerID string) ([]domain.Booking, error) {
	var models []BookingModel
	if err := s.db.Where("customer_id = ? AND deleted_at IS NULL", customerID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return bookingsFromModels(models)
}

// ListBookings returns all bookings, newest first. Soft-deleted records are
// included only when includeDeleted is set; this path is for privileged use.
func (s *GormStore) ListBookings(includeDeleted bool) ([]domain.Booking, error) {
	tx := s.db.Order("created_at DESC")
	if !includeDeleted {
		tx = tx.Where("deleted_at IS NULL")
	}
	var models []BookingModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return bookingsFromModels(models)
}

// GetBookingForCustomer resolves a booking only when it exists, is not
// soft-deleted, and belongs to the customer.
func (s *GormStore) GetBookingForCustomer(id, customerID string) (domain.Booking, bool, error) {
	var model BookingModel
	err := s.db.Where("id = ? AND customer_id = ? AND deleted_at IS NULL", id, customerID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Booking{}, false, nil
		}
		return domain.Booking{}, false, err
	}
	booking, err := bookingFromModel(model)
	if err != nil {
		return domain.Booking{}, false, err
	}
	return booking, true, nil
}

// UpdateBookingForCustomer applies a partial update as a single conditional
// statement keyed on (id, customer, not deleted). Zero rows affected means
// the booking is missing, deleted, or not owned by the customer.
func (s *GormStore) UpdateBookingForCustomer(id, customerID string, update BookingUpdate) (domain.Booking, bool, error) {
	fields := map[string]any{"updated_at": time.Now().UTC()}
	if update.Status != nil {
		fields["status"] = string(*update.Status)
	}
	if update.ServiceType != nil {
		fields["service_type"] = *update.ServiceType
	}
	if update.Description != nil {
		fields["description"] = *update.Description
	}
	if update.ScheduledDate != nil {
		fields["scheduled_date"] = *update.ScheduledDate
	}
	if update.Location != nil {
		fields["location"] = *update.Location
	}
	tx := s.db.Model(&BookingModel{}).
		Where("id = ? AND customer_id = ? AND deleted_at IS NULL", id, customerID).
		Updates(fields)
	if tx.Error != nil {
		return domain.Booking{}, false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.Booking{}, false, nil
	}
	return s.GetBookingForCustomer(id, customerID)
}

// SoftDeleteBookingForCustomer stamps deleted_at on an owned live booking.
func (s *GormStore) SoftDeleteBookingForCustomer(id, customerID string) (bool, error) {
	now := time.Now().UTC()
	tx := s.db.Model(&BookingModel{}).
		Where("id = ? AND customer_id = ? AND deleted_at IS NULL", id, customerID).
		Updates(map[string]any{
			"deleted_at": now,
			"updated_at": now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// AppendBookingAttachment adds attachment metadata to an owned live booking.
// The row is locked for the duration of the read-modify-write.
func (s *GormStore) AppendBookingAttachment(id, customerID string, attachment domain.Attachment) (bool, error) {
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model BookingModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND customer_id = ? AND deleted_at IS NULL", id, customerID).
			First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		found = true
		attachments, err := attachmentsFromJSON(model.Attachments)
		if err != nil {
			return err
		}
		attachments = append(attachments, attachment)
		raw, err := json.Marshal(attachments)
		if err != nil {
			return fmt.Errorf("marshal attachments: %w", err)
		}
		return tx.Model(&BookingModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"attachments": raw,
				"updated_at":  time.Now().UTC(),
			}).Error
	})
	return found, err
}

// HasBookingNumber checks whether a booking number is already taken,
// including by soft-deleted bookings.
func (s *GormStore) HasBookingNumber(number string) (bool, error) {
	var count int64
	if err := s.db.Model(&BookingModel{}).
		Where("booking_number = ?", number).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateMessage inserts a message record.
func (s *GormStore) CreateMessage(msg domain.Message) error {
	model := messageToModel(msg)
	if err := s.db.Create(&model).Error; err != nil {
		return translateErr(err)
	}
	return nil
}

// ListMessagesByBooking returns messages for a booking, newest first.
func (s *GormStore) ListMessagesByBooking(bookingID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("booking_id = ?", bookingID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// MarkMessagesRead flags unread messages on a booking that were not sent by
// exceptSenderID.
func (s *GormStore) MarkMessagesRead(bookingID, exceptSenderID string) error {
	return s.db.Model(&MessageModel{}).
		Where("booking_id = ? AND sender_id <> ? AND read = false", bookingID, exceptSenderID).
		Updates(map[string]any{
			"read":       true,
			"updated_at": time.Now().UTC(),
		}).Error
}

func userToModel(u domain.User) UserModel {
	var phone *string
	if strings.TrimSpace(u.PhoneNumber) != "" {
		value := strings.TrimSpace(u.PhoneNumber)
		phone = &value
	}
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PhoneNumber:  phone,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	phone := ""
	if m.PhoneNumber != nil {
		phone = *m.PhoneNumber
	}
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PhoneNumber:  phone,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookingToModel(b domain.Booking) (BookingModel, error) {
	var raw []byte
	if len(b.Attachments) > 0 {
		var err error
		raw, err = json.Marshal(b.Attachments)
		if err != nil {
			return BookingModel{}, fmt.Errorf("marshal attachments: %w", err)
		}
	}
	return BookingModel{
		ID:            b.ID,
		CustomerID:    b.CustomerID,
		BookingNumber: b.BookingNumber,
		Status:        string(b.Status),
		ServiceType:   b.ServiceType,
		Description:   b.Description,
		ScheduledDate: b.ScheduledDate,
		Location:      b.Location,
		Attachments:   raw,
		DeletedAt:     b.DeletedAt,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}, nil
}

func bookingFromModel(m BookingModel) (domain.Booking, error) {
	attachments, err := attachmentsFromJSON(m.Attachments)
	if err != nil {
		return domain.Booking{}, err
	}
	return domain.Booking{
		ID:            m.ID,
		CustomerID:    m.CustomerID,
		BookingNumber: m.BookingNumber,
		Status:        domain.BookingStatus(m.Status),
		ServiceType:   m.ServiceType,
		Description:   m.Description,
		ScheduledDate: m.ScheduledDate,
		Location:      m.Location,
		Attachments:   attachments,
		DeletedAt:     m.DeletedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

func bookingsFromModels(models []BookingModel) ([]domain.Booking, error) {
	res := make([]domain.Booking, 0, len(models))
	for _, m := range models {
		booking, err := bookingFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, booking)
	}
	return res, nil
}

func attachmentsFromJSON(raw []byte) ([]domain.Attachment, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var attachments []domain.Attachment
	if err := json.Unmarshal(raw, &attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	return attachments, nil
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:         msg.ID,
		BookingID:  msg.BookingID,
		SenderID:   msg.SenderID,
		SenderType: string(msg.SenderType),
		Content:    msg.Content,
		Read:       msg.Read,
		CreatedAt:  msg.CreatedAt,
		UpdatedAt:  msg.UpdatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:         m.ID,
		BookingID:  m.BookingID,
		SenderID:   m.SenderID,
		SenderType: domain.SenderType(m.SenderType),
		Content:    m.Content,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
