package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PhoneNumber  *string   `gorm:"uniqueIndex"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookingModel struct {
	ID            string `gorm:"primaryKey"`
	CustomerID    string `gorm:"not null;index:idx_bookings_customer_deleted"`
	BookingNumber string `gorm:"uniqueIndex;not null"`
	Status        string `gorm:"not null"`
	ServiceType   string `gorm:"not null"`
	Description   string
	ScheduledDate *time.Time
	Location      string
	Attachments   datatypes.JSON `gorm:"type:jsonb"`
	DeletedAt     *time.Time     `gorm:"index:idx_bookings_customer_deleted"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

type MessageModel struct {
	ID         string    `gorm:"primaryKey"`
	BookingID  string    `gorm:"not null;index"`
	SenderID   string    `gorm:"not null"`
	SenderType string    `gorm:"not null"`
	Content    string    `gorm:"type:text;not null"`
	Read       bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"not null;index"`
	UpdatedAt  time.Time
}
