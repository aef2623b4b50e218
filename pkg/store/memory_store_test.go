package store

import (
	"errors"
	"testing"
	"time"

	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
)

func TestMemoryStoreUserUniqueness(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.CreateUser(domain.User{ID: "u1", Email: "a@x.com", PhoneNumber: "0400000001", CreatedAt: now}); err != nil {
		t.Fatalf("create first user: %v", err)
	}
	err := s.CreateUser(domain.User{ID: "u2", Email: "a@x.com", CreatedAt: now})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate email: expected ErrDuplicateKey, got %v", err)
	}
	err = s.CreateUser(domain.User{ID: "u3", Email: "b@x.com", PhoneNumber: "0400000001", CreatedAt: now})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate phone: expected ErrDuplicateKey, got %v", err)
	}
	// Empty phone numbers must not collide.
	if err := s.CreateUser(domain.User{ID: "u4", Email: "c@x.com", CreatedAt: now}); err != nil {
		t.Fatalf("create user without phone: %v", err)
	}
	if err := s.CreateUser(domain.User{ID: "u5", Email: "d@x.com", CreatedAt: now}); err != nil {
		t.Fatalf("create second user without phone: %v", err)
	}
}

func TestMemoryStoreOwnershipScopedReads(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.CreateBooking(domain.Booking{ID: "b1", CustomerID: "owner", BookingNumber: "BK-1", CreatedAt: now}); err != nil {
		t.Fatalf("create booking: %v", err)
	}

	if _, ok, _ := s.GetBookingForCustomer("b1", "owner"); !ok {
		t.Fatalf("owner should resolve own booking")
	}
	if _, ok, _ := s.GetBookingForCustomer("b1", "intruder"); ok {
		t.Fatalf("non-owner must not resolve booking")
	}
	if _, ok, _ := s.GetBookingForCustomer("missing", "owner"); ok {
		t.Fatalf("missing booking must not resolve")
	}

	deleted, err := s.SoftDeleteBookingForCustomer("b1", "owner")
	if err != nil || !deleted {
		t.Fatalf("soft delete: deleted=%v err=%v", deleted, err)
	}
	if _, ok, _ := s.GetBookingForCustomer("b1", "owner"); ok {
		t.Fatalf("soft-deleted booking must not resolve")
	}
	if deleted, _ := s.SoftDeleteBookingForCustomer("b1", "owner"); deleted {
		t.Fatalf("second soft delete must report not found")
	}

	live, err := s.ListBookings(false)
	if err != nil || len(live) != 0 {
		t.Fatalf("live listing should exclude deleted booking: %v %v", live, err)
	}
	all, err := s.ListBookings(true)
	if err != nil || len(all) != 1 {
		t.Fatalf("privileged listing should retain deleted booking: %v %v", all, err)
	}
	if taken, _ := s.HasBookingNumber("BK-1"); !taken {
		t.Fatalf("booking number of deleted booking stays reserved")
	}
}

func TestMemoryStoreMessagesNewestFirstAndMarkRead(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	for i, id := range []string{"m1", "m2", "m3"} {
		msg := domain.Message{
			ID:        id,
			BookingID: "b1",
			SenderID:  "customer-1",
			Content:   id,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if id == "m2" {
			msg.SenderID = "admin-1"
		}
		if err := s.CreateMessage(msg); err != nil {
			t.Fatalf("create message %s: %v", id, err)
		}
	}

	msgs, err := s.ListMessagesByBooking("b1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 3 || msgs[0].ID != "m3" || msgs[2].ID != "m1" {
		t.Fatalf("expected newest-first ordering, got %+v", msgs)
	}

	if err := s.MarkMessagesRead("b1", "customer-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	msgs, _ = s.ListMessagesByBooking("b1")
	for _, msg := range msgs {
		wantRead := msg.SenderID != "customer-1"
		if msg.Read != wantRead {
			t.Fatalf("message %s: read=%v want %v", msg.ID, msg.Read, wantRead)
		}
	}
}

func TestMemoryStoreUpdateBookingPartialFields(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.CreateBooking(domain.Booking{
		ID: "b1", CustomerID: "owner", BookingNumber: "BK-1",
		Status: domain.StatusPending, ServiceType: "roadworthy", CreatedAt: now,
	}); err != nil {
		t.Fatalf("create booking: %v", err)
	}

	status := domain.StatusConfirmed
	updated, ok, err := s.UpdateBookingForCustomer("b1", "owner", BookingUpdate{Status: &status})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	if updated.Status != domain.StatusConfirmed || updated.ServiceType != "roadworthy" {
		t.Fatalf("partial update corrupted record: %+v", updated)
	}

	if _, ok, _ := s.UpdateBookingForCustomer("b1", "intruder", BookingUpdate{Status: &status}); ok {
		t.Fatalf("non-owner update must report not found")
	}
}
