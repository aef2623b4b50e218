package app

import (
	"context"
	"net/http"
	"testing"

	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
)

func createTestBooking(t *testing.T, a *App, customerID string) domain.Booking {
	t.Helper()
	booking, err := a.CreateBooking(context.Background(), customerID, CreateBookingParams{
		ServiceType: "roadworthy-inspection",
		Description: "pre-sale check",
		Location:    "Brisbane",
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return booking
}

func TestCreateBookingDefaults(t *testing.T) {
	a, _ := newTestApp(t)
	owner := registerTestUser(t, a, "owner@x.com", "")

	booking := createTestBooking(t, a, owner.ID)
	if booking.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", booking.Status)
	}
	if booking.BookingNumber == "" {
		t.Fatalf("expected generated booking number")
	}
	if booking.CustomerID != owner.ID {
		t.Fatalf("customer = %q, want %q", booking.CustomerID, owner.ID)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	a, _ := newTestApp(t)
	owner := registerTestUser(t, a, "owner@x.com", "")

	_, err := a.CreateBooking(context.Background(), owner.ID, CreateBookingParams{ServiceType: "  "})
	wantStatus(t, err, http.StatusBadRequest)

	_, err = a.CreateBooking(context.Background(), owner.ID, CreateBookingParams{
		ServiceType:   "inspection",
		ScheduledDate: "next tuesday",
	})
	wantStatus(t, err, http.StatusBadRequest)

	booking, err := a.CreateBooking(context.Background(), owner.ID, CreateBookingParams{
		ServiceType:   "inspection",
		ScheduledDate: "2026-09-15",
	})
	if err != nil {
		t.Fatalf("create with date-only schedule: %v", err)
	}
	if booking.ScheduledDate == nil {
		t.Fatalf("expected parsed scheduled date")
	}
}

func TestBookingOwnershipIsIndistinguishable(t *testing.T) {
	a, _ := newTestApp(t)
	owner := registerTestUser(t, a, "owner@x.com", "")
	intruder := registerTestUser(t, a, "intruder@x.com", "")
	booking := createTestBooking(t, a, owner.ID)

	_, foreign := a.GetBooking(booking.ID, intruder.ID)
	wantStatus(t, foreign, http.StatusNotFound)

	_, missing := a.GetBooking("no-such-id", owner.ID)
	wantStatus(t, missing, http.StatusNotFound)

	if err := a.DeleteBooking(booking.ID, owner.ID); err != nil {
		t.Fatalf("delete booking: %v", err)
	}
	_, deleted := a.GetBooking(booking.ID, owner.ID)
	wantStatus(t, deleted, http.StatusNotFound)

	if foreign.Error() != missing.Error() || missing.Error() != deleted.Error() {
		t.Fatalf("foreign/missing/deleted must be indistinguishable: %q %q %q",
			foreign.Error(), missing.Error(), deleted.Error())
	}
}

func TestUpdateBooking(t *testing.T) {
	a, _ := newTestApp(t)
	owner := registerTestUser(t, a, "owner@x.com", "")
	intruder := registerTestUser(t, a, "intruder@x.com", "")
	booking := createTestBooking(t, a, owner.ID)

	status := "confirmed"
	location := "Gold Coast"
	updated, err := a.UpdateBooking(booking.ID, owner.ID, BookingUpdateParams{
		Status:   &status,
		Location: &location,
	})
	if err != nil {
		t.Fatalf("update booking: %v", err)
	}
	if updated.Status != domain.StatusConfirmed || updated.Location != "Gold Coast" {
		t.Fatalf("partial update not applied: %+v", updated)
	}
	if updated.ServiceType != booking.ServiceType {
		t.Fatalf("untouched field changed: %q", updated.ServiceType)
	}
	if updated.BookingNumber != booking.BookingNumber {
		t.Fatalf("booking number must never change")
	}

	bad := "archived"
	_, err = a.UpdateBooking(booking.ID, owner.ID, BookingUpdateParams{Status: &bad})
	wantStatus(t, err, http.StatusBadRequest)

	_, err = a.UpdateBooking(booking.ID, owner.ID, BookingUpdateParams{})
	wantStatus(t, err, http.StatusBadRequest)

	_, err = a.UpdateBooking(booking.ID, intruder.ID, BookingUpdateParams{Status: &status})
	wantStatus(t, err, http.StatusNotFound)
}

func TestSoftDeleteKeepsPrivilegedVisibility(t *testing.T) {
	a, _ := newTestApp(t)
	owner := registerTestUser(t, a, "owner@x.com", "")
	booking := createTestBooking(t, a, owner.ID)

	if err := a.DeleteBooking(booking.ID, owner.ID); err != nil {
		t.Fatalf("delete booking: %v", err)
	}

	own, err := a.ListBookings(owner.ID)
	if err != nil {
		t.Fatalf("list bookings: %v", err)
	}
	if len(own) != 0 {
		t.Fatalf("deleted booking still visible to owner: %d", len(own))
	}

	all, err := a.AdminListBookings(true)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("deleted booking missing from privileged listing: %d", len(all))
	}

	live, err := a.AdminListBookings(false)
	if err != nil {
		t.Fatalf("admin list live: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("deleted booking leaked into live listing: %d", len(live))
	}
}

func TestListBookingsNewestFirst(t *testing.T) {
	a, _ := newTestApp(t)
	owner := registerTestUser(t, a, "owner@x.com", "")
	createTestBooking(t, a, owner.ID)
	second := createTestBooking(t, a, owner.ID)

	bookings, err := a.ListBookings(owner.ID)
	if err != nil {
		t.Fatalf("list bookings: %v", err)
	}
	if len(bookings) != 2 {
		t.Fatalf("bookings = %d, want 2", len(bookings))
	}
	if bookings[0].ID != second.ID {
		t.Fatalf("expected newest booking first")
	}
}
