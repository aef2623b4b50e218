package app

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/store"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/token"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	application, err := New(Config{
		Store:      memStore,
		Tokens:     token.NewService("test-secret", time.Hour),
		BcryptCost: 4,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return application, memStore
}

func registerTestUser(t *testing.T, a *App, email, phone string) domain.User {
	t.Helper()
	user, _, err := a.Register(RegisterParams{
		Name:        "Test User",
		Email:       email,
		Password:    "secret1",
		PhoneNumber: phone,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user
}

func wantStatus(t *testing.T, err error, status int) {
	t.Helper()
	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected app error, got %v", err)
	}
	if appErr.Status != status {
		t.Fatalf("status = %d (%q), want %d", appErr.Status, appErr.Message, status)
	}
}

func TestRegisterIssuesTokenAndNormalizesEmail(t *testing.T) {
	a, _ := newTestApp(t)
	user, signed, err := a.Register(RegisterParams{
		Name:     "Alice",
		Email:    "  Alice@Example.COM ",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email = %q, want normalized lowercase", user.Email)
	}
	if user.Role != domain.RoleUser {
		t.Fatalf("role = %q, want default user", user.Role)
	}
	if signed == "" {
		t.Fatalf("expected issued token")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	a, _ := newTestApp(t)
	registerTestUser(t, a, "a@x.com", "0412345678")

	_, _, err := a.Register(RegisterParams{Name: "Other", Email: "A@X.com", Password: "secret1"})
	wantStatus(t, err, http.StatusBadRequest)

	_, _, err = a.Register(RegisterParams{Name: "Other", Email: "b@x.com", Password: "secret1", PhoneNumber: "0412345678"})
	wantStatus(t, err, http.StatusBadRequest)
}

func TestRegisterValidation(t *testing.T) {
	a, _ := newTestApp(t)
	tests := []struct {
		name   string
		params RegisterParams
	}{
		{"short name", RegisterParams{Name: "A", Email: "a@x.com", Password: "secret1"}},
		{"bad email", RegisterParams{Name: "Alice", Email: "not-an-email", Password: "secret1"}},
		{"short password", RegisterParams{Name: "Alice", Email: "a@x.com", Password: "12345"}},
		{"bad role", RegisterParams{Name: "Alice", Email: "a@x.com", Password: "secret1", Role: "superuser"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := a.Register(tc.params)
			wantStatus(t, err, http.StatusBadRequest)
		})
	}
}

func TestLoginByEmailAndPhone(t *testing.T) {
	a, _ := newTestApp(t)
	registerTestUser(t, a, "a@x.com", "0412345678")

	if _, _, err := a.Login("a@x.com", "secret1"); err != nil {
		t.Fatalf("login by email: %v", err)
	}
	if _, _, err := a.Login("A@X.com", "secret1"); err != nil {
		t.Fatalf("login should normalize email case: %v", err)
	}
	if _, _, err := a.Login("0412345678", "secret1"); err != nil {
		t.Fatalf("login by phone: %v", err)
	}
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	a, _ := newTestApp(t)
	registerTestUser(t, a, "a@x.com", "")

	_, _, wrongPassword := a.Login("a@x.com", "wrongpw")
	wantStatus(t, wrongPassword, http.StatusUnauthorized)

	_, _, unknownUser := a.Login("nobody@x.com", "secret1")
	wantStatus(t, unknownUser, http.StatusUnauthorized)

	if wrongPassword.Error() != unknownUser.Error() {
		t.Fatalf("wrong-password and unknown-user messages must match: %q vs %q",
			wrongPassword.Error(), unknownUser.Error())
	}
}

func TestUpdatePassword(t *testing.T) {
	a, _ := newTestApp(t)
	user := registerTestUser(t, a, "a@x.com", "")

	if _, err := a.UpdatePassword(user.ID, "wrongpw", "newsecret"); err == nil {
		t.Fatalf("expected invalid credentials for wrong current password")
	}
	if _, err := a.UpdatePassword(user.ID, "secret1", "short"); err == nil {
		t.Fatalf("expected validation error for short new password")
	}
	if _, err := a.UpdatePassword(user.ID, "secret1", "newsecret"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if _, _, err := a.Login("a@x.com", "secret1"); err == nil {
		t.Fatalf("old password should no longer work")
	}
	if _, _, err := a.Login("a@x.com", "newsecret"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestMe(t *testing.T) {
	a, _ := newTestApp(t)
	user := registerTestUser(t, a, "a@x.com", "")

	got, err := a.Me(user.ID)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if got.Email != "a@x.com" {
		t.Fatalf("email = %q", got.Email)
	}

	_, err = a.Me("missing-id")
	wantStatus(t, err, http.StatusNotFound)
}
