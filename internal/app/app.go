package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kyshr/asap-roadworthy-test-backend/internal/util"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/auth"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/storage"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/store"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/token"
)

const (
	minNameLength = 2
	maxNameLength = 50
)

// Config holds the dependencies and knobs for the core application.
type Config struct {
	Store             store.Store
	Tokens            *token.Service
	Objects           storage.ObjectStore
	BcryptCost        int
	AllowedExtensions []string
	MaxUploadBytes    int64
}

// App is the orchestration layer: it sequences credential, token, ownership
// and storage calls and translates their failures into client-facing errors.
type App struct {
	store       store.Store
	tokens      *token.Service
	objects     storage.ObjectStore
	numbers     *NumberGenerator
	bcryptCost  int
	allowedExts map[string]bool
	maxUpload   int64
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token service is required")
	}
	exts := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}
	return &App{
		store:       cfg.Store,
		tokens:      cfg.Tokens,
		objects:     cfg.Objects,
		numbers:     NewNumberGenerator(cfg.Store.HasBookingNumber),
		bcryptCost:  cfg.BcryptCost,
		allowedExts: exts,
		maxUpload:   cfg.MaxUploadBytes,
	}, nil
}

// RegisterParams carries a registration request.
type RegisterParams struct {
	Name        string
	Email       string
	Password    string
	PhoneNumber string
	Role        string
}

// Register creates a user and issues a token for it. The existence
// pre-checks are a fast path only; the store's unique indexes are the
// guarantee, and duplicate-key failures from a concurrent insert are
// translated to the same conflict error.
func (a *App) Register(p RegisterParams) (domain.User, string, error) {
	name := strings.TrimSpace(p.Name)
	email := strings.TrimSpace(strings.ToLower(p.Email))
	phone := strings.TrimSpace(p.PhoneNumber)

	if len(name) < minNameLength || len(name) > maxNameLength {
		return domain.User{}, "", validationError(fmt.Sprintf("Name must be between %d and %d characters", minNameLength, maxNameLength))
	}
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, "", validationError("Please provide a valid email")
	}
	if err := auth.ValidatePassword(p.Password); err != nil {
		return domain.User{}, "", validationError(err.Error())
	}
	role := domain.RoleUser
	if p.Role != "" {
		role = domain.UserRole(p.Role)
		if role != domain.RoleUser && role != domain.RoleAdmin {
			return domain.User{}, "", validationError("Invalid role")
		}
	}

	if _, found, err := a.store.GetUserByEmail(email); err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	} else if found {
		return domain.User{}, "", conflictError("User already exists with this email or phone number")
	}
	if phone != "" {
		if _, found, err := a.store.GetUserByPhone(phone); err != nil {
			return domain.User{}, "", fmt.Errorf("check phone: %w", err)
		} else if found {
			return domain.User{}, "", conflictError("User already exists with this phone number")
		}
	}

	passwordHash, err := auth.HashPassword(p.Password, a.bcryptCost)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		PhoneNumber:  phone,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return domain.User{}, "", conflictError("User already exists with this email or phone number")
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	return a.issueToken(user)
}

// Login validates credentials and issues a token. The identifier is treated
// as an email when it contains "@", otherwise as a phone number. Unknown
// identifier and wrong password produce the same generic error.
func (a *App) Login(identifier, password string) (domain.User, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return domain.User{}, "", validationError("Please provide email/phone and password")
	}

	var (
		user  domain.User
		found bool
		err   error
	)
	if strings.Contains(identifier, "@") {
		user, found, err = a.store.GetUserByEmail(strings.ToLower(identifier))
	} else {
		user, found, err = a.store.GetUserByPhone(identifier)
	}
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		return domain.User{}, "", invalidCredentialsError()
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", invalidCredentialsError()
	}
	return a.issueToken(user)
}

// Me returns the public profile for an authenticated user id.
func (a *App) Me(userID string) (domain.User, error) {
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		return domain.User{}, notFoundError(msgUserNotFound)
	}
	return user, nil
}

// UpdatePassword verifies the current password and stores a new hash.
func (a *App) UpdatePassword(userID, currentPassword, newPassword string) (domain.User, error) {
	if currentPassword == "" {
		return domain.User{}, validationError("Current password is required")
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return domain.User{}, validationError(err.Error())
	}
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		return domain.User{}, notFoundError(msgUserNotFound)
	}
	if !auth.CheckPassword(currentPassword, user.PasswordHash) {
		return domain.User{}, invalidCredentialsError()
	}
	hash, err := auth.HashPassword(newPassword, a.bcryptCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	if err := a.store.UpdateUserPassword(userID, hash); err != nil {
		return domain.User{}, fmt.Errorf("update password: %w", err)
	}
	user.PasswordHash = hash
	return user, nil
}

func (a *App) issueToken(user domain.User) (domain.User, string, error) {
	signed, err := a.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, signed, nil
}
