package token

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
)

const defaultTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidToken covers malformed tokens and bad signatures.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for structurally valid tokens past expiry.
	// Callers facing clients must collapse both errors to one generic 401.
	ErrTokenExpired = errors.New("token expired")
)

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies signed identity tokens. The signing key and
// expiry are fixed at construction and shared process-wide.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService builds a token service. A non-positive ttl falls back to 7 days.
func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue creates a signed HS256 token carrying the user's id, email and role.
func (s *Service) Issue(userID, email string, role domain.UserRole) (string, error) {
	now := time.Now().UTC()
	c := claims{
		Email: email,
		Role:  string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// Verify validates signature and expiry and returns the encoded identity.
func (s *Service) Verify(raw string) (domain.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Identity{}, ErrInvalidToken
	}
	c := claims{}
	parsed, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, ErrTokenExpired
		}
		return domain.Identity{}, ErrInvalidToken
	}
	if !parsed.Valid || strings.TrimSpace(c.Subject) == "" {
		return domain.Identity{}, ErrInvalidToken
	}
	return domain.Identity{
		ID:    c.Subject,
		Email: c.Email,
		Role:  domain.UserRole(c.Role),
	}, nil
}
