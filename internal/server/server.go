package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kyshr/asap-roadworthy-test-backend/internal/app"
	"github.com/kyshr/asap-roadworthy-test-backend/internal/ratelimit"
	"github.com/kyshr/asap-roadworthy-test-backend/internal/util"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/domain"
	"github.com/kyshr/asap-roadworthy-test-backend/pkg/token"
)

const tokenCookieName = "token"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	Tokens        *token.Service
	Env           string
	CORSOrigin    string
	CookieTTL     time.Duration
	RedisAddr     string
	RedisPassword string

	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int

	MaxUploadBytes int64
	TrustedProxies *util.TrustedProxies
}

// Server exposes the HTTP API.
type Server struct {
	app        *app.App
	tokens     *token.Service
	mux        *http.ServeMux
	env        string
	corsOrigin string
	cookieTTL  time.Duration

	maxUploadBytes  int64
	trustedProxies  *util.TrustedProxies
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token service is required")
	}
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "asap:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	cookieTTL := cfg.CookieTTL
	if cookieTTL <= 0 {
		cookieTTL = cfg.Tokens.TTL()
	}
	s := &Server{
		app:             cfg.App,
		tokens:          cfg.Tokens,
		mux:             http.NewServeMux(),
		env:             cfg.Env,
		corsOrigin:      cfg.CORSOrigin,
		cookieTTL:       cookieTTL,
		maxUploadBytes:  normalizeMaxBytes(cfg.MaxUploadBytes),
		trustedProxies:  cfg.TrustedProxies,
		registerLimiter: registerLimiter,
		loginLimiter:    loginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in the ambient middleware.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.corsOrigin, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/auth/password", s.authenticated(s.handleUpdatePassword))

	// bookings & messages (auth required)
	s.mux.Handle("/api/bookings", s.authenticated(s.handleBookings))
	s.mux.Handle("/api/bookings/", s.authenticated(s.handleBookingByID))
	s.mux.Handle("/api/messages/booking/", s.authenticated(s.handleBookingMessages))

	// admin
	s.mux.Handle("/api/admin/bookings", s.requireRoles(s.handleAdminBookings, domain.RoleAdmin))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, "Server is running")
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Identity)

// authenticated resolves a token (http-only cookie first, bearer header as
// fallback for clients that cannot use cookies), verifies it and passes the
// identity on. Absent, malformed and expired tokens all produce the same
// 401.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
			return
		}
		next(w, r, identity)
	})
}

// requireRoles is the secondary guard behind authenticated: role mismatch is
// a 403, and a missing identity still fails closed with a 401.
func (s *Server) requireRoles(next authHandler, roles ...domain.UserRole) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
		if identity.ID == "" {
			writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
			return
		}
		for _, role := range roles {
			if identity.Role == role {
				next(w, r, identity)
				return
			}
		}
		s.audit(r, "authorize.role", "fail", "user_id", identity.ID, "role", string(identity.Role))
		writeError(w, http.StatusForbidden,
			fmt.Sprintf("User role '%s' is not authorized to access this route", identity.Role))
	})
}

func (s *Server) authorize(r *http.Request) (domain.Identity, bool) {
	raw, ok := tokenFromRequest(r)
	if !ok {
		s.audit(r, "token.verify", "fail", "reason", "missing_token")
		return domain.Identity{}, false
	}
	identity, err := s.tokens.Verify(raw)
	if err != nil {
		s.audit(r, "token.verify", "fail", "reason", "invalid_or_expired")
		return domain.Identity{}, false
	}
	return identity, true
}

// tokenFromRequest extracts at most one token source: the cookie wins, the
// Authorization header is the fallback.
func tokenFromRequest(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(tokenCookieName); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return cookie.Value, true
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if raw == "" {
		return "", false
	}
	return raw, true
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "Too many registration attempts") {
		s.audit(r, "auth.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	user, signed, err := s.app.Register(app.RegisterParams{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		Role:        req.Role,
	})
	if err != nil {
		s.audit(r, "auth.register", "fail")
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.register", "success", "user_id", user.ID)
	s.setTokenCookie(w, signed)
	writeSuccess(w, http.StatusCreated, map[string]any{"user": user, "token": signed}, "User registered successfully")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "Too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	identifier := strings.TrimSpace(req.Email)
	if identifier == "" {
		identifier = strings.TrimSpace(req.PhoneNumber)
	}
	user, signed, err := s.app.Login(identifier, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail")
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	s.setTokenCookie(w, signed)
	writeSuccess(w, http.StatusOK, map[string]any{"user": user, "token": signed}, "User logged in successfully")
}

// handleLogout clears the cookie. Tokens are stateless, so an already
// issued token stays valid until expiry.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.clearTokenCookie(w)
	writeSuccess(w, http.StatusOK, nil, "User logged out successfully")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.app.Me(identity.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"user": user}, "")
}

func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "Too many password attempts") {
		s.audit(r, "auth.password", "rate_limited")
		return
	}
	var req updatePasswordRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	user, err := s.app.UpdatePassword(identity.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		s.audit(r, "auth.password", "fail", "user_id", identity.ID)
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.password", "success", "user_id", identity.ID)
	writeSuccess(w, http.StatusOK, map[string]any{"user": user}, "Password updated successfully")
}

// /api/bookings
func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		bookings, err := s.app.ListBookings(identity.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"bookings": bookings, "count": len(bookings)}, "")
	case http.MethodPost:
		var req createBookingRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		booking, err := s.app.CreateBooking(r.Context(), identity.ID, app.CreateBookingParams{
			ServiceType:   req.ServiceType,
			Description:   req.Description,
			ScheduledDate: req.ScheduledDate,
			Location:      req.Location,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusCreated, map[string]any{"booking": booking}, "Booking created successfully")
	default:
		methodNotAllowed(w)
	}
}

// /api/bookings/{id} and /api/bookings/{id}/attachments
func (s *Server) handleBookingByID(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/api/bookings/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if parts[1] == "attachments" || strings.HasPrefix(parts[1], "attachments/") {
			rest := strings.TrimPrefix(strings.TrimPrefix(parts[1], "attachments"), "/")
			s.handleBookingAttachments(w, r, identity, id, rest)
			return
		}
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		booking, err := s.app.GetBooking(id, identity.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"booking": booking}, "")
	case http.MethodPut:
		var req updateBookingRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		booking, err := s.app.UpdateBooking(id, identity.ID, app.BookingUpdateParams{
			Status:        req.Status,
			ServiceType:   req.ServiceType,
			Description:   req.Description,
			ScheduledDate: req.ScheduledDate,
			Location:      req.Location,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"booking": booking}, "Booking updated successfully")
	case http.MethodDelete:
		if err := s.app.DeleteBooking(id, identity.ID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, nil, "Booking deleted successfully")
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookingAttachments(w http.ResponseWriter, r *http.Request, identity domain.Identity, bookingID, rest string) {
	// /api/bookings/{id}/attachments/{attachmentId}/download
	if rest != "" {
		attachmentParts := strings.SplitN(rest, "/", 2)
		if len(attachmentParts) != 2 || attachmentParts[1] != "download" || attachmentParts[0] == "" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		url, err := s.app.AttachmentDownloadURL(r.Context(), bookingID, identity.ID, attachmentParts[0])
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]string{"url": url}, "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		attachments, err := s.app.ListAttachments(bookingID, identity.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"attachments": attachments, "count": len(attachments)}, "")
	case http.MethodPost:
		s.handleUploadAttachment(w, r, identity, bookingID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request, identity domain.Identity, bookingID string) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required (field: file)")
		return
	}
	defer file.Close()

	attachment, err := s.app.AddAttachment(r.Context(), bookingID, identity.ID,
		header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"attachment": attachment}, "Attachment uploaded successfully")
}

// /api/messages/booking/{bookingId} and /api/messages/booking/{bookingId}/read
func (s *Server) handleBookingMessages(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/api/messages/booking/")
	parts := strings.SplitN(path, "/", 2)
	bookingID := parts[0]
	if bookingID == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if parts[1] == "read" && r.Method == http.MethodPost {
			if err := s.app.MarkMessagesRead(bookingID, identity.ID); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeSuccess(w, http.StatusOK, nil, "Messages marked as read")
			return
		}
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		messages, err := s.app.ListMessages(bookingID, identity.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"messages": messages, "count": len(messages)}, "")
	case http.MethodPost:
		var req createMessageRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		message, err := s.app.CreateMessage(bookingID, identity, req.Content)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusCreated, map[string]any{"message": message}, "Message sent successfully")
	default:
		methodNotAllowed(w)
	}
}

// admin handlers
func (s *Server) handleAdminBookings(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	includeDeleted := r.URL.Query().Get("includeDeleted") == "true"
	bookings, err := s.app.AdminListBookings(includeDeleted)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"bookings": bookings, "count": len(bookings)}, "")
}

// cookie helpers
func (s *Server) setTokenCookie(w http.ResponseWriter, signed string) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  time.Now().Add(s.cookieTTL),
		HttpOnly: true,
		Secure:   s.isProduction(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.isProduction(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) isProduction() bool {
	return strings.EqualFold(s.env, "production")
}

// request DTOs
type registerRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber"`
	Role        string `json:"role"`
}

type loginRequest struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type createBookingRequest struct {
	ServiceType   string `json:"serviceType"`
	Description   string `json:"description"`
	ScheduledDate string `json:"scheduledDate"`
	Location      string `json:"location"`
}

type updateBookingRequest struct {
	Status        *string `json:"status"`
	ServiceType   *string `json:"serviceType"`
	Description   *string `json:"description"`
	ScheduledDate *string `json:"scheduledDate"`
	Location      *string `json:"location"`
}

type createMessageRequest struct {
	Content string `json:"content"`
}

// envelope is the uniform response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// writeAppError translates domain errors to responses. Anything without a
// status hint is logged in full and returned as an opaque 500; the detail is
// echoed only outside production.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *app.Error
	if errors.As(err, &appErr) {
		writeError(w, appErr.Status, appErr.Message)
		return
	}
	slog.Error("unhandled error",
		"error", err,
		"path", r.URL.Path,
		"method", r.Method,
		"request_id", util.RequestIDFromRequest(r),
	)
	msg := "Internal server error"
	if !s.isProduction() {
		msg = err.Error()
	}
	writeError(w, http.StatusInternalServerError, msg)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 20 * 1024 * 1024
	}
	return value
}
