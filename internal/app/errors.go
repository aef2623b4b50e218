package app

import "net/http"

// Messages that clients see. Credential and ownership failures are kept
// generic so responses cannot be used to probe which accounts or bookings
// exist.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgBookingNotFound    = "Booking not found"
	msgUserNotFound       = "User not found"
)

// Error is a domain failure carrying the HTTP status the boundary layer
// should respond with.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func validationError(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: message}
}

func conflictError(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: message}
}

func notFoundError(message string) *Error {
	return &Error{Status: http.StatusNotFound, Message: message}
}

func invalidCredentialsError() *Error {
	return &Error{Status: http.StatusUnauthorized, Message: msgInvalidCredentials}
}
