package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTokenExpired is returned before any request is made when the configured
// access token has already expired.
var ErrTokenExpired = errors.New("access token expired")

// StatusError описывает ответ сервера с кодом вне диапазона 2xx
type StatusError struct {
	Message    string // Message сообщение из ErrorResponse или тело ответа
	StatusCode int    // StatusCode HTTP код ответа
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Permanent reports whether retrying the same request cannot succeed.
// 401 and 429 are treated as transient: the token can be rotated and the
// limiter drains.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusConflict,
		http.StatusGone,
		http.StatusRequestEntityTooLarge,
		http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// IsStatus reports whether err carries a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
