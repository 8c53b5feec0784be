package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/windorg/woc-sub000/internal/auth"
	"github.com/windorg/woc-sub000/internal/cards"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)

var errNotificationsDisabled = domainError(http.StatusServiceUnavailable, "NOTIFICATIONS_DISABLED", "Notifications are not configured", nil)

// mapError turns any error returned by the service into a response triple.
// Unknown errors become a generic 500 so internal detail never leaks.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, cards.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, cards.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, cards.ErrCycle):
		return http.StatusConflict, "CYCLE_REJECTED", "A card cannot be moved under itself or its descendants", nil
	case errors.Is(err, cards.ErrBadPlacement):
		return http.StatusUnprocessableEntity, "BAD_PLACEMENT", "Provide exactly one of position, before or after", nil
	case errors.Is(err, cards.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, cards.ErrConflict):
		return http.StatusServiceUnavailable, "TRANSIENT_CONFLICT", "Concurrent update, try again", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
