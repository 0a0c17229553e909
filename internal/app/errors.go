package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ac484/Xuanwu-sub001/internal/auth"
	"github.com/ac484/Xuanwu-sub001/internal/session"
	"github.com/ac484/Xuanwu-sub001/internal/store"
)

// DomainError is an error with a fixed HTTP status and wire code. It is
// reported as-is on both the REST and the live surface.
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

var errNoActor = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)

func invalidInput(err error) error {
	return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
}

// mapError translates session, storage and auth errors into a DomainError.
// Failed writes carry the action name in details.
func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var details any
	var writeErr *session.WriteError
	if errors.As(err, &writeErr) {
		details = map[string]any{"action": writeErr.Action}
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	case errors.Is(err, session.ErrForbidden):
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", details)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", details)
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, session.ErrSpaceRequired):
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), details)
	case errors.Is(err, session.ErrNotResolvable):
		return domainError(http.StatusConflict, "NOT_RESOLVABLE", "Context is not resolvable", details)
	case errors.Is(err, session.ErrClosed):
		return domainError(http.StatusConflict, "SESSION_CLOSED", "Session closed", details)
	}
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", details)
}

// body is the JSON error payload shared by REST responses and live error
// frames.
func (e *DomainError) body() map[string]any {
	response := map[string]any{
		"code":  e.Code,
		"error": e.Message,
	}
	if e.Details != nil {
		response["details"] = e.Details
	}
	return response
}
