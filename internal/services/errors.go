package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed or missing input. The caller can
// recover by resubmitting.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AuthorizationError reports that the caller is not the resource owner or
// the assigned provider.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// ConflictError reports a violated state precondition, e.g. the post is no
// longer available. The caller should refresh and retry the higher-level
// action.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// InsufficientBalanceError is the negative-balance guard. It is a
// user-facing business message, not a system fault.
type InsufficientBalanceError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("solde insuffisant: balance %d FCFA, required %d FCFA", e.Balance, e.Required)
}

// NotFoundError reports an operation on a post, application or session
// that no longer exists, commonly a race with cancellation or completion.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// WriteError maps the error taxonomy onto HTTP statuses and writes a JSON
// error response. Unrecognized errors are reported as 500 without leaking
// internals.
func WriteError(w http.ResponseWriter, err error) {
	var (
		validationErr   *ValidationError
		authErr         *AuthorizationError
		notFoundErr     *NotFoundError
		conflictErr     *ConflictError
		insufficientErr *InsufficientBalanceError
	)

	switch {
	case errors.As(err, &validationErr):
		SendErrorResponse(w, validationErr.Message, http.StatusBadRequest, nil)
	case errors.As(err, &authErr):
		SendErrorResponse(w, authErr.Message, http.StatusForbidden, nil)
	case errors.As(err, &notFoundErr):
		SendErrorResponse(w, notFoundErr.Error(), http.StatusNotFound, nil)
	case errors.As(err, &conflictErr):
		SendErrorResponse(w, conflictErr.Message, http.StatusConflict, nil)
	case errors.As(err, &insufficientErr):
		SendErrorResponse(w, insufficientErr.Error(), http.StatusUnprocessableEntity, nil)
	default:
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
