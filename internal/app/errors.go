package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"formsmith/api/internal/auth"
	"formsmith/api/internal/autosave"
	"formsmith/api/internal/form"
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

// mapError turns an engine error into the JSON error envelope. Order matters:
// a publish failure that wraps a save failure is reported as a publish
// failure.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", validationDetails(validationErrs)
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, form.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, form.ErrPublishFailed):
		return http.StatusBadGateway, "PUBLISH_FAILED", "Publish failed", nil
	case errors.Is(err, form.ErrSaveFailed):
		return http.StatusBadGateway, "SAVE_FAILED", "Save failed", nil
	case errors.Is(err, form.ErrNotSaved):
		return http.StatusConflict, "NOT_SAVED", "Form has not been saved; give it a title first", nil
	case errors.Is(err, form.ErrAlreadyCollaborator):
		return http.StatusConflict, "ALREADY_COLLABORATOR", "Already a collaborator", nil
	case errors.Is(err, autosave.ErrSaveInFlight):
		return http.StatusConflict, "SAVE_IN_FLIGHT", "A save is already in progress", nil
	case errors.Is(err, autosave.ErrClosed):
		return http.StatusGone, "SESSION_CLOSED", "Editing session closed", nil
	case errors.Is(err, form.ErrInvalidKind):
		return http.StatusUnprocessableEntity, "INVALID_KIND", err.Error(), nil
	case errors.Is(err, form.ErrInvalidOperation):
		return http.StatusUnprocessableEntity, "INVALID_OPERATION", err.Error(), nil
	case errors.Is(err, form.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func validationDetails(errs validator.ValidationErrors) []map[string]string {
	out := make([]map[string]string, 0, len(errs))
	for _, fe := range errs {
		out = append(out, map[string]string{
			"field": fe.Field(),
			"rule":  fe.Tag(),
		})
	}
	return out
}
