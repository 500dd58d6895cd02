package form

import (
	"errors"

	"formsmith/api/internal/listops"
)

// Error taxonomy shared by the editing engine. Callers wrap these with
// fmt.Errorf("...: %w") and the HTTP layer maps them with errors.Is.
var (
	// ErrForbidden means the acting identity lacks the capability for the
	// mutation. The mutation is not applied.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidKind is returned for an element kind outside the closed set.
	ErrInvalidKind = errors.New("invalid element kind")

	// ErrInvalidOperation covers out-of-range list operations, unknown ids and
	// option removal below the minimum.
	ErrInvalidOperation = listops.ErrInvalidOperation

	// ErrNotSaved is returned when publishing a never-persisted form that has
	// no title to save it under.
	ErrNotSaved = errors.New("form has not been saved")

	// ErrAlreadyCollaborator is returned for a duplicate invite.
	ErrAlreadyCollaborator = errors.New("already a collaborator")

	// ErrSaveFailed wraps a store failure during autosave or manual save.
	ErrSaveFailed = errors.New("save failed")

	// ErrPublishFailed wraps any failure inside the publish action.
	ErrPublishFailed = errors.New("publish failed")

	ErrNotFound = errors.New("not found")
)
