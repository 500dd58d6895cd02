package store

import (
	"time"

	"formsmith/api/internal/form"
)

// FormSummary is a row of the actor's form list.
type FormSummary struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	OwnerEmail   string         `json:"ownerEmail"`
	Lifecycle    form.Lifecycle `json:"lifecycleState"`
	Archived     bool           `json:"archived"`
	Role         string         `json:"role"`
	ElementCount int            `json:"elementCount"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	LastEditedAt *time.Time     `json:"lastEditedAt"`
}

// Response is a submitted answer set. Answers are keyed by element id.
type Response struct {
	ID              string
	FormID          string
	RespondentEmail string
	Answers         map[string]any
	SubmittedAt     time.Time
}
