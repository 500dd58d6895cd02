package search

import (
	"context"
	"strings"

	"formsmith/api/internal/form"
)

// Result is a single search hit returned to the caller.
type Result struct {
	FormID     string `json:"formId"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Lifecycle  string `json:"lifecycleState"`
	OwnerEmail string `json:"ownerEmail"`
}

// Query describes a search request. Email scopes hits to forms the actor
// owns or collaborates on.
type Query struct {
	Text            string
	Email           string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Backend is a searcher that also owns an index.
type Backend interface {
	Searcher
	IndexForms(records []FormRecord) error
	DeleteForm(id string) error
}

// FormRecord is the data we index for a form.
type FormRecord struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ElementLabels []string `json:"elementLabels"`
	OwnerEmail    string   `json:"ownerEmail"`
	Members       []string `json:"members"`
	Lifecycle     string   `json:"lifecycleState"`
	Archived      bool     `json:"archived"`
	UpdatedAt     int64    `json:"updatedAt"`
}

// RecordFor builds the index record of a persisted form. Members are the
// lowercased owner and collaborator emails.
func RecordFor(doc form.Document, collaborators []form.Collaborator) FormRecord {
	labels := make([]string, 0, len(doc.Elements))
	for _, el := range doc.Elements {
		if label := strings.TrimSpace(el.Label); label != "" {
			labels = append(labels, label)
		}
	}
	members := []string{normalizeEmail(doc.OwnerEmail)}
	for _, c := range collaborators {
		members = append(members, normalizeEmail(c.Email))
	}
	return FormRecord{
		ID:            doc.ID,
		Title:         doc.Title,
		Description:   doc.Description,
		ElementLabels: labels,
		OwnerEmail:    doc.OwnerEmail,
		Members:       members,
		Lifecycle:     string(doc.Lifecycle),
		Archived:      doc.Archived,
		UpdatedAt:     doc.UpdatedAt.Unix(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
