// Package form holds the in-memory model of a form under construction: its
// metadata, the ordered element list and each element's ordered options.
package form

import (
	"fmt"
	"slices"
	"time"
)

// Lifecycle is the publication state of a form. It advances
// draft -> in_progress -> published, or is force-set to draft/published by an
// explicit owner action.
type Lifecycle string

const (
	LifecycleDraft      Lifecycle = "draft"
	LifecycleInProgress Lifecycle = "in_progress"
	LifecyclePublished  Lifecycle = "published"
)

// DefaultTitle is the title a fresh form is seeded with.
const DefaultTitle = "Untitled form"

func ParseLifecycle(raw string) (Lifecycle, error) {
	switch Lifecycle(raw) {
	case LifecycleDraft, LifecycleInProgress, LifecyclePublished:
		return Lifecycle(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown lifecycle %q", ErrInvalidOperation, raw)
	}
}

type Settings struct {
	CollectEmail         bool       `json:"collectEmail"`
	LimitToOneResponse   bool       `json:"limitToOneResponse"`
	AllowResponseEditing bool       `json:"allowResponseEditing"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
}

func (s Settings) Equal(other Settings) bool {
	if s.CollectEmail != other.CollectEmail ||
		s.LimitToOneResponse != other.LimitToOneResponse ||
		s.AllowResponseEditing != other.AllowResponseEditing {
		return false
	}
	if s.ExpiresAt == nil || other.ExpiresAt == nil {
		return s.ExpiresAt == other.ExpiresAt
	}
	return s.ExpiresAt.Equal(*other.ExpiresAt)
}

func (s Settings) clone() Settings {
	out := s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// Document is the root aggregate. ID is empty until the first persistence
// call assigns one.
type Document struct {
	ID           string     `json:"id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	ThemeColor   string     `json:"themeColor"`
	LogoURL      string     `json:"logoUrl"`
	Lifecycle    Lifecycle  `json:"lifecycleState"`
	Settings     Settings   `json:"settings"`
	Elements     []Element  `json:"elements"`
	OwnerEmail   string     `json:"ownerEmail"`
	Archived     bool       `json:"archived"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastEditedAt *time.Time `json:"lastEditedAt"`
}

// NewDocument seeds an unpersisted form with one default element.
func NewDocument(ownerEmail string, now time.Time) Document {
	el, _ := DefaultElement(KindShortText)
	return Document{
		Title:      DefaultTitle,
		Lifecycle:  LifecycleDraft,
		Elements:   []Element{el},
		OwnerEmail: ownerEmail,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Persisted reports whether the form has a remote record.
func (d Document) Persisted() bool {
	return d.ID != ""
}

func (d Document) Clone() Document {
	out := d
	out.Settings = d.Settings.clone()
	out.Elements = make([]Element, len(d.Elements))
	for i, el := range d.Elements {
		out.Elements[i] = el.Clone()
	}
	if d.LastEditedAt != nil {
		t := *d.LastEditedAt
		out.LastEditedAt = &t
	}
	return out
}

// Content projects the user-edited fields.
func (d Document) Content() Content {
	elements := make([]Element, len(d.Elements))
	for i, el := range d.Elements {
		elements[i] = el.Clone()
	}
	return Content{
		Title:       d.Title,
		Description: d.Description,
		ThemeColor:  d.ThemeColor,
		LogoURL:     d.LogoURL,
		Settings:    d.Settings.clone(),
		Elements:    elements,
	}
}

// ApplyContent overwrites the user-edited fields with c.
func (d *Document) ApplyContent(c Content) {
	clone := c.Clone()
	d.Title = clone.Title
	d.Description = clone.Description
	d.ThemeColor = clone.ThemeColor
	d.LogoURL = clone.LogoURL
	d.Settings = clone.Settings
	d.Elements = clone.Elements
}

// IsPristine reports whether the form was never persisted and still matches
// the seeded default (default title, one default element, no other edits).
func (d Document) IsPristine() bool {
	if d.Persisted() {
		return false
	}
	if d.Title != DefaultTitle || d.Description != "" || d.ThemeColor != "" || d.LogoURL != "" {
		return false
	}
	if !d.Settings.Equal(Settings{}) || len(d.Elements) != 1 {
		return false
	}
	seed, _ := DefaultElement(KindShortText)
	return d.Elements[0].sameShape(seed)
}

// IsEdited drives the "Edited" badge: content changed later than threshold
// after creation.
func (d Document) IsEdited(threshold time.Duration) bool {
	if d.LastEditedAt == nil {
		return false
	}
	return d.LastEditedAt.Sub(d.CreatedAt) > threshold
}

// ElementIndex returns the position of the element with id, or -1.
func (d Document) ElementIndex(id string) int {
	return slices.IndexFunc(d.Elements, func(el Element) bool { return el.ID == id })
}

// Content is the persisted-content projection of a Document. It is the local
// backup snapshot and the unit of the edited-content diff.
type Content struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ThemeColor  string    `json:"themeColor"`
	LogoURL     string    `json:"logoUrl"`
	Settings    Settings  `json:"settings"`
	Elements    []Element `json:"elements"`
}

func (c Content) Clone() Content {
	out := c
	out.Settings = c.Settings.clone()
	out.Elements = make([]Element, len(c.Elements))
	for i, el := range c.Elements {
		out.Elements[i] = el.Clone()
	}
	return out
}

func (c Content) Equal(other Content) bool {
	return c.Title == other.Title &&
		c.Description == other.Description &&
		c.ThemeColor == other.ThemeColor &&
		c.LogoURL == other.LogoURL &&
		c.Settings.Equal(other.Settings) &&
		slices.EqualFunc(c.Elements, other.Elements, Element.Equal)
}
