package form

import (
	"encoding/json"
	"fmt"
	"time"
)

// CollaboratorRole is the delegated access level. The owner is never stored
// as a collaborator.
type CollaboratorRole string

const (
	CollaboratorViewer CollaboratorRole = "viewer"
	CollaboratorEditor CollaboratorRole = "editor"
)

func ParseCollaboratorRole(raw string) (CollaboratorRole, error) {
	switch CollaboratorRole(raw) {
	case CollaboratorViewer, CollaboratorEditor:
		return CollaboratorRole(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown collaborator role %q", ErrInvalidOperation, raw)
	}
}

type Collaborator struct {
	ID        string           `json:"id"`
	FormID    string           `json:"formId"`
	Email     string           `json:"email"`
	Role      CollaboratorRole `json:"role"`
	CreatedAt time.Time        `json:"createdAt"`
}

// CommentTarget is either a single element or the form as a whole.
type CommentTarget struct {
	elementID string
}

// FormLevel targets the whole form.
func FormLevel() CommentTarget {
	return CommentTarget{}
}

// OnElement targets one element. An empty id is the form level.
func OnElement(elementID string) CommentTarget {
	return CommentTarget{elementID: elementID}
}

func (t CommentTarget) IsFormLevel() bool {
	return t.elementID == ""
}

// ElementID returns the targeted element id and false for form-level
// comments.
func (t CommentTarget) ElementID() (string, bool) {
	return t.elementID, t.elementID != ""
}

func (t CommentTarget) MarshalJSON() ([]byte, error) {
	if t.IsFormLevel() {
		return []byte("null"), nil
	}
	return json.Marshal(t.elementID)
}

func (t *CommentTarget) UnmarshalJSON(data []byte) error {
	var id *string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if id == nil {
		*t = FormLevel()
		return nil
	}
	*t = OnElement(*id)
	return nil
}

// Comment content may embed @email mentions as plain text; they are
// re-parsed on display.
type Comment struct {
	ID                string        `json:"id"`
	FormID            string        `json:"formId"`
	Target            CommentTarget `json:"elementId"`
	Content           string        `json:"content"`
	AuthorEmail       string        `json:"authorEmail"`
	AuthorDisplayName string        `json:"authorDisplayName"`
	CreatedAt         time.Time     `json:"createdAt"`
}
