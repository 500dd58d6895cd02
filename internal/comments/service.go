// Package comments implements per-element and form-level comment threads
// with @-mention suggestions.
package comments

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"formsmith/api/internal/form"
	"formsmith/api/internal/rbac"
	"formsmith/api/internal/util"
)

const MaxContentLength = 2000

type Store interface {
	GetForm(ctx context.Context, id string) (form.Document, error)
	ListCollaborators(ctx context.Context, formID string) ([]form.Collaborator, error)
	ListComments(ctx context.Context, formID string) ([]form.Comment, error)
	GetComment(ctx context.Context, formID, commentID string) (form.Comment, error)
	CreateComment(ctx context.Context, c form.Comment) (form.Comment, error)
	DeleteComment(ctx context.Context, formID, commentID string) error
}

type Service struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewService(store Store, log zerolog.Logger) *Service {
	return &Service{store: store, now: time.Now, log: log}
}

type formContext struct {
	doc           form.Document
	collaborators []form.Collaborator
	access        rbac.Access
}

func (s *Service) load(ctx context.Context, actor rbac.Identity, formID string) (formContext, error) {
	doc, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return formContext{}, fmt.Errorf("load form %s: %w", formID, err)
	}
	collaborators, err := s.store.ListCollaborators(ctx, formID)
	if err != nil {
		return formContext{}, fmt.Errorf("load collaborators: %w", err)
	}
	return formContext{
		doc:           doc,
		collaborators: collaborators,
		access:        rbac.ResolveAccess(actor, doc.OwnerEmail, collaborators),
	}, nil
}

// Add appends a comment on an element or on the whole form.
func (s *Service) Add(ctx context.Context, actor rbac.Identity, formID string, target form.CommentTarget, content string) (form.Comment, error) {
	fc, err := s.load(ctx, actor, formID)
	if err != nil {
		return form.Comment{}, err
	}
	if !fc.access.CanComment() {
		return form.Comment{}, fmt.Errorf("comment on form %s: %w", formID, form.ErrForbidden)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return form.Comment{}, fmt.Errorf("%w: comment is empty", form.ErrInvalidOperation)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return form.Comment{}, fmt.Errorf("%w: comment exceeds %d characters", form.ErrInvalidOperation, MaxContentLength)
	}
	if id, ok := target.ElementID(); ok && fc.doc.ElementIndex(id) < 0 {
		return form.Comment{}, fmt.Errorf("%w: element %q not found", form.ErrInvalidOperation, id)
	}

	comment := form.Comment{
		ID:                util.NewID("cmt"),
		FormID:            formID,
		Target:            target,
		Content:           content,
		AuthorEmail:       actor.Email,
		AuthorDisplayName: displayName(actor),
		CreatedAt:         s.now().UTC(),
	}
	created, err := s.store.CreateComment(ctx, comment)
	if err != nil {
		return form.Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return created, nil
}

// Delete removes a comment. Only its author may delete it.
func (s *Service) Delete(ctx context.Context, actor rbac.Identity, formID, commentID string) error {
	comment, err := s.store.GetComment(ctx, formID, commentID)
	if err != nil {
		return fmt.Errorf("load comment %s: %w", commentID, err)
	}
	if !CanDelete(actor, comment) {
		return fmt.Errorf("delete comment %s: %w", commentID, form.ErrForbidden)
	}
	if err := s.store.DeleteComment(ctx, formID, commentID); err != nil {
		return fmt.Errorf("delete comment %s: %w", commentID, err)
	}
	return nil
}

// CanDelete reports whether actor authored c.
func CanDelete(actor rbac.Identity, c form.Comment) bool {
	email := strings.TrimSpace(actor.Email)
	return email != "" && strings.EqualFold(email, strings.TrimSpace(c.AuthorEmail))
}

// List returns the form's comments in creation order.
func (s *Service) List(ctx context.Context, actor rbac.Identity, formID string) ([]form.Comment, error) {
	fc, err := s.load(ctx, actor, formID)
	if err != nil {
		return nil, err
	}
	if !fc.access.CanView() {
		return nil, fmt.Errorf("list comments on %s: %w", formID, form.ErrForbidden)
	}
	comments, err := s.store.ListComments(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// Filter keeps the comments attached to target.
func Filter(comments []form.Comment, target form.CommentTarget) []form.Comment {
	out := make([]form.Comment, 0, len(comments))
	for _, c := range comments {
		if c.Target == target {
			out = append(out, c)
		}
	}
	return out
}

// Suggestions resolves the mention being typed at caret against everyone who
// can be mentioned on the form.
func (s *Service) Suggestions(ctx context.Context, actor rbac.Identity, formID, text string, caret int) ([]string, error) {
	query, ok := MentionQuery(text, caret)
	if !ok {
		return []string{}, nil
	}
	fc, err := s.load(ctx, actor, formID)
	if err != nil {
		return nil, err
	}
	if !fc.access.CanComment() {
		return nil, fmt.Errorf("mention on %s: %w", formID, form.ErrForbidden)
	}
	comments, err := s.store.ListComments(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return Suggest(query, Candidates(fc.doc.OwnerEmail, fc.collaborators, comments)), nil
}

func displayName(actor rbac.Identity) string {
	if name := strings.TrimSpace(actor.DisplayName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(actor.Email, "@")
	return local
}
