package app

import (
	"context"
	"fmt"
	"strings"

	"formsmith/api/internal/comments"
	"formsmith/api/internal/form"
	"formsmith/api/internal/gitrepo"
	"formsmith/api/internal/notify"
	"formsmith/api/internal/publish"
	"formsmith/api/internal/rbac"
	"formsmith/api/internal/search"
	"formsmith/api/internal/store"
	"formsmith/api/internal/util"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

type FormListItem struct {
	store.FormSummary
	Edited bool `json:"edited"`
}

type FormView struct {
	Form          form.Document       `json:"form"`
	Role          rbac.Role           `json:"role"`
	Capabilities  Capabilities        `json:"capabilities"`
	Collaborators []form.Collaborator `json:"collaborators"`
	Edited        bool                `json:"edited"`
	SharePath     string              `json:"sharePath,omitempty"`
	EditPath      string              `json:"editPath"`
}

type CollaboratorResult struct {
	Collaborator form.Collaborator `json:"collaborator"`
	Notified     bool              `json:"notified"`
	NotifyError  string            `json:"notifyError,omitempty"`
}

type CommentView struct {
	form.Comment
	Segments  []comments.Segment `json:"segments"`
	CanDelete bool               `json:"canDelete"`
}

type formAccess struct {
	doc           form.Document
	collaborators []form.Collaborator
	access        rbac.Access
}

func (s *Service) loadAccess(ctx context.Context, actor rbac.Identity, formID string) (formAccess, error) {
	doc, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return formAccess{}, fmt.Errorf("load form %s: %w", formID, err)
	}
	collaborators, err := s.store.ListCollaborators(ctx, formID)
	if err != nil {
		return formAccess{}, fmt.Errorf("load collaborators: %w", err)
	}
	fa := formAccess{
		doc:           doc,
		collaborators: collaborators,
		access:        rbac.ResolveAccess(actor, doc.OwnerEmail, collaborators),
	}
	if !fa.access.CanView() {
		return formAccess{}, fmt.Errorf("form %s: %w", formID, form.ErrForbidden)
	}
	return fa, nil
}

func (s *Service) requireOwner(ctx context.Context, actor rbac.Identity, formID, action string) (formAccess, error) {
	fa, err := s.loadAccess(ctx, actor, formID)
	if err != nil {
		return formAccess{}, err
	}
	if fa.access.Role != rbac.RoleOwner {
		return formAccess{}, fmt.Errorf("%s %s: %w", action, formID, form.ErrForbidden)
	}
	return fa, nil
}

// ListForms returns the forms the actor owns or collaborates on, most
// recently updated first.
func (s *Service) ListForms(ctx context.Context, actor rbac.Identity, includeArchived bool) ([]FormListItem, error) {
	if actor.Anonymous() {
		return nil, fmt.Errorf("list forms: %w", form.ErrForbidden)
	}
	rows, err := s.store.ListFormsForUser(ctx, actor.Email, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	items := make([]FormListItem, 0, len(rows))
	for _, row := range rows {
		edited := row.LastEditedAt != nil && row.LastEditedAt.Sub(row.CreatedAt) > s.cfg.EditedBadgeThreshold
		items = append(items, FormListItem{FormSummary: row, Edited: edited})
	}
	return items, nil
}

func (s *Service) SearchForms(ctx context.Context, actor rbac.Identity, text string, includeArchived bool, limit, offset int) (search.Response, error) {
	if actor.Anonymous() {
		return search.Response{}, fmt.Errorf("search forms: %w", form.ErrForbidden)
	}
	text = strings.TrimSpace(text)
	if s.search == nil || text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(ctx, search.Query{
		Text:            text,
		Email:           actor.Email,
		IncludeArchived: includeArchived,
		Limit:           limit,
		Offset:          offset,
	}), nil
}

func (s *Service) GetForm(ctx context.Context, actor rbac.Identity, formID string) (FormView, error) {
	fa, err := s.loadAccess(ctx, actor, formID)
	if err != nil {
		return FormView{}, err
	}
	view := FormView{
		Form:          fa.doc,
		Role:          fa.access.Role,
		Capabilities:  capabilitiesOf(fa.access),
		Collaborators: nonNilCollaborators(fa.collaborators),
		Edited:        fa.doc.IsEdited(s.cfg.EditedBadgeThreshold),
		EditPath:      publish.EditPath(formID),
	}
	if fa.doc.Lifecycle == form.LifecyclePublished {
		view.SharePath = publish.SharePath(formID)
	}
	return view, nil
}

// DeleteForm removes the form with its elements, collaborators, comments,
// responses and published versions.
func (s *Service) DeleteForm(ctx context.Context, actor rbac.Identity, formID string) error {
	if _, err := s.requireOwner(ctx, actor, formID, "delete form"); err != nil {
		return err
	}
	s.closeFormSessions(formID)
	if err := s.store.DeleteForm(ctx, formID); err != nil {
		return fmt.Errorf("delete form %s: %w", formID, err)
	}
	if s.versions != nil {
		if err := s.versions.Remove(formID); err != nil {
			s.log.Warn().Err(err).Str("form_id", formID).Msg("remove form versions")
		}
	}
	if s.search != nil {
		s.search.DeleteForm(formID)
	}
	s.log.Info().Str("form_id", formID).Str("actor", actor.Email).Msg("form deleted")
	return nil
}

func (s *Service) ArchiveForm(ctx context.Context, actor rbac.Identity, formID string, archived bool) (FormView, error) {
	if _, err := s.requireOwner(ctx, actor, formID, "archive form"); err != nil {
		return FormView{}, err
	}
	if err := s.store.ArchiveForm(ctx, formID, archived); err != nil {
		return FormView{}, fmt.Errorf("archive form %s: %w", formID, err)
	}
	s.reindex(ctx, formID)
	return s.GetForm(ctx, actor, formID)
}

func (s *Service) ListVersions(ctx context.Context, actor rbac.Identity, formID string, limit int) ([]gitrepo.Version, error) {
	if _, err := s.loadAccess(ctx, actor, formID); err != nil {
		return nil, err
	}
	if s.versions == nil {
		return []gitrepo.Version{}, nil
	}
	versions, err := s.versions.History(formID, limit)
	if err != nil {
		return nil, fmt.Errorf("form %s history: %w", formID, err)
	}
	if versions == nil {
		versions = []gitrepo.Version{}
	}
	return versions, nil
}

// VersionContent returns the form content published as ref, a version tag
// or commit hash.
func (s *Service) VersionContent(ctx context.Context, actor rbac.Identity, formID, ref string) (form.Content, error) {
	if _, err := s.loadAccess(ctx, actor, formID); err != nil {
		return form.Content{}, err
	}
	if s.versions == nil {
		return form.Content{}, fmt.Errorf("form %s version %s: %w", formID, ref, form.ErrNotFound)
	}
	return s.versions.Content(formID, ref)
}

func (s *Service) ListCollaborators(ctx context.Context, actor rbac.Identity, formID string) ([]form.Collaborator, error) {
	fa, err := s.loadAccess(ctx, actor, formID)
	if err != nil {
		return nil, err
	}
	return nonNilCollaborators(fa.collaborators), nil
}

// AddCollaborator grants access and then sends the invite. A failed invite
// is reported on the result and never revokes the grant.
func (s *Service) AddCollaborator(ctx context.Context, actor rbac.Identity, formID, email, role string) (CollaboratorResult, error) {
	fa, err := s.requireOwner(ctx, actor, formID, "add collaborator to")
	if err != nil {
		return CollaboratorResult{}, err
	}
	parsedRole, err := form.ParseCollaboratorRole(strings.ToLower(strings.TrimSpace(role)))
	if err != nil {
		return CollaboratorResult{}, err
	}
	email = strings.TrimSpace(email)
	if strings.EqualFold(email, strings.TrimSpace(fa.doc.OwnerEmail)) {
		return CollaboratorResult{}, fmt.Errorf("%w: the owner cannot be added as a collaborator", form.ErrInvalidOperation)
	}

	created, err := s.store.AddCollaborator(ctx, form.Collaborator{
		ID:        util.NewID("col"),
		FormID:    formID,
		Email:     email,
		Role:      parsedRole,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return CollaboratorResult{}, fmt.Errorf("add collaborator: %w", err)
	}
	s.reindex(ctx, formID)

	result := CollaboratorResult{Collaborator: created}
	if s.notifier == nil {
		return result, nil
	}
	invite := notify.Invite{
		Email:       created.Email,
		FormID:      formID,
		FormTitle:   fa.doc.Title,
		Role:        string(created.Role),
		InviterName: inviterName(actor),
		Link:        s.cfg.PublicURL + publish.EditPath(formID),
	}
	if err := s.notifier.NotifyCollaboratorInvited(ctx, invite); err != nil {
		s.log.Warn().Err(err).Str("form_id", formID).Str("email", created.Email).Msg("collaborator invite notification failed")
		result.NotifyError = err.Error()
		return result, nil
	}
	result.Notified = true
	return result, nil
}

func (s *Service) UpdateCollaboratorRole(ctx context.Context, actor rbac.Identity, formID, collaboratorID, role string) (form.Collaborator, error) {
	if _, err := s.requireOwner(ctx, actor, formID, "update collaborator on"); err != nil {
		return form.Collaborator{}, err
	}
	parsedRole, err := form.ParseCollaboratorRole(strings.ToLower(strings.TrimSpace(role)))
	if err != nil {
		return form.Collaborator{}, err
	}
	updated, err := s.store.UpdateCollaboratorRole(ctx, formID, collaboratorID, parsedRole)
	if err != nil {
		return form.Collaborator{}, fmt.Errorf("update collaborator: %w", err)
	}
	return updated, nil
}

func (s *Service) RemoveCollaborator(ctx context.Context, actor rbac.Identity, formID, collaboratorID string) error {
	if _, err := s.requireOwner(ctx, actor, formID, "remove collaborator from"); err != nil {
		return err
	}
	if err := s.store.RemoveCollaborator(ctx, formID, collaboratorID); err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	s.reindex(ctx, formID)
	return nil
}

// ListComments returns the form's comments. With onlyTarget set, only the
// comments attached to target are returned.
func (s *Service) ListComments(ctx context.Context, actor rbac.Identity, formID string, target form.CommentTarget, onlyTarget bool) ([]CommentView, error) {
	list, err := s.comments.List(ctx, actor, formID)
	if err != nil {
		return nil, err
	}
	if onlyTarget {
		list = comments.Filter(list, target)
	}
	out := make([]CommentView, 0, len(list))
	for _, c := range list {
		out = append(out, commentView(actor, c))
	}
	return out, nil
}

func (s *Service) AddComment(ctx context.Context, actor rbac.Identity, formID string, target form.CommentTarget, content string) (CommentView, error) {
	created, err := s.comments.Add(ctx, actor, formID, target, content)
	if err != nil {
		return CommentView{}, err
	}
	return commentView(actor, created), nil
}

func (s *Service) DeleteComment(ctx context.Context, actor rbac.Identity, formID, commentID string) error {
	return s.comments.Delete(ctx, actor, formID, commentID)
}

func (s *Service) MentionSuggestions(ctx context.Context, actor rbac.Identity, formID, text string, caret int) ([]string, error) {
	return s.comments.Suggestions(ctx, actor, formID, text, caret)
}

// CompleteMention replaces the partial mention before caret with email, which
// must be one of the current suggestions.
func (s *Service) CompleteMention(ctx context.Context, actor rbac.Identity, formID, text string, caret int, email string) (string, int, error) {
	suggestions, err := s.comments.Suggestions(ctx, actor, formID, text, caret)
	if err != nil {
		return "", 0, err
	}
	for _, candidate := range suggestions {
		if strings.EqualFold(candidate, strings.TrimSpace(email)) {
			completed, next := comments.InsertMention(text, caret, candidate)
			return completed, next, nil
		}
	}
	return "", 0, fmt.Errorf("%w: %q is not a mention candidate here", form.ErrInvalidOperation, email)
}

func (s *Service) reindex(ctx context.Context, formID string) {
	if s.search == nil {
		return
	}
	doc, err := s.store.GetForm(ctx, formID)
	if err != nil {
		s.log.Warn().Err(err).Str("form_id", formID).Msg("reindex form")
		return
	}
	collaborators, err := s.store.ListCollaborators(ctx, formID)
	if err != nil {
		s.log.Warn().Err(err).Str("form_id", formID).Msg("reindex form")
		return
	}
	s.search.IndexForm(search.RecordFor(doc, collaborators))
}

func commentView(actor rbac.Identity, c form.Comment) CommentView {
	segments := comments.Segments(c.Content)
	if segments == nil {
		segments = []comments.Segment{}
	}
	return CommentView{Comment: c, Segments: segments, CanDelete: comments.CanDelete(actor, c)}
}

func inviterName(actor rbac.Identity) string {
	if name := strings.TrimSpace(actor.DisplayName); name != "" {
		return name
	}
	return actor.Email
}

func nonNilCollaborators(in []form.Collaborator) []form.Collaborator {
	if in == nil {
		return []form.Collaborator{}
	}
	return in
}
