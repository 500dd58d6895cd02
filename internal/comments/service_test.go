package comments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formsmith/api/internal/form"
	"formsmith/api/internal/rbac"
)

type fakeStore struct {
	doc           form.Document
	collaborators []form.Collaborator
	comments      []form.Comment
}

func (f *fakeStore) GetForm(_ context.Context, id string) (form.Document, error) {
	if id != f.doc.ID {
		return form.Document{}, form.ErrNotFound
	}
	return f.doc, nil
}

func (f *fakeStore) ListCollaborators(context.Context, string) ([]form.Collaborator, error) {
	return f.collaborators, nil
}

func (f *fakeStore) ListComments(context.Context, string) ([]form.Comment, error) {
	return append([]form.Comment(nil), f.comments...), nil
}

func (f *fakeStore) GetComment(_ context.Context, _ string, id string) (form.Comment, error) {
	for _, c := range f.comments {
		if c.ID == id {
			return c, nil
		}
	}
	return form.Comment{}, form.ErrNotFound
}

func (f *fakeStore) CreateComment(_ context.Context, c form.Comment) (form.Comment, error) {
	f.comments = append(f.comments, c)
	return c, nil
}

func (f *fakeStore) DeleteComment(_ context.Context, _ string, id string) error {
	for i, c := range f.comments {
		if c.ID == id {
			f.comments = append(f.comments[:i], f.comments[i+1:]...)
			return nil
		}
	}
	return form.ErrNotFound
}

var (
	owner  = rbac.Identity{Email: "a@x.com", DisplayName: "Avery"}
	viewer = rbac.Identity{Email: "jane@x.com"}
	editor = rbac.Identity{Email: "john@x.com", DisplayName: "John"}
)

func newService() (*Service, *fakeStore) {
	doc := form.NewDocument(owner.Email, time.Now())
	doc.ID = "frm_1"
	store := &fakeStore{
		doc: doc,
		collaborators: []form.Collaborator{
			{Email: "john@x.com", Role: form.CollaboratorEditor},
			{Email: "jane@x.com", Role: form.CollaboratorViewer},
		},
	}
	return NewService(store, zerolog.Nop()), store
}

func TestAddComment(t *testing.T) {
	svc, store := newService()
	elID := store.doc.Elements[0].ID

	c, err := svc.Add(context.Background(), viewer, "frm_1", form.OnElement(elID), "  what about @john@x.com?  ")
	require.NoError(t, err)
	assert.Equal(t, "what about @john@x.com?", c.Content)
	assert.Equal(t, "jane", c.AuthorDisplayName)
	id, ok := c.Target.ElementID()
	assert.True(t, ok)
	assert.Equal(t, elID, id)

	formLevel, err := svc.Add(context.Background(), owner, "frm_1", form.FormLevel(), "overall fine")
	require.NoError(t, err)
	assert.True(t, formLevel.Target.IsFormLevel())
	assert.Equal(t, "Avery", formLevel.AuthorDisplayName)

	list, err := svc.List(context.Background(), editor, "frm_1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Len(t, Filter(list, form.OnElement(elID)), 1)
	assert.Len(t, Filter(list, form.FormLevel()), 1)
}

func TestAddCommentValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Add(ctx, owner, "frm_1", form.FormLevel(), "   ")
	assert.True(t, errors.Is(err, form.ErrInvalidOperation))

	_, err = svc.Add(ctx, owner, "frm_1", form.FormLevel(), strings.Repeat("é", MaxContentLength+1))
	assert.True(t, errors.Is(err, form.ErrInvalidOperation))

	_, err = svc.Add(ctx, owner, "frm_1", form.FormLevel(), strings.Repeat("é", MaxContentLength))
	assert.NoError(t, err)

	_, err = svc.Add(ctx, owner, "frm_1", form.OnElement("el_missing"), "hi")
	assert.True(t, errors.Is(err, form.ErrInvalidOperation))

	_, err = svc.Add(ctx, rbac.Identity{Email: "stranger@x.com"}, "frm_1", form.FormLevel(), "hi")
	assert.True(t, errors.Is(err, form.ErrForbidden))

	_, err = svc.Add(ctx, owner, "frm_404", form.FormLevel(), "hi")
	assert.True(t, errors.Is(err, form.ErrNotFound))
}

func TestOnlyAuthorDeletes(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	c, err := svc.Add(ctx, editor, "frm_1", form.FormLevel(), "draft note")
	require.NoError(t, err)

	err = svc.Delete(ctx, owner, "frm_1", c.ID)
	assert.True(t, errors.Is(err, form.ErrForbidden), "even the owner cannot delete another author's comment")
	assert.Len(t, store.comments, 1)

	require.NoError(t, svc.Delete(ctx, rbac.Identity{Email: "JOHN@x.com"}, "frm_1", c.ID))
	assert.Empty(t, store.comments)

	err = svc.Delete(ctx, editor, "frm_1", c.ID)
	assert.True(t, errors.Is(err, form.ErrNotFound))
}

func TestSuggestionsIncludePastAuthors(t *testing.T) {
	svc, store := newService()
	store.comments = append(store.comments, form.Comment{ID: "cmt_old", AuthorEmail: "joanna@x.com"})

	got, err := svc.Suggestions(context.Background(), owner, "frm_1", "hey @jo", 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"john@x.com", "joanna@x.com"}, got)

	got, err = svc.Suggestions(context.Background(), owner, "frm_1", "no mention", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSuggestionsForCollaborators(t *testing.T) {
	svc, _ := newService()
	got, err := svc.Suggestions(context.Background(), owner, "frm_1", "...@jo", 6)
	require.NoError(t, err)
	assert.Equal(t, []string{"john@x.com"}, got)
}
