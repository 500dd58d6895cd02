package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formsmith/api/internal/form"
	"formsmith/api/internal/gitrepo"
	"formsmith/api/internal/rbac"
)

type fakeTarget struct {
	role     rbac.Role
	doc      form.Document
	records  int
	saves    int
	promotes []form.Lifecycle
	saveErr  error
}

func (f *fakeTarget) Identity() rbac.Identity {
	return rbac.Identity{Email: "a@x.com", DisplayName: "Avery"}
}

func (f *fakeTarget) Access() rbac.Access      { return rbac.Access{Role: f.role} }
func (f *fakeTarget) Snapshot() form.Document { return f.doc.Clone() }

func (f *fakeTarget) Save(context.Context) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.persist(form.LifecycleInProgress)
	return nil
}

func (f *fakeTarget) Promote(_ context.Context, lc form.Lifecycle) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.promotes = append(f.promotes, lc)
	f.persist(lc)
	return nil
}

func (f *fakeTarget) persist(lc form.Lifecycle) {
	if !f.doc.Persisted() {
		f.records++
		f.doc.ID = "frm_1"
	}
	f.doc.Lifecycle = lc
}

func newTarget(title string) *fakeTarget {
	doc := form.NewDocument("a@x.com", time.Now())
	doc.Title = title
	return &fakeTarget{role: rbac.RoleOwner, doc: doc}
}

func TestPublishRequiresOwner(t *testing.T) {
	c := NewController(nil, "", zerolog.Nop())
	for _, role := range []rbac.Role{rbac.RoleEditor, rbac.RoleViewer, rbac.RoleNone} {
		target := newTarget("Survey")
		target.role = role
		_, err := c.Publish(context.Background(), target)
		assert.True(t, errors.Is(err, form.ErrForbidden), "role %s", role)
		assert.Zero(t, target.saves+len(target.promotes), "forbidden publish must be a no-op")
	}
}

func TestPublishUnsavedWithoutTitle(t *testing.T) {
	c := NewController(nil, "", zerolog.Nop())
	target := newTarget("   ")

	_, err := c.Publish(context.Background(), target)
	require.True(t, errors.Is(err, form.ErrNotSaved))
	assert.Zero(t, target.records)
}

func TestPublishSavesFirstAndIsIdempotent(t *testing.T) {
	versions := gitrepo.New(t.TempDir())
	c := NewController(versions, "https://forms.example.com/", zerolog.Nop())
	target := newTarget("Customer survey")

	first, err := c.Publish(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, target.saves, "unsaved form is saved before publishing")
	assert.Equal(t, "frm_1", first.FormID)
	assert.Equal(t, "/view/frm_1", first.SharePath)
	assert.Equal(t, "https://forms.example.com/view/frm_1", first.ShareURL)
	assert.Equal(t, "/builder?id=frm_1", first.EditPath)
	assert.Equal(t, form.LifecyclePublished, target.doc.Lifecycle)
	require.NotNil(t, first.Version)
	assert.Equal(t, "v1", first.Version.Tag)
	assert.True(t, first.NewVersion)

	second, err := c.Publish(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, target.records, "no second record")
	assert.Equal(t, first.SharePath, second.SharePath)
	assert.Equal(t, "v1", second.Version.Tag)
	assert.False(t, second.NewVersion)
	assert.Equal(t, []form.Lifecycle{form.LifecyclePublished, form.LifecyclePublished}, target.promotes)
}

func TestPublishNewContentCreatesVersion(t *testing.T) {
	versions := gitrepo.New(t.TempDir())
	c := NewController(versions, "", zerolog.Nop())
	target := newTarget("Survey")

	_, err := c.Publish(context.Background(), target)
	require.NoError(t, err)

	target.doc.Title = "Survey v2"
	res, err := c.Publish(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "v2", res.Version.Tag)
	assert.True(t, res.NewVersion)
}

func TestPublishFailureIsWrapped(t *testing.T) {
	c := NewController(nil, "", zerolog.Nop())
	target := newTarget("Survey")
	target.saveErr = errors.New("connection reset")
	base := testutil.ToFloat64(publishTotal.WithLabelValues("publish", "failed"))

	_, err := c.Publish(context.Background(), target)
	require.Error(t, err)
	assert.True(t, errors.Is(err, form.ErrPublishFailed))
	assert.Equal(t, base+1, testutil.ToFloat64(publishTotal.WithLabelValues("publish", "failed")))
}

func TestUnpublish(t *testing.T) {
	c := NewController(nil, "", zerolog.Nop())
	target := newTarget("Survey")

	_, err := c.Unpublish(context.Background(), target)
	assert.True(t, errors.Is(err, form.ErrNotSaved))

	_, err = c.Publish(context.Background(), target)
	require.NoError(t, err)

	res, err := c.Unpublish(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, form.LifecycleDraft, res.Lifecycle)
	assert.Equal(t, form.LifecycleDraft, target.doc.Lifecycle)

	target.role = rbac.RoleEditor
	_, err = c.Unpublish(context.Background(), target)
	assert.True(t, errors.Is(err, form.ErrForbidden))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/view/frm_abc", SharePath("frm_abc"))
	assert.Equal(t, "/builder?id=frm_abc", EditPath("frm_abc"))
}
