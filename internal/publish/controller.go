// Package publish finalizes a form for public responses and records each
// distinct published content as a version.
package publish

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"formsmith/api/internal/form"
	"formsmith/api/internal/gitrepo"
	"formsmith/api/internal/rbac"
)

var publishTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "formsmith_publish_total",
		Help: "Publish and unpublish actions by outcome.",
	},
	[]string{"action", "outcome"},
)

func init() {
	prometheus.MustRegister(publishTotal)
}

// Target is the editing session being published.
type Target interface {
	Identity() rbac.Identity
	Access() rbac.Access
	Snapshot() form.Document
	Save(ctx context.Context) error
	Promote(ctx context.Context, lc form.Lifecycle) error
}

// Versioner stores published snapshots.
type Versioner interface {
	Publish(formID string, content form.Content, authorName, authorEmail string) (gitrepo.Version, bool, error)
}

type Result struct {
	FormID     string           `json:"formId"`
	Lifecycle  form.Lifecycle   `json:"lifecycleState"`
	SharePath  string           `json:"sharePath"`
	ShareURL   string           `json:"shareUrl"`
	EditPath   string           `json:"editPath"`
	Version    *gitrepo.Version `json:"version,omitempty"`
	NewVersion bool             `json:"newVersion"`
}

type Controller struct {
	versions  Versioner
	publicURL string
	log       zerolog.Logger
}

// NewController builds a controller. versions may be nil, in which case no
// snapshots are kept.
func NewController(versions Versioner, publicURL string, log zerolog.Logger) *Controller {
	return &Controller{
		versions:  versions,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log,
	}
}

// SharePath is the responder link for a form.
func SharePath(formID string) string {
	return "/view/" + url.PathEscape(formID)
}

// EditPath is the builder link for owners and collaborators.
func EditPath(formID string) string {
	return "/builder?id=" + url.QueryEscape(formID)
}

// Publish makes the form publicly servable. A never-saved form is saved first
// when it has a title; without one the call fails with ErrNotSaved.
// Publishing again without edits re-persists the same record and returns the
// same share path.
func (c *Controller) Publish(ctx context.Context, t Target) (Result, error) {
	if !t.Access().CanPublish() {
		publishTotal.WithLabelValues("publish", "forbidden").Inc()
		return Result{}, fmt.Errorf("publish form: %w", form.ErrForbidden)
	}

	doc := t.Snapshot()
	if !doc.Persisted() {
		if strings.TrimSpace(doc.Title) == "" {
			publishTotal.WithLabelValues("publish", "not_saved").Inc()
			return Result{}, fmt.Errorf("publish form: %w", form.ErrNotSaved)
		}
		if err := t.Save(ctx); err != nil {
			return Result{}, c.fail(doc.ID, err)
		}
		doc = t.Snapshot()
	}

	var (
		version    *gitrepo.Version
		newVersion bool
	)
	if c.versions != nil {
		identity := t.Identity()
		v, created, err := c.versions.Publish(doc.ID, doc.Content(), identity.DisplayName, identity.Email)
		if err != nil {
			return Result{}, c.fail(doc.ID, err)
		}
		version = &v
		newVersion = created
	}

	if err := t.Promote(ctx, form.LifecyclePublished); err != nil {
		return Result{}, c.fail(doc.ID, err)
	}

	publishTotal.WithLabelValues("publish", "ok").Inc()
	c.log.Info().Str("form_id", doc.ID).Bool("new_version", newVersion).Msg("form published")
	return c.result(doc.ID, form.LifecyclePublished, version, newVersion), nil
}

// Unpublish returns a published form to draft.
func (c *Controller) Unpublish(ctx context.Context, t Target) (Result, error) {
	if !t.Access().CanPublish() {
		publishTotal.WithLabelValues("unpublish", "forbidden").Inc()
		return Result{}, fmt.Errorf("unpublish form: %w", form.ErrForbidden)
	}
	doc := t.Snapshot()
	if !doc.Persisted() {
		return Result{}, fmt.Errorf("unpublish form: %w", form.ErrNotSaved)
	}
	if err := t.Promote(ctx, form.LifecycleDraft); err != nil {
		publishTotal.WithLabelValues("unpublish", "failed").Inc()
		return Result{}, fmt.Errorf("%w: %w", form.ErrPublishFailed, err)
	}
	publishTotal.WithLabelValues("unpublish", "ok").Inc()
	c.log.Info().Str("form_id", doc.ID).Msg("form unpublished")
	return c.result(doc.ID, form.LifecycleDraft, nil, false), nil
}

func (c *Controller) result(formID string, lc form.Lifecycle, version *gitrepo.Version, newVersion bool) Result {
	share := SharePath(formID)
	return Result{
		FormID:     formID,
		Lifecycle:  lc,
		SharePath:  share,
		ShareURL:   c.publicURL + share,
		EditPath:   EditPath(formID),
		Version:    version,
		NewVersion: newVersion,
	}
}

func (c *Controller) fail(formID string, err error) error {
	publishTotal.WithLabelValues("publish", "failed").Inc()
	c.log.Error().Err(err).Str("form_id", formID).Msg("publish failed")
	return fmt.Errorf("%w: %w", form.ErrPublishFailed, err)
}
