// Package editor binds a form document, the acting identity's access and an
// autosave scheduler into one editing session. Every mutation enters through
// a Session and is checked against the resolved role first.
package editor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"formsmith/api/internal/autosave"
	"formsmith/api/internal/form"
	"formsmith/api/internal/rbac"
	"formsmith/api/internal/util"
)

// Store is the persistence surface a session needs.
type Store interface {
	autosave.Remote
	GetForm(ctx context.Context, id string) (form.Document, error)
	ListCollaborators(ctx context.Context, formID string) ([]form.Collaborator, error)
}

type Deps struct {
	Store    Store
	Backup   autosave.Backup
	Autosave autosave.Options
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Session struct {
	id       string
	identity rbac.Identity
	store    Store
	sched    *autosave.Scheduler
	log      zerolog.Logger
	restored bool

	mu     sync.Mutex
	access rbac.Access
}

// Open starts a session. With a formID the remote record is authoritative and
// any local backup is ignored. Without one a new document is seeded and, if
// the actor has a local backup, the backup hydrates it.
func Open(ctx context.Context, deps Deps, identity rbac.Identity, formID string) (*Session, error) {
	if identity.Anonymous() {
		return nil, fmt.Errorf("open editor: %w", form.ErrForbidden)
	}
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}

	s := &Session{
		id:       util.NewID("ses"),
		identity: identity,
		store:    deps.Store,
		log:      deps.Logger,
	}

	var doc form.Document
	if formID != "" {
		loaded, err := deps.Store.GetForm(ctx, formID)
		if err != nil {
			return nil, fmt.Errorf("load form %s: %w", formID, err)
		}
		collaborators, err := deps.Store.ListCollaborators(ctx, formID)
		if err != nil {
			return nil, fmt.Errorf("load collaborators: %w", err)
		}
		s.access = rbac.ResolveAccess(identity, loaded.OwnerEmail, collaborators)
		if !s.access.CanView() {
			return nil, fmt.Errorf("open form %s: %w", formID, form.ErrForbidden)
		}
		doc = loaded
	} else {
		doc = form.NewDocument(identity.Email, now())
		s.access = rbac.Access{Role: rbac.RoleOwner}
		if deps.Backup != nil {
			key := backupKey(identity.Email, "")
			content, ok, err := autosave.LoadBackup(ctx, deps.Backup, key)
			switch {
			case err != nil:
				s.log.Warn().Err(err).Str("session_key", key).Msg("ignoring unreadable draft backup")
			case ok:
				doc.ApplyContent(content)
				s.restored = true
			}
		}
	}

	opts := deps.Autosave
	opts.KeyFor = func(id string) string { return backupKey(identity.Email, id) }
	s.sched = autosave.New(guardedRemote{session: s}, deps.Backup, opts)
	s.sched.Open(backupKey(identity.Email, formID), doc)
	return s, nil
}

// guardedRemote keeps the stored lifecycle on saves by actors who cannot
// publish, so an editor's session never moves the form's public state.
type guardedRemote struct {
	session *Session
}

func (g guardedRemote) CreateForm(ctx context.Context, doc form.Document) (form.Document, error) {
	return g.session.store.CreateForm(ctx, doc)
}

func (g guardedRemote) UpdateForm(ctx context.Context, doc form.Document) (form.Document, error) {
	if !g.session.Access().CanPublish() {
		current, err := g.session.store.GetForm(ctx, doc.ID)
		if err != nil {
			return form.Document{}, fmt.Errorf("load form %s: %w", doc.ID, err)
		}
		doc.Lifecycle = current.Lifecycle
	}
	return g.session.store.UpdateForm(ctx, doc)
}

// backupKey scopes new-form drafts to the actor and drafts of an existing form
// to the actor and that form.
func backupKey(email, formID string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if formID == "" {
		return email
	}
	return email + ":" + formID
}

func (s *Session) ID() string              { return s.id }
func (s *Session) Identity() rbac.Identity { return s.identity }

// Restored reports whether the document was hydrated from a local backup.
func (s *Session) Restored() bool { return s.restored }

func (s *Session) Access() rbac.Access {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

func (s *Session) Snapshot() form.Document { return s.sched.Snapshot() }
func (s *Session) State() autosave.State   { return s.sched.State() }

// Reauthorize re-resolves the actor's role from the current collaborator
// list. Unpersisted documents belong to the actor.
func (s *Session) Reauthorize(ctx context.Context) error {
	doc := s.sched.Snapshot()
	if !doc.Persisted() {
		return nil
	}
	collaborators, err := s.store.ListCollaborators(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("load collaborators: %w", err)
	}
	access := rbac.ResolveAccess(s.identity, doc.OwnerEmail, collaborators)
	s.mu.Lock()
	s.access = access
	s.mu.Unlock()
	if !access.CanView() {
		return fmt.Errorf("form %s: %w", doc.ID, form.ErrForbidden)
	}
	return nil
}

// Apply runs ops as one all-or-nothing mutation and returns one result per op
// (the created element for add/duplicate, nil otherwise).
func (s *Session) Apply(ops []Op) ([]any, error) {
	if err := s.requireEdit(); err != nil {
		return nil, err
	}
	var results []any
	err := s.sched.Mutate(func(d *form.Document) error {
		results = make([]any, 0, len(ops))
		for i, op := range ops {
			res, err := apply(d, op)
			if err != nil {
				return fmt.Errorf("op %d (%s): %w", i, op.Type, err)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// AddElement drops a freshly defaulted element of kind at index.
func (s *Session) AddElement(kind form.Kind, index int) (form.Element, error) {
	res, err := s.one(Op{Type: OpAddElement, Kind: kind, Index: &index})
	if err != nil {
		return form.Element{}, err
	}
	return res.(form.Element), nil
}

func (s *Session) MoveElement(from, to int) error {
	_, err := s.one(Op{Type: OpMoveElement, From: from, To: to})
	return err
}

func (s *Session) RemoveElement(id string) error {
	_, err := s.one(Op{Type: OpRemoveElement, ElementID: id})
	return err
}

func (s *Session) DuplicateElement(id string) (form.Element, error) {
	res, err := s.one(Op{Type: OpDuplicateElement, ElementID: id})
	if err != nil {
		return form.Element{}, err
	}
	return res.(form.Element), nil
}

func (s *Session) UpdateElement(id string, patch ElementPatch) error {
	_, err := s.one(Op{Type: OpUpdateElement, ElementID: id, Element: &patch})
	return err
}

// AddOption appends an option. An empty label gets the next "Option N".
func (s *Session) AddOption(elementID, label string) error {
	op := Op{Type: OpAddOption, ElementID: elementID}
	if label != "" {
		op.Label = &label
	}
	_, err := s.one(op)
	return err
}

func (s *Session) UpdateOption(elementID string, index int, label string) error {
	_, err := s.one(Op{Type: OpUpdateOption, ElementID: elementID, Index: &index, Label: &label})
	return err
}

func (s *Session) RemoveOption(elementID string, index int) error {
	_, err := s.one(Op{Type: OpRemoveOption, ElementID: elementID, Index: &index})
	return err
}

func (s *Session) MoveOption(elementID string, from, to int) error {
	_, err := s.one(Op{Type: OpMoveOption, ElementID: elementID, From: from, To: to})
	return err
}

func (s *Session) UpdateMetadata(patch MetadataPatch) error {
	_, err := s.one(Op{Type: OpUpdateMetadata, Metadata: &patch})
	return err
}

// Save is the manual save action.
func (s *Session) Save(ctx context.Context) error {
	if err := s.requireEdit(); err != nil {
		return err
	}
	return s.sched.Save(ctx)
}

// Promote persists the document with a forced lifecycle. Only actors who may
// publish can change it.
func (s *Session) Promote(ctx context.Context, lc form.Lifecycle) error {
	if !s.Access().CanPublish() {
		return fmt.Errorf("set lifecycle %s: %w", lc, form.ErrForbidden)
	}
	return s.sched.Promote(ctx, lc)
}

// Close stops the debounce timer; an in-flight save still completes.
func (s *Session) Close() {
	s.sched.Close()
}

func (s *Session) one(op Op) (any, error) {
	results, err := s.Apply([]Op{op})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (s *Session) requireEdit() error {
	if !s.Access().CanEdit() {
		return fmt.Errorf("edit form: %w", form.ErrForbidden)
	}
	return nil
}
