package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"formsmith/api/internal/auth"
	"formsmith/api/internal/autosave"
	"formsmith/api/internal/comments"
	"formsmith/api/internal/config"
	"formsmith/api/internal/editor"
	"formsmith/api/internal/form"
	"formsmith/api/internal/gitrepo"
	"formsmith/api/internal/notify"
	"formsmith/api/internal/publish"
	"formsmith/api/internal/rbac"
	"formsmith/api/internal/search"
	"formsmith/api/internal/store"
)

type formStore interface {
	editor.Store
	comments.Store
	DeleteForm(ctx context.Context, id string) error
	ArchiveForm(ctx context.Context, id string, archived bool) error
	ListFormsForUser(ctx context.Context, email string, includeArchived bool) ([]store.FormSummary, error)
	AddCollaborator(ctx context.Context, c form.Collaborator) (form.Collaborator, error)
	UpdateCollaboratorRole(ctx context.Context, formID, collaboratorID string, role form.CollaboratorRole) (form.Collaborator, error)
	RemoveCollaborator(ctx context.Context, formID, collaboratorID string) error
	Ping(ctx context.Context) error
}

type versionStore interface {
	publish.Versioner
	History(formID string, limit int) ([]gitrepo.Version, error)
	Content(formID, ref string) (form.Content, error)
	Remove(formID string) error
}

type formIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexForm(rec search.FormRecord)
	DeleteForm(id string)
}

// Deps are the collaborators of the application service. Versions, Search
// and Notifier are optional.
type Deps struct {
	Store    formStore
	Backup   autosave.Backup
	Versions versionStore
	Search   formIndex
	Notifier notify.Sender
	Logger   zerolog.Logger
}

type Service struct {
	cfg       config.Config
	store     formStore
	editing   editor.Store
	backup    autosave.Backup
	versions  versionStore
	search    formIndex
	notifier  notify.Sender
	publisher *publish.Controller
	comments  *comments.Service
	log       zerolog.Logger
	now       func() time.Time
	afterFunc func(time.Duration, func()) autosave.Timer

	mu       sync.Mutex
	sessions map[string]*openSession
}

type openSession struct {
	session  *editor.Session
	lastSeen time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		editing:  deps.Store,
		backup:   deps.Backup,
		versions: deps.Versions,
		search:   deps.Search,
		notifier: deps.Notifier,
		comments: comments.NewService(deps.Store, deps.Logger),
		log:      deps.Logger,
		now:      time.Now,
		sessions: make(map[string]*openSession),
	}
	s.publisher = publish.NewController(deps.Versions, cfg.PublicURL, deps.Logger)
	if deps.Search != nil {
		s.editing = indexingStore{formStore: deps.Store, index: deps.Search, log: deps.Logger}
	}
	return s
}

type Capabilities struct {
	View                bool `json:"view"`
	Comment             bool `json:"comment"`
	Edit                bool `json:"edit"`
	Publish             bool `json:"publish"`
	ManageCollaborators bool `json:"manageCollaborators"`
}

func capabilitiesOf(access rbac.Access) Capabilities {
	return Capabilities{
		View:                access.CanView(),
		Comment:             access.CanComment(),
		Edit:                access.CanEdit(),
		Publish:             access.CanPublish(),
		ManageCollaborators: access.CanManageCollaborators(),
	}
}

// SessionView is what the builder renders for an open session.
type SessionView struct {
	SessionID    string         `json:"sessionId"`
	Form         form.Document  `json:"form"`
	Role         rbac.Role      `json:"role"`
	Capabilities Capabilities   `json:"capabilities"`
	Save         autosave.State `json:"save"`
	Restored     bool           `json:"restored"`
	Edited       bool           `json:"edited"`
	Pristine     bool           `json:"pristine"`
}

type OpsResult struct {
	Results []any       `json:"results"`
	Session SessionView `json:"session"`
}

type PublishView struct {
	publish.Result
	Session SessionView `json:"session"`
}

// Identify verifies a bearer token. An empty token is the anonymous actor.
func (s *Service) Identify(token string) (rbac.Identity, error) {
	if token == "" {
		return rbac.Identity{}, nil
	}
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return rbac.Identity{}, err
	}
	return claims.Identity(), nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingBackup checks the draft backup store when it supports a health check.
func (s *Service) PingBackup(ctx context.Context) error {
	p, ok := s.backup.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

// OpenSession starts an editing session on formID, or on a new form when
// formID is empty.
func (s *Service) OpenSession(ctx context.Context, actor rbac.Identity, formID string) (SessionView, error) {
	sess, err := editor.Open(ctx, editor.Deps{
		Store:  s.editing,
		Backup: s.backup,
		Autosave: autosave.Options{
			Debounce:  s.cfg.AutosaveDebounce,
			Logger:    s.log,
			Now:       s.now,
			AfterFunc: s.afterFunc,
		},
		Logger: s.log,
		Now:    s.now,
	}, actor, strings.TrimSpace(formID))
	if err != nil {
		return SessionView{}, err
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = &openSession{session: sess, lastSeen: s.now()}
	s.mu.Unlock()

	s.log.Info().
		Str("session_id", sess.ID()).
		Str("form_id", formID).
		Str("actor", actor.Email).
		Bool("restored", sess.Restored()).
		Msg("editing session opened")
	return s.view(sess), nil
}

// GetSession re-resolves the actor's role before returning the session, so
// a revoked collaborator loses the session on the next read.
func (s *Service) GetSession(ctx context.Context, actor rbac.Identity, sessionID string) (SessionView, error) {
	sess, err := s.authorizedSession(ctx, actor, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(sess), nil
}

func (s *Service) ApplyOps(ctx context.Context, actor rbac.Identity, sessionID string, ops []editor.Op) (OpsResult, error) {
	sess, err := s.authorizedSession(ctx, actor, sessionID)
	if err != nil {
		return OpsResult{}, err
	}
	results, err := sess.Apply(ops)
	if err != nil {
		return OpsResult{}, err
	}
	return OpsResult{Results: results, Session: s.view(sess)}, nil
}

func (s *Service) SaveSession(ctx context.Context, actor rbac.Identity, sessionID string) (SessionView, error) {
	sess, err := s.authorizedSession(ctx, actor, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.Save(ctx); err != nil {
		return SessionView{}, err
	}
	return s.view(sess), nil
}

func (s *Service) PublishSession(ctx context.Context, actor rbac.Identity, sessionID string) (PublishView, error) {
	sess, err := s.authorizedSession(ctx, actor, sessionID)
	if err != nil {
		return PublishView{}, err
	}
	result, err := s.publisher.Publish(ctx, sess)
	if err != nil {
		return PublishView{}, err
	}
	return PublishView{Result: result, Session: s.view(sess)}, nil
}

func (s *Service) UnpublishSession(ctx context.Context, actor rbac.Identity, sessionID string) (PublishView, error) {
	sess, err := s.authorizedSession(ctx, actor, sessionID)
	if err != nil {
		return PublishView{}, err
	}
	result, err := s.publisher.Unpublish(ctx, sess)
	if err != nil {
		return PublishView{}, err
	}
	return PublishView{Result: result, Session: s.view(sess)}, nil
}

// CloseSession stops the session's pending autosave. A save already in
// flight still completes.
func (s *Service) CloseSession(actor rbac.Identity, sessionID string) error {
	if _, err := s.lookup(actor, sessionID); err != nil {
		return err
	}
	s.drop(sessionID)
	return nil
}

// SweepIdleSessions closes sessions not touched within the idle TTL and
// returns how many were closed.
func (s *Service) SweepIdleSessions(now time.Time) int {
	ttl := s.cfg.SessionIdleTTL
	if ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	var stale []*editor.Session
	for id, entry := range s.sessions {
		if now.Sub(entry.lastSeen) > ttl {
			stale = append(stale, entry.session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.Close()
		s.log.Debug().Str("session_id", sess.ID()).Msg("idle editing session closed")
	}
	return len(stale)
}

// RunSessionSweeper sweeps idle sessions every interval until ctx is done.
func (s *Service) RunSessionSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepIdleSessions(s.now())
		}
	}
}

// CloseAll stops every open session. Used on shutdown.
func (s *Service) CloseAll() {
	s.mu.Lock()
	open := s.sessions
	s.sessions = make(map[string]*openSession)
	s.mu.Unlock()
	for _, entry := range open {
		entry.session.Close()
	}
}

func (s *Service) authorizedSession(ctx context.Context, actor rbac.Identity, sessionID string) (*editor.Session, error) {
	sess, err := s.lookup(actor, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Reauthorize(ctx); err != nil {
		if errors.Is(err, form.ErrForbidden) {
			s.drop(sessionID)
		}
		return nil, err
	}
	return sess, nil
}

func (s *Service) lookup(actor rbac.Identity, sessionID string) (*editor.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, form.ErrNotFound)
	}
	owner := entry.session.Identity()
	if actor.Anonymous() || !strings.EqualFold(strings.TrimSpace(owner.Email), strings.TrimSpace(actor.Email)) {
		return nil, fmt.Errorf("session %s: %w", sessionID, form.ErrForbidden)
	}
	entry.lastSeen = s.now()
	return entry.session, nil
}

func (s *Service) drop(sessionID string) {
	s.mu.Lock()
	entry, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if ok {
		entry.session.Close()
	}
}

func (s *Service) closeFormSessions(formID string) {
	s.mu.Lock()
	var closing []*editor.Session
	for id, entry := range s.sessions {
		if entry.session.Snapshot().ID == formID {
			closing = append(closing, entry.session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	for _, sess := range closing {
		sess.Close()
	}
}

func (s *Service) view(sess *editor.Session) SessionView {
	doc := sess.Snapshot()
	access := sess.Access()
	return SessionView{
		SessionID:    sess.ID(),
		Form:         doc,
		Role:         access.Role,
		Capabilities: capabilitiesOf(access),
		Save:         sess.State(),
		Restored:     sess.Restored(),
		Edited:       doc.IsEdited(s.cfg.EditedBadgeThreshold),
		Pristine:     doc.IsPristine(),
	}
}
