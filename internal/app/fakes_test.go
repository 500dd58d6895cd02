package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"formsmith/api/internal/auth"
	"formsmith/api/internal/backup"
	"formsmith/api/internal/config"
	"formsmith/api/internal/form"
	"formsmith/api/internal/gitrepo"
	"formsmith/api/internal/notify"
	"formsmith/api/internal/search"
	"formsmith/api/internal/store"
)

const testSecret = "test-secret"

// fakeStore is an in-memory formStore.
type fakeStore struct {
	mu            sync.Mutex
	seq           int
	forms         map[string]form.Document
	collaborators map[string][]form.Collaborator
	comments      map[string][]form.Comment

	pingFn   func(context.Context) error
	updateFn func(context.Context, form.Document) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		forms:         make(map[string]form.Document),
		collaborators: make(map[string][]form.Collaborator),
		comments:      make(map[string][]form.Comment),
	}
}

func (f *fakeStore) seed(doc form.Document, collaborators ...form.Collaborator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms[doc.ID] = doc.Clone()
	f.collaborators[doc.ID] = append([]form.Collaborator(nil), collaborators...)
}

func (f *fakeStore) form(id string) (form.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.forms[id]
	return doc.Clone(), ok
}

func (f *fakeStore) CreateForm(_ context.Context, doc form.Document) (form.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	doc.ID = fmt.Sprintf("frm_%d", f.seq)
	f.forms[doc.ID] = doc.Clone()
	return doc, nil
}

func (f *fakeStore) UpdateForm(ctx context.Context, doc form.Document) (form.Document, error) {
	if f.updateFn != nil {
		if err := f.updateFn(ctx, doc); err != nil {
			return form.Document{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.forms[doc.ID]
	if !ok {
		return form.Document{}, form.ErrNotFound
	}
	doc.OwnerEmail = existing.OwnerEmail
	doc.Archived = existing.Archived
	doc.CreatedAt = existing.CreatedAt
	f.forms[doc.ID] = doc.Clone()
	return doc, nil
}

func (f *fakeStore) GetForm(_ context.Context, id string) (form.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.forms[id]
	if !ok {
		return form.Document{}, fmt.Errorf("form %s: %w", id, form.ErrNotFound)
	}
	return doc.Clone(), nil
}

func (f *fakeStore) DeleteForm(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.forms[id]; !ok {
		return form.ErrNotFound
	}
	delete(f.forms, id)
	delete(f.collaborators, id)
	delete(f.comments, id)
	return nil
}

func (f *fakeStore) ArchiveForm(_ context.Context, id string, archived bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.forms[id]
	if !ok {
		return form.ErrNotFound
	}
	doc.Archived = archived
	f.forms[id] = doc
	return nil
}

func (f *fakeStore) ListFormsForUser(_ context.Context, email string, includeArchived bool) ([]store.FormSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.FormSummary
	for id, doc := range f.forms {
		if doc.Archived && !includeArchived {
			continue
		}
		role := ""
		if strings.EqualFold(doc.OwnerEmail, email) {
			role = "owner"
		}
		for _, c := range f.collaborators[id] {
			if role == "" && strings.EqualFold(c.Email, email) {
				role = string(c.Role)
			}
		}
		if role == "" {
			continue
		}
		out = append(out, store.FormSummary{
			ID:           id,
			Title:        doc.Title,
			OwnerEmail:   doc.OwnerEmail,
			Lifecycle:    doc.Lifecycle,
			Archived:     doc.Archived,
			Role:         role,
			ElementCount: len(doc.Elements),
			CreatedAt:    doc.CreatedAt,
			UpdatedAt:    doc.UpdatedAt,
			LastEditedAt: doc.LastEditedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListCollaborators(_ context.Context, formID string) ([]form.Collaborator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]form.Collaborator(nil), f.collaborators[formID]...), nil
}

func (f *fakeStore) AddCollaborator(_ context.Context, c form.Collaborator) (form.Collaborator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.forms[c.FormID]; !ok {
		return form.Collaborator{}, form.ErrNotFound
	}
	for _, existing := range f.collaborators[c.FormID] {
		if strings.EqualFold(existing.Email, c.Email) {
			return form.Collaborator{}, form.ErrAlreadyCollaborator
		}
	}
	f.collaborators[c.FormID] = append(f.collaborators[c.FormID], c)
	return c, nil
}

func (f *fakeStore) UpdateCollaboratorRole(_ context.Context, formID, collaboratorID string, role form.CollaboratorRole) (form.Collaborator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.collaborators[formID] {
		if c.ID == collaboratorID {
			f.collaborators[formID][i].Role = role
			return f.collaborators[formID][i], nil
		}
	}
	return form.Collaborator{}, form.ErrNotFound
}

func (f *fakeStore) RemoveCollaborator(_ context.Context, formID, collaboratorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.collaborators[formID]
	for i, c := range list {
		if c.ID == collaboratorID {
			f.collaborators[formID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return form.ErrNotFound
}

func (f *fakeStore) ListComments(_ context.Context, formID string) ([]form.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]form.Comment(nil), f.comments[formID]...), nil
}

func (f *fakeStore) GetComment(_ context.Context, formID, commentID string) (form.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.comments[formID] {
		if c.ID == commentID {
			return c, nil
		}
	}
	return form.Comment{}, form.ErrNotFound
}

func (f *fakeStore) CreateComment(_ context.Context, c form.Comment) (form.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[c.FormID] = append(f.comments[c.FormID], c)
	return c, nil
}

func (f *fakeStore) DeleteComment(_ context.Context, formID, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.comments[formID]
	for i, c := range list {
		if c.ID == commentID {
			f.comments[formID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return form.ErrNotFound
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeIndex struct {
	mu      sync.Mutex
	indexed []search.FormRecord
	deleted []string
	results []search.Result
	queries []search.Query
}

func (f *fakeIndex) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: append([]search.Result{}, f.results...), Total: len(f.results), Query: q.Text}
}

func (f *fakeIndex) IndexForm(rec search.FormRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, rec)
}

func (f *fakeIndex) DeleteForm(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func (f *fakeIndex) lastIndexed() (search.FormRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.indexed) == 0 {
		return search.FormRecord{}, false
	}
	return f.indexed[len(f.indexed)-1], true
}

type fakeNotifier struct {
	mu      sync.Mutex
	invites []notify.Invite
	err     error
}

func (f *fakeNotifier) NotifyCollaboratorInvited(_ context.Context, invite notify.Invite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.invites = append(f.invites, invite)
	return nil
}

// failingBackup reports an unhealthy backup store.
type failingBackup struct {
	*backup.MemoryStore
}

func (failingBackup) Ping(context.Context) error { return errors.New("redis unreachable") }

type testEnv struct {
	server   *HTTPServer
	service  *Service
	store    *fakeStore
	index    *fakeIndex
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := newFakeStore()
	index := &fakeIndex{}
	notifier := &fakeNotifier{}
	cfg := config.Config{
		JWTSecret:            testSecret,
		PublicURL:            "https://forms.test",
		AutosaveDebounce:     time.Hour,
		SessionIdleTTL:       30 * time.Minute,
		EditedBadgeThreshold: time.Minute,
	}
	svc := New(cfg, Deps{
		Store:    fs,
		Backup:   backup.NewMemoryStore(),
		Versions: gitrepo.New(t.TempDir()),
		Search:   index,
		Notifier: notifier,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(svc.CloseAll)
	return &testEnv{
		server:   NewHTTPServer(svc, "*", zerolog.Nop()),
		service:  svc,
		store:    fs,
		index:    index,
		notifier: notifier,
	}
}

func tokenFor(t *testing.T, email string) string {
	t.Helper()
	local, _, _ := strings.Cut(email, "@")
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:   "usr-" + local,
		Email: email,
		Name:  strings.ToUpper(local[:1]) + local[1:],
		JTI:   "jti-" + local,
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, email, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := newJSONRequest(method, path, body)
	if email != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, email))
	}
	return e.serve(req)
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func newJSONRequest(method, path, body string) *http.Request {
	if body == "" {
		return httptest.NewRequest(method, path, nil)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return out
}

func assertCode(t *testing.T, rr *httptest.ResponseRecorder, code string) {
	t.Helper()
	payload := decodeJSON[map[string]any](t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v (status %d)", code, payload["code"], rr.Code)
	}
}

// seedSharedForm stores a form owned by owner@x.com with a viewer and an
// editor collaborator.
func (e *testEnv) seedSharedForm(id string) form.Document {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	el, _ := form.DefaultElement(form.KindSingleChoice)
	el.ID = "el-1"
	doc := form.Document{
		ID:         id,
		Title:      "Team survey",
		Lifecycle:  form.LifecycleDraft,
		Elements:   []form.Element{el},
		OwnerEmail: "owner@x.com",
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	e.store.seed(doc,
		form.Collaborator{ID: "col-viewer", FormID: id, Email: "viewer@x.com", Role: form.CollaboratorViewer, CreatedAt: created},
		form.Collaborator{ID: "col-editor", FormID: id, Email: "editor@x.com", Role: form.CollaboratorEditor, CreatedAt: created},
	)
	return doc
}
