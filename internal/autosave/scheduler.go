// Package autosave keeps an in-memory form, its local backup and its remote
// record consistent. Mutations restart a debounce timer; when it fires the
// scheduler writes a backup snapshot and, if the lifecycle allows, persists
// the whole document to the remote store.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"formsmith/api/internal/form"
)

const DefaultDebounce = 5 * time.Second

var (
	ErrClosed       = errors.New("editing session closed")
	ErrSaveInFlight = errors.New("save already in flight")
)

// Remote is the persistence store as the scheduler sees it. Both calls
// overwrite the whole document; the returned document carries the assigned
// id and server timestamps.
type Remote interface {
	CreateForm(ctx context.Context, doc form.Document) (form.Document, error)
	UpdateForm(ctx context.Context, doc form.Document) (form.Document, error)
}

// Backup is the best-effort local snapshot store.
type Backup interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Clear(ctx context.Context, key string) error
}

type Timer interface {
	Stop() bool
}

type Options struct {
	Debounce time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
	// AfterFunc schedules f after d. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
	// KeyFor names the backup key of a form once the remote store has
	// assigned it an id. When nil the session key never changes.
	KeyFor func(formID string) string
}

// State is the externally visible save state.
type State struct {
	Status      Status     `json:"status"`
	LastSavedAt *time.Time `json:"lastSavedAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

type Scheduler struct {
	remote    Remote
	backup    Backup
	debounce  time.Duration
	log       zerolog.Logger
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
	keyFor    func(string) string

	mu          sync.Mutex
	key         string
	doc         form.Document
	baseline    form.Content
	hasBaseline bool
	status      Status
	inFlight    bool
	timer       Timer
	closed      bool
	lastSavedAt *time.Time
	lastErr     error
}

func New(remote Remote, backup Backup, opts Options) *Scheduler {
	s := &Scheduler{
		remote:    remote,
		backup:    backup,
		debounce:  opts.Debounce,
		log:       opts.Logger,
		now:       opts.Now,
		afterFunc: opts.AfterFunc,
		keyFor:    opts.KeyFor,
		status:    StatusIdle,
		closed:    true,
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.afterFunc == nil {
		s.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return s
}

// Open binds the scheduler to a session key and its starting document. A
// persisted document becomes the baseline for edited-content detection.
func (s *Scheduler) Open(sessionKey string, doc form.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.key = sessionKey
	s.doc = doc.Clone()
	s.hasBaseline = doc.Persisted()
	if s.hasBaseline {
		s.baseline = doc.Content()
	}
	s.status = StatusIdle
	s.closed = false
	s.lastSavedAt = nil
	s.lastErr = nil
}

// Close cancels the pending debounce timer. A save already in flight is left
// to complete.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
}

func (s *Scheduler) Snapshot() form.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{Status: s.status}
	if s.lastSavedAt != nil {
		t := *s.lastSavedAt
		st.LastSavedAt = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Mutate applies fn to a copy of the document. If fn fails nothing changes.
// A mutation that alters content marks the session dirty and restarts the
// debounce timer.
func (s *Scheduler) Mutate(fn func(doc *form.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	next := s.doc.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if next.Content().Equal(s.doc.Content()) {
		return nil
	}
	s.doc = next
	s.status = Next(s.status, EventMutate)
	s.stopTimerLocked()
	s.timer = s.afterFunc(s.debounce, s.fire)
	return nil
}

// Save persists the document now, whatever its lifecycle.
func (s *Scheduler) Save(ctx context.Context) error {
	return s.save(ctx, triggerManual, "")
}

// Promote persists the document now with its lifecycle forced to lc.
func (s *Scheduler) Promote(ctx context.Context, lc form.Lifecycle) error {
	return s.save(ctx, triggerManual, lc)
}

func (s *Scheduler) fire() {
	_ = s.save(context.Background(), triggerAuto, "")
}

func (s *Scheduler) save(ctx context.Context, trigger string, lifecycle form.Lifecycle) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.inFlight {
		s.stopTimerLocked()
		s.timer = s.afterFunc(s.debounce, s.fire)
		s.mu.Unlock()
		savesTotal.WithLabelValues(trigger, outcomeRequeued).Inc()
		return ErrSaveInFlight
	}
	if trigger == triggerManual {
		s.stopTimerLocked()
	}

	snapshot := s.doc.Clone()
	key := s.key

	if trigger == triggerAuto && snapshot.IsPristine() {
		s.status = Next(s.status, EventDiscarded)
		s.mu.Unlock()
		savesTotal.WithLabelValues(trigger, outcomeDiscarded).Inc()
		return nil
	}

	eligible := trigger == triggerManual || !snapshot.Persisted() || snapshot.Lifecycle == form.LifecycleInProgress
	if !eligible {
		s.mu.Unlock()
		s.writeBackup(ctx, key, snapshot)
		savesTotal.WithLabelValues(trigger, outcomeSkipped).Inc()
		return nil
	}

	switch {
	case lifecycle != "":
		snapshot.Lifecycle = lifecycle
	case !snapshot.Persisted():
		snapshot.Lifecycle = form.LifecycleInProgress
	}
	now := s.now()
	if !s.hasBaseline || !s.baseline.Equal(snapshot.Content()) {
		snapshot.LastEditedAt = &now
	}
	snapshot.UpdatedAt = now
	s.inFlight = true
	s.status = Next(s.status, EventSaveStarted)
	s.mu.Unlock()

	s.writeBackup(ctx, key, snapshot)

	var (
		saved form.Document
		err   error
	)
	if snapshot.Persisted() {
		saved, err = s.remote.UpdateForm(ctx, snapshot)
	} else {
		saved, err = s.remote.CreateForm(ctx, snapshot)
	}

	s.mu.Lock()
	s.inFlight = false
	if err != nil {
		s.status = Next(s.status, EventSaveFailed)
		s.lastErr = err
		s.mu.Unlock()
		savesTotal.WithLabelValues(trigger, outcomeFailed).Inc()
		s.log.Error().Err(err).Str("trigger", trigger).Str("form_id", snapshot.ID).Msg("form save failed")
		return fmt.Errorf("%w: %w", form.ErrSaveFailed, err)
	}

	if saved.ID != "" {
		s.doc.ID = saved.ID
	}
	if !saved.CreatedAt.IsZero() {
		s.doc.CreatedAt = saved.CreatedAt
	}
	s.doc.UpdatedAt = snapshot.UpdatedAt
	s.doc.Lifecycle = snapshot.Lifecycle
	if saved.Lifecycle != "" {
		s.doc.Lifecycle = saved.Lifecycle
	}
	s.doc.LastEditedAt = snapshot.LastEditedAt
	// The new-form key only ever holds an unsaved draft; once the record
	// exists its backups move to the form's own key.
	staleKey := ""
	if !snapshot.Persisted() && s.doc.ID != "" && s.keyFor != nil {
		if next := s.keyFor(s.doc.ID); next != key {
			staleKey = key
			s.key = next
			key = next
		}
	}
	s.baseline = snapshot.Content()
	s.hasBaseline = true
	s.lastSavedAt = &now
	s.lastErr = nil
	s.status = Next(s.status, EventSaveSucceeded)
	clean := s.status == StatusSaved
	formID := s.doc.ID
	savedLifecycle := s.doc.Lifecycle
	s.mu.Unlock()

	savesTotal.WithLabelValues(trigger, outcomeOK).Inc()
	s.log.Info().Str("trigger", trigger).Str("form_id", formID).Str("lifecycle", string(savedLifecycle)).Msg("form saved")
	if staleKey != "" {
		s.clearBackup(ctx, staleKey)
	}
	if clean {
		s.clearBackup(ctx, key)
	}
	return nil
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) writeBackup(ctx context.Context, key string, doc form.Document) {
	if s.backup == nil || key == "" {
		return
	}
	payload, err := json.Marshal(doc.Content())
	if err == nil {
		err = s.backup.Set(ctx, key, payload)
	}
	if err != nil {
		backupsTotal.WithLabelValues(outcomeFailed).Inc()
		s.log.Warn().Err(err).Str("session_key", key).Msg("draft backup write failed")
		return
	}
	backupsTotal.WithLabelValues(outcomeOK).Inc()
}

func (s *Scheduler) clearBackup(ctx context.Context, key string) {
	if s.backup == nil || key == "" {
		return
	}
	if err := s.backup.Clear(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("session_key", key).Msg("draft backup clear failed")
	}
}

// LoadBackup reads and decodes the snapshot stored under key.
func LoadBackup(ctx context.Context, backup Backup, key string) (form.Content, bool, error) {
	raw, ok, err := backup.Get(ctx, key)
	if err != nil || !ok {
		return form.Content{}, false, err
	}
	var content form.Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return form.Content{}, false, fmt.Errorf("decode draft backup: %w", err)
	}
	return content, true, nil
}
