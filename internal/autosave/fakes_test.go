package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"formsmith/api/internal/form"
)

type fakeTimer struct {
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeTimers collects scheduled callbacks so tests decide when they fire.
type fakeTimers struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(_ time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{f: f}
	ft.pending = append(ft.pending, t)
	return t
}

// FireAll runs every armed timer and returns how many fired.
func (ft *fakeTimers) FireAll() int {
	ft.mu.Lock()
	due := ft.pending
	ft.pending = nil
	ft.mu.Unlock()

	fired := 0
	for _, t := range due {
		if t.stopped || t.fired {
			continue
		}
		t.fired = true
		t.f()
		fired++
	}
	return fired
}

func (ft *fakeTimers) Active() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, t := range ft.pending {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeRemote struct {
	mu      sync.Mutex
	creates []form.Document
	updates []form.Document
	err     error
	nextID  int

	// started/release make a call block until the test lets it finish.
	started chan struct{}
	release chan struct{}
}

func (r *fakeRemote) CreateForm(_ context.Context, doc form.Document) (form.Document, error) {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates = append(r.creates, doc.Clone())
	if r.err != nil {
		return form.Document{}, r.err
	}
	r.nextID++
	doc.ID = fmt.Sprintf("frm_%d", r.nextID)
	return doc, nil
}

func (r *fakeRemote) UpdateForm(_ context.Context, doc form.Document) (form.Document, error) {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, doc.Clone())
	if r.err != nil {
		return form.Document{}, r.err
	}
	return doc, nil
}

func (r *fakeRemote) wait() {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
}

func (r *fakeRemote) calls() (creates, updates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creates), len(r.updates)
}

type fakeBackup struct {
	mu     sync.Mutex
	values map[string][]byte
	sets   int
	setErr error
}

func newFakeBackup() *fakeBackup {
	return &fakeBackup{values: map[string][]byte{}}
}

func (b *fakeBackup) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sets++
	if b.setErr != nil {
		return b.setErr
	}
	b.values[key] = value
	return nil
}

func (b *fakeBackup) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *fakeBackup) Clear(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	return nil
}

func (b *fakeBackup) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.values[key]
	return ok
}

var errStoreDown = errors.New("store unavailable")

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	sched  *Scheduler
	timers *fakeTimers
	remote *fakeRemote
	backup *fakeBackup
	now    time.Time
}

func newHarness() *harness {
	h := &harness{
		timers: &fakeTimers{},
		remote: &fakeRemote{},
		backup: newFakeBackup(),
		now:    fixedNow,
	}
	h.sched = New(h.remote, h.backup, Options{
		Debounce:  5 * time.Second,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return h.now },
		AfterFunc: h.timers.AfterFunc,
	})
	return h
}
