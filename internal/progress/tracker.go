package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

// DataKey is the key-value entry holding PyqUserData.
const DataKey = "pyqdeck.pyqUserData"

// Session is the view of the session the Tracker needs.
type Session interface {
	// Authenticated reports whether progress should be mirrored to the
	// server. Guests and signed-out users are local-only.
	Authenticated() bool
	SetCompleted(ctx context.Context, id string, done bool) error
	ClearCompleted(ctx context.Context) ([]string, error)
}

// Backend mirrors completion to the server.
type Backend interface {
	UpdateProgress(ctx context.Context, questionID string, completed bool) ([]string, error)
}

// Config tunes background syncing.
type Config struct {
	// SyncTimeout bounds each server sync call. Default: 15s.
	SyncTimeout time.Duration

	// ClearConcurrency bounds concurrent uncomplete calls. Default: 4.
	ClearConcurrency int

	// QueueSize is the capacity of the sync queue. Default: 256.
	QueueSize int
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{
		SyncTimeout:      15 * time.Second,
		ClearConcurrency: 4,
		QueueSize:        256,
	}
}

type syncJob struct {
	ctx       context.Context
	id        string
	completed bool

	// barrier, when set, marks a Flush point instead of a sync.
	barrier chan struct{}
}

// Tracker owns PyqUserData. Status changes apply locally first and are then
// mirrored to the server by a single background worker in FIFO order.
type Tracker struct {
	kv      store.KeyValue
	session Session
	backend Backend
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	data Data

	warnMu    sync.Mutex
	onWarning func(*apperr.SyncWarning)

	sendMu  sync.RWMutex
	closed  bool
	pending chan syncJob
	done    chan struct{}
}

// NewTracker creates a Tracker and starts its sync worker. Call Close to
// stop it.
func NewTracker(kv store.KeyValue, session Session, backend Backend, cfg Config, logger *slog.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = def.SyncTimeout
	}
	if cfg.ClearConcurrency <= 0 {
		cfg.ClearConcurrency = def.ClearConcurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		kv:      kv,
		session: session,
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		data:    Data{},
		pending: make(chan syncJob, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go t.processLoop()
	return t
}

// OnWarning sets the handler for sync warnings. Warnings are always logged.
func (t *Tracker) OnWarning(fn func(*apperr.SyncWarning)) {
	t.warnMu.Lock()
	defer t.warnMu.Unlock()
	t.onWarning = fn
}

// Load restores persisted data. A corrupt entry is discarded.
func (t *Tracker) Load(ctx context.Context) error {
	raw, ok, err := t.kv.Get(ctx, DataKey)
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}

	d := Data{}
	if ok {
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			t.logger.Warn("discarding corrupt progress data", "error", err)
			d = Data{}
		}
	}

	t.mu.Lock()
	t.data = d
	t.mu.Unlock()
	return nil
}

// Entry returns the entry for id. Untracked questions are not_started.
func (t *Tracker) Entry(id string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.data[id]; ok {
		return e
	}
	return Entry{Status: NotStarted}
}

// Data returns a copy of all tracked entries.
func (t *Tracker) Data() Data {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.clone()
}

// Stats counts statuses over ids, or over every tracked question when ids
// is empty.
func (t *Tracker) Stats(ids []string) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st Stats
	count := func(s Status) {
		switch s {
		case Mastered:
			st.Mastered++
		case Practiced:
			st.Practiced++
		default:
			st.NotStarted++
		}
	}
	if len(ids) == 0 {
		for _, e := range t.data {
			count(e.Status)
		}
		return st
	}
	for _, id := range ids {
		count(t.data[id].Status)
	}
	return st
}

// UpdateStatus sets the status of a question. The change is applied and
// persisted before returning; mirroring it to the server happens in the
// background and failures surface as sync warnings.
func (t *Tracker) UpdateStatus(ctx context.Context, id string, status Status) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperr.Required("question id")
	}
	if !status.Valid() {
		return &apperr.ValidationError{Field: "status", Reason: fmt.Sprintf("must be one of %s", strings.Join(statusNames(), ", "))}
	}

	err := t.mutate(ctx, func(d Data) bool {
		e := d[id]
		e.Status = status
		e.UpdatedAt = t.now()
		d[id] = e
		return true
	})
	if err != nil {
		return err
	}

	if !t.session.Authenticated() {
		return nil
	}

	completed := status != NotStarted
	if err := t.session.SetCompleted(ctx, id, completed); err != nil {
		t.logger.Warn("failed to update session completed list", "question_id", id, "error", err)
	}
	t.enqueue(syncJob{ctx: ctx, id: id, completed: completed})
	return nil
}

// UpdateNotes sets the notes of a question. Notes are never synced.
func (t *Tracker) UpdateNotes(ctx context.Context, id, notes string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperr.Required("question id")
	}
	return t.mutate(ctx, func(d Data) bool {
		e := d[id]
		if e.Status == "" {
			e.Status = NotStarted
		}
		e.Notes = notes
		e.UpdatedAt = t.now()
		d[id] = e
		return true
	})
}

// Reconcile merges a server profile into local data. Questions the server
// reports completed are raised to at least practiced; nothing is ever
// lowered.
func (t *Tracker) Reconcile(ctx context.Context, u *api.User) {
	if u == nil {
		return
	}
	var promoted []string
	err := t.mutate(ctx, func(d Data) bool {
		for _, id := range u.CompletedQuestions {
			e, ok := d[id]
			if ok && e.Status.rank() >= Practiced.rank() {
				continue
			}
			e.Status = Practiced
			e.UpdatedAt = t.now()
			d[id] = e
			promoted = append(promoted, id)
		}
		return len(promoted) > 0
	})
	if err != nil {
		t.logger.Warn("failed to persist reconciled progress", "error", err)
		return
	}
	if len(promoted) > 0 {
		t.logger.Debug("reconciled progress", "promoted", len(promoted))
	}
}

// ClearPracticeData removes all local progress and the session's completed
// list, then asks the server to uncomplete every previously completed
// question. The local clear stands even when some server calls fail; those
// are returned together as a *apperr.SyncWarning.
func (t *Tracker) ClearPracticeData(ctx context.Context) error {
	var localDone []string
	err := t.mutate(ctx, func(d Data) bool {
		for id, e := range d {
			if e.Status.rank() >= Practiced.rank() {
				localDone = append(localDone, id)
			}
		}
		clear(d)
		return true
	})
	if err != nil {
		return err
	}

	if !t.session.Authenticated() {
		return nil
	}

	serverDone, err := t.session.ClearCompleted(ctx)
	if err != nil {
		t.logger.Warn("failed to clear session completed list", "error", err)
	}

	// Queued completions must not land after the uncompletes below.
	if err := t.Flush(ctx); err != nil {
		return err
	}

	ids := slices.Concat(serverDone, localDone)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed []string
		errs   []error
	)
	g := new(errgroup.Group)
	g.SetLimit(t.cfg.ClearConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, t.cfg.SyncTimeout)
			defer cancel()
			if _, err := t.backend.UpdateProgress(callCtx, id, false); err != nil {
				mu.Lock()
				failed = append(failed, id)
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
			// Siblings keep running regardless of this result.
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		t.logger.Info("cleared practice data", "uncompleted", len(ids))
		return nil
	}
	slices.Sort(failed)
	w := &apperr.SyncWarning{Op: "clear progress", QuestionIDs: failed, Err: errors.Join(errs...)}
	t.warn(w)
	return w
}

// Flush waits until every sync queued before the call has been attempted.
func (t *Tracker) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	t.sendMu.RLock()
	if t.closed {
		t.sendMu.RUnlock()
		return nil
	}
	select {
	case t.pending <- syncJob{barrier: barrier}:
	case <-ctx.Done():
		t.sendMu.RUnlock()
		return ctx.Err()
	}
	t.sendMu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued syncs and stops the worker.
func (t *Tracker) Close() {
	t.sendMu.Lock()
	if !t.closed {
		t.closed = true
		close(t.pending)
	}
	t.sendMu.Unlock()
	<-t.done
}

func (t *Tracker) enqueue(job syncJob) {
	t.sendMu.RLock()
	defer t.sendMu.RUnlock()

	if t.closed {
		t.warn(&apperr.SyncWarning{Op: "update progress", QuestionIDs: []string{job.id}, Err: errors.New("tracker closed")})
		return
	}
	select {
	case t.pending <- job:
	default:
		t.warn(&apperr.SyncWarning{Op: "update progress", QuestionIDs: []string{job.id}, Err: errors.New("sync queue full")})
	}
}

func (t *Tracker) processLoop() {
	defer close(t.done)
	for job := range t.pending {
		if job.barrier != nil {
			close(job.barrier)
			continue
		}
		t.sync(job)
	}
}

func (t *Tracker) sync(job syncJob) {
	// Signed out since the job was queued; the change stays local.
	if !t.session.Authenticated() {
		t.warn(&apperr.SyncWarning{Op: "update progress", QuestionIDs: []string{job.id}, Err: errors.New("signed out before sync")})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(job.ctx), t.cfg.SyncTimeout)
	defer cancel()

	if _, err := t.backend.UpdateProgress(ctx, job.id, job.completed); err != nil {
		t.warn(&apperr.SyncWarning{Op: "update progress", QuestionIDs: []string{job.id}, Err: err})
		return
	}
	t.logger.Debug("progress synced", "question_id", job.id, "completed", job.completed)
}

func (t *Tracker) warn(w *apperr.SyncWarning) {
	t.logger.Warn("progress sync failed", "op", w.Op, "questions", w.QuestionIDs, "error", w.Err)

	t.warnMu.Lock()
	fn := t.onWarning
	t.warnMu.Unlock()
	if fn != nil {
		fn(w)
	}
}

// mutate applies fn to a copy of the data and, if fn reports a change,
// persists the copy before installing it.
func (t *Tracker) mutate(ctx context.Context, fn func(d Data) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.data.clone()
	if !fn(next) {
		return nil
	}
	b, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := t.kv.Set(ctx, DataKey, string(b)); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	t.data = next
	return nil
}
