// Package profilesync keeps a local profile draft and the remote profile
// document converged. The engine owns the draft: field edits are applied
// synchronously, validated, and written through to the store after a
// per-field debounce; remote snapshots merge in around local edits.
package profilesync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/internal/store"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
)

// defaultDebounce is the per-field quiet period before a write-through.
const defaultDebounce = 900 * time.Millisecond

// LocationSeeder resolves a location suggestion for a user whose profile has
// none yet. Implementations may block; the engine always calls it from its
// own goroutine.
type LocationSeeder interface {
	SeedLocation(ctx context.Context, userID string) (string, error)
}

// PersistHook is invoked after every successful write-through with the
// persisted field values.
type PersistHook func(userID string, fields map[string]string)

// Option configures an Engine.
type Option func(*Engine)

// WithDebounce overrides the per-field debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) { e.debounce = d }
}

// WithLocationSeeder enables geolocation seeding for empty-location drafts.
func WithLocationSeeder(s LocationSeeder) Option {
	return func(e *Engine) { e.seeder = s }
}

// WithPersistHook registers a hook for successful write-throughs.
func WithPersistHook(h PersistHook) Option {
	return func(e *Engine) { e.onPersisted = h }
}

// WithErrorHandler registers the callback for asynchronous failures:
// debounced write-through errors and broken subscriptions.
func WithErrorHandler(fn func(error)) Option {
	return func(e *Engine) { e.onError = fn }
}

// Engine synchronizes one profile draft with its remote document. All draft
// mutation happens inside the engine's mutex; late callbacks from a closed
// or replaced draft are discarded by generation check.
type Engine struct {
	documents   store.DocumentStore
	logger      *slog.Logger
	seeder      LocationSeeder
	onPersisted PersistHook
	onError     func(error)
	debounce    time.Duration

	mu        sync.Mutex
	gen       uint64
	ctx       context.Context
	draft     *domain.ProfileDraft
	unsub     store.Unsubscribe
	timers    map[string]*fieldTimer
	timerSeq  uint64
	seeded    bool
	observers map[int]func(domain.ProfileDraft)
	nextObs   int
}

// fieldTimer is one armed debounce timer. The sequence number identifies the
// arming; a callback whose sequence no longer matches the registered timer
// belongs to a superseded arming and must not flush.
type fieldTimer struct {
	t   *time.Timer
	seq uint64
}

// NewEngine creates a sync engine over the given document store.
func NewEngine(documents store.DocumentStore, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		documents: documents,
		logger:    logger,
		debounce:  defaultDebounce,
		timers:    make(map[string]*fieldTimer),
		observers: make(map[int]func(domain.ProfileDraft)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadDraftFor closes any previous draft and opens a fresh one for the user,
// backed by a live subscription to their document. Snapshots for the
// previous user can no longer reach the new draft.
func (e *Engine) LoadDraftFor(ctx context.Context, userID string) error {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	oldUnsub := e.detachLocked()
	draft := domain.NewProfileDraft(userID)
	e.draft = &draft
	e.ctx = ctx
	e.seeded = false
	e.mu.Unlock()

	if oldUnsub != nil {
		oldUnsub()
	}

	unsub, err := e.documents.Subscribe(ctx, userID,
		func(doc *domain.ProfileDocument) { e.applySnapshot(gen, doc) },
		func(err error) { e.subscriptionBroken(gen, err) },
	)
	if err != nil {
		e.mu.Lock()
		if e.gen == gen {
			e.draft = nil
		}
		e.mu.Unlock()
		return fmt.Errorf("open profile subscription: %w", err)
	}

	e.mu.Lock()
	if e.gen != gen {
		// The draft was closed or replaced while we were subscribing.
		e.mu.Unlock()
		unsub()
		return nil
	}
	e.unsub = unsub
	e.mu.Unlock()

	return nil
}

// SetField applies a local edit: the draft updates synchronously, the field
// is marked dirty and re-validated, and a valid value arms (or re-arms) the
// field's debounced write-through. Invalid values never reach the store.
func (e *Engine) SetField(name, value string) error {
	if !domain.IsEditableField(name) {
		return fmt.Errorf("field %q: %w", name, apperrors.ErrInvalidInput)
	}

	e.mu.Lock()
	if e.draft == nil {
		e.mu.Unlock()
		return apperrors.ErrDraftClosed
	}

	e.draft.SetField(name, value)
	e.draft.DirtyFields[name] = struct{}{}

	code := domain.ValidateField(name, value)
	if code == "" {
		delete(e.draft.ValidationErrors, name)
		e.armTimerLocked(name)
	} else {
		e.draft.ValidationErrors[name] = code
		e.stopTimerLocked(name)
		validationFailuresTotal.WithLabelValues(name).Inc()
	}
	e.mu.Unlock()

	e.notifyObservers()
	return nil
}

// Save validates the whole draft and, if it passes, writes every dirty field
// in a single batched merge. On validation failure nothing is written. The
// returned slice names the fields that were persisted.
func (e *Engine) Save(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	if e.draft == nil {
		e.mu.Unlock()
		return nil, apperrors.ErrDraftClosed
	}

	failed := domain.ValidateDraft(e.draft)
	if len(failed) > 0 {
		e.draft.ValidationErrors = failed
		for field := range failed {
			validationFailuresTotal.WithLabelValues(field).Inc()
		}
		e.mu.Unlock()
		e.notifyObservers()
		return nil, apperrors.NewValidationError(failed)
	}

	gen := e.gen
	userID := e.draft.UserID
	names := make([]string, 0, len(e.draft.DirtyFields))
	fields := make(map[string]any, len(e.draft.DirtyFields))
	values := make(map[string]string, len(e.draft.DirtyFields))
	for name := range e.draft.DirtyFields {
		value, _ := e.draft.Field(name)
		names = append(names, name)
		fields[name] = value
		values[name] = value
	}
	sort.Strings(names)

	// The batched save supersedes any pending per-field flushes.
	for _, name := range names {
		e.stopTimerLocked(name)
	}
	e.mu.Unlock()

	if len(names) == 0 {
		return nil, nil
	}

	if err := e.documents.WriteMerge(ctx, userID, fields); err != nil {
		writeThroughsTotal.WithLabelValues("save", "error").Inc()
		return nil, classifyWriteError(err, names)
	}
	writeThroughsTotal.WithLabelValues("save", "ok").Inc()

	e.confirmPersisted(gen, values)

	if e.onPersisted != nil {
		e.onPersisted(userID, values)
	}
	return names, nil
}

// Close tears the draft down: timers stop, the subscription ends, and any
// in-flight results are discarded when they arrive. Close is idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.draft == nil && e.unsub == nil {
		e.mu.Unlock()
		return
	}
	e.gen++
	e.draft = nil
	e.ctx = nil
	unsub := e.detachLocked()
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Draft returns a copy of the current draft, or nil when closed.
func (e *Engine) Draft() *domain.ProfileDraft {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft == nil {
		return nil
	}
	cp := e.draft.Clone()
	return &cp
}

// OnDraft registers a draft observer. It fires immediately with the current
// draft if one is loaded, then after every change, until removed or the
// engine is closed.
func (e *Engine) OnDraft(fn func(d domain.ProfileDraft)) func() {
	e.mu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	var replay *domain.ProfileDraft
	if e.draft != nil {
		cp := e.draft.Clone()
		replay = &cp
	}
	e.mu.Unlock()

	if replay != nil {
		fn(*replay)
	}

	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// --- internals ---

// detachLocked clears subscription and timer state and returns the previous
// unsubscribe func, which the caller must invoke outside the lock.
func (e *Engine) detachLocked() store.Unsubscribe {
	for name, ft := range e.timers {
		ft.t.Stop()
		delete(e.timers, name)
	}
	unsub := e.unsub
	e.unsub = nil
	return unsub
}

// armTimerLocked starts or restarts the debounce timer for a field. Each
// arming gets a fresh timer and sequence number; resetting the old timer
// would let a callback that already fired race the new arming. Caller holds
// e.mu.
func (e *Engine) armTimerLocked(name string) {
	if ft, ok := e.timers[name]; ok {
		ft.t.Stop()
	}
	gen := e.gen
	e.timerSeq++
	seq := e.timerSeq
	e.timers[name] = &fieldTimer{
		seq: seq,
		t: time.AfterFunc(e.debounce, func() {
			e.flushField(gen, seq, name)
		}),
	}
}

func (e *Engine) stopTimerLocked(name string) {
	if ft, ok := e.timers[name]; ok {
		ft.t.Stop()
		delete(e.timers, name)
	}
}

// flushField performs the debounced write-through of one field, carrying
// whatever value the field holds at flush time.
func (e *Engine) flushField(gen, seq uint64, name string) {
	e.mu.Lock()
	if e.gen != gen || e.draft == nil {
		e.mu.Unlock()
		lateCallbacksDiscardedTotal.Inc()
		return
	}
	ft, ok := e.timers[name]
	if !ok || ft.seq != seq {
		e.mu.Unlock()
		lateCallbacksDiscardedTotal.Inc()
		return
	}
	delete(e.timers, name)
	if !e.draft.IsDirty(name) {
		e.mu.Unlock()
		return
	}
	userID := e.draft.UserID
	value, _ := e.draft.Field(name)
	ctx := e.ctx
	e.mu.Unlock()

	if err := e.documents.WriteMerge(ctx, userID, map[string]any{name: value}); err != nil {
		writeThroughsTotal.WithLabelValues("debounce", "error").Inc()
		werr := classifyWriteError(err, []string{name})
		e.logger.Warn("profile write-through failed",
			slog.String("user_id", userID),
			slog.String("field", name),
			slog.String("error", err.Error()),
		)
		if e.onError != nil {
			e.onError(werr)
		}
		return
	}
	writeThroughsTotal.WithLabelValues("debounce", "ok").Inc()

	e.confirmPersisted(gen, map[string]string{name: value})

	if e.onPersisted != nil {
		e.onPersisted(userID, map[string]string{name: value})
	}
}

// confirmPersisted clears dirty marks for fields whose current draft value
// matches the value that was written. A field edited again while its write
// was in flight stays dirty.
func (e *Engine) confirmPersisted(gen uint64, written map[string]string) {
	e.mu.Lock()
	if e.gen != gen || e.draft == nil {
		e.mu.Unlock()
		lateCallbacksDiscardedTotal.Inc()
		return
	}
	for name, writtenValue := range written {
		if current, _ := e.draft.Field(name); current == writtenValue {
			delete(e.draft.DirtyFields, name)
		}
	}
	e.mu.Unlock()

	e.notifyObservers()
}

// applySnapshot merges a remote snapshot into the draft. Dirty fields keep
// their local value; everything else adopts the remote state.
func (e *Engine) applySnapshot(gen uint64, doc *domain.ProfileDocument) {
	e.mu.Lock()
	if e.gen != gen || e.draft == nil {
		e.mu.Unlock()
		lateCallbacksDiscardedTotal.Inc()
		return
	}

	if doc != nil {
		merged := append([]string{domain.FieldEmail}, domain.EditableFields...)
		for _, name := range merged {
			if e.draft.IsDirty(name) {
				snapshotFieldsSkippedTotal.Inc()
				continue
			}
			value, _ := doc.Field(name)
			e.draft.SetField(name, value)
			if code := domain.ValidateField(name, value); code != "" {
				e.draft.ValidationErrors[name] = code
			} else {
				delete(e.draft.ValidationErrors, name)
			}
		}
		e.draft.UpdatedAt = doc.UpdatedAt
	}
	snapshotsAppliedTotal.Inc()

	seed := e.seeder != nil && !e.seeded && e.draft.Location == ""
	if seed {
		e.seeded = true
	}
	userID := e.draft.UserID
	ctx := e.ctx
	e.mu.Unlock()

	e.notifyObservers()

	if seed {
		go e.seedLocation(ctx, gen, userID)
	}
}

// seedLocation resolves a location suggestion and applies it as a non-dirty
// value, unless the user edited location in the meantime.
func (e *Engine) seedLocation(ctx context.Context, gen uint64, userID string) {
	location, err := e.seeder.SeedLocation(ctx, userID)
	if err != nil || location == "" {
		if err != nil {
			e.logger.Debug("location seeding failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	e.mu.Lock()
	if e.gen != gen || e.draft == nil {
		e.mu.Unlock()
		lateCallbacksDiscardedTotal.Inc()
		return
	}
	if e.draft.Location != "" || e.draft.IsDirty(domain.FieldLocation) {
		e.mu.Unlock()
		return
	}
	e.draft.Location = location
	e.mu.Unlock()

	e.notifyObservers()
}

// subscriptionBroken surfaces a dead subscription via the error callback.
// The draft stays usable with its last known state.
func (e *Engine) subscriptionBroken(gen uint64, err error) {
	e.mu.Lock()
	stale := e.gen != gen || e.draft == nil
	e.mu.Unlock()

	if stale {
		lateCallbacksDiscardedTotal.Inc()
		return
	}

	e.logger.Warn("profile subscription broken", slog.String("error", err.Error()))
	if e.onError != nil {
		e.onError(err)
	}
}

// notifyObservers delivers the current draft copy to all observers. Called
// without the lock held.
func (e *Engine) notifyObservers() {
	e.mu.Lock()
	if e.draft == nil {
		e.mu.Unlock()
		return
	}
	cp := e.draft.Clone()
	fns := make([]func(domain.ProfileDraft), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(cp)
	}
}

// classifyWriteError wraps a store failure as a WriteError, keyed by the
// fields left unpersisted.
func classifyWriteError(err error, fields []string) *apperrors.WriteError {
	kind := apperrors.WriteUnknown
	switch {
	case isPermissionError(err):
		kind = apperrors.WritePermissionDenied
	case isNetworkError(err):
		kind = apperrors.WriteNetwork
	}
	return apperrors.NewWriteError(kind, fields, err)
}
