// Package persist keeps a session's in-progress form data in a store.Store.
// Saves are debounced through a single pending slot: every new request
// replaces the previous one, so only the latest data is written once the
// input goes quiet. Storage failures are logged and never surface to the
// caller; the in-memory wizard state stays authoritative.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/formwizard/internal/form"
	"github.com/livetemplate/formwizard/internal/store"
)

// Names of the per-session keys.
const (
	FormKey     = "multiStepForm"
	LanguageKey = "language"
)

// DefaultDebounce is the quiet period before a scheduled save is written.
const DefaultDebounce = time.Second

// writeTimeout bounds a debounced write, which has no caller context.
const writeTimeout = 5 * time.Second

// Key builds the storage key "<prefix>:<session>:<name>". Empty parts are
// skipped.
func Key(prefix, session, name string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, session, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ":")
}

// SaveObserver is told about the outcome of every form write.
type SaveObserver interface {
	ObserveAutosave(err error)
}

// Options configures an Adapter.
type Options struct {
	Prefix   string
	Session  string
	Debounce time.Duration // DefaultDebounce when zero
	Clock    Clock         // SystemClock when nil
	Logger   *zap.Logger   // no-op when nil
	Observer SaveObserver  // optional
}

// Adapter loads, saves and clears one session's form data.
type Adapter struct {
	store    store.Store
	formKey  string
	langKey  string
	debounce time.Duration
	clock    Clock
	logger   *zap.Logger
	observer SaveObserver

	// writeMu serializes store writes and deletes. It is taken before mu
	// and never while the caller holds mu, so edits that only schedule a
	// save are not held up by a slow store.
	writeMu sync.Mutex

	mu          sync.Mutex
	pending     Timer
	pendingData *form.Data
	onSaved     func(time.Time)
	seq         uint64 // bumped whenever the pending slot changes hands
}

// New creates an Adapter over s.
func New(s store.Store, opts Options) *Adapter {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Adapter{
		store:    s,
		formKey:  Key(opts.Prefix, opts.Session, FormKey),
		langKey:  Key(opts.Prefix, opts.Session, LanguageKey),
		debounce: opts.Debounce,
		clock:    opts.Clock,
		logger:   opts.Logger.With(zap.String("key", Key(opts.Prefix, opts.Session, FormKey))),
		observer: opts.Observer,
	}
}

// Now returns the current time from the adapter's clock.
func (a *Adapter) Now() time.Time { return a.clock.Now() }

// Load reads the persisted form data. It returns the defaults and false when
// nothing usable is stored: a missing key, a read failure, malformed JSON or
// data of the wrong shape.
func (a *Adapter) Load(ctx context.Context) (form.Data, bool) {
	raw, err := a.store.Get(ctx, a.formKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("failed to read saved form data", zap.Error(err))
		}
		return form.DefaultData(), false
	}

	data, err := form.DecodeData(raw)
	if err != nil {
		a.logger.Warn("ignoring unreadable saved form data", zap.Error(err))
		return form.DefaultData(), false
	}
	return data, true
}

// ScheduleSave arms the debounce timer with data, replacing any save still
// pending. When the timer fires and the write succeeds, onSaved is called
// with the write time. onSaved may be nil.
func (a *Adapter) ScheduleSave(data form.Data, onSaved func(time.Time)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cancelLocked()
	seq := a.seq
	a.pendingData = &data
	a.onSaved = onSaved
	a.pending = a.clock.AfterFunc(a.debounce, func() { a.fire(seq) })
}

func (a *Adapter) fire(seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	a.writeMu.Lock()
	a.mu.Lock()
	if seq != a.seq || a.pendingData == nil {
		// superseded, canceled or flushed
		a.mu.Unlock()
		a.writeMu.Unlock()
		return
	}
	data, onSaved := *a.pendingData, a.onSaved
	a.clearPendingLocked()
	a.mu.Unlock()

	at, err := a.write(ctx, data)
	a.writeMu.Unlock()

	if err == nil && onSaved != nil {
		onSaved(at)
	}
}

// Flush writes a pending save immediately instead of waiting for the timer.
// It is a no-op when nothing is pending.
func (a *Adapter) Flush(ctx context.Context) error {
	a.writeMu.Lock()
	a.mu.Lock()
	if a.pendingData == nil {
		a.mu.Unlock()
		a.writeMu.Unlock()
		return nil
	}
	a.pending.Stop()
	data, onSaved := *a.pendingData, a.onSaved
	a.seq++
	a.clearPendingLocked()
	a.mu.Unlock()

	at, err := a.write(ctx, data)
	a.writeMu.Unlock()

	if err != nil {
		return err
	}
	if onSaved != nil {
		onSaved(at)
	}
	return nil
}

// Save writes data now, canceling any pending save.
func (a *Adapter) Save(ctx context.Context, data form.Data) (time.Time, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	a.cancelLocked()
	a.mu.Unlock()
	return a.write(ctx, data)
}

// Pending reports whether a save is waiting for its timer.
func (a *Adapter) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingData != nil
}

// Clear cancels any pending save and removes the stored form data. The key
// is deleted rather than overwritten so a later Load yields the defaults.
func (a *Adapter) Clear(ctx context.Context) {
	a.mu.Lock()
	a.cancelLocked()
	a.mu.Unlock()

	// waits for a write already in flight, which must not land after the
	// delete
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := a.store.Delete(ctx, a.formKey); err != nil {
		a.logger.Warn("failed to clear saved form data", zap.Error(err))
	}
}

// LoadLanguage returns the stored language code, if any.
func (a *Adapter) LoadLanguage(ctx context.Context) (string, bool) {
	raw, err := a.store.Get(ctx, a.langKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("failed to read saved language", zap.Error(err))
		}
		return "", false
	}
	lang := strings.TrimSpace(string(raw))
	return lang, lang != ""
}

// SaveLanguage stores the active language code.
func (a *Adapter) SaveLanguage(ctx context.Context, lang string) {
	if err := a.store.Set(ctx, a.langKey, []byte(lang)); err != nil {
		a.logger.Warn("failed to save language", zap.String("language", lang), zap.Error(err))
	}
}

func (a *Adapter) cancelLocked() {
	if a.pending != nil {
		a.pending.Stop()
	}
	a.seq++
	a.clearPendingLocked()
}

func (a *Adapter) clearPendingLocked() {
	a.pending = nil
	a.pendingData = nil
	a.onSaved = nil
}

// write must be called with a.writeMu held.
func (a *Adapter) write(ctx context.Context, data form.Data) (time.Time, error) {
	raw, err := json.Marshal(data)
	if err == nil {
		err = a.store.Set(ctx, a.formKey, raw)
	}
	if a.observer != nil {
		a.observer.ObserveAutosave(err)
	}
	if err != nil {
		a.logger.Warn("failed to save form data", zap.Error(err))
		return time.Time{}, err
	}

	at := a.clock.Now()
	a.logger.Debug("form data saved", zap.Time("at", at))
	return at, nil
}
