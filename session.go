package formwizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/formwizard/internal/i18n"
	"github.com/livetemplate/formwizard/internal/metrics"
	"github.com/livetemplate/formwizard/internal/persist"
	"github.com/livetemplate/formwizard/internal/store"
	"github.com/livetemplate/formwizard/internal/wizard"
)

// Push actions sent to subscribers outside of a request.
const (
	PushState        = "state"
	PushNotification = "notification"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	ID      string
	Store   store.Store
	Catalog *i18n.Catalog

	KeyPrefix       string
	Debounce        time.Duration // persist.DefaultDebounce when zero
	Clock           persist.Clock // system clock when nil
	Submitter       wizard.Submitter
	DefaultLanguage string // used when nothing is stored; i18n.BaseLanguage when empty
	Metrics         *metrics.Collector
	Logger          *zap.Logger
}

// Session is one user's wizard together with its persistence, language and
// push subscribers.
type Session struct {
	id      string
	wizard  *wizard.Wizard
	adapter *persist.Adapter
	catalog *i18n.Catalog
	metrics *metrics.Collector
	logger  *zap.Logger

	mu        sync.Mutex
	lang      string
	listeners map[int]func(*ResponseEnvelope)
	nextID    int
}

// NewSession creates a session and restores its saved form data and
// language.
func NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	if opts.ID == "" {
		return nil, errors.New("session id is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("session catalog is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("session", opts.ID))

	s := &Session{
		id:        opts.ID,
		catalog:   opts.Catalog,
		metrics:   opts.Metrics,
		logger:    logger,
		listeners: make(map[int]func(*ResponseEnvelope)),
	}

	persistOpts := persist.Options{
		Prefix:   opts.KeyPrefix,
		Session:  opts.ID,
		Debounce: opts.Debounce,
		Clock:    opts.Clock,
		Logger:   logger,
	}
	wizardOpts := wizard.Options{
		Submitter: opts.Submitter,
		Notifier:  wizard.NotifierFunc(s.notify),
		Logger:    logger,
		OnChange:  s.stateChanged,
	}
	if opts.Metrics != nil {
		persistOpts.Observer = opts.Metrics
		wizardOpts.Observer = opts.Metrics
	}

	s.adapter = persist.New(opts.Store, persistOpts)
	s.lang = s.initialLanguage(ctx, opts.DefaultLanguage)
	s.wizard = wizard.New(ctx, s.adapter, wizardOpts)

	opts.Metrics.SessionOpened()
	return s, nil
}

func (s *Session) initialLanguage(ctx context.Context, fallback string) string {
	if lang, ok := s.adapter.LoadLanguage(ctx); ok && s.catalog.Supports(lang) {
		return lang
	}
	if fallback != "" && s.catalog.Supports(fallback) {
		return fallback
	}
	return i18n.BaseLanguage
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Wizard returns the session's state machine.
func (s *Session) Wizard() *wizard.Wizard { return s.wizard }

// Language returns the active language code.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// Localizer returns a localizer for the active language.
func (s *Session) Localizer() *i18n.Localizer {
	return s.catalog.Localizer(s.Language())
}

// SetLanguage switches and persists the active language.
func (s *Session) SetLanguage(ctx context.Context, lang string) error {
	if !s.catalog.Supports(lang) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()

	s.adapter.SaveLanguage(ctx, lang)
	s.logger.Debug("language changed", zap.String("language", lang))
	return nil
}

// View returns the current view.
func (s *Session) View() *View {
	return s.viewOf(s.wizard.Snapshot())
}

func (s *Session) viewOf(state wizard.State) *View {
	return BuildView(state, s.Localizer(), s.catalog.Languages(), s.adapter.Now())
}

// Subscription is a registered push listener.
type Subscription struct {
	session *Session
	id      int
}

// Cancel stops pushes to the listener.
func (sub *Subscription) Cancel() {
	sub.session.mu.Lock()
	delete(sub.session.listeners, sub.id)
	sub.session.mu.Unlock()
}

// Subscribe registers fn for pushed envelopes: a "state" envelope after an
// autosave completes, the submission state changes or another client
// changes the wizard through a MessageRouter, and a "notification" envelope
// for submission outcomes. fn runs on the goroutine that caused the change
// and must not block.
func (s *Session) Subscribe(fn func(*ResponseEnvelope)) *Subscription {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return &Subscription{session: s, id: id}
}

// publish sends env to every listener except skip.
func (s *Session) publish(env *ResponseEnvelope, skip *Subscription) {
	s.mu.Lock()
	fns := make([]func(*ResponseEnvelope), 0, len(s.listeners))
	for id, fn := range s.listeners {
		if skip != nil && skip.id == id {
			continue
		}
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(env)
	}
}

func (s *Session) stateChanged(state wizard.State) {
	s.publish(&ResponseEnvelope{
		Action: PushState,
		State:  s.viewOf(state),
		Meta:   map[string]interface{}{"success": true},
	}, nil)
}

func (s *Session) notify(n wizard.Notification) {
	meta := map[string]interface{}{
		"kind":       n.Kind,
		"messageKey": n.MessageKey,
		"message":    s.Localizer().T(n.MessageKey),
	}
	if n.Err != nil {
		meta["error"] = n.Err.Error()
	}
	s.publish(&ResponseEnvelope{Action: PushNotification, Meta: meta}, nil)
}

// Close writes any pending save and drops all subscribers.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.listeners = make(map[int]func(*ResponseEnvelope))
	s.mu.Unlock()

	s.metrics.SessionClosed()
	if err := s.wizard.Flush(ctx); err != nil {
		return fmt.Errorf("flush session %s: %w", s.id, err)
	}
	return nil
}
