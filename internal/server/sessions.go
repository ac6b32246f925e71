package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livetemplate/formwizard"
)

// Session transport.
const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "fw_session"
)

// ErrInvalidSessionID is returned for session ids that are not UUIDs.
var ErrInvalidSessionID = errors.New("invalid session id")

// SessionFactory builds the session for id. lang is the preferred language
// for a session with nothing stored.
type SessionFactory func(ctx context.Context, id, lang string) (*formwizard.Session, error)

type sessionEntry struct {
	session  *formwizard.Session
	lastSeen time.Time
	clients  int // open WebSocket connections
}

// SessionManager keeps live sessions in memory. A session evicted for
// idleness is flushed first and can be rebuilt from the store by id.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	factory  SessionFactory
	idle     time.Duration
	now      func() time.Time
	logger   *zap.Logger

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSessionManager creates a manager. Sessions unused for idle are evicted
// by Reap; idle <= 0 disables eviction.
func NewSessionManager(factory SessionFactory, idle time.Duration, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		sessions: make(map[string]*sessionEntry),
		factory:  factory,
		idle:     idle,
		now:      time.Now,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Create starts a session with a fresh id.
func (m *SessionManager) Create(ctx context.Context, lang string) (*formwizard.Session, error) {
	return m.Get(ctx, uuid.NewString(), lang)
}

// Get returns the live session for id, restoring it from the store when it
// is not in memory.
// The id may be in any form uuid.Parse accepts; the session is keyed by its
// canonical form, which Session.ID returns.
func (m *SessionManager) Get(ctx context.Context, id, lang string) (*formwizard.Session, error) {
	id, err := canonicalID(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[id]; ok {
		e.lastSeen = m.now()
		return e.session, nil
	}

	s, err := m.factory(ctx, id, lang)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = &sessionEntry{session: s, lastSeen: m.now()}
	m.logger.Debug("session opened", zap.String("session", id))
	return s, nil
}

// Acquire marks a long-lived client on id so Reap leaves it alone. Every
// Acquire needs a matching Release.
func (m *SessionManager) Acquire(ctx context.Context, id, lang string) (*formwizard.Session, error) {
	s, err := m.Get(ctx, id, lang)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if e, ok := m.sessions[s.ID()]; ok {
		e.clients++
	}
	m.mu.Unlock()
	return s, nil
}

// Release undoes Acquire.
func (m *SessionManager) Release(id string) {
	if canonical, err := canonicalID(id); err == nil {
		id = canonical
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		if e.clients > 0 {
			e.clients--
		}
		e.lastSeen = m.now()
	}
}

// canonicalID validates id as a UUID and returns its lowercase hyphenated
// form, so braces, urn:uuid: or missing hyphens cannot split one draft over
// several store keys.
func canonicalID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return parsed.String(), nil
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap closes and drops sessions idle for longer than the idle timeout and
// without connected clients. It returns how many were dropped.
func (m *SessionManager) Reap(ctx context.Context) int {
	if m.idle <= 0 {
		return 0
	}

	m.mu.Lock()
	now := m.now()
	var expired []*formwizard.Session
	for id, e := range m.sessions {
		if e.clients == 0 && now.Sub(e.lastSeen) > m.idle {
			expired = append(expired, e.session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if err := s.Close(ctx); err != nil {
			m.logger.Warn("failed to close idle session", zap.String("session", s.ID()), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		m.logger.Debug("reaped idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Start runs Reap every interval until Stop is called.
func (m *SessionManager) Start(interval time.Duration) {
	m.started.Store(true)
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Reap(context.Background())
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends the reaper started by Start and waits for it. Safe to call
// multiple times, and without Start.
func (m *SessionManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		if m.started.Load() {
			<-m.done
		}
	})
}

// CloseAll flushes and drops every session.
func (m *SessionManager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*formwizard.Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	m.sessions = make(map[string]*sessionEntry)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sessionID returns the id a request carries, header first, then cookie.
func sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// setSessionID tells the client which session it is on.
func setSessionID(w http.ResponseWriter, r *http.Request, id string) {
	w.Header().Set(SessionHeader, id)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
