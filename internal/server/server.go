package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/livetemplate/formwizard"
	"github.com/livetemplate/formwizard/internal/config"
	"github.com/livetemplate/formwizard/internal/delivery"
	"github.com/livetemplate/formwizard/internal/i18n"
	"github.com/livetemplate/formwizard/internal/metrics"
	"github.com/livetemplate/formwizard/internal/persist"
	"github.com/livetemplate/formwizard/internal/store"
	"github.com/livetemplate/formwizard/internal/wizard"
)

// Options supplies the server's collaborators. Store is required; the rest
// have defaults.
type Options struct {
	Store     store.Store
	Catalog   *i18n.Catalog        // embedded catalogs when nil
	Clock     persist.Clock        // system clock when nil
	Submitter wizard.Submitter     // from the submission config when nil
	Registry  *prometheus.Registry // fresh registry when nil
	Logger    *zap.Logger
}

// Server is the formwizard HTTP server.
type Server struct {
	config   *config.Config
	store    store.Store
	catalog  *i18n.Catalog
	sessions *SessionManager
	metrics  *metrics.Collector
	ws       *WebSocketHandler
	handler  http.Handler
	logger   *zap.Logger

	httpServer      *http.Server
	rateLimitCancel context.CancelFunc
	rateLimitDone   <-chan struct{}

	connections map[*wsClient]bool // Track connected WebSocket clients
	connMu      sync.RWMutex       // Separate mutex for connections
	watcher     *Watcher           // Catalog override watcher
}

// New creates a server for cfg.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Store == nil {
		return nil, errors.New("server store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Catalog == nil {
		catalog, err := i18n.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load catalogs: %w", err)
		}
		opts.Catalog = catalog
	}
	if cfg.I18n.Dir != "" {
		if err := opts.Catalog.LoadOverrides(cfg.I18n.Dir); err != nil {
			return nil, fmt.Errorf("failed to load catalog overrides: %w", err)
		}
	}
	if opts.Submitter == nil {
		opts.Submitter = newSubmitter(cfg.Submission, opts.Logger)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	s := &Server{
		config:      cfg,
		store:       opts.Store,
		catalog:     opts.Catalog,
		metrics:     metrics.NewCollector(opts.Registry),
		logger:      opts.Logger,
		connections: make(map[*wsClient]bool),
	}

	factory := func(ctx context.Context, id, lang string) (*formwizard.Session, error) {
		return formwizard.NewSession(ctx, formwizard.SessionOptions{
			ID:              id,
			Store:           s.store,
			Catalog:         s.catalog,
			KeyPrefix:       cfg.Storage.GetKeyPrefix(),
			Debounce:        cfg.Autosave.GetDebounce(),
			Clock:           opts.Clock,
			Submitter:       opts.Submitter,
			DefaultLanguage: lang,
			Metrics:         s.metrics,
			Logger:          s.logger,
		})
	}
	s.sessions = NewSessionManager(factory, cfg.Server.GetSessionIdle(), s.logger)

	api := NewAPIHandler(s.sessions, s.catalog, cfg.I18n.DefaultLanguage, s.logger)
	s.ws = NewWebSocketHandler(s.sessions, api.langs, s.metrics, s, cfg.API.GetCORSOrigins(), s.logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.Handle("/ws", s.ws)
	mux.HandleFunc("/healthz", s.serveHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))

	limiter := NewRateLimiter(RateLimitOptions{
		RPS:        cfg.API.GetRateLimitRPS(),
		Burst:      cfg.API.GetRateLimitBurst(),
		IPFactor:   cfg.API.GetIPFactor(),
		MaxTracked: cfg.API.GetMaxTracked(),
	}, s.logger)
	ctx, cancel := context.WithCancel(context.Background())
	s.rateLimitCancel = cancel
	s.rateLimitDone = limiter.Start(ctx)

	var h http.Handler = mux
	h = LoggingMiddleware(s.logger)(h)
	h = limiter.Middleware(h)
	h = CORSMiddleware(cfg.API.GetCORSOrigins())(h)
	h = SecurityHeadersMiddleware()(h)
	s.handler = WithCompression(h)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// newSubmitter picks the webhook when one is configured, else the simulated
// endpoint.
func newSubmitter(cfg config.SubmissionConfig, logger *zap.Logger) wizard.Submitter {
	if cfg.WebhookURL != "" {
		return NewWebhookSubmitter(cfg.WebhookURL, cfg.GetWebhookSecret(), cfg.GetTimeout(), logger).
			WithRetry(delivery.DefaultRetryConfig(cfg.Retries))
	}
	return &wizard.SimulatedSubmitter{
		Delay:       cfg.GetDelay(),
		FailureRate: cfg.FailureRate,
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Sessions returns the live session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"sessions":  s.sessions.Len(),
		"languages": s.catalog.Languages(),
	})
}

// ListenAndServe starts the session reaper and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	if idle := s.config.Server.GetSessionIdle(); idle > 0 {
		s.sessions.Start(idle / 2)
	}
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, waits for running submissions and
// flushes every session's pending save.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	s.ws.Wait()
	s.sessions.Stop()
	if err := s.sessions.CloseAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush sessions: %w", err))
	}
	if err := s.StopWatch(); err != nil {
		errs = append(errs, err)
	}

	s.rateLimitCancel()
	<-s.rateLimitDone
	return errors.Join(errs...)
}

// RegisterConnection adds a WebSocket client to the tracked connections.
func (s *Server) RegisterConnection(c *wsClient) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connections[c] = true
	s.logger.Debug("websocket connection registered", zap.Int("active", len(s.connections)))
}

// UnregisterConnection removes a WebSocket client from tracked connections.
func (s *Server) UnregisterConnection(c *wsClient) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, c)
	s.logger.Debug("websocket connection unregistered", zap.Int("active", len(s.connections)))
}

// BroadcastReload sends every connected client its view rendered with the
// current catalogs.
func (s *Server) BroadcastReload(filePath string) {
	s.connMu.RLock()
	clients := make([]*wsClient, 0, len(s.connections))
	for c := range s.connections {
		clients = append(clients, c)
	}
	s.connMu.RUnlock()

	if len(clients) == 0 {
		return
	}
	s.logger.Info("broadcasting reload", zap.String("file", filePath), zap.Int("clients", len(clients)))

	for _, c := range clients {
		c.send(&formwizard.ResponseEnvelope{
			Action: actionReload,
			State:  c.session.View(),
			Meta:   map[string]interface{}{"success": true, "file": filePath},
		})
	}
}

// EnableWatch reloads catalog overrides from the configured directory when
// its files change, then pushes fresh views to connected clients.
func (s *Server) EnableWatch() error {
	dir := s.config.I18n.Dir
	if dir == "" {
		return errors.New("i18n.dir is required to watch catalogs")
	}

	watcher, err := NewWatcher(dir, func(filePath string) error {
		if err := s.catalog.LoadOverrides(dir); err != nil {
			return fmt.Errorf("failed to reload catalogs: %w", err)
		}
		s.BroadcastReload(filePath)
		return nil
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.watcher = watcher
	s.watcher.Start()

	s.logger.Info("catalog watcher started", zap.String("dir", dir))
	return nil
}

// StopWatch stops the catalog watcher if it's running.
func (s *Server) StopWatch() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Stop()
	s.watcher = nil
	return err
}
