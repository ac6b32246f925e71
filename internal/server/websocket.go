package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/livetemplate/formwizard"
	"github.com/livetemplate/formwizard/internal/metrics"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// submitTimeout bounds a submission started over the socket. Submissions
	// outlive the connection that started them.
	submitTimeout = 30 * time.Second
)

// Server-initiated actions, in addition to formwizard.PushState and
// formwizard.PushNotification.
const (
	actionError  = "error"
	actionReload = "reload"
)

// wsClient is one WebSocket connection bound to a session. gorilla allows
// one concurrent writer, so every write goes through send.
type wsClient struct {
	conn    *websocket.Conn
	session *formwizard.Session
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

func (c *wsClient) send(env *formwizard.ResponseEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn("failed to marshal message", zap.String("action", env.Action), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("failed to send message", zap.String("action", env.Action), zap.Error(err))
		return
	}
	c.logger.Debug("sent", zap.String("action", env.Action))
}

func (c *wsClient) sendError(action string, err error) {
	c.send(&formwizard.ResponseEnvelope{
		Action: actionError,
		Meta: map[string]interface{}{
			"success": false,
			"action":  action,
			"error":   err.Error(),
		},
	})
}

func (c *wsClient) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// WebSocketHandler serves /ws: intents in, responses and pushes out.
type WebSocketHandler struct {
	sessions *SessionManager
	langs    languageNegotiator
	metrics  *metrics.Collector
	server   *Server // for reload broadcasts; optional
	logger   *zap.Logger
	upgrader websocket.Upgrader

	submits sync.WaitGroup
}

// NewWebSocketHandler creates a new WebSocket handler. An empty origins
// list allows same-origin connections only; "*" allows any.
func NewWebSocketHandler(sessions *SessionManager, langs languageNegotiator, collector *metrics.Collector, server *Server, origins []string, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WebSocketHandler{
		sessions: sessions,
		langs:    langs,
		metrics:  collector,
		server:   server,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin(origins)}
	return h
}

// checkOrigin accepts same-origin requests and the configured origins.
func checkOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the connection, sends the current view and then
// routes each incoming envelope. Submissions run in the background so the
// client can keep editing; their outcome arrives as pushes.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lang := h.langs.forRequest(r)
	id := sessionID(r)
	if id == "" {
		id = uuid.NewString()
	}

	session, err := h.sessions.Acquire(r.Context(), id, lang)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidSessionID) {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, err.Error())
		return
	}
	id = session.ID()
	defer h.sessions.Release(id)

	header := http.Header{}
	header.Set(SessionHeader, id)
	header.Add("Set-Cookie", (&http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}).String())

	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:    conn,
		session: session,
		logger:  h.logger.With(zap.String("session", id)),
	}
	defer func() {
		client.close()
		conn.Close()
	}()

	if h.server != nil {
		h.server.RegisterConnection(client)
		defer h.server.UnregisterConnection(client)
	}
	h.metrics.ClientConnected()
	defer h.metrics.ClientDisconnected()

	sub := session.Subscribe(client.send)
	defer sub.Cancel()

	client.logger.Debug("client connected", zap.String("remote", conn.RemoteAddr().String()))

	router := formwizard.NewMessageRouter(session).From(sub)
	client.send(&formwizard.ResponseEnvelope{
		Action: formwizard.ActionSnapshot,
		State:  session.View(),
		Meta:   map[string]interface{}{"success": true, "sessionId": id},
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.logger.Warn("unexpected close", zap.Error(err))
			}
			break
		}

		h.handleMessage(r.Context(), client, router, message)
	}

	client.logger.Debug("client disconnected")
}

// handleMessage decodes and routes one envelope.
func (h *WebSocketHandler) handleMessage(ctx context.Context, client *wsClient, router *formwizard.MessageRouter, message []byte) {
	var envelope formwizard.MessageEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		client.sendError("", errors.New("malformed message"))
		return
	}
	client.logger.Debug("received", zap.String("action", envelope.Action))

	if envelope.Action == formwizard.ActionSubmit {
		h.submits.Add(1)
		go func() {
			defer h.submits.Done()
			submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
			defer cancel()
			h.routeAndReply(submitCtx, client, router, &envelope)
		}()
		return
	}

	h.routeAndReply(ctx, client, router, &envelope)
}

func (h *WebSocketHandler) routeAndReply(ctx context.Context, client *wsClient, router *formwizard.MessageRouter, envelope *formwizard.MessageEnvelope) {
	resp, err := router.Route(ctx, envelope)
	if err != nil {
		client.sendError(envelope.Action, err)
		return
	}
	client.send(resp)
}

// Wait blocks until background submissions finish.
func (h *WebSocketHandler) Wait() {
	h.submits.Wait()
}
