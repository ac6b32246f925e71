package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/livetemplate/formwizard"
	"github.com/livetemplate/formwizard/internal/form"
	"github.com/livetemplate/formwizard/internal/i18n"
	"github.com/livetemplate/formwizard/internal/multiselect"
	"github.com/livetemplate/formwizard/internal/wizard"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

// wizardActions are the POST /api/wizard/{action} intents.
var wizardActions = map[string]bool{
	formwizard.ActionAdvance:  true,
	formwizard.ActionRetreat:  true,
	formwizard.ActionGoTo:     true,
	formwizard.ActionValidate: true,
	formwizard.ActionSubmit:   true,
	formwizard.ActionReset:    true,
}

// APIHandler serves the JSON API under /api/.
type APIHandler struct {
	sessions *SessionManager
	catalog  *i18n.Catalog
	langs    languageNegotiator
	options  []multiselect.Option
	logger   *zap.Logger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(sessions *SessionManager, catalog *i18n.Catalog, defaultLanguage string, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		sessions: sessions,
		catalog:  catalog,
		langs:    languageNegotiator{catalog: catalog, fallback: defaultLanguage},
		options:  multiselect.SampleOptions,
		logger:   logger,
	}
}

// ServeHTTP handles API requests.
//
//	POST       /api/sessions
//	GET        /api/wizard
//	PATCH      /api/wizard/{section}
//	POST       /api/wizard/{advance|retreat|goto|validate|submit|reset}
//	GET, PUT   /api/language
//	GET        /api/i18n/{lang}
//	GET        /api/options
//	POST       /api/multiselect
func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/"), "/")
	head, rest, _ := strings.Cut(path, "/")

	switch {
	case head == "sessions" && rest == "":
		h.handleSessions(w, r)
	case head == "wizard" && rest == "":
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.route(w, r, formwizard.ActionSnapshot, nil)
	case head == "wizard":
		h.handleWizard(w, r, rest)
	case head == "language" && rest == "":
		h.handleLanguage(w, r)
	case head == "i18n" && rest != "":
		h.handleCatalog(w, r, rest)
	case head == "options" && rest == "":
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"options": h.options})
	case head == "multiselect" && rest == "":
		h.handleMultiSelect(w, r)
	default:
		writeJSONError(w, http.StatusNotFound, "not found: "+r.URL.Path)
	}
}

// handleSessions starts a new session.
func (h *APIHandler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s, err := h.sessions.Create(r.Context(), h.langs.forRequest(r))
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	setSessionID(w, r, s.ID())
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId": s.ID(),
		"state":     s.View(),
	})
}

// handleWizard dispatches PATCH /api/wizard/{section} and
// POST /api/wizard/{action}.
func (h *APIHandler) handleWizard(w http.ResponseWriter, r *http.Request, rest string) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPatch:
		section, err := form.ParseSection(rest)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		if len(body) == 0 {
			body = []byte("{}")
		}
		data, err := json.Marshal(map[string]interface{}{
			"section": section,
			"fields":  json.RawMessage(body),
		})
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		h.route(w, r, formwizard.ActionUpdate, data)
	case http.MethodPost:
		if !wizardActions[rest] {
			writeJSONError(w, http.StatusNotFound, "unknown wizard action: "+rest)
			return
		}
		h.route(w, r, rest, body)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleLanguage reads or switches the session language.
func (h *APIHandler) handleLanguage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s, ok := h.session(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"language":  s.Language(),
			"languages": h.catalog.Languages(),
		})
	case http.MethodPut:
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		h.route(w, r, formwizard.ActionSetLanguage, body)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCatalog returns every message of one language.
func (h *APIHandler) handleCatalog(w http.ResponseWriter, r *http.Request, lang string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.catalog.Supports(lang) {
		writeJSONError(w, http.StatusNotFound, "unsupported language: "+lang)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"language": lang,
		"messages": h.catalog.Messages(lang),
	})
}

// multiSelectRequest is the client-held state of a multi-select plus the
// operations to apply to it.
type multiSelectRequest struct {
	Selected    []string `json:"selected"`
	Search      string   `json:"search"`
	Open        bool     `json:"open"`
	Highlighted *int     `json:"highlighted,omitempty"`

	Select string `json:"select,omitempty"`
	Remove string `json:"remove,omitempty"`
	Clear  bool   `json:"clear,omitempty"`
	Key    string `json:"key,omitempty"`
}

// handleMultiSelect applies one round of operations to a client-held
// multi-select and returns the resulting snapshot. It keeps no state.
func (h *APIHandler) handleMultiSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req multiSelectRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	m := multiselect.Restore(h.options, req.Selected, req.Search)
	if req.Open {
		m.Focus()
	}
	if req.Highlighted != nil {
		m.Highlight(*req.Highlighted)
	}
	if req.Clear {
		m.ClearAll()
	}
	if req.Remove != "" {
		m.Remove(req.Remove)
	}
	if req.Select != "" {
		if err := m.Select(req.Select); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Key != "" {
		m.KeyDown(multiselect.Key(req.Key))
	}

	l := h.catalog.Localizer(h.langs.forRequest(r))
	snap := m.Snapshot()
	resp := map[string]interface{}{
		"state":   snap,
		"summary": l.SelectionSummary(snap.Count),
	}
	if snap.EmptyMessage != "" {
		resp["emptyMessage"] = l.T(snap.EmptyMessage)
	}
	writeJSON(w, http.StatusOK, resp)
}

// session resolves the request's session, starting one when the request
// carries no id.
func (h *APIHandler) session(w http.ResponseWriter, r *http.Request) (*formwizard.Session, bool) {
	lang := h.langs.forRequest(r)
	id := sessionID(r)

	var (
		s   *formwizard.Session
		err error
	)
	if id == "" {
		s, err = h.sessions.Create(r.Context(), lang)
		if err == nil {
			setSessionID(w, r, s.ID())
		}
	} else {
		s, err = h.sessions.Get(r.Context(), id, lang)
		if err == nil && s.ID() != id {
			setSessionID(w, r, s.ID())
		}
	}

	switch {
	case err == nil:
		return s, true
	case errors.Is(err, ErrInvalidSessionID):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("failed to load session", zap.String("session", id), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
	}
	return nil, false
}

// route applies one intent to the request's session and writes the
// response envelope.
func (h *APIHandler) route(w http.ResponseWriter, r *http.Request, action string, data []byte) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	resp, err := formwizard.NewMessageRouter(s).Route(r.Context(), &formwizard.MessageEnvelope{
		Action: action,
		Data:   data,
	})
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, statusFor(resp.Err), resp)
}

// statusFor maps a failed intent to an HTTP status. Blocked navigation is
// not a failure here: the response carries the validation errors.
func statusFor(err error) int {
	var (
		fieldErr  *formwizard.FieldError
		submitErr *wizard.SubmitError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &fieldErr):
		return http.StatusBadRequest
	case errors.Is(err, wizard.ErrSubmissionInProgress):
		return http.StatusConflict
	case errors.As(err, &submitErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// languageNegotiator picks a language for requests that do not name one.
type languageNegotiator struct {
	catalog  *i18n.Catalog
	fallback string
}

// forRequest returns the ?lang query value when supported, else the best
// match for Accept-Language, else the configured default.
func (n languageNegotiator) forRequest(r *http.Request) string {
	if lang := r.URL.Query().Get("lang"); lang != "" && n.catalog.Supports(lang) {
		return lang
	}
	return n.catalog.Negotiate(r.Header.Get("Accept-Language"), n.fallback)
}

// readBody reads a size-limited request body. It writes the error response
// and returns false on failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		return nil, true
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	if len(body) > 0 && !json.Valid(body) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return body, true
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
