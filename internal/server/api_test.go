package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/formwizard/internal/config"
	"github.com/livetemplate/formwizard/internal/form"
	"github.com/livetemplate/formwizard/internal/wizard"
)

var validPersonalInfo = map[string]string{
	"firstName":   "Ada",
	"lastName":    "Lovelace",
	"email":       "ada@example.com",
	"phone":       "555-123-4567",
	"dateOfBirth": "1815-12-10",
}

// createSession starts a session through the API and returns its id.
func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, "POST", "/api/sessions", "", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decode(t, w)["sessionId"].(string)
	require.NotEmpty(t, id)
	return id
}

// path walks a decoded JSON object.
func path(t *testing.T, v interface{}, keys ...string) interface{} {
	t.Helper()
	for _, k := range keys {
		m, ok := v.(map[string]interface{})
		require.True(t, ok, "no object at %q", k)
		v = m[k]
	}
	return v
}

func TestAPICreateSession(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "POST", "/api/sessions", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)

	id := body["sessionId"].(string)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, id, w.Header().Get(SessionHeader))
	assert.Contains(t, w.Header().Get("Set-Cookie"), SessionCookie+"="+id)
	assert.Equal(t, "personal-info", path(t, body, "state", "state", "currentStep"))
	assert.Equal(t, "Step 1 of 4 (25%)", path(t, body, "state", "progressLabel"))
	assert.Equal(t, 1, srv.Sessions().Len())
}

func TestAPIStartsSessionOnFirstRequest(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "GET", "/api/wizard", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(SessionHeader)
	require.NotEmpty(t, id)

	// the cookie alone identifies the session on later requests
	r := httptest.NewRequest("PATCH", "/api/wizard/address", jsonBody(t, map[string]string{"city": "Pune"}))
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: id})
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(SessionHeader), "no new session")
	assert.Equal(t, "Pune", path(t, decode(t, w), "state", "state", "formData", "address", "city"))
}

func TestAPIInvalidSessionID(t *testing.T) {
	srv := newTestServer(t, nil)
	w := do(t, srv, "GET", "/api/wizard", "not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "invalid session id")
}

func TestAPICanonicalSessionID(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, "PATCH", "/api/wizard/address", id, map[string]string{"city": "Pune"}).Code)

	w := do(t, srv, "GET", "/api/wizard", "{"+strings.ToUpper(id)+"}", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, w.Header().Get(SessionHeader), "the client is told the canonical id")
	assert.Equal(t, "Pune", path(t, decode(t, w), "state", "state", "formData", "address", "city"))
	assert.Equal(t, 1, srv.Sessions().Len())
}

func TestAPIUnknownSessionIsRestoredFromStore(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, "PATCH", "/api/wizard/address", id, map[string]string{"city": "Pune"}).Code)
	require.NoError(t, srv.Sessions().CloseAll(context.Background()))

	w := do(t, srv, "GET", "/api/wizard", id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Pune", path(t, decode(t, w), "state", "state", "formData", "address", "city"))
}

func TestAPIPatchAndNavigate(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	w := do(t, srv, "POST", "/api/wizard/advance", id, nil)
	require.Equal(t, http.StatusOK, w.Code, "blocked navigation is not an HTTP error")
	body := decode(t, w)
	assert.Equal(t, false, path(t, body, "meta", "success"))
	assert.Equal(t, false, path(t, body, "meta", "moved"))
	assert.Equal(t, "First name is required", path(t, body, "state", "errors", "personalInfo", "firstName"))

	w = do(t, srv, "PATCH", "/api/wizard/personalInfo", id, validPersonalInfo)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, path(t, decode(t, w), "state", "state", "isSaved"))

	w = do(t, srv, "POST", "/api/wizard/advance", id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, path(t, body, "meta", "moved"))
	assert.Equal(t, "address", path(t, body, "state", "state", "currentStep"))
	assert.Equal(t, "Step 2 of 4 (50%)", path(t, body, "state", "progressLabel"))

	w = do(t, srv, "POST", "/api/wizard/goto", id, map[string]string{"step": "review"})
	body = decode(t, w)
	assert.Equal(t, false, path(t, body, "meta", "moved"), "address is incomplete")
	assert.NotNil(t, path(t, body, "state", "errors", "address"))

	w = do(t, srv, "POST", "/api/wizard/retreat", id, nil)
	assert.Equal(t, "personal-info", path(t, decode(t, w), "state", "state", "currentStep"))

	w = do(t, srv, "POST", "/api/wizard/validate", id, map[string]string{"step": "address"})
	body = decode(t, w)
	assert.Equal(t, false, path(t, body, "meta", "valid"))
}

func TestAPIAutosave(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	do(t, srv, "PATCH", "/api/wizard/address", id, map[string]string{"city": "Pune"})
	srv.clock.Advance(config.DefaultConfig().Autosave.GetDebounce())

	w := do(t, srv, "GET", "/api/wizard", id, nil)
	body := decode(t, w)
	assert.Equal(t, true, path(t, body, "state", "state", "isSaved"))
	assert.Equal(t, "All changes saved (Just now)", path(t, body, "state", "autosaveLabel"))
}

func TestAPIStatusMapping(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown route", "GET", "/api/nowhere", nil, http.StatusNotFound},
		{"unknown section", "PATCH", "/api/wizard/billing", map[string]string{}, http.StatusNotFound},
		{"unknown field", "PATCH", "/api/wizard/address", map[string]string{"planet": "Mars"}, http.StatusBadRequest},
		{"bad theme", "PATCH", "/api/wizard/preferences", map[string]string{"theme": "sepia"}, http.StatusBadRequest},
		{"malformed body", "PATCH", "/api/wizard/address", "{city:", http.StatusBadRequest},
		{"unknown action", "POST", "/api/wizard/teleport", nil, http.StatusNotFound},
		{"wrong method", "PUT", "/api/wizard/advance", nil, http.StatusMethodNotAllowed},
		{"snapshot is read only", "POST", "/api/wizard", nil, http.StatusMethodNotAllowed},
		{"unknown step", "POST", "/api/wizard/goto", map[string]string{"step": "nowhere"}, http.StatusBadRequest},
		{"unsupported language", "PUT", "/api/language", map[string]string{"language": "xx"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, tt.method, tt.path, id, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestAPIRejectedPatchNamesField(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	w := do(t, srv, "PATCH", "/api/wizard/address", id, map[string]string{"planet": "Mars"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "fields", path(t, body, "meta", "field"))
	assert.Equal(t, "", path(t, body, "state", "state", "formData", "address", "city"), "nothing applied")
}

func TestAPISubmit(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)
	do(t, srv, "PATCH", "/api/wizard/personalInfo", id, validPersonalInfo)

	w := do(t, srv, "POST", "/api/wizard/submit", id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, path(t, body, "meta", "submitted"))
	assert.Equal(t, "", path(t, body, "state", "state", "formData", "personalInfo", "firstName"), "form resets")
	assert.Equal(t, "personal-info", path(t, body, "state", "state", "currentStep"))
}

func TestAPISubmitFailure(t *testing.T) {
	srv := newTestServer(t, func(_ *config.Config, o *Options) {
		o.Submitter = wizard.SubmitterFunc(func(context.Context, form.Data) error {
			return errors.New("endpoint down")
		})
	})
	id := createSession(t, srv)
	do(t, srv, "PATCH", "/api/wizard/personalInfo", id, validPersonalInfo)

	w := do(t, srv, "POST", "/api/wizard/submit", id, nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, path(t, body, "meta", "submitted"))
	assert.Contains(t, path(t, body, "meta", "error"), "endpoint down")
	assert.Equal(t, "Ada", path(t, body, "state", "state", "formData", "personalInfo", "firstName"), "data is kept")
	assert.Equal(t, false, path(t, body, "state", "state", "isSubmitting"))
}

func TestAPISubmitInProgress(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := newTestServer(t, func(_ *config.Config, o *Options) {
		o.Submitter = wizard.SubmitterFunc(func(context.Context, form.Data) error {
			close(started)
			<-release
			return nil
		})
	})
	id := createSession(t, srv)

	first := make(chan int, 1)
	go func() {
		first <- do(t, srv, "POST", "/api/wizard/submit", id, nil).Code
	}()
	<-started

	w := do(t, srv, "POST", "/api/wizard/submit", id, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, true, path(t, decode(t, w), "state", "state", "isSubmitting"))

	close(release)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestAPIReset(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)
	do(t, srv, "PATCH", "/api/wizard/address", id, map[string]string{"city": "Pune"})

	w := do(t, srv, "POST", "/api/wizard/reset", id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", path(t, decode(t, w), "state", "state", "formData", "address", "city"))
	assert.Equal(t, 0, srv.clock.Pending())
}

func TestAPILanguage(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	w := do(t, srv, "GET", "/api/language", id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "en", body["language"])
	assert.Equal(t, []interface{}{"en", "hi"}, body["languages"])

	w = do(t, srv, "PUT", "/api/language", id, map[string]string{"language": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "व्यक्तिगत जानकारी", path(t, decode(t, w), "state", "stepTitle"))

	assert.Equal(t, "hi", decode(t, do(t, srv, "GET", "/api/language", id, nil))["language"])
}

func TestAPINegotiatesLanguage(t *testing.T) {
	srv := newTestServer(t, nil)

	r := httptest.NewRequest("POST", "/api/sessions", nil)
	r.Header.Set("Accept-Language", "hi-IN,hi;q=0.9,en;q=0.8")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "hi", path(t, decode(t, w), "state", "language"))

	w = do(t, srv, "POST", "/api/sessions?lang=hi", "", nil)
	assert.Equal(t, "hi", path(t, decode(t, w), "state", "language"))

	w = do(t, srv, "POST", "/api/sessions?lang=fr", "", nil)
	assert.Equal(t, "en", path(t, decode(t, w), "state", "language"), "unsupported query falls back")
}

func TestAPICatalog(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "GET", "/api/i18n/en", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "en", body["language"])
	assert.Equal(t, "Personal Info", path(t, body, "messages", "step.personalInfo"))

	assert.Equal(t, http.StatusNotFound, do(t, srv, "GET", "/api/i18n/fr", "", nil).Code)
}

func TestAPIOptions(t *testing.T) {
	srv := newTestServer(t, nil)
	w := do(t, srv, "GET", "/api/options", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	options := decode(t, w)["options"].([]interface{})
	assert.Len(t, options, 15)
	assert.Equal(t, "apple", path(t, options[0], "value"))
}

func TestAPIMultiSelect(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "POST", "/api/multiselect", "", map[string]interface{}{
		"selected": []string{"apple"},
		"select":   "banana",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), path(t, body, "state", "count"))
	assert.Equal(t, "2 items selected", body["summary"])

	w = do(t, srv, "POST", "/api/multiselect", "", map[string]interface{}{"search": "zzz", "open": true})
	body = decode(t, w)
	assert.Equal(t, "No results found", body["emptyMessage"])
	assert.Equal(t, "", body["summary"])

	w = do(t, srv, "POST", "/api/multiselect", "", map[string]interface{}{"select": "durian"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/multiselect", "", map[string]interface{}{"selected": []string{"apple", "kiwi"}, "clear": true})
	assert.Equal(t, float64(0), path(t, decode(t, w), "state", "count"))

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, "GET", "/api/multiselect", "", nil).Code)
}
