package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/formwizard"
	"github.com/livetemplate/formwizard/internal/config"
	"github.com/livetemplate/formwizard/internal/form"
	"github.com/livetemplate/formwizard/internal/wizard"
)

// wsMessage mirrors formwizard.ResponseEnvelope on the client side.
type wsMessage struct {
	Action string                 `json:"action"`
	State  map[string]interface{} `json:"state"`
	Meta   map[string]interface{} `json:"meta"`
}

type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, ts *httptest.Server, header http.Header) *wsConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsConn{t: t, conn: conn, id: resp.Header.Get(SessionHeader)}
}

func (c *wsConn) send(action string, data interface{}) {
	c.t.Helper()
	env := map[string]interface{}{"action": action}
	if data != nil {
		env["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(env))
}

func (c *wsConn) read() wsMessage {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(c.t, c.conn.ReadJSON(&msg))
	return msg
}

// readUntil reads until a message with action arrives and returns it along
// with the actions seen on the way.
func (c *wsConn) readUntil(action string) (wsMessage, []string) {
	c.t.Helper()
	var seen []string
	for {
		msg := c.read()
		seen = append(seen, msg.Action)
		if msg.Action == action {
			return msg, seen
		}
	}
}

func newWSServer(t *testing.T, mutate func(*config.Config, *Options)) (*testServer, *httptest.Server) {
	t.Helper()
	srv := newTestServer(t, mutate)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestWebSocketSnapshotOnConnect(t *testing.T) {
	_, ts := newWSServer(t, nil)
	c := dial(t, ts, nil)

	require.NotEmpty(t, c.id)
	msg := c.read()
	assert.Equal(t, formwizard.ActionSnapshot, msg.Action)
	assert.Equal(t, c.id, msg.Meta["sessionId"])
	assert.Equal(t, "Personal Info", msg.State["stepTitle"])
}

func TestWebSocketIntents(t *testing.T) {
	srv, ts := newWSServer(t, nil)
	c := dial(t, ts, nil)
	c.read()

	c.send(formwizard.ActionUpdate, map[string]interface{}{
		"section": "personalInfo",
		"fields":  validPersonalInfo,
	})
	msg, _ := c.readUntil(formwizard.ActionUpdate)
	assert.Equal(t, true, msg.Meta["success"])

	c.send(formwizard.ActionAdvance, nil)
	msg, _ = c.readUntil(formwizard.ActionAdvance)
	assert.Equal(t, true, msg.Meta["moved"])
	assert.Equal(t, "Address", msg.State["stepTitle"])

	// the same session is reachable over the API
	w := do(t, srv, "GET", "/api/wizard", c.id, nil)
	assert.Equal(t, "address", path(t, decode(t, w), "state", "state", "currentStep"))
}

func TestWebSocketStatePushes(t *testing.T) {
	srv, ts := newWSServer(t, nil)
	c := dial(t, ts, nil)
	c.read()

	// an edit made over the API reaches the socket
	do(t, srv, "PATCH", "/api/wizard/address", c.id, map[string]string{"city": "Pune"})
	msg, _ := c.readUntil(formwizard.PushState)
	assert.Equal(t, "Pune", path(t, msg.State, "state", "formData", "address", "city"))
	assert.Equal(t, false, path(t, msg.State, "state", "isSaved"))

	srv.clock.Advance(time.Second)
	msg, _ = c.readUntil(formwizard.PushState)
	assert.Equal(t, true, path(t, msg.State, "state", "isSaved"))
	assert.Equal(t, "All changes saved (Just now)", msg.State["autosaveLabel"])
}

func TestWebSocketFollowsAPINavigation(t *testing.T) {
	srv, ts := newWSServer(t, nil)
	c := dial(t, ts, nil)
	c.read()

	do(t, srv, "PATCH", "/api/wizard/personalInfo", c.id, validPersonalInfo)
	c.readUntil(formwizard.PushState)

	do(t, srv, "POST", "/api/wizard/advance", c.id, nil)
	msg, _ := c.readUntil(formwizard.PushState)
	assert.Equal(t, "Address", msg.State["stepTitle"])
	assert.Equal(t, formwizard.ActionAdvance, msg.Meta["cause"])

	do(t, srv, "POST", "/api/wizard/reset", c.id, nil)
	msg, _ = c.readUntil(formwizard.PushState)
	assert.Equal(t, "Personal Info", msg.State["stepTitle"])
	assert.Equal(t, "", path(t, msg.State, "state", "formData", "personalInfo", "firstName"))
}

func TestWebSocketSubmit(t *testing.T) {
	_, ts := newWSServer(t, nil)
	c := dial(t, ts, nil)
	c.read()

	c.send(formwizard.ActionSubmit, nil)
	msg, seen := c.readUntil(formwizard.PushNotification)
	assert.Contains(t, seen, formwizard.PushState, "isSubmitting is pushed first")
	assert.Equal(t, wizard.NotifySuccess, msg.Meta["kind"])
	assert.Equal(t, "Form submitted successfully!", msg.Meta["message"])

	if seen[len(seen)-1] != formwizard.ActionSubmit {
		msg, _ = c.readUntil(formwizard.ActionSubmit)
		assert.Equal(t, true, msg.Meta["submitted"])
	}
}

func TestWebSocketSubmitDoesNotBlockEditing(t *testing.T) {
	release := make(chan struct{})
	_, ts := newWSServer(t, func(_ *config.Config, o *Options) {
		o.Submitter = wizard.SubmitterFunc(func(ctx context.Context, _ form.Data) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		})
	})
	c := dial(t, ts, nil)
	c.read()

	c.send(formwizard.ActionSubmit, nil)
	msg, _ := c.readUntil(formwizard.PushState)
	require.Equal(t, true, path(t, msg.State, "state", "isSubmitting"))

	c.send(formwizard.ActionRetreat, nil)
	msg, _ = c.readUntil(formwizard.ActionRetreat)
	assert.Equal(t, true, path(t, msg.State, "state", "isSubmitting"), "edits are answered while submitting")

	c.send(formwizard.ActionSubmit, nil)
	msg, _ = c.readUntil(formwizard.ActionSubmit)
	assert.Equal(t, false, msg.Meta["success"], "second submit while one is running")

	close(release)
	c.readUntil(formwizard.PushNotification)
}

func TestWebSocketErrors(t *testing.T) {
	_, ts := newWSServer(t, nil)
	c := dial(t, ts, nil)
	c.read()

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := c.read()
	assert.Equal(t, actionError, msg.Action)
	assert.Equal(t, "malformed message", msg.Meta["error"])

	c.send("teleport", nil)
	msg = c.read()
	assert.Equal(t, actionError, msg.Action)
	assert.Equal(t, "teleport", msg.Meta["action"])
}

func TestWebSocketResumesSession(t *testing.T) {
	_, ts := newWSServer(t, nil)
	first := dial(t, ts, nil)
	first.read()
	first.send(formwizard.ActionUpdate, map[string]interface{}{
		"section": "address",
		"fields":  map[string]string{"city": "Pune"},
	})
	first.readUntil(formwizard.ActionUpdate)

	header := http.Header{}
	header.Set(SessionHeader, first.id)
	second := dial(t, ts, header)
	assert.Equal(t, first.id, second.id)
	msg := second.read()
	assert.Equal(t, "Pune", path(t, msg.State, "state", "formData", "address", "city"))
}

func TestWebSocketRejectsBadSession(t *testing.T) {
	_, ts := newWSServer(t, nil)
	header := http.Header{}
	header.Set(SessionHeader, "nope")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"http://app.local"})

	r := httptest.NewRequest("GET", "http://wizard.local/ws", nil)
	assert.True(t, check(r), "no origin")
	r.Header.Set("Origin", "http://wizard.local")
	assert.True(t, check(r), "same origin")
	r.Header.Set("Origin", "http://app.local")
	assert.True(t, check(r), "configured origin")
	r.Header.Set("Origin", "http://evil.local")
	assert.False(t, check(r))

	r.Header.Set("Origin", "http://evil.local")
	assert.True(t, checkOrigin([]string{"*"})(r))
}

func TestBroadcastReload(t *testing.T) {
	srv, ts := newWSServer(t, nil)
	c := dial(t, ts, nil)
	c.read()

	srv.BroadcastReload("hi.yaml")
	msg := c.read()
	assert.Equal(t, actionReload, msg.Action)
	assert.Equal(t, "hi.yaml", msg.Meta["file"])
	assert.NotNil(t, msg.State)
}

func TestWebSocketMetrics(t *testing.T) {
	srv, ts := newWSServer(t, nil)
	c := dial(t, ts, nil)
	c.read()

	w := do(t, srv, "GET", "/metrics", "", nil)
	assert.Contains(t, w.Body.String(), "formwizard_websocket_clients 1")

	require.NoError(t, c.conn.Close())
	require.Eventually(t, func() bool {
		w := do(t, srv, "GET", "/metrics", "", nil)
		return strings.Contains(w.Body.String(), "formwizard_websocket_clients 0")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMessageEnvelopeDecodes(t *testing.T) {
	var env formwizard.MessageEnvelope
	require.NoError(t, json.Unmarshal([]byte(`{"action":"goto","data":{"step":"review"}}`), &env))
	assert.Equal(t, formwizard.ActionGoTo, env.Action)
	assert.JSONEq(t, `{"step":"review"}`, string(env.Data))
}
