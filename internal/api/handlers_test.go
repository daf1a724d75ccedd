package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/so-miner/backend/internal/models"
	"github.com/so-miner/backend/internal/session"
)

const testDump = `<posts>
  <row Id="1" PostTypeId="1" Title="Reading files" Body="&lt;code&gt;os.Open&lt;/code&gt;" />
  <row Id="2" PostTypeId="2" ParentId="1" Body="Use a buffer." />
</posts>
`

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writeDump(t *testing.T) string {
	t.Helper()
	return writeDumpIn(t, t.TempDir())
}

func writeDumpIn(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "Posts.xml")
	require.NoError(t, os.WriteFile(path, []byte(testDump), 0644))
	return path
}

func newTestServer(t *testing.T, mgr SessionManager) *echo.Echo {
	t.Helper()
	return newServerWith(t, &Dependencies{SessionMgr: mgr})
}

func newServerWith(t *testing.T, deps *Dependencies) *echo.Echo {
	t.Helper()
	deps.Version = "test"
	deps.Logger = quietLogger()
	e := echo.New()
	SetupMiddleware(e)
	RegisterRoutes(e, NewHandlers(deps))
	return e
}

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	exports, err := session.NewExportStore(t.TempDir(), quietLogger())
	require.NoError(t, err)
	return session.NewManager(session.Options{Exports: exports, Logger: quietLogger()})
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) *models.MiningSession {
	t.Helper()
	var s models.MiningSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return &s
}

func waitDone(t *testing.T, mgr *session.Manager, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := mgr.Wait(ctx, id)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, newManager(t))
	rec := do(e, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestSessionLifecycle(t *testing.T) {
	mgr := newManager(t)
	root := t.TempDir()
	e := newServerWith(t, &Dependencies{SessionMgr: mgr, DumpRoot: root})

	body, _ := json.Marshal(models.MiningRequest{Path: writeDumpIn(t, root), Handler: "snippets"})
	rec := do(e, http.MethodPost, "/api/sessions", string(body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decodeSession(t, rec)
	require.NotEmpty(t, started.ID)

	waitDone(t, mgr, started.ID)

	rec = do(e, http.MethodGet, "/api/sessions/"+started.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeSession(t, rec)
	assert.Equal(t, models.SessionStatusDone, got.Status)
	assert.Equal(t, 2, got.Dispatched)
	require.NotNil(t, got.Snippets)
	assert.Equal(t, 1, got.Snippets.UniqueSnippets)

	rec = do(e, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.MiningSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, started.ID, list[0].ID)

	rec = do(e, http.MethodDelete, "/api/sessions/"+started.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(e, http.MethodGet, "/api/sessions/"+started.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
}

func TestStartSession_Validation(t *testing.T) {
	root := t.TempDir()
	writeDumpIn(t, root)
	e := newServerWith(t, &Dependencies{SessionMgr: newManager(t), DumpRoot: root})

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"invalid json", `{"path":`, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing path", `{"handler":"titles"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing file", `{"path":"nope.xml"}`, http.StatusNotFound, "NOT_FOUND"},
		{"unknown handler", `{"path":"Posts.xml","handler":"nope"}`, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/sessions", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"`+tt.code+`"`)
		})
	}
}

func TestStartSession_PathsConfinedToDumpRoot(t *testing.T) {
	mgr := newManager(t)
	root := t.TempDir()
	e := newServerWith(t, &Dependencies{SessionMgr: mgr, DumpRoot: root})

	outside := writeDump(t)
	rejected := []string{
		outside,
		filepath.Join(root, "..", filepath.Base(filepath.Dir(outside)), "Posts.xml"),
		"../Posts.xml",
		"/etc/passwd",
	}
	link := filepath.Join(root, "linked.xml")
	if err := os.Symlink(outside, link); err == nil {
		rejected = append(rejected, link)
	}

	for _, path := range rejected {
		body, _ := json.Marshal(models.MiningRequest{Path: path, Handler: "export"})
		rec := do(e, http.MethodPost, "/api/sessions", string(body))
		assert.Equal(t, http.StatusForbidden, rec.Code, "path %s", path)
		assert.Contains(t, rec.Body.String(), `"code":"FORBIDDEN"`)
	}
	assert.Empty(t, mgr.ListSessions())

	body, _ := json.Marshal(models.MiningRequest{Path: writeDumpIn(t, root)})
	rec := do(e, http.MethodPost, "/api/sessions", string(body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	waitDone(t, mgr, decodeSession(t, rec).ID)

	// Without a dump root only dumpId requests are accepted
	closed := newTestServer(t, mgr)
	rec = do(closed, http.MethodPost, "/api/sessions", string(body))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStopEndpoints(t *testing.T) {
	mgr := newManager(t)
	e := newTestServer(t, mgr)

	rec := do(e, http.MethodPost, "/api/sessions/missing/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sess, err := mgr.Start(models.MiningRequest{Path: writeDump(t)})
	require.NoError(t, err)
	rec = do(e, http.MethodPost, "/api/sessions/"+sess.ID+"/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	waitDone(t, mgr, sess.ID)

	rec = do(e, http.MethodPost, "/api/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"stopped":0}`, rec.Body.String())
}

// fakeManager returns canned errors for the error mapping tests.
type fakeManager struct {
	startErr  error
	deleteErr error
}

func (f *fakeManager) Start(models.MiningRequest) (*models.MiningSession, error) {
	return nil, f.startErr
}
func (f *fakeManager) GetSession(string) (*models.MiningSession, bool) { return nil, false }
func (f *fakeManager) ListSessions() []*models.MiningSession           { return nil }
func (f *fakeManager) Stop(string) error                               { return session.ErrNotFound }
func (f *fakeManager) StopAll() int                                    { return 3 }
func (f *fakeManager) DeleteSession(string) error                      { return f.deleteErr }

func TestErrorMapping(t *testing.T) {
	root := t.TempDir()
	writeDumpIn(t, root)
	e := newServerWith(t, &Dependencies{
		SessionMgr: &fakeManager{startErr: session.ErrTooManySessions, deleteErr: session.ErrRunning},
		DumpRoot:   root,
	})

	rec := do(e, http.MethodPost, "/api/sessions", `{"path":"Posts.xml"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVICE_UNAVAILABLE")

	rec = do(e, http.MethodDelete, "/api/sessions/abc", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(e, http.MethodPost, "/api/stop", "")
	assert.JSONEq(t, `{"stopped":3}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "HTTP_ERROR")
}

func TestMsgpackNegotiation(t *testing.T) {
	mgr := newManager(t)
	e := newTestServer(t, mgr)
	sess, err := mgr.Start(models.MiningRequest{Path: writeDump(t)})
	require.NoError(t, err)
	waitDone(t, mgr, sess.ID)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID, nil)
	req.Header.Set(echo.HeaderAccept, MIMEApplicationMsgpack)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MIMEApplicationMsgpack, rec.Header().Get(echo.HeaderContentType))

	var got models.MiningSession
	dec := msgpack.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
	dec.SetCustomStructTag("json")
	require.NoError(t, dec.Decode(&got))
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, models.SessionStatusDone, got.Status)
}

func TestDownloadExport(t *testing.T) {
	mgr := newManager(t)
	e := newTestServer(t, mgr)

	sess, err := mgr.Start(models.MiningRequest{Path: writeDump(t), Handler: "export", Format: "jsonl"})
	require.NoError(t, err)
	waitDone(t, mgr, sess.ID)

	rec := do(e, http.MethodGet, "/api/sessions/"+sess.ID+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "attachment")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"title":"Reading files"`)

	count, err := mgr.Start(models.MiningRequest{Path: writeDump(t)})
	require.NoError(t, err)
	waitDone(t, mgr, count.ID)
	rec = do(e, http.MethodGet, "/api/sessions/"+count.ID+"/export", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportEndpoints(t *testing.T) {
	mgr := newManager(t)
	e := newServerWith(t, &Dependencies{SessionMgr: mgr, Exports: mgr.Exports()})

	sess, err := mgr.Start(models.MiningRequest{Path: writeDump(t), Handler: "export", Format: "jsonl"})
	require.NoError(t, err)
	waitDone(t, mgr, sess.ID)

	rec := do(e, http.MethodGet, "/api/exports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.ExportInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].SessionID)
	assert.Equal(t, "export_"+sess.ID+".jsonl", list[0].Name)
	assert.Positive(t, list[0].Size)

	rec = do(e, http.MethodGet, "/api/exports/"+sess.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Reading files"`)

	rec = do(e, http.MethodDelete, "/api/exports/"+sess.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(e, http.MethodGet, "/api/exports/"+sess.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(e, http.MethodDelete, "/api/exports/"+sess.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The session remains, its download is gone with the file
	rec = do(e, http.MethodGet, "/api/sessions/"+sess.ID+"/export", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressStream(t *testing.T) {
	mgr := newManager(t)
	e := newTestServer(t, mgr)
	sess, err := mgr.Start(models.MiningRequest{Path: writeDump(t)})
	require.NoError(t, err)

	// The stream ends by itself once the session is finished.
	rec := do(e, http.MethodGet, "/api/sessions/"+sess.ID+"/progress", "")
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	events := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.NotEmpty(t, events)
	last := strings.TrimPrefix(events[len(events)-1], "data: ")
	var s models.MiningSession
	require.NoError(t, json.Unmarshal([]byte(last), &s))
	assert.Equal(t, models.SessionStatusDone, s.Status)

	rec = do(e, http.MethodGet, "/api/sessions/missing/progress", "")
	assert.Contains(t, rec.Body.String(), "session not found")
}

func TestWebSocket(t *testing.T) {
	mgr := newManager(t)
	srv := httptest.NewServer(newTestServer(t, mgr))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))

	read := func() WSMessage {
		var msg WSMessage
		require.NoError(t, ws.ReadJSON(&msg))
		return msg
	}
	assert.Equal(t, MsgTypeConnected, read().Type)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypePing}))
	assert.Equal(t, MsgTypePong, read().Type)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypeSubscribe, ID: "missing"}))
	assert.Equal(t, MsgTypeError, read().Type)

	sess, err := mgr.Start(models.MiningRequest{Path: writeDump(t)})
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypeSubscribe, ID: sess.ID}))

	var msg WSMessage
	for {
		msg = read()
		require.NotEqual(t, MsgTypeError, msg.Type, string(msg.Payload))
		if msg.Type == MsgTypeComplete {
			break
		}
		assert.Equal(t, MsgTypeProgress, msg.Type)
	}
	var s models.MiningSession
	require.NoError(t, json.Unmarshal(msg.Payload, &s))
	assert.Equal(t, sess.ID, s.ID)
	assert.True(t, s.Status.Terminal())
}
