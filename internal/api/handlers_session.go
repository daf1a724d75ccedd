// handlers_session.go - Mining session operation handlers
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/so-miner/backend/internal/models"
	"github.com/so-miner/backend/internal/storage"
)

// MIMEApplicationMsgpack is negotiated through the Accept header.
const MIMEApplicationMsgpack = "application/msgpack"

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessionMgr     SessionManager
	dumps          storage.Store
	dumpRoot       string
	streamInterval time.Duration
	streamTimeout  time.Duration
}

// NewSessionHandler creates a new session handler instance. dumps resolves
// the dumpId of start requests and may be nil. Raw paths are only accepted
// below dumpRoot; an empty dumpRoot rejects them all.
func NewSessionHandler(sessionMgr SessionManager, dumps storage.Store, dumpRoot string) *SessionHandlerImpl {
	return &SessionHandlerImpl{
		sessionMgr:     sessionMgr,
		dumps:          dumps,
		dumpRoot:       dumpRoot,
		streamInterval: 250 * time.Millisecond,
		streamTimeout:  30 * time.Minute,
	}
}

// HandleStartSession starts mining a dump in the background
func (h *SessionHandlerImpl) HandleStartSession(c echo.Context) error {
	var req models.MiningRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.DumpID != "" {
		if h.dumps == nil {
			return NewBadRequestError("dump uploads are not enabled", nil)
		}
		path, err := h.dumps.GetFilePath(req.DumpID)
		if err != nil {
			return NewNotFoundError("dump", req.DumpID)
		}
		req.Path = path
	} else {
		if strings.TrimSpace(req.Path) == "" {
			return NewValidationError("path")
		}
		path, err := confine(h.dumpRoot, req.Path)
		if err != nil {
			return err
		}
		req.Path = path
	}

	sess, err := h.sessionMgr.Start(req)
	if err != nil {
		return sessionError(err, "")
	}
	return respond(c, http.StatusAccepted, sess)
}

// confine resolves path and rejects it unless it lies inside root, following
// symlinks on both sides.
func confine(root, path string) (string, error) {
	if root == "" {
		return "", NewForbiddenError("raw dump paths are disabled, start by dumpId")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", NewInternalError("failed to resolve dump directory", err)
	}
	realRoot := absRoot
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		realRoot = resolved
	}

	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(absRoot, p)
	}
	p = filepath.Clean(p)
	if !within(absRoot, p) && !within(realRoot, p) {
		return "", NewForbiddenError("path is outside the dump directory")
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", NewNotFoundError("dump", filepath.Base(p))
	}
	if !within(realRoot, resolved) {
		return "", NewForbiddenError("path is outside the dump directory")
	}
	return resolved, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// HandleListSessions returns every known session
func (h *SessionHandlerImpl) HandleListSessions(c echo.Context) error {
	return respond(c, http.StatusOK, h.sessionMgr.ListSessions())
}

// HandleGetSession returns the current state of a session
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return respond(c, http.StatusOK, sess)
}

// HandleStopSession asks one session to stop after its current record
func (h *SessionHandlerImpl) HandleStopSession(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.sessionMgr.Stop(id); err != nil {
		return sessionError(err, id)
	}
	sess, _ := h.sessionMgr.GetSession(id)
	return respond(c, http.StatusAccepted, sess)
}

// HandleStopAll stops every running session
func (h *SessionHandlerImpl) HandleStopAll(c echo.Context) error {
	n := h.sessionMgr.StopAll()
	return c.JSON(http.StatusAccepted, map[string]int{"stopped": n})
}

// HandleDeleteSession forgets a finished session and deletes its export
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.sessionMgr.DeleteSession(id); err != nil {
		return sessionError(err, id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleDownloadExport sends the export file of a finished session
func (h *SessionHandlerImpl) HandleDownloadExport(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	if sess.Output == "" {
		return NewNotFoundError("export", id)
	}

	return sendExport(c, id, sess.Output)
}

// HandleProgressStream streams session progress via SSE
func (h *SessionHandlerImpl) HandleProgressStream(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		h.sendSSEError(c, "session not found")
		return nil
	}
	h.sendSSEData(c, sess)
	if sess.Status.Terminal() {
		return nil
	}

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(h.streamTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ticker.C:
			sess, ok := h.sessionMgr.GetSession(id)
			if !ok {
				h.sendSSEError(c, "session not found")
				return nil
			}

			h.sendSSEData(c, sess)

			// Stop streaming once the session can no longer change
			if sess.Status.Terminal() {
				return nil
			}

		case <-timeout.C:
			h.sendSSEError(c, "stream timeout")
			return nil

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func (h *SessionHandlerImpl) sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func (h *SessionHandlerImpl) sendSSEError(c echo.Context, message string) {
	h.sendSSEData(c, map[string]string{"error": message})
}

// respond encodes v as msgpack when the client asks for it and JSON otherwise.
func respond(c echo.Context, status int, v interface{}) error {
	if !strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEApplicationMsgpack) {
		return c.JSON(status, v)
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(status, MIMEApplicationMsgpack, buf.Bytes())
}
