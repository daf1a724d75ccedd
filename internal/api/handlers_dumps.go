// handlers_dumps.go - Dump upload operation handlers
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/so-miner/backend/internal/storage"
)

// DumpHandlerImpl implements the DumpHandler interface
type DumpHandlerImpl struct {
	store       storage.Store
	allowDelete bool
}

// NewDumpHandler creates a new dump handler instance
func NewDumpHandler(store storage.Store, allowDelete bool) *DumpHandlerImpl {
	return &DumpHandlerImpl{store: store, allowDelete: allowDelete}
}

// completeUploadRequest finishes a chunked upload
type completeUploadRequest struct {
	UploadID    string `json:"uploadId"`
	Name        string `json:"name"`
	TotalChunks int    `json:"totalChunks"`
}

func (r completeUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewValidationError("totalChunks")
	}
	return nil
}

// HandleUploadDump accepts a dump as multipart/form-data in the "file" field
func (h *DumpHandlerImpl) HandleUploadDump(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save dump", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleUploadChunk stores the raw request body as one chunk of an upload
func (h *DumpHandlerImpl) HandleUploadChunk(c echo.Context) error {
	uploadID := c.Param("uploadId")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return NewValidationError("index")
	}

	if err := h.store.SaveChunk(uploadID, index, c.Request().Body); err != nil {
		return NewBadRequestError("failed to save chunk", err)
	}

	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload assembles the chunks of an upload into a dump
func (h *DumpHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	info, err := h.store.CompleteChunkedUpload(req.UploadID, req.Name, req.TotalChunks)
	if err != nil {
		return NewBadRequestError("failed to complete upload", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleListDumps returns the most recent dumps
func (h *DumpHandlerImpl) HandleListDumps(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	dumps, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list dumps", err)
	}
	return respond(c, http.StatusOK, dumps)
}

// HandleGetDump returns metadata for a specific dump
func (h *DumpHandlerImpl) HandleGetDump(c echo.Context) error {
	id := c.Param("id")
	info, err := h.store.Get(id)
	if err != nil {
		return dumpError(err, id)
	}
	return respond(c, http.StatusOK, info)
}

// HandleDeleteDump deletes an uploaded dump
func (h *DumpHandlerImpl) HandleDeleteDump(c echo.Context) error {
	if !h.allowDelete {
		return NewConflictError("dump deletion is disabled")
	}
	id := c.Param("id")
	if err := h.store.Delete(id); err != nil {
		return dumpError(err, id)
	}
	return c.NoContent(http.StatusNoContent)
}

func dumpError(err error, id string) *APIError {
	if errors.Is(err, storage.ErrNotFound) {
		return NewNotFoundError("dump", id)
	}
	return NewInternalError("dump storage failed", err)
}
