// handlers_exports.go - Export listing, download and deletion
package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
)

// ExportHandlerImpl implements the ExportHandler interface
type ExportHandlerImpl struct {
	store ExportStore
}

// NewExportHandler creates a new export handler instance
func NewExportHandler(store ExportStore) *ExportHandlerImpl {
	return &ExportHandlerImpl{store: store}
}

// HandleListExports lists the exports on disk, newest first
func (h *ExportHandlerImpl) HandleListExports(c echo.Context) error {
	return respond(c, http.StatusOK, h.store.List())
}

// HandleDownloadExport sends an export by the ID of the session that wrote it
func (h *ExportHandlerImpl) HandleDownloadExport(c echo.Context) error {
	id := c.Param("id")
	path, ok := h.store.Get(id)
	if !ok {
		return NewNotFoundError("export", id)
	}
	return sendExport(c, id, path)
}

// HandleDeleteExport removes an export from disk
func (h *ExportHandlerImpl) HandleDeleteExport(c echo.Context) error {
	id := c.Param("id")
	if _, ok := h.store.Get(id); !ok {
		return NewNotFoundError("export", id)
	}
	if err := h.store.Delete(id); err != nil {
		return NewInternalError("failed to delete export", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func sendExport(c echo.Context, id, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return NewNotFoundError("export", id)
	}
	if info.IsDir() {
		return NewConflictError(fmt.Sprintf("export %s is a directory index and cannot be downloaded", filepath.Base(path)))
	}
	return c.Attachment(path, filepath.Base(path))
}
