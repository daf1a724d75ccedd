// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/so-miner/backend/internal/models"
)

// SessionHandler handles mining session operations
type SessionHandler interface {
	HandleStartSession(c echo.Context) error
	HandleListSessions(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleStopSession(c echo.Context) error
	HandleStopAll(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleProgressStream(c echo.Context) error
	HandleDownloadExport(c echo.Context) error
}

// DumpHandler handles dump upload operations
type DumpHandler interface {
	HandleUploadDump(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleListDumps(c echo.Context) error
	HandleGetDump(c echo.Context) error
	HandleDeleteDump(c echo.Context) error
}

// ExportHandler serves finished exports independently of their session
type ExportHandler interface {
	HandleListExports(c echo.Context) error
	HandleDownloadExport(c echo.Context) error
	HandleDeleteExport(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Start(req models.MiningRequest) (*models.MiningSession, error)
	GetSession(id string) (*models.MiningSession, bool)
	ListSessions() []*models.MiningSession
	Stop(id string) error
	StopAll() int
	DeleteSession(id string) error
}

// ExportStore is the export index the export endpoints read.
type ExportStore interface {
	List() []models.ExportInfo
	Get(id string) (string, bool)
	Delete(id string) error
}
