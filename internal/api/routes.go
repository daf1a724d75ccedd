// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"log"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/so-miner/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	SessionMgr SessionManager
	// Dumps enables the upload endpoints and Exports the export endpoints.
	// DumpRoot is the only directory start requests may name by path.
	Dumps           storage.Store
	AllowDumpDelete bool
	DumpRoot        string
	Exports         ExportStore
	Version         string
	Logger          *log.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Session   SessionHandler
	Dump      DumpHandler
	Export    ExportHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	ws := NewWebSocketHandler(deps.SessionMgr)
	if deps.Logger != nil {
		ws.logger = deps.Logger
	}
	h := &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.SessionMgr),
		Session:   NewSessionHandler(deps.SessionMgr, deps.Dumps, deps.DumpRoot),
		WebSocket: ws,
	}
	if deps.Dumps != nil {
		h.Dump = NewDumpHandler(deps.Dumps, deps.AllowDumpDelete)
	}
	if deps.Exports != nil {
		h.Export = NewExportHandler(deps.Exports)
	}
	return h
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Process-wide stop
	e.POST("/api/stop", handlers.Session.HandleStopAll)

	sessionGroup := e.Group("/api/sessions")
	sessionGroup.POST("", handlers.Session.HandleStartSession)
	sessionGroup.GET("", handlers.Session.HandleListSessions)
	sessionGroup.GET("/:id", handlers.Session.HandleGetSession)
	sessionGroup.DELETE("/:id", handlers.Session.HandleDeleteSession)
	sessionGroup.POST("/:id/stop", handlers.Session.HandleStopSession)
	sessionGroup.GET("/:id/progress", handlers.Session.HandleProgressStream)
	sessionGroup.GET("/:id/export", handlers.Session.HandleDownloadExport)

	if handlers.Dump != nil {
		dumpGroup := e.Group("/api/dumps")
		dumpGroup.POST("", handlers.Dump.HandleUploadDump)
		dumpGroup.GET("", handlers.Dump.HandleListDumps)
		dumpGroup.GET("/:id", handlers.Dump.HandleGetDump)
		dumpGroup.DELETE("/:id", handlers.Dump.HandleDeleteDump)
		dumpGroup.PUT("/chunks/:uploadId/:index", handlers.Dump.HandleUploadChunk)
		dumpGroup.POST("/chunks/complete", handlers.Dump.HandleCompleteUpload)
	}

	if handlers.Export != nil {
		exportGroup := e.Group("/api/exports")
		exportGroup.GET("", handlers.Export.HandleListExports)
		exportGroup.GET("/:id", handlers.Export.HandleDownloadExport)
		exportGroup.DELETE("/:id", handlers.Export.HandleDeleteExport)
	}

	e.GET("/api/ws", handlers.WebSocket.HandleWebSocket)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
}
