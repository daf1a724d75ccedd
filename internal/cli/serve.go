package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/so-miner/backend/internal/api"
	"github.com/so-miner/backend/internal/config"
	"github.com/so-miner/backend/internal/session"
	"github.com/so-miner/backend/internal/storage"
)

// defaultConfigName is created next to the binary when --config is unset.
const defaultConfigName = "sominer.config.xml"

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for background mining sessions",
	Long: `Serve starts an HTTP server that mines dumps in background sessions.

Dumps are uploaded with POST /api/dumps (multipart) or in chunks through
PUT /api/dumps/chunks/:uploadId/:index and POST /api/dumps/chunks/complete.
Sessions are started with POST /api/sessions, watched over
GET /api/sessions/:id/progress (SSE) or the /api/ws WebSocket, and
stopped with POST /api/sessions/:id/stop or POST /api/stop.
Start requests name an uploaded dump by dumpId, or a path inside the
dump directory. Exports are written to the configured output directory,
downloaded from GET /api/sessions/:id/export or GET /api/exports/:id, and
listed with GET /api/exports.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configPath := cfgFile
	if configPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}
		configPath = filepath.Join(filepath.Dir(exePath), defaultConfigName)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	api.ShowErrorDetails = strings.EqualFold(cfg.Advanced.LogLevel, "debug")

	logger := log.New(os.Stderr, "[Server] ", log.LstdFlags)
	exports, err := session.NewExportStore(cfg.Export.OutputDirectory, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize export store: %w", err)
	}

	dumps, err := storage.NewLocalStore(cfg.Storage.DumpDirectory)
	if err != nil {
		return fmt.Errorf("failed to initialize dump storage: %w", err)
	}

	sessionMgr := session.NewManager(session.Options{
		MaxSessions:   cfg.Advanced.MaxSessions,
		MinerOptions:  minerOptions(cfg),
		Exports:       exports,
		DefaultFormat: cfg.Export.DefaultFormat,
		Sink:          cfg.SinkOptions(),
		Output:        cmd.OutOrStdout(),
		Logger:        log.New(os.Stderr, "[Manager] ", log.LstdFlags),
	})

	// Start background session cleanup
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessionMgr.CleanupOldSessions(cfg.SessionTimeout()); n > 0 {
					logger.Printf("removed %d expired sessions", n)
				}
			}
		}
	}()

	e := newServer(cfg, sessionMgr, dumps, logger)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Stack Overflow Dump Miner                       ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Dumps:     %-46s║\n", cfg.Storage.DumpDirectory)
	fmt.Printf("║  Exports:   %-46s║\n", cfg.Export.OutputDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	errCh := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Println("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if n := sessionMgr.StopAll(); n > 0 {
		logger.Printf("stopping %d running sessions", n)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Printf("WARNING: server shutdown: %v", err)
	}
	return sessionMgr.Shutdown(shutdownCtx)
}

// newServer builds the echo instance with middleware and routes.
func newServer(cfg *config.AppConfig, mgr *session.Manager, dumps storage.Store, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/progress") ||
				strings.HasPrefix(path, "/api/dumps/chunks/") ||
				path == "/api/ws" ||
				path == "/api/health"
		},
	}))
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	e.HTTPErrorHandler = api.ErrorHandler
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))
	if cfg.Server.EnableCORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	deps := &api.Dependencies{
		SessionMgr:      mgr,
		Dumps:           dumps,
		AllowDumpDelete: cfg.Storage.AllowDumpDeletion,
		DumpRoot:        cfg.Storage.DumpDirectory,
		Version:         Version,
		Logger:          logger,
	}
	if exports := mgr.Exports(); exports != nil {
		deps.Exports = exports
	}
	api.RegisterRoutes(e, api.NewHandlers(deps))
	return e
}
