package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/drummonds/vidfrompdf/config"
	database "github.com/drummonds/vidfrompdf/database"
	engine "github.com/drummonds/vidfrompdf/engine"
	"github.com/drummonds/vidfrompdf/engine/ffmpeg"
	"github.com/drummonds/vidfrompdf/engine/pdfrenderer"
	"github.com/drummonds/vidfrompdf/webapp"
)

//go:embed webapp/webapp.css
var webappFS embed.FS

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
	ffmpeg.Logger = Logger
	pdfrenderer.Logger = Logger
}

// openRepository returns nil when job history and project persistence are
// switched off with DATABASE_TYPE=none
func openRepository(cfg config.ServerConfig) (database.Repository, error) {
	if cfg.DatabaseType == "none" {
		return nil, nil
	}
	db, err := database.NewRepository(cfg)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func main() {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	// Show info banner if using ephemeral database
	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("🚀  EPHEMERAL DATABASE MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Database will be destroyed on exit")
		fmt.Println("• Projects and job history are not kept")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	Logger.Info("Setting up database", "type", serverConfig.DatabaseType)
	db, err := openRepository(serverConfig)
	if err != nil {
		Logger.Error("Database setup failed", "error", err)
		fmt.Printf("Database setup failed: %v\n", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
		Logger.Info("Database setup complete")
	} else {
		Logger.Info("Persistence disabled, projects live in memory only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Setup(ctx, serverConfig, db)
	if err != nil {
		Logger.Error("Engine setup failed", "error", err)
		fmt.Printf("Engine setup failed: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	e := echo.New()
	e.HideBanner = true
	Logger.Info("Echo created")

	serverHandler := &engine.ServerHandler{Engine: eng, DB: db, Echo: e, ServerConfig: serverConfig}
	if err := serverHandler.StartupChecks(); err != nil { //Run all the sanity checks
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	scheduler := serverHandler.InitializeSchedules() //initialize the housekeeping cron job
	defer scheduler.Stop()
	Logger.Info("Schedules initialized")

	configureServer(serverHandler)

	go func() {
		<-ctx.Done()
		Logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			Logger.Error("Shutdown failed", "error", err)
		}
	}()

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	Logger.Info("Starting HTTP server")

	// Try to start server with automatic port increment if port is in use
	maxRetries := 5
	startPort := serverConfig.ListenAddrPort
	var startErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr = e.Start(addr)
		if errors.Is(startErr, http.ErrServerClosed) {
			startErr = nil
		}

		// Check if error is "address already in use"
		if startErr != nil && isAddressInUse(startErr) {
			Logger.Warn("Port already in use, trying next port",
				"port", serverConfig.ListenAddrPort,
				"attempt", attempt+1,
				"max_attempts", maxRetries)

			// Increment port for next attempt
			portNum := 0
			fmt.Sscanf(serverConfig.ListenAddrPort, "%d", &portNum)
			portNum++
			serverConfig.ListenAddrPort = fmt.Sprintf("%d", portNum)

			if attempt == maxRetries-1 {
				Logger.Error("Failed to find available port after maximum retries",
					"start_port", startPort,
					"end_port", serverConfig.ListenAddrPort,
					"max_retries", maxRetries)
				os.Exit(1)
			}
		} else if startErr != nil {
			Logger.Error("Failed to start server", "error", startErr)
			os.Exit(1)
		} else {
			break
		}
	}

	if serverConfig.ListenAddrPort != startPort {
		Logger.Warn("Server ran on alternative port due to conflicts",
			"requested_port", startPort,
			"actual_port", serverConfig.ListenAddrPort)
	}
}

// configureServer installs middleware, the project and API routes and the
// go-app UI on the handler's echo instance
func configureServer(serverHandler *engine.ServerHandler) {
	e := serverHandler.Echo
	serverConfig := serverHandler.ServerConfig

	// Custom 404 handler
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}

		if code == http.StatusNotFound {
			path := c.Request().URL.Path
			// Return JSON for API endpoints
			if strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/project/") {
				c.JSON(http.StatusNotFound, map[string]string{
					"error": "The requested endpoint does not exist",
					"kind":  "NotFound",
					"path":  path,
				})
				return
			}

			c.HTML(http.StatusNotFound, `<!DOCTYPE html>
<html>
<head><title>404 - Not Found</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 50px;">
	<h1>404 - Page Not Found</h1>
	<p>The page you're looking for doesn't exist.</p>
	<a href="/" style="color: #2f6fd6; text-decoration: none; font-size: 18px;">← Back to your project</a>
</body>
</html>`)
			return
		}

		// For other errors, use default handler
		e.DefaultHTTPErrorHandler(err, c)
	}

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		AllowCredentials: true,
	}))

	// Request logging goes through slog so it lands in the same log file
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				Logger.Warn("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "error", v.Error)
				return nil
			}
			Logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	Logger.Info("Setting up API routes...")
	serverHandler.RegisterRoutes()

	// Inject backend API URL into the page
	e.GET("/config.js", func(c echo.Context) error {
		configJS := fmt.Sprintf(`
// vidfrompdf frontend configuration
window.vidfrompdfConfig = {
    apiURL: "%s",
    maxUploadMB: %d
};
`, serverConfig.ServerAPIURL, serverConfig.MaxUploadMB)
		c.Response().Header().Set("Content-Type", "application/javascript")
		return c.String(http.StatusOK, configJS)
	})

	// Serve CSS from embedded filesystem
	e.GET("/webapp/webapp.css", func(c echo.Context) error {
		data, err := webappFS.ReadFile("webapp/webapp.css")
		if err != nil {
			return c.String(http.StatusNotFound, "webapp.css not found")
		}
		return c.Blob(http.StatusOK, "text/css", data)
	})

	e.GET("/favicon.ico", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	Logger.Info("Setting up go-app WASM UI")
	appHandler := webapp.Handler()

	// Register go-app specific resources
	e.GET("/app.js", echo.WrapHandler(appHandler))
	e.GET("/app.css", echo.WrapHandler(appHandler))
	e.GET("/wasm_exec.js", echo.WrapHandler(appHandler))
	e.GET("/manifest.webmanifest", echo.WrapHandler(appHandler))

	// app.wasm is built into web/ by
	//   GOARCH=wasm GOOS=js go build -o web/app.wasm ./cmd/webapp
	e.Static("/web", "web")

	// Unknown API paths get the JSON 404 instead of the app shell
	e.Any("/api/*", func(c echo.Context) error {
		return echo.ErrNotFound
	})

	// Serve go-app handler for all other routes (must be last)
	// The WASM app handles its own client-side routing and 404s via NotFoundPage component
	e.Any("/*", echo.WrapHandler(appHandler))
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
