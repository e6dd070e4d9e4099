package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string
	ProjectPath      string // absolute path holding one workspace directory per project
	FfmpegPath       string
	FfprobePath      string
	PdftoppmPath     string // empty when pdftoppm is not installed
	RasterBackend    string // auto, pdftoppm, fitz or pdfium
	RasterDPI        int
	VideoWidth       int
	VideoHeight      int
	FrameRate        int
	SilenceDuration  time.Duration
	RenderTimeout    time.Duration
	ProbeTimeout     time.Duration
	ExtractTimeout   time.Duration
	RenderWorkers    int
	ExtractWorkers   int
	MaxUploadMB      int
	DisabledEncoders []string
	VaapiDevice      string
	JobRetention     time.Duration
	CleanupInterval  int // minutes
	FrontEndConfig
}

// FrontEndConfig stores all of the frontend settings
type FrontEndConfig struct {
	ServerAPIURL string
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvDuration accepts Go durations ("90s", "5m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

func loadEnvFiles() {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")
}

// Load reads every setting from the environment without touching logging.
func Load() ServerConfig {
	cfg := ServerConfig{}

	// Server configuration
	cfg.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	cfg.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration
	cfg.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	cfg.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	cfg.DatabasePort = getEnv("DATABASE_PORT", "5432")
	cfg.DatabaseUser = getEnv("DATABASE_USER", "vidfrompdf")
	cfg.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	cfg.DatabaseDbname = getEnv("DATABASE_NAME", "vidfrompdf")
	cfg.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")

	projectPath := filepath.ToSlash(getEnv("PROJECT_PATH", "projects"))
	projectPathAbs, err := filepath.Abs(projectPath)
	if err != nil {
		Logger.Error("Failed creating absolute path for project directory", "path", projectPath, "error", err)
		projectPathAbs = projectPath
	}
	cfg.ProjectPath = projectPathAbs

	// External tools
	cfg.FfmpegPath = resolveExecutable(getEnv("FFMPEG_PATH", "ffmpeg"))
	cfg.FfprobePath = resolveExecutable(getEnv("FFPROBE_PATH", "ffprobe"))
	cfg.PdftoppmPath = resolveExecutable(getEnv("PDFTOPPM_PATH", "pdftoppm"))

	// Rendering
	cfg.RasterBackend = strings.ToLower(getEnv("RASTER_BACKEND", "auto"))
	cfg.RasterDPI = getEnvInt("RASTER_DPI", 150)
	cfg.VideoWidth = getEnvInt("VIDEO_WIDTH", 1920)
	cfg.VideoHeight = getEnvInt("VIDEO_HEIGHT", 1080)
	cfg.FrameRate = getEnvInt("FRAME_RATE", 2)
	cfg.SilenceDuration = getEnvDuration("SILENCE_SECONDS", 3*time.Second)
	cfg.RenderTimeout = getEnvDuration("RENDER_TIMEOUT", 30*time.Minute)
	cfg.ProbeTimeout = getEnvDuration("PROBE_TIMEOUT", 30*time.Second)
	cfg.ExtractTimeout = getEnvDuration("EXTRACT_TIMEOUT", 10*time.Minute)
	cfg.RenderWorkers = getEnvInt("RENDER_WORKERS", 2)
	if cfg.RenderWorkers < 1 {
		cfg.RenderWorkers = 1
	}
	cfg.ExtractWorkers = getEnvInt("EXTRACT_WORKERS", 4)
	if cfg.ExtractWorkers < 1 {
		cfg.ExtractWorkers = 1
	}
	cfg.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", 512)
	cfg.DisabledEncoders = getEnvList("DISABLED_ENCODERS")
	if getEnvBool("FORCE_SOFTWARE", false) {
		cfg.DisabledEncoders = append(cfg.DisabledEncoders, "nvenc", "vaapi")
	}
	cfg.VaapiDevice = getEnv("VAAPI_DEVICE", "")

	// Housekeeping
	cfg.JobRetention = getEnvDuration("JOB_RETENTION", 7*24*time.Hour)
	cfg.CleanupInterval = getEnvInt("CLEANUP_INTERVAL", 30)

	// Frontend configuration
	cfg.FrontEndConfig = FrontEndConfig{ServerAPIURL: getEnv("SERVER_API_URL", "")}
	return cfg
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	loadEnvFiles()

	logger := setupLogging("file")
	Logger = logger

	serverConfigLive := Load()
	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	fmt.Println("\n========================================")
	fmt.Println("   vidfrompdf - narrated video from slides")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "vidfrompdf.log"))
	fmt.Println("Initializing...")

	logTools(serverConfigLive, logger)
	return serverConfigLive, logger
}

// SetupCLI loads configuration for the terminal front end, logging to stderr by default
func SetupCLI() (ServerConfig, *slog.Logger) {
	loadEnvFiles()

	logger := setupLogging("stderr")
	Logger = logger

	cfg := Load()
	logTools(cfg, logger)
	return cfg, logger
}

func logTools(cfg ServerConfig, logger *slog.Logger) {
	logger.Info("Checking external tools...")
	for _, tool := range []struct{ name, path string }{
		{"ffmpeg", cfg.FfmpegPath},
		{"ffprobe", cfg.FfprobePath},
	} {
		if err := checkExecutables(tool.name, tool.path, logger); err != nil {
			logger.Warn("Required tool missing, rendering will fail", "tool", tool.name, "path", tool.path)
		}
	}
	if cfg.PdftoppmPath != "" && checkExecutables("pdftoppm", cfg.PdftoppmPath, logger) == nil {
		logger.Info("pdftoppm found, utility rasterization available", "path", cfg.PdftoppmPath)
	} else {
		logger.Info("pdftoppm not found, library rasterization will be used")
	}
}

// setupLogging configures the application logger
func setupLogging(defaultOutput string) *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "debug")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", defaultOutput)
	var logWriter io.Writer

	switch logOutput {
	case "stdout":
		logWriter = os.Stdout
	case "stderr":
		logWriter = os.Stderr
	default:
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "vidfrompdf.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// resolveExecutable turns a bare tool name into an absolute path using PATH.
// Paths containing a separator are returned as given; unknown names resolve to "".
func resolveExecutable(nameOrPath string) string {
	if strings.ContainsRune(nameOrPath, os.PathSeparator) {
		return nameOrPath
	}
	found, err := exec.LookPath(nameOrPath)
	if err != nil {
		return ""
	}
	return found
}

// checkExecutables verifies that an executable exists at the given path
func checkExecutables(name, path string, logger *slog.Logger) error {
	if path == "" {
		logger.Error("Executable not configured and not found on PATH", "tool", name)
		return fmt.Errorf("%s: %w", name, exec.ErrNotFound)
	}
	info, err := os.Stat(path)
	if err != nil {
		logger.Error("Cannot find executable at location specified", "tool", name, "path", path)
		return err
	}
	if info.IsDir() {
		logger.Error("Executable path is a directory", "tool", name, "path", path)
		return fmt.Errorf("%s: %s is a directory", name, path)
	}
	if info.Mode()&0111 == 0 {
		logger.Error("File is not executable", "tool", name, "path", path, "mode", info.Mode())
		return fmt.Errorf("%s: %s is not executable", name, path)
	}
	logger.Debug("Executable found", "tool", name, "path", path)
	return nil
}
