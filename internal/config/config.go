package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Version is set at build time via -ldflags
// Default "dev" is used for development builds
var Version = "dev"

// Config holds all application configuration loaded from environment variables.
// All fields have sensible defaults if environment variables are not set.
type Config struct {
	// Port is the HTTP server listen port (default: 3095)
	Port string

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error" (default: "info")
	LogLevel string

	// DataDir is the directory for runtime data (logs, default jobs file)
	// Default: /config in Docker, ./config locally
	DataDir string

	// LogDir is the directory for log files (default: <DataDir>/logs)
	LogDir string

	// JobsFile is the YAML file of jobs loaded at startup (default: <DataDir>/jobs.yaml)
	// A missing file is not an error.
	JobsFile string

	// NotifyURL is a shoutrrr URL that receives tick failure alerts (default: disabled)
	NotifyURL string

	// NotifyThrottle is the minimum time between alerts for the same job (default: 5m)
	NotifyThrottle time.Duration

	// APIKeyHash is the bcrypt hash of the API key required by mutating routes.
	// Empty disables authentication.
	APIKeyHash string

	// ShutdownTimeout bounds how long shutdown waits for running jobs (default: 30s)
	ShutdownTimeout time.Duration

	// ProbeTimeout bounds each HTTP probe request (default: 10s)
	ProbeTimeout time.Duration

	// EventHistory is how many recent events are kept in memory for the API (default: 500)
	EventHistory int

	// CORSOrigin is a comma-separated list of allowed browser origins, or "*".
	// Empty means same-origin only.
	CORSOrigin string

	// EventDB is the SQLite file events are journaled to (default: disabled).
	// A relative path is resolved against DataDir.
	EventDB string

	// EventRetention is how long journaled events are kept (default: 168h)
	EventRetention time.Duration
}

// Global singleton
var cfg *Config

// Load reads configuration from environment variables with sensible defaults.
// Should be called once at application startup.
func Load() *Config {
	// Determine DataDir
	// In Docker: /config is created automatically
	dataDir := getEnvOrDefault("REPEATD_DATA_DIR", "")
	if dataDir == "" {
		if info, err := os.Stat("/config"); err == nil && info.IsDir() {
			dataDir = "/config"
		} else if cwd, err := os.Getwd(); err == nil {
			dataDir = filepath.Join(cwd, "config")
		} else {
			dataDir = "./config"
		}
	}

	// Ensure dataDir is absolute
	if absDataDir, err := filepath.Abs(dataDir); err == nil {
		dataDir = absDataDir
	}

	logDir := getEnvOrDefault("REPEATD_LOG_DIR", filepath.Join(dataDir, "logs"))
	jobsFile := getEnvOrDefault("REPEATD_JOBS_FILE", filepath.Join(dataDir, "jobs.yaml"))

	cfg = &Config{
		Port:            getEnvOrDefault("REPEATD_PORT", "3095"),
		LogLevel:        strings.ToLower(getEnvOrDefault("REPEATD_LOG_LEVEL", "info")),
		DataDir:         dataDir,
		LogDir:          logDir,
		JobsFile:        jobsFile,
		NotifyURL:       getEnvOrDefault("REPEATD_NOTIFY_URL", ""),
		NotifyThrottle:  getEnvDurationOrDefault("REPEATD_NOTIFY_THROTTLE", 5*time.Minute),
		APIKeyHash:      getEnvOrDefault("REPEATD_API_KEY_HASH", ""),
		ShutdownTimeout: getEnvDurationOrDefault("REPEATD_SHUTDOWN_TIMEOUT", 30*time.Second),
		ProbeTimeout:    getEnvDurationOrDefault("REPEATD_PROBE_TIMEOUT", 10*time.Second),
		EventHistory:    getEnvIntOrDefault("REPEATD_EVENT_HISTORY", 500),
		CORSOrigin:      getEnvOrDefault("REPEATD_CORS_ORIGIN", ""),
		EventDB:         resolvePath(dataDir, getEnvOrDefault("REPEATD_EVENT_DB", "")),
		EventRetention:  getEnvDurationOrDefault("REPEATD_EVENT_RETENTION", 7*24*time.Hour),
	}

	cfg.LogLevel = normalizeLogLevel(cfg.LogLevel)
	return cfg
}

// normalizeLogLevel falls back to "info" for unknown values.
func normalizeLogLevel(level string) string {
	switch level {
	case "debug", "info", "warn", "error":
		return level
	case "warning":
		return "warn"
	default:
		return "info"
	}
}

// EnsureDirs creates the data and log directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current configuration. Panics if Load() hasn't been called.
func Get() *Config {
	if cfg == nil {
		panic("config.Load() must be called before config.Get()")
	}
	return cfg
}

// SetForTesting allows tests to set the global config without calling Load().
// This should ONLY be used in test code.
func SetForTesting(c *Config) {
	cfg = c
}

// NewTestConfig returns a minimal Config suitable for unit tests.
func NewTestConfig() *Config {
	return &Config{
		Port:            "8080",
		LogLevel:        "debug",
		DataDir:         "/tmp/repeatd-test",
		LogDir:          "/tmp/repeatd-test/logs",
		JobsFile:        "/tmp/repeatd-test/jobs.yaml",
		NotifyThrottle:  5 * time.Minute,
		ShutdownTimeout: 5 * time.Second,
		ProbeTimeout:    time.Second,
		EventHistory:    100,
		EventRetention:  time.Hour,
	}
}

// resolvePath makes a relative path absolute under base. Empty stays empty.
func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as an int or the default if not set/invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable as a duration or the default if not set/invalid.
// Accepts anything ParseInterval does: "30s", "@every 5m", or bare milliseconds.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := ParseInterval(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FlagOverrides holds command-line flag values that can override environment variables
type FlagOverrides struct {
	Port            *string
	LogLevel        *string
	DataDir         *string
	LogDir          *string
	JobsFile        *string
	NotifyURL       *string
	NotifyThrottle  *time.Duration
	APIKeyHash      *string
	ShutdownTimeout *time.Duration
	ProbeTimeout    *time.Duration
	EventDB         *string
	EventRetention  *time.Duration
}

// ApplyFlags applies command-line flag overrides to the configuration.
// Should be called after Load() and after flag parsing.
// Only non-nil values with non-default flag values will override.
func ApplyFlags(flags FlagOverrides) {
	if cfg == nil {
		return
	}

	if flags.Port != nil && *flags.Port != "" {
		cfg.Port = *flags.Port
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.LogLevel = normalizeLogLevel(strings.ToLower(*flags.LogLevel))
	}
	if flags.DataDir != nil && *flags.DataDir != "" {
		cfg.DataDir = *flags.DataDir
	}
	if flags.LogDir != nil && *flags.LogDir != "" {
		cfg.LogDir = *flags.LogDir
	}
	if flags.JobsFile != nil && *flags.JobsFile != "" {
		cfg.JobsFile = *flags.JobsFile
	}
	if flags.NotifyURL != nil && *flags.NotifyURL != "" {
		cfg.NotifyURL = *flags.NotifyURL
	}
	if flags.NotifyThrottle != nil && *flags.NotifyThrottle != 0 {
		cfg.NotifyThrottle = *flags.NotifyThrottle
	}
	if flags.APIKeyHash != nil && *flags.APIKeyHash != "" {
		cfg.APIKeyHash = *flags.APIKeyHash
	}
	if flags.ShutdownTimeout != nil && *flags.ShutdownTimeout != 0 {
		cfg.ShutdownTimeout = *flags.ShutdownTimeout
	}
	if flags.ProbeTimeout != nil && *flags.ProbeTimeout != 0 {
		cfg.ProbeTimeout = *flags.ProbeTimeout
	}
	if flags.EventDB != nil && *flags.EventDB != "" {
		cfg.EventDB = resolvePath(cfg.DataDir, *flags.EventDB)
	}
	if flags.EventRetention != nil && *flags.EventRetention != 0 {
		cfg.EventRetention = *flags.EventRetention
	}
}
