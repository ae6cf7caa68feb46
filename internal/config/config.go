package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/reqlens/internal/netutil"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the reqlens service.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	CDPEnabled   bool
	TabURLFilter string

	// HTTP surface
	BindAddr           string
	PortAutoFallback   bool
	PortCandidates     []string
	MaxMessageBytes    int
	ScriptFetchTimeout time.Duration

	// Logging
	LogLevel string
	LogFile  string

	// Persistence
	PrefsFile         string
	ArchiveEnabled    bool
	ArchiveDir        string
	ArchiveMaxFileMB  int
	ArchiveBufferSize int

	MaxRequests int
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("Failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:         getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:            getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		CDPEnabled:         getEnvBoolOrDefault("REQLENS_CDP_ENABLED", true),
		TabURLFilter:       getEnvOrDefault("REQLENS_TAB_URL_FILTER", ""),
		BindAddr:           getEnvOrDefault("REQLENS_BIND_ADDR", "127.0.0.1:8190"),
		PortAutoFallback:   getEnvBoolOrDefault("REQLENS_PORT_AUTO_FALLBACK", true),
		PortCandidates:     netutil.ParseCandidates(getEnvOrDefault("REQLENS_PORT_CANDIDATES", "127.0.0.1:8191,127.0.0.1:8192,127.0.0.1:8193")),
		MaxMessageBytes:    getEnvIntOrDefault("REQLENS_MAX_MESSAGE_BYTES", 56*1024*1024),
		ScriptFetchTimeout: getEnvDurationOrDefault("REQLENS_SCRIPT_FETCH_TIMEOUT", 12*time.Second),
		LogLevel:           strings.ToLower(getEnvOrDefault("REQLENS_LOG_LEVEL", "info")),
		LogFile:            getEnvOrDefault("REQLENS_LOG_FILE", "logs/reqlens.log"),
		PrefsFile:          getEnvOrDefault("REQLENS_PREFS_FILE", "./reqlens_data/preferences.json"),
		ArchiveEnabled:     getEnvBoolOrDefault("REQLENS_ARCHIVE_ENABLED", false),
		ArchiveDir:         getEnvOrDefault("REQLENS_ARCHIVE_DIR", "./reqlens_data/archive"),
		ArchiveMaxFileMB:   getEnvIntOrDefault("REQLENS_ARCHIVE_MAX_FILE_MB", 200),
		ArchiveBufferSize:  getEnvIntOrDefault("REQLENS_ARCHIVE_BUFFER", 5000),
		MaxRequests:        getEnvIntOrDefault("REQLENS_MAX_REQUESTS", 2000),
	}

	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("CHROMIUM_CDP_PORT out of range: %d", cfg.CDPPort)
	}
	if cfg.MaxRequests < 1 {
		cfg.MaxRequests = 1
	}
	if cfg.MaxMessageBytes < 1024 {
		cfg.MaxMessageBytes = 1024
	}
	if cfg.ScriptFetchTimeout < time.Second {
		cfg.ScriptFetchTimeout = time.Second
	}
	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// SlogLevel maps LogLevel onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDurationOrDefault accepts Go durations ("12s") or bare milliseconds.
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
