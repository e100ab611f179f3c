package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the capture daemon.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// HTTP surface
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Storage settings
	DBPath          string
	ArchiveDir      string
	ArchiveMaxMB    int
	MaxPayloadBytes int
	DefaultMaxCalls int

	// Logging
	LogLevel string
	LogFile  string

	// Sessions and the remote API
	SessionIdle       time.Duration
	SessionSweep      time.Duration
	DescribeCacheSize int
	APIVersion        string

	// Page hook discovery
	HookRetryMS     int
	HookMaxAttempts int
	RulesFile       string

	// Optional browser launch
	LaunchBrowser bool
	StartURL      string
	ProfileDir    string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BindAddr:          getEnvOrDefault("AURACAP_BIND_ADDR", "127.0.0.1:8199"),
		PortCandidates:    getEnvListOrDefault("AURACAP_PORT_CANDIDATES", []string{"127.0.0.1:8200", "127.0.0.1:8201", "127.0.0.1:8202"}),
		PortAutoFallback:  getEnvBoolOrDefault("AURACAP_PORT_AUTO_FALLBACK", true),
		DBPath:            getEnvOrDefault("AURACAP_DB_PATH", "./data/auracap.db"),
		ArchiveDir:        getEnvOrDefault("AURACAP_ARCHIVE_DIR", ""),
		ArchiveMaxMB:      getEnvIntOrDefault("AURACAP_ARCHIVE_MAX_MB", 100),
		MaxPayloadBytes:   getEnvIntOrDefault("AURACAP_MAX_PAYLOAD_BYTES", 2*1024*1024),
		DefaultMaxCalls:   getEnvIntOrDefault("AURACAP_DEFAULT_MAX_CALLS", 1000),
		LogLevel:          strings.ToLower(getEnvOrDefault("AURACAP_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("AURACAP_LOG_FILE", "logs/auracap.log"),
		SessionIdle:       getEnvDurationOrDefault("AURACAP_SESSION_IDLE", 10*time.Minute),
		SessionSweep:      getEnvDurationOrDefault("AURACAP_SESSION_SWEEP", 2*time.Minute),
		DescribeCacheSize: getEnvIntOrDefault("AURACAP_DESCRIBE_CACHE_SIZE", 30),
		APIVersion:        getEnvOrDefault("AURACAP_API_VERSION", "v59.0"),
		HookRetryMS:       getEnvIntOrDefault("AURACAP_HOOK_RETRY_MS", 500),
		HookMaxAttempts:   getEnvIntOrDefault("AURACAP_HOOK_MAX_ATTEMPTS", 20),
		RulesFile:         getEnvOrDefault("AURACAP_RULES_FILE", ""),
		LaunchBrowser:     getEnvBoolOrDefault("AURACAP_LAUNCH_BROWSER", false),
		StartURL:          getEnvOrDefault("AURACAP_START_URL", "https://login.salesforce.com"),
		ProfileDir:        getEnvOrDefault("AURACAP_PROFILE_DIR", "./data/browser-profile"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DefaultMaxCalls < 1 {
		return fmt.Errorf("config: AURACAP_DEFAULT_MAX_CALLS must be >= 1, got %d", c.DefaultMaxCalls)
	}
	if c.DescribeCacheSize < 1 {
		return fmt.Errorf("config: AURACAP_DESCRIBE_CACHE_SIZE must be >= 1, got %d", c.DescribeCacheSize)
	}
	if c.SessionIdle <= 0 || c.SessionSweep <= 0 {
		return fmt.Errorf("config: session idle and sweep intervals must be positive")
	}
	if c.HookRetryMS < 50 {
		c.HookRetryMS = 50
	}
	if c.HookMaxAttempts < 1 {
		c.HookMaxAttempts = 1
	}
	if !strings.HasPrefix(c.APIVersion, "v") {
		c.APIVersion = "v" + c.APIVersion
	}
	return nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
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

// getEnvDurationOrDefault accepts Go durations ("90s") or a bare number of seconds.
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
