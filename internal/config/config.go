package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the agent.
type Config struct {
	// Orchestration backend
	APIBaseURL string // e.g. http://localhost:8338
	APIToken   string // initial session token, may be empty

	// Watch targets
	TargetsPath string // YAML file listing tail files and job streams
	TailFiles   []string

	// Tail settings
	PositionsDBPath string // BoltDB file for persisted tail positions
	UsePolling      bool
	PollIntervalMs  int
	StabilityMs     int

	// ClickHouse event sink (optional; disabled when host is empty)
	ClickHouseHost string
	ClickHousePort int
	ClickHouseDB   string

	// Observability
	LogLevel       string
	LogFile        string
	TracingEnabled bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8338"),
		APIToken:   getEnv("API_TOKEN", ""),

		TargetsPath: getEnv("TARGETS_PATH", ""),
		TailFiles:   parsePathList(getEnv("TAIL_FILES", "")),

		PositionsDBPath: getEnv("POSITIONS_DB_PATH", "positions.db"),
		UsePolling:      getEnvBool("USE_POLLING", false),
		PollIntervalMs:  getEnvInt("POLL_INTERVAL_MS", 2000),
		StabilityMs:     getEnvInt("STABILITY_MS", 300),

		ClickHouseHost: getEnv("CLICKHOUSE_HOST", ""),
		ClickHousePort: getEnvInt("CLICKHOUSE_PORT", 9000),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "provisioning"),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.PollIntervalMs < 100 {
		return fmt.Errorf("POLL_INTERVAL_MS must be at least 100")
	}
	if c.StabilityMs < 0 {
		return fmt.Errorf("STABILITY_MS must not be negative")
	}
	if c.ClickHouseHost != "" {
		if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
			return fmt.Errorf("CLICKHOUSE_PORT must be between 1 and 65535")
		}
		if c.ClickHouseDB == "" {
			return fmt.Errorf("CLICKHOUSE_DB is required when the sink is enabled")
		}
	}
	return nil
}

// SinkEnabled reports whether the ClickHouse event sink is configured.
func (c *Config) SinkEnabled() bool {
	return c.ClickHouseHost != ""
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// parsePathList parses a semicolon-separated list of paths.
func parsePathList(pathsStr string) []string {
	if pathsStr == "" {
		return nil
	}

	paths := strings.Split(pathsStr, ";")
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
