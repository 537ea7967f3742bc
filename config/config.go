package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"coffers/database"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL             string
	DatabaseName            string
	DatabaseMaxConns        int
	DatabaseMaxConnIdleTime time.Duration

	// Fee configuration
	FeeAnnualRatePercent int64
	FeeMinInterval       time.Duration
	FeeMaxInterval       time.Duration

	// Ledger configuration
	TransferBaseDelay    time.Duration // transit time is base + random(base)
	AppraisalGranularity int64         // appraisals are rounded to this many copper
	AccountCacheSize     int

	// Job queue configuration
	JobPollInterval time.Duration
	JobLease        time.Duration
	JobBatchSize    int
	JobMaxAttempts  int
	JobRetryBackoff time.Duration

	// Idle account sweeper configuration
	SweeperEnabled       bool
	SweeperInterval      time.Duration
	SweeperDeleteEnabled bool // prunable accounts are only reported unless set
	SweeperPrunableRanks []string

	// Notification configuration
	Notifier               string // "nats", "discord" or "log"
	NATSServers            string // NATS server addresses (comma-separated)
	NotifySubjectPrefix    string
	PlayerLookupSubject    string // empty means every player is assumed to exist
	PlayerLookupTimeout    time.Duration
	DiscordToken           string
	DiscordNotifyChannelID string

	// OpenTelemetry configuration
	OTelEnabled              bool
	OTelServiceName          string
	OTelExporterType         string // "console", "otlp" or "none"
	OTelOTLPEndpoint         string
	OTelExportIntervalMillis int

	// Logging
	LogLevel string

	// Environment
	Environment string // "development" or "production"
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	// If instance is already set (e.g., by tests), return it
	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			// In test environment, use a default test config instead of panicking
			if os.Getenv("GO_TEST") == "1" || os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// GetDatabaseURL constructs the full database URL by combining base URL and database name
func (c *Config) GetDatabaseURL() string {
	return database.ConstructDatabaseURL(c.DatabaseURL, c.DatabaseName)
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{
		// Database
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DatabaseName: os.Getenv("DATABASE_NAME"),

		DatabaseMaxConns:        int(getInt64WithDefault("DATABASE_MAX_CONNS", 0)),
		DatabaseMaxConnIdleTime: getDurationWithDefault("DATABASE_MAX_CONN_IDLE_TIME", 0),

		// Fees
		FeeAnnualRatePercent: getInt64WithDefault("FEE_ANNUAL_RATE_PERCENT", 5),
		FeeMinInterval:       getDurationWithDefault("FEE_MIN_INTERVAL", time.Minute),
		FeeMaxInterval:       getDurationWithDefault("FEE_MAX_INTERVAL", 720*time.Hour),

		// Ledger
		TransferBaseDelay:    getDurationWithDefault("TRANSFER_BASE_DELAY", 5*time.Minute),
		AppraisalGranularity: getInt64WithDefault("APPRAISAL_GRANULARITY", 10),
		AccountCacheSize:     int(getInt64WithDefault("ACCOUNT_CACHE_SIZE", 256)),

		// Jobs
		JobPollInterval: getDurationWithDefault("JOB_POLL_INTERVAL", 30*time.Second),
		JobLease:        getDurationWithDefault("JOB_LEASE", time.Minute),
		JobBatchSize:    int(getInt64WithDefault("JOB_BATCH_SIZE", 20)),
		JobMaxAttempts:  int(getInt64WithDefault("JOB_MAX_ATTEMPTS", 10)),
		JobRetryBackoff: getDurationWithDefault("JOB_RETRY_BACKOFF", 10*time.Second),

		// Sweeper
		SweeperEnabled:       os.Getenv("SWEEPER_ENABLED") == "true",
		SweeperInterval:      getDurationWithDefault("SWEEPER_INTERVAL", 10*time.Minute),
		SweeperDeleteEnabled: os.Getenv("SWEEPER_DELETE_ENABLED") == "true",
		SweeperPrunableRanks: getListWithDefault("SWEEPER_PRUNABLE_RANKS", nil),

		// Notifications
		Notifier:               getEnvWithDefault("NOTIFIER", "log"),
		NATSServers:            getEnvWithDefault("NATS_SERVERS", "nats://nats:4222"),
		NotifySubjectPrefix:    getEnvWithDefault("NOTIFY_SUBJECT_PREFIX", "coffers.notify"),
		PlayerLookupSubject:    os.Getenv("PLAYER_LOOKUP_SUBJECT"),
		PlayerLookupTimeout:    getDurationWithDefault("PLAYER_LOOKUP_TIMEOUT", 2*time.Second),
		DiscordToken:           os.Getenv("DISCORD_TOKEN"),
		DiscordNotifyChannelID: os.Getenv("DISCORD_NOTIFY_CHANNEL_ID"),

		// OpenTelemetry
		OTelEnabled:              os.Getenv("OTEL_ENABLED") == "true",
		OTelServiceName:          getEnvWithDefault("OTEL_SERVICE_NAME", "coffers"),
		OTelExporterType:         getEnvWithDefault("OTEL_EXPORTER_TYPE", "console"),
		OTelOTLPEndpoint:         getEnvWithDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317"),
		OTelExportIntervalMillis: int(getInt64WithDefault("OTEL_EXPORT_INTERVAL_MILLIS", 60000)),

		LogLevel: getEnvWithDefault("LOG_LEVEL", "info"),

		// Environment
		Environment: os.Getenv("ENVIRONMENT"),
	}

	// Set default environment if not specified
	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		// Validate required configuration
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		// If DatabaseName is provided, ensure it's not empty
		if config.DatabaseName != "" && strings.TrimSpace(config.DatabaseName) == "" {
			return nil, fmt.Errorf("DATABASE_NAME cannot be empty when provided")
		}
	}

	switch config.Notifier {
	case "log", "nats":
	case "discord":
		if config.DiscordToken == "" || config.DiscordNotifyChannelID == "" {
			return nil, fmt.Errorf("DISCORD_TOKEN and DISCORD_NOTIFY_CHANNEL_ID are required for the discord notifier")
		}
	default:
		return nil, fmt.Errorf("unknown NOTIFIER %q", config.Notifier)
	}

	if config.FeeAnnualRatePercent < 0 {
		return nil, fmt.Errorf("FEE_ANNUAL_RATE_PERCENT cannot be negative")
	}
	if config.DatabaseMaxConns < 0 || config.DatabaseMaxConns > math.MaxInt32 {
		return nil, fmt.Errorf("DATABASE_MAX_CONNS out of range: %d", config.DatabaseMaxConns)
	}

	return config, nil
}

// getEnvWithDefault returns the environment variable value or a default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getListWithDefault splits a comma-separated environment variable, dropping empty items
func getListWithDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getInt64WithDefault parses an integer environment variable, keeping the default on bad input
func getInt64WithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationWithDefault parses a Go duration ("90s", "5m") environment variable
func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
// This should only be called from test files
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
// This should only be called from test files
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	return &Config{
		Environment:          "test",
		FeeAnnualRatePercent: 5,
		FeeMinInterval:       time.Minute,
		FeeMaxInterval:       720 * time.Hour,
		TransferBaseDelay:    time.Minute,
		AppraisalGranularity: 10,
		AccountCacheSize:     16,
		JobPollInterval:      time.Second,
		JobLease:             time.Minute,
		JobBatchSize:         20,
		JobMaxAttempts:       3,
		JobRetryBackoff:      time.Second,
		SweeperInterval:      time.Minute,
		Notifier:             "log",
		NotifySubjectPrefix:  "coffers.notify",
		PlayerLookupTimeout:  time.Second,
		OTelServiceName:      "coffers-test",
		OTelExporterType:     "none",
		LogLevel:             "debug",
	}
}
