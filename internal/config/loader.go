package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers accepted by COUNSELLING_STORAGE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures environment driven configuration values for the counselling service.
type Config struct {
	HTTPPort                  int
	StorageDriver             string
	SQLiteDSN                 string
	DatabaseURL               string
	Location                  *time.Location
	SlotHorizonDays           int
	APIKeyHash                string
	RateLimitPerMinute        int
	BookingRateLimitPerMinute int
	KafkaBrokers              []string
	KafkaTopic                string
	LogLevel                  slog.Level
	LogFormat                 string
}

// Load reads an optional .env file and then parses configuration values from
// the process environment. Variables already set in the environment win over
// the file.
//
// Defaults are applied for optional fields. Missing and invalid variables are
// collected and reported together.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("COUNSELLING_ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		HTTPPort:                  8080,
		StorageDriver:             DriverSQLite,
		SQLiteDSN:                 "file:counselling.db",
		Location:                  time.UTC,
		SlotHorizonDays:           7,
		RateLimitPerMinute:        120,
		BookingRateLimitPerMinute: 20,
		KafkaTopic:                "counselling.sessions",
		LogLevel:                  slog.LevelInfo,
		LogFormat:                 "json",
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	positiveInt := func(key string, target *int) {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			return
		}
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			invalid = append(invalid, key)
			return
		}
		*target = n
	}

	positiveInt("COUNSELLING_HTTP_PORT", &cfg.HTTPPort)
	positiveInt("COUNSELLING_SLOT_HORIZON_DAYS", &cfg.SlotHorizonDays)
	positiveInt("COUNSELLING_RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute)
	positiveInt("COUNSELLING_BOOKING_RATE_LIMIT_PER_MINUTE", &cfg.BookingRateLimitPerMinute)

	if driver := strings.ToLower(strings.TrimSpace(os.Getenv("COUNSELLING_STORAGE_DRIVER"))); driver != "" {
		switch driver {
		case DriverSQLite, DriverPostgres, DriverMemory:
			cfg.StorageDriver = driver
		default:
			invalid = append(invalid, "COUNSELLING_STORAGE_DRIVER")
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("COUNSELLING_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("COUNSELLING_DATABASE_URL"))
	if cfg.StorageDriver == DriverPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "COUNSELLING_DATABASE_URL")
	}

	if tz := strings.TrimSpace(os.Getenv("COUNSELLING_TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			invalid = append(invalid, "COUNSELLING_TIMEZONE")
		} else {
			cfg.Location = loc
		}
	}

	cfg.APIKeyHash = strings.TrimSpace(os.Getenv("COUNSELLING_API_KEY_HASH"))
	if cfg.APIKeyHash != "" && !strings.HasPrefix(cfg.APIKeyHash, "$argon2id$") {
		invalid = append(invalid, "COUNSELLING_API_KEY_HASH")
	}

	for _, broker := range strings.Split(os.Getenv("COUNSELLING_KAFKA_BROKERS"), ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
		}
	}
	if topic := strings.TrimSpace(os.Getenv("COUNSELLING_KAFKA_TOPIC")); topic != "" {
		cfg.KafkaTopic = topic
	}

	if level := strings.TrimSpace(os.Getenv("COUNSELLING_LOG_LEVEL")); level != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
			invalid = append(invalid, "COUNSELLING_LOG_LEVEL")
		}
	}
	if format := strings.ToLower(strings.TrimSpace(os.Getenv("COUNSELLING_LOG_FORMAT"))); format != "" {
		if format != "json" && format != "text" {
			invalid = append(invalid, "COUNSELLING_LOG_FORMAT")
		} else {
			cfg.LogFormat = format
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
