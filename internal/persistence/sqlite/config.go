package sqlite

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds SQLite specific database configuration.
type Config struct {
	// Path is the database file path. ":memory:" is rejected because every
	// pooled connection would see a different database.
	Path string

	// BusyTimeout sets how long a writer waits for the database lock.
	BusyTimeout time.Duration

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, ...).
	JournalMode string

	// Synchronous sets the synchronous mode (FULL, NORMAL, OFF).
	Synchronous string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns production defaults for the database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		BusyTimeout:     5 * time.Second,
		JournalMode:     "WAL",
		Synchronous:     "NORMAL",
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Hour,
	}
}

// ParseDSN accepts either a bare path or a "file:" URI and returns a Config
// with default tuning for it.
func ParseDSN(dsn string) Config {
	path := strings.TrimSpace(dsn)
	path = strings.TrimPrefix(path, "file:")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	return DefaultConfig(path)
}

// Validate checks the configuration before a connection is attempted.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("sqlite: path cannot be empty")
	}
	if c.Path == ":memory:" {
		return fmt.Errorf("sqlite: in-memory databases are not supported, use the memory driver")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy timeout cannot be negative")
	}

	validJournalModes := map[string]bool{"DELETE": true, "TRUNCATE": true, "PERSIST": true, "MEMORY": true, "WAL": true, "OFF": true}
	if c.JournalMode != "" && !validJournalModes[strings.ToUpper(c.JournalMode)] {
		return fmt.Errorf("sqlite: invalid journal mode %q", c.JournalMode)
	}

	validSyncModes := map[string]bool{"OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true}
	if c.Synchronous != "" && !validSyncModes[strings.ToUpper(c.Synchronous)] {
		return fmt.Errorf("sqlite: invalid synchronous mode %q", c.Synchronous)
	}

	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("sqlite: connection limits cannot be negative")
	}
	return nil
}

// DSN renders the driver connection string. PRAGMAs are passed as _pragma
// parameters so that every pooled connection applies them, and _txlock makes
// each transaction take the write lock up front.
func (c Config) DSN() string {
	return "file:" + c.Path + "?" + c.query(true).Encode()
}

// MigrationURL renders the URL understood by the golang-migrate sqlite driver.
func (c Config) MigrationURL() string {
	return "sqlite://" + c.Path + "?" + c.query(false).Encode()
}

func (c Config) query(withTxLock bool) url.Values {
	values := url.Values{}
	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()),
		"foreign_keys(1)",
	}
	if c.JournalMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("journal_mode(%s)", strings.ToUpper(c.JournalMode)))
	}
	if c.Synchronous != "" {
		pragmas = append(pragmas, fmt.Sprintf("synchronous(%s)", strings.ToUpper(c.Synchronous)))
	}
	values["_pragma"] = pragmas
	if withTxLock {
		values.Set("_txlock", "immediate")
	}
	return values
}
