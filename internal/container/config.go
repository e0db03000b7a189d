// Package container provides dependency injection and lifecycle management
// for the expense approval engine.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/infrastructure/notify"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/expense-approval/internal/infrastructure/tracing"
	"github.com/garyjia/expense-approval/pkg/database"
)

// Store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Store configuration
	Store StoreConfig

	// Gateway configuration
	Gateway GatewayConfig

	// PolicyFile is a policy document seeded at startup; empty skips seeding
	PolicyFile string

	// NATS notification configuration
	NATS NATSConfig

	// Tracing configuration
	Tracing tracing.Config
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver   string
	SQLite   database.Config
	Postgres postgres.Config
}

// GatewayConfig holds decision gateway settings
type GatewayConfig struct {
	// LockTimeout bounds the wait for a claim's lock; zero waits for ctx only
	LockTimeout time.Duration
}

// NATSConfig holds the optional NATS publisher settings
type NATSConfig struct {
	Enabled       bool
	SubjectPrefix string
	Conn          notify.NATSConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: DriverSQLite,
			SQLite: database.Config{
				Path:            "data/expense.db",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				BusyTimeout:     5 * time.Second,
			},
		},
		Gateway: GatewayConfig{
			LockTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			SubjectPrefix: notify.DefaultSubjectPrefix,
			Conn: notify.NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				Name:          "expense-approval",
				MaxReconnects: 60,
				ReconnectWait: 2 * time.Second,
			},
		},
		Tracing: tracing.Config{
			ServiceName: "expense-approval",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.NATS.Enabled && c.NATS.Conn.URL == "" {
		return fmt.Errorf("nats url is required when nats is enabled")
	}

	return nil
}
