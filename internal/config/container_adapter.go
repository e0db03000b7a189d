package config

import (
	"github.com/garyjia/expense-approval/internal/container"
	"github.com/garyjia/expense-approval/internal/infrastructure/notify"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/expense-approval/internal/infrastructure/tracing"
	"github.com/garyjia/expense-approval/pkg/database"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig(version string) *container.Config {
	return &container.Config{
		Store: container.StoreConfig{
			Driver: c.Database.Driver,
			SQLite: database.Config{
				Path:            c.Database.Path,
				MaxOpenConns:    c.Database.MaxOpenConns,
				MaxIdleConns:    c.Database.MaxIdleConns,
				ConnMaxLifetime: c.Database.ConnMaxLifetime,
				BusyTimeout:     c.Database.BusyTimeout,
			},
			Postgres: postgres.Config{
				DSN:             c.Database.DSN,
				MaxConns:        int32(c.Database.MaxOpenConns),
				MinConns:        int32(c.Database.MaxIdleConns),
				MaxConnLifetime: c.Database.ConnMaxLifetime,
			},
		},
		Gateway: container.GatewayConfig{
			LockTimeout: c.Gateway.LockTimeout,
		},
		PolicyFile: c.Policy.SeedFile,
		NATS: container.NATSConfig{
			Enabled:       c.NATS.Enabled,
			SubjectPrefix: c.NATS.SubjectPrefix,
			Conn: notify.NATSConfig{
				URL:           c.NATS.URL,
				Name:          c.NATS.Name,
				MaxReconnects: c.NATS.MaxReconnects,
				ReconnectWait: c.NATS.ReconnectWait,
			},
		},
		Tracing: tracing.Config{
			Enabled:        c.Tracing.Enabled,
			ServiceName:    c.Tracing.ServiceName,
			ServiceVersion: version,
			Output:         c.Tracing.Output,
		},
	}
}
