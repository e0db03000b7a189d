package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/audit"
	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/gateway"
	"github.com/garyjia/expense-approval/internal/application/policy"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/resolver"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/metrics"
	"github.com/garyjia/expense-approval/internal/infrastructure/notify"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/memory"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/internal/infrastructure/policyfile"
	"github.com/garyjia/expense-approval/internal/infrastructure/tracing"
	"github.com/garyjia/expense-approval/pkg/database"
)

// StoreBundle holds the persistence ports of one backend
type StoreBundle struct {
	Claims    port.ClaimRepository
	Policy    port.PolicyStore
	Writer    port.PolicyWriter
	Directory port.ManagerDirectory
	Audit     port.AuditRepository
	TxManager port.TransactionManager

	ping  func(ctx context.Context) error
	close func() error
}

// Ping checks the backend is reachable
func (b *StoreBundle) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

// seedStore adapts the bundle to policyfile.Store
type seedStore struct {
	port.PolicyStore
	port.PolicyWriter
	port.TransactionManager
}

// ProvideStore opens the configured backend and brings its schema up to date
func ProvideStore(ctx context.Context, cfg *StoreConfig, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.Driver {
	case DriverMemory:
		return provideMemoryStore(logger), nil
	case DriverSQLite:
		return provideSQLiteStore(cfg.SQLite, logger)
	case DriverPostgres:
		return providePostgresStore(ctx, cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func provideMemoryStore(logger *zap.Logger) *StoreBundle {
	s := memory.NewStore()
	logger.Info("Using in-memory store")
	return &StoreBundle{
		Claims:    s,
		Policy:    s,
		Writer:    s,
		Directory: s,
		Audit:     s,
		TxManager: s,
		ping:      s.Ping,
		close:     s.Close,
	}
}

func provideSQLiteStore(cfg database.Config, logger *zap.Logger) (*StoreBundle, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := database.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(sqlDB, logger).Run(sqlite.Migrations, sqlite.MigrationsDir); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db := sqlite.NewDB(sqlDB.DB, logger)
	policyRepo := sqlite.NewPolicyRepository(db, logger)
	return &StoreBundle{
		Claims:    sqlite.NewClaimRepository(db, logger),
		Policy:    policyRepo,
		Writer:    policyRepo,
		Directory: policyRepo,
		Audit:     sqlite.NewAuditRepository(db, logger),
		TxManager: db,
		ping:      db.Ping,
		close:     sqlDB.Close,
	}, nil
}

func providePostgresStore(ctx context.Context, cfg postgres.Config, logger *zap.Logger) (*StoreBundle, error) {
	db, err := postgres.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	policyRepo := postgres.NewPolicyRepository(db, logger)
	return &StoreBundle{
		Claims:    postgres.NewClaimRepository(db, logger),
		Policy:    policyRepo,
		Writer:    policyRepo,
		Directory: policyRepo,
		Audit:     postgres.NewAuditRepository(db, logger),
		TxManager: db,
		ping:      db.Ping,
		close:     db.Close,
	}, nil
}

// ProvidePolicySeed loads the policy document at path into the store.
// An empty path is a no-op.
func ProvidePolicySeed(ctx context.Context, path string, store *StoreBundle, logger *zap.Logger) error {
	if path == "" {
		return nil
	}

	doc, err := policyfile.Load(path)
	if err != nil {
		return err
	}

	return policyfile.Seed(ctx, seedStore{
		PolicyStore:        store.Policy,
		PolicyWriter:       store.Writer,
		TransactionManager: store.TxManager,
	}, doc, logger)
}

// ProvideDispatcher creates the event dispatcher
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}))
}

// ProvideNotifiers subscribes the notifier hooks. It returns the NATS
// connection when one was opened so the container can drain it on close.
func ProvideNotifiers(cfg *NATSConfig, disp dispatcher.Dispatcher, collector *metrics.Collector, logger *zap.Logger) (*nats.Conn, error) {
	disp.SubscribeNamed(dispatcher.AllEvents, "metrics", collector.HandleEvent)
	disp.SubscribeNamed(dispatcher.AllEvents, "log", notify.NewLogNotifier(logger).Handle)

	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	conn, err := notify.Connect(cfg.Conn, logger)
	if err != nil {
		return nil, err
	}
	disp.SubscribeNamed(dispatcher.AllEvents, "nats", notify.NewNATSNotifier(conn, cfg.SubjectPrefix, logger).Handle)
	return conn, nil
}

// EngineDeps holds the dependencies of the workflow engine
type EngineDeps struct {
	Store      *StoreBundle
	Dispatcher dispatcher.Dispatcher
	Metrics    workflow.Metrics
	Logger     *zap.Logger
}

// ProvideEngine wires the workflow engine over the store
func ProvideEngine(deps *EngineDeps) (workflow.Engine, error) {
	if deps == nil || deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	log := &zapLoggerAdapter{logger: deps.Logger}
	opts := []workflow.EngineOption{workflow.WithLogger(log)}
	if deps.Dispatcher != nil {
		opts = append(opts, workflow.WithDispatcher(deps.Dispatcher))
	}
	if deps.Metrics != nil {
		opts = append(opts, workflow.WithMetrics(deps.Metrics))
	}

	return workflow.NewEngine(
		deps.Store.Claims,
		policy.NewRepository(deps.Store.Policy, log),
		resolver.New(deps.Store.Directory),
		audit.NewRecorder(deps.Store.Audit),
		deps.Store.TxManager,
		opts...,
	), nil
}

// ProvideGateway wraps the engine with per-claim serialization
func ProvideGateway(engine workflow.Engine, cfg *GatewayConfig, collector *metrics.Collector, tp *tracing.Provider, logger *zap.Logger) *gateway.Gateway {
	opts := []gateway.Option{
		gateway.WithLogger(&zapLoggerAdapter{logger: logger}),
		gateway.WithTracer(tp.Tracer("expense-approval/gateway")),
	}
	if collector != nil {
		opts = append(opts, gateway.WithMetrics(collector))
	}
	if cfg != nil && cfg.LockTimeout > 0 {
		opts = append(opts, gateway.WithLockTimeout(cfg.LockTimeout))
	}
	return gateway.New(engine, opts...)
}
