package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/gateway"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/metrics"
	"github.com/garyjia/expense-approval/internal/infrastructure/tracing"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure
	store    *StoreBundle
	tracer   *tracing.Provider
	metrics  *metrics.Collector
	natsConn *nats.Conn

	// Application
	dispatcher dispatcher.Dispatcher
	engine     workflow.Engine
	gateway    *gateway.Gateway

	// Lifecycle
	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components. Components are initialized in
// dependency order:
// 1. Tracing and metrics
// 2. Store, migrations and policy seed
// 3. Dispatcher and notifier hooks
// 4. Workflow engine and decision gateway
//
// A failed Start releases whatever it already opened.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	if err := c.start(ctx); err != nil {
		c.teardown()
		return err
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully", zap.String("store", c.config.Store.Driver))
	return nil
}

func (c *Container) start(ctx context.Context) error {
	// Step 1: Observability
	tp, err := tracing.New(c.config.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	tp.Install()
	c.tracer = tp
	c.metrics = metrics.NewCollector()
	c.logger.Info("Observability initialized", zap.Bool("tracing", c.config.Tracing.Enabled))

	// Step 2: Store
	store, err := ProvideStore(ctx, &c.config.Store, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	c.store = store

	if err := ProvidePolicySeed(ctx, c.config.PolicyFile, store, c.logger); err != nil {
		return fmt.Errorf("failed to seed policy: %w", err)
	}
	c.logger.Info("Store initialized")

	// Step 3: Dispatcher and notifiers
	c.dispatcher = ProvideDispatcher(c.logger)
	conn, err := ProvideNotifiers(&c.config.NATS, c.dispatcher, c.metrics, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifiers: %w", err)
	}
	c.natsConn = conn
	c.logger.Info("Dispatcher initialized", zap.Bool("nats", conn != nil))

	// Step 4: Engine and gateway
	engine, err := ProvideEngine(&EngineDeps{
		Store:      store,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workflow engine: %w", err)
	}
	c.engine = engine
	c.gateway = ProvideGateway(engine, &c.config.Gateway, c.metrics, c.tracer, c.logger)
	c.logger.Info("Workflow engine and gateway initialized")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases components in reverse start order. The dispatcher goes
// first so in-flight notifications finish before NATS drains.
func (c *Container) teardown() []error {
	var errs []error

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	if c.natsConn != nil {
		if err := c.natsConn.Drain(); err != nil {
			c.logger.Error("Failed to drain NATS connection", zap.Error(err))
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		} else {
			c.logger.Info("NATS connection drained")
		}
		c.natsConn = nil
	}

	if c.store != nil {
		if err := c.store.close(); err != nil {
			c.logger.Error("Failed to close store", zap.Error(err))
			errs = append(errs, fmt.Errorf("close store: %w", err))
		} else {
			c.logger.Info("Store closed")
		}
		c.store = nil
	}

	if c.tracer != nil {
		if err := c.tracer.Shutdown(context.Background()); err != nil {
			c.logger.Error("Failed to shut down tracer provider", zap.Error(err))
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		c.tracer = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	c.mu.Lock()
	store, conn, disp := c.store, c.natsConn, c.dispatcher
	c.mu.Unlock()

	// Check store
	switch {
	case store == nil:
		status.Components["store"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	default:
		if err := store.Ping(ctx); err != nil {
			status.Components["store"] = ComponentHealth{
				Healthy: false,
				Message: fmt.Sprintf("ping failed: %v", err),
			}
			status.Overall = false
		} else {
			status.Components["store"] = ComponentHealth{Healthy: true, Message: c.config.Store.Driver}
		}
	}

	// Check dispatcher
	if disp != nil {
		status.Components["dispatcher"] = ComponentHealth{Healthy: true}
	} else {
		status.Components["dispatcher"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	// NATS is optional; report it only when configured
	if c.config.NATS.Enabled {
		if conn != nil && conn.IsConnected() {
			status.Components["nats"] = ComponentHealth{Healthy: true}
		} else {
			status.Components["nats"] = ComponentHealth{Healthy: false, Message: "not connected"}
			status.Overall = false
		}
	}

	return status
}

// Getters for accessing container components

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Gateway returns the decision gateway.
func (c *Container) Gateway() *gateway.Gateway {
	return c.gateway
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Store returns the persistence bundle.
func (c *Container) Store() *StoreBundle {
	return c.store
}

// Metrics returns the Prometheus collector.
func (c *Container) Metrics() *metrics.Collector {
	return c.metrics
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the key/value Logger interfaces of
// the application packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
