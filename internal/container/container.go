package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/dispatcher"
	"github.com/garyjia/bill-workflow/internal/application/permission"
	"github.com/garyjia/bill-workflow/internal/infrastructure/worker"
	httpapi "github.com/garyjia/bill-workflow/internal/interfaces/http"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and stop in reverse order.
type Container struct {
	config *Config
	logger *zap.Logger

	store      *StoreBundle
	gate       *permission.Gate
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle
	workers    *worker.Manager

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
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

// Start initializes all components:
// 1. Store and repositories
// 2. Permission gate
// 3. Event dispatcher
// 4. Application services
// 5. Workers (started when startWorkers is set)
func (c *Container) Start(ctx context.Context, startWorkers bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization",
		zap.String("driver", c.config.Database.Driver))

	store, err := ProvideStore(c.ctx, &c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	c.store = store

	gate, err := ProvideGate(&c.config.Workflow, c.logger)
	if err != nil {
		c.closeStore()
		return fmt.Errorf("failed to load permission policy: %w", err)
	}
	c.gate = gate

	c.dispatcher = ProvideDispatcher(c.logger)
	c.services = ProvideServices(c.store, c.gate, c.dispatcher, &c.config.Workflow, c.logger)

	c.workers = ProvideWorkers(c.services.Stats, c.dispatcher, &c.config.Worker, c.logger)
	if startWorkers {
		if err := c.workers.StartAll(c.ctx); err != nil {
			return fmt.Errorf("failed to start workers: %w", err)
		}
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
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
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if err := c.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) closeStore() error {
	if c.store == nil || c.store.Close == nil {
		return nil
	}
	err := c.store.Close()
	if err != nil {
		c.logger.Error("Failed to close store", zap.Error(err))
	}
	c.store = nil
	return err
}

// Ready reports whether Start completed
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health pings the store and reports worker state
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	mark := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.store == nil:
		mark("store", false, "not initialized")
	default:
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.store.Ping(pingCtx)
		cancel()
		if err != nil {
			mark("store", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			mark("store", true, c.config.Database.Driver)
		}
	}

	if c.workers == nil {
		mark("workers", false, "not initialized")
	} else {
		mark("workers", c.workers.Count() == 0 || c.workers.IsRunning(),
			fmt.Sprintf("worker count: %d", c.workers.Count()))
	}

	mark("dispatcher", c.dispatcher != nil, "")
	return status
}

// Services returns the application services
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Store returns the repositories of the selected driver
func (c *Container) Store() *StoreBundle {
	return c.store
}

// Gate returns the permission gate
func (c *Container) Gate() *permission.Gate {
	return c.gate
}

// Dispatcher returns the event dispatcher
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// HTTPServer builds the HTTP adapter over the container's services
func (c *Container) HTTPServer() *httpapi.Server {
	cfg := httpapi.DefaultServerConfig()
	cfg.Host = c.config.Server.Host
	cfg.Port = c.config.Server.Port
	cfg.ReadTimeout = c.config.Server.ReadTimeout
	cfg.WriteTimeout = c.config.Server.WriteTimeout
	cfg.DefaultStuckAfter = c.config.Worker.StuckAfter
	if c.config.Workflow.MaxRemarksLength > 0 {
		cfg.MaxRemarksLength = c.config.Workflow.MaxRemarksLength
	}

	return httpapi.NewServer(cfg, httpapi.Dependencies{
		Orchestrator: c.services.Orchestrator,
		Gate:         c.gate,
		Bills:        c.services.Bills,
		Stats:        c.services.Stats,
		Roles:        c.store.Roles,
		Auth:         httpapi.NewAuthenticator(c.config.Auth.JWTSecret),
	}, NewZapAdapter(c.logger))
}
