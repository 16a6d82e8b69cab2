package container

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/dispatcher"
	"github.com/garyjia/bill-workflow/internal/application/permission"
	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/application/service"
	"github.com/garyjia/bill-workflow/internal/application/workflow"
	"github.com/garyjia/bill-workflow/internal/domain/event"
	"github.com/garyjia/bill-workflow/internal/infrastructure/persistence/mongostore"
	"github.com/garyjia/bill-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/bill-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/bill-workflow/internal/infrastructure/worker"
	"github.com/garyjia/bill-workflow/pkg/database"
)

// StoreBundle holds the repositories and transaction manager of the selected driver.
type StoreBundle struct {
	Bills   port.BillRepository
	Audits  port.AuditRepository
	Serials port.SerialRepository
	Users   port.UserRepository
	Roles   port.RoleResolver
	Tx      port.TransactionManager

	// Ping reports store reachability for health checks
	Ping func(ctx context.Context) error
	// Close releases the connection
	Close func() error
}

// ProvideStore opens the configured store and builds its repositories.
func ProvideStore(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.Driver {
	case DriverMongo:
		return provideMongoStore(ctx, cfg, logger)
	default:
		return provideSQLiteStore(cfg, logger)
	}
}

func provideSQLiteStore(cfg *DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, logger)
	if cfg.MigrationsDir != "" {
		err = migrator.RunMigrations(os.DirFS(cfg.MigrationsDir), ".")
	} else {
		err = migrator.RunSchema()
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return sqliteBundle(db.DB, logger), nil
}

func sqliteBundle(sqlDB *sql.DB, logger *zap.Logger) *StoreBundle {
	users := repository.NewUserRepository(sqlDB, logger)
	return &StoreBundle{
		Bills:   repository.NewBillRepository(sqlDB, logger),
		Audits:  repository.NewAuditRepository(sqlDB, logger),
		Serials: repository.NewSerialRepository(sqlDB, logger),
		Users:   users,
		Roles:   users,
		Tx:      sqlite.NewDB(sqlDB, logger),
		Ping:    sqlDB.PingContext,
		Close:   sqlDB.Close,
	}
}

func provideMongoStore(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	db, err := mongostore.Connect(ctx, mongostore.Config{
		URI:            cfg.MongoURI,
		Database:       cfg.MongoDatabase,
		ConnectTimeout: cfg.ConnectTimeout,
		Transactions:   cfg.MongoTransactions,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureIndexes(ctx); err != nil {
		_ = db.Close(context.Background())
		return nil, err
	}

	users := mongostore.NewUserRepository(db, logger)
	return &StoreBundle{
		Bills:   mongostore.NewBillRepository(db, logger),
		Audits:  mongostore.NewAuditRepository(db, logger),
		Serials: mongostore.NewSerialRepository(db, logger),
		Users:   users,
		Roles:   users,
		Tx:      db,
		Ping: func(ctx context.Context) error {
			return db.Database().Client().Ping(ctx, nil)
		},
		Close: func() error {
			return db.Close(context.Background())
		},
	}, nil
}

// ProvideGate loads the permission policy and builds the gate.
func ProvideGate(cfg *WorkflowConfig, logger *zap.Logger) (*permission.Gate, error) {
	policy, err := permission.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	gate, err := permission.NewGate(policy)
	if err != nil {
		return nil, err
	}
	logger.Info("Permission policy loaded",
		zap.Int("version", policy.Version),
		zap.Int("roles", len(policy.Steps)),
		zap.String("path", cfg.PolicyPath))
	return gate, nil
}

// ProvideDispatcher creates the event dispatcher and subscribes the event log.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	kvLogger := NewZapAdapter(logger)
	disp := dispatcher.NewDispatcher(dispatcher.WithLogger(kvLogger))
	disp.SubscribeAll("event-log", dispatcher.NewLoggingHandler(kvLogger))
	logger.Info("Dispatcher ready", zap.Int("event_types", len(event.AllTypes())))
	return disp
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Orchestrator workflow.Orchestrator
	Bills        service.BillService
	Stats        service.StatsService
}

// ProvideServices wires the application services onto a store.
func ProvideServices(store *StoreBundle, gate *permission.Gate, disp dispatcher.Dispatcher, cfg *WorkflowConfig, logger *zap.Logger) *ServiceBundle {
	kvLogger := NewZapAdapter(logger)
	return &ServiceBundle{
		Orchestrator: workflow.NewOrchestrator(store.Bills, store.Audits, store.Tx, gate,
			workflow.WithDispatcher(disp),
			workflow.WithLogger(kvLogger),
			workflow.WithRoleResolver(store.Roles),
		),
		Bills: service.NewBillService(store.Bills, store.Audits, store.Serials, store.Tx, disp,
			cfg.FinancialYearStartMonth, kvLogger),
		Stats: service.NewStatsService(store.Bills, store.Audits, kvLogger),
	}
}

// ProvideWorkers creates the worker manager with the stuck bill monitor registered.
func ProvideWorkers(stats service.StatsService, disp dispatcher.Dispatcher, cfg *WorkerConfig, logger *zap.Logger) *worker.Manager {
	mgr := worker.NewManager(logger)
	if cfg.DisableMonitor {
		return mgr
	}
	mgr.Register(worker.NewStuckMonitor(stats, disp, worker.StuckMonitorConfig{
		Interval:   cfg.StuckScanInterval,
		StuckAfter: cfg.StuckAfter,
		BatchSize:  cfg.StuckBatchSize,
	}, logger))
	return mgr
}
