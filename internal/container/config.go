// Package container provides dependency injection and lifecycle management
// for the bill workflow service.
package container

import (
	"fmt"
	"time"
)

// Store drivers
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config holds all configuration for the Container.
type Config struct {
	Database DatabaseConfig
	Workflow WorkflowConfig
	Server   ServerConfig
	Auth     AuthConfig
	Worker   WorkerConfig
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "mongo"
	Driver string

	// SQLite settings
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// MigrationsDir overrides the embedded schema when set
	MigrationsDir string

	// Mongo settings
	MongoURI          string
	MongoDatabase     string
	MongoTransactions bool
	ConnectTimeout    time.Duration
}

// WorkflowConfig holds workflow rules configuration.
type WorkflowConfig struct {
	// PolicyPath points at the permission policy YAML. Empty uses the built-in policy.
	PolicyPath string

	// FinancialYearStartMonth is the first month of the serial number year
	FinancialYearStartMonth time.Month

	// MaxRemarksLength caps transition remarks
	MaxRemarksLength int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	// JWTSecret enables auth on /api when set
	JWTSecret string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	StuckAfter        time.Duration
	StuckScanInterval time.Duration
	StuckBatchSize    int
	DisableMonitor    bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			Path:            "data/bills.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			MongoDatabase:   "bills",
			ConnectTimeout:  10 * time.Second,
		},
		Workflow: WorkflowConfig{
			FinancialYearStartMonth: time.April,
			MaxRemarksLength:        2000,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			StuckAfter:        72 * time.Hour,
			StuckScanInterval: 15 * time.Minute,
			StuckBatchSize:    100,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMongo:
		if c.Database.MongoURI == "" {
			return fmt.Errorf("database.mongo_uri is required for the mongo driver")
		}
		if c.Database.MongoDatabase == "" {
			return fmt.Errorf("database.mongo_database is required for the mongo driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverMongo, c.Database.Driver)
	}

	if m := c.Workflow.FinancialYearStartMonth; m < time.January || m > time.December {
		return fmt.Errorf("workflow.financial_year_start_month must be 1-12, got %d", m)
	}
	if c.Worker.StuckAfter <= 0 {
		return fmt.Errorf("worker.stuck_after must be positive")
	}

	return nil
}
