package config

import (
	"time"

	"github.com/garyjia/bill-workflow/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This bridges the file-based config loaded by viper and the container's
// configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:            c.Database.Driver,
			Path:              c.Database.Path,
			MaxOpenConns:      c.Database.MaxOpenConns,
			MaxIdleConns:      c.Database.MaxIdleConns,
			ConnMaxLifetime:   c.Database.ConnMaxLifetime,
			MigrationsDir:     c.Database.MigrationsDir,
			MongoURI:          c.Database.Mongo.URI,
			MongoDatabase:     c.Database.Mongo.Database,
			MongoTransactions: c.Database.Mongo.Transactions,
			ConnectTimeout:    c.Database.Mongo.ConnectTimeout,
		},
		Workflow: container.WorkflowConfig{
			PolicyPath:              c.Workflow.PolicyPath,
			FinancialYearStartMonth: time.Month(c.Workflow.FinancialYearStartMonth),
			MaxRemarksLength:        c.Workflow.MaxRemarksLength,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Auth: container.AuthConfig{
			JWTSecret: c.Auth.JWTSecret,
		},
		Worker: container.WorkerConfig{
			StuckAfter:        c.Worker.StuckAfter,
			StuckScanInterval: c.Worker.StuckScanInterval,
			StuckBatchSize:    c.Worker.StuckBatchSize,
			DisableMonitor:    c.Worker.DisableMonitor,
		},
	}
}
