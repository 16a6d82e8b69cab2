package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds store configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	Mongo           MongoConfig   `mapstructure:"mongo"`
}

// MongoConfig holds MongoDB settings used when driver is mongo
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Transactions   bool          `mapstructure:"transactions"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// WorkflowConfig holds workflow rules configuration
type WorkflowConfig struct {
	PolicyPath              string `mapstructure:"policy_path"`
	FinancialYearStartMonth int    `mapstructure:"financial_year_start_month"`
	MaxRemarksLength        int    `mapstructure:"max_remarks_length"`
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	StuckAfter        time.Duration `mapstructure:"stuck_after"`
	StuckScanInterval time.Duration `mapstructure:"stuck_scan_interval"`
	StuckBatchSize    int           `mapstructure:"stuck_batch_size"`
	DisableMonitor    bool          `mapstructure:"disable_monitor"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configuration from an optional YAML file, a .env file in the
// working directory, and BILL_* environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/bills.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_dir", "")
	v.SetDefault("database.mongo.uri", "")
	v.SetDefault("database.mongo.database", "bills")
	v.SetDefault("database.mongo.transactions", false)
	v.SetDefault("database.mongo.connect_timeout", 10*time.Second)

	v.SetDefault("workflow.policy_path", "")
	v.SetDefault("workflow.financial_year_start_month", 4)
	v.SetDefault("workflow.max_remarks_length", 2000)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("worker.stuck_after", 72*time.Hour)
	v.SetDefault("worker.stuck_scan_interval", 15*time.Minute)
	v.SetDefault("worker.stuck_batch_size", 100)
	v.SetDefault("worker.disable_monitor", false)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the unprefixed names deployments commonly set
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("auth.jwt_secret", "BILL_AUTH_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("database.mongo.uri", "BILL_DATABASE_MONGO_URI", "MONGO_URI")
	_ = v.BindEnv("database.driver", "BILL_DATABASE_DRIVER", "DB_DRIVER")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case "mongo":
		if c.Database.Mongo.URI == "" {
			return fmt.Errorf("database.mongo.uri is required when driver is mongo")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or mongo, got %q", c.Database.Driver)
	}

	if c.Workflow.PolicyPath != "" {
		if _, err := os.Stat(c.Workflow.PolicyPath); err != nil {
			return fmt.Errorf("workflow.policy_path: %w", err)
		}
	}
	if m := c.Workflow.FinancialYearStartMonth; m < 1 || m > 12 {
		return fmt.Errorf("workflow.financial_year_start_month must be 1-12, got %d", m)
	}
	if c.Worker.StuckAfter <= 0 {
		return fmt.Errorf("worker.stuck_after must be positive")
	}

	return nil
}
