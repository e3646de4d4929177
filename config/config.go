/*
Package config loads the service configuration.

SOURCES (later wins):
  1. Defaults below
  2. config.yaml in ./, ./config or /etc/ledger (or the --config path)
  3. .env in the working directory, loaded into the process environment
  4. LEDGER_* environment variables, e.g. LEDGER_DATABASE_DSN,
     LEDGER_LEDGER_INVOICE_PREFIX, LEDGER_EVENTS_KAFKA_BROKERS

The result is validated before use; an invalid configuration stops startup.
*/
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/warp/ledger-engine/ledger"
)

type Configuration struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Logging   LoggingConfig   `mapstructure:"logging" validate:"required"`
	Ledger    LedgerConfig    `mapstructure:"ledger" validate:"required"`
	Events    EventsConfig    `mapstructure:"events" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	API       APIConfig       `mapstructure:"api"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"required,oneof=sqlite3 postgres memory"`
	DSN          string `mapstructure:"dsn" validate:"required_unless=Driver memory"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// LedgerConfig holds the engine tunables.
type LedgerConfig struct {
	InvoicePrefix      string `mapstructure:"invoice_prefix" validate:"max=20"`
	NumberPadding      int    `mapstructure:"number_padding" validate:"gte=0,lte=18"`
	DueDays            int    `mapstructure:"due_days" validate:"gte=0"`
	Precision          int32  `mapstructure:"precision" validate:"gte=0,lte=6"`
	AllocationAttempts int    `mapstructure:"allocation_attempts" validate:"gte=1,lte=20"`
}

type EventsConfig struct {
	Backend      string   `mapstructure:"backend" validate:"required,oneof=memory kafka none"`
	KafkaBrokers []string `mapstructure:"kafka_brokers" validate:"required_if=Backend kafka"`
	TopicPrefix  string   `mapstructure:"topic_prefix"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Workers  int           `mapstructure:"workers" validate:"gte=0"`
}

type APIConfig struct {
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// Engine converts the ledger section into the engine configuration.
func (c LedgerConfig) Engine() ledger.Config {
	return ledger.Config{
		DueDays:   c.DueDays,
		Precision: c.Precision,
		Allocator: ledger.Allocator{
			Prefix:      c.InvoicePrefix,
			Padding:     c.NumberPadding,
			MaxAttempts: c.AllocationAttempts,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
func (c Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := ledger.DefaultConfig()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/ledger.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("logging.level", "info")

	v.SetDefault("ledger.invoice_prefix", def.Allocator.Prefix)
	v.SetDefault("ledger.number_padding", def.Allocator.Padding)
	v.SetDefault("ledger.due_days", def.DueDays)
	v.SetDefault("ledger.precision", def.Precision)
	v.SetDefault("ledger.allocation_attempts", def.Allocator.MaxAttempts)

	v.SetDefault("events.backend", "memory")
	// No default: an empty list must fail validation when kafka is selected.
	_ = v.BindEnv("events.kafka_brokers")
	v.SetDefault("events.topic_prefix", "ledger.")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Hour)
	v.SetDefault("scheduler.workers", 4)

	v.SetDefault("api.idempotency_ttl", 24*time.Hour)
}

// Load reads the configuration. An empty path searches the default locations.
func Load(path string) (*Configuration, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ledger")
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
