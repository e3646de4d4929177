package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "# defaults only\n"))

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)

	engine := cfg.Ledger.Engine()
	assert.Equal(t, "INV-", engine.Allocator.Prefix)
	assert.Equal(t, 6, engine.Allocator.Padding)
	assert.Equal(t, 5, engine.Allocator.MaxAttempts)
	assert.Equal(t, 30, engine.DueDays)
	assert.Equal(t, int32(2), engine.Precision)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
database:
  driver: postgres
  dsn: postgres://ledger@localhost/ledger?sslmode=disable
ledger:
  invoice_prefix: "BILL-"
  number_padding: 4
events:
  backend: kafka
  kafka_brokers: ["kafka-1:9092"]
`)
	t.Setenv("LEDGER_LEDGER_DUE_DAYS", "14")
	t.Setenv("LEDGER_LOGGING_LEVEL", "debug")

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "BILL-", cfg.Ledger.InvoicePrefix)
	assert.Equal(t, 4, cfg.Ledger.NumberPadding)
	assert.Equal(t, 14, cfg.Ledger.DueDays)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Events.KafkaBrokers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "database:\n  driver: oracle\n"},
		{"kafka without brokers", "events:\n  backend: kafka\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"zero attempts", "ledger:\n  allocation_attempts: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
