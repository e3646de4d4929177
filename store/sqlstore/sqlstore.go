/*
Package sqlstore provides a SQL-backed implementation of ledger.Store.

PURPOSE:
  Persists invoices, items, payments, number sequences and the audit trail
  with sqlx. SQLite is the default (file or ":memory:"); PostgreSQL uses the
  same queries, rebound to $n placeholders, with dialect-specific column types.

CONCURRENCY:
  SQLite:     a writer mutex is held for the whole WithTx and :memory:
              databases use a single connection, so transactions serialize
              in-process.
  PostgreSQL: read-committed transactions; GetInvoiceForUpdate takes a row
              lock (SELECT ... FOR UPDATE) held until commit. Concurrent
              creators collide on UNIQUE(company_id, invoice_number) and the
              ledger retries.

ERRORS:
  Unique violations become ErrDuplicateInvoiceNumber, missing rows become
  not-found errors and stale versions become ErrConcurrentModification.
  Everything else is returned wrapped and is classified by the ledger as
  StorageUnavailable.

USAGE:
  st, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite3", DSN: "./data/ledger.db"}, log)
  if err != nil {
      return err
  }
  defer st.Close()
  l := ledger.New(st, log)

SEE ALSO:
  - ledger/store.go: the interface implemented here
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/logger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config selects the database.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	// ConnectTimeout bounds how long Open keeps retrying the first ping.
	ConnectTimeout time.Duration
	AutoMigrate    bool
}

// Store implements ledger.Store over database/sql.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	log     *logger.Logger

	// mu serializes SQLite writers. Unused for PostgreSQL.
	mu sync.Mutex
}

// Open connects, pings with backoff and optionally migrates.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if d.name == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sqlx.Open(d.name, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	switch {
	case d.name == DriverSQLite && strings.Contains(cfg.DSN, ":memory:"):
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := ping(ctx, db, cfg.ConnectTimeout); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, dialect: d, log: log}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	log.Infow("database ready", "driver", d.name, "auto_migrate", cfg.AutoMigrate)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrate: %s", firstLine(stmt))
		}
	}
	return nil
}

// WithTx executes fn within a database transaction.
// If fn returns error, the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if s.dialect.name == DriverSQLite {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: s.dialect.isolation})
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

func ping(ctx context.Context, db *sqlx.DB, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = timeout
	return errors.Wrap(
		backoff.Retry(func() error { return db.PingContext(ctx) }, backoff.WithContext(eb, ctx)),
		"ping database")
}

// sqliteDSN turns on foreign keys and WAL for file databases.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	if strings.Contains(dsn, ":memory:") {
		return dsn + "?_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ ledger.Store = (*Store)(nil)
