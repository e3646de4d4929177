package sqlstore

import (
	"database/sql"
	"strings"

	"github.com/warp/ledger-engine/ledger"
)

// dialect holds what differs between SQLite and PostgreSQL.
type dialect struct {
	name      string
	money     string
	timestamp string
	bigint    string
	// forUpdate is appended to the invoice lock query.
	forUpdate string
	isolation sql.IsolationLevel
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "", DriverSQLite, "sqlite":
		return dialect{
			name:      DriverSQLite,
			money:     "TEXT",
			timestamp: "DATETIME",
			bigint:    "INTEGER",
			isolation: sql.LevelDefault,
		}, nil
	case DriverPostgres, "postgresql":
		return dialect{
			name:      DriverPostgres,
			money:     "NUMERIC",
			timestamp: "TIMESTAMPTZ",
			bigint:    "BIGINT",
			forUpdate: " FOR UPDATE",
			isolation: sql.LevelReadCommitted,
		}, nil
	}
	return dialect{}, ledger.NewErrorf("unsupported database driver %q", driver).
		WithHint("Database driver must be sqlite3 or postgres").
		Mark(ledger.ErrValidation)
}

// schemaTemplate uses {money}, {ts} and {bigint} as column type placeholders.
// Monetary columns are TEXT on SQLite so decimals round-trip exactly.
var schemaTemplate = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		invoice_number TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		appointment_id TEXT,
		subtotal {money} NOT NULL,
		tax_rate {money} NOT NULL,
		tax_amount {money} NOT NULL,
		discount_type TEXT NOT NULL,
		discount_value {money} NOT NULL,
		discount_amount {money} NOT NULL,
		total {money} NOT NULL,
		paid_amount {money} NOT NULL,
		balance_amount {money} NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		invoice_date {ts} NOT NULL,
		due_date {ts} NOT NULL,
		sent_at {ts},
		paid_at {ts},
		cancelled_at {ts},
		notes TEXT,
		terms TEXT,
		cancellation_reason TEXT,
		created_by TEXT NOT NULL,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL,
		version {bigint} NOT NULL DEFAULT 1,
		UNIQUE (company_id, invoice_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_company_status
		ON invoices (company_id, status, due_date)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_company_created
		ON invoices (company_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_client
		ON invoices (company_id, client_id)`,

	`CREATE TABLE IF NOT EXISTS invoice_items (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		item_type TEXT NOT NULL,
		item_ref TEXT,
		description TEXT NOT NULL,
		quantity {money} NOT NULL,
		unit_price {money} NOT NULL,
		discount {money},
		tax_rate {money},
		total {money} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice
		ON invoice_items (invoice_id, position)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		client_id TEXT NOT NULL,
		amount {money} NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		reference TEXT,
		transaction_id TEXT,
		payment_gateway TEXT,
		notes TEXT,
		refund_of TEXT,
		payment_date {ts} NOT NULL,
		processed_at {ts},
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_invoice
		ON payments (company_id, invoice_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_refund_of
		ON payments (refund_of)`,

	`CREATE TABLE IF NOT EXISTS invoice_number_sequences (
		company_id TEXT PRIMARY KEY,
		high_water {bigint} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		payment_id TEXT,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at {ts} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_invoice
		ON audit_log (company_id, invoice_id, created_at)`,
}

func (d dialect) schema() []string {
	r := strings.NewReplacer("{money}", d.money, "{ts}", d.timestamp, "{bigint}", d.bigint)
	out := make([]string, len(schemaTemplate))
	for i, stmt := range schemaTemplate {
		out[i] = r.Replace(stmt)
	}
	return out
}
