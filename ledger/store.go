/*
store.go - Persistence port for the ledger

PURPOSE:
  Defines the interface between the ledger and the database. Every ledger
  operation runs inside exactly one WithTx call: it re-reads the invoice and
  its payments, validates, writes, reconciles and commits. Either the whole
  transaction commits with all invariants holding, or nothing is persisted.

KEY INTERFACES:
  Store: opens transactions
  Tx:    all reads and writes available inside a transaction

CONCURRENCY CONTRACT:
  Two transactions mutating the same invoice must serialize. Implementations
  either hold a writer lock for the duration of WithTx (memory, SQLite) or
  lock the invoice row in GetInvoiceForUpdate (PostgreSQL). UpdateInvoice is
  additionally version checked and fails with ErrConcurrentModification when
  the row changed since it was read.

UNIQUENESS CONTRACT:
  (company_id, invoice_number) is unique. InsertInvoice reports a collision
  as ErrDuplicateInvoiceNumber so the allocator can retry.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and the demo server
  - store/sqlstore: SQLite and PostgreSQL

SEE ALSO:
  - numbering.go: uses the sequence methods
*/
package ledger

import (
	"context"
	"time"
)

// Store opens ledger transactions.
type Store interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional view of the store. Every method is tenant scoped.
type Tx interface {
	InvoiceTx
	PaymentTx
	SequenceTx
	AuditTx
}

// InvoiceTx reads and writes invoices and their items.
type InvoiceTx interface {
	// GetInvoice returns the invoice with its items, or ErrInvoiceNotFound.
	GetInvoice(ctx context.Context, companyID CompanyID, id InvoiceID) (*Invoice, error)

	// GetInvoiceForUpdate is GetInvoice plus a row lock held until commit.
	GetInvoiceForUpdate(ctx context.Context, companyID CompanyID, id InvoiceID) (*Invoice, error)

	// InsertInvoice persists a new invoice and its items.
	InsertInvoice(ctx context.Context, inv *Invoice) error

	// UpdateInvoice writes header fields when the stored version equals
	// inv.Version, then increments inv.Version.
	UpdateInvoice(ctx context.Context, inv *Invoice) error

	// ReplaceItems deletes all items of the invoice and inserts the given ones.
	ReplaceItems(ctx context.Context, invoiceID InvoiceID, items []InvoiceItem) error

	// DeleteInvoice removes the invoice, its items and its payments.
	DeleteInvoice(ctx context.Context, companyID CompanyID, id InvoiceID) error

	// ListInvoices returns invoices matching the filter, newest first, without items.
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error)

	// ListCompanies returns every company that owns at least one invoice.
	ListCompanies(ctx context.Context) ([]CompanyID, error)
}

// PaymentTx reads and writes payment rows.
type PaymentTx interface {
	GetPayment(ctx context.Context, companyID CompanyID, id PaymentID) (*Payment, error)
	ListPayments(ctx context.Context, companyID CompanyID, invoiceID InvoiceID) ([]Payment, error)
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
	DeletePayment(ctx context.Context, companyID CompanyID, id PaymentID) error
}

// SequenceTx backs the invoice number allocator.
type SequenceTx interface {
	// LatestInvoiceNumber returns the number of the most recently created
	// invoice of the company, or "" when it has none.
	LatestInvoiceNumber(ctx context.Context, companyID CompanyID) (string, error)

	InvoiceNumberExists(ctx context.Context, companyID CompanyID, number string) (bool, error)

	// HighWaterMark is the largest sequence value ever allocated for the company.
	HighWaterMark(ctx context.Context, companyID CompanyID) (int64, error)
	SetHighWaterMark(ctx context.Context, companyID CompanyID, value int64) error
}

// AuditTx appends to the audit trail.
type AuditTx interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, companyID CompanyID, invoiceID InvoiceID) ([]AuditEntry, error)
}

// InvoiceFilter narrows ListInvoices. Zero fields match everything.
type InvoiceFilter struct {
	CompanyID CompanyID
	Statuses  []InvoiceStatus
	ClientID  *ClientID
	DueBefore *time.Time
	Limit     int
	Offset    int
}
