/*
ledger.go - The invoice/payment ledger engine

PURPOSE:
  Ledger owns both invoices and their payments. Every public operation runs
  in one store transaction that re-reads the invoice (row-locked) and its
  payment history, validates the request against that fresh state, writes,
  reconciles derived fields, checks the accounting invariants and commits.

OPERATIONS:
  invoices.go: Create, Get, List, Update, Duplicate, Delete, Send, Cancel,
               MarkPaid, RefreshStatus, OverdueCandidates
  payments.go: RecordPayment, ConfirmPayment, FailPayment, ProcessRefund,
               CancelPayment, DeletePayment, GetPayment, ListPayments

RETRIES:
  Only invoice number collisions are retried (backoff, Allocator.MaxAttempts).
  Payment operations are never replayed by the engine; a StorageUnavailable
  error is returned to the caller, who decides.

EVENTS:
  The ledger publishes nothing. Callers publish after a successful commit.

SEE ALSO:
  - store.go: persistence port
  - reconcile.go: status derivation
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/warp/ledger-engine/logger"
	"github.com/warp/ledger-engine/money"
)

// Config holds the tunables of the engine.
type Config struct {
	// DueDays is added to the invoice date when no due date is given
	// and to "now" when an invoice is duplicated.
	DueDays int
	// Precision is the number of fractional digits of the currency minor unit.
	Precision int32
	Allocator Allocator
}

// DefaultConfig returns 30 due days, 2 digit precision and INV-000001 numbering.
func DefaultConfig() Config {
	return Config{
		DueDays:   30,
		Precision: money.DefaultPrecision,
		Allocator: DefaultAllocator(),
	}
}

// Ledger is the engine. Safe for concurrent use; serialization happens in the store.
type Ledger struct {
	store Store
	cfg   Config
	log   *logger.Logger
	now   func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(l *Ledger) { l.cfg = cfg }
}

// WithClock replaces time.Now. Tests use a fixed clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over the given store.
func New(store Store, log *logger.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		cfg:   DefaultConfig(),
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.NewNop()
	}
	if l.cfg.Allocator.MaxAttempts < 1 {
		l.cfg.Allocator.MaxAttempts = 1
	}
	return l
}

// Config returns the active configuration.
func (l *Ledger) Config() Config {
	return l.cfg
}

// =============================================================================
// TRANSACTION HELPERS
// =============================================================================

// inTx runs fn in one store transaction and normalizes infrastructure errors.
func (l *Ledger) inTx(ctx context.Context, op string, fn func(Tx) error) error {
	if err := l.store.WithTx(ctx, fn); err != nil {
		return storageError(err, op)
	}
	return nil
}

// withNumberRetry runs fn like inTx, retrying the whole transaction when the
// store reports an invoice number collision.
func (l *Ledger) withNumberRetry(ctx context.Context, op string, fn func(Tx) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 100 * time.Millisecond
	policy := backoff.WithContext(
		backoff.WithMaxRetries(eb, uint64(l.cfg.Allocator.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := l.store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrDuplicateInvoiceNumber) {
			l.log.Warnw("invoice number collision, retrying",
				"op", op, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	if err != nil && errors.Is(err, ErrDuplicateInvoiceNumber) {
		return WithError(err).
			WithHintf("Could not allocate a unique invoice number after %d attempts", attempt).
			Mark(ErrDuplicateInvoiceNumber)
	}
	return storageError(err, op)
}

// lockInvoice loads the invoice for update together with its payments.
func lockInvoice(ctx context.Context, tx Tx, companyID CompanyID, id InvoiceID) (*Invoice, []Payment, error) {
	inv, err := tx.GetInvoiceForUpdate(ctx, companyID, id)
	if err != nil {
		return nil, nil, err
	}
	payments, err := tx.ListPayments(ctx, companyID, id)
	if err != nil {
		return nil, nil, err
	}
	return inv, payments, nil
}

// saveInvoice checks the invariants, then persists the header.
func saveInvoice(ctx context.Context, tx Tx, inv *Invoice, now time.Time) error {
	inv.UpdatedAt = now
	if err := inv.CheckInvariants(); err != nil {
		return err
	}
	return tx.UpdateInvoice(ctx, inv)
}

func (l *Ledger) audit(ctx context.Context, tx Tx, inv *Invoice, paymentID *PaymentID, action AuditAction, actor, detail string) error {
	return tx.AppendAudit(ctx, AuditEntry{
		ID:        NewID(prefixAudit),
		CompanyID: inv.CompanyID,
		InvoiceID: inv.ID,
		PaymentID: paymentID,
		Action:    action,
		ActorID:   actor,
		Detail:    detail,
		CreatedAt: l.now(),
	})
}

// appendNote adds a line to optional notes.
func appendNote(notes *string, line string) *string {
	line = strings.TrimSpace(line)
	if line == "" {
		return notes
	}
	if notes == nil || *notes == "" {
		return &line
	}
	joined := *notes + "\n" + line
	return &joined
}

// InvoiceNotFound is what stores return for a missing or foreign invoice.
func InvoiceNotFound(id InvoiceID) error {
	return NewErrorf("invoice %s not found", id).
		WithHint("Invoice not found").
		WithReportableDetails(map[string]any{"invoice_id": id}).
		Mark(ErrInvoiceNotFound)
}

// PaymentNotFound is what stores return for a missing or foreign payment.
func PaymentNotFound(id PaymentID) error {
	return NewErrorf("payment %s not found", id).
		WithHint("Payment not found").
		WithReportableDetails(map[string]any{"payment_id": id}).
		Mark(ErrPaymentNotFound)
}

func terminalError(inv *Invoice, action string) error {
	return NewErrorf("cannot %s invoice %s in status %s", action, inv.ID, inv.Status).
		WithHintf("Invoice is %s and can no longer be changed", inv.Status).
		WithReportableDetails(map[string]any{"status": inv.Status}).
		Mark(ErrInvoiceTerminal)
}
