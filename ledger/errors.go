/*
errors.go - Error kinds and codes for the ledger engine

PURPOSE:
  Every public ledger operation returns either its aggregate or exactly one
  error. Callers discriminate on the error KIND (what went wrong, how to react)
  and optionally on the CODE (which rule fired).

KINDS (use with errors.Is or KindOf):
  ErrNotFound                    invoice/payment absent or outside the tenant
  ErrInvalidState                operation illegal for the current status
  ErrClientMismatch              payment client differs from invoice client
  ErrAmountExceedsBalance        payment larger than the outstanding balance
  ErrRefundExceedsPaymentAmount  refund larger than what is refundable
  ErrAlreadyRefunded             payment already refunded
  ErrDuplicateInvoiceNumber      allocator retries exhausted
  ErrValidation                  malformed input
  ErrStorageUnavailable          backing store failure, retryable

CODES refine a kind, e.g. ErrCannotEditPaidInvoice is an ErrInvalidState.
Errors built with Mark(code) match both the code and its kind, under the
cockroachdb and the standard library errors.Is alike:

  errors.Is(err, ErrCannotEditPaidInvoice) // true
  errors.Is(err, ErrInvalidState)          // true

STRUCTURED ERRORS:
  AmountExceedsBalanceError and RefundExceedsPaymentError carry the offending
  amounts for the caller to report.

SEE ALSO:
  - api/errors.go: kind -> HTTP status mapping
*/
package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Kind is the caller-facing error category.
type Kind string

const (
	KindNotFound                   Kind = "not_found"
	KindInvalidState               Kind = "invalid_state"
	KindClientMismatch             Kind = "client_mismatch"
	KindAmountExceedsBalance       Kind = "amount_exceeds_balance"
	KindRefundExceedsPaymentAmount Kind = "refund_exceeds_payment_amount"
	KindAlreadyRefunded            Kind = "already_refunded"
	KindDuplicateInvoiceNumber     Kind = "duplicate_invoice_number"
	KindValidation                 Kind = "validation_error"
	KindStorageUnavailable         Kind = "storage_unavailable"
)

// =============================================================================
// KIND SENTINELS
// =============================================================================

var (
	ErrNotFound                   = errors.New(string(KindNotFound))
	ErrInvalidState               = errors.New(string(KindInvalidState))
	ErrClientMismatch             = errors.New(string(KindClientMismatch))
	ErrAmountExceedsBalance       = errors.New(string(KindAmountExceedsBalance))
	ErrRefundExceedsPaymentAmount = errors.New(string(KindRefundExceedsPaymentAmount))
	ErrAlreadyRefunded            = errors.New(string(KindAlreadyRefunded))
	ErrDuplicateInvoiceNumber     = errors.New(string(KindDuplicateInvoiceNumber))
	ErrValidation                 = errors.New(string(KindValidation))
	ErrStorageUnavailable         = errors.New(string(KindStorageUnavailable))
)

// =============================================================================
// CODE SENTINELS
// =============================================================================

var (
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrCannotEditPaidInvoice  = errors.New("cannot edit a paid invoice")
	ErrCannotDeleteNonDraft   = errors.New("only draft invoices can be deleted")
	ErrCannotCancelPaid       = errors.New("cannot cancel a paid invoice")
	ErrInvoiceTerminal        = errors.New("invoice is in a terminal state")
	ErrInvalidPaymentState    = errors.New("operation not allowed for payment status")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

var kindOf = map[error]error{
	ErrInvoiceNotFound:        ErrNotFound,
	ErrPaymentNotFound:        ErrNotFound,
	ErrCannotEditPaidInvoice:  ErrInvalidState,
	ErrCannotDeleteNonDraft:   ErrInvalidState,
	ErrCannotCancelPaid:       ErrInvalidState,
	ErrInvoiceTerminal:        ErrInvalidState,
	ErrInvalidPaymentState:    ErrInvalidState,
	ErrConcurrentModification: ErrStorageUnavailable,
}

var kinds = map[Kind]error{
	KindNotFound:                   ErrNotFound,
	KindInvalidState:               ErrInvalidState,
	KindClientMismatch:             ErrClientMismatch,
	KindAmountExceedsBalance:       ErrAmountExceedsBalance,
	KindRefundExceedsPaymentAmount: ErrRefundExceedsPaymentAmount,
	KindAlreadyRefunded:            ErrAlreadyRefunded,
	KindDuplicateInvoiceNumber:     ErrDuplicateInvoiceNumber,
	KindValidation:                 ErrValidation,
	KindStorageUnavailable:         ErrStorageUnavailable,
}

// KindOf returns the kind of err, or "" for nil and errors not produced by the ledger.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for k, sentinel := range kinds {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return ""
}

// IsRetryable returns true if the error might succeed on retry.
// Payment operations are never retried by the engine itself.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsNotFound returns true if the error indicates a missing invoice or payment.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// =============================================================================
// BUILDER
// =============================================================================

// ErrorBuilder provides a fluent interface for building errors.
// Mark must be the last call in the chain.
type ErrorBuilder struct {
	err error
}

// NewError starts a new error builder chain
func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{err: errors.New(msg)}
}

// NewErrorf starts a builder chain with a formatted message
func NewErrorf(format string, args ...any) *ErrorBuilder {
	return &ErrorBuilder{err: errors.Newf(format, args...)}
}

// WithError starts a builder chain with an existing error
func WithError(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// WithMessage adds internal context to the error
func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err = errors.WithMessage(b.err, msg)
	return b
}

// WithHint adds a caller-facing message
func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

// WithHintf is WithHint with formatting
func (b *ErrorBuilder) WithHintf(format string, args ...any) *ErrorBuilder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// WithReportableDetails adds structured details
func (b *ErrorBuilder) WithReportableDetails(details map[string]any) *ErrorBuilder {
	marshaled, err := json.Marshal(details)
	if err != nil {
		return b
	}
	b.err = errors.WithSafeDetails(b.err, "__json__:%s", errors.Safe(string(marshaled)))
	return b
}

// Mark marks the error with a code or kind sentinel. A code also marks its kind.
// The result matches under both cockroachdb and standard library errors.Is.
func (b *ErrorBuilder) Mark(reference error) error {
	marks := []error{reference}
	if kind, ok := kindOf[reference]; ok {
		b.err = errors.Mark(b.err, kind)
		marks = append(marks, kind)
	}
	b.err = errors.Mark(b.err, reference)
	b.err = &markedError{cause: b.err, marks: marks}
	return b.err
}

// markedError exposes the sentinels an error was marked with through Is.
// cockroachdb marks are invisible to the standard library errors.Is.
type markedError struct {
	cause error
	marks []error
}

func (e *markedError) Error() string { return e.cause.Error() }
func (e *markedError) Unwrap() error { return e.cause }

func (e *markedError) Is(target error) bool {
	for _, m := range e.marks {
		if m == target {
			return true
		}
	}
	return false
}

// Hint returns the caller-facing hints joined, or "" when none were attached.
func Hint(err error) string {
	return errors.FlattenHints(err)
}

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// AmountExceedsBalanceError reports a payment larger than the invoice balance.
type AmountExceedsBalanceError struct {
	InvoiceID InvoiceID
	Amount    decimal.Decimal
	Balance   decimal.Decimal
}

func (e *AmountExceedsBalanceError) Error() string {
	return fmt.Sprintf("payment amount %s exceeds balance %s on invoice %s",
		e.Amount.StringFixed(2), e.Balance.StringFixed(2), e.InvoiceID)
}

func (e *AmountExceedsBalanceError) Unwrap() error {
	return ErrAmountExceedsBalance
}

// RefundExceedsPaymentError reports a refund larger than what is still refundable.
type RefundExceedsPaymentError struct {
	PaymentID  PaymentID
	Requested  decimal.Decimal
	Refundable decimal.Decimal
}

func (e *RefundExceedsPaymentError) Error() string {
	return fmt.Sprintf("refund %s exceeds refundable amount %s of payment %s",
		e.Requested.StringFixed(2), e.Refundable.StringFixed(2), e.PaymentID)
}

func (e *RefundExceedsPaymentError) Unwrap() error {
	return ErrRefundExceedsPaymentAmount
}

// storageError wraps an infrastructure failure.
func storageError(err error, op string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return WithError(err).
		WithMessage(op).
		WithHint("The ledger store is unavailable, retry later").
		Mark(ErrStorageUnavailable)
}
