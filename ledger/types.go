/*
types.go - Invoice and payment aggregates

PURPOSE:
  The data model shared by the invoice ledger, the payment ledger and the
  stores. All monetary fields are decimals; statuses are string enums so they
  round-trip through JSON and SQL unchanged.

KEY TYPES:
  Invoice:     Header + monetary fields + derived statuses + items
  InvoiceItem: Ordered line item with a computed total
  Payment:     Signed amount; negative rows are partial refunds
  AuditEntry:  Who did what to which invoice, written in the same transaction

INVARIANTS (checked by CheckInvariants after every mutation):
  1. sum(items.total) == subtotal
  2. total == subtotal - discountAmount + taxAmount
  3. balanceAmount == total - paidAmount
  4. 0 <= paidAmount <= total unless the invoice is Cancelled

SEE ALSO:
  - totals.go: computes the monetary fields
  - reconcile.go: derives the status pair
*/
package ledger

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type InvoiceID string
type PaymentID string
type ClientID string
type BranchID string
type ItemID string

const (
	prefixInvoice = "inv"
	prefixItem    = "item"
	prefixPayment = "pay"
	prefixAudit   = "aud"
)

// NewID returns "prefix_ULID". ULIDs sort by creation time.
func NewID(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}

// =============================================================================
// ENUMS
// =============================================================================

// InvoiceStatus is the lifecycle status of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePartial   InvoiceStatus = "partial"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) Validate() error {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoicePartial, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return nil
	}
	return NewErrorf("invalid invoice status %q", s).Mark(ErrValidation)
}

// IsTerminal reports whether no further mutation is allowed.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoicePaid || s == InvoiceCancelled
}

// InvoicePaymentStatus summarizes how much of an invoice has been paid.
type InvoicePaymentStatus string

const (
	PaymentStatusPending   InvoicePaymentStatus = "pending"
	PaymentStatusPartial   InvoicePaymentStatus = "partial"
	PaymentStatusPaid      InvoicePaymentStatus = "paid"
	PaymentStatusOverdue   InvoicePaymentStatus = "overdue"
	PaymentStatusCancelled InvoicePaymentStatus = "cancelled"
	PaymentStatusRefunded  InvoicePaymentStatus = "refunded"
)

func (s InvoicePaymentStatus) Validate() error {
	switch s {
	case PaymentStatusPending, PaymentStatusPartial, PaymentStatusPaid,
		PaymentStatusOverdue, PaymentStatusCancelled, PaymentStatusRefunded:
		return nil
	}
	return NewErrorf("invalid invoice payment status %q", s).Mark(ErrValidation)
}

// PaymentStatus is the status of a single payment row.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Validate() error {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentPaid, PaymentFailed, PaymentCancelled, PaymentRefunded:
		return nil
	}
	return NewErrorf("invalid payment status %q", s).Mark(ErrValidation)
}

// Settled reports whether the payment represents money received.
func (s PaymentStatus) Settled() bool {
	return s == PaymentCompleted || s == PaymentPaid
}

// DiscountType selects how the invoice-level discount value is interpreted.
type DiscountType string

const (
	DiscountNone       DiscountType = "none"
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

func (d DiscountType) Validate() error {
	switch d {
	case DiscountNone, DiscountPercentage, DiscountFixed:
		return nil
	}
	return NewErrorf("invalid discount type %q", d).
		WithHint("Discount type must be none, percentage or fixed").
		Mark(ErrValidation)
}

// PaymentMethod is informational; the ledger never talks to a gateway.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheque       PaymentMethod = "cheque"
	MethodOnline       PaymentMethod = "online"
	MethodOther        PaymentMethod = "other"
)

// =============================================================================
// AGGREGATES
// =============================================================================

// InvoiceItem is one line of an invoice. Order is stable across edits.
type InvoiceItem struct {
	ID          string           `json:"id" db:"id"`
	InvoiceID   InvoiceID        `json:"invoice_id" db:"invoice_id"`
	Order       int              `json:"order" db:"position"`
	Type        string           `json:"type" db:"item_type"`
	ItemRef     *ItemID          `json:"item_ref,omitempty" db:"item_ref"`
	Description string           `json:"description" db:"description"`
	Quantity    decimal.Decimal  `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price" db:"unit_price"`
	Discount    *decimal.Decimal `json:"discount,omitempty" db:"discount"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty" db:"tax_rate"`
	Total       decimal.Decimal  `json:"total" db:"total"`
}

// Invoice is the ledger's authoritative record of what a client owes.
type Invoice struct {
	ID            InvoiceID `json:"id" db:"id"`
	CompanyID     CompanyID `json:"company_id" db:"company_id"`
	InvoiceNumber string    `json:"invoice_number" db:"invoice_number"`
	BranchID      BranchID  `json:"branch_id" db:"branch_id"`
	ClientID      ClientID  `json:"client_id" db:"client_id"`
	AppointmentID *string   `json:"appointment_id,omitempty" db:"appointment_id"`

	Subtotal       decimal.Decimal `json:"subtotal" db:"subtotal"`
	TaxRate        decimal.Decimal `json:"tax_rate" db:"tax_rate"`
	TaxAmount      decimal.Decimal `json:"tax_amount" db:"tax_amount"`
	DiscountType   DiscountType    `json:"discount_type" db:"discount_type"`
	DiscountValue  decimal.Decimal `json:"discount_value" db:"discount_value"`
	DiscountAmount decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	Total          decimal.Decimal `json:"total" db:"total"`
	PaidAmount     decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	BalanceAmount  decimal.Decimal `json:"balance_amount" db:"balance_amount"`

	Status        InvoiceStatus        `json:"status" db:"status"`
	PaymentStatus InvoicePaymentStatus `json:"payment_status" db:"payment_status"`

	InvoiceDate time.Time  `json:"invoice_date" db:"invoice_date"`
	DueDate     time.Time  `json:"due_date" db:"due_date"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	Notes              *string `json:"notes,omitempty" db:"notes"`
	Terms              *string `json:"terms,omitempty" db:"terms"`
	CancellationReason *string `json:"cancellation_reason,omitempty" db:"cancellation_reason"`

	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Version   int64     `json:"version" db:"version"`

	Items    []InvoiceItem `json:"items" db:"-"`
	Payments []Payment     `json:"payments,omitempty" db:"-"`
}

// Payment is one row of the payment history. Refund rows carry a negative amount.
type Payment struct {
	ID             PaymentID       `json:"id" db:"id"`
	CompanyID      CompanyID       `json:"company_id" db:"company_id"`
	InvoiceID      InvoiceID       `json:"invoice_id" db:"invoice_id"`
	ClientID       ClientID        `json:"client_id" db:"client_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Status         PaymentStatus   `json:"status" db:"status"`
	Method         PaymentMethod   `json:"payment_method" db:"payment_method"`
	Reference      *string         `json:"reference,omitempty" db:"reference"`
	TransactionID  *string         `json:"transaction_id,omitempty" db:"transaction_id"`
	PaymentGateway *string         `json:"payment_gateway,omitempty" db:"payment_gateway"`
	Notes          *string         `json:"notes,omitempty" db:"notes"`
	RefundOf       *PaymentID      `json:"refund_of,omitempty" db:"refund_of"`
	PaymentDate    time.Time       `json:"payment_date" db:"payment_date"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// IsRefundEntry reports whether the row is a partial-refund correction.
func (p *Payment) IsRefundEntry() bool {
	return p.Status == PaymentRefunded && p.Amount.IsNegative()
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditAction string

const (
	AuditInvoiceCreated    AuditAction = "invoice_created"
	AuditInvoiceUpdated    AuditAction = "invoice_updated"
	AuditInvoiceDuplicated AuditAction = "invoice_duplicated"
	AuditInvoiceDeleted    AuditAction = "invoice_deleted"
	AuditInvoiceSent       AuditAction = "invoice_sent"
	AuditInvoiceCancelled  AuditAction = "invoice_cancelled"
	AuditInvoiceMarkedPaid AuditAction = "invoice_marked_paid"
	AuditStatusRefreshed   AuditAction = "status_refreshed"
	AuditPaymentRecorded   AuditAction = "payment_recorded"
	AuditPaymentConfirmed  AuditAction = "payment_confirmed"
	AuditPaymentFailed     AuditAction = "payment_failed"
	AuditPaymentRefunded   AuditAction = "payment_refunded"
	AuditPaymentCancelled  AuditAction = "payment_cancelled"
	AuditPaymentDeleted    AuditAction = "payment_deleted"
)

// AuditEntry records who did what when. Append-only.
type AuditEntry struct {
	ID        string      `json:"id" db:"id"`
	CompanyID CompanyID   `json:"company_id" db:"company_id"`
	InvoiceID InvoiceID   `json:"invoice_id" db:"invoice_id"`
	PaymentID *PaymentID  `json:"payment_id,omitempty" db:"payment_id"`
	Action    AuditAction `json:"action" db:"action"`
	ActorID   string      `json:"actor_id" db:"actor_id"`
	Detail    string      `json:"detail" db:"detail"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// =============================================================================
// INVARIANTS
// =============================================================================

// CheckInvariants verifies the accounting invariants of an invoice.
// A violation is a bug in the ledger, never a caller error, so it is reported
// as a validation failure that aborts the surrounding transaction.
func (inv *Invoice) CheckInvariants() error {
	itemSum := decimal.Zero
	for _, it := range inv.Items {
		itemSum = itemSum.Add(it.Total)
	}
	if len(inv.Items) > 0 && !itemSum.Equal(inv.Subtotal) {
		return invariantError(inv, "items sum %s != subtotal %s", itemSum, inv.Subtotal)
	}
	if want := inv.Subtotal.Sub(inv.DiscountAmount).Add(inv.TaxAmount); !want.Equal(inv.Total) {
		return invariantError(inv, "total %s != subtotal - discount + tax (%s)", inv.Total, want)
	}
	if want := inv.Total.Sub(inv.PaidAmount); !want.Equal(inv.BalanceAmount) {
		return invariantError(inv, "balance %s != total - paid (%s)", inv.BalanceAmount, want)
	}
	if inv.Status != InvoiceCancelled {
		if inv.PaidAmount.IsNegative() {
			return invariantError(inv, "paid amount %s is negative", inv.PaidAmount)
		}
		if inv.PaidAmount.GreaterThan(inv.Total) {
			return invariantError(inv, "paid amount %s exceeds total %s", inv.PaidAmount, inv.Total)
		}
	}
	return nil
}

func invariantError(inv *Invoice, format string, args ...any) error {
	return NewErrorf("invoice %s: "+format, append([]any{inv.ID}, args...)...).
		WithHint("The requested change would break the invoice balance").
		Mark(ErrValidation)
}
