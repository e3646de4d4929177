/*
dto.go - Request and response bodies of the HTTP API

PURPOSE:
  Defines the JSON contract. Invoices, payments and audit entries are returned
  as the ledger aggregates themselves (their json tags are the contract);
  everything a client sends is decoded into a *Request type first and
  validated with the same validator the ledger uses.

NAMING CONVENTION:
  - *Request:  request bodies
  - *Response: response wrappers
  - *DTO:      small response values with no ledger counterpart

MONEY:
  Decimals are encoded as JSON strings ("148.5") and accepted as strings or
  numbers. Clients should send strings to avoid float rounding.

PATCH SEMANTICS:
  UpdateInvoiceRequest uses ledger.Field: an absent key leaves the field
  unchanged, null clears it, any other value sets it.

SEE ALSO:
  - handlers.go: decodes these types
  - ledger/types.go: response aggregates
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// INVOICES
// =============================================================================

// CreateInvoiceRequest creates a Draft invoice for the tenant in X-Company-ID.
type CreateInvoiceRequest struct {
	BranchID      string             `json:"branch_id" validate:"required"`
	ClientID      string             `json:"client_id" validate:"required"`
	AppointmentID *string            `json:"appointment_id,omitempty"`
	Items         []ledger.ItemInput `json:"items" validate:"required,min=1,dive"`
	DiscountType  ledger.DiscountType `json:"discount_type" validate:"omitempty,oneof=none percentage fixed"`
	DiscountValue decimal.Decimal    `json:"discount_value"`
	TaxRate       decimal.Decimal    `json:"tax_rate"`
	InvoiceDate   *time.Time         `json:"invoice_date,omitempty"`
	DueDate       *time.Time         `json:"due_date,omitempty"`
	Notes         *string            `json:"notes,omitempty"`
	Terms         *string            `json:"terms,omitempty"`
}

func (r CreateInvoiceRequest) toInput(company ledger.CompanyID, actor string) ledger.CreateInvoiceInput {
	in := ledger.CreateInvoiceInput{
		CompanyID:     company,
		BranchID:      ledger.BranchID(r.BranchID),
		ClientID:      ledger.ClientID(r.ClientID),
		AppointmentID: r.AppointmentID,
		Items:         r.Items,
		DiscountType:  r.DiscountType,
		DiscountValue: r.DiscountValue,
		TaxRate:       r.TaxRate,
		DueDate:       r.DueDate,
		Notes:         r.Notes,
		Terms:         r.Terms,
		CreatedBy:     actor,
	}
	if r.InvoiceDate != nil {
		in.InvoiceDate = *r.InvoiceDate
	}
	return in
}

// UpdateInvoiceRequest edits a Draft, Sent, Partial or Overdue invoice.
type UpdateInvoiceRequest struct {
	Items         ledger.Field[[]ledger.ItemInput] `json:"items"`
	DiscountType  ledger.Field[ledger.DiscountType] `json:"discount_type"`
	DiscountValue ledger.Field[decimal.Decimal]    `json:"discount_value"`
	TaxRate       ledger.Field[decimal.Decimal]    `json:"tax_rate"`
	DueDate       ledger.Field[time.Time]          `json:"due_date"`
	InvoiceDate   ledger.Field[time.Time]          `json:"invoice_date"`
	BranchID      ledger.Field[ledger.BranchID]    `json:"branch_id"`
	AppointmentID ledger.Field[string]             `json:"appointment_id"`
	Notes         ledger.Field[string]             `json:"notes"`
	Terms         ledger.Field[string]             `json:"terms"`
}

func (r UpdateInvoiceRequest) toPatch(actor string) ledger.InvoicePatch {
	return ledger.InvoicePatch{
		Items:         r.Items,
		DiscountType:  r.DiscountType,
		DiscountValue: r.DiscountValue,
		TaxRate:       r.TaxRate,
		DueDate:       r.DueDate,
		InvoiceDate:   r.InvoiceDate,
		BranchID:      r.BranchID,
		AppointmentID: r.AppointmentID,
		Notes:         r.Notes,
		Terms:         r.Terms,
		ActorID:       actor,
	}
}

// ReasonRequest carries the optional reason of a cancel or fail action.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// ListInvoicesResponse is one page of invoices, newest first.
type ListInvoicesResponse struct {
	Invoices []*ledger.Invoice `json:"invoices"`
	Count    int               `json:"count"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// RefreshResponse reports the result of a status refresh.
type RefreshResponse struct {
	Invoice *ledger.Invoice `json:"invoice"`
	Changed bool            `json:"changed"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPaymentRequest records money received against an invoice.
type RecordPaymentRequest struct {
	ClientID       string               `json:"client_id" validate:"required"`
	Amount         decimal.Decimal      `json:"amount"`
	PaymentMethod  ledger.PaymentMethod `json:"payment_method" validate:"required"`
	Reference      *string              `json:"reference,omitempty"`
	TransactionID  *string              `json:"transaction_id,omitempty"`
	PaymentGateway *string              `json:"payment_gateway,omitempty"`
	Notes          *string              `json:"notes,omitempty"`
	PaymentDate    *time.Time           `json:"payment_date,omitempty"`
	Pending        bool                 `json:"pending"`
}

func (r RecordPaymentRequest) toInput(company ledger.CompanyID, invoiceID ledger.InvoiceID, actor string) ledger.RecordPaymentInput {
	return ledger.RecordPaymentInput{
		CompanyID:      company,
		InvoiceID:      invoiceID,
		ClientID:       ledger.ClientID(r.ClientID),
		Amount:         r.Amount,
		Method:         r.PaymentMethod,
		Reference:      r.Reference,
		TransactionID:  r.TransactionID,
		PaymentGateway: r.PaymentGateway,
		Notes:          r.Notes,
		PaymentDate:    r.PaymentDate,
		Pending:        r.Pending,
		ActorID:        actor,
	}
}

// RefundRequest refunds all or part of a settled payment.
type RefundRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason" validate:"max=2000"`
	RefundReference *string         `json:"refund_reference,omitempty"`
}

// PaymentResponse is a payment together with its reconciled invoice.
type PaymentResponse struct {
	Payment *ledger.Payment `json:"payment"`
	Invoice *ledger.Invoice `json:"invoice,omitempty"`
}

// ListPaymentsResponse is the payment history of one invoice.
type ListPaymentsResponse struct {
	Payments []ledger.Payment `json:"payments"`
	Count    int              `json:"count"`
}

// =============================================================================
// SCENARIOS / ADMIN
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest loads a demo scenario into a tenant.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ScenarioResult summarizes what a scenario created.
type ScenarioResult struct {
	ScenarioID string            `json:"scenario_id"`
	CompanyID  ledger.CompanyID  `json:"company_id"`
	Invoices   []*ledger.Invoice `json:"invoices"`
	Steps      []string          `json:"steps"`
}

// SweepResult reports one overdue sweep.
type SweepResult struct {
	Companies int       `json:"companies"`
	Checked   int       `json:"checked"`
	Overdue   int       `json:"overdue"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Kind    string         `json:"kind,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
