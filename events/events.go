/*
Package events publishes ledger state changes to a message bus.

PURPOSE:
  The ledger itself never publishes. The API layer calls Publish after a
  successful commit, so a rolled-back operation never produces an event and a
  publish failure never undoes a committed one (it is logged instead).

TOPICS:
  <prefix><event name>, e.g. "ledger.invoice.sent". Message metadata carries
  company_id, invoice_id and event_name for routing without decoding.

BACKENDS:
  memory: watermill gochannel, in-process subscribers (default, tests)
  kafka:  watermill-kafka publisher
  none:   discards everything

SEE ALSO:
  - api/handlers.go: publishes after each mutation
*/
package events

import (
	"context"
	"time"

	"github.com/warp/ledger-engine/ledger"
)

// Name identifies the kind of state change.
type Name string

const (
	InvoiceCreated   Name = "invoice.created"
	InvoiceUpdated   Name = "invoice.updated"
	InvoiceSent      Name = "invoice.sent"
	InvoiceCancelled Name = "invoice.cancelled"
	InvoicePaid      Name = "invoice.paid"
	InvoiceOverdue   Name = "invoice.overdue"
	InvoiceDeleted   Name = "invoice.deleted"

	PaymentRecorded  Name = "payment.recorded"
	PaymentConfirmed Name = "payment.confirmed"
	PaymentFailed    Name = "payment.failed"
	PaymentRefunded  Name = "payment.refunded"
	PaymentCancelled Name = "payment.cancelled"
	PaymentDeleted   Name = "payment.deleted"
)

// Event is the envelope published for every state change.
type Event struct {
	ID         string           `json:"id"`
	Name       Name             `json:"event_name"`
	CompanyID  ledger.CompanyID `json:"company_id"`
	InvoiceID  ledger.InvoiceID `json:"invoice_id"`
	PaymentID  ledger.PaymentID `json:"payment_id,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
	Data       any              `json:"data,omitempty"`
}

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// ForInvoice builds an event carrying the invoice snapshot.
func ForInvoice(name Name, inv *ledger.Invoice, at time.Time) Event {
	return Event{
		ID:         ledger.NewID("evt"),
		Name:       name,
		CompanyID:  inv.CompanyID,
		InvoiceID:  inv.ID,
		OccurredAt: at,
		Data:       inv,
	}
}

// ForPayment builds an event carrying the payment and the reconciled invoice.
func ForPayment(name Name, p *ledger.Payment, inv *ledger.Invoice, at time.Time) Event {
	return Event{
		ID:         ledger.NewID("evt"),
		Name:       name,
		CompanyID:  p.CompanyID,
		InvoiceID:  p.InvoiceID,
		PaymentID:  p.ID,
		OccurredAt: at,
		Data: struct {
			Payment *ledger.Payment `json:"payment"`
			Invoice *ledger.Invoice `json:"invoice,omitempty"`
		}{p, inv},
	}
}

// StatusEvent picks the event that best describes an invoice after a
// payment-side change moved its status, or "" when nothing notable happened.
func StatusEvent(before ledger.InvoiceStatus, after *ledger.Invoice) Name {
	if before == after.Status {
		return ""
	}
	switch after.Status {
	case ledger.InvoicePaid:
		return InvoicePaid
	case ledger.InvoiceOverdue:
		return InvoiceOverdue
	}
	return ""
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
