/*
reconcile.go - Status derivation from payment activity

PURPOSE:
  Maps (total, paidAmount, dueDate, now) to the invoice's status pair. Both
  the invoice ledger and the payment ledger call this one function instead of
  deriving status themselves.

RULES:
  paid >= total      -> Paid / Paid
  0 < paid < total   -> Partial / Partial
  paid == 0          -> Pending / (unchanged)
  now > dueDate and not Paid -> Overdue / Overdue (overrides the above)

  Reconciliation never invents Draft, Sent or Cancelled. Those are explicit
  actions on the invoice ledger.

SEE ALSO:
  - invoices.go: explicit transitions (send, cancel, mark paid)
  - payments.go: calls applyReconciliation after every payment event
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the result of Reconcile. An empty InvoiceStatus means the rule
// leaves the lifecycle status alone.
type Outcome struct {
	PaymentStatus InvoicePaymentStatus
	InvoiceStatus InvoiceStatus
}

// Reconcile derives the status pair. Pure and deterministic.
func Reconcile(total, paid decimal.Decimal, dueDate, now time.Time) Outcome {
	var out Outcome
	switch {
	case paid.GreaterThanOrEqual(total):
		out = Outcome{PaymentStatus: PaymentStatusPaid, InvoiceStatus: InvoicePaid}
	case paid.IsPositive():
		out = Outcome{PaymentStatus: PaymentStatusPartial, InvoiceStatus: InvoicePartial}
	default:
		out = Outcome{PaymentStatus: PaymentStatusPending}
	}

	if now.After(dueDate) && out.PaymentStatus != PaymentStatusPaid {
		out = Outcome{PaymentStatus: PaymentStatusOverdue, InvoiceStatus: InvoiceOverdue}
	}
	return out
}

// ApplyTo resolves the invoice status given the current one.
// When the rule leaves the status unset, Draft and Sent are kept; a derived
// status (Partial, Paid, Overdue) left behind by a refund falls back to Sent.
func (o Outcome) ApplyTo(current InvoiceStatus) InvoiceStatus {
	if o.InvoiceStatus != "" {
		return o.InvoiceStatus
	}
	switch current {
	case InvoiceDraft, InvoiceSent:
		return current
	default:
		return InvoiceSent
	}
}

// applyReconciliation recomputes paid/balance from the payment history and
// derives the status pair. Cancelled invoices keep their status; only their
// amounts and payment status move.
func applyReconciliation(inv *Invoice, payments []Payment, now time.Time) {
	paid := PaidAmount(payments)
	inv.PaidAmount = paid
	inv.BalanceAmount = inv.Total.Sub(paid)

	if inv.Status == InvoiceCancelled {
		inv.PaymentStatus = PaymentStatusCancelled
		if paid.IsZero() && hasRefunds(payments) {
			inv.PaymentStatus = PaymentStatusRefunded
		}
		return
	}

	out := Reconcile(inv.Total, paid, inv.DueDate, now)
	inv.PaymentStatus = out.PaymentStatus
	inv.Status = out.ApplyTo(inv.Status)

	if inv.Status == InvoicePaid {
		if inv.PaidAt == nil {
			t := now
			inv.PaidAt = &t
		}
	} else {
		inv.PaidAt = nil
	}
}

// PaidAmount sums settled payments plus negative refund entries.
// A fully refunded payment keeps its positive amount but no longer counts.
func PaidAmount(payments []Payment) decimal.Decimal {
	paid := decimal.Zero
	for _, p := range payments {
		switch {
		case p.Status.Settled():
			paid = paid.Add(p.Amount)
		case p.IsRefundEntry():
			paid = paid.Add(p.Amount)
		}
	}
	return paid
}

func hasRefunds(payments []Payment) bool {
	for _, p := range payments {
		if p.Status == PaymentRefunded {
			return true
		}
	}
	return false
}
