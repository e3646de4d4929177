/*
payments.go - Payment and refund recording

PURPOSE:
  Records payments and refunds against an invoice and re-derives the
  invoice's paid amount, balance and statuses in the same transaction.

PAID AMOUNT:
  paidAmount = sum(amount of Completed|Paid rows)
             + sum(amount of Refunded rows with a negative amount)

  A fully refunded payment keeps its positive amount ("money once received")
  and drops out of the first sum. A partial refund appends a negative row and
  leaves the original untouched.

PAYMENT STATES:
  Pending -> Completed (confirm) | Failed (fail) | Cancelled (cancel)
  Completed/Paid -> Refunded (full refund)
  Pending, Failed and Cancelled rows may be deleted; settled history may not.
  Once the invoice is Paid or Cancelled only refunds are accepted.

MARK PAID:
  MarkPaid books the outstanding balance as a Paid row referenced
  MARK-PAID, so the formula above holds for every invoice.

CONCURRENCY:
  Each operation locks the owning invoice before validating the amount, so
  two concurrent payments cannot both pass "amount <= balance" against the
  same stale balance.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// settlementReference tags the row MarkPaid books.
const settlementReference = "MARK-PAID"

// RecordPaymentInput describes a payment received against an invoice.
type RecordPaymentInput struct {
	CompanyID      CompanyID       `validate:"required"`
	InvoiceID      InvoiceID       `validate:"required"`
	ClientID       ClientID        `validate:"required"`
	Amount         decimal.Decimal `validate:"-"`
	Method         PaymentMethod   `validate:"required,oneof=cash card bank_transfer cheque online other"`
	Reference      *string         `validate:"omitempty,max=200"`
	TransactionID  *string         `validate:"omitempty,max=200"`
	PaymentGateway *string         `validate:"omitempty,max=100"`
	Notes          *string         `validate:"omitempty,max=2000"`
	PaymentDate    *time.Time      `validate:"-"`
	// Pending records a gateway payment that has not settled yet. It does
	// not count toward the paid amount until ConfirmPayment.
	Pending bool
	ActorID string
}

// RefundInput describes a refund of a settled payment.
type RefundInput struct {
	CompanyID       CompanyID       `validate:"required"`
	PaymentID       PaymentID       `validate:"required"`
	Amount          decimal.Decimal `validate:"-"`
	Reason          string          `validate:"max=2000"`
	RefundReference *string         `validate:"omitempty,max=200"`
	ActorID         string
}

// RecordPayment inserts a payment and reconciles the invoice.
func (l *Ledger) RecordPayment(ctx context.Context, in RecordPaymentInput) (*Payment, *Invoice, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, nil, err
	}
	if err := requirePositive("amount", in.Amount); err != nil {
		return nil, nil, err
	}

	var (
		payment *Payment
		inv     *Invoice
	)
	err := l.inTx(ctx, "record payment", func(tx Tx) error {
		var (
			payments []Payment
			err      error
		)
		inv, payments, err = lockInvoice(ctx, tx, in.CompanyID, in.InvoiceID)
		if err != nil {
			return err
		}
		if in.ClientID != inv.ClientID {
			return NewErrorf("payment client %s does not match invoice client %s", in.ClientID, inv.ClientID).
				WithHint("Payment client does not match the invoice client").
				WithReportableDetails(map[string]any{"client_id": in.ClientID}).
				Mark(ErrClientMismatch)
		}
		if err := acceptsPayments(inv); err != nil {
			return err
		}
		if err := checkBalance(inv, in.Amount); err != nil {
			return err
		}

		now := l.now()
		payment = &Payment{
			ID:             PaymentID(NewID(prefixPayment)),
			CompanyID:      inv.CompanyID,
			InvoiceID:      inv.ID,
			ClientID:       inv.ClientID,
			Amount:         in.Amount,
			Status:         PaymentCompleted,
			Method:         in.Method,
			Reference:      in.Reference,
			TransactionID:  in.TransactionID,
			PaymentGateway: in.PaymentGateway,
			Notes:          in.Notes,
			PaymentDate:    now,
			ProcessedAt:    &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if in.PaymentDate != nil {
			payment.PaymentDate = *in.PaymentDate
		}
		if in.Pending {
			payment.Status = PaymentPending
			payment.ProcessedAt = nil
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		payments = append(payments, *payment)
		applyReconciliation(inv, payments, now)
		if err := saveInvoice(ctx, tx, inv, now); err != nil {
			return err
		}
		inv.Payments = payments
		return l.audit(ctx, tx, inv, &payment.ID, AuditPaymentRecorded, in.ActorID, payment.Amount.String())
	})
	if err != nil {
		return nil, nil, err
	}

	l.log.Infow("payment recorded",
		"company_id", in.CompanyID,
		"invoice_id", in.InvoiceID,
		"payment_id", payment.ID,
		"amount", payment.Amount.String(),
		"status", payment.Status,
		"invoice_status", inv.Status)
	return payment, inv, nil
}

// ConfirmPayment settles a Pending payment, re-validated against the current balance.
func (l *Ledger) ConfirmPayment(ctx context.Context, companyID CompanyID, id PaymentID, actorID string) (*Payment, *Invoice, error) {
	return l.paymentAction(ctx, companyID, id, "confirm payment", func(p *Payment, inv *Invoice, now time.Time) (AuditAction, error) {
		if p.Status != PaymentPending {
			return "", invalidPaymentState(p, "confirm")
		}
		if err := acceptsPayments(inv); err != nil {
			return "", err
		}
		if err := checkBalance(inv, p.Amount); err != nil {
			return "", err
		}
		p.Status = PaymentCompleted
		p.ProcessedAt = &now
		return AuditPaymentConfirmed, nil
	}, actorID)
}

// FailPayment marks a Pending payment as Failed.
func (l *Ledger) FailPayment(ctx context.Context, companyID CompanyID, id PaymentID, reason, actorID string) (*Payment, *Invoice, error) {
	return l.paymentAction(ctx, companyID, id, "fail payment", func(p *Payment, inv *Invoice, now time.Time) (AuditAction, error) {
		if inv.Status.IsTerminal() {
			return "", terminalError(inv, "fail a payment of")
		}
		if p.Status != PaymentPending {
			return "", invalidPaymentState(p, "fail")
		}
		p.Status = PaymentFailed
		p.ProcessedAt = &now
		p.Notes = appendNote(p.Notes, "Failed: "+reason)
		return AuditPaymentFailed, nil
	}, actorID)
}

// CancelPayment cancels a Pending payment.
func (l *Ledger) CancelPayment(ctx context.Context, companyID CompanyID, id PaymentID, reason, actorID string) (*Payment, *Invoice, error) {
	return l.paymentAction(ctx, companyID, id, "cancel payment", func(p *Payment, inv *Invoice, _ time.Time) (AuditAction, error) {
		if inv.Status.IsTerminal() {
			return "", terminalError(inv, "cancel a payment of")
		}
		if p.Status != PaymentPending {
			return "", invalidPaymentState(p, "cancel")
		}
		p.Status = PaymentCancelled
		p.Notes = appendNote(p.Notes, "Cancelled: "+reason)
		return AuditPaymentCancelled, nil
	}, actorID)
}

// ProcessRefund refunds all or part of a settled payment.
//
// A refund of the whole amount flips the original row to Refunded. Anything
// less appends a negative Refunded row referencing the original. Refundable is
// the payment amount minus earlier partial refunds.
func (l *Ledger) ProcessRefund(ctx context.Context, in RefundInput) (*Payment, *Invoice, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, nil, err
	}
	if err := requirePositive("amount", in.Amount); err != nil {
		return nil, nil, err
	}

	var (
		result *Payment
		inv    *Invoice
	)
	err := l.inTx(ctx, "process refund", func(tx Tx) error {
		var (
			original *Payment
			payments []Payment
			err      error
		)
		original, inv, payments, err = lockPayment(ctx, tx, in.CompanyID, in.PaymentID)
		if err != nil {
			return err
		}

		if original.Status == PaymentRefunded && !original.IsRefundEntry() {
			return NewErrorf("payment %s already refunded", original.ID).
				WithHint("Payment has already been refunded").
				Mark(ErrAlreadyRefunded)
		}
		if !original.Status.Settled() {
			return invalidPaymentState(original, "refund")
		}

		refundable := original.Amount.Sub(refundedAmount(payments, original.ID))
		if !refundable.IsPositive() {
			return NewErrorf("payment %s fully refunded by partial refunds", original.ID).
				WithHint("Payment has already been refunded").
				Mark(ErrAlreadyRefunded)
		}
		if in.Amount.GreaterThan(refundable) {
			return WithError(&RefundExceedsPaymentError{
				PaymentID:  original.ID,
				Requested:  in.Amount,
				Refundable: refundable,
			}).
				WithHintf("Refund cannot exceed %s", refundable.StringFixed(2)).
				WithReportableDetails(map[string]any{
					"amount":     in.Amount.String(),
					"refundable": refundable.String(),
				}).
				Mark(ErrRefundExceedsPaymentAmount)
		}

		now := l.now()
		note := "Refunded: " + in.Reason
		if in.RefundReference != nil {
			note += " (" + *in.RefundReference + ")"
		}

		if in.Amount.Equal(original.Amount) {
			original.Status = PaymentRefunded
			original.Notes = appendNote(original.Notes, note)
			original.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, original); err != nil {
				return err
			}
			payments = replacePayment(payments, *original)
			result = original
		} else {
			ref := "REFUND-" + string(original.ID)
			if original.Reference != nil && *original.Reference != "" {
				ref = "REFUND-" + *original.Reference
			}
			refundOf := original.ID
			result = &Payment{
				ID:            PaymentID(NewID(prefixPayment)),
				CompanyID:     original.CompanyID,
				InvoiceID:     original.InvoiceID,
				ClientID:      original.ClientID,
				Amount:        in.Amount.Neg(),
				Status:        PaymentRefunded,
				Method:        original.Method,
				Reference:     &ref,
				TransactionID: in.RefundReference,
				Notes:         appendNote(nil, note),
				RefundOf:      &refundOf,
				PaymentDate:   now,
				ProcessedAt:   &now,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.InsertPayment(ctx, result); err != nil {
				return err
			}
			payments = append(payments, *result)
		}

		applyReconciliation(inv, payments, now)
		if err := saveInvoice(ctx, tx, inv, now); err != nil {
			return err
		}
		inv.Payments = payments
		return l.audit(ctx, tx, inv, &original.ID, AuditPaymentRefunded, in.ActorID, in.Amount.String())
	})
	if err != nil {
		return nil, nil, err
	}

	l.log.Infow("refund processed",
		"company_id", in.CompanyID,
		"payment_id", in.PaymentID,
		"amount", in.Amount.String(),
		"invoice_id", inv.ID,
		"paid_amount", inv.PaidAmount.String())
	return result, inv, nil
}

// DeletePayment removes a Pending, Failed or Cancelled payment of an invoice
// that is neither Paid nor Cancelled.
func (l *Ledger) DeletePayment(ctx context.Context, companyID CompanyID, id PaymentID, actorID string) (*Invoice, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	var inv *Invoice
	err := l.inTx(ctx, "delete payment", func(tx Tx) error {
		var (
			p        *Payment
			payments []Payment
			err      error
		)
		p, inv, payments, err = lockPayment(ctx, tx, companyID, id)
		if err != nil {
			return err
		}
		if inv.Status.IsTerminal() {
			return terminalError(inv, "delete a payment of")
		}
		switch p.Status {
		case PaymentPending, PaymentFailed, PaymentCancelled:
		default:
			return invalidPaymentState(p, "delete")
		}
		if err := tx.DeletePayment(ctx, companyID, id); err != nil {
			return err
		}

		now := l.now()
		payments = removePayment(payments, id)
		applyReconciliation(inv, payments, now)
		if err := saveInvoice(ctx, tx, inv, now); err != nil {
			return err
		}
		inv.Payments = payments
		return l.audit(ctx, tx, inv, &id, AuditPaymentDeleted, actorID, string(p.Status))
	})
	if err != nil {
		return nil, err
	}
	l.log.Infow("payment deleted", "company_id", companyID, "payment_id", id, "invoice_id", inv.ID)
	return inv, nil
}

// GetPayment returns a single payment.
func (l *Ledger) GetPayment(ctx context.Context, companyID CompanyID, id PaymentID) (*Payment, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	var p *Payment
	err := l.inTx(ctx, "get payment", func(tx Tx) error {
		var err error
		p, err = tx.GetPayment(ctx, companyID, id)
		return err
	})
	return p, err
}

// ListPayments returns the payment history of an invoice, oldest first.
func (l *Ledger) ListPayments(ctx context.Context, companyID CompanyID, invoiceID InvoiceID) ([]Payment, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	var out []Payment
	err := l.inTx(ctx, "list payments", func(tx Tx) error {
		if _, err := tx.GetInvoice(ctx, companyID, invoiceID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListPayments(ctx, companyID, invoiceID)
		return err
	})
	return out, err
}

// =============================================================================
// HELPERS
// =============================================================================

type paymentFunc func(p *Payment, inv *Invoice, now time.Time) (AuditAction, error)

// paymentAction is the shared lock-mutate-reconcile path for status changes
// of an existing payment.
func (l *Ledger) paymentAction(ctx context.Context, companyID CompanyID, id PaymentID, op string, fn paymentFunc, actorID string) (*Payment, *Invoice, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, nil, err
	}
	var (
		p   *Payment
		inv *Invoice
	)
	err := l.inTx(ctx, op, func(tx Tx) error {
		var (
			payments []Payment
			err      error
		)
		p, inv, payments, err = lockPayment(ctx, tx, companyID, id)
		if err != nil {
			return err
		}
		now := l.now()
		action, err := fn(p, inv, now)
		if err != nil {
			return err
		}
		p.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		payments = replacePayment(payments, *p)
		applyReconciliation(inv, payments, now)
		if err := saveInvoice(ctx, tx, inv, now); err != nil {
			return err
		}
		inv.Payments = payments
		return l.audit(ctx, tx, inv, &p.ID, action, actorID, string(p.Status))
	})
	if err != nil {
		return nil, nil, err
	}
	l.log.Infow(op, "company_id", companyID, "payment_id", id, "status", p.Status, "invoice_status", inv.Status)
	return p, inv, nil
}

// lockPayment locks the owning invoice, then re-reads the payment so the
// row cannot change between the read and the write.
func lockPayment(ctx context.Context, tx Tx, companyID CompanyID, id PaymentID) (*Payment, *Invoice, []Payment, error) {
	p, err := tx.GetPayment(ctx, companyID, id)
	if err != nil {
		return nil, nil, nil, err
	}
	inv, payments, err := lockInvoice(ctx, tx, companyID, p.InvoiceID)
	if err != nil {
		return nil, nil, nil, err
	}
	for i := range payments {
		if payments[i].ID == id {
			fresh := payments[i]
			return &fresh, inv, payments, nil
		}
	}
	return nil, nil, nil, PaymentNotFound(id)
}

func acceptsPayments(inv *Invoice) error {
	switch inv.Status {
	case InvoiceDraft:
		return NewErrorf("invoice %s is a draft", inv.ID).
			WithHint("Send the invoice before recording payments").
			Mark(ErrInvalidState)
	case InvoicePaid, InvoiceCancelled:
		return terminalError(inv, "record payment on")
	}
	return nil
}

func checkBalance(inv *Invoice, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(inv.BalanceAmount) {
		return nil
	}
	return WithError(&AmountExceedsBalanceError{
		InvoiceID: inv.ID,
		Amount:    amount,
		Balance:   inv.BalanceAmount,
	}).
		WithHintf("Payment amount exceeds the outstanding balance of %s", inv.BalanceAmount.StringFixed(2)).
		WithReportableDetails(map[string]any{
			"amount":  amount.String(),
			"balance": inv.BalanceAmount.String(),
		}).
		Mark(ErrAmountExceedsBalance)
}

func invalidPaymentState(p *Payment, action string) error {
	return NewErrorf("cannot %s payment %s in status %s", action, p.ID, p.Status).
		WithHintf("Payment is %s and cannot be %s", p.Status, pastTense(action)).
		WithReportableDetails(map[string]any{"status": p.Status}).
		Mark(ErrInvalidPaymentState)
}

func pastTense(action string) string {
	switch action {
	case "cancel":
		return "cancelled"
	case "delete":
		return "deleted"
	default:
		return action + "ed"
	}
}

// refundedAmount sums the partial refunds already taken from a payment.
func refundedAmount(payments []Payment, original PaymentID) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.RefundOf != nil && *p.RefundOf == original && p.IsRefundEntry() {
			total = total.Add(p.Amount.Neg())
		}
	}
	return total
}

func replacePayment(payments []Payment, p Payment) []Payment {
	out := make([]Payment, len(payments))
	copy(out, payments)
	for i := range out {
		if out[i].ID == p.ID {
			out[i] = p
		}
	}
	return out
}

func removePayment(payments []Payment, id PaymentID) []Payment {
	out := make([]Payment, 0, len(payments))
	for _, p := range payments {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
