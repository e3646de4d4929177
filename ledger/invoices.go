/*
invoices.go - Invoice lifecycle

PURPOSE:
  Creation, editing, duplication, deletion and the explicit status actions
  (send, cancel, mark paid). Derived statuses come from reconcile.go.

STATE MACHINE:
  Draft -> Sent -> {Partial -> Paid, Overdue -> Partial/Paid}
  Cancelled is reachable from every state but Paid and Cancelled.
  Mark paid is reachable from every state but Paid and Cancelled.
  Paid and Cancelled are terminal: edits fail, nothing is silently ignored.

EDIT RULES:
  - Paid invoices fail with ErrCannotEditPaidInvoice
  - Cancelled invoices fail with ErrInvoiceTerminal
  - Items are replaced wholesale; order follows the patch
  - paidAmount never moves on edit; a new total below it is rejected
  - Non-draft invoices are re-reconciled so status agrees with the new balance

SEE ALSO:
  - payments.go: payment-driven transitions
  - numbering.go: invoice numbers
*/
package ledger

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CreateInvoiceInput is everything needed to create an invoice.
type CreateInvoiceInput struct {
	CompanyID     CompanyID       `validate:"required"`
	BranchID      BranchID        `validate:"required"`
	ClientID      ClientID        `validate:"required"`
	AppointmentID *string         `validate:"omitempty,max=100"`
	Items         []ItemInput     `validate:"required,min=1,dive"`
	DiscountType  DiscountType    `validate:"omitempty,oneof=none percentage fixed"`
	DiscountValue decimal.Decimal `validate:"-"`
	TaxRate       decimal.Decimal `validate:"-"`
	// InvoiceDate defaults to now, DueDate to InvoiceDate + Config.DueDays.
	InvoiceDate time.Time  `validate:"-"`
	DueDate     *time.Time `validate:"-"`
	Notes       *string    `validate:"omitempty,max=2000"`
	Terms       *string    `validate:"omitempty,max=2000"`
	CreatedBy   string     `validate:"required"`
}

// CreateInvoice allocates a number, computes totals and persists a Draft invoice.
func (l *Ledger) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}
	if in.DiscountType == "" {
		in.DiscountType = DiscountNone
	}

	totals, err := ComputeTotals(TotalsInput{
		Items:         in.Items,
		DiscountType:  in.DiscountType,
		DiscountValue: in.DiscountValue,
		TaxRate:       in.TaxRate,
	}, l.cfg.Precision)
	if err != nil {
		return nil, err
	}

	now := l.now()
	invoiceDate := in.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = now
	}
	dueDate := invoiceDate.AddDate(0, 0, l.cfg.DueDays)
	if in.DueDate != nil {
		dueDate = *in.DueDate
	}
	if dueDate.Before(invoiceDate) {
		return nil, NewError("due date before invoice date").
			WithHint("Due date cannot be earlier than the invoice date").
			Mark(ErrValidation)
	}

	inv := &Invoice{
		ID:             InvoiceID(NewID(prefixInvoice)),
		CompanyID:      in.CompanyID,
		BranchID:       in.BranchID,
		ClientID:       in.ClientID,
		AppointmentID:  in.AppointmentID,
		TaxRate:        in.TaxRate,
		DiscountType:   in.DiscountType,
		DiscountValue:  in.DiscountValue,
		PaidAmount:     decimal.Zero,
		Status:         InvoiceDraft,
		PaymentStatus:  PaymentStatusPending,
		InvoiceDate:    invoiceDate,
		DueDate:        dueDate,
		Notes:          in.Notes,
		Terms:          in.Terms,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	applyTotals(inv, totals)
	inv.Items = buildItems(inv.ID, in.Items, totals)

	err = l.withNumberRetry(ctx, "create invoice", func(tx Tx) error {
		number, err := l.cfg.Allocator.Next(ctx, tx, inv.CompanyID)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number
		if err := inv.CheckInvariants(); err != nil {
			return err
		}
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		return l.audit(ctx, tx, inv, nil, AuditInvoiceCreated, in.CreatedBy, number)
	})
	if err != nil {
		return nil, err
	}

	l.log.Infow("invoice created",
		"company_id", inv.CompanyID,
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"total", inv.Total.String())
	return inv, nil
}

// GetInvoice returns a consistent snapshot: header, items and payment history
// read inside one transaction.
func (l *Ledger) GetInvoice(ctx context.Context, companyID CompanyID, id InvoiceID) (*Invoice, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	var inv *Invoice
	err := l.inTx(ctx, "get invoice", func(tx Tx) error {
		var err error
		inv, err = tx.GetInvoice(ctx, companyID, id)
		if err != nil {
			return err
		}
		inv.Payments, err = tx.ListPayments(ctx, companyID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns the company's invoices matching the filter, without items.
func (l *Ledger) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error) {
	if err := requireTenant(filter.CompanyID); err != nil {
		return nil, err
	}
	for _, s := range filter.Statuses {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	var out []*Invoice
	err := l.inTx(ctx, "list invoices", func(tx Tx) error {
		var err error
		out, err = tx.ListInvoices(ctx, filter)
		return err
	})
	return out, err
}

// UpdateInvoice applies a field-by-field patch.
func (l *Ledger) UpdateInvoice(ctx context.Context, companyID CompanyID, id InvoiceID, patch InvoicePatch) (*Invoice, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	var inv *Invoice
	err := l.inTx(ctx, "update invoice", func(tx Tx) error {
		var (
			payments []Payment
			err      error
		)
		inv, payments, err = lockInvoice(ctx, tx, companyID, id)
		if err != nil {
			return err
		}
		switch inv.Status {
		case InvoicePaid:
			return NewErrorf("invoice %s is paid", inv.ID).
				WithHint("Paid invoices cannot be edited").
				Mark(ErrCannotEditPaidInvoice)
		case InvoiceCancelled:
			return terminalError(inv, "edit")
		}

		if err := applyHeaderPatch(inv, patch); err != nil {
			return err
		}

		if patch.touchesTotals() {
			if err := l.applyMonetaryPatch(ctx, tx, inv, patch); err != nil {
				return err
			}
		}

		now := l.now()
		if inv.Status != InvoiceDraft {
			applyReconciliation(inv, payments, now)
		}
		if err := saveInvoice(ctx, tx, inv, now); err != nil {
			return err
		}
		inv.Payments = payments
		return l.audit(ctx, tx, inv, nil, AuditInvoiceUpdated, patch.ActorID, "")
	})
	if err != nil {
		return nil, err
	}

	l.log.Infow("invoice updated",
		"company_id", companyID, "invoice_id", id, "total", inv.Total.String(), "status", inv.Status)
	return inv, nil
}

func applyHeaderPatch(inv *Invoice, p InvoicePatch) error {
	if p.DueDate.State == Clear || p.InvoiceDate.State == Clear || p.BranchID.State == Clear {
		return NewError("required field cleared").
			WithHint("Due date, invoice date and branch cannot be cleared").
			Mark(ErrValidation)
	}
	applyValue(p.DueDate, &inv.DueDate)
	applyValue(p.InvoiceDate, &inv.InvoiceDate)
	applyValue(p.BranchID, &inv.BranchID)
	applyPtr(p.AppointmentID, &inv.AppointmentID)
	applyPtr(p.Notes, &inv.Notes)
	applyPtr(p.Terms, &inv.Terms)

	if inv.DueDate.Before(inv.InvoiceDate) {
		return NewError("due date before invoice date").
			WithHint("Due date cannot be earlier than the invoice date").
			Mark(ErrValidation)
	}
	return nil
}

func (l *Ledger) applyMonetaryPatch(ctx context.Context, tx Tx, inv *Invoice, p InvoicePatch) error {
	if p.Items.State == Clear {
		return NewError("items cleared").
			WithHint("An invoice needs at least one item").
			Mark(ErrValidation)
	}

	items := lo.Map(inv.Items, func(it InvoiceItem, _ int) ItemInput { return itemInput(it) })
	if p.Items.State == Set {
		items = p.Items.Value
		for i := range items {
			if err := ValidateStruct(items[i]); err != nil {
				return err
			}
		}
	}

	discountType, discountValue, taxRate := inv.DiscountType, inv.DiscountValue, inv.TaxRate
	applyValue(p.DiscountType, &discountType)
	applyValue(p.DiscountValue, &discountValue)
	applyValue(p.TaxRate, &taxRate)
	if discountType == "" {
		discountType = DiscountNone
	}

	totals, err := ComputeTotals(TotalsInput{
		Items:         items,
		DiscountType:  discountType,
		DiscountValue: discountValue,
		TaxRate:       taxRate,
	}, l.cfg.Precision)
	if err != nil {
		return err
	}
	if totals.Total.LessThan(inv.PaidAmount) {
		return NewErrorf("new total %s is below paid amount %s", totals.Total, inv.PaidAmount).
			WithHint("Invoice total cannot be lowered below the amount already paid").
			WithReportableDetails(map[string]any{
				"total":       totals.Total.String(),
				"paid_amount": inv.PaidAmount.String(),
			}).
			Mark(ErrValidation)
	}

	inv.DiscountType = discountType
	inv.DiscountValue = discountValue
	inv.TaxRate = taxRate
	applyTotals(inv, totals)

	if p.Items.State == Set {
		inv.Items = buildItems(inv.ID, items, totals)
		if err := tx.ReplaceItems(ctx, inv.ID, inv.Items); err != nil {
			return err
		}
	}
	return nil
}

// DuplicateInvoice copies an invoice's monetary fields and items into a new
// Draft with a fresh number and due date. Payments are never copied.
func (l *Ledger) DuplicateInvoice(ctx context.Context, companyID CompanyID, id InvoiceID, createdBy string) (*Invoice, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	var dup *Invoice
	err := l.withNumberRetry(ctx, "duplicate invoice", func(tx Tx) error {
		src, err := tx.GetInvoice(ctx, companyID, id)
		if err != nil {
			return err
		}

		now := l.now()
		dup = &Invoice{
			ID:             InvoiceID(NewID(prefixInvoice)),
			CompanyID:      src.CompanyID,
			BranchID:       src.BranchID,
			ClientID:       src.ClientID,
			AppointmentID:  src.AppointmentID,
			Subtotal:       src.Subtotal,
			TaxRate:        src.TaxRate,
			TaxAmount:      src.TaxAmount,
			DiscountType:   src.DiscountType,
			DiscountValue:  src.DiscountValue,
			DiscountAmount: src.DiscountAmount,
			Total:          src.Total,
			PaidAmount:     decimal.Zero,
			BalanceAmount:  src.Total,
			Status:         InvoiceDraft,
			PaymentStatus:  PaymentStatusPending,
			InvoiceDate:    now,
			DueDate:        now.AddDate(0, 0, l.cfg.DueDays),
			Notes:          src.Notes,
			Terms:          src.Terms,
			CreatedBy:      createdBy,
			CreatedAt:      now,
			UpdatedAt:      now,
			Version:        1,
		}
		dup.Items = lo.Map(src.Items, func(it InvoiceItem, _ int) InvoiceItem {
			it.ID = NewID(prefixItem)
			it.InvoiceID = dup.ID
			return it
		})

		dup.InvoiceNumber, err = l.cfg.Allocator.Next(ctx, tx, companyID)
		if err != nil {
			return err
		}
		if err := dup.CheckInvariants(); err != nil {
			return err
		}
		if err := tx.InsertInvoice(ctx, dup); err != nil {
			return err
		}
		return l.audit(ctx, tx, dup, nil, AuditInvoiceDuplicated, createdBy, string(src.ID))
	})
	if err != nil {
		return nil, err
	}

	l.log.Infow("invoice duplicated",
		"company_id", companyID, "source_id", id, "invoice_id", dup.ID, "invoice_number", dup.InvoiceNumber)
	return dup, nil
}

// DeleteInvoice removes a Draft invoice. Its number is never reused.
func (l *Ledger) DeleteInvoice(ctx context.Context, companyID CompanyID, id InvoiceID, actorID string) error {
	if err := requireTenant(companyID); err != nil {
		return err
	}
	err := l.inTx(ctx, "delete invoice", func(tx Tx) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceDraft {
			return NewErrorf("invoice %s is %s", inv.ID, inv.Status).
				WithHint("Only draft invoices can be deleted").
				WithReportableDetails(map[string]any{"status": inv.Status}).
				Mark(ErrCannotDeleteNonDraft)
		}
		if err := tx.DeleteInvoice(ctx, companyID, id); err != nil {
			return err
		}
		return l.audit(ctx, tx, inv, nil, AuditInvoiceDeleted, actorID, inv.InvoiceNumber)
	})
	if err != nil {
		return err
	}
	l.log.Infow("invoice deleted", "company_id", companyID, "invoice_id", id)
	return nil
}

// SendInvoice moves a Draft invoice to Sent. An invoice sent after its due
// date is reconciled straight to Overdue.
func (l *Ledger) SendInvoice(ctx context.Context, companyID CompanyID, id InvoiceID, actorID string) (*Invoice, error) {
	return l.transition(ctx, companyID, id, "send invoice", func(tx Tx, inv *Invoice, payments *[]Payment, now time.Time) (AuditAction, error) {
		if inv.Status != InvoiceDraft {
			return "", NewErrorf("cannot send invoice %s in status %s", inv.ID, inv.Status).
				WithHint("Only draft invoices can be sent").
				WithReportableDetails(map[string]any{"status": inv.Status}).
				Mark(ErrInvalidState)
		}
		inv.Status = InvoiceSent
		inv.SentAt = &now
		applyReconciliation(inv, *payments, now)
		return AuditInvoiceSent, nil
	}, actorID)
}

// CancelInvoice cancels any invoice that is neither Paid nor Cancelled.
func (l *Ledger) CancelInvoice(ctx context.Context, companyID CompanyID, id InvoiceID, reason, actorID string) (*Invoice, error) {
	return l.transition(ctx, companyID, id, "cancel invoice", func(tx Tx, inv *Invoice, payments *[]Payment, now time.Time) (AuditAction, error) {
		switch inv.Status {
		case InvoicePaid:
			return "", NewErrorf("invoice %s is paid", inv.ID).
				WithHint("Paid invoices cannot be cancelled, refund the payments instead").
				Mark(ErrCannotCancelPaid)
		case InvoiceCancelled:
			return "", terminalError(inv, "cancel")
		}
		inv.Status = InvoiceCancelled
		inv.CancelledAt = &now
		if reason != "" {
			inv.CancellationReason = &reason
		}
		applyReconciliation(inv, *payments, now)
		return AuditInvoiceCancelled, nil
	}, actorID)
}

// MarkPaid settles the invoice outside the payment flow. The outstanding
// balance is booked as a settlement row, so the paid amount stays the sum of
// the payment history, and pending payments are cancelled since the invoice
// no longer accepts them.
func (l *Ledger) MarkPaid(ctx context.Context, companyID CompanyID, id InvoiceID, actorID string) (*Invoice, error) {
	return l.transition(ctx, companyID, id, "mark paid", func(tx Tx, inv *Invoice, payments *[]Payment, now time.Time) (AuditAction, error) {
		if inv.Status.IsTerminal() {
			return "", terminalError(inv, "mark paid")
		}

		for _, p := range *payments {
			if p.Status != PaymentPending {
				continue
			}
			p.Status = PaymentCancelled
			p.Notes = appendNote(p.Notes, "Cancelled: invoice marked paid")
			p.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, &p); err != nil {
				return "", err
			}
			*payments = replacePayment(*payments, p)
		}

		if outstanding := inv.Total.Sub(PaidAmount(*payments)); outstanding.IsPositive() {
			settlement := settlementPayment(inv, outstanding, now)
			if err := tx.InsertPayment(ctx, settlement); err != nil {
				return "", err
			}
			*payments = append(*payments, *settlement)
		}

		applyReconciliation(inv, *payments, now)
		return AuditInvoiceMarkedPaid, nil
	}, actorID)
}

// settlementPayment books the amount MarkPaid settles.
func settlementPayment(inv *Invoice, amount decimal.Decimal, now time.Time) *Payment {
	ref := settlementReference
	return &Payment{
		ID:          PaymentID(NewID(prefixPayment)),
		CompanyID:   inv.CompanyID,
		InvoiceID:   inv.ID,
		ClientID:    inv.ClientID,
		Amount:      amount,
		Status:      PaymentPaid,
		Method:      MethodOther,
		Reference:   &ref,
		Notes:       appendNote(nil, "Settled by mark paid"),
		PaymentDate: now,
		ProcessedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

type transitionFunc func(tx Tx, inv *Invoice, payments *[]Payment, now time.Time) (AuditAction, error)

// transition is the shared lock-mutate-save-audit path of the explicit actions.
func (l *Ledger) transition(ctx context.Context, companyID CompanyID, id InvoiceID, op string, fn transitionFunc, actorID string) (*Invoice, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	var (
		inv  *Invoice
		from InvoiceStatus
	)
	err := l.inTx(ctx, op, func(tx Tx) error {
		var (
			payments []Payment
			err      error
		)
		inv, payments, err = lockInvoice(ctx, tx, companyID, id)
		if err != nil {
			return err
		}
		from = inv.Status
		now := l.now()
		action, err := fn(tx, inv, &payments, now)
		if err != nil {
			return err
		}
		if err := saveInvoice(ctx, tx, inv, now); err != nil {
			return err
		}
		inv.Payments = payments
		return l.audit(ctx, tx, inv, nil, action, actorID, string(from)+"->"+string(inv.Status))
	})
	if err != nil {
		return nil, err
	}
	l.log.Infow(op, "company_id", companyID, "invoice_id", id, "from", from, "to", inv.Status)
	return inv, nil
}

// RefreshStatus re-runs reconciliation so the overdue override applies
// without a payment event. Draft, Paid and Cancelled invoices are returned
// untouched. changed reports whether the status pair moved.
func (l *Ledger) RefreshStatus(ctx context.Context, companyID CompanyID, id InvoiceID) (inv *Invoice, changed bool, err error) {
	if err := requireTenant(companyID); err != nil {
		return nil, false, err
	}
	err = l.inTx(ctx, "refresh status", func(tx Tx) error {
		var (
			payments []Payment
			err      error
		)
		inv, payments, err = lockInvoice(ctx, tx, companyID, id)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceDraft || inv.Status.IsTerminal() {
			return nil
		}
		beforeStatus, beforePayment := inv.Status, inv.PaymentStatus
		now := l.now()
		applyReconciliation(inv, payments, now)
		if inv.Status == beforeStatus && inv.PaymentStatus == beforePayment {
			return nil
		}
		changed = true
		if err := saveInvoice(ctx, tx, inv, now); err != nil {
			return err
		}
		return l.audit(ctx, tx, inv, nil, AuditStatusRefreshed, "system",
			string(beforeStatus)+"->"+string(inv.Status))
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		l.log.Infow("invoice status refreshed",
			"company_id", companyID, "invoice_id", id, "status", inv.Status, "payment_status", inv.PaymentStatus)
	}
	return inv, changed, nil
}

// OverdueCandidates lists Sent and Partial invoices of the company whose due
// date has passed.
func (l *Ledger) OverdueCandidates(ctx context.Context, companyID CompanyID, now time.Time) ([]*Invoice, error) {
	return l.ListInvoices(ctx, InvoiceFilter{
		CompanyID: companyID,
		Statuses:  []InvoiceStatus{InvoiceSent, InvoicePartial},
		DueBefore: &now,
	})
}

// Companies lists every tenant that owns invoices. Used by background sweeps.
func (l *Ledger) Companies(ctx context.Context) ([]CompanyID, error) {
	var out []CompanyID
	err := l.inTx(ctx, "list companies", func(tx Tx) error {
		var err error
		out, err = tx.ListCompanies(ctx)
		return err
	})
	return out, err
}

// AuditTrail returns the audit entries of an invoice, oldest first.
func (l *Ledger) AuditTrail(ctx context.Context, companyID CompanyID, id InvoiceID) ([]AuditEntry, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	var out []AuditEntry
	err := l.inTx(ctx, "audit trail", func(tx Tx) error {
		var err error
		out, err = tx.ListAudit(ctx, companyID, id)
		return err
	})
	return out, err
}

// =============================================================================
// HELPERS
// =============================================================================

func applyTotals(inv *Invoice, t Totals) {
	inv.Subtotal = t.Subtotal
	inv.DiscountAmount = t.DiscountAmount
	inv.TaxAmount = t.TaxAmount
	inv.Total = t.Total
	inv.BalanceAmount = t.Total.Sub(inv.PaidAmount)
}

func buildItems(invoiceID InvoiceID, in []ItemInput, t Totals) []InvoiceItem {
	return lo.Map(in, func(item ItemInput, i int) InvoiceItem {
		return InvoiceItem{
			ID:          NewID(prefixItem),
			InvoiceID:   invoiceID,
			Order:       i,
			Type:        lo.Ternary(item.Type == "", "service", item.Type),
			ItemRef:     item.ItemRef,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
			TaxRate:     item.TaxRate,
			Total:       t.Lines[i].Total,
		}
	})
}

func itemInput(it InvoiceItem) ItemInput {
	return ItemInput{
		Type:        it.Type,
		ItemRef:     it.ItemRef,
		Description: it.Description,
		Quantity:    it.Quantity,
		UnitPrice:   it.UnitPrice,
		Discount:    it.Discount,
		TaxRate:     it.TaxRate,
	}
}
