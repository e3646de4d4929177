package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// CREATE
// =============================================================================

func TestCreateInvoice_ComputesTotals(t *testing.T) {
	// GIVEN: two items, a fixed discount of 10 and 10% invoice tax
	l, _ := newLedger(t)
	in := createInput(item("Cut", "1", "80"), item("Color", "1", "65"))
	in.DiscountType = ledger.DiscountFixed
	in.DiscountValue = d("10")
	in.TaxRate = d("10")

	// WHEN: the invoice is created
	inv, err := l.CreateInvoice(context.Background(), in)

	// THEN: totals follow the calculator and the invoice starts as an unpaid draft
	require.NoError(t, err)
	assertDecimal(t, "145", inv.Subtotal)
	assertDecimal(t, "10", inv.DiscountAmount)
	assertDecimal(t, "13.50", inv.TaxAmount)
	assertDecimal(t, "148.50", inv.Total)
	assertDecimal(t, "0", inv.PaidAmount)
	assertDecimal(t, "148.50", inv.BalanceAmount)
	assert.Equal(t, ledger.InvoiceDraft, inv.Status)
	assert.Equal(t, ledger.PaymentStatusPending, inv.PaymentStatus)
	assert.Equal(t, "INV-000001", inv.InvoiceNumber)
	assert.Equal(t, baseTime.AddDate(0, 0, 30), inv.DueDate)

	require.Len(t, inv.Items, 2)
	assert.Equal(t, 0, inv.Items[0].Order)
	assert.Equal(t, "Color", inv.Items[1].Description)
	assertDecimal(t, "65", inv.Items[1].Total)

	stored := mustGet(t, l, inv.ID)
	assert.Equal(t, inv.InvoiceNumber, stored.InvoiceNumber)
	assertBalanced(t, stored)
}

func TestCreateInvoice_SequentialNumbersPerCompany(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	var numbers []string
	for i := 0; i < 3; i++ {
		numbers = append(numbers, createDraft(t, l, "10").InvoiceNumber)
	}
	assert.Equal(t, []string{"INV-000001", "INV-000002", "INV-000003"}, numbers)

	in := createInput(item("Cut", "1", "10"))
	in.CompanyID = other
	inv, err := l.CreateInvoice(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "INV-000001", inv.InvoiceNumber, "numbering is per company")
}

func TestCreateInvoice_NumberNeverReusedAfterDelete(t *testing.T) {
	// GIVEN: two invoices, the newest deleted while still a draft
	l, _ := newLedger(t)
	createDraft(t, l, "10")
	second := createDraft(t, l, "10")
	require.NoError(t, l.DeleteInvoice(context.Background(), company, second.ID, actor))

	// WHEN: another invoice is created
	third := createDraft(t, l, "10")

	// THEN: the deleted number is skipped
	assert.Equal(t, "INV-000003", third.InvoiceNumber)
}

func TestCreateInvoice_CustomAllocator(t *testing.T) {
	cfg := ledger.DefaultConfig()
	cfg.Allocator = ledger.Allocator{Prefix: "SAL-", Padding: 4, MaxAttempts: 2}
	cfg.DueDays = 14
	l, _ := newLedger(t, ledger.WithConfig(cfg))

	inv := createDraft(t, l, "10")

	assert.Equal(t, "SAL-0001", inv.InvoiceNumber)
	assert.Equal(t, baseTime.AddDate(0, 0, 14), inv.DueDate)
}

func TestCreateInvoice_ValidationErrors(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(in *ledger.CreateInvoiceInput)
	}{
		{"no items", func(in *ledger.CreateInvoiceInput) { in.Items = nil }},
		{"missing client", func(in *ledger.CreateInvoiceInput) { in.ClientID = "" }},
		{"missing company", func(in *ledger.CreateInvoiceInput) { in.CompanyID = "" }},
		{"missing description", func(in *ledger.CreateInvoiceInput) { in.Items[0].Description = "" }},
		{"negative quantity", func(in *ledger.CreateInvoiceInput) { in.Items[0].Quantity = d("-2") }},
		{"due before invoice date", func(in *ledger.CreateInvoiceInput) {
			due := baseTime.Add(-24 * time.Hour)
			in.DueDate = &due
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := createInput(item("Cut", "1", "10"))
			tt.mutate(&in)

			_, err := l.CreateInvoice(ctx, in)

			require.Error(t, err)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}

	list, err := l.ListInvoices(ctx, ledger.InvoiceFilter{CompanyID: company})
	require.NoError(t, err)
	assert.Empty(t, list, "nothing persisted on validation failure")
}

// =============================================================================
// READ
// =============================================================================

func TestGetInvoice_TenantScoped(t *testing.T) {
	l, _ := newLedger(t)
	inv := createDraft(t, l, "10")

	_, err := l.GetInvoice(context.Background(), other, inv.ID)

	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.ErrorIs(t, err, ledger.ErrInvoiceNotFound)
}

func TestGetInvoice_IncludesPaymentHistory(t *testing.T) {
	l, _ := newLedger(t)
	inv := createSent(t, l, "100")
	pay(t, l, inv.ID, "40")
	pay(t, l, inv.ID, "10")

	got := mustGet(t, l, inv.ID)

	require.Len(t, got.Payments, 2)
	assertDecimal(t, "40", got.Payments[0].Amount)
	require.Len(t, got.Items, 1)
	assertBalanced(t, got)
}

func TestListInvoices_Filters(t *testing.T) {
	l, clock := newLedger(t)
	ctx := context.Background()

	createDraft(t, l, "10")
	sent := createSent(t, l, "20")
	in := createInput(item("Cut", "1", "30"))
	in.ClientID = "cl_bob"
	bob, err := l.CreateInvoice(ctx, in)
	require.NoError(t, err)

	all, err := l.ListInvoices(ctx, ledger.InvoiceFilter{CompanyID: company})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, bob.ID, all[0].ID, "newest first")

	drafts, err := l.ListInvoices(ctx, ledger.InvoiceFilter{CompanyID: company, Statuses: []ledger.InvoiceStatus{ledger.InvoiceDraft}})
	require.NoError(t, err)
	assert.Len(t, drafts, 2)

	bobID := ledger.ClientID("cl_bob")
	byClient, err := l.ListInvoices(ctx, ledger.InvoiceFilter{CompanyID: company, ClientID: &bobID})
	require.NoError(t, err)
	require.Len(t, byClient, 1)
	assert.Equal(t, bob.ID, byClient[0].ID)

	clock.Advance(31 * 24 * time.Hour)
	overdue, err := l.OverdueCandidates(ctx, company, clock.Now())
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, sent.ID, overdue[0].ID)

	page, err := l.ListInvoices(ctx, ledger.InvoiceFilter{CompanyID: company, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, sent.ID, page[0].ID)

	_, err = l.ListInvoices(ctx, ledger.InvoiceFilter{})
	assert.ErrorIs(t, err, ledger.ErrValidation, "tenant scope is mandatory")
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdateInvoice_ReplacesItems(t *testing.T) {
	// GIVEN: a draft with one item
	l, _ := newLedger(t)
	inv := createDraft(t, l, "50")

	// WHEN: items are replaced and a 10% discount applied
	updated, err := l.UpdateInvoice(context.Background(), company, inv.ID, ledger.InvoicePatch{
		Items: ledger.SetTo([]ledger.ItemInput{
			item("Wash", "2", "15"),
			item("Style", "1", "40"),
		}),
		DiscountType:  ledger.SetTo(ledger.DiscountPercentage),
		DiscountValue: ledger.SetTo(d("10")),
		ActorID:       actor,
	})

	// THEN: totals are recomputed over the new items in patch order
	require.NoError(t, err)
	assertDecimal(t, "70", updated.Subtotal)
	assertDecimal(t, "7", updated.DiscountAmount)
	assertDecimal(t, "63", updated.Total)
	assertDecimal(t, "63", updated.BalanceAmount)
	assert.Equal(t, inv.Version+1, updated.Version)

	stored := mustGet(t, l, inv.ID)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "Wash", stored.Items[0].Description)
	assert.Equal(t, 1, stored.Items[1].Order)
	assert.Equal(t, inv.InvoiceNumber, stored.InvoiceNumber, "number is immutable")
	assertBalanced(t, stored)
}

func TestUpdateInvoice_TaxChangeKeepsItems(t *testing.T) {
	l, _ := newLedger(t)
	inv := createDraft(t, l, "100")

	updated, err := l.UpdateInvoice(context.Background(), company, inv.ID, ledger.InvoicePatch{
		TaxRate: ledger.SetTo(d("20")),
	})

	require.NoError(t, err)
	assertDecimal(t, "20", updated.TaxAmount)
	assertDecimal(t, "120", updated.Total)
	assert.Equal(t, inv.Items[0].ID, mustGet(t, l, inv.ID).Items[0].ID)
}

func TestUpdateInvoice_NonMonetaryFields(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	in := createInput(item("Cut", "1", "10"))
	terms := "Net 30"
	in.Terms = &terms
	inv, err := l.CreateInvoice(ctx, in)
	require.NoError(t, err)

	// set notes, clear terms, leave everything else
	updated, err := l.UpdateInvoice(ctx, company, inv.ID, ledger.InvoicePatch{
		Notes: ledger.SetTo("Bring receipt"),
		Terms: ledger.Cleared[string](),
	})
	require.NoError(t, err)

	require.NotNil(t, updated.Notes)
	assert.Equal(t, "Bring receipt", *updated.Notes)
	assert.Nil(t, updated.Terms)
	assert.Equal(t, inv.DueDate, updated.DueDate)
	assertDecimal(t, "10", updated.Total)

	_, err = l.UpdateInvoice(ctx, company, inv.ID, ledger.InvoicePatch{DueDate: ledger.Cleared[time.Time]()})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestUpdateInvoice_PaidInvoiceRejected(t *testing.T) {
	// GIVEN: a fully paid invoice
	l, _ := newLedger(t)
	inv := createSent(t, l, "100")
	_, paid := pay(t, l, inv.ID, "100")
	require.Equal(t, ledger.InvoicePaid, paid.Status)

	// WHEN: any edit is attempted
	_, err := l.UpdateInvoice(context.Background(), company, inv.ID, ledger.InvoicePatch{
		Notes: ledger.SetTo("late note"),
	})

	// THEN: it fails and nothing changes
	assert.ErrorIs(t, err, ledger.ErrCannotEditPaidInvoice)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
	stored := mustGet(t, l, inv.ID)
	assert.Nil(t, stored.Notes)
	assert.Equal(t, paid.Version, stored.Version)
}

func TestUpdateInvoice_TotalBelowPaidRejected(t *testing.T) {
	l, _ := newLedger(t)
	inv := createSent(t, l, "100")
	pay(t, l, inv.ID, "60")

	_, err := l.UpdateInvoice(context.Background(), company, inv.ID, ledger.InvoicePatch{
		Items: ledger.SetTo([]ledger.ItemInput{item("Cheaper", "1", "50")}),
	})

	assert.ErrorIs(t, err, ledger.ErrValidation)
	assertDecimal(t, "100", mustGet(t, l, inv.ID).Total)
}

func TestUpdateInvoice_ReconcilesPartialInvoice(t *testing.T) {
	// GIVEN: a partially paid invoice (60 of 100)
	l, _ := newLedger(t)
	ctx := context.Background()
	inv := createSent(t, l, "100")
	pay(t, l, inv.ID, "60")

	// WHEN: the total grows, the balance grows; paid is untouched
	grown, err := l.UpdateInvoice(ctx, company, inv.ID, ledger.InvoicePatch{
		Items: ledger.SetTo([]ledger.ItemInput{item("Bigger", "1", "150")}),
	})
	require.NoError(t, err)
	assertDecimal(t, "60", grown.PaidAmount)
	assertDecimal(t, "90", grown.BalanceAmount)
	assert.Equal(t, ledger.InvoicePartial, grown.Status)

	// WHEN: the total drops to exactly what was paid
	settled, err := l.UpdateInvoice(ctx, company, inv.ID, ledger.InvoicePatch{
		Items: ledger.SetTo([]ledger.ItemInput{item("Exact", "1", "60")}),
	})

	// THEN: status follows the new balance
	require.NoError(t, err)
	assertDecimal(t, "0", settled.BalanceAmount)
	assert.Equal(t, ledger.InvoicePaid, settled.Status)
	assert.Equal(t, ledger.PaymentStatusPaid, settled.PaymentStatus)
	assertBalanced(t, settled)
}

// =============================================================================
// DUPLICATE / DELETE
// =============================================================================

func TestDuplicateInvoice(t *testing.T) {
	// GIVEN: a partially paid invoice
	l, clock := newLedger(t)
	ctx := context.Background()
	in := createInput(item("Cut", "1", "80"), item("Color", "1", "65"))
	in.DiscountType, in.DiscountValue, in.TaxRate = ledger.DiscountFixed, d("10"), d("10")
	src, err := l.CreateInvoice(ctx, in)
	require.NoError(t, err)
	_, err = l.SendInvoice(ctx, company, src.ID, actor)
	require.NoError(t, err)
	pay(t, l, src.ID, "50")
	clock.Advance(5 * 24 * time.Hour)

	// WHEN: it is duplicated
	dup, err := l.DuplicateInvoice(ctx, company, src.ID, "usr_clerk")

	// THEN: monetary fields and items are copied, state is reset
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "INV-000002", dup.InvoiceNumber)
	assertDecimal(t, "148.50", dup.Total)
	assertDecimal(t, "13.50", dup.TaxAmount)
	assertDecimal(t, "0", dup.PaidAmount)
	assertDecimal(t, "148.50", dup.BalanceAmount)
	assert.Equal(t, ledger.InvoiceDraft, dup.Status)
	assert.Equal(t, ledger.PaymentStatusPending, dup.PaymentStatus)
	assert.Equal(t, clock.Now().AddDate(0, 0, 30), dup.DueDate)
	assert.Equal(t, "usr_clerk", dup.CreatedBy)
	assert.Nil(t, dup.SentAt)

	stored := mustGet(t, l, dup.ID)
	require.Len(t, stored.Items, 2)
	assert.NotEqual(t, src.Items[0].ID, stored.Items[0].ID)
	assert.Equal(t, src.Items[1].Description, stored.Items[1].Description)
	assert.Empty(t, stored.Payments, "payments are never copied")
	assertBalanced(t, stored)
}

func TestDeleteInvoice_OnlyDraft(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	t.Run("sent invoice cannot be deleted", func(t *testing.T) {
		inv := createSent(t, l, "10")

		err := l.DeleteInvoice(ctx, company, inv.ID, actor)

		assert.ErrorIs(t, err, ledger.ErrCannotDeleteNonDraft)
		assert.Equal(t, ledger.KindInvalidState, ledger.KindOf(err))
		assert.Equal(t, ledger.InvoiceSent, mustGet(t, l, inv.ID).Status)
	})

	t.Run("draft invoice is removed", func(t *testing.T) {
		inv := createDraft(t, l, "10")

		require.NoError(t, l.DeleteInvoice(ctx, company, inv.ID, actor))

		_, err := l.GetInvoice(ctx, company, inv.ID)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("other tenant cannot delete", func(t *testing.T) {
		inv := createDraft(t, l, "10")

		err := l.DeleteInvoice(ctx, other, inv.ID, actor)

		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

// =============================================================================
// EXPLICIT TRANSITIONS
// =============================================================================

func TestSendInvoice(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	inv := createDraft(t, l, "10")

	sent, err := l.SendInvoice(ctx, company, inv.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, ledger.InvoiceSent, sent.Status)
	assert.Equal(t, ledger.PaymentStatusPending, sent.PaymentStatus)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, baseTime, *sent.SentAt)

	_, err = l.SendInvoice(ctx, company, inv.ID, actor)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestSendInvoice_PastDueGoesOverdue(t *testing.T) {
	l, clock := newLedger(t)
	inv := createDraft(t, l, "10")
	clock.Advance(40 * 24 * time.Hour)

	sent, err := l.SendInvoice(context.Background(), company, inv.ID, actor)

	require.NoError(t, err)
	assert.Equal(t, ledger.InvoiceOverdue, sent.Status)
	assert.Equal(t, ledger.PaymentStatusOverdue, sent.PaymentStatus)
}

func TestCancelInvoice(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	t.Run("sent invoice", func(t *testing.T) {
		inv := createSent(t, l, "10")

		cancelled, err := l.CancelInvoice(ctx, company, inv.ID, "client moved away", actor)

		require.NoError(t, err)
		assert.Equal(t, ledger.InvoiceCancelled, cancelled.Status)
		assert.Equal(t, ledger.PaymentStatusCancelled, cancelled.PaymentStatus)
		require.NotNil(t, cancelled.CancelledAt)
		require.NotNil(t, cancelled.CancellationReason)
		assert.Equal(t, "client moved away", *cancelled.CancellationReason)

		_, err = l.CancelInvoice(ctx, company, inv.ID, "again", actor)
		assert.ErrorIs(t, err, ledger.ErrInvalidState)
	})

	t.Run("draft invoice", func(t *testing.T) {
		inv := createDraft(t, l, "10")
		cancelled, err := l.CancelInvoice(ctx, company, inv.ID, "", actor)
		require.NoError(t, err)
		assert.Equal(t, ledger.InvoiceCancelled, cancelled.Status)
		assert.Nil(t, cancelled.CancellationReason)
	})

	t.Run("paid invoice", func(t *testing.T) {
		inv := createSent(t, l, "10")
		pay(t, l, inv.ID, "10")

		_, err := l.CancelInvoice(ctx, company, inv.ID, "too late", actor)

		assert.ErrorIs(t, err, ledger.ErrCannotCancelPaid)
		assert.ErrorIs(t, err, ledger.ErrInvalidState)
	})
}

func TestMarkPaid(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	inv := createSent(t, l, "100")
	pay(t, l, inv.ID, "30")

	paid, err := l.MarkPaid(ctx, company, inv.ID, actor)

	require.NoError(t, err)
	assert.Equal(t, ledger.InvoicePaid, paid.Status)
	assert.Equal(t, ledger.PaymentStatusPaid, paid.PaymentStatus)
	assertDecimal(t, "100", paid.PaidAmount)
	assertDecimal(t, "0", paid.BalanceAmount)
	require.NotNil(t, paid.PaidAt)
	assertBalanced(t, paid)

	// AND: the settled remainder is booked as its own row
	require.Len(t, paid.Payments, 2)
	settlement := paid.Payments[1]
	assert.Equal(t, ledger.PaymentPaid, settlement.Status)
	assertDecimal(t, "70", settlement.Amount)
	require.NotNil(t, settlement.Reference)
	assert.Equal(t, "MARK-PAID", *settlement.Reference)
	assertDecimal(t, "100", ledger.PaidAmount(paid.Payments))

	_, err = l.MarkPaid(ctx, company, inv.ID, actor)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestMarkPaid_FromDraft(t *testing.T) {
	l, _ := newLedger(t)
	inv := createDraft(t, l, "25")

	paid, err := l.MarkPaid(context.Background(), company, inv.ID, actor)

	require.NoError(t, err)
	assert.Equal(t, ledger.InvoicePaid, paid.Status)
	assertBalanced(t, paid)
}

func TestRefreshStatus_AppliesOverdue(t *testing.T) {
	// GIVEN: a sent invoice, nothing paid, due date passes
	l, clock := newLedger(t)
	ctx := context.Background()
	inv := createSent(t, l, "150")
	clock.Advance(31 * 24 * time.Hour)

	// WHEN: status is refreshed
	refreshed, changed, err := l.RefreshStatus(ctx, company, inv.ID)

	// THEN: the overdue override applies
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ledger.InvoiceOverdue, refreshed.Status)
	assert.Equal(t, ledger.PaymentStatusOverdue, refreshed.PaymentStatus)

	// AND: refreshing again is a no-op
	_, changed, err = l.RefreshStatus(ctx, company, inv.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRefreshStatus_SkipsDraftAndTerminal(t *testing.T) {
	l, clock := newLedger(t)
	ctx := context.Background()
	draft := createDraft(t, l, "10")
	paid := createSent(t, l, "10")
	pay(t, l, paid.ID, "10")
	clock.Advance(60 * 24 * time.Hour)

	got, changed, err := l.RefreshStatus(ctx, company, draft.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, ledger.InvoiceDraft, got.Status)

	got, changed, err = l.RefreshStatus(ctx, company, paid.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, ledger.InvoicePaid, got.Status)
}

// =============================================================================
// TERMINAL STATES
// =============================================================================

func TestTerminalStateImmutability(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	paid := createSent(t, l, "100")
	pay(t, l, paid.ID, "100")
	cancelled := createSent(t, l, "100")
	_, err := l.CancelInvoice(ctx, company, cancelled.ID, "", actor)
	require.NoError(t, err)

	for _, id := range []ledger.InvoiceID{paid.ID, cancelled.ID} {
		before := mustGet(t, l, id)

		mutations := map[string]func() error{
			"update": func() error {
				_, err := l.UpdateInvoice(ctx, company, id, ledger.InvoicePatch{Notes: ledger.SetTo("x")})
				return err
			},
			"send": func() error {
				_, err := l.SendInvoice(ctx, company, id, actor)
				return err
			},
			"cancel": func() error {
				_, err := l.CancelInvoice(ctx, company, id, "", actor)
				return err
			},
			"mark paid": func() error {
				_, err := l.MarkPaid(ctx, company, id, actor)
				return err
			},
			"delete": func() error {
				return l.DeleteInvoice(ctx, company, id, actor)
			},
			"record payment": func() error {
				_, _, err := l.RecordPayment(ctx, payInput(id, "1"))
				return err
			},
		}

		for name, mutate := range mutations {
			err := mutate()
			assert.ErrorIs(t, err, ledger.ErrInvalidState, "%s on %s", name, before.Status)
		}

		after := mustGet(t, l, id)
		assert.Equal(t, before.Version, after.Version, "terminal invoice %s changed", before.Status)
		assert.Equal(t, before.Status, after.Status)
		assert.Len(t, after.Payments, len(before.Payments))
	}
}

func TestAuditTrail(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	inv := createSent(t, l, "100")
	pay(t, l, inv.ID, "100")

	trail, err := l.AuditTrail(ctx, company, inv.ID)

	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, ledger.AuditInvoiceCreated, trail[0].Action)
	assert.Equal(t, ledger.AuditInvoiceSent, trail[1].Action)
	assert.Equal(t, ledger.AuditPaymentRecorded, trail[2].Action)
	assert.Equal(t, actor, trail[2].ActorID)
	require.NotNil(t, trail[2].PaymentID)
}
