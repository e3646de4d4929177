package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/ledger-engine/ledger"
)

func TestReconcile(t *testing.T) {
	due := baseTime
	before := due.Add(-time.Hour)
	after := due.Add(time.Hour)

	tests := []struct {
		name          string
		total, paid   string
		now           time.Time
		paymentStatus ledger.InvoicePaymentStatus
		invoiceStatus ledger.InvoiceStatus
	}{
		{"fully paid", "150", "150", before, ledger.PaymentStatusPaid, ledger.InvoicePaid},
		{"paid beats overdue", "150", "150", after, ledger.PaymentStatusPaid, ledger.InvoicePaid},
		{"partial", "150", "75", before, ledger.PaymentStatusPartial, ledger.InvoicePartial},
		{"nothing paid leaves status", "150", "0", before, ledger.PaymentStatusPending, ""},
		{"overdue unpaid", "150", "0", after, ledger.PaymentStatusOverdue, ledger.InvoiceOverdue},
		{"overdue overrides partial", "150", "75", after, ledger.PaymentStatusOverdue, ledger.InvoiceOverdue},
		{"due instant is not overdue", "150", "0", due, ledger.PaymentStatusPending, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ledger.Reconcile(d(tt.total), d(tt.paid), due, tt.now)

			assert.Equal(t, tt.paymentStatus, got.PaymentStatus)
			assert.Equal(t, tt.invoiceStatus, got.InvoiceStatus)

			// same inputs, same answer
			assert.Equal(t, got, ledger.Reconcile(d(tt.total), d(tt.paid), due, tt.now))
		})
	}
}

func TestOutcome_ApplyTo(t *testing.T) {
	unset := ledger.Outcome{PaymentStatus: ledger.PaymentStatusPending}

	assert.Equal(t, ledger.InvoiceDraft, unset.ApplyTo(ledger.InvoiceDraft))
	assert.Equal(t, ledger.InvoiceSent, unset.ApplyTo(ledger.InvoiceSent))
	// a refund that empties a Paid or Partial invoice falls back to Sent
	assert.Equal(t, ledger.InvoiceSent, unset.ApplyTo(ledger.InvoicePaid))
	assert.Equal(t, ledger.InvoiceSent, unset.ApplyTo(ledger.InvoicePartial))

	set := ledger.Outcome{PaymentStatus: ledger.PaymentStatusPartial, InvoiceStatus: ledger.InvoicePartial}
	assert.Equal(t, ledger.InvoicePartial, set.ApplyTo(ledger.InvoiceSent))
}

func TestPaidAmount(t *testing.T) {
	orig := ledger.PaymentID("pay_1")
	payments := []ledger.Payment{
		{ID: "pay_1", Amount: d("100"), Status: ledger.PaymentCompleted},
		{ID: "pay_2", Amount: d("50"), Status: ledger.PaymentPaid},
		{ID: "pay_3", Amount: d("-30"), Status: ledger.PaymentRefunded, RefundOf: &orig},
		{ID: "pay_4", Amount: d("40"), Status: ledger.PaymentRefunded},
		{ID: "pay_5", Amount: d("25"), Status: ledger.PaymentPending},
		{ID: "pay_6", Amount: d("25"), Status: ledger.PaymentFailed},
		{ID: "pay_7", Amount: d("25"), Status: ledger.PaymentCancelled},
	}

	// 100 + 50 - 30; the fully refunded 40 and unsettled rows do not count
	assertDecimal(t, "120", ledger.PaidAmount(payments))
	assertDecimal(t, "0", ledger.PaidAmount(nil))
}
