package ledger_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/warp/ledger-engine/ledger"
)

func TestMark_CodeImpliesKind(t *testing.T) {
	err := ledger.NewError("nope").
		WithHint("Paid invoices cannot be edited").
		Mark(ledger.ErrCannotEditPaidInvoice)

	assert.True(t, errors.Is(err, ledger.ErrCannotEditPaidInvoice))
	assert.True(t, errors.Is(err, ledger.ErrInvalidState))
	assert.False(t, errors.Is(err, ledger.ErrNotFound))
	assert.Equal(t, ledger.KindInvalidState, ledger.KindOf(err))
	assert.Equal(t, "Paid invoices cannot be edited", ledger.Hint(err))
}

func TestMark_MatchesStandardLibraryErrorsIs(t *testing.T) {
	// GIVEN: a coded error wrapped again by a caller
	err := ledger.NewError("nope").
		WithHint("Paid invoices cannot be edited").
		WithReportableDetails(map[string]any{"status": "paid"}).
		Mark(ledger.ErrCannotEditPaidInvoice)
	wrapped := errors.Wrap(err, "update invoice")

	// THEN: the standard library sees the code and its kind
	assert.True(t, stderrors.Is(wrapped, ledger.ErrCannotEditPaidInvoice))
	assert.True(t, stderrors.Is(wrapped, ledger.ErrInvalidState))
	assert.False(t, stderrors.Is(wrapped, ledger.ErrNotFound))
	assert.ErrorIs(t, wrapped, ledger.ErrInvalidState)

	// AND: hints and details still surface through the wrapper
	assert.Equal(t, "Paid invoices cannot be edited", ledger.Hint(wrapped))
	assert.NotEmpty(t, errors.GetAllSafeDetails(wrapped))
	assert.Contains(t, wrapped.Error(), "nope")
}

func TestLedgerErrors_MatchStandardLibraryErrorsIs(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	inv := createSent(t, l, "150")

	_, err := l.GetInvoice(ctx, company, "inv_missing")
	assert.True(t, stderrors.Is(err, ledger.ErrNotFound))
	assert.True(t, stderrors.Is(err, ledger.ErrInvoiceNotFound))

	_, err = l.SendInvoice(ctx, company, inv.ID, actor)
	assert.True(t, stderrors.Is(err, ledger.ErrInvalidState))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ledger.Kind
	}{
		{ledger.InvoiceNotFound("inv_1"), ledger.KindNotFound},
		{ledger.PaymentNotFound("pay_1"), ledger.KindNotFound},
		{ledger.NewError("x").Mark(ledger.ErrConcurrentModification), ledger.KindStorageUnavailable},
		{ledger.NewError("x").Mark(ledger.ErrDuplicateInvoiceNumber), ledger.KindDuplicateInvoiceNumber},
		{errors.New("plain"), ""},
		{nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ledger.KindOf(tt.err))
	}
}

func TestStructuredErrors(t *testing.T) {
	err := ledger.WithError(&ledger.AmountExceedsBalanceError{
		InvoiceID: "inv_1", Amount: d("80"), Balance: d("75"),
	}).Mark(ledger.ErrAmountExceedsBalance)

	var target *ledger.AmountExceedsBalanceError
	assert.True(t, errors.As(err, &target))
	assertDecimal(t, "80", target.Amount)
	assertDecimal(t, "75", target.Balance)
	assert.True(t, errors.Is(err, ledger.ErrAmountExceedsBalance))
	assert.False(t, ledger.IsRetryable(err))

	refund := &ledger.RefundExceedsPaymentError{PaymentID: "pay_1", Requested: d("10"), Refundable: d("5")}
	assert.True(t, errors.Is(refund, ledger.ErrRefundExceedsPaymentAmount))
	assert.Contains(t, refund.Error(), "5.00")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, ledger.IsRetryable(ledger.NewError("db down").Mark(ledger.ErrStorageUnavailable)))
	assert.True(t, ledger.IsRetryable(ledger.NewError("stale").Mark(ledger.ErrConcurrentModification)))
	assert.False(t, ledger.IsRetryable(ledger.NewError("bad").Mark(ledger.ErrValidation)))
	assert.True(t, ledger.IsNotFound(ledger.InvoiceNotFound("inv_x")))
}
