package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
	"github.com/warp/ledger-engine/logger"
	"github.com/warp/ledger-engine/money"
)

const (
	company = ledger.CompanyID("co_acme")
	other   = ledger.CompanyID("co_other")
	client  = ledger.ClientID("cl_alice")
	branch  = ledger.BranchID("br_main")
	actor   = "usr_admin"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// testClock is a settable clock shared by the ledger and the test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLedger(t *testing.T, opts ...ledger.Option) (*ledger.Ledger, *testClock) {
	t.Helper()
	return newLedgerWithStore(t, store.NewMemory(), opts...)
}

func newLedgerWithStore(t *testing.T, s ledger.Store, opts ...ledger.Option) (*ledger.Ledger, *testClock) {
	t.Helper()
	clock := &testClock{now: baseTime}
	opts = append([]ledger.Option{ledger.WithClock(clock.Now)}, opts...)
	return ledger.New(s, logger.NewNop(), opts...), clock
}

func d(s string) decimal.Decimal { return money.MustParse(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func item(desc, qty, price string) ledger.ItemInput {
	return ledger.ItemInput{Description: desc, Quantity: d(qty), UnitPrice: d(price)}
}

func createInput(items ...ledger.ItemInput) ledger.CreateInvoiceInput {
	return ledger.CreateInvoiceInput{
		CompanyID: company,
		BranchID:  branch,
		ClientID:  client,
		Items:     items,
		CreatedBy: actor,
	}
}

func createDraft(t *testing.T, l *ledger.Ledger, price string) *ledger.Invoice {
	t.Helper()
	inv, err := l.CreateInvoice(context.Background(), createInput(item("Consultation", "1", price)))
	require.NoError(t, err)
	return inv
}

// createSent creates a single-item invoice whose total equals price and sends it.
func createSent(t *testing.T, l *ledger.Ledger, price string) *ledger.Invoice {
	t.Helper()
	inv := createDraft(t, l, price)
	sent, err := l.SendInvoice(context.Background(), company, inv.ID, actor)
	require.NoError(t, err)
	return sent
}

func pay(t *testing.T, l *ledger.Ledger, invoiceID ledger.InvoiceID, amount string) (*ledger.Payment, *ledger.Invoice) {
	t.Helper()
	p, inv, err := l.RecordPayment(context.Background(), payInput(invoiceID, amount))
	require.NoError(t, err)
	return p, inv
}

func payInput(invoiceID ledger.InvoiceID, amount string) ledger.RecordPaymentInput {
	return ledger.RecordPaymentInput{
		CompanyID: company,
		InvoiceID: invoiceID,
		ClientID:  client,
		Amount:    d(amount),
		Method:    ledger.MethodCard,
		ActorID:   actor,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

// assertBalanced checks the accounting invariants an outside observer can see.
func assertBalanced(t *testing.T, inv *ledger.Invoice) {
	t.Helper()
	assert.True(t, inv.BalanceAmount.Equal(inv.Total.Sub(inv.PaidAmount)),
		"balance %s != total %s - paid %s", inv.BalanceAmount, inv.Total, inv.PaidAmount)
	if inv.Status != ledger.InvoiceCancelled {
		assert.False(t, inv.PaidAmount.IsNegative(), "paid amount negative: %s", inv.PaidAmount)
		assert.False(t, inv.PaidAmount.GreaterThan(inv.Total), "paid %s exceeds total %s", inv.PaidAmount, inv.Total)
	}
	assert.NoError(t, inv.CheckInvariants())
}

func mustGet(t *testing.T, l *ledger.Ledger, id ledger.InvoiceID) *ledger.Invoice {
	t.Helper()
	inv, err := l.GetInvoice(context.Background(), company, id)
	require.NoError(t, err)
	return inv
}
