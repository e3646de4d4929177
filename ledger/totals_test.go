package ledger_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
)

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name     string
		in       ledger.TotalsInput
		lines    []string
		subtotal string
		discount string
		tax      string
		total    string
	}{
		{
			name: "fixed discount then invoice tax",
			in: ledger.TotalsInput{
				Items:         []ledger.ItemInput{item("Cut", "1", "80"), item("Color", "1", "65")},
				DiscountType:  ledger.DiscountFixed,
				DiscountValue: d("10"),
				TaxRate:       d("10"),
			},
			lines: []string{"80", "65"}, subtotal: "145", discount: "10", tax: "13.50", total: "148.50",
		},
		{
			name: "percentage discount",
			in: ledger.TotalsInput{
				Items:         []ledger.ItemInput{item("Package", "1", "100")},
				DiscountType:  ledger.DiscountPercentage,
				DiscountValue: d("15"),
			},
			lines: []string{"100"}, subtotal: "100", discount: "15", tax: "0", total: "85",
		},
		{
			name:  "no discount no tax",
			in:    ledger.TotalsInput{Items: []ledger.ItemInput{item("Shampoo", "3", "19.99")}},
			lines: []string{"59.97"}, subtotal: "59.97", discount: "0", tax: "0", total: "59.97",
		},
		{
			name: "item discount and item tax",
			in: ledger.TotalsInput{Items: []ledger.ItemInput{{
				Description: "Massage", Quantity: d("2"), UnitPrice: d("50"),
				Discount: dp("10"), TaxRate: dp("10"),
			}}},
			lines: []string{"99"}, subtotal: "99", discount: "0", tax: "0", total: "99",
		},
		{
			name: "invoice tax compounds on item tax",
			in: ledger.TotalsInput{
				Items:   []ledger.ItemInput{{Description: "Kit", Quantity: d("1"), UnitPrice: d("100"), TaxRate: dp("10")}},
				TaxRate: d("10"),
			},
			lines: []string{"110"}, subtotal: "110", discount: "0", tax: "11", total: "121",
		},
		{
			name:  "item total rounds half up",
			in:    ledger.TotalsInput{Items: []ledger.ItemInput{item("Odd", "1", "10.005")}},
			lines: []string{"10.01"}, subtotal: "10.01", discount: "0", tax: "0", total: "10.01",
		},
		{
			name:  "fractional quantity",
			in:    ledger.TotalsInput{Items: []ledger.ItemInput{item("Hourly", "1.5", "9.99")}},
			lines: []string{"14.99"}, subtotal: "14.99", discount: "0", tax: "0", total: "14.99",
		},
		{
			name: "percentage discount rounds to minor unit",
			in: ledger.TotalsInput{
				Items:         []ledger.ItemInput{item("Trim", "1", "33.33")},
				DiscountType:  ledger.DiscountPercentage,
				DiscountValue: d("10"),
			},
			lines: []string{"33.33"}, subtotal: "33.33", discount: "3.33", tax: "0", total: "30.00",
		},
		{
			name: "invoice tax rounds half up",
			in: ledger.TotalsInput{
				Items:   []ledger.ItemInput{item("Wax", "1", "19.99")},
				TaxRate: d("7.5"),
			},
			lines: []string{"19.99"}, subtotal: "19.99", discount: "0", tax: "1.50", total: "21.49",
		},
		{
			name: "none discount ignores value",
			in: ledger.TotalsInput{
				Items:         []ledger.ItemInput{item("Wash", "1", "20")},
				DiscountType:  ledger.DiscountNone,
				DiscountValue: d("5"),
			},
			lines: []string{"20"}, subtotal: "20", discount: "0", tax: "0", total: "20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ledger.ComputeTotals(tt.in, money.DefaultPrecision)
			require.NoError(t, err)

			require.Len(t, got.Lines, len(tt.lines))
			for i, want := range tt.lines {
				assertDecimal(t, want, got.Lines[i].Total)
			}
			assertDecimal(t, tt.subtotal, got.Subtotal)
			assertDecimal(t, tt.discount, got.DiscountAmount)
			assertDecimal(t, tt.tax, got.TaxAmount)
			assertDecimal(t, tt.total, got.Total)

			// total == subtotal - discount + tax, exactly
			assert.True(t, got.Total.Equal(got.Subtotal.Sub(got.DiscountAmount).Add(got.TaxAmount)))
		})
	}
}

func TestComputeTotals_ValidationErrors(t *testing.T) {
	valid := func() ledger.TotalsInput {
		return ledger.TotalsInput{Items: []ledger.ItemInput{item("Cut", "1", "50")}}
	}

	tests := []struct {
		name   string
		mutate func(in *ledger.TotalsInput)
	}{
		{"no items", func(in *ledger.TotalsInput) { in.Items = nil }},
		{"zero quantity", func(in *ledger.TotalsInput) { in.Items[0].Quantity = d("0") }},
		{"negative quantity", func(in *ledger.TotalsInput) { in.Items[0].Quantity = d("-1") }},
		{"negative unit price", func(in *ledger.TotalsInput) { in.Items[0].UnitPrice = d("-0.01") }},
		{"negative item discount", func(in *ledger.TotalsInput) { in.Items[0].Discount = dp("-1") }},
		{"item discount above line", func(in *ledger.TotalsInput) { in.Items[0].Discount = dp("50.01") }},
		{"item tax above 100", func(in *ledger.TotalsInput) { in.Items[0].TaxRate = dp("101") }},
		{"invoice tax negative", func(in *ledger.TotalsInput) { in.TaxRate = d("-1") }},
		{"fixed discount above subtotal", func(in *ledger.TotalsInput) {
			in.DiscountType, in.DiscountValue = ledger.DiscountFixed, d("60")
		}},
		{"negative fixed discount", func(in *ledger.TotalsInput) {
			in.DiscountType, in.DiscountValue = ledger.DiscountFixed, d("-5")
		}},
		{"percentage above 100", func(in *ledger.TotalsInput) {
			in.DiscountType, in.DiscountValue = ledger.DiscountPercentage, d("150")
		}},
		{"unknown discount type", func(in *ledger.TotalsInput) { in.DiscountType = "bogus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)

			_, err := ledger.ComputeTotals(in, money.DefaultPrecision)

			require.Error(t, err)
			assert.ErrorIs(t, err, ledger.ErrValidation)
			assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
		})
	}
}

func TestComputeTotals_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		in := ledger.TotalsInput{TaxRate: d(fmt.Sprintf("%d.%d", rng.Intn(30), rng.Intn(100)))}
		for j := 0; j < 1+rng.Intn(5); j++ {
			in.Items = append(in.Items, ledger.ItemInput{
				Description: "line",
				Quantity:    d(fmt.Sprintf("%d", 1+rng.Intn(9))),
				UnitPrice:   d(fmt.Sprintf("%d.%02d", rng.Intn(500), rng.Intn(100))),
				TaxRate:     dp(fmt.Sprintf("%d", rng.Intn(25))),
			})
		}
		if rng.Intn(2) == 0 {
			in.DiscountType, in.DiscountValue = ledger.DiscountPercentage, d(fmt.Sprintf("%d", rng.Intn(50)))
		}

		first, err := ledger.ComputeTotals(in, money.DefaultPrecision)
		require.NoError(t, err)
		second, err := ledger.ComputeTotals(in, money.DefaultPrecision)
		require.NoError(t, err)

		assert.True(t, first.Subtotal.Equal(second.Subtotal))
		assert.True(t, first.DiscountAmount.Equal(second.DiscountAmount))
		assert.True(t, first.TaxAmount.Equal(second.TaxAmount))
		assert.True(t, first.Total.Equal(second.Total))

		sum := money.Zero
		for _, line := range first.Lines {
			sum = sum.Add(line.Total)
		}
		assert.True(t, sum.Equal(first.Subtotal), "items must sum to subtotal")
	}
}
