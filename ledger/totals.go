/*
totals.go - Invoice totals calculator

PURPOSE:
  Pure function turning line items plus invoice-level discount and tax into
  subtotal, discount amount, tax amount and grand total. No side effects; the
  same input always yields the same output.

ALGORITHM (order matters):
  per item:
    lineSubtotal      = unitPrice * quantity
    afterItemDiscount = lineSubtotal - discount
    itemTax           = afterItemDiscount * taxRate / 100
    total             = round(afterItemDiscount + itemTax)
  subtotal       = sum(item totals)
  discountAmount = round(fixed value | subtotal * pct / 100 | 0)
  afterDiscount  = subtotal - discountAmount
  taxAmount      = round(afterDiscount * taxRate / 100)
  total          = afterDiscount + taxAmount

  Item tax and invoice tax compound: the invoice rate applies to a subtotal
  that already includes item tax. Existing invoices were issued this way.

ROUNDING:
  Only the persisted fields are rounded (half-up, minor unit). Subtotal is the
  exact sum of rounded item totals and total is exact over rounded parts, so
  the invariants hold without tolerance.

EXAMPLE:
  items [80, 65], fixed discount 10, tax 10%
  subtotal=145 discount=10 tax=13.50 total=148.50
*/
package ledger

import (
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/money"
)

// ItemInput is a line item before its total is computed.
type ItemInput struct {
	Type        string           `json:"type" validate:"omitempty,max=50"`
	ItemRef     *ItemID          `json:"item_ref,omitempty"`
	Description string           `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	Discount    *decimal.Decimal `json:"discount,omitempty"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
}

// TotalsInput is everything the calculator needs.
type TotalsInput struct {
	Items         []ItemInput
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	TaxRate       decimal.Decimal
}

// LineTotal is the breakdown of one item.
type LineTotal struct {
	LineSubtotal decimal.Decimal
	Discount     decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
}

// Totals is the calculator output. Lines follow the input order.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
	Lines          []LineTotal
}

// ComputeTotals runs the calculator. precision is the number of fractional
// digits of the currency minor unit.
func ComputeTotals(in TotalsInput, precision int32) (Totals, error) {
	if len(in.Items) == 0 {
		return Totals{}, NewError("invoice has no items").
			WithHint("An invoice needs at least one item").
			Mark(ErrValidation)
	}

	out := Totals{Lines: make([]LineTotal, len(in.Items))}
	subtotal := decimal.Zero

	for i, item := range in.Items {
		line, err := computeLine(i, item, precision)
		if err != nil {
			return Totals{}, err
		}
		out.Lines[i] = line
		subtotal = subtotal.Add(line.Total)
	}
	out.Subtotal = subtotal

	discount, err := invoiceDiscount(in.DiscountType, in.DiscountValue, subtotal, precision)
	if err != nil {
		return Totals{}, err
	}
	out.DiscountAmount = discount

	if !money.IsValidRate(in.TaxRate) {
		return Totals{}, NewErrorf("tax rate %s out of range", in.TaxRate).
			WithHint("Tax rate must be between 0 and 100").
			WithReportableDetails(map[string]any{"tax_rate": in.TaxRate.String()}).
			Mark(ErrValidation)
	}

	afterDiscount := subtotal.Sub(discount)
	out.TaxAmount = money.RoundTo(money.Percent(afterDiscount, in.TaxRate), precision)
	out.Total = afterDiscount.Add(out.TaxAmount)
	return out, nil
}

func computeLine(index int, item ItemInput, precision int32) (LineTotal, error) {
	details := map[string]any{"item": index}

	if !item.Quantity.IsPositive() {
		return LineTotal{}, NewErrorf("item %d: quantity must be positive", index).
			WithHint("Item quantity must be greater than zero").
			WithReportableDetails(details).
			Mark(ErrValidation)
	}
	if item.UnitPrice.IsNegative() {
		return LineTotal{}, NewErrorf("item %d: negative unit price", index).
			WithHint("Item unit price cannot be negative").
			WithReportableDetails(details).
			Mark(ErrValidation)
	}

	lineSubtotal := money.Mul(item.UnitPrice, item.Quantity)

	discount := decimal.Zero
	if item.Discount != nil {
		discount = *item.Discount
	}
	if discount.IsNegative() || discount.GreaterThan(lineSubtotal) {
		return LineTotal{}, NewErrorf("item %d: discount %s outside [0, %s]", index, discount, lineSubtotal).
			WithHint("Item discount cannot be negative or exceed the line amount").
			WithReportableDetails(details).
			Mark(ErrValidation)
	}

	rate := decimal.Zero
	if item.TaxRate != nil {
		rate = *item.TaxRate
	}
	if !money.IsValidRate(rate) {
		return LineTotal{}, NewErrorf("item %d: tax rate %s out of range", index, rate).
			WithHint("Tax rate must be between 0 and 100").
			WithReportableDetails(details).
			Mark(ErrValidation)
	}

	afterDiscount := lineSubtotal.Sub(discount)
	tax := money.Percent(afterDiscount, rate)

	return LineTotal{
		LineSubtotal: lineSubtotal,
		Discount:     discount,
		Tax:          tax,
		Total:        money.RoundTo(afterDiscount.Add(tax), precision),
	}, nil
}

func invoiceDiscount(kind DiscountType, value, subtotal decimal.Decimal, precision int32) (decimal.Decimal, error) {
	if kind == "" {
		kind = DiscountNone
	}
	if err := kind.Validate(); err != nil {
		return decimal.Zero, err
	}
	if kind != DiscountNone && value.IsNegative() {
		return decimal.Zero, NewError("negative discount").
			WithHint("Discount cannot be negative").
			Mark(ErrValidation)
	}

	switch kind {
	case DiscountFixed:
		amount := money.RoundTo(value, precision)
		if amount.GreaterThan(subtotal) {
			return decimal.Zero, NewErrorf("fixed discount %s exceeds subtotal %s", amount, subtotal).
				WithHint("Discount cannot exceed the invoice subtotal").
				Mark(ErrValidation)
		}
		return amount, nil
	case DiscountPercentage:
		if !money.IsValidRate(value) {
			return decimal.Zero, NewErrorf("discount percentage %s out of range", value).
				WithHint("Discount percentage must be between 0 and 100").
				Mark(ErrValidation)
		}
		return money.RoundTo(money.Percent(subtotal, value), precision), nil
	default:
		return decimal.Zero, nil
	}
}
