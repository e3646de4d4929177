package ledger

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// FieldState distinguishes "leave unchanged" from "clear" from "set".
type FieldState uint8

const (
	Unchanged FieldState = iota
	Clear
	Set
)

// Field is an optional patch value. The zero value is Unchanged.
//
// As JSON: an absent key stays Unchanged, null becomes Clear and any other
// value becomes Set.
type Field[T any] struct {
	State FieldState
	Value T
}

// SetTo returns a Field holding v.
func SetTo[T any](v T) Field[T] {
	return Field[T]{State: Set, Value: v}
}

// Cleared returns a Field that clears the target.
func Cleared[T any]() Field[T] {
	return Field[T]{State: Clear}
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.State = Clear
		var zero T
		f.Value = zero
		return nil
	}
	if err := json.Unmarshal(data, &f.Value); err != nil {
		return err
	}
	f.State = Set
	return nil
}

// applyPtr merges the field into an optional target.
func applyPtr[T any](f Field[T], target **T) {
	switch f.State {
	case Clear:
		*target = nil
	case Set:
		v := f.Value
		*target = &v
	}
}

// applyValue merges the field into a required target. Clear resets to zero.
func applyValue[T any](f Field[T], target *T) {
	switch f.State {
	case Clear:
		var zero T
		*target = zero
	case Set:
		*target = f.Value
	}
}

// InvoicePatch is a field-by-field invoice update.
type InvoicePatch struct {
	Items         Field[[]ItemInput]
	DiscountType  Field[DiscountType]
	DiscountValue Field[decimal.Decimal]
	TaxRate       Field[decimal.Decimal]
	DueDate       Field[time.Time]
	InvoiceDate   Field[time.Time]
	BranchID      Field[BranchID]
	AppointmentID Field[string]
	Notes         Field[string]
	Terms         Field[string]
	ActorID       string
}

// touchesTotals reports whether the patch changes any monetary input.
func (p InvoicePatch) touchesTotals() bool {
	return p.Items.State != Unchanged ||
		p.DiscountType.State != Unchanged ||
		p.DiscountValue.State != Unchanged ||
		p.TaxRate.State != Unchanged
}
