package ledger

import (
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	return v
}

// ValidateStruct runs the struct tag rules and reports failures as
// ErrValidation with one detail per offending field.
func ValidateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		details := make(map[string]any)
		var validateErrs validator.ValidationErrors
		if errors.As(err, &validateErrs) {
			for _, fe := range validateErrs {
				details[fe.Namespace()] = fe.Tag()
			}
		}
		return WithError(err).
			WithHint("Request validation failed").
			WithReportableDetails(details).
			Mark(ErrValidation)
	}
	return nil
}

func requirePositive(field string, d decimal.Decimal) error {
	if d.IsPositive() {
		return nil
	}
	return NewErrorf("%s must be positive, got %s", field, d).
		WithHintf("%s must be greater than zero", field).
		WithReportableDetails(map[string]any{field: d.String()}).
		Mark(ErrValidation)
}

func requireTenant(companyID CompanyID) error {
	if companyID == "" {
		return NewError("missing company id").
			WithHint("Every request must be scoped to a company").
			Mark(ErrValidation)
	}
	return nil
}
