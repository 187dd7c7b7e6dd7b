package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ValidationError represents a structured validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects multiple field errors.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return strings.Join(msgs, "; ")
}

// RequireField checks a required string field is non-empty.
func RequireField(ve *ValidationErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		ve.Add(field, "is required")
	}
}

// ValidateEnum checks a field is one of allowed values.
func ValidateEnum(ve *ValidationErrors, field, value string, allowed []string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	ve.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// ValidateDate checks a field is a valid date (YYYY-MM-DD).
func ValidateDate(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	_, err := time.Parse("2006-01-02", value)
	if err != nil {
		ve.Add(field, "must be a valid date (YYYY-MM-DD)")
	}
}

// ValidatePositiveInt checks a field is > 0.
func ValidatePositiveInt(ve *ValidationErrors, field string, value int) {
	if value <= 0 {
		ve.Add(field, "must be a positive integer")
	}
}

// ValidateMaxLength checks string doesn't exceed max length.
func ValidateMaxLength(ve *ValidationErrors, field, value string, max int) {
	if len(value) > max {
		ve.Add(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// QuantityScale is the maximum number of decimal places a stored quantity
// may carry. Quantities persist as integer millionths, so anything finer
// cannot be represented exactly.
const QuantityScale = 6

// MaxQuantity bounds quantities to keep the micro-unit representation well
// inside int64 range.
const MaxQuantity = 1_000_000_000

// ValidateQuantity checks a quantity is positive, within range, and
// representable at QuantityScale decimal places.
func ValidateQuantity(ve *ValidationErrors, field string, value decimal.Decimal) {
	if value.Sign() <= 0 {
		ve.Add(field, "must be a positive quantity")
		return
	}
	if value.GreaterThan(decimal.NewFromInt(MaxQuantity)) {
		ve.Add(field, fmt.Sprintf("exceeds maximum allowed quantity of %d", MaxQuantity))
		return
	}
	if !value.Shift(QuantityScale).IsInteger() {
		ve.Add(field, fmt.Sprintf("must have at most %d decimal places", QuantityScale))
	}
}

// ValidateNonNegativeDecimal checks a field is >= 0.
func ValidateNonNegativeDecimal(ve *ValidationErrors, field string, value decimal.Decimal) {
	if value.Sign() < 0 {
		ve.Add(field, "must be non-negative")
	}
}

// ValidatePercentage checks a value is a valid percentage (0-100).
func ValidatePercentage(ve *ValidationErrors, field string, value decimal.Decimal) {
	if value.Sign() < 0 || value.GreaterThan(decimal.NewFromInt(100)) {
		ve.Add(field, "must be between 0 and 100")
	}
}
