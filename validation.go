package main

import (
	"github.com/shopspring/decimal"

	"lotledger/internal/validation"
)

// Type aliases for the validation machinery in internal/validation.
type ValidationError = validation.ValidationError
type ValidationErrors = validation.ValidationErrors

// Lowercase wrappers so handlers keep their terse call sites.

func requireField(ve *ValidationErrors, field, value string) {
	validation.RequireField(ve, field, value)
}

func validateEnum(ve *ValidationErrors, field, value string, allowed []string) {
	validation.ValidateEnum(ve, field, value, allowed)
}

func validateDate(ve *ValidationErrors, field, value string) {
	validation.ValidateDate(ve, field, value)
}

func validatePositiveInt(ve *ValidationErrors, field string, value int) {
	validation.ValidatePositiveInt(ve, field, value)
}

func validateMaxLength(ve *ValidationErrors, field, value string, max int) {
	validation.ValidateMaxLength(ve, field, value, max)
}

func validateQuantity(ve *ValidationErrors, field string, value decimal.Decimal) {
	validation.ValidateQuantity(ve, field, value)
}

func validateNonNegativeDecimal(ve *ValidationErrors, field string, value decimal.Decimal) {
	validation.ValidateNonNegativeDecimal(ve, field, value)
}

func validatePercentage(ve *ValidationErrors, field string, value decimal.Decimal) {
	validation.ValidatePercentage(ve, field, value)
}

// Common enum values
var (
	// These MUST match DB CHECK constraints in db.go
	validMaterialTypes = []string{"raw_material", "packaging", "semi_finished", "finished_product"}
	validLotStatuses   = []string{"AVAILABLE", "RESERVED", "QUARANTINE", "EXPIRED", "CONSUMED"}
	validOrderStatuses = []string{"DRAFT", "PLANNED", "IN_PROGRESS", "COMPLETED", "CANCELLED"}
	validBatchStatuses = []string{"PENDING", "IN_PRODUCTION", "QC_PENDING", "QC_PASSED", "QC_FAILED", "RELEASED", "REJECTED"}
	validPriorities    = []string{"low", "normal", "high", "critical"}
)
