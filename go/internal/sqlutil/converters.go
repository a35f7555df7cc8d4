package sqlutil

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Helper functions for moving values between Go types and Postgres text/nullable columns.
// NUMERIC columns are read back as text so no precision is lost on the way through pgx.

// DecimalToText renders a decimal for a $n::numeric parameter
func DecimalToText(val decimal.Decimal) string {
	return val.String()
}

// DecimalPtrToText converts an optional decimal to an optional text parameter
func DecimalPtrToText(val *decimal.Decimal) *string {
	if val == nil {
		return nil
	}
	s := val.String()
	return &s
}

// TextToDecimal parses a NUMERIC column selected as text
func TextToDecimal(val string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", val, err)
	}
	return d, nil
}

// TextPtrToDecimal parses a nullable NUMERIC column selected as text
func TextPtrToDecimal(val *string) (*decimal.Decimal, error) {
	if val == nil {
		return nil, nil
	}
	d, err := TextToDecimal(*val)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ToUTC normalizes an optional timestamp to UTC
func ToUTC(val *time.Time) *time.Time {
	if val == nil {
		return nil
	}
	t := val.UTC()
	return &t
}
