// Package validate is the identifier and validation kernel shared by every higher layer.
//
// Validators accept loosely typed input (values decoded from JSON or forms), trim strings,
// and return the canonical value or an *apperr.Error describing exactly one violated rule:
//
//	required  value missing (nil)
//	type      value of the wrong type
//	empty     string empty after trimming
//	format    malformed value (bad id, bad date, too many decimals)
//	range     value outside the accepted range
//
// Callers rely on the message text, so it must not change.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
)

// DateLayout is the canonical calendar date format.
const DateLayout = "2006-01-02"

// String checks that v is a string and returns it trimmed. Empty strings are allowed.
func String(field string, v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", required(field)
	case string:
		return strings.TrimSpace(s), nil
	case *string:
		if s == nil {
			return "", required(field)
		}
		return strings.TrimSpace(*s), nil
	default:
		return "", wrongType(field, "string")
	}
}

// NonEmptyString checks that v is a string that is not blank after trimming.
func NonEmptyString(field string, v any) (string, error) {
	s, err := String(field, v)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", apperr.InvalidArgument(field, apperr.RuleEmpty, "%s cannot be an empty string or just spaces", field)
	}
	return s, nil
}

// Length checks that s has between min and max characters. A max of 0 means no upper bound.
func Length(field, s string, min, max int) error {
	n := utf8.RuneCountInString(s)
	switch {
	case max > 0 && min > 0 && (n < min || n > max):
		return apperr.InvalidArgument(field, apperr.RuleRange, "%s must be between %d and %d characters", field, min, max)
	case max > 0 && n > max:
		return apperr.InvalidArgument(field, apperr.RuleRange, "%s must be at most %d characters", field, max)
	case n < min:
		return apperr.InvalidArgument(field, apperr.RuleRange, "%s must be at least %d characters", field, min)
	}
	return nil
}

// ID checks that v is a valid identifier and returns its canonical form
// (lower-case, hyphenated UUID).
func ID(field string, v any) (string, error) {
	s, err := NonEmptyString(field, v)
	if err != nil {
		return "", err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", apperr.InvalidArgument(field, apperr.RuleFormat, "%s is not a valid id", field)
	}
	return id.String(), nil
}

// IDList checks that ids is a non-empty list of valid, distinct identifiers.
func IDList(field string, ids []string) ([]string, error) {
	if ids == nil {
		return nil, required(field)
	}
	if len(ids) == 0 {
		return nil, apperr.InvalidArgument(field, apperr.RuleEmpty, "%s must contain at least one id", field)
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, raw := range ids {
		id, err := ID(field, raw)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, apperr.InvalidArgument(field, apperr.RuleFormat, "%s contains duplicate id %s", field, id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// PositiveMoney checks that v is a number greater than zero with at most two decimal places.
// Accepted inputs: decimal.Decimal, float64, float32, int, int64, json.Number and numeric strings.
func PositiveMoney(field string, v any) (decimal.Decimal, error) {
	d, err := Number(field, v)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, apperr.InvalidArgument(field, apperr.RuleRange, "%s must be greater than 0", field)
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, apperr.InvalidArgument(field, apperr.RuleFormat, "%s must have at most 2 decimal places", field)
	}
	return d.Round(2), nil
}

// Number converts v to a decimal without range checks.
func Number(field string, v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, required(field)
	case decimal.Decimal:
		return x, nil
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero, required(field)
		}
		return *x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, wrongType(field, "number")
		}
		return decimal.NewFromFloat(x), nil
	case float32:
		return Number(field, float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case json.Number:
		return parseNumber(field, string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, apperr.InvalidArgument(field, apperr.RuleEmpty, "%s cannot be an empty string or just spaces", field)
		}
		return parseNumber(field, s)
	default:
		return decimal.Zero, wrongType(field, "number")
	}
}

func parseNumber(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, wrongType(field, "number")
	}
	return d, nil
}

// CalendarDate checks that v is a calendar date and returns it as YYYY-MM-DD.
func CalendarDate(field string, v any) (string, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return "", required(field)
		}
		t = x
	default:
		s, err := NonEmptyString(field, v)
		if err != nil {
			return "", err
		}
		parsed, err := time.Parse(DateLayout, s)
		if err != nil {
			return "", apperr.InvalidArgument(field, apperr.RuleFormat, "%s must be a valid date (YYYY-MM-DD)", field)
		}
		t = parsed
	}
	if t.Year() < 1900 || t.Year() > 9999 {
		return "", apperr.InvalidArgument(field, apperr.RuleRange, "%s must be between 1900-01-01 and 9999-12-31", field)
	}
	return t.Format(DateLayout), nil
}

// OneOf checks that s is one of allowed.
func OneOf(field, s string, allowed ...string) error {
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return apperr.InvalidArgument(field, apperr.RuleFormat, "%s must be one of: %s", field, strings.Join(allowed, ", "))
}

func required(field string) error {
	return apperr.InvalidArgument(field, apperr.RuleRequired, "%s is required", field)
}

func wrongType(field, typ string) error {
	return apperr.InvalidArgument(field, apperr.RuleType, fmt.Sprintf("%%s must be a %s", typ), field)
}
