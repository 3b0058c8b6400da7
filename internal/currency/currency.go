// Package currency validates ISO 4217 codes and converts amounts between currencies
// using a static rate table.
package currency

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"gopkg.in/yaml.v2"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
)

// Converter converts amounts between currencies.
type Converter interface {
	Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// Normalize validates an ISO 4217 code and returns it upper-cased. Empty means USD.
func Normalize(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.DefaultCurrency, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", apperr.InvalidArgument("currency", apperr.RuleFormat, "currency is not a valid ISO 4217 code")
	}
	return unit.String(), nil
}

// RateTable holds how many units of each currency buy one unit of Base.
type RateTable struct {
	Base  string
	Rates map[string]decimal.Decimal
}

var _ Converter = (*RateTable)(nil)

type yamlRateTable struct {
	Base  string             `yaml:"base"`
	Rates map[string]float64 `yaml:"rates"`
}

// DefaultRates is used when no rates file is configured.
func DefaultRates() *RateTable {
	return &RateTable{
		Base: "USD",
		Rates: map[string]decimal.Decimal{
			"USD": decimal.NewFromInt(1),
			"EUR": decimal.RequireFromString("0.92"),
			"GBP": decimal.RequireFromString("0.79"),
			"CAD": decimal.RequireFromString("1.36"),
			"AUD": decimal.RequireFromString("1.52"),
			"JPY": decimal.RequireFromString("151.50"),
			"INR": decimal.RequireFromString("83.40"),
			"CHF": decimal.RequireFromString("0.90"),
			"MXN": decimal.RequireFromString("16.90"),
		},
	}
}

// LoadRatesFromFile reads a rate table from a YAML file.
func LoadRatesFromFile(path string) (*RateTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRates(f)
}

// LoadRates decodes a rate table of the form
//
//	base: USD
//	rates:
//	  EUR: 0.92
//	  GBP: 0.79
//
// Unknown keys are rejected.
func LoadRates(r io.Reader) (*RateTable, error) {
	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)
	var t yamlRateTable
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode rates: %w", err)
	}
	return fromYAML(t)
}

func fromYAML(t yamlRateTable) (*RateTable, error) {
	base, err := Normalize(t.Base)
	if err != nil {
		return nil, fmt.Errorf("invalid base currency %q: %w", t.Base, err)
	}
	table := &RateTable{Base: base, Rates: map[string]decimal.Decimal{base: decimal.NewFromInt(1)}}
	for code, rate := range t.Rates {
		c, err := Normalize(code)
		if err != nil {
			return nil, fmt.Errorf("invalid currency %q: %w", code, err)
		}
		if rate <= 0 {
			return nil, fmt.Errorf("rate for %s must be positive, got %v", c, rate)
		}
		table.Rates[c] = decimal.NewFromFloat(rate)
	}
	return table, nil
}

// Codes returns the currencies the table can convert, sorted.
func (t *RateTable) Codes() []string {
	codes := make([]string, 0, len(t.Rates))
	for c := range t.Rates {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Convert converts amount from one currency to another, rounded to 2 decimals.
func (t *RateTable) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	f, err := Normalize(from)
	if err != nil {
		return decimal.Zero, err
	}
	c, err := Normalize(to)
	if err != nil {
		return decimal.Zero, err
	}
	if f == c {
		return amount.Round(2), nil
	}
	fromRate, ok := t.Rates[f]
	if !ok {
		return decimal.Zero, apperr.NotFound("No exchange rate for %s", f)
	}
	toRate, ok := t.Rates[c]
	if !ok {
		return decimal.Zero, apperr.NotFound("No exchange rate for %s", c)
	}
	return amount.Div(fromRate).Mul(toRate).Round(2), nil
}
