package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const ideographicSpace = '　'

// Category derives a product's category from the first whitespace-delimited
// token of its name. The full-width ideographic space counts as a separator.
// A name with no tokens is its own category.
func Category(name string) string {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return r == ideographicSpace || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return name
	}
	return fields[0]
}

// Validate checks the product fields the ledger relies on.
func (p Product) Validate() error {
	if err := checkLength("code", p.Code, 1, 50); err != nil {
		return err
	}
	if err := checkLength("name", p.Name, 1, 200); err != nil {
		return err
	}
	if p.Spec != nil {
		if err := checkLength("spec", *p.Spec, 0, 500); err != nil {
			return err
		}
	}
	if err := checkLength("unit", p.Unit, 1, 20); err != nil {
		return err
	}
	if err := checkNumeric("unit_price", p.UnitPrice, 8, 2); err != nil {
		return err
	}
	if p.UnitWeight != nil {
		if err := checkNumeric("unit_weight", *p.UnitWeight, 7, 3); err != nil {
			return err
		}
	}
	if p.ReorderPoint < 0 {
		return Validation("reorder_point must be >= 0")
	}
	return nil
}

// checkNumeric bounds a non-negative decimal to the given integer digits and
// decimal places, matching the column it is stored in.
func checkNumeric(field string, d decimal.Decimal, digits, places int32) error {
	if d.IsNegative() {
		return Validation("%s must be >= 0", field)
	}
	if d.GreaterThanOrEqual(decimal.New(1, digits)) {
		return Validation("%s must be less than 1e%d", field, digits)
	}
	if !d.Equal(d.Truncate(places)) {
		return Validation("%s allows at most %d decimal places", field, places)
	}
	return nil
}

func checkLength(field, v string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(v)
	if n < minLen || n > maxLen {
		return Validation("%s must be %d..%d characters", field, minLen, maxLen)
	}
	return nil
}
