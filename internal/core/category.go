package core

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Category is one entry of the closed category set. Any name outside the set
// resolves to Other.
type Category string

const (
	Restaurants   Category = "Restaurants"
	Entertainment Category = "Entertainment"
	Salary        Category = "Salary"
	Shopping      Category = "Shopping"
	Transport     Category = "Transport"
	Healthcare    Category = "Healthcare"
	Education     Category = "Education"
	Housing       Category = "Housing"
	Utilities     Category = "Utilities"
	Insurance     Category = "Insurance"
	Savings       Category = "Savings"
	Investment    Category = "Investment"
	Travel        Category = "Travel"
	Groceries     Category = "Groceries"
	Other         Category = "Other"
)

var categories = []Category{
	Restaurants, Entertainment, Salary, Shopping, Transport,
	Healthcare, Education, Housing, Utilities, Insurance,
	Savings, Investment, Travel, Groceries, Other,
}

// Monthly spending limits per category.
var monthlyLimits = map[Category]int64{
	Restaurants:   300,
	Entertainment: 150,
	Salary:        5000,
	Shopping:      200,
	Transport:     100,
	Healthcare:    200,
	Education:     300,
	Housing:       1000,
	Utilities:     200,
	Insurance:     150,
	Savings:       500,
	Investment:    300,
	Travel:        400,
	Groceries:     400,
	Other:         100,
}

var categoryIndex = func() map[string]Category {
	m := make(map[string]Category, len(categories))
	for _, c := range categories {
		m[strings.ToLower(string(c))] = c
	}
	return m
}()

// Categories returns the known categories in display order.
func Categories() []Category {
	return append([]Category(nil), categories...)
}

// ParseCategory resolves a name case-insensitively, falling back to Other.
func ParseCategory(name string) Category {
	c, _ := LookupCategory(name)
	return c
}

// LookupCategory is ParseCategory that also reports whether the name was known.
func LookupCategory(name string) (Category, bool) {
	if c, ok := categoryIndex[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c, true
	}
	return Other, false
}

// Known reports whether c is part of the enumeration.
func (c Category) Known() bool {
	_, ok := categoryIndex[strings.ToLower(string(c))]
	return ok
}

// Normalize maps unknown values to Other.
func (c Category) Normalize() Category {
	return ParseCategory(string(c))
}

// MonthlyLimit returns the monthly budget for the category.
func (c Category) MonthlyLimit() decimal.Decimal {
	return decimal.NewFromInt(monthlyLimits[c.Normalize()])
}

// UnmarshalJSON normalizes stored names so aggregation never sees an unknown
// category.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = ParseCategory(s)
	return nil
}
