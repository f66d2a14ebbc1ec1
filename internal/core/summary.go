package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Period selects the calendar window a report covers.
type Period string

const (
	Daily   Period = "daily"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

// Periods lists the supported periods, shortest first.
func Periods() []Period {
	return []Period{Daily, Monthly, Yearly}
}

// ParsePeriod accepts daily, monthly or yearly in any case.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case Daily, Monthly, Yearly:
		return p, nil
	default:
		return "", &ValidationError{Field: "period", Err: ErrInvalidPeriod}
	}
}

// CategoryShare is the net effect of one category within a period.
type CategoryShare struct {
	Name       Category        `json:"name"`
	Amount     decimal.Decimal `json:"amount"`     // |net signed sum|
	Signed     decimal.Decimal `json:"signed"`     // net signed sum
	Percentage decimal.Decimal `json:"percentage"` // Amount / |Total| * 100, zero when Total is zero
}

// PeriodReport is derived on demand and never persisted.
type PeriodReport struct {
	Period      Period            `json:"period"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Total       decimal.Decimal   `json:"total"`
	Income      decimal.Decimal   `json:"income"`
	Expense     decimal.Decimal   `json:"expense"`
	Count       int               `json:"count"`
	Categories  []CategoryShare   `json:"categories"`
	ChartSeries []decimal.Decimal `json:"chartSeries"`
	ChartLabels []string          `json:"chartLabels"`
}
