// Package format turns reports into display-ready strings.
//
// It holds no business logic beyond rounding to cents and prefixing the
// currency symbol.
package format

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"cashbook/internal/core"
)

// TimestampLayout renders transaction instants in exports.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// View is a PeriodReport rendered for one currency.
type View struct {
	Period      core.Period    `json:"period"`
	Currency    core.Currency  `json:"currency"`
	Start       string         `json:"start"`
	End         string         `json:"end"`
	Total       string         `json:"total"`
	Income      string         `json:"income"`
	Expense     string         `json:"expense"`
	Count       int            `json:"count"`
	Categories  []CategoryView `json:"categories"`
	ChartSeries []float64      `json:"chartSeries"`
	ChartLabels []string       `json:"chartLabels"`
}

// CategoryView is one ranked row of the category breakdown.
type CategoryView struct {
	Rank       int           `json:"rank"`
	Name       core.Category `json:"name"`
	Amount     string        `json:"amount"`
	Percentage string        `json:"percentage"`
	Limit      string        `json:"limit,omitempty"`
	OverLimit  bool          `json:"overLimit"`
}

// FormatAmount rounds to two places and prefixes the symbol. Negative values
// carry the sign before the symbol: -$12.50.
func FormatAmount(d decimal.Decimal, c core.Currency) string {
	r := d.Round(2)
	if r.IsNegative() {
		return "-" + c.Symbol + r.Neg().StringFixed(2)
	}
	return c.Symbol + r.StringFixed(2)
}

// FormatPercentage renders a share as "12.34%".
func FormatPercentage(p decimal.Decimal) string {
	return p.StringFixed(2) + "%"
}

// FormatReport renders r with currency c. Monthly rows compare the net
// expense of each category with its monthly limit.
func FormatReport(r core.PeriodReport, c core.Currency) View {
	v := View{
		Period:      r.Period,
		Currency:    c,
		Start:       r.Start.Format(time.RFC3339),
		End:         r.End.Format(time.RFC3339),
		Total:       FormatAmount(r.Total, c),
		Income:      FormatAmount(r.Income, c),
		Expense:     FormatAmount(r.Expense, c),
		Count:       r.Count,
		Categories:  make([]CategoryView, 0, len(r.Categories)),
		ChartSeries: make([]float64, len(r.ChartSeries)),
		ChartLabels: append([]string(nil), r.ChartLabels...),
	}

	for i, share := range r.Categories {
		row := CategoryView{
			Rank:       i + 1,
			Name:       share.Name,
			Amount:     FormatAmount(share.Amount, c),
			Percentage: FormatPercentage(share.Percentage),
		}
		if r.Period == core.Monthly {
			limit := share.Name.MonthlyLimit()
			row.Limit = FormatAmount(limit, c)
			row.OverLimit = share.Signed.IsNegative() && share.Amount.GreaterThan(limit)
		}
		v.Categories = append(v.Categories, row)
	}

	for i, s := range r.ChartSeries {
		v.ChartSeries[i] = s.Round(2).InexactFloat64()
	}
	return v
}

// FormatID renders a transaction identifier for terminal output.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
