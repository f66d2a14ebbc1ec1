// Package report turns a transaction snapshot into period reports.
//
// Everything here is a pure function of (transactions, period, now, options).
// Nothing is cached between calls; callers recompute on every read.
package report

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"cashbook/internal/core"
)

var (
	hundred = decimal.NewFromInt(100)

	// DefaultChartFloor replaces empty chart slots so a chart never renders
	// flat at zero. It is a drawing aid, never money.
	DefaultChartFloor = decimal.RequireFromString("0.01")

	monthLabels = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
)

// Options tune report construction.
type Options struct {
	// Location defines calendar days, months and years. Nil means time.Local.
	Location *time.Location
	// ChartFloor is substituted for chart slots with no expenses. Zero keeps
	// empty slots at zero.
	ChartFloor decimal.Decimal
}

func DefaultOptions() Options {
	return Options{Location: time.Local, ChartFloor: DefaultChartFloor}
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// PeriodStart returns the first instant of the period containing now.
func PeriodStart(p core.Period, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	switch p {
	case core.Monthly:
		return time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, loc)
	case core.Yearly:
		return time.Date(n.Year(), time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	}
}

// Filter keeps transactions dated at or after start. There is no upper bound:
// a transaction stamped ahead of the clock counts in the period it starts,
// the same way it counts in the all-time balance.
func Filter(txs []core.Transaction, start time.Time) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.Date.Before(start) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Build computes the report for one period.
func Build(txs []core.Transaction, p core.Period, now time.Time, opts Options) core.PeriodReport {
	loc := opts.location()
	start := PeriodStart(p, now, loc)
	inPeriod := Filter(txs, start)

	r := core.PeriodReport{
		Period:     p,
		Start:      start,
		End:        now.In(loc),
		Total:      decimal.Zero,
		Income:     decimal.Zero,
		Expense:    decimal.Zero,
		Count:      len(inPeriod),
		Categories: []core.CategoryShare{},
	}

	for _, t := range inPeriod {
		r.Total = r.Total.Add(t.Signed())
		if t.Type == core.Income {
			r.Income = r.Income.Add(t.Amount)
		} else {
			r.Expense = r.Expense.Add(t.Amount)
		}
	}

	r.Categories = Categories(inPeriod, r.Total)

	switch p {
	case core.Daily:
		r.ChartSeries, r.ChartLabels = hourlySeries(inPeriod, start, loc)
	case core.Monthly:
		r.ChartSeries, r.ChartLabels = dailySeries(txs, now, loc)
	case core.Yearly:
		r.ChartSeries, r.ChartLabels = monthlySeries(txs, now, loc)
	}
	applyFloor(r.ChartSeries, opts.ChartFloor)
	return r
}

// BuildAll computes the daily, monthly and yearly reports from one snapshot.
func BuildAll(txs []core.Transaction, now time.Time, opts Options) map[core.Period]core.PeriodReport {
	out := make(map[core.Period]core.PeriodReport, 3)
	for _, p := range core.Periods() {
		out[p] = Build(txs, p, now, opts)
	}
	return out
}

// Categories groups txs by category using the net signed sum of each group.
// Amount is the absolute net, percentage is Amount/|total|*100 (zero when the
// total is zero). Offsetting income and expenses can push a share past 100.
// Ties keep first-encounter order.
func Categories(txs []core.Transaction, total decimal.Decimal) []core.CategoryShare {
	var order []core.Category
	net := map[core.Category]decimal.Decimal{}
	for _, t := range txs {
		c := t.Category.Normalize()
		sum, seen := net[c]
		if !seen {
			order = append(order, c)
			sum = decimal.Zero
		}
		net[c] = sum.Add(t.Signed())
	}

	absTotal := total.Abs()
	out := make([]core.CategoryShare, 0, len(order))
	for _, c := range order {
		amount := net[c].Abs()
		pct := decimal.Zero
		if !absTotal.IsZero() {
			pct = amount.Div(absTotal).Mul(hundred)
		}
		out = append(out, core.CategoryShare{
			Name:       c,
			Amount:     amount,
			Signed:     net[c],
			Percentage: pct,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Amount.GreaterThan(out[j].Amount)
	})
	return out
}

// hourlySeries sums expenses per hour of the day starting at dayStart.
func hourlySeries(txs []core.Transaction, dayStart time.Time, loc *time.Location) ([]decimal.Decimal, []string) {
	series := zeros(24)
	labels := make([]string, 24)
	for h := range labels {
		labels[h] = twoDigits(h)
	}
	for _, t := range txs {
		if t.Type != core.Expense {
			continue
		}
		at := t.Date.In(loc)
		if at.YearDay() != dayStart.YearDay() || at.Year() != dayStart.Year() {
			continue
		}
		h := at.Hour()
		series[h] = series[h].Add(t.Amount)
	}
	return series, labels
}

// dailySeries sums expenses per calendar day of now's month.
func dailySeries(txs []core.Transaction, now time.Time, loc *time.Location) ([]decimal.Decimal, []string) {
	n := now.In(loc)
	days := DaysIn(n.Year(), n.Month())
	series := zeros(days)
	labels := make([]string, days)
	for i := range labels {
		labels[i] = strconv.Itoa(i + 1)
	}

	start := time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, loc)
	for _, t := range Filter(txs, start) {
		if t.Type != core.Expense {
			continue
		}
		at := t.Date.In(loc)
		if at.Month() != n.Month() || at.Year() != n.Year() {
			continue
		}
		d := at.Day()
		series[d-1] = series[d-1].Add(t.Amount)
	}
	return series, labels
}

// monthlySeries sums expenses for the trailing twelve calendar months, oldest
// first, ending with now's month.
func monthlySeries(txs []core.Transaction, now time.Time, loc *time.Location) ([]decimal.Decimal, []string) {
	n := now.In(loc)
	series := zeros(12)
	labels := make([]string, 12)

	first := time.Date(n.Year(), n.Month()-11, 1, 0, 0, 0, 0, loc)
	for i := 0; i < 12; i++ {
		labels[i] = monthLabels[first.AddDate(0, i, 0).Month()-1]
	}

	for _, t := range Filter(txs, first) {
		if t.Type != core.Expense {
			continue
		}
		d := t.Date.In(loc)
		idx := (d.Year()-first.Year())*12 + int(d.Month()) - int(first.Month())
		if idx < 0 || idx >= 12 {
			continue
		}
		series[idx] = series[idx].Add(t.Amount)
	}
	return series, labels
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func applyFloor(series []decimal.Decimal, floor decimal.Decimal) {
	if floor.IsZero() {
		return
	}
	for i, v := range series {
		if v.IsZero() {
			series[i] = floor
		}
	}
}

func zeros(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.Zero
	}
	return out
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
