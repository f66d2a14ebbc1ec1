package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"cashbook/internal/amqp"
	"cashbook/internal/core"
	"cashbook/internal/format"
	"cashbook/internal/services"
)

type financeService interface {
	RecordTransaction(ctx context.Context, typ, amount, category, description string) (core.Transaction, error)
	ListTransactions(ctx context.Context) ([]core.Transaction, error)
	FormattedReport(ctx context.Context, p core.Period) (format.View, error)
	GetAllTimeBalance(ctx context.Context) (decimal.Decimal, error)
	GetAllTimeBalanceExcluding(ctx context.Context, flagged []string) (decimal.Decimal, []string, error)
	CurrentDay(ctx context.Context) (core.DailyBucket, error)
	Archives(ctx context.Context) (services.ArchiveStatus, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	Currency(ctx context.Context) (core.Currency, error)
	SetCurrency(ctx context.Context, code string) (core.Currency, error)
	Theme(ctx context.Context) (string, error)
	SetTheme(ctx context.Context, name string) error
}

type eventSource interface {
	Consume(ctx context.Context, handler func(amqp.Event) error) error
}

type app struct {
	svc    financeService
	events eventSource
	out    io.Writer
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := newFlagSet("add", a.out)
	typ := fs.String("type", "expense", "income or expense")
	amount := fs.String("amount", "", "positive amount, e.g. 12.50")
	category := fs.String("category", "", "category name")
	desc := fs.String("desc", "", "description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *desc == "" && fs.NArg() > 0 {
		*desc = strings.Join(fs.Args(), " ")
	}

	t, err := a.svc.RecordTransaction(ctx, *typ, *amount, *category, *desc)
	if err != nil {
		return err
	}
	c, err := a.svc.Currency(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "recorded #%s %s %s %s %q\n",
		format.FormatID(t.ID), t.Type, format.FormatAmount(t.Signed(), c), t.Category, t.Description)
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list", a.out)
	limit := fs.Int("n", 0, "show at most n transactions (0 for all)")
	typ := fs.String("type", "", "only income or expense")
	category := fs.String("category", "", "only this category")
	if err := fs.Parse(args); err != nil {
		return err
	}

	txs, err := a.svc.ListTransactions(ctx)
	if err != nil {
		return err
	}
	c, err := a.svc.Currency(ctx)
	if err != nil {
		return err
	}

	txs = slices.Clone(txs)
	slices.Reverse(txs)

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTYPE\tAMOUNT\tCATEGORY\tDESCRIPTION")
	shown := 0
	for _, t := range txs {
		if *typ != "" && !strings.EqualFold(string(t.Type), *typ) {
			continue
		}
		if *category != "" && !strings.EqualFold(string(t.Category), *category) {
			continue
		}
		if *limit > 0 && shown == *limit {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			format.FormatID(t.ID),
			t.Date.Local().Format("2006-01-02 15:04"),
			t.Type,
			format.FormatAmount(t.Signed(), c),
			t.Category,
			t.Description)
		shown++
	}
	return tw.Flush()
}

func (a *app) report(ctx context.Context, args []string) error {
	fs := newFlagSet("report", a.out)
	chart := fs.Bool("chart", false, "print the chart series")
	if err := fs.Parse(args); err != nil {
		return err
	}
	name := "monthly"
	if fs.NArg() > 0 {
		name = fs.Arg(0)
	}
	p, err := core.ParsePeriod(name)
	if err != nil {
		return err
	}

	v, err := a.svc.FormattedReport(ctx, p)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s report (%s to %s)\n", v.Period, v.Start, v.End)
	fmt.Fprintf(a.out, "  total    %s\n  income   %s\n  expense  %s\n  count    %d\n\n",
		v.Total, v.Income, v.Expense, v.Count)

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	if p == core.Monthly {
		fmt.Fprintln(tw, "#\tCATEGORY\tAMOUNT\tSHARE\tLIMIT\t")
	} else {
		fmt.Fprintln(tw, "#\tCATEGORY\tAMOUNT\tSHARE\t")
	}
	for _, row := range v.Categories {
		if p == core.Monthly {
			mark := ""
			if row.OverLimit {
				mark = "over"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", row.Rank, row.Name, row.Amount, row.Percentage, row.Limit, mark)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", row.Rank, row.Name, row.Amount, row.Percentage)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if *chart {
		fmt.Fprintln(a.out)
		for i, label := range v.ChartLabels {
			fmt.Fprintf(a.out, "  %-6s %.2f\n", label, v.ChartSeries[i])
		}
	}
	return nil
}

func (a *app) balance(ctx context.Context, args []string) error {
	fs := newFlagSet("balance", a.out)
	exclude := fs.String("exclude", "", "comma-separated archive dates to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := a.svc.Currency(ctx)
	if err != nil {
		return err
	}

	var dates []string
	for _, d := range strings.Split(*exclude, ",") {
		if d = strings.TrimSpace(d); d != "" {
			dates = append(dates, d)
		}
	}

	if len(dates) == 0 {
		total, err := a.svc.GetAllTimeBalance(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, format.FormatAmount(total, c))
		return nil
	}

	total, excluded, err := a.svc.GetAllTimeBalanceExcluding(ctx, dates)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, format.FormatAmount(total, c))
	if len(excluded) > 0 {
		fmt.Fprintf(a.out, "excluded: %s\n", strings.Join(excluded, ", "))
	}
	return nil
}

func (a *app) day(ctx context.Context, args []string) error {
	fs := newFlagSet("day", a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	b, err := a.svc.CurrentDay(ctx)
	if err != nil {
		return err
	}
	c, err := a.svc.Currency(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s  %s  (%d transactions)\n", b.Date, format.FormatAmount(b.DailyBalance, c), len(b.Transactions))
	for _, t := range b.Transactions {
		fmt.Fprintf(a.out, "  #%s %s %s %s\n",
			format.FormatID(t.ID), format.FormatAmount(t.Signed(), c), t.Category, t.Description)
	}
	return nil
}

// archives lists archived days and any archived record the index lost.
func (a *app) archives(ctx context.Context, args []string) error {
	fs := newFlagSet("archives", a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := a.svc.Archives(ctx)
	if err != nil {
		return err
	}
	for _, d := range st.Dates {
		fmt.Fprintln(a.out, d)
	}
	for _, d := range st.Dangling {
		fmt.Fprintf(a.out, "%s (not in index)\n", d)
	}
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := newFlagSet("export", a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.svc.ExportCSV(ctx, a.out)
}

func (a *app) currency(ctx context.Context, args []string) error {
	fs := newFlagSet("currency", a.out)
	list := fs.Bool("list", false, "list supported currencies")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *list {
		for _, c := range core.Currencies() {
			fmt.Fprintf(a.out, "%s  %s\n", c.Code, c.Symbol)
		}
		return nil
	}

	if fs.NArg() > 0 {
		c, err := a.svc.SetCurrency(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "currency set to %s (%s)\n", c.Code, c.Symbol)
		return nil
	}

	c, err := a.svc.Currency(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (%s)\n", c.Code, c.Symbol)
	return nil
}

func (a *app) theme(ctx context.Context, args []string) error {
	fs := newFlagSet("theme", a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		if err := a.svc.SetTheme(ctx, fs.Arg(0)); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "theme set to %s\n", fs.Arg(0))
		return nil
	}
	name, err := a.svc.Theme(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, name)
	return nil
}

func (a *app) consumeEvents(ctx context.Context, args []string) error {
	fs := newFlagSet("events", a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.events == nil {
		return fmt.Errorf("events unavailable: set AMQP_URL")
	}

	err := a.events.Consume(ctx, func(evt amqp.Event) error {
		return printEvent(a.out, evt)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// printEvent writes one line per event. Unknown routing keys are printed raw.
func printEvent(w io.Writer, evt amqp.Event) error {
	switch evt.RoutingKey {
	case amqp.RoutingTransactionRecorded:
		m, err := evt.Transaction()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s recorded #%d %s %s %s\n",
			m.Timestamp.Format(format.TimestampLayout), m.ID, m.Type, m.Amount.StringFixed(2), m.Category)
		return err
	case amqp.RoutingDayArchived:
		m, err := evt.DayArchived()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s archived %s balance %s (%d transactions)\n",
			m.Timestamp.Format(format.TimestampLayout), m.Date, m.DailyBalance.StringFixed(2), m.Count)
		return err
	default:
		_, err := fmt.Fprintf(w, "%s %s\n", evt.RoutingKey, evt.Body)
		return err
	}
}
