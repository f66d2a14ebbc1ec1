// Command cashbook-cli records and inspects transactions directly against the
// configured storage, without going through the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"cashbook/internal/cli"
	"cashbook/internal/config"
)

const usage = `Usage: cashbook-cli <command> [flags]

Commands:
  add       record an income or expense
  list      list transactions, newest first
  report    show a period report (daily, monthly, yearly)
  balance   show the all-time balance
  day       show the open day bucket
  archives  list archived days and unindexed archive records
  export    write all transactions as CSV
  currency  show or change the display currency
  theme     show or change the theme name
  events    print events from the AMQP queue until interrupted
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupStderrLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := cli.InitBackend(ctx, logger, cfg)

	a := &app{svc: res.Service, out: os.Stdout}
	if res.Events != nil {
		a.events = res.Events
	}

	err := a.run(ctx, os.Args[1], os.Args[2:])
	if cerr := res.Cleanup(); cerr != nil {
		logger.Error("Backend cleanup error", "error", cerr)
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	default:
		logger.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("unknown command")

func (a *app) run(ctx context.Context, name string, args []string) error {
	cmd, ok := a.commands()[name]
	if !ok {
		return errUsage
	}
	return cmd(ctx, args)
}

func (a *app) commands() map[string]func(context.Context, []string) error {
	return map[string]func(context.Context, []string) error{
		"add":      a.add,
		"list":     a.list,
		"report":   a.report,
		"balance":  a.balance,
		"day":      a.day,
		"archives": a.archives,
		"export":   a.export,
		"currency": a.currency,
		"theme":    a.theme,
		"events":   a.consumeEvents,
	}
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}
