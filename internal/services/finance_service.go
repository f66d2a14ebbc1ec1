package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cashbook/internal/core"
	"cashbook/internal/daily"
	"cashbook/internal/format"
	"cashbook/internal/ledger"
	applog "cashbook/internal/log"
	"cashbook/internal/report"
	"cashbook/internal/storage"
)

const maxThemeNameLength = 64

// EventPublisher receives transactions once they are recorded.
type EventPublisher interface {
	PublishTransactionRecorded(ctx context.Context, t core.Transaction) error
}

type Option func(*FinanceService)

// WithPublisher sends recorded transactions to p. Publish failures are logged
// and never fail the recording.
func WithPublisher(p EventPublisher) Option {
	return func(s *FinanceService) { s.publisher = p }
}

// WithReportOptions sets the location and chart floor used for reports.
func WithReportOptions(o report.Options) Option {
	return func(s *FinanceService) { s.reportOpts = o }
}

// WithDefaultCurrency sets the currency reported before the user picks one.
func WithDefaultCurrency(c core.Currency) Option {
	return func(s *FinanceService) { s.defaultCurrency = c }
}

// FinanceService orchestrates recording and reporting across the ledger,
// the day manager and the settings keys.
type FinanceService struct {
	store  storage.Store
	ledger *ledger.Ledger
	days   *daily.Manager
	clock  core.Clock

	ids       core.IDSequence
	seedMu    sync.Mutex
	idsSeeded bool

	// unbucketed holds transactions that reached the ledger but not the
	// day bucket. RetryPending replays them in order.
	dayMu      sync.Mutex
	unbucketed []core.Transaction

	publisher       EventPublisher
	reportOpts      report.Options
	defaultCurrency core.Currency
}

func NewFinanceService(store storage.Store, l *ledger.Ledger, days *daily.Manager, clock core.Clock, opts ...Option) *FinanceService {
	s := &FinanceService{
		store:           store,
		ledger:          l,
		days:            days,
		clock:           clock,
		reportOpts:      report.DefaultOptions(),
		defaultCurrency: core.DefaultCurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordTransaction validates the input, appends the transaction to the
// ledger and to today's bucket. On a PersistenceError the returned
// transaction is still valid and kept in memory; RetryPending persists it.
func (s *FinanceService) RecordTransaction(ctx context.Context, typ, amount, category, description string) (core.Transaction, error) {
	tt, err := core.ParseTransactionType(typ)
	if err != nil {
		return core.Transaction{}, err
	}
	amt, err := core.ParseAmount(amount)
	if err != nil {
		return core.Transaction{}, err
	}
	description = strings.TrimSpace(description)
	if err := core.ValidateDescription(description); err != nil {
		return core.Transaction{}, err
	}
	cat, known := core.LookupCategory(category)
	if !known && strings.TrimSpace(category) != "" {
		slog.DebugContext(ctx, "Unknown category mapped to Other",
			"component", "services",
			"category", category)
	}

	if err := s.seedIDs(ctx); err != nil {
		return core.Transaction{}, err
	}
	now := s.clock.Now()
	t := core.Transaction{
		ID:          s.ids.Next(now),
		Type:        tt,
		Amount:      amt,
		Category:    cat,
		Date:        now.UTC().Truncate(time.Millisecond),
		Description: description,
	}

	if _, err := s.days.InitializeDay(ctx); err != nil {
		return core.Transaction{}, fmt.Errorf("initialize day: %w", err)
	}

	appendErr := s.ledger.Append(ctx, t)
	if appendErr != nil && !core.IsPersistence(appendErr) {
		return core.Transaction{}, appendErr
	}

	if err := s.addToDay(ctx, t); err != nil {
		s.dayMu.Lock()
		s.unbucketed = append(s.unbucketed, t)
		s.dayMu.Unlock()
		slog.ErrorContext(ctx, "Transaction kept pending for the day bucket",
			"component", "services",
			"id", t.ID,
			"error", err)
		return t, errors.Join(appendErr, err)
	}
	if appendErr != nil {
		return t, appendErr
	}

	s.publish(ctx, t)

	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogTransactionRecorded(ctx, t.ID, string(t.Type), t.Amount.String(), string(t.Category))
	return t, nil
}

// addToDay retries once when the day rolled over between InitializeDay and
// the append.
func (s *FinanceService) addToDay(ctx context.Context, t core.Transaction) error {
	_, err := s.days.AddTransaction(ctx, t)
	if !errors.Is(err, core.ErrNoOpenBucket) {
		return err
	}
	if _, err := s.days.InitializeDay(ctx); err != nil {
		return err
	}
	_, err = s.days.AddTransaction(ctx, t)
	return err
}

func (s *FinanceService) seedIDs(ctx context.Context) error {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if s.idsSeeded {
		return nil
	}
	last, err := s.ledger.LastID(ctx)
	if err != nil {
		return err
	}
	s.ids.Observe(last)
	s.idsSeeded = true
	return nil
}

func (s *FinanceService) publish(ctx context.Context, t core.Transaction) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransactionRecorded(ctx, t); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			"component", "services",
			"id", t.ID,
			"error", err)
	}
}

// RetryPending persists transactions whose durable write failed earlier: the
// ledger is flushed, then missed day-bucket appends are replayed oldest first.
// A replayed transaction lands in the bucket open at replay time, so the
// all-time balance agrees with the ledger again even across a rollover.
func (s *FinanceService) RetryPending(ctx context.Context) error {
	flushErr := s.ledger.Flush(ctx)

	s.dayMu.Lock()
	defer s.dayMu.Unlock()
	for len(s.unbucketed) > 0 {
		if err := s.addToDay(ctx, s.unbucketed[0]); err != nil {
			return errors.Join(flushErr, err)
		}
		s.unbucketed = s.unbucketed[1:]
	}
	return flushErr
}

// Pending reports whether some recorded transactions are not yet durable,
// in the ledger or in the day bucket.
func (s *FinanceService) Pending() bool {
	s.dayMu.Lock()
	missed := len(s.unbucketed)
	s.dayMu.Unlock()
	return missed > 0 || s.ledger.Pending()
}

// ListTransactions returns every transaction in insertion order.
func (s *FinanceService) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	return s.ledger.All(ctx)
}

// GetPeriodReport recomputes the report for p from the current ledger.
func (s *FinanceService) GetPeriodReport(ctx context.Context, p core.Period) (core.PeriodReport, error) {
	txs, err := s.ledger.All(ctx)
	if err != nil {
		return core.PeriodReport{}, err
	}
	return report.Build(txs, p, s.clock.Now(), s.reportOpts), nil
}

// GetReports computes every period from a single ledger snapshot.
func (s *FinanceService) GetReports(ctx context.Context) (map[core.Period]core.PeriodReport, error) {
	txs, err := s.ledger.All(ctx)
	if err != nil {
		return nil, err
	}
	return report.BuildAll(txs, s.clock.Now(), s.reportOpts), nil
}

// FormattedReport renders the report for p in the selected currency.
func (s *FinanceService) FormattedReport(ctx context.Context, p core.Period) (format.View, error) {
	r, err := s.GetPeriodReport(ctx, p)
	if err != nil {
		return format.View{}, err
	}
	c, err := s.Currency(ctx)
	if err != nil {
		return format.View{}, err
	}
	return format.FormatReport(r, c), nil
}

// FormattedReports renders every period from one ledger snapshot.
func (s *FinanceService) FormattedReports(ctx context.Context) (map[core.Period]format.View, error) {
	reports, err := s.GetReports(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.Currency(ctx)
	if err != nil {
		return nil, err
	}
	views := make(map[core.Period]format.View, len(reports))
	for p, r := range reports {
		views[p] = format.FormatReport(r, c)
	}
	return views, nil
}

// GetAllTimeBalance rolls the day over if needed and sums every archived
// bucket plus the open one.
func (s *FinanceService) GetAllTimeBalance(ctx context.Context) (decimal.Decimal, error) {
	if _, err := s.days.InitializeDay(ctx); err != nil {
		return decimal.Zero, err
	}
	return s.days.GetAllTimeBalance(ctx)
}

// GetAllTimeBalanceExcluding is GetAllTimeBalance with flagged archive dates
// left out.
func (s *FinanceService) GetAllTimeBalanceExcluding(ctx context.Context, flagged []string) (decimal.Decimal, []string, error) {
	if _, err := s.days.InitializeDay(ctx); err != nil {
		return decimal.Zero, nil, err
	}
	return s.days.GetAllTimeBalanceExcluding(ctx, flagged)
}

// CurrentDay returns today's bucket, rolling over first.
func (s *FinanceService) CurrentDay(ctx context.Context) (core.DailyBucket, error) {
	return s.days.InitializeDay(ctx)
}

// ArchiveStatus describes the archive index and records it does not cover.
type ArchiveStatus struct {
	Dates    []string `json:"dates"`
	Dangling []string `json:"dangling"`
}

// Archives reports the archive index, newest first, and any archived records
// missing from it. Dangling stays empty on stores that cannot list keys.
func (s *FinanceService) Archives(ctx context.Context) (ArchiveStatus, error) {
	dates, err := s.days.ArchiveList(ctx)
	if err != nil {
		return ArchiveStatus{}, err
	}
	dangling, err := s.days.DanglingArchives(ctx)
	if err != nil {
		return ArchiveStatus{}, err
	}
	if dates == nil {
		dates = []string{}
	}
	if dangling == nil {
		dangling = []string{}
	}
	return ArchiveStatus{Dates: dates, Dangling: dangling}, nil
}

// ExportCSV writes every transaction as CSV.
func (s *FinanceService) ExportCSV(ctx context.Context, w io.Writer) error {
	txs, err := s.ledger.All(ctx)
	if err != nil {
		return err
	}
	return format.WriteCSV(w, txs)
}

// Currency returns the selected display currency.
func (s *FinanceService) Currency(ctx context.Context) (core.Currency, error) {
	raw, ok, err := s.store.Get(ctx, storage.KeyCurrency)
	if err != nil {
		return core.Currency{}, &core.PersistenceError{Op: "get", Key: storage.KeyCurrency, Err: err}
	}
	if !ok || raw == "" {
		return s.defaultCurrency, nil
	}
	var c core.Currency
	if err := json.Unmarshal([]byte(raw), &c); err != nil || c.Code == "" {
		if err == nil {
			err = errors.New("missing code")
		}
		return core.Currency{}, &core.IntegrityError{
			Key: storage.KeyCurrency,
			Err: fmt.Errorf("%w: %v", core.ErrCorruptRecord, err),
		}
	}
	return c, nil
}

// SetCurrency selects a supported currency by ISO code.
func (s *FinanceService) SetCurrency(ctx context.Context, code string) (core.Currency, error) {
	c, err := core.LookupCurrency(code)
	if err != nil {
		return core.Currency{}, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return core.Currency{}, fmt.Errorf("marshal currency: %w", err)
	}
	if err := s.store.Set(ctx, storage.KeyCurrency, string(data)); err != nil {
		return core.Currency{}, &core.PersistenceError{Op: "set", Key: storage.KeyCurrency, Err: err}
	}
	slog.InfoContext(ctx, "Currency changed", "component", "services", "currency", c.Code)
	return c, nil
}

// Theme returns the stored theme name, empty when none was chosen.
func (s *FinanceService) Theme(ctx context.Context) (string, error) {
	raw, _, err := s.store.Get(ctx, storage.KeyThemeName)
	if err != nil {
		return "", &core.PersistenceError{Op: "get", Key: storage.KeyThemeName, Err: err}
	}
	return raw, nil
}

// SetTheme stores an opaque theme name.
func (s *FinanceService) SetTheme(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxThemeNameLength {
		return &core.ValidationError{Field: "theme", Err: core.ErrInvalidTheme}
	}
	if err := s.store.Set(ctx, storage.KeyThemeName, name); err != nil {
		return &core.PersistenceError{Op: "set", Key: storage.KeyThemeName, Err: err}
	}
	return nil
}
