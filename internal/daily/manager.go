// Package daily tracks the open bucket of the current calendar day and
// archives it, keyed by date, once the day is over.
//
// Rollover is lazy: nothing runs on a timer. InitializeDay compares the stored
// bucket date with today and, when they differ, archives the stale bucket
// before opening a fresh one. Callers run it before anything that depends on
// "today".
package daily

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cashbook/internal/cache"
	"cashbook/internal/core"
	"cashbook/internal/storage"
)

const defaultReadConcurrency = 8

// ArchiveNotifier is told about every archived day. Failures are logged and
// never undo the archive.
type ArchiveNotifier interface {
	PublishDayArchived(ctx context.Context, bucket core.DailyBucket) error
}

type Option func(*Manager)

// WithLocation sets the timezone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// WithArchiveCache serves archived buckets from c. Archives never change once
// written, so entries need no invalidation.
func WithArchiveCache(c cache.Cache[core.DailyBucket]) Option {
	return func(m *Manager) { m.archives = c }
}

// WithReadConcurrency bounds parallel archive reads in GetAllTimeBalance.
func WithReadConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithNotifier registers a receiver for archive events.
func WithNotifier(n ArchiveNotifier) Option {
	return func(m *Manager) { m.notifier = n }
}

type Manager struct {
	store       storage.Store
	clock       core.Clock
	loc         *time.Location
	archives    cache.Cache[core.DailyBucket]
	notifier    ArchiveNotifier
	concurrency int

	// mu serializes check-archive-create and bucket appends.
	mu    sync.Mutex
	group singleflight.Group
}

func NewManager(store storage.Store, clock core.Clock, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		clock:       clock,
		loc:         time.Local,
		concurrency: defaultReadConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Today returns the bucket key of the current calendar day.
func (m *Manager) Today() string {
	return core.DayKey(m.clock.Now(), m.loc)
}

// InitializeDay makes sure an open bucket dated today exists and returns it.
// Concurrent callers share a single rollover. The shared work is detached
// from any one caller's cancellation; each caller still stops waiting when
// its own ctx ends.
func (m *Manager) InitializeDay(ctx context.Context) (core.DailyBucket, error) {
	ch := m.group.DoChan("initialize", func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.initializeLocked(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return core.DailyBucket{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return core.DailyBucket{}, res.Err
		}
		b := res.Val.(core.DailyBucket)
		if res.Shared {
			b = cloneBucket(b)
		}
		return b, nil
	}
}

func (m *Manager) initializeLocked(ctx context.Context) (core.DailyBucket, error) {
	today := m.Today()

	current, ok, err := m.readCurrent(ctx)
	if err != nil {
		return core.DailyBucket{}, err
	}
	if ok && current.Date == today {
		return current, nil
	}

	if ok {
		if err := m.archive(ctx, current); err != nil {
			return core.DailyBucket{}, err
		}
	}

	fresh := core.NewBucket(today)
	if err := m.writeJSON(ctx, storage.KeyCurrentDay, fresh); err != nil {
		return core.DailyBucket{}, err
	}

	slog.InfoContext(ctx, "Opened new day",
		"component", "daily",
		"date", today,
		"archived_previous", ok)
	return fresh, nil
}

// archive writes the bucket under its date key, then records the date at the
// head of the archive index. A crash between the two steps is repaired by the
// next InitializeDay, which still sees the stale bucket. A date that is
// already archived (clock stepped back, timezone changed) is merged into the
// existing record, never overwritten.
func (m *Manager) archive(ctx context.Context, stale core.DailyBucket) error {
	b, err := m.mergeArchived(ctx, stale)
	if err != nil {
		return err
	}
	if err := m.writeJSON(ctx, storage.ArchivedKey(b.Date), b); err != nil {
		return err
	}

	list, err := m.ArchiveList(ctx)
	if err != nil {
		return err
	}
	if !contains(list, b.Date) {
		list = append([]string{b.Date}, list...)
		if err := m.writeJSON(ctx, storage.KeyArchiveList, list); err != nil {
			return err
		}
	}

	if m.archives != nil {
		m.archives.Set(b.Date, cloneBucket(b))
	}

	slog.InfoContext(ctx, "Archived day",
		"component", "daily",
		"date", b.Date,
		"transactions", len(b.Transactions),
		"daily_balance", b.DailyBalance.String())

	if m.notifier != nil {
		if err := m.notifier.PublishDayArchived(ctx, b); err != nil {
			slog.ErrorContext(ctx, "Failed to publish day archived event",
				"component", "daily", "date", b.Date, "error", err)
		}
	}
	return nil
}

// mergeArchived folds the transactions of b that the stored archive for the
// same date lacks into that archive. Without a stored archive b is returned
// as is. An unreadable stored archive is an integrity error: overwriting it
// would hide the loss.
func (m *Manager) mergeArchived(ctx context.Context, b core.DailyBucket) (core.DailyBucket, error) {
	key := storage.ArchivedKey(b.Date)
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return core.DailyBucket{}, &core.PersistenceError{Op: "get", Key: key, Err: err}
	}
	if !ok || raw == "" {
		return b, nil
	}

	var prev core.DailyBucket
	if err := json.Unmarshal([]byte(raw), &prev); err != nil {
		return core.DailyBucket{}, &core.IntegrityError{
			Key:   key,
			Dates: []string{b.Date},
			Err:   fmt.Errorf("%w: %v", core.ErrCorruptRecord, err),
		}
	}
	prev.Date = b.Date

	seen := make(map[int64]bool, len(prev.Transactions))
	for _, t := range prev.Transactions {
		seen[t.ID] = true
	}
	merged := prev
	added := 0
	for _, t := range b.Transactions {
		if seen[t.ID] {
			continue
		}
		merged = merged.With(t)
		added++
	}
	if merged.Transactions == nil {
		merged.Transactions = []core.Transaction{}
	}

	if len(prev.Transactions) > 0 || added > 0 {
		slog.WarnContext(ctx, "Day archived again, merged into existing archive",
			"component", "daily",
			"date", b.Date,
			"kept", len(prev.Transactions),
			"added", added)
	}
	return merged, nil
}

// AddTransaction appends t to today's open bucket. InitializeDay must have
// opened the bucket first.
func (m *Manager) AddTransaction(ctx context.Context, t core.Transaction) (core.DailyBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok, err := m.readCurrent(ctx)
	if err != nil {
		return core.DailyBucket{}, err
	}
	if !ok || current.Date != m.Today() {
		return core.DailyBucket{}, core.ErrNoOpenBucket
	}

	updated := current.With(t)
	if err := m.writeJSON(ctx, storage.KeyCurrentDay, updated); err != nil {
		return core.DailyBucket{}, err
	}
	return updated, nil
}

// CurrentDay returns the stored open bucket without rolling over.
func (m *Manager) CurrentDay(ctx context.Context) (core.DailyBucket, bool, error) {
	return m.readCurrent(ctx)
}

// ArchiveList returns archived dates, newest first.
func (m *Manager) ArchiveList(ctx context.Context) ([]string, error) {
	raw, ok, err := m.store.Get(ctx, storage.KeyArchiveList)
	if err != nil {
		return nil, &core.PersistenceError{Op: "get", Key: storage.KeyArchiveList, Err: err}
	}
	if !ok || raw == "" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, &core.IntegrityError{
			Key: storage.KeyArchiveList,
			Err: fmt.Errorf("%w: %v", core.ErrCorruptRecord, err),
		}
	}
	return list, nil
}

// ArchivedDay reads one archived bucket. A listed date without a record is an
// integrity error, never an empty day.
func (m *Manager) ArchivedDay(ctx context.Context, date string) (core.DailyBucket, error) {
	if m.archives != nil {
		if b, ok := m.archives.Get(date); ok {
			return cloneBucket(b), nil
		}
	}

	key := storage.ArchivedKey(date)
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return core.DailyBucket{}, &core.PersistenceError{Op: "get", Key: key, Err: err}
	}
	if !ok {
		return core.DailyBucket{}, &core.IntegrityError{Key: key, Dates: []string{date}, Err: core.ErrArchiveMissing}
	}

	var b core.DailyBucket
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return core.DailyBucket{}, &core.IntegrityError{
			Key:   key,
			Dates: []string{date},
			Err:   fmt.Errorf("%w: %v", core.ErrCorruptRecord, err),
		}
	}

	if m.archives != nil {
		m.archives.Set(date, cloneBucket(b))
	}
	return b, nil
}

// GetAllTimeBalance sums every archived daily balance and the open bucket.
// Any listed date that cannot be read fails the whole computation with an
// IntegrityError naming the affected dates.
func (m *Manager) GetAllTimeBalance(ctx context.Context) (decimal.Decimal, error) {
	total, _, err := m.GetAllTimeBalanceExcluding(ctx, nil)
	return total, err
}

// GetAllTimeBalanceExcluding is GetAllTimeBalance with an explicit list of
// dates the caller has already flagged as broken. Those dates are left out and
// returned as excluded; every other problem is still reported.
func (m *Manager) GetAllTimeBalanceExcluding(ctx context.Context, flagged []string) (decimal.Decimal, []string, error) {
	// Holding mu keeps a concurrent rollover from being counted twice.
	m.mu.Lock()
	defer m.mu.Unlock()

	list, err := m.ArchiveList(ctx)
	if err != nil {
		return decimal.Zero, nil, err
	}

	skip := make(map[string]bool, len(flagged))
	for _, d := range flagged {
		skip[d] = true
	}

	balances := make([]decimal.Decimal, len(list))
	problems := make([]error, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, date := range list {
		if skip[date] {
			continue
		}
		g.Go(func() error {
			b, err := m.ArchivedDay(gctx, date)
			if err != nil {
				if core.IsIntegrity(err) {
					problems[i] = err
					return nil
				}
				return err
			}
			balances[i] = b.DailyBalance
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return decimal.Zero, nil, err
	}

	var (
		badDates []string
		badErrs  []error
		excluded []string
	)
	total := decimal.Zero
	for i, date := range list {
		switch {
		case skip[date]:
			excluded = append(excluded, date)
		case problems[i] != nil:
			badDates = append(badDates, date)
			badErrs = append(badErrs, problems[i])
		default:
			total = total.Add(balances[i])
		}
	}
	if len(badDates) > 0 {
		slog.ErrorContext(ctx, "Archive integrity check failed",
			"component", "daily",
			"dates", strings.Join(badDates, ","))
		return decimal.Zero, excluded, &core.IntegrityError{
			Key:   storage.KeyArchiveList,
			Dates: badDates,
			Err:   errors.Join(badErrs...),
		}
	}

	current, ok, err := m.readCurrent(ctx)
	if err != nil {
		return decimal.Zero, excluded, err
	}
	if ok {
		total = total.Add(current.DailyBalance)
	}
	return total, excluded, nil
}

// DanglingArchives lists archived records that the index does not reference.
// It needs a store that can enumerate keys and returns nil otherwise.
func (m *Manager) DanglingArchives(ctx context.Context) ([]string, error) {
	lister, ok := m.store.(storage.Lister)
	if !ok {
		return nil, nil
	}
	keys, err := lister.Keys(ctx, storage.ArchivedKeyPrefix)
	if err != nil {
		return nil, &core.PersistenceError{Op: "list", Key: storage.ArchivedKeyPrefix, Err: err}
	}
	list, err := m.ArchiveList(ctx)
	if err != nil {
		return nil, err
	}

	var dangling []string
	for _, k := range keys {
		date := strings.TrimPrefix(k, storage.ArchivedKeyPrefix)
		if !contains(list, date) {
			dangling = append(dangling, date)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dangling)))
	return dangling, nil
}

func (m *Manager) readCurrent(ctx context.Context) (core.DailyBucket, bool, error) {
	raw, ok, err := m.store.Get(ctx, storage.KeyCurrentDay)
	if err != nil {
		return core.DailyBucket{}, false, &core.PersistenceError{Op: "get", Key: storage.KeyCurrentDay, Err: err}
	}
	if !ok || raw == "" || raw == "null" {
		return core.DailyBucket{}, false, nil
	}
	var b core.DailyBucket
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return core.DailyBucket{}, false, &core.IntegrityError{
			Key: storage.KeyCurrentDay,
			Err: fmt.Errorf("%w: %v", core.ErrCorruptRecord, err),
		}
	}
	if b.Transactions == nil {
		b.Transactions = []core.Transaction{}
	}
	return b, true, nil
}

func (m *Manager) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := m.store.Set(ctx, key, string(data)); err != nil {
		return &core.PersistenceError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func cloneBucket(b core.DailyBucket) core.DailyBucket {
	txs := make([]core.Transaction, len(b.Transactions))
	copy(txs, b.Transactions)
	b.Transactions = txs
	return b
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
