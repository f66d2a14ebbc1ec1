package daily

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cashbook/internal/cache"
	"cashbook/internal/core"
	"cashbook/internal/storage"
	"cashbook/internal/storage/memory"
)

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func putJSON(t *testing.T, s *memory.Store, key string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := s.Set(context.Background(), key, string(data)); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func bucket(date, balance string) core.DailyBucket {
	return core.DailyBucket{Date: date, Transactions: []core.Transaction{}, DailyBalance: dec(balance)}
}

func newManager(store storage.Store, clock core.Clock, opts ...Option) *Manager {
	return NewManager(store, clock, append([]Option{WithLocation(time.UTC)}, opts...)...)
}

func TestInitializeDayWithoutBucketOpensToday(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(store, core.NewFixedClock(day(2025, 2, 10, 8)))

	b, err := m.InitializeDay(ctx)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if b.Date != "2025-02-10" || !b.DailyBalance.IsZero() || len(b.Transactions) != 0 {
		t.Fatalf("unexpected bucket: %+v", b)
	}
	list, _ := m.ArchiveList(ctx)
	if len(list) != 0 {
		t.Fatalf("nothing to archive, got %v", list)
	}
}

func TestInitializeDayIsIdempotentWithinDay(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := core.NewFixedClock(day(2025, 2, 10, 8))
	m := newManager(store, clock)

	if _, err := m.InitializeDay(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := m.AddTransaction(ctx, core.Transaction{ID: 1, Type: core.Expense, Amount: dec("3"), Category: core.Other, Date: clock.Now(), Description: "x"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	before := store.Snapshot()

	clock.Advance(10 * time.Hour)
	b, err := m.InitializeDay(ctx)
	if err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if len(b.Transactions) != 1 || !b.DailyBalance.Equal(dec("-3")) {
		t.Fatalf("bucket changed on second call: %+v", b)
	}
	after := store.Snapshot()
	if len(before) != len(after) || before[storage.KeyCurrentDay] != after[storage.KeyCurrentDay] {
		t.Fatalf("storage changed on idempotent call")
	}
}

func TestRolloverArchivesAndBalances(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	putJSON(t, store, storage.ArchivedKey("2025-02-08"), bucket("2025-02-08", "-10"))
	putJSON(t, store, storage.ArchivedKey("2025-02-09"), bucket("2025-02-09", "5"))
	putJSON(t, store, storage.KeyArchiveList, []string{"2025-02-09", "2025-02-08"})
	putJSON(t, store, storage.KeyCurrentDay, bucket("2025-02-10", "-42.50"))

	m := newManager(store, core.NewFixedClock(day(2025, 2, 11, 9)))

	b, err := m.InitializeDay(ctx)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if b.Date != "2025-02-11" || !b.DailyBalance.IsZero() {
		t.Fatalf("unexpected new bucket: %+v", b)
	}

	list, err := m.ArchiveList(ctx)
	if err != nil {
		t.Fatalf("archive list: %v", err)
	}
	if len(list) != 3 || list[0] != "2025-02-10" || list[2] != "2025-02-08" {
		t.Fatalf("archive list not newest-first: %v", list)
	}

	archived, err := m.ArchivedDay(ctx, "2025-02-10")
	if err != nil || !archived.DailyBalance.Equal(dec("-42.5")) {
		t.Fatalf("archived day: %+v, %v", archived, err)
	}

	total, err := m.GetAllTimeBalance(ctx)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !total.Equal(dec("-47.50")) {
		t.Fatalf("all-time balance = %s, want -47.50", total)
	}
}

func TestAddTransactionRequiresOpenBucket(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := core.NewFixedClock(day(2025, 2, 10, 8))
	m := newManager(store, clock)
	tx := core.Transaction{ID: 1, Type: core.Income, Amount: dec("1"), Category: core.Salary, Date: clock.Now(), Description: "x"}

	if _, err := m.AddTransaction(ctx, tx); !errors.Is(err, core.ErrNoOpenBucket) {
		t.Fatalf("expected ErrNoOpenBucket, got %v", err)
	}

	if _, err := m.InitializeDay(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	clock.Set(day(2025, 2, 11, 1))
	if _, err := m.AddTransaction(ctx, tx); !errors.Is(err, core.ErrNoOpenBucket) {
		t.Fatalf("stale bucket must not accept transactions, got %v", err)
	}
}

func TestAddTransactionUpdatesBalance(t *testing.T) {
	ctx := context.Background()
	clock := core.NewFixedClock(day(2025, 2, 10, 8))
	m := newManager(memory.New(), clock)
	if _, err := m.InitializeDay(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	txs := []core.Transaction{
		{ID: 1, Type: core.Income, Amount: dec("100"), Category: core.Salary, Date: clock.Now(), Description: "pay"},
		{ID: 2, Type: core.Expense, Amount: dec("30.25"), Category: core.Groceries, Date: clock.Now(), Description: "food"},
	}
	var b core.DailyBucket
	var err error
	for _, tx := range txs {
		if b, err = m.AddTransaction(ctx, tx); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if !b.DailyBalance.Equal(dec("69.75")) || len(b.Transactions) != 2 {
		t.Fatalf("unexpected bucket %+v", b)
	}
	total, err := m.GetAllTimeBalance(ctx)
	if err != nil || !total.Equal(dec("69.75")) {
		t.Fatalf("balance = %s, %v", total, err)
	}
}

func TestMissingArchiveIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	putJSON(t, store, storage.ArchivedKey("2025-02-08"), bucket("2025-02-08", "-10"))
	putJSON(t, store, storage.KeyArchiveList, []string{"2025-02-09", "2025-02-08"})
	putJSON(t, store, storage.KeyCurrentDay, bucket("2025-02-10", "1"))

	m := newManager(store, core.NewFixedClock(day(2025, 2, 10, 9)))

	_, err := m.GetAllTimeBalance(ctx)
	var ie *core.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if len(ie.Dates) != 1 || ie.Dates[0] != "2025-02-09" || !errors.Is(err, core.ErrArchiveMissing) {
		t.Fatalf("unexpected integrity error: %+v", ie)
	}

	total, excluded, err := m.GetAllTimeBalanceExcluding(ctx, ie.Dates)
	if err != nil {
		t.Fatalf("excluding flagged: %v", err)
	}
	if !total.Equal(dec("-9")) || len(excluded) != 1 || excluded[0] != "2025-02-09" {
		t.Fatalf("total=%s excluded=%v", total, excluded)
	}
}

func TestCorruptArchiveIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_ = store.Set(ctx, storage.ArchivedKey("2025-02-08"), "{broken")
	putJSON(t, store, storage.KeyArchiveList, []string{"2025-02-08"})

	m := newManager(store, core.NewFixedClock(day(2025, 2, 10, 9)))
	if _, err := m.GetAllTimeBalance(ctx); !errors.Is(err, core.ErrCorruptRecord) {
		t.Fatalf("expected corrupt record error, got %v", err)
	}
}

func TestCrashBetweenArchiveAndCreateRecovers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	putJSON(t, store, storage.KeyCurrentDay, bucket("2025-02-10", "-42.50"))
	clock := core.NewFixedClock(day(2025, 2, 11, 9))
	m := newManager(store, clock)

	store.FailSet(storage.KeyCurrentDay, errors.New("power loss"))
	if _, err := m.InitializeDay(ctx); !core.IsPersistence(err) {
		t.Fatalf("expected persistence error, got %v", err)
	}

	// The archive was written first, so nothing is lost.
	if _, err := m.ArchivedDay(ctx, "2025-02-10"); err != nil {
		t.Fatalf("archive should exist after partial rollover: %v", err)
	}

	store.FailSet(storage.KeyCurrentDay, nil)
	b, err := m.InitializeDay(ctx)
	if err != nil {
		t.Fatalf("recovery initialize: %v", err)
	}
	if b.Date != "2025-02-11" {
		t.Fatalf("unexpected bucket %+v", b)
	}
	list, _ := m.ArchiveList(ctx)
	if len(list) != 1 {
		t.Fatalf("date must be indexed once, got %v", list)
	}
	total, err := m.GetAllTimeBalance(ctx)
	if err != nil || !total.Equal(dec("-42.5")) {
		t.Fatalf("balance = %s, %v", total, err)
	}
}

func TestConcurrentInitializeArchivesOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	putJSON(t, store, storage.KeyCurrentDay, bucket("2025-02-10", "7"))
	m := newManager(store, core.NewFixedClock(day(2025, 2, 11, 0)))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := m.InitializeDay(ctx)
			if err == nil && b.Date != "2025-02-11" {
				err = errors.New("wrong bucket date " + b.Date)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("initialize: %v", err)
		}
	}

	list, _ := m.ArchiveList(ctx)
	if len(list) != 1 || list[0] != "2025-02-10" {
		t.Fatalf("expected a single archived day, got %v", list)
	}
	total, err := m.GetAllTimeBalance(ctx)
	if err != nil || !total.Equal(dec("7")) {
		t.Fatalf("balance = %s, %v", total, err)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	days []string
}

func (r *recordingNotifier) PublishDayArchived(_ context.Context, b core.DailyBucket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.days = append(r.days, b.Date)
	return errors.New("broker down")
}

func TestArchiveCacheAndNotifier(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	putJSON(t, store, storage.KeyCurrentDay, bucket("2025-02-10", "2"))
	archives := cache.NewRecentCache[core.DailyBucket](8, 0)
	notifier := &recordingNotifier{}
	m := newManager(store, core.NewFixedClock(day(2025, 2, 11, 0)),
		WithArchiveCache(archives), WithNotifier(notifier), WithReadConcurrency(2))

	// Notifier failures never fail the rollover.
	if _, err := m.InitializeDay(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(notifier.days) != 1 || notifier.days[0] != "2025-02-10" {
		t.Fatalf("notifier saw %v", notifier.days)
	}

	// Served from cache even when storage is unavailable.
	store.FailGet(storage.ArchivedKey("2025-02-10"), errors.New("io"))
	b, err := m.ArchivedDay(ctx, "2025-02-10")
	if err != nil || !b.DailyBalance.Equal(dec("2")) {
		t.Fatalf("cached archive: %+v, %v", b, err)
	}
}

func TestDanglingArchives(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	putJSON(t, store, storage.ArchivedKey("2025-02-08"), bucket("2025-02-08", "1"))
	putJSON(t, store, storage.ArchivedKey("2025-02-09"), bucket("2025-02-09", "1"))
	putJSON(t, store, storage.KeyArchiveList, []string{"2025-02-08"})

	m := newManager(store, core.NewFixedClock(day(2025, 2, 10, 0)))
	dangling, err := m.DanglingArchives(ctx)
	if err != nil {
		t.Fatalf("dangling: %v", err)
	}
	if len(dangling) != 1 || dangling[0] != "2025-02-09" {
		t.Fatalf("unexpected dangling %v", dangling)
	}
}

func TestClockSteppingBackKeepsArchivedDay(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := core.NewFixedClock(day(2025, 2, 11, 9))
	m := newManager(store, clock)

	if _, err := m.InitializeDay(ctx); err != nil {
		t.Fatal(err)
	}
	spend := core.Transaction{ID: 1, Type: core.Expense, Amount: dec("30"), Category: core.Other, Date: clock.Now(), Description: "Books"}
	if _, err := m.AddTransaction(ctx, spend); err != nil {
		t.Fatal(err)
	}

	for _, at := range []time.Time{day(2025, 2, 10, 23), day(2025, 2, 11, 1), day(2025, 2, 12, 8)} {
		clock.Set(at)
		if _, err := m.InitializeDay(ctx); err != nil {
			t.Fatalf("initialize at %s: %v", at, err)
		}
	}

	list, _ := m.ArchiveList(ctx)
	if len(list) != 2 || list[0] != "2025-02-10" || list[1] != "2025-02-11" {
		t.Fatalf("archive list = %v", list)
	}
	archived, err := m.ArchivedDay(ctx, "2025-02-11")
	if err != nil {
		t.Fatal(err)
	}
	if len(archived.Transactions) != 1 || !archived.DailyBalance.Equal(dec("-30")) {
		t.Fatalf("re-archiving lost data: %+v", archived)
	}
	total, err := m.GetAllTimeBalance(ctx)
	if err != nil || !total.Equal(dec("-30")) {
		t.Fatalf("balance = %s, %v; want -30", total, err)
	}
}

func TestReArchiveMergesNewTransactions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	first := core.Transaction{ID: 1, Type: core.Income, Amount: dec("10"), Category: core.Other, Date: day(2025, 2, 10, 8), Description: "a"}
	second := core.Transaction{ID: 2, Type: core.Expense, Amount: dec("4"), Category: core.Other, Date: day(2025, 2, 10, 9), Description: "b"}

	putJSON(t, store, storage.ArchivedKey("2025-02-10"), core.NewBucket("2025-02-10").With(first))
	putJSON(t, store, storage.KeyArchiveList, []string{"2025-02-10"})
	putJSON(t, store, storage.KeyCurrentDay, core.NewBucket("2025-02-10").With(first).With(second))

	m := newManager(store, core.NewFixedClock(day(2025, 2, 11, 0)))
	if _, err := m.InitializeDay(ctx); err != nil {
		t.Fatal(err)
	}
	b, err := m.ArchivedDay(ctx, "2025-02-10")
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Transactions) != 2 || !b.DailyBalance.Equal(dec("6")) {
		t.Fatalf("merged archive = %+v", b)
	}
}

func TestReArchiveOverCorruptRecordFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if err := store.Set(ctx, storage.ArchivedKey("2025-02-10"), "{not json"); err != nil {
		t.Fatal(err)
	}
	putJSON(t, store, storage.KeyCurrentDay, bucket("2025-02-10", "3"))

	m := newManager(store, core.NewFixedClock(day(2025, 2, 11, 0)))
	_, err := m.InitializeDay(ctx)
	var ierr *core.IntegrityError
	if !errors.As(err, &ierr) || len(ierr.Dates) != 1 || ierr.Dates[0] != "2025-02-10" {
		t.Fatalf("expected integrity error for 2025-02-10, got %v", err)
	}
	if raw, _, _ := store.Get(ctx, storage.ArchivedKey("2025-02-10")); raw != "{not json" {
		t.Errorf("corrupt archive was overwritten: %q", raw)
	}
}

// gatedStore blocks reads of the open bucket until released and honors
// cancellation of the context it is called with.
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == storage.KeyCurrentDay {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return g.Store.Get(ctx, key)
}

func TestCancelledCallerDoesNotFailSharedRollover(t *testing.T) {
	store := &gatedStore{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	putJSON(t, store.Store, storage.KeyCurrentDay, bucket("2025-02-10", "5"))
	m := newManager(store, core.NewFixedClock(day(2025, 2, 11, 0)))

	cancelCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.InitializeDay(cancelCtx)
		firstErr <- err
	}()
	<-store.entered

	secondErr := make(chan error, 1)
	go func() {
		b, err := m.InitializeDay(context.Background())
		if err == nil && b.Date != "2025-02-11" {
			err = errors.New("wrong bucket date " + b.Date)
		}
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller got %v", err)
	}
	close(store.release)
	if err := <-secondErr; err != nil {
		t.Fatalf("other caller inherited the cancellation: %v", err)
	}

	total, err := m.GetAllTimeBalance(context.Background())
	if err != nil || !total.Equal(dec("5")) {
		t.Fatalf("balance = %s, %v", total, err)
	}
}
