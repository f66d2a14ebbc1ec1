package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cashbook/internal/amqp"
	"cashbook/internal/cache"
	"cashbook/internal/core"
	"cashbook/internal/daily"
	"cashbook/internal/ledger"
	"cashbook/internal/report"
	"cashbook/internal/services"
	"cashbook/internal/storage"
	"cashbook/internal/storage/memory"
)

const (
	amqpConnectAttempts  = 3
	cacheCleanupInterval = time.Hour
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store   storage.Store
		ready   ReadyFunc
		closers []func() error
	)

	switch config.Type {
	case SQLiteBackend:
		s, err := storage.NewSQLiteStore(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		store, ready = s, s.Ping
		closers = append(closers, s.Close)
		f.logger.Info("Initialized SQLite backend", "component", "backend", "db_path", config.SQLiteDBPath)

	case MemoryBackend:
		s, err := f.createMemoryStore(config)
		if err != nil {
			return nil, err
		}
		store, ready = s, func(context.Context) error { return nil }
		f.logger.Info("Initialized memory backend", "component", "backend", "seed_file", config.MemorySeedFile)

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	events := f.connectEvents(ctx, config)
	if events != nil {
		closers = append(closers, events.Close)
	}

	loc := config.Location
	if loc == nil {
		loc = time.Local
	}
	clock := config.Clock
	if clock == nil {
		clock = core.SystemClock{Location: loc}
	}

	dayOpts := []daily.Option{
		daily.WithLocation(loc),
		daily.WithReadConcurrency(config.ArchiveReadConcurrency),
	}

	var caches *cache.Manager
	if config.ArchiveCacheSize > 0 {
		archives := cache.NewRecentCache[core.DailyBucket](config.ArchiveCacheSize, config.ArchiveCacheTTL)
		dayOpts = append(dayOpts, daily.WithArchiveCache(archives))
		if config.ArchiveCacheTTL > 0 {
			caches = cache.NewManager()
			caches.Register(archives)
			caches.StartCleanup(cacheCleanupInterval)
		}
	}
	if events != nil {
		dayOpts = append(dayOpts, daily.WithNotifier(events))
	}
	days := daily.NewManager(store, clock, dayOpts...)

	svcOpts := []services.Option{
		services.WithReportOptions(report.Options{Location: loc, ChartFloor: config.ChartFloor}),
	}
	if config.DefaultCurrency.Code != "" {
		svcOpts = append(svcOpts, services.WithDefaultCurrency(config.DefaultCurrency))
	}
	if events != nil {
		svcOpts = append(svcOpts, services.WithPublisher(events))
	}
	svc := services.NewFinanceService(store, ledger.New(store), days, clock, svcOpts...)

	cleanup := func() error {
		if caches != nil {
			caches.Stop()
		}
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return &BackendResult{
		Store:   store,
		Days:    days,
		Service: svc,
		Events:  events,
		Ready:   ready,
		Cleanup: cleanup,
	}, nil
}

func (f *DefaultFactory) createMemoryStore(config Config) (*memory.Store, error) {
	if config.MemorySeedFile == "" {
		return memory.New(), nil
	}
	s, err := memory.NewFromFile(config.MemorySeedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to seed memory store: %w", err)
	}
	return s, nil
}

// connectEvents returns nil when AMQP is disabled or unreachable; events are
// optional and never block startup for long.
func (f *DefaultFactory) connectEvents(ctx context.Context, config Config) *amqp.Client {
	if config.AMQPURL == "" {
		f.logger.Info("AMQP disabled, events will not be published", "component", "backend")
		return nil
	}
	client, err := amqp.Connect(ctx, config.AMQPURL, config.AMQPExchange, config.AMQPQueue, amqpConnectAttempts)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without events",
			"component", "backend",
			"error", err)
		return nil
	}
	f.logger.Info("Initialized AMQP client",
		"component", "backend",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client
}
