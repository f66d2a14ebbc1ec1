package backend

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cashbook/internal/amqp"
	"cashbook/internal/core"
	"cashbook/internal/daily"
	"cashbook/internal/services"
	"cashbook/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// ReadyFunc reports whether the storage behind the backend is reachable.
type ReadyFunc func(ctx context.Context) error

// BackendResult is a fully wired backend: the store, the day manager and the
// service built on top of them.
type BackendResult struct {
	Store   storage.Store
	Days    *daily.Manager
	Service *services.FinanceService
	// Events is nil when AMQP is disabled or unreachable.
	Events  *amqp.Client
	Ready   ReadyFunc
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Memory specific, optional JSON seed
	MemorySeedFile string

	// Events, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Calendar and reporting
	Location        *time.Location
	ChartFloor      decimal.Decimal
	DefaultCurrency core.Currency

	// Archive reads; a zero cache size disables the cache
	ArchiveCacheSize       int
	ArchiveCacheTTL        time.Duration
	ArchiveReadConcurrency int

	// Clock defaults to the system clock in Location
	Clock core.Clock
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
