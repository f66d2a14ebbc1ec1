package storage

import "context"

// Store is the durable string key/value provider the core persists through.
// Get reports ok=false for a key that was never written.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Lister is implemented by stores that can enumerate keys by prefix.
type Lister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Keys written by the application.
const (
	KeyTransactions   = "transactions"
	KeyCurrentDay     = "currentDayData"
	KeyArchiveList    = "archiveList"
	KeyCurrency       = "currency"
	KeyThemeName      = "themeName"
	ArchivedKeyPrefix = "archived_"
)

// ArchivedKey returns the storage key of the archived bucket for date.
func ArchivedKey(date string) string {
	return ArchivedKeyPrefix + date
}
