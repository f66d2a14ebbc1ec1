// Package ledger is the append-only transaction store. It is the single
// source of truth every report is computed from.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cashbook/internal/core"
	"cashbook/internal/storage"
)

// Ledger keeps the transaction log in memory and mirrors it to the
// transactions key after every append.
type Ledger struct {
	store storage.Store

	mu     sync.RWMutex
	loaded bool
	items  []core.Transaction
	dirty  bool
}

func New(store storage.Store) *Ledger {
	return &Ledger{store: store}
}

// Append adds t to the log. The in-memory log is updated even when the
// durable write fails; the returned PersistenceError tells the caller to
// retry with Flush.
func (l *Ledger) Append(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(ctx); err != nil {
		return err
	}

	l.items = append(l.items, t)
	l.dirty = true
	return l.persistLocked(ctx)
}

// All returns a snapshot of every transaction in insertion order.
func (l *Ledger) All(ctx context.Context) ([]core.Transaction, error) {
	l.mu.RLock()
	if l.loaded {
		out := make([]core.Transaction, len(l.items))
		copy(out, l.items)
		l.mu.RUnlock()
		return out, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]core.Transaction, len(l.items))
	copy(out, l.items)
	return out, nil
}

// Len returns the number of transactions in the log.
func (l *Ledger) Len(ctx context.Context) (int, error) {
	all, err := l.All(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// LastID returns the highest stored identifier, zero for an empty log.
func (l *Ledger) LastID(ctx context.Context) (int64, error) {
	all, err := l.All(ctx)
	if err != nil {
		return 0, err
	}
	var last int64
	for _, t := range all {
		if t.ID > last {
			last = t.ID
		}
	}
	return last, nil
}

// Pending reports whether appended transactions are still waiting for a
// successful durable write.
func (l *Ledger) Pending() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dirty
}

// Flush retries persisting the in-memory log.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil
	}
	return l.persistLocked(ctx)
}

func (l *Ledger) loadLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}

	raw, ok, err := l.store.Get(ctx, storage.KeyTransactions)
	if err != nil {
		return &core.PersistenceError{Op: "get", Key: storage.KeyTransactions, Err: err}
	}

	var items []core.Transaction
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return &core.IntegrityError{
				Key: storage.KeyTransactions,
				Err: fmt.Errorf("%w: %v", core.ErrCorruptRecord, err),
			}
		}
	}

	l.items = items
	l.loaded = true
	slog.DebugContext(ctx, "Ledger loaded", "component", "ledger", "count", len(items))
	return nil
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	items := l.items
	if items == nil {
		items = []core.Transaction{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal transactions: %w", err)
	}

	if err := l.store.Set(ctx, storage.KeyTransactions, string(data)); err != nil {
		slog.ErrorContext(ctx, "Failed to persist transactions",
			"component", "ledger",
			"count", len(items),
			"error", err)
		return &core.PersistenceError{Op: "set", Key: storage.KeyTransactions, Err: err}
	}

	l.dirty = false
	return nil
}
