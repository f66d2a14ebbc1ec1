package core

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// DateLayout is the calendar-day key format used for buckets and archives.
const DateLayout = "2006-01-02"

// MaxDescriptionLength bounds the free-text label of a transaction.
const MaxDescriptionLength = 200

type (
	TransactionType string

	// Transaction is an immutable ledger entry. Corrections are new entries.
	Transaction struct {
		ID          int64           `json:"id"`
		Type        TransactionType `json:"type"`
		Amount      decimal.Decimal `json:"amount"`
		Category    Category        `json:"category"`
		Date        time.Time       `json:"date"`
		Description string          `json:"description"`
	}

	// DailyBucket groups the transactions of one calendar day. Only the bucket
	// stored under currentDayData is open; archived buckets never change.
	DailyBucket struct {
		Date         string          `json:"date"`
		Transactions []Transaction   `json:"transactions"`
		DailyBalance decimal.Decimal `json:"dailyBalance"`
	}
)

// Number renders d as an unquoted JSON number. Stored amounts use this form
// so records written before decimals were introduced still round-trip.
func Number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// MarshalJSON writes Amount as a JSON number.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	return json.Marshal(struct {
		plain
		Amount json.Number `json:"amount"`
	}{plain(t), Number(t.Amount)})
}

// MarshalJSON writes DailyBalance as a JSON number.
func (b DailyBucket) MarshalJSON() ([]byte, error) {
	type plain DailyBucket
	return json.Marshal(struct {
		plain
		DailyBalance json.Number `json:"dailyBalance"`
	}{plain(b), Number(b.DailyBalance)})
}

// ParseTransactionType accepts "income" or "expense" in any case.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(strings.ToLower(strings.TrimSpace(s))) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	default:
		return "", &ValidationError{Field: "type", Err: ErrInvalidType}
	}
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// Signed returns +amount for income and -amount for expenses.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == Income {
		return t.Amount
	}
	return t.Amount.Neg()
}

// Validate checks the invariants every stored transaction must hold.
func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return &ValidationError{Field: "type", Err: ErrInvalidType}
	}
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	}
	if err := ValidateDescription(t.Description); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return &ValidationError{Field: "date", Err: ErrInvalidDate}
	}
	return nil
}

// ValidateDescription rejects blank or oversized labels.
func ValidateDescription(s string) error {
	if strings.TrimSpace(s) == "" {
		return &ValidationError{Field: "description", Err: ErrEmptyDescription}
	}
	if utf8.RuneCountInString(s) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Err: ErrDescriptionTooLong}
	}
	return nil
}

// DayKey formats t as the bucket key of its calendar day in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}

// NewBucket returns an empty open bucket for the given day key.
func NewBucket(date string) DailyBucket {
	return DailyBucket{
		Date:         date,
		Transactions: []Transaction{},
		DailyBalance: decimal.Zero,
	}
}

// With returns a copy of the bucket with t appended and the balance updated.
func (b DailyBucket) With(t Transaction) DailyBucket {
	txs := make([]Transaction, 0, len(b.Transactions)+1)
	txs = append(txs, b.Transactions...)
	txs = append(txs, t)
	return DailyBucket{
		Date:         b.Date,
		Transactions: txs,
		DailyBalance: b.DailyBalance.Add(t.Signed()),
	}
}
