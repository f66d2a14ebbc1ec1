package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cashbook/internal/core"
)

// Routing keys for the events published on the exchange.
const (
	RoutingTransactionRecorded = "transaction.recorded"
	RoutingDayArchived         = "day.archived"
)

// TransactionRecordedMessage announces a newly recorded transaction.
type TransactionRecordedMessage struct {
	ID        int64                `json:"id"`
	Type      core.TransactionType `json:"type"`
	Amount    decimal.Decimal      `json:"amount"`
	Category  core.Category        `json:"category"`
	Date      time.Time            `json:"date"`
	Timestamp time.Time            `json:"timestamp"`
}

func NewTransactionRecordedMessage(t core.Transaction) *TransactionRecordedMessage {
	return &TransactionRecordedMessage{
		ID:        t.ID,
		Type:      t.Type,
		Amount:    t.Amount,
		Category:  t.Category,
		Date:      t.Date,
		Timestamp: time.Now(),
	}
}

// MarshalJSON writes Amount as a JSON number, the same form the ledger
// stores.
func (m TransactionRecordedMessage) MarshalJSON() ([]byte, error) {
	type plain TransactionRecordedMessage
	return json.Marshal(struct {
		plain
		Amount json.Number `json:"amount"`
	}{plain(m), core.Number(m.Amount)})
}

func (m *TransactionRecordedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DayArchivedMessage announces that a day bucket was moved to the archive.
type DayArchivedMessage struct {
	Date         string          `json:"date"`
	DailyBalance decimal.Decimal `json:"dailyBalance"`
	Count        int             `json:"count"`
	Timestamp    time.Time       `json:"timestamp"`
}

func NewDayArchivedMessage(b core.DailyBucket) *DayArchivedMessage {
	return &DayArchivedMessage{
		Date:         b.Date,
		DailyBalance: b.DailyBalance,
		Count:        len(b.Transactions),
		Timestamp:    time.Now(),
	}
}

func (m DayArchivedMessage) MarshalJSON() ([]byte, error) {
	type plain DayArchivedMessage
	return json.Marshal(struct {
		plain
		DailyBalance json.Number `json:"dailyBalance"`
	}{plain(m), core.Number(m.DailyBalance)})
}

func (m *DayArchivedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Event is a delivery handed to consumers.
type Event struct {
	RoutingKey string
	Body       []byte
}

// Transaction decodes a transaction.recorded body.
func (e Event) Transaction() (*TransactionRecordedMessage, error) {
	if e.RoutingKey != RoutingTransactionRecorded {
		return nil, fmt.Errorf("event %q is not %s", e.RoutingKey, RoutingTransactionRecorded)
	}
	var msg TransactionRecordedMessage
	if err := json.Unmarshal(e.Body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DayArchived decodes a day.archived body.
func (e Event) DayArchived() (*DayArchivedMessage, error) {
	if e.RoutingKey != RoutingDayArchived {
		return nil, fmt.Errorf("event %q is not %s", e.RoutingKey, RoutingDayArchived)
	}
	var msg DayArchivedMessage
	if err := json.Unmarshal(e.Body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
