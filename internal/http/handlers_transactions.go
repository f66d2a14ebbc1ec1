package http

import (
	"encoding/json"
	"net/http"

	"cashbook/internal/core"
	"cashbook/internal/format"
	applog "cashbook/internal/log"
)

// transactionView is a transaction with its display amount. Date is
// rendered in UTC with millisecond precision.
type transactionView struct {
	ID              int64                `json:"id"`
	Type            core.TransactionType `json:"type"`
	Amount          json.Number          `json:"amount"`
	Category        core.Category        `json:"category"`
	Date            string               `json:"date"`
	Description     string               `json:"description"`
	FormattedAmount string               `json:"formattedAmount"`
}

func newTransactionView(t core.Transaction, c core.Currency) transactionView {
	signed := format.FormatAmount(t.Signed(), c)
	return transactionView{
		ID:              t.ID,
		Type:            t.Type,
		Amount:          core.Number(t.Amount),
		Category:        t.Category,
		Date:            t.Date.UTC().Format(format.TimestampLayout),
		Description:     t.Description,
		FormattedAmount: signed,
	}
}

// handleCreateTransaction records one transaction from a JSON or form body
// with fields type, amount, category and description.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	f, err := readBody(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	t, err := s.svc.RecordTransaction(r.Context(),
		f["type"], f["amount"], f["category"], f["description"])
	if err != nil {
		var accepted *core.Transaction
		if t.ID != 0 {
			accepted = &t
		}
		writeServiceError(w, r, applog.OpRecord, err, accepted)
		return
	}

	c, err := s.svc.Currency(r.Context())
	if err != nil {
		c = core.DefaultCurrency
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/transactions?id="+format.FormatID(t.ID)).
		Body(newTransactionView(t, c)).
		Write(w)
}

// handleListTransactions returns every transaction, newest first. Optional
// query filters: type and category.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.svc.ListTransactions(r.Context())
	if err != nil {
		writeServiceError(w, r, applog.OpList, err, nil)
		return
	}
	c, err := s.svc.Currency(r.Context())
	if err != nil {
		writeServiceError(w, r, applog.OpList, err, nil)
		return
	}

	q := r.URL.Query()
	var typ core.TransactionType
	if v := sanitizeInput(q.Get("type")); v != "" {
		if typ, err = core.ParseTransactionType(v); err != nil {
			writeServiceError(w, r, applog.OpList, err, nil)
			return
		}
	}
	var cat core.Category
	if v := sanitizeInput(q.Get("category")); v != "" {
		cat = core.ParseCategory(v)
	}

	views := make([]transactionView, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		t := txs[i]
		if typ != "" && t.Type != typ {
			continue
		}
		if cat != "" && t.Category != cat {
			continue
		}
		views = append(views, newTransactionView(t, c))
	}

	NewJSONResponse().Body(map[string]any{
		"count":        len(views),
		"transactions": views,
	}).Write(w)
}

// handleRetryPending retries persistence of transactions accepted while
// storage was failing.
func (s *Server) handleRetryPending(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RetryPending(r.Context()); err != nil {
		writeServiceError(w, r, applog.OpRecord, err, nil)
		return
	}
	NewJSONResponse().Body(map[string]any{"pending": s.svc.Pending()}).Write(w)
}
