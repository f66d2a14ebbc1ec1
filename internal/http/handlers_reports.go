package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"cashbook/internal/core"
	"cashbook/internal/format"
	applog "cashbook/internal/log"
)

// handleReport renders /reports/{period} for daily, monthly or yearly.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	p, err := core.ParsePeriod(r.PathValue("period"))
	if err != nil {
		writeServiceError(w, r, applog.OpReport, err, nil)
		return
	}
	view, err := s.svc.FormattedReport(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, applog.OpReport, err, nil)
		return
	}
	NewJSONResponse().Body(view).Write(w)
}

// handleReports renders every period from one ledger snapshot, keyed by
// period name.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.FormattedReports(r.Context())
	if err != nil {
		writeServiceError(w, r, applog.OpReport, err, nil)
		return
	}
	NewJSONResponse().Body(views).Write(w)
}

type balanceView struct {
	Balance   json.Number   `json:"balance"`
	Formatted string        `json:"formatted"`
	Currency  core.Currency `json:"currency"`
	Excluded  []string      `json:"excluded,omitempty"`
}

// handleBalance returns the all-time balance. ?exclude=2025-01-02,2025-01-05
// leaves flagged archive days out; every other integrity problem still fails.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	var (
		balance  decimal.Decimal
		excluded []string
		err      error
	)
	if flagged := splitList(r.URL.Query().Get("exclude")); len(flagged) > 0 {
		for _, d := range flagged {
			if _, perr := time.Parse(time.DateOnly, d); perr != nil {
				writeServiceError(w, r, applog.OpBalance, &core.ValidationError{Field: "exclude", Err: core.ErrInvalidDate}, nil)
				return
			}
		}
		balance, excluded, err = s.svc.GetAllTimeBalanceExcluding(r.Context(), flagged)
	} else {
		balance, err = s.svc.GetAllTimeBalance(r.Context())
	}
	if err != nil {
		writeServiceError(w, r, applog.OpBalance, err, nil)
		return
	}

	c, err := s.svc.Currency(r.Context())
	if err != nil {
		writeServiceError(w, r, applog.OpBalance, err, nil)
		return
	}
	NewJSONResponse().Body(balanceView{
		Balance:   core.Number(balance),
		Formatted: format.FormatAmount(balance, c),
		Currency:  c,
		Excluded:  excluded,
	}).Write(w)
}

// handleDay returns today's bucket, archiving yesterday's first when the
// date changed.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := s.svc.CurrentDay(r.Context())
	if err != nil {
		writeServiceError(w, r, applog.OpRollover, err, nil)
		return
	}
	c, err := s.svc.Currency(r.Context())
	if err != nil {
		writeServiceError(w, r, applog.OpRollover, err, nil)
		return
	}

	txs := make([]transactionView, 0, len(day.Transactions))
	for _, t := range day.Transactions {
		txs = append(txs, newTransactionView(t, c))
	}
	NewJSONResponse().Body(map[string]any{
		"date":         day.Date,
		"dailyBalance": core.Number(day.DailyBalance),
		"formatted":    format.FormatAmount(day.DailyBalance, c),
		"transactions": txs,
	}).Write(w)
}

// handleExportCSV returns every transaction as a CSV attachment. The body is
// buffered so a failed read still produces a JSON error.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.svc.ExportCSV(r.Context(), &buf); err != nil {
		writeServiceError(w, r, applog.OpExport, err, nil)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions-`+time.Now().Format(time.DateOnly)+`.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleArchives(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Archives(r.Context())
	if err != nil {
		writeServiceError(w, r, applog.OpRead, err, nil)
		return
	}
	NewJSONResponse().Body(st).Write(w)
}
