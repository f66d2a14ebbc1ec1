package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cashbook/internal/core"
	"cashbook/internal/daily"
	"cashbook/internal/ledger"
	applog "cashbook/internal/log"
	"cashbook/internal/middleware/trace"
	"cashbook/internal/report"
	"cashbook/internal/services"
	"cashbook/internal/storage"
	"cashbook/internal/storage/memory"
)

type testEnv struct {
	srv   *Server
	store *memory.Store
	clock *core.FixedClock
	logs  *bytes.Buffer
}

func newTestEnv(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	store := memory.New()
	clock := core.NewFixedClock(time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC))
	days := daily.NewManager(store, clock, daily.WithLocation(time.UTC))
	svc := services.NewFinanceService(store, ledger.New(store), days, clock,
		services.WithReportOptions(report.Options{Location: time.UTC, ChartFloor: report.DefaultChartFloor}))

	var logs bytes.Buffer
	logger := applog.NewText(&logs, slog.LevelDebug, applog.ComponentHTTP)
	opts = append([]Option{WithLogger(logger), WithRateLimit(1000)}, opts...)
	srv := NewServer(":0", svc, opts...)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return testEnv{srv: srv, store: store, clock: clock, logs: &logs}
}

func (e testEnv) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (e testEnv) postJSON(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, path, "application/json", body)
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(t, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get(trace.HeaderRequestID) == "" {
			t.Errorf("%s missing request id header", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s missing security headers", path)
		}
	}
}

func TestReadyReportsStorageFailure(t *testing.T) {
	env := newTestEnv(t, WithReadyCheck(func(context.Context) error { return errors.New("database is locked") }))

	rr := env.do(t, http.MethodGet, "/readyz", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "database is locked") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestCreateTransactionAndReport(t *testing.T) {
	env := newTestEnv(t)

	inputs := []string{
		`{"type":"income","amount":"1000","category":"Salary","description":"Salary"}`,
		`{"type":"expense","amount":"300","category":"Restaurants","description":"Dinner"}`,
		`{"type":"expense","amount":50,"category":"restaurants","description":"Lunch"}`,
	}
	for _, body := range inputs {
		rr := env.postJSON(t, "/transactions", body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create %s: status=%d body=%s", body, rr.Code, rr.Body.String())
		}
		env.clock.Advance(time.Minute)
	}

	// Form bodies are accepted too.
	rr := env.do(t, http.MethodPost, "/transactions", "application/x-www-form-urlencoded",
		"type=expense&amount=12,50&category=Transport&description=Bus+ticket")
	if rr.Code != http.StatusCreated {
		t.Fatalf("form create: status=%d body=%s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID              int64  `json:"id"`
		Date            string `json:"date"`
		FormattedAmount string `json:"formattedAmount"`
	}
	decodeJSON(t, rr, &created)
	if created.FormattedAmount != "-$12.50" || created.Date != "2025-02-10T09:03:00.000Z" || created.ID == 0 {
		t.Errorf("created = %+v", created)
	}
	if body := rr.Body.String(); !strings.Contains(body, `"amount":12.5,`) || !strings.Contains(body, `"category":"Transport"`) {
		t.Errorf("amount should be a JSON number: %s", body)
	}

	rr = env.do(t, http.MethodGet, "/reports/monthly", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("report status=%d body=%s", rr.Code, rr.Body.String())
	}
	var view struct {
		Total      string `json:"total"`
		Count      int    `json:"count"`
		Categories []struct {
			Name       string `json:"name"`
			Amount     string `json:"amount"`
			Percentage string `json:"percentage"`
		} `json:"categories"`
		ChartSeries []float64 `json:"chartSeries"`
	}
	decodeJSON(t, rr, &view)
	if view.Total != "$637.50" || view.Count != 4 {
		t.Errorf("total=%s count=%d", view.Total, view.Count)
	}
	if len(view.Categories) != 3 || view.Categories[0].Name != "Salary" || view.Categories[1].Amount != "$350.00" {
		t.Errorf("categories = %+v", view.Categories)
	}
	if len(view.ChartSeries) != 28 {
		t.Errorf("february chart slots = %d", len(view.ChartSeries))
	}

	rr = env.do(t, http.MethodGet, "/transactions?type=expense", "", "")
	var list struct {
		Count        int `json:"count"`
		Transactions []struct {
			Description string `json:"description"`
		} `json:"transactions"`
	}
	decodeJSON(t, rr, &list)
	if list.Count != 3 || list.Transactions[0].Description != "Bus ticket" {
		t.Errorf("expense list = %+v", list)
	}

	rr = env.do(t, http.MethodGet, "/transactions?category=Restaurants", "", "")
	decodeJSON(t, rr, &list)
	if list.Count != 2 {
		t.Errorf("restaurants list count = %d", list.Count)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantField string
	}{
		{"zero amount", `{"type":"expense","amount":"0","category":"Other","description":"x"}`, http.StatusUnprocessableEntity, "amount"},
		{"negative amount", `{"type":"expense","amount":"-5","category":"Other","description":"x"}`, http.StatusUnprocessableEntity, "amount"},
		{"blank description", `{"type":"expense","amount":"5","category":"Other","description":"   "}`, http.StatusUnprocessableEntity, "description"},
		{"bad type", `{"type":"transfer","amount":"5","category":"Other","description":"x"}`, http.StatusUnprocessableEntity, "type"},
		{"malformed", `{"type":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := env.postJSON(t, "/transactions", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			var body errorBody
			decodeJSON(t, rr, &body)
			if body.Field != tt.wantField {
				t.Errorf("field = %q, want %q", body.Field, tt.wantField)
			}
			if _, ok := env.store.Snapshot()[storage.KeyTransactions]; ok {
				t.Error("rejected input must not touch storage")
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodDelete, "/transactions", "", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
	if allow := rr.Header().Get("Allow"); !strings.Contains(allow, "POST") || !strings.Contains(allow, "GET") {
		t.Errorf("Allow = %q", allow)
	}
}

func TestUnknownPeriod(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/reports/weekly", "", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestPersistenceFailureEchoesTransaction(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailSet(storage.KeyTransactions, errors.New("quota exceeded"))

	rr := env.postJSON(t, "/transactions", `{"type":"expense","amount":"9.99","category":"Shopping","description":"Socks"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Error       string `json:"error"`
		Transaction struct {
			ID          int64  `json:"id"`
			Description string `json:"description"`
		} `json:"transaction"`
	}
	decodeJSON(t, rr, &body)
	if body.Error != CodePersistence || body.Transaction.ID == 0 || body.Transaction.Description != "Socks" {
		t.Errorf("body = %+v", body)
	}

	rr = env.do(t, http.MethodGet, "/readyz", "", "")
	if !strings.Contains(rr.Body.String(), "pending_writes") {
		t.Errorf("readyz should report pending writes: %s", rr.Body.String())
	}

	env.store.FailSet(storage.KeyTransactions, nil)
	rr = env.do(t, http.MethodPost, "/transactions/retry", "", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"pending":false`) {
		t.Fatalf("retry status=%d body=%s", rr.Code, rr.Body.String())
	}
	if _, ok := env.store.Snapshot()[storage.KeyTransactions]; !ok {
		t.Error("retry should persist the transaction")
	}
}

func TestBalanceAcrossRollover(t *testing.T) {
	env := newTestEnv(t)
	env.postJSON(t, "/transactions", `{"type":"income","amount":"100","category":"Salary","description":"Pay"}`)
	env.clock.Advance(24 * time.Hour)
	env.postJSON(t, "/transactions", `{"type":"expense","amount":"30","category":"Groceries","description":"Food"}`)

	rr := env.do(t, http.MethodGet, "/balance", "", "")
	var bal struct {
		Balance   json.Number `json:"balance"`
		Formatted string      `json:"formatted"`
	}
	decodeJSON(t, rr, &bal)
	if bal.Balance.String() != "70" || bal.Formatted != "$70.00" {
		t.Errorf("balance = %+v", bal)
	}

	rr = env.do(t, http.MethodGet, "/day", "", "")
	var day struct {
		Date         string          `json:"date"`
		Transactions []json.RawMessage `json:"transactions"`
	}
	decodeJSON(t, rr, &day)
	if day.Date != "2025-02-11" || len(day.Transactions) != 1 {
		t.Errorf("day = %+v", day)
	}
}

func TestBalanceIntegrityAndExclusion(t *testing.T) {
	env := newTestEnv(t)
	env.postJSON(t, "/transactions", `{"type":"income","amount":"100","category":"Salary","description":"Pay"}`)
	env.clock.Advance(24 * time.Hour)
	env.postJSON(t, "/transactions", `{"type":"expense","amount":"30","category":"Groceries","description":"Food"}`)
	env.store.Delete(storage.ArchivedKey("2025-02-10"))

	rr := env.do(t, http.MethodGet, "/balance", "", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body errorBody
	decodeJSON(t, rr, &body)
	if body.Error != CodeIntegrity || len(body.Dates) != 1 || body.Dates[0] != "2025-02-10" {
		t.Errorf("body = %+v", body)
	}
	if !strings.Contains(env.logs.String(), "error_type=integrity_error") {
		t.Errorf("integrity failure not logged:\n%s", env.logs.String())
	}

	rr = env.do(t, http.MethodGet, "/balance?exclude=2025-02-10", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("excluded status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"balance":-30`) || !strings.Contains(rr.Body.String(), `"excluded":["2025-02-10"]`) {
		t.Errorf("body = %s", rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/balance?exclude=yesterday", "", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad exclude date status=%d", rr.Code)
	}
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t)
	env.postJSON(t, "/transactions", `{"type":"expense","amount":"4.5","category":"Restaurants","description":"Coffee \"large\""}`)

	rr := env.do(t, http.MethodGet, "/export.csv", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	want := "Date,Type,Amount,Category,Description\n" +
		`2025-02-10T09:00:00.000Z,expense,4.5,Restaurants,"Coffee ""large"""` + "\n"
	if rr.Body.String() != want {
		t.Errorf("csv = %q, want %q", rr.Body.String(), want)
	}
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/settings/currency", "", "")
	if !strings.Contains(rr.Body.String(), `"code":"USD"`) {
		t.Errorf("default currency body = %s", rr.Body.String())
	}

	rr = env.do(t, http.MethodPut, "/settings/currency", "application/json", `{"code":"eur"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"symbol":"€"`) {
		t.Fatalf("set currency status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPut, "/settings/currency", "application/json", `{"code":"XYZ"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown currency status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/settings/theme", "application/x-www-form-urlencoded", "theme=Ocean")
	if rr.Code != http.StatusOK {
		t.Fatalf("set theme status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodGet, "/settings/theme", "", "")
	if strings.TrimSpace(rr.Body.String()) != `{"theme":"Ocean"}` {
		t.Errorf("theme body = %s", rr.Body.String())
	}
	rr = env.do(t, http.MethodPut, "/settings/theme", "application/json", `{"theme":""}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty theme status=%d", rr.Code)
	}
}

func TestCorruptCurrencyIsIntegrityError(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.Set(context.Background(), storage.KeyCurrency, "{not json"); err != nil {
		t.Fatal(err)
	}
	rr := env.do(t, http.MethodGet, "/settings/currency", "", "")
	if rr.Code != http.StatusInternalServerError || !strings.Contains(rr.Body.String(), CodeIntegrity) {
		t.Errorf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, WithRateLimit(2))
	for i := 0; i < 2; i++ {
		if rr := env.do(t, http.MethodGet, "/healthz", "", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	rr := env.do(t, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("metrics should be limited too, status=%d", rr.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/healthz", "", "")

	rr := env.do(t, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	for _, want := range []string{"http_requests_total 2", "ledger_pending_writes 0", "# TYPE uptime_seconds gauge"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Errorf("metrics missing %q:\n%s", want, rr.Body.String())
		}
	}
}

func TestAllReportsAndArchives(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.postJSON(t, "/transactions", `{"type":"expense","amount":"8","category":"Travel","description":"Metro"}`); rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}

	rr := env.do(t, http.MethodGet, "/reports", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reports status=%d body=%s", rr.Code, rr.Body.String())
	}
	var views map[string]struct {
		Total string `json:"total"`
	}
	decodeJSON(t, rr, &views)
	for _, p := range []string{"daily", "monthly", "yearly"} {
		if views[p].Total != "-$8.00" {
			t.Errorf("%s total = %q", p, views[p].Total)
		}
	}

	env.clock.Advance(24 * time.Hour)
	if rr := env.do(t, http.MethodGet, "/day", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("day status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/archives", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("archives status=%d body=%s", rr.Code, rr.Body.String())
	}
	var st struct {
		Dates    []string `json:"dates"`
		Dangling []string `json:"dangling"`
	}
	decodeJSON(t, rr, &st)
	if len(st.Dates) != 1 || st.Dates[0] != "2025-02-10" || len(st.Dangling) != 0 {
		t.Errorf("archives = %+v", st)
	}
}
