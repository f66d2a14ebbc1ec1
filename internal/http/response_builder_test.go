package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"cashbook/internal/core"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Custom", "value").
		Body(map[string]int{"count": 2}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if w.Header().Get("X-Custom") != "value" {
		t.Error("Custom header not set")
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
	if strings.TrimSpace(w.Body.String()) != `{"count":2}` {
		t.Errorf("Body = %q", w.Body.String())
	}
}

func TestJSONResponseBuilder_NoBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Errorf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body struct {
		errorBody
		Transaction *core.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	if body.Transaction != nil {
		body.errorBody.Transaction = *body.Transaction
	}
	return body.errorBody
}

func TestServiceErrorMapping(t *testing.T) {
	accepted := core.Transaction{ID: 7, Type: core.Expense, Amount: decimal.NewFromInt(5), Category: core.Transport, Description: "Bus"}

	tests := []struct {
		name       string
		err        error
		accepted   *core.Transaction
		wantStatus int
		wantCode   string
	}{
		{
			name:       "validation",
			err:        &core.ValidationError{Field: "amount", Err: core.ErrInvalidAmount},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   CodeValidation,
		},
		{
			name:       "wrapped persistence",
			err:        fmt.Errorf("append: %w", &core.PersistenceError{Op: "set", Key: "transactions", Err: errors.New("disk full")}),
			accepted:   &accepted,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   CodePersistence,
		},
		{
			name:       "integrity",
			err:        &core.IntegrityError{Key: "archiveList", Dates: []string{"2025-02-09"}, Err: core.ErrArchiveMissing},
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeIntegrity,
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			serviceError(tt.err, tt.accepted).Write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeError(t, w)
			if body.Error != tt.wantCode {
				t.Errorf("error code = %q, want %q", body.Error, tt.wantCode)
			}
		})
	}
}

func TestServiceErrorDetails(t *testing.T) {
	w := httptest.NewRecorder()
	serviceError(&core.IntegrityError{Key: "archiveList", Dates: []string{"2025-02-08", "2025-02-09"}, Err: core.ErrArchiveMissing}, nil).Write(w)
	if body := decodeError(t, w); len(body.Dates) != 2 {
		t.Errorf("dates = %v", body.Dates)
	}

	w = httptest.NewRecorder()
	accepted := core.Transaction{ID: 42, Type: core.Income, Amount: decimal.NewFromInt(1), Category: core.Salary, Description: "x"}
	serviceError(&core.PersistenceError{Op: "set", Key: "transactions", Err: errors.New("x")}, &accepted).Write(w)
	body := decodeError(t, w)
	if got, ok := body.Transaction.(core.Transaction); !ok || got.ID != 42 {
		t.Errorf("transaction not echoed: %+v", body.Transaction)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("persistence failures should carry Retry-After")
	}

	w = httptest.NewRecorder()
	serviceError(&core.ValidationError{Field: "description", Err: core.ErrEmptyDescription}, nil).Write(w)
	if body := decodeError(t, w); body.Field != "description" {
		t.Errorf("field = %q", body.Field)
	}
}
