package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postBody(body, contentType string) (*httptest.ResponseRecorder, *http.Request) {
	req := httptest.NewRequest(http.MethodPost, "/transactions", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return httptest.NewRecorder(), req
}

func TestReadBodyJSON(t *testing.T) {
	w, req := postBody(`{"type": "expense", "description": " Lunch ", "amount": 12.50, "recurring": false, "meta": {"x": 1}}`, "application/json; charset=utf-8")

	f, err := readBody(w, req)
	if err != nil {
		t.Fatalf("readBody() error = %v", err)
	}
	want := bodyFields{"type": "expense", "description": "Lunch", "amount": "12.50", "recurring": "false"}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("f[%q] = %q, want %q", k, f[k], v)
		}
	}
	if _, ok := f["meta"]; ok {
		t.Error("nested values should be ignored")
	}
	if f["category"] != "" {
		t.Errorf("missing key = %q, want empty", f["category"])
	}
}

func TestReadBodyJSONWithoutContentType(t *testing.T) {
	w, req := postBody(`{"code":"EUR"}`, "")
	f, err := readBody(w, req)
	if err != nil || f["code"] != "EUR" {
		t.Fatalf("f = %v, err = %v", f, err)
	}
}

func TestReadBodyForm(t *testing.T) {
	w, req := postBody("type=income&description=form+test&amount=100&amount=5", "application/x-www-form-urlencoded")

	f, err := readBody(w, req)
	if err != nil {
		t.Fatalf("readBody() error = %v", err)
	}
	if f["description"] != "form test" || f["amount"] != "100" {
		t.Errorf("f = %v", f)
	}
}

func TestReadBodyEmpty(t *testing.T) {
	w, req := postBody("  ", "")
	f, err := readBody(w, req)
	if err != nil || len(f) != 0 {
		t.Fatalf("f = %v, err = %v", f, err)
	}
}

func TestReadBodyErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		ct       string
		tooLarge bool
	}{
		{"broken json", `{"type": `, "application/json", false},
		{"json array by content type", `[1,2]`, "application/json", false},
		{"trailing json", `{"a":"b"} {"c":"d"}`, "application/json", false},
		{"bad form escape", "description=%zz", "application/x-www-form-urlencoded", false},
		{"too large", "description=" + strings.Repeat("x", maxBodyBytes), "application/x-www-form-urlencoded", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, req := postBody(tt.body, tt.ct)
			_, err := readBody(w, req)
			if err == nil {
				t.Fatal("readBody() should fail")
			}
			if errors.Is(err, errBodyTooLarge) != tt.tooLarge {
				t.Errorf("err = %v, tooLarge = %v", err, tt.tooLarge)
			}

			rec := httptest.NewRecorder()
			writeBodyError(rec, err)
			want := http.StatusBadRequest
			if tt.tooLarge {
				want = http.StatusRequestEntityTooLarge
			}
			if rec.Code != want {
				t.Errorf("status = %d, want %d", rec.Code, want)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Coffee  ", "Coffee"},
		{"Tab\tkept", "Tab\tkept"},
		{"bell\x07gone", "bellgone"},
		{"\x00\x1b", ""},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" 2025-01-02, ,2025-01-05,")
	if len(got) != 2 || got[0] != "2025-01-02" || got[1] != "2025-01-05" {
		t.Errorf("splitList() = %q", got)
	}
	if splitList("") != nil {
		t.Error("empty input should yield nil")
	}
}
