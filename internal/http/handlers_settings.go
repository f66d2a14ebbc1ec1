package http

import (
	"net/http"

	"cashbook/internal/core"
	applog "cashbook/internal/log"
)

func (s *Server) handleGetCurrency(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Currency(r.Context())
	if err != nil {
		writeServiceError(w, r, applog.OpSettings, err, nil)
		return
	}
	NewJSONResponse().Body(map[string]any{
		"currency":  c,
		"supported": core.Currencies(),
	}).Write(w)
}

// handleSetCurrency accepts {"code": "EUR"} or code=EUR.
func (s *Server) handleSetCurrency(w http.ResponseWriter, r *http.Request) {
	f, err := readBody(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	c, err := s.svc.SetCurrency(r.Context(), f["code"])
	if err != nil {
		writeServiceError(w, r, applog.OpSettings, err, nil)
		return
	}
	NewJSONResponse().Body(map[string]any{"currency": c}).Write(w)
}

func (s *Server) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	name, err := s.svc.Theme(r.Context())
	if err != nil {
		writeServiceError(w, r, applog.OpSettings, err, nil)
		return
	}
	NewJSONResponse().Body(map[string]string{"theme": name}).Write(w)
}

// handleSetTheme accepts {"theme": "dark"} or theme=dark. The name is opaque.
func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	f, err := readBody(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	name := f["theme"]
	if err := s.svc.SetTheme(r.Context(), name); err != nil {
		writeServiceError(w, r, applog.OpSettings, err, nil)
		return
	}
	NewJSONResponse().Body(map[string]string{"theme": name}).Write(w)
}
