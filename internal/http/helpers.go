package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"cashbook/internal/core"
	applog "cashbook/internal/log"
)

// sanitizeInput removes control characters other than tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// splitList parses a comma separated query value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = sanitizeInput(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// serviceError maps a domain error to its JSON response.
//
//	ValidationError  -> 422
//	PersistenceError -> 503, echoing accepted when set
//	IntegrityError   -> 500 integrity_error
//	anything else    -> 500 internal_error
func serviceError(err error, accepted *core.Transaction) *JSONResponseBuilder {
	var ve *core.ValidationError
	var pe *core.PersistenceError
	var ie *core.IntegrityError

	switch {
	case errors.As(err, &ve):
		return UnprocessableEntityError(ve.Field, ve.Error())
	case errors.As(err, &pe):
		body := errorBody{Error: CodePersistence, Message: "data could not be saved, retry later"}
		if accepted != nil {
			body.Transaction = *accepted
		}
		return NewJSONResponse().
			Status(http.StatusServiceUnavailable).
			Header("Retry-After", "5").
			Body(body)
	case errors.As(err, &ie):
		return NewJSONResponse().
			Status(http.StatusInternalServerError).
			Body(errorBody{Error: CodeIntegrity, Message: ie.Error(), Dates: ie.Dates})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse(http.StatusServiceUnavailable, CodeUnavailable, "request cancelled")
	default:
		return InternalServerError("internal error")
	}
}

// errorType classifies err for the error_type log field.
func errorType(err error) string {
	switch {
	case core.IsValidation(err):
		return applog.ErrorTypeValidation
	case core.IsPersistence(err):
		return applog.ErrorTypePersistence
	case core.IsIntegrity(err):
		return applog.ErrorTypeIntegrity
	case errors.Is(err, context.DeadlineExceeded):
		return applog.ErrorTypeTimeout
	default:
		return applog.ErrorTypeInternal
	}
}

// writeServiceError logs err against op and writes the mapped response.
// Validation failures are logged at warn, everything else at error.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error, accepted *core.Transaction) {
	logger := applog.FromContext(r.Context())
	fields := applog.NewFields().WithErrorType(errorType(err)).WithOperation(op)
	if core.IsValidation(err) {
		logger.WarnContext(r.Context(), "Request rejected", append(fields.ToSlice(), applog.FieldError, err.Error())...)
	} else {
		applog.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err, applog.ComponentHTTP, op, fields)
	}
	serviceError(err, accepted).Write(w)
}
