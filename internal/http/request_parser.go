package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
)

// maxBodyBytes caps request bodies; a transaction is a few hundred bytes.
const maxBodyBytes = 16 << 10

var errBodyTooLarge = errors.New("request body too large")

// bodyFields holds the sanitized top-level string fields of a write request.
// Missing keys read as "".
type bodyFields map[string]string

// readBody accepts a JSON object or a form-encoded body. JSON numbers keep
// their literal text, so "amount": 12.50 reads as "12.50". Nested values
// are ignored.
func readBody(w http.ResponseWriter, r *http.Request) (bodyFields, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return bodyFields{}, nil
	}
	if isJSON(r.Header.Get("Content-Type"), data) {
		return jsonFields(data)
	}

	form, err := url.ParseQuery(string(data))
	if err != nil {
		return nil, err
	}
	f := make(bodyFields, len(form))
	for k := range form {
		f[k] = sanitizeInput(form.Get(k))
	}
	return f, nil
}

func isJSON(contentType string, data []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "application/json" {
		return true
	}
	return data[0] == '{'
}

func jsonFields(data []byte) (bodyFields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON object")
	}

	f := make(bodyFields, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			f[k] = sanitizeInput(val)
		case json.Number:
			f[k] = val.String()
		case bool:
			f[k] = strconv.FormatBool(val)
		}
	}
	return f, nil
}

// writeBodyError answers an unreadable body with 413 or 400.
func writeBodyError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		ErrorResponse(http.StatusRequestEntityTooLarge, CodeBadRequest, err.Error()).Write(w)
		return
	}
	BadRequestError("malformed request body").Write(w)
}
