package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tally/internal/core"
)

const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 10 << 20
)

// requestError marks malformed input; it maps to 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// decodeJSON reads a single JSON value from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return badRequest("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		default:
			return badRequest("invalid JSON body: %v", err)
		}
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON value")
	}
	return nil
}

// pathParam returns a trimmed, sanitized route parameter.
func pathParam(r *http.Request, name string) (string, error) {
	v := sanitizeText(chi.URLParam(r, name))
	if v == "" {
		return "", badRequest("missing %s", name)
	}
	return v, nil
}

var dateLayouts = []string{"2006-01-02", time.RFC3339}

// ParseDate accepts YYYY-MM-DD or RFC 3339 timestamps.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, badRequest("invalid date %q: use YYYY-MM-DD", s)
}

// ScopeParams holds the query of a scope lookup.
type ScopeParams struct {
	Date        time.Time
	Granularity core.Granularity
}

// ParseScopeParams reads date (required) and granularity (default date).
func ParseScopeParams(query url.Values) (ScopeParams, error) {
	raw := query.Get("date")
	if strings.TrimSpace(raw) == "" {
		return ScopeParams{}, badRequest("missing date")
	}
	date, err := ParseDate(raw)
	if err != nil {
		return ScopeParams{}, err
	}

	g := core.GranularityDate
	if v := query.Get("granularity"); strings.TrimSpace(v) != "" {
		if g, err = core.ParseGranularity(v); err != nil {
			return ScopeParams{}, badRequest("%v", err)
		}
	}
	return ScopeParams{Date: date, Granularity: g}, nil
}

// uploadReader returns the CSV payload of an import request: the "file" part
// of a multipart form, or the raw body otherwise. The caller closes it.
func uploadReader(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, badRequest("invalid multipart form: %v", err)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, badRequest("missing file field: %v", err)
		}
		return f, nil
	}
	return r.Body, nil
}
