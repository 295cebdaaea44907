package handler

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"strings"

	"github.com/a-h/templ"
)

// JSONResponse is the envelope of every JSON body the API writes. Exactly
// one of Data and Error is set.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail is the error half of the envelope. Details lists field
// violations for validation failures.
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

// ResponseFunc adapts a plain function to Response.
type ResponseFunc func(w http.ResponseWriter, r *http.Request) error

func (f ResponseFunc) Render(w http.ResponseWriter, r *http.Request) error { return f(w, r) }

// Empty answers 204 No Content.
func Empty() Response {
	return ResponseFunc(func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

// JSONOption adjusts a JSON response before it is written.
type JSONOption func(*jsonResponse)

func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) { r.status = status }
}

func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) { r.body.Meta = meta }
}

// JSON wraps v in the envelope. A JSONResponse is written as is and an
// error is written as the error half.
func JSON(v any, opts ...JSONOption) Response {
	if err, ok := v.(error); ok {
		return JSONError(err, opts...)
	}
	res := &jsonResponse{status: http.StatusOK}
	if env, ok := v.(JSONResponse); ok {
		res.body = env
	} else {
		res.body.Data = v
	}
	return res.with(opts)
}

// JSONError writes err as the error envelope with the status it maps to.
func JSONError(err error, opts ...JSONOption) Response {
	status, detail := describe(err)
	res := &jsonResponse{status: status, body: JSONResponse{Error: detail}}
	return res.with(opts)
}

func (j *jsonResponse) with(opts []JSONOption) *jsonResponse {
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// describe maps err to a status and a client-safe detail. Server-side
// failures never expose their message.
func describe(err error) (int, *ErrorDetail) {
	var verr ValidationError
	if errors.As(err, &verr) {
		detail := &ErrorDetail{Code: "validation_error", Message: verr.Error()}
		if len(verr) > 0 {
			detail.Details = maps.Clone(map[string][]string(verr))
		}
		return http.StatusUnprocessableEntity, detail
	}

	var herr HTTPError
	ok := errors.As(err, &herr)
	if !ok {
		herr = ErrInternalServerError
	}
	detail := &ErrorDetail{Code: herr.Key, Message: http.StatusText(herr.Code)}
	if ok && herr.Code < http.StatusInternalServerError {
		detail.Message = strings.ReplaceAll(err.Error(), "\n", ": ")
	}
	return herr.Code, detail
}

type templResponse struct {
	component templ.Component
	status    int
}

// TemplOption adjusts an HTML response.
type TemplOption func(*templResponse)

func WithTemplStatus(status int) TemplOption {
	return func(t *templResponse) { t.status = status }
}

// Templ renders component as an HTML page.
//
//	return handler.Templ(HealthPage(port))
func Templ(component templ.Component, opts ...TemplOption) Response {
	t := &templResponse{component: component, status: http.StatusOK}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *templResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(t.status)
	return t.component.Render(r.Context(), w)
}
