package binder

import "net/http"

// Query creates a query parameter binder.
//
// Fields are matched by `query:"name"` tags, `query:"-"` skips a field.
// Slices accept repeated parameters (?channel=a&channel=b) or comma-separated
// values; pointers mark optional fields.
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrFailedToParseQuery)
	}
}
