package binder

import (
	"fmt"
	"net/http"
)

// Path creates a path parameter binder using extractor, typically chi.URLParam.
// Fields are matched by `path:"name"` tags.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor function is nil", ErrFailedToParsePath)
		}

		names, err := fieldNames(v, "path", ErrFailedToParsePath)
		if err != nil {
			return err
		}

		values := make(map[string][]string, len(names))
		for _, name := range names {
			if value := extractor(r, name); value != "" {
				values[name] = []string{value}
			}
		}
		return bindToStruct(v, "path", values, ErrFailedToParsePath)
	}
}
