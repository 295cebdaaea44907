package clientip

import "net/http"

// Middleware is New with DefaultHeaders.
func Middleware(next http.Handler) http.Handler {
	return New()(next)
}

// New returns middleware that resolves the client IP from headers, in
// order, and stores it in the request context. Only list headers that
// the proxy in front of the service overwrites.
func New(headers ...string) func(http.Handler) http.Handler {
	if len(headers) == 0 {
		headers = DefaultHeaders
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithContext(r.Context(), resolve(r, headers))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
