package requestid

import (
	"net/http"

	"github.com/google/uuid"
)

const (
	Header      = "X-Request-ID"
	maxIDLength = 128
)

// Middleware is New with the default header and UUID generator.
func Middleware(next http.Handler) http.Handler {
	return New()(next)
}

// Option configures the middleware.
type Option func(*config)

type config struct {
	header   string
	generate func() string
}

// WithHeader reads and writes the ID under header instead of X-Request-ID.
func WithHeader(header string) Option {
	return func(c *config) {
		if header != "" {
			c.header = header
		}
	}
}

// WithGenerator overrides how new IDs are minted.
func WithGenerator(fn func() string) Option {
	return func(c *config) {
		if fn != nil {
			c.generate = fn
		}
	}
}

// New builds a request ID middleware.
func New(opts ...Option) func(http.Handler) http.Handler {
	cfg := config{header: Header, generate: uuid.NewString}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(cfg.header)
			if !valid(id) {
				id = cfg.generate()
			}
			w.Header().Set(cfg.header, id)
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
		})
	}
}

// valid accepts 1 to maxIDLength characters of [A-Za-z0-9_-].
func valid(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, c := range []byte(id) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
