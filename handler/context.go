package handler

import (
	"context"
	"net/http"
)

// Context is the request-scoped value passed to typed handlers. It is the
// request's context.Context, so it can be handed to the engine directly,
// and it exposes the HTTP pair for responses that need them.
type Context interface {
	context.Context
	Request() *http.Request
	ResponseWriter() http.ResponseWriter
}

// NewContext binds w and r into a Context. Cancellation and values come
// from r.Context().
func NewContext(w http.ResponseWriter, r *http.Request) Context {
	return requestContext{Context: r.Context(), w: w, r: r}
}

type requestContext struct {
	context.Context
	w http.ResponseWriter
	r *http.Request
}

func (c requestContext) Request() *http.Request { return c.r }
func (c requestContext) ResponseWriter() http.ResponseWriter { return c.w }
