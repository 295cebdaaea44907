package handler

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/notification-service/pkg/binder"
)

// HandlerFunc is a typed endpoint: it receives a bound request of type R and
// returns what to write back.
//
//	ack := handler.HandlerFunc[handler.Context, AckRequest](
//		func(ctx handler.Context, req AckRequest) handler.Response {
//			if err := manager.Acknowledge(ctx, req.Connection, req.Channel, req.Seq); err != nil {
//				return handler.JSONError(err)
//			}
//			return handler.Empty()
//		},
//	)
type HandlerFunc[C Context, R any] func(ctx C, req R) Response

// Response writes status, headers and body.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Bind fills v from one part of the request.
type Bind func(r *http.Request, v any) error

// ErrorHandler writes the reply for a failed bind or render.
type ErrorHandler[C Context] func(ctx C, err error)

type WrapOption[C Context, R any] func(*route[C, R])

// route is one wrapped endpoint.
type route[C Context, R any] struct {
	handle     HandlerFunc[C, R]
	binders    []Bind
	onError    ErrorHandler[C]
	newContext func(http.ResponseWriter, *http.Request) C
}

// WithBinders appends binders. They run in order, each filling the fields
// tagged for it.
func WithBinders[C Context, R any](binders ...Bind) WrapOption[C, R] {
	return func(rt *route[C, R]) { rt.binders = append(rt.binders, binders...) }
}

func WithErrorHandler[C Context, R any](h ErrorHandler[C]) WrapOption[C, R] {
	return func(rt *route[C, R]) {
		if h != nil {
			rt.onError = h
		}
	}
}

// WithContextFactory is required when C is not the plain Context.
func WithContextFactory[C Context, R any](f func(http.ResponseWriter, *http.Request) C) WrapOption[C, R] {
	return func(rt *route[C, R]) {
		if f != nil {
			rt.newContext = f
		}
	}
}

// Wrap turns h into an http.HandlerFunc.
//
//	r.Get("/subscribers/{subscriber}", handler.Wrap(status,
//		handler.WithBinders[handler.Context, StatusRequest](binder.Path(chi.URLParam)),
//		handler.WithErrorHandler[handler.Context, StatusRequest](errorHandler),
//	))
func Wrap[C Context, R any](h HandlerFunc[C, R], opts ...WrapOption[C, R]) http.HandlerFunc {
	rt := &route[C, R]{
		handle:     h,
		onError:    renderError[C],
		newContext: plainContext[C],
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt.serve
}

func (rt *route[C, R]) serve(w http.ResponseWriter, r *http.Request) {
	ctx := rt.newContext(w, r)

	var req R
	for _, bind := range rt.binders {
		if err := bind(r, &req); err != nil {
			rt.onError(ctx, classifyBindError(err))
			return
		}
	}

	res := rt.handle(ctx, req)
	if res == nil {
		rt.onError(ctx, ErrNilResponse)
		return
	}
	if err := res.Render(w, r); err != nil {
		rt.onError(ctx, err)
	}
}

func plainContext[C Context](w http.ResponseWriter, r *http.Request) C {
	c, ok := NewContext(w, r).(C)
	if !ok {
		panic("handler: custom context type needs WithContextFactory")
	}
	return c
}

func renderError[C Context](ctx C, err error) {
	if JSONError(err).Render(ctx.ResponseWriter(), ctx.Request()) != nil {
		http.Error(ctx.ResponseWriter(), http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func classifyBindError(err error) error {
	switch {
	case errors.Is(err, binder.ErrUnsupportedMediaType), errors.Is(err, binder.ErrMissingContentType):
		return errors.Join(ErrUnsupportedMediaType, err)
	case errors.Is(err, binder.ErrRequestTooLarge):
		return errors.Join(ErrRequestTooLarge, err)
	default:
		return errors.Join(ErrBadRequest, err)
	}
}
