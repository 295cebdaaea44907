// Package binder binds HTTP request data to typed request structs.
//
// Binders are plain functions with the signature of handler.Bind and are
// applied in order by handler.Wrap:
//
//	type AckRequest struct {
//	    Connection string `path:"connection"`
//	    Channel    string `json:"channel"`
//	    Seq        uint64 `json:"seq"`
//	}
//
//	r.Post("/connections/{connection}/ack", handler.Wrap(ack,
//	    handler.WithBinders[handler.Context, AckRequest](
//	        binder.Path(chi.URLParam),
//	        binder.JSON(),
//	    ),
//	))
//
// # Available Binders
//
//   - JSON(): strict JSON request body, unknown fields rejected
//   - Query(): URL query parameters by `query:` tag
//   - Path(extractor): router path parameters by `path:` tag
//
// Every binding failure wraps one of the package errors so callers can map
// them to HTTP statuses with errors.Is.
package binder
