// Package handler provides type-safe HTTP request handling for the
// notification service API.
//
// Handlers bind requests to Go structs and return typed responses:
//
//	type PublishRequest struct {
//		Channel string          `path:"channel"`
//		Payload json.RawMessage `json:"payload"`
//	}
//
//	func publish(ctx handler.Context, req PublishRequest) handler.Response {
//		ev, err := manager.Publish(ctx, req.Channel, req.Payload)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(ev, handler.WithJSONStatus(http.StatusCreated))
//	}
//
//	r.Post("/channels/{channel}/events", handler.Wrap(publish,
//		handler.WithBinders[handler.Context, PublishRequest](
//			binder.Path(chi.URLParam),
//			binder.JSON(),
//		),
//	))
//
// # Response Types
//
//	handler.JSON(data)                          // 200 {"data": ...}
//	handler.JSON(data, handler.WithJSONStatus(201))
//	handler.JSONError(err)                      // {"error": {"code","message"}}
//	handler.Empty()                             // 204 No Content
//	handler.Templ(component)                    // HTML rendered with templ
//
// # Errors
//
// HTTPError carries a status code and a stable machine-readable key. Errors
// returned from binders or rendering go through the ErrorHandler; the
// default one responds with the JSON error envelope. Binding failures map to
// 400, or 415 for an unsupported media type.
package handler
