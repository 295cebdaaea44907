package notifications

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/notification-service/handler"
	"github.com/dmitrymomot/notification-service/pkg/binder"
	"github.com/dmitrymomot/notification-service/pkg/gateway"
	"github.com/dmitrymomot/notification-service/pkg/notifications"
)

// APIService serves the producer and admin HTTP API.
type APIService struct {
	manager      *notifications.Manager
	errorHandler handler.ErrorHandler[handler.Context]
}

func NewAPIService(manager *notifications.Manager, errorHandler handler.ErrorHandler[handler.Context]) *APIService {
	return &APIService{manager: manager, errorHandler: errorHandler}
}

func (s *APIService) Handle() http.Handler {
	r := chi.NewRouter()

	r.Route("/channels/{channel}/events", func(r chi.Router) {
		r.Post("/", handler.Wrap(s.publish,
			handler.WithBinders[handler.Context, PublishRequest](binder.Path(chi.URLParam), binder.JSON()),
			handler.ErrorHandlerFor[PublishRequest](s.errorHandler),
		))
		r.Get("/", handler.Wrap(s.events,
			handler.WithBinders[handler.Context, EventsRequest](binder.Path(chi.URLParam), binder.Query()),
			handler.ErrorHandlerFor[EventsRequest](s.errorHandler),
		))
	})

	r.Route("/subscribers/{subscriber}", func(r chi.Router) {
		r.Get("/", handler.Wrap(s.status,
			handler.WithBinders[handler.Context, StatusRequest](binder.Path(chi.URLParam)),
			handler.ErrorHandlerFor[StatusRequest](s.errorHandler),
		))
		r.Put("/channels/{channel}", handler.Wrap(s.subscribe,
			handler.WithBinders[handler.Context, SubscriptionRequest](binder.Path(chi.URLParam)),
			handler.ErrorHandlerFor[SubscriptionRequest](s.errorHandler),
		))
		r.Delete("/channels/{channel}", handler.Wrap(s.unsubscribe,
			handler.WithBinders[handler.Context, SubscriptionRequest](binder.Path(chi.URLParam)),
			handler.ErrorHandlerFor[SubscriptionRequest](s.errorHandler),
		))
	})

	r.Route("/connections/{connection}", func(r chi.Router) {
		r.Post("/ack", handler.Wrap(s.acknowledge,
			handler.WithBinders[handler.Context, AckRequest](binder.Path(chi.URLParam), binder.JSON()),
			handler.ErrorHandlerFor[AckRequest](s.errorHandler),
		))
		r.Post("/resume", handler.Wrap(s.resume,
			handler.WithBinders[handler.Context, ResumeRequest](binder.Path(chi.URLParam)),
			handler.ErrorHandlerFor[ResumeRequest](s.errorHandler),
		))
	})

	return r
}

type PublishRequest struct {
	Channel string          `path:"channel" json:"-"`
	Payload json.RawMessage `path:"-" json:"payload"`
}

// PublishResponse echoes the position assigned to a published event.
type PublishResponse struct {
	Channel   string    `json:"channel"`
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *APIService) publish(ctx handler.Context, req PublishRequest) handler.Response {
	if len(req.Payload) == 0 || bytes.Equal(req.Payload, []byte("null")) {
		verr := handler.NewValidationError()
		verr.Add("payload", "is required")
		return handler.JSONError(verr)
	}

	ev, err := s.manager.Publish(ctx, req.Channel, req.Payload)
	if err != nil {
		return handler.JSONError(MapError(err))
	}

	return handler.JSON(PublishResponse{
		Channel:   ev.Channel,
		Seq:       ev.Seq,
		CreatedAt: ev.CreatedAt,
	}, handler.WithJSONStatus(http.StatusCreated))
}

type EventsRequest struct {
	Channel string `path:"channel" query:"-"`
	After   uint64 `path:"-" query:"after"`
	Limit   int    `path:"-" query:"limit"`
}

func (s *APIService) events(ctx handler.Context, req EventsRequest) handler.Response {
	events, err := s.manager.Events(ctx, req.Channel, req.After, req.Limit)
	if err != nil {
		return handler.JSONError(MapError(err))
	}

	frames := make([]gateway.Frame, 0, len(events))
	next := req.After
	for _, ev := range events {
		frames = append(frames, gateway.NewFrame(ev))
		next = ev.Seq
	}

	return handler.JSON(frames, handler.WithJSONMeta(map[string]any{
		"count":      len(frames),
		"next_after": next,
	}))
}

type StatusRequest struct {
	Subscriber string `path:"subscriber"`
}

func (s *APIService) status(ctx handler.Context, req StatusRequest) handler.Response {
	st, err := s.manager.Status(ctx, req.Subscriber)
	if err != nil {
		return handler.JSONError(MapError(err))
	}
	return handler.JSON(st)
}

type SubscriptionRequest struct {
	Subscriber string `path:"subscriber"`
	Channel    string `path:"channel"`
}

func (s *APIService) subscribe(ctx handler.Context, req SubscriptionRequest) handler.Response {
	if err := s.manager.Subscribe(ctx, req.Subscriber, req.Channel); err != nil {
		return handler.JSONError(MapError(err))
	}
	return handler.Empty()
}

func (s *APIService) unsubscribe(ctx handler.Context, req SubscriptionRequest) handler.Response {
	if err := s.manager.Unsubscribe(ctx, req.Subscriber, req.Channel); err != nil {
		return handler.JSONError(MapError(err))
	}
	return handler.Empty()
}

type AckRequest struct {
	Connection string `path:"connection" json:"-"`
	Channel    string `path:"-" json:"channel"`
	Seq        uint64 `path:"-" json:"seq"`
}

func (s *APIService) acknowledge(ctx handler.Context, req AckRequest) handler.Response {
	verr := handler.NewValidationError()
	if req.Channel == "" {
		verr.Add("channel", "is required")
	}
	if req.Seq == 0 {
		verr.Add("seq", "must be greater than zero")
	}
	if !verr.IsEmpty() {
		return handler.JSONError(verr)
	}

	if err := s.manager.Acknowledge(ctx, req.Connection, req.Channel, req.Seq); err != nil {
		return handler.JSONError(MapError(err))
	}
	return handler.Empty()
}

type ResumeRequest struct {
	Connection string `path:"connection"`
}

func (s *APIService) resume(ctx handler.Context, req ResumeRequest) handler.Response {
	if err := s.manager.Resume(ctx, req.Connection); err != nil {
		return handler.JSONError(MapError(err))
	}
	return handler.Empty()
}
