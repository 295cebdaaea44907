package notifications

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/notification-service/handler"
	"github.com/dmitrymomot/notification-service/pkg/eventstore"
	"github.com/dmitrymomot/notification-service/pkg/gateway"
	"github.com/dmitrymomot/notification-service/pkg/notifications"
	"github.com/dmitrymomot/notification-service/pkg/registry"
)

var (
	ErrStoreUnavailable  = handler.NewHTTPError(http.StatusServiceUnavailable, "store_unavailable")
	ErrChannelNotFound   = handler.NewHTTPError(http.StatusNotFound, "channel_not_found")
	ErrConnectionUnknown = handler.NewHTTPError(http.StatusNotFound, "connection_not_found")
	ErrAlreadyBound      = handler.NewHTTPError(http.StatusConflict, "already_bound")
	ErrInvalidInput      = handler.NewHTTPError(http.StatusBadRequest, "invalid_input")
)

// MapError translates engine errors into HTTP errors. Errors it does not
// know are returned unchanged.
func MapError(err error) error {
	var httpErr handler.HTTPError
	if errors.As(err, &httpErr) {
		return err
	}

	switch {
	case errors.Is(err, eventstore.ErrStoreUnavailable), errors.Is(err, registry.ErrStorage):
		return errors.Join(ErrStoreUnavailable, err)
	case errors.Is(err, eventstore.ErrChannelNotFound):
		return errors.Join(ErrChannelNotFound, err)
	case errors.Is(err, registry.ErrNotBound), errors.Is(err, gateway.ErrConnectionNotFound):
		return errors.Join(ErrConnectionUnknown, err)
	case errors.Is(err, registry.ErrAlreadyBound):
		return errors.Join(ErrAlreadyBound, err)
	case errors.Is(err, eventstore.ErrInvalidChannel),
		errors.Is(err, registry.ErrInvalidChannel),
		errors.Is(err, registry.ErrInvalidSubscriber),
		errors.Is(err, notifications.ErrInvalidLimit):
		return errors.Join(ErrInvalidInput, err)
	}
	return err
}
