package handler

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/notification-service/pkg/logger"
	"github.com/dmitrymomot/notification-service/pkg/requestid"
)

// ErrorMapper translates domain errors into HTTPError values. It returns err
// unchanged when it has no mapping.
type ErrorMapper func(err error) error

// determineLogLevel maps HTTP status codes to appropriate log levels
func determineLogLevel(statusCode int) slog.Level {
	if statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError {
		return slog.LevelWarn
	}
	return slog.LevelError
}

// NewErrorHandler creates an error handler that maps err through mappers,
// logs it with the request ID and responds with the JSON error envelope.
// Configure this once in main.go and pass it to every route.
func NewErrorHandler(log *slog.Logger, mappers ...ErrorMapper) ErrorHandler[Context] {
	if log == nil {
		log = slog.Default()
	}

	return func(ctx Context, err error) {
		for _, mapErr := range mappers {
			err = mapErr(err)
		}

		response := JSONError(err).(*jsonResponse)
		r := ctx.Request()
		log.LogAttrs(r.Context(), determineLogLevel(response.status), "Request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", response.status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		if renderErr := response.Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.LogAttrs(r.Context(), slog.LevelError, "Failed to render error response",
				logger.Error(renderErr),
				logger.Component("error_handler"),
			)
		}
	}
}

// ErrorHandlerFor adapts h to a typed Wrap option.
func ErrorHandlerFor[R any](h ErrorHandler[Context]) WrapOption[Context, R] {
	return WithErrorHandler[Context, R](h)
}
