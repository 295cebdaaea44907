package binder

import "errors"

// Content negotiation failures.
var (
	ErrMissingContentType   = errors.New("binder: content type is missing")
	ErrUnsupportedMediaType = errors.New("binder: content type is not supported")
	ErrRequestTooLarge      = errors.New("binder: body exceeds size limit")
)

// Decoding failures, by request part.
var (
	ErrFailedToParseJSON  = errors.New("binder: invalid JSON body")
	ErrFailedToParseQuery = errors.New("binder: invalid query")
	ErrFailedToParsePath  = errors.New("binder: invalid path")
)
