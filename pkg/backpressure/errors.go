package backpressure

import "errors"

// ErrRetryExhausted is recorded on a stream suspended after MaxAttempts
// consecutive failures. It is observable through Status and never returned
// to producers.
var ErrRetryExhausted = errors.New("delivery retries exhausted")
