package notifications

import "errors"

var ErrInvalidLimit = errors.New("notifications: limit must not be negative")
