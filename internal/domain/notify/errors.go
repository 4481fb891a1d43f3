package notify

import "errors"

// ErrNotification wraps transport failures. It never reaches scoring callers.
var ErrNotification = errors.New("notification failed")
