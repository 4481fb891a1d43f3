package notify

import (
	"time"

	"github.com/okian/leadscore/pkg/logger"
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithBuffer sets the dispatch queue and per-subscriber buffer size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithTransport forwards every update to t as well as to subscribers.
func WithTransport(t Transport) Option {
	return func(h *Hub) {
		if t != nil {
			h.transports = append(h.transports, t)
		}
	}
}

// WithTransportTimeout bounds each transport call.
func WithTransportTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.transportTimeout = d
		}
	}
}

// WithLogger sets the logger for transport failures.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}
