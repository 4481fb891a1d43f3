package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/leadscore/internal/domain/notify"
	"github.com/okian/leadscore/pkg/logger"
)

const leadUpdatedEvent = "leadUpdated"

// StreamDependencies defines the interface for score change subscriptions.
type StreamDependencies interface {
	Subscribe() (*notify.Subscription, error)
}

// StreamHandler pushes score changes to browsers as server-sent events.
type StreamHandler struct {
	deps      StreamDependencies
	heartbeat time.Duration
	logger    logger.Logger
	closing   <-chan struct{}
}

// NewStreamHandler creates a new stream handler. Streams end when closing
// is closed; a nil channel never ends them.
func NewStreamHandler(deps StreamDependencies, heartbeat time.Duration, l logger.Logger, closing <-chan struct{}) *StreamHandler {
	return &StreamHandler{deps: deps, heartbeat: heartbeat, logger: l, closing: closing}
}

// HandleStream handles GET /api/stream. Each update is sent as a
// leadUpdated event carrying {"leadId","score"}. Updates missed by a slow
// client are dropped; clients reconcile by re-reading the leaderboard.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	const op = "api.stream"
	select {
	case <-h.closing:
		writeError(w, NewKind(op, ErrUnavailable))
		return
	default:
	}

	sub, err := h.deps.Subscribe()
	if err != nil {
		writeError(w, WrapKind(op, kindOf(err), err))
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Warn(r.Context(), "event stream not flushable", logger.Error(err))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.closing:
			return
		case u, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(u)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", leadUpdatedEvent, data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
