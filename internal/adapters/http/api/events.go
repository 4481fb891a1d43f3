package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/leadscore/internal/adapters/repository"
	service "github.com/okian/leadscore/internal/app"
	model "github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/rules"
	"github.com/okian/leadscore/internal/domain/scoring"
	"github.com/okian/leadscore/internal/domain/types"
	"github.com/okian/leadscore/pkg/logger"
)

// EventDependencies defines the interface for event intake.
type EventDependencies interface {
	Submit(ctx context.Context, e model.Event) types.Outcome
	SubmitBatch(ctx context.Context, events []model.Event) int
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps   EventDependencies
	logger logger.Logger
	now    func() time.Time
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, l logger.Logger) *EventsHandler {
	return &EventsHandler{deps: deps, logger: l, now: time.Now}
}

// eventRequest is the wire shape of an incoming event.
type eventRequest struct {
	EventID   string         `json:"eventId"`
	LeadID    string         `json:"leadId"`
	EventType string         `json:"eventType"`
	Timestamp *time.Time     `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

func (e eventRequest) event() model.Event {
	ev := model.Event{
		EventID:   strings.TrimSpace(e.EventID),
		LeadID:    strings.TrimSpace(e.LeadID),
		EventType: strings.TrimSpace(e.EventType),
		Metadata:  e.Metadata,
	}
	if e.Timestamp != nil {
		ev.Timestamp = e.Timestamp.UTC()
	}
	return ev
}

type ackResponse struct {
	Message   string `json:"message"`
	EventID   string `json:"eventId"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	Score     *int64 `json:"score,omitempty"`
}

type batchResponse struct {
	Message   string `json:"message"`
	Processed int    `json:"processed"`
	Received  int    `json:"received"`
}

// HandlePostEvent handles POST /api/events.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	ev := req.event()
	out := h.deps.Submit(r.Context(), ev)

	switch {
	case out.Err != nil:
		err := WrapKind(op, kindOf(out.Err), out.Err)
		if status, _ := statusFor(err); status >= http.StatusInternalServerError {
			h.logger.Error(r.Context(), "event intake failed", logger.String("event_id", ev.EventID), logger.Error(out.Err))
		}
		writeError(w, err)
	case out.Duplicate:
		resp := ackResponse{Message: "Event already exists", EventID: ev.EventID, Status: "duplicate", Duplicate: true}
		if out.ScoreKnown {
			resp.Score = &out.NewScore
		}
		writeJSON(w, http.StatusConflict, resp)
	case out.Queued:
		writeJSON(w, http.StatusAccepted, ackResponse{Message: "Event accepted asynchronously", EventID: ev.EventID, Status: "queued"})
	default:
		writeJSON(w, http.StatusAccepted, ackResponse{Message: "Event accepted", EventID: ev.EventID, Status: "applied", Score: &out.NewScore})
	}
}

// HandlePostBatch handles POST /api/events/batch. Elements that do not
// decode or lack an id, lead or type are skipped. A missing timestamp
// defaults to the time of receipt.
func (h *EventsHandler) HandlePostBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_batch"
	var raw []json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBodyBytes)).Decode(&raw); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("expected an array of events: %w", err)))
		return
	}

	received := h.now().UTC()
	events := make([]model.Event, 0, len(raw))
	for _, item := range raw {
		var req eventRequest
		if err := json.Unmarshal(item, &req); err != nil {
			continue
		}
		ev := req.event()
		if ev.Timestamp.IsZero() {
			ev.Timestamp = received
		}
		events = append(events, ev)
	}

	n := h.deps.SubmitBatch(r.Context(), events)
	h.logger.Info(r.Context(), "batch received", logger.Int("received", len(raw)), logger.Int("processed", n))
	writeJSON(w, http.StatusOK, batchResponse{
		Message:   fmt.Sprintf("Processed %d events from batch", n),
		Processed: n,
		Received:  len(raw),
	})
}

// kindOf maps domain errors onto API kinds.
func kindOf(err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidEvent),
		errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, service.ErrInvalidLimit),
		errors.Is(err, repository.ErrInvalidLimit):
		return ErrBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, scoring.ErrEventConflict):
		return ErrConflict
	case errors.Is(err, service.ErrBackpressure):
		return ErrBackpressure
	case errors.Is(err, scoring.ErrPersistence),
		errors.Is(err, rules.ErrRuleStore),
		errors.Is(err, service.ErrNotStarted),
		errors.Is(err, context.DeadlineExceeded):
		return ErrUnavailable
	default:
		return ErrInternal
	}
}
