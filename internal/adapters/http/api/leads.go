package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	model "github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/types"
)

// LeadDependencies defines the interface for leaderboard and lead reads.
type LeadDependencies interface {
	Leaderboard(ctx context.Context, search string, limit int) ([]types.Entry, error)
	LeadDetail(ctx context.Context, leadID string) (types.LeadDetail, error)
	History(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error)
}

// LeadsHandler handles lead requests.
type LeadsHandler struct {
	deps         LeadDependencies
	maxLimit     int
	historyLimit int
}

// NewLeadsHandler creates a new leads handler.
func NewLeadsHandler(deps LeadDependencies, maxLimit, historyLimit int) *LeadsHandler {
	return &LeadsHandler{deps: deps, maxLimit: maxLimit, historyLimit: historyLimit}
}

// HandleList handles GET /api/leads?limit=N&search=S. The limit defaults
// to 10 and is capped at the configured maximum.
func (h *LeadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_leads"
	n, err := h.limit(r, defaultListLimit)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	entries, err := h.deps.Leaderboard(r.Context(), search, n)
	if err != nil {
		writeError(w, WrapKind(op, kindOf(err), err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleDetail handles GET /api/leads/{id}.
func (h *LeadsHandler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_lead"
	d, err := h.deps.LeadDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, WrapKind(op, kindOf(err), err))
		return
	}
	if d.History == nil {
		d.History = []model.ScoreHistoryEntry{}
	}
	if d.Events == nil {
		d.Events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleHistory handles GET /api/leads/{id}/history?limit=N.
func (h *LeadsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_history"
	n, err := h.limit(r, h.historyLimit)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	hist, err := h.deps.History(r.Context(), chi.URLParam(r, "id"), n)
	if err != nil {
		writeError(w, WrapKind(op, kindOf(err), err))
		return
	}
	if hist == nil {
		hist = []model.ScoreHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *LeadsHandler) limit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return min(def, h.maxLimit), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", s)
	}
	return min(n, h.maxLimit), nil
}
