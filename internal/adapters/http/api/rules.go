package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	model "github.com/okian/leadscore/internal/domain/model"
)

// RuleDependencies defines the interface for scoring rule management.
type RuleDependencies interface {
	Rules(ctx context.Context) ([]model.ScoringRule, error)
	UpsertRule(ctx context.Context, eventType string, points int64, active bool) (model.ScoringRule, error)
}

// RulesHandler handles rule requests.
type RulesHandler struct {
	deps RuleDependencies
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(deps RuleDependencies) *RulesHandler {
	return &RulesHandler{deps: deps}
}

var errPointsRequired = errors.New("points is required")

type ruleRequest struct {
	EventType string `json:"eventType"`
	Points    *int64 `json:"points"`
	IsActive  *bool  `json:"isActive"`
}

// HandleList handles GET /api/rules.
func (h *RulesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_rules"
	rs, err := h.deps.Rules(r.Context())
	if err != nil {
		writeError(w, WrapKind(op, kindOf(err), err))
		return
	}
	if rs == nil {
		rs = []model.ScoringRule{}
	}
	writeJSON(w, http.StatusOK, rs)
}

// HandleUpsert handles POST /api/rules. isActive defaults to true.
func (h *RulesHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	const op = "api.upsert_rule"
	var req ruleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Points == nil {
		writeError(w, WrapKind(op, ErrBadRequest, errPointsRequired))
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rule, err := h.deps.UpsertRule(r.Context(), req.EventType, *req.Points, active)
	if err != nil {
		writeError(w, WrapKind(op, kindOf(err), err))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
