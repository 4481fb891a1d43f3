// Package api serves the intake and read HTTP API on a chi router.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/okian/leadscore/internal/adapters/http/swagger"
	"github.com/okian/leadscore/pkg/logger"
	"github.com/okian/leadscore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultMaxLimit     = 100
	defaultListLimit    = 10
	defaultHistoryLimit = 50
	defaultHeartbeat    = 15 * time.Second
	maxBodyBytes        = 1 << 20
	maxBatchBodyBytes   = 16 << 20
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EventDependencies
	LeadDependencies
	RuleDependencies
	StreamDependencies
	HealthDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	eventsHandler *EventsHandler
	leadsHandler  *LeadsHandler
	rulesHandler  *RulesHandler
	streamHandler *StreamHandler

	maxLimit     int
	historyLimit int
	heartbeat    time.Duration
	origins      []string
	logger       logger.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMaxLimit caps the limit query parameter on listings.
func WithMaxLimit(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithHistoryLimit sets the default history page size.
func WithHistoryLimit(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithHeartbeat sets the keep-alive interval of the event stream.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithAllowedOrigins sets the origins admitted by CORS. "*" admits any.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...ServerOption) *Server {
	s := &Server{
		maxLimit:     defaultMaxLimit,
		historyLimit: defaultHistoryLimit,
		heartbeat:    defaultHeartbeat,
		origins:      []string{"*"},
		logger:       logger.Nop(),
		closing:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(deps)
	s.eventsHandler = NewEventsHandler(deps, s.logger)
	s.leadsHandler = NewLeadsHandler(deps, s.maxLimit, s.historyLimit)
	s.rulesHandler = NewRulesHandler(deps)
	s.streamHandler = NewStreamHandler(deps, s.heartbeat, s.logger, s.closing)
	return s
}

// CloseStreams ends open event streams and refuses new ones. Register it
// with http.Server.RegisterOnShutdown so streams do not hold up Shutdown.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Routes builds the router.
func (s *Server) Routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS(s.origins))
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	swagger.Register(ctx, r)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.healthHandler.HandleInfo)

		r.Post("/events", s.eventsHandler.HandlePostEvent)
		r.Post("/events/batch", s.eventsHandler.HandlePostBatch)

		r.Get("/leads", s.leadsHandler.HandleList)
		r.Get("/leads/{id}", s.leadsHandler.HandleDetail)
		r.Get("/leads/{id}/history", s.leadsHandler.HandleHistory)

		r.Get("/rules", s.rulesHandler.HandleList)
		r.Post("/rules", s.rulesHandler.HandleUpsert)

		r.Get("/stream", s.streamHandler.HandleStream)
	})

	s.logger.Debug(ctx, "http routes registered")
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error kind to a status and writes it.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
