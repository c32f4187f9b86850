// Package hubhttp exposes a hub over HTTP: status and health endpoints, event
// injection, instance restart, and a Prometheus metrics surface.
package hubhttp

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-statemachine"
	"github.com/goliatone/go-statemachine/hub"
)

// Option configures the handler.
type Option func(*server)

// WithLogger sets the request logger.
func WithLogger(logger statemachine.Logger) Option {
	return func(s *server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry supplies an external Prometheus registry. By default each
// handler owns a private one.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

type server struct {
	hub      *hub.Hub
	logger   statemachine.Logger
	registry *prometheus.Registry
	metrics  *requestMetrics
}

type eventRequest struct {
	Event    string         `json:"event"`
	Priority *int           `json:"priority,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// NewHandler builds the hub's HTTP handler.
func NewHandler(h *hub.Hub, opts ...Option) http.Handler {
	s := &server{
		hub:      h,
		logger:   statemachine.NewFmtLogger(nil),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.registry.MustRegister(&hubCollector{hub: h})
	s.metrics = newRequestMetrics(s.registry)

	r := chi.NewRouter()
	r.Get("/healthz", s.instrument("/healthz", s.healthz))
	r.Get("/status", s.instrument("/status", s.status))
	r.Get("/instances/{id}", s.instrument("/instances/{id}", s.instance))
	r.Post("/instances/{id}/events", s.instrument("/instances/{id}/events", s.sendEvent))
	r.Post("/instances/{id}/restart", s.instrument("/instances/{id}/restart", s.restart))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		s.metrics.requests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		s.metrics.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	}
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.hub.IsHealthy() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Status())
}

func (s *server) instance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	handle, ok := s.hub.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: "instance not found",
			Code:  statemachine.ErrCodeInstanceNotFound,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 handle.ID(),
		"state":              handle.CurrentState(),
		"healthy":            handle.IsHealthy(),
		"pending_events":     handle.PendingEvents(),
		"active_transitions": handle.ActiveTransitions(),
	})
}

func (s *server) sendEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body eventRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if body.Event == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "event name is required"})
		return
	}

	evt := statemachine.Event{Name: body.Event, Priority: statemachine.PriorityDefault}
	if body.Priority != nil {
		evt.Priority = *body.Priority
	}
	if body.Payload != nil {
		evt.Payload = body.Payload
	}

	if err := s.hub.Send(r.Context(), id, evt); err != nil {
		s.writeError(w, err, "event rejected")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "event": evt.Name})
}

func (s *server) restart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.hub.Restart(r.Context(), id); err != nil {
		s.writeError(w, err, "restart failed")
		return
	}
	s.logger.Info("instance %s restarted over http", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted", "instance": id})
}

func (s *server) writeError(w http.ResponseWriter, err error, msg string) {
	code := statemachine.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case statemachine.ErrCodeInstanceNotFound:
		status = http.StatusNotFound
	case statemachine.ErrCodeInvalidEvent, statemachine.ErrCodeGuardRejected,
		statemachine.ErrCodeTerminalState, statemachine.ErrCodePreconditionFailed:
		status = http.StatusConflict
	case statemachine.ErrCodeExecutorBusy:
		status = http.StatusTooManyRequests
	}
	s.logger.Warn("%s code=%s: %v", msg, code, err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
