package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"unix-task-manager/internal/models"
	"unix-task-manager/internal/ratelimit"
	"unix-task-manager/internal/registry"
	"unix-task-manager/internal/telemetry"
)

// TaskRegistry is the lifecycle surface the handlers depend on.
type TaskRegistry interface {
	CreateTask(ctx context.Context, p registry.CreateParams) (models.Task, error)
	GetTask(ctx context.Context, id int) (models.Task, error)
	ListTasks(ctx context.Context, status string) ([]models.Task, error)
	CompleteTask(ctx context.Context, id int) (models.Task, error)
}

// Limiter throttles creations per owner.
type Limiter interface {
	Take(ctx context.Context, owner string) (ratelimit.Decision, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers for the task API.
type Server struct {
	tasks   TaskRegistry
	limiter Limiter
	health  Pinger
	log     *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter enables per-owner rate limiting on creation.
func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithHealthCheck makes /healthz check the backing store.
func WithHealthCheck(p Pinger) Option {
	return func(s *Server) { s.health = p }
}

// New constructs the API server.
func New(tasks TaskRegistry, log *zap.Logger, opts ...Option) *Server {
	s := &Server{tasks: tasks, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Patch("/{id}", s.handleComplete)
	})
	return r
}

type createRequest struct {
	Name     string `json:"name"`
	Priority *int   `json:"priority"`
	Owner    string `json:"owner"`
	Command  string `json:"command"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	priority := models.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	params := registry.CreateParams{
		Name:     req.Name,
		Priority: priority,
		Owner:    req.Owner,
		Command:  req.Command,
	}
	// Rejected input must not spend the owner's budget.
	if err := params.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.limiter != nil {
		owner := strings.TrimSpace(req.Owner)
		d, err := s.limiter.Take(r.Context(), owner)
		if err != nil {
			s.log.Error("rate limiter unavailable", zap.String("owner", owner), zap.Error(err))
			writeError(w, http.StatusInternalServerError, errorResponse{Error: "rate limit error"})
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, errorResponse{Error: "rate limited"})
			return
		}
	}

	task, err := s.tasks.CreateTask(r.Context(), params)
	if err != nil {
		if errors.Is(err, registry.ErrAllocationExhausted) {
			telemetry.AllocationFailures.Inc()
		}
		s.fail(w, r, err)
		return
	}
	telemetry.TasksCreated.Inc()
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.ListTasks(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	task, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleComplete marks a task completed; a second call answers 409.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	task, err := s.tasks.CompleteTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidTransition) {
			telemetry.RejectedTransition.Inc()
		}
		s.fail(w, r, err)
		return
	}
	telemetry.TasksCompleted.Inc()
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps registry error kinds onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var inErr *registry.InputError
	switch {
	case errors.As(err, &inErr):
		writeError(w, http.StatusBadRequest, errorResponse{Error: inErr.Error(), Field: inErr.Field})
	case errors.Is(err, registry.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "status"})
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, errorResponse{Error: registry.ErrNotFound.Error()})
	case errors.Is(err, registry.ErrInvalidTransition):
		writeError(w, http.StatusConflict, errorResponse{Error: registry.ErrInvalidTransition.Error()})
	case errors.Is(err, registry.ErrAllocationExhausted):
		s.log.Error("pid allocation exhausted", zap.String("request_id", middleware.GetReqID(r.Context())))
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "unable to allocate unique PID, try again later"})
	default:
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		telemetry.RequestDuration.WithLabelValues(route, strconv.Itoa(ww.Status())).Observe(elapsed.Seconds())
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func parseID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid task id", Field: "id"})
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, code int, body errorResponse) {
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
