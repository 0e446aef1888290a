package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stride/internal/api"
	"stride/internal/config"
	"stride/internal/logging"
	"stride/internal/services"
	"stride/internal/store"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/sessions", s.handleSubmit)
	mux.HandleFunc("GET /api/sessions", s.handleSessionList)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("PATCH /api/sessions/{id}", s.handleSessionUpdate)
	mux.HandleFunc("POST /api/sessions/{id}/enqueue", s.handleEnqueue)
	mux.HandleFunc("GET /api/sessions/{id}/status", s.handleSessionStatus)
	mux.HandleFunc("GET /api/sessions/{id}/results", s.handleSessionResults)
	mux.HandleFunc("GET /api/sessions/{id}/metrics", s.handleSessionMetrics)
	mux.HandleFunc("GET /api/sessions/{id}/queue", s.handleSessionQueue)
	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("GET /api/queue/stats", s.handleQueueStats)
	mux.HandleFunc("GET /api/queue/{id}", s.handleQueueEntry)
	mux.HandleFunc("GET /api/subjects/{subject}/trends", s.handleTrends)
	mux.HandleFunc("POST /api/maintenance/{task}", s.handleMaintenance)
	mux.HandleFunc("POST /api/notifications/test", s.handleTestNotification)

	var handler http.Handler = authMiddleware(cfg.Paths.APIToken, mux)
	if cfg.Metrics.Enabled && s.daemon.metrics != nil {
		outer := http.NewServeMux()
		outer.Handle("GET "+cfg.Metrics.Path, s.daemon.metrics.Handler())
		outer.Handle("/", handler)
		handler = outer
	}
	return s.withRequestID(handler)
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// withRequestID tags each request context with an id that flows into logs.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.daemon.Health(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.daemon.intake.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("session submitted",
		logging.String(logging.FieldEventType, "session_submitted"),
		logging.String(logging.FieldSessionID, resp.SessionID),
		logging.Bool("enqueued", resp.Entry != nil),
	)
	s.writeJSON(w, http.StatusCreated, resp)
}

type enqueueRequest struct {
	Kind     string `json:"kind,omitempty"`
	Priority *int   `json:"priority,omitempty"`
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, err)
		return
	}
	priority := -1
	if req.Priority != nil {
		if *req.Priority < 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "enqueue", "priority must not be negative", nil))
			return
		}
		priority = *req.Priority
	}
	entry, err := s.daemon.intake.EnqueueSession(r.Context(), r.PathValue("id"), req.Kind, priority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.QueueEntryResponse{Entry: *entry})
}

func (s *apiServer) handleSessionList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.SessionFilter{
		Subject:  strings.TrimSpace(query.Get("subject")),
		Category: strings.TrimSpace(query.Get("category")),
	}
	for _, value := range query["state"] {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		state, ok := store.ParseSessionState(value)
		if !ok {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list sessions", fmt.Sprintf("unknown state %q", value), nil))
			return
		}
		filter.States = append(filter.States, state)
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list sessions", "limit must be a non-negative integer", nil))
			return
		}
		filter.Limit = limit
	}
	sessions, err := s.daemon.sessions.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: sessions})
}

func (s *apiServer) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.daemon.sessions.Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: *sess})
}

type sessionUpdateRequest struct {
	Retain *bool `json:"retain"`
}

func (s *apiServer) handleSessionUpdate(w http.ResponseWriter, r *http.Request) {
	var req sessionUpdateRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, err)
		return
	}
	if req.Retain == nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "update session", "retain is required", nil))
		return
	}
	sess, err := s.daemon.sessions.SetRetention(r.Context(), r.PathValue("id"), *req.Retain)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: *sess})
}

func (s *apiServer) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.sessions.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.sessions.Results(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	metrics, err := s.daemon.sessions.Metrics(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.MetricListResponse{SessionID: id, Metrics: metrics})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.daemon.queue.List(r.Context(), r.URL.Query()["status"]...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []api.QueueEntry{}
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Entries: entries})
}

func (s *apiServer) handleSessionQueue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.daemon.sessions.Describe(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.daemon.queue.History(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []api.QueueEntry{}
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Entries: entries})
}

func (s *apiServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.daemon.queue.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueStatsResponse{Counts: counts})
}

func (s *apiServer) handleQueueEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "queue entry", "invalid queue entry id", nil))
		return
	}
	entry, err := s.daemon.queue.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entry == nil {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "queue entry", "queue entry not found", nil))
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueEntryResponse{Entry: *entry})
}

func (s *apiServer) handleTrends(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	trends, err := s.daemon.sessions.Trends(r.Context(), subject, r.URL.Query().Get("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TrendListResponse{Subject: subject, Trends: trends})
}

func (s *apiServer) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	task := r.PathValue("task")
	if err := s.daemon.RunMaintenance(r.Context(), task); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"task": task, "result": "ok"})
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sent": sent, "message": message})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return services.Wrap(services.ErrValidation, "api", "decode request", "invalid JSON body", err)
	}
	return nil
}

// statusFor maps error markers to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, io.EOF):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	details := services.Details(err)
	message := err.Error()
	if errors.Is(err, io.EOF) {
		message = "request body is required"
	}
	if status == http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("api request failed",
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: string(details.Kind)})
}
