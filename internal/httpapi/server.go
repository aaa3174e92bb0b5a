// Package httpapi exposes the sweep engine over HTTP and pushes progress to
// websocket observers.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/nvandessel/sweepsim/internal/adjust"
	"github.com/nvandessel/sweepsim/internal/config"
	"github.com/nvandessel/sweepsim/internal/history"
	"github.com/nvandessel/sweepsim/internal/logging"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/ratelimit"
	"github.com/nvandessel/sweepsim/internal/scheduler"
)

// Options configures a Server.
type Options struct {
	Engine *scheduler.Engine
	// History is nil when tracking is off.
	History *history.Store

	// Agent, Trials and Ticks fill in whatever a sweep request omits.
	Agent  models.AgentSnapshot
	Trials int
	Ticks  int

	Config config.ServerConfig
	// AccessLog receives one line per request. Nil disables access logging.
	AccessLog io.Writer
	Logger    *slog.Logger
	// Limiters defaults to ratelimit.NewToolLimiters().
	Limiters ratelimit.ToolLimiters
}

// Server is the HTTP control surface.
type Server struct {
	opts     Options
	engine   *scheduler.Engine
	hub      *Hub
	progress *ratelimit.Limiter
	limiters ratelimit.ToolLimiters
	metrics  *Metrics
	logger   *slog.Logger
	router   *mux.Router
}

// New builds the router, starts the websocket hub and subscribes it to the
// engine.
func New(opts Options) *Server {
	logger := logging.OrDiscard(opts.Logger)
	limiters := opts.Limiters
	if limiters == nil {
		limiters = ratelimit.NewToolLimiters()
	}
	rate, burst := opts.Config.ProgressRate, opts.Config.ProgressBurst
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		opts:     opts,
		engine:   opts.Engine,
		hub:      NewHub(opts.Config.AllowedOrigins, logger),
		progress: ratelimit.NewLimiter(rate, burst),
		limiters: limiters,
		logger:   logger,
	}
	s.metrics = NewMetrics(s.hub.Clients)
	go s.hub.Run()

	s.engine.OnProgress(s.pushProgress)
	s.engine.OnComplete(s.pushCompletion)

	r := mux.NewRouter()
	r.Use(s.metrics.Middleware)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/ws", s.hub).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sweeps", s.handleListSweeps).Methods(http.MethodGet)
	api.HandleFunc("/sweeps", s.handleRequestSweep).Methods(http.MethodPost)
	api.HandleFunc("/sweeps/{id}", s.handleSweepStatus).Methods(http.MethodGet)
	api.HandleFunc("/sweeps/{id}", s.handleCancelSweep).Methods(http.MethodDelete)
	api.HandleFunc("/results", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/results/{id:.+}", s.handleResult).Methods(http.MethodGet)
	api.HandleFunc("/filters/{id:.+}", s.handleSetFilter).Methods(http.MethodPut)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/{id}", s.handleHistoryRecord).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the router wrapped with panic recovery, CORS when origins
// are configured, and access logging when a writer is set.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
	if origins := s.opts.Config.AllowedOrigins; len(origins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(h)
	}
	if s.opts.AccessLog != nil {
		h = handlers.LoggingHandler(s.opts.AccessLog, h)
	}
	return h
}

// Close disconnects websocket clients. The engine is left running.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) pushProgress(p scheduler.Progress) {
	s.metrics.JobFinished()
	// The final tick always goes out so observers see completed == total.
	if p.Completed < p.Total && !s.progress.Allow(p.Sweep) {
		return
	}
	s.hub.Broadcast(EventProgress, p)
}

func (s *Server) pushCompletion(c scheduler.Completion) {
	s.metrics.SweepFinished(c)
	s.progress.Forget(c.Sweep)
	s.hub.Broadcast(EventCompleted, c)
}

// SweepRequest is the body of POST /api/sweeps.
type SweepRequest struct {
	Scope  string                `json:"scope"`
	Agent  *models.AgentSnapshot `json:"agent,omitempty"`
	Trials int                   `json:"trials,omitempty"`
	Ticks  int                   `json:"ticks,omitempty"`
}

// FilterRequest is the body of PUT /api/filters/{id}.
type FilterRequest struct {
	Included bool `json:"included"`
}

// ResultResponse is returned by GET /api/results/{id}.
type ResultResponse struct {
	ID        string           `json:"id"`
	Telemetry models.Telemetry `json:"telemetry"`
	Adjusted  adjust.Rates     `json:"adjusted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"workers": s.engine.PoolSize(),
		"busy":    s.engine.BusyWorkers(),
		"clients": s.hub.Clients(),
	})
}

func (s *Server) handleRequestSweep(w http.ResponseWriter, r *http.Request) {
	if err := ratelimit.CheckLimit(s.limiters, "sweep_request"); err != nil {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	var body SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	scope, err := scheduler.ParseScope(body.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := scheduler.Request{Scope: scope, Agent: s.opts.Agent, Trials: s.opts.Trials, Ticks: s.opts.Ticks}
	if body.Agent != nil {
		req.Agent = *body.Agent
	}
	if body.Trials != 0 {
		req.Trials = body.Trials
	}
	if body.Ticks != 0 {
		req.Ticks = body.Ticks
	}

	sw, err := s.engine.RequestSweep(req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Location", "/api/sweeps/"+sw.ID().String())
	writeJSON(w, http.StatusAccepted, sw.Status())
}

func (s *Server) handleListSweeps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Sweeps())
}

func (s *Server) handleSweepStatus(w http.ResponseWriter, r *http.Request) {
	if err := ratelimit.CheckLimit(s.limiters, "sweep_status"); err != nil {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	id, ok := sweepID(w, r)
	if !ok {
		return
	}
	st, err := s.engine.Status(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancelSweep(w http.ResponseWriter, r *http.Request) {
	if err := ratelimit.CheckLimit(s.limiters, "sweep_cancel"); err != nil {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	id, ok := sweepID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Cancel(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	st, _ := s.engine.Status(id)
	writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Store().Snapshot())
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if err := ratelimit.CheckLimit(s.limiters, "result_get"); err != nil {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	id := mux.Vars(r)["id"]
	t, ok := s.engine.GetResult(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no result for "+id))
		return
	}
	rates, _ := s.engine.Adjusted(id)
	writeJSON(w, http.StatusOK, ResultResponse{ID: id, Telemetry: t, Adjusted: rates})
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	if err := ratelimit.CheckLimit(s.limiters, "filter_set"); err != nil {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	var body FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.engine.SetFilter(id, body.Included); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "included": body.Included})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if err := ratelimit.CheckLimit(s.limiters, "history_list"); err != nil {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, errors.New("history tracking is disabled"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	list, err := s.opts.History.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []history.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleHistoryRecord(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, errors.New("history tracking is disabled"))
		return
	}
	rec, err := s.opts.History.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func sweepID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid sweep id"))
		return uuid.UUID{}, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrUnknownSweep),
		errors.Is(err, scheduler.ErrUnknownGroup),
		errors.Is(err, scheduler.ErrUnknownEncounter),
		errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrInvalidBudget):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
