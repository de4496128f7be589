// Package server exposes the router over HTTP for sidecar deployments.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/moerouter/pkg/logging"
	"github.com/odvcencio/moerouter/pkg/model"
	"github.com/odvcencio/moerouter/pkg/observability"
	"github.com/odvcencio/moerouter/pkg/router"
)

// Server wraps the router with an HTTP API.
type Server struct {
	router *router.Router
	logger *logging.Logger
	http   *http.Server
}

// New creates a server for the given router. logger may be nil.
func New(rt *router.Router, logger *logging.Logger, addr string) *Server {
	s := &Server{router: rt, logger: logger}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the route tree. Exposed separately for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/route", s.handleRoute)
		r.Post("/outcome", s.handleOutcome)
		r.Post("/feedback", s.handleFeedback)
		r.Get("/stats", s.handleStats)
		r.Get("/models", s.handleModels)
		r.Route("/experiments", func(r chi.Router) {
			r.Get("/", s.handleListExperiments)
			r.Post("/", s.handleStartExperiment)
			r.Get("/{id}", s.handleAnalyzeExperiment)
			r.Delete("/{id}", s.handleStopExperiment)
		})
	})
	return r
}

// ListenAndServe runs the HTTP server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req model.RoutingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.RequestID == "" {
		req.RequestID = chimw.GetReqID(r.Context())
	}

	ctx, span := observability.StartSpan(r.Context(), "server.handleRoute")
	defer span.End()
	span.SetAttributes(
		observability.AttrRequestID.String(req.RequestID),
		observability.AttrTaskType.String(string(req.TaskType)),
	)

	decision, err := s.router.SelectModel(ctx, &req)
	if err != nil {
		observability.RecordError(ctx, err)
		s.respondRoutingError(w, err)
		return
	}
	span.SetAttributes(
		observability.AttrSelectedModel.String(decision.SelectedModel),
		observability.AttrParallel.Bool(decision.IsParallel()),
	)
	respondJSON(w, http.StatusOK, decision)
}

// outcomeRequest mirrors record_request_outcome.
type outcomeRequest struct {
	ModelID   string  `json:"model_id"`
	TaskType  string  `json:"task_type"`
	Success   bool    `json:"success"`
	LatencyMs float64 `json:"latency_ms"`
	Cost      float64 `json:"cost"`
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	task, err := model.ParseTaskType(req.TaskType)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ModelID == "" {
		respondError(w, http.StatusBadRequest, "model_id is required")
		return
	}

	s.router.RecordRequestOutcome(r.Context(), req.ModelID, req.Success, req.LatencyMs, req.Cost, task)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb model.FeedbackData
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.router.CollectFeedback(r.Context(), &fb); err != nil {
		s.respondRoutingError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.router.Stats(r.Context()))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"models": s.router.Registry().Models(),
	})
}

// experimentRequest mirrors startAbTest.
type experimentRequest struct {
	ModelA       string  `json:"model_a"`
	ModelB       string  `json:"model_b"`
	TaskType     string  `json:"task_type"`
	TrafficSplit float64 `json:"traffic_split"`
}

func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	var req experimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	exp, err := s.router.Learning().Experiments().Start(req.ModelA, req.ModelB, model.TaskType(req.TaskType), req.TrafficSplit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"experiments": s.router.Learning().Experiments().Active(),
	})
}

func (s *Server) handleAnalyzeExperiment(w http.ResponseWriter, r *http.Request) {
	res, err := s.router.Learning().Experiments().Analyze(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	res, err := s.router.Learning().Experiments().Stop(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// respondRoutingError maps the routing error taxonomy onto HTTP statuses
// and keeps the structured detail the errors carry.
func (s *Server) respondRoutingError(w http.ResponseWriter, err error) {
	var invalid *model.InvalidRequestError
	var noModel *model.NoAvailableModelError
	var budget *model.BudgetExceededError

	switch {
	case errors.As(err, &invalid):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error": invalid.Error(),
			"field": invalid.Field,
		})
	case errors.As(err, &budget):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      budget.Error(),
			"budget":     budget.Budget,
			"considered": budget.Considered,
			"evidence":   budget.Evidence,
		})
	case errors.As(err, &noModel):
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":      noModel.Error(),
			"considered": noModel.Considered,
			"reasons":    noModel.Reasons,
			"evidence":   noModel.Evidence,
		})
	default:
		if s.logger != nil {
			_ = s.logger.Error(logging.CategoryServer, "internal_error", err.Error(), nil)
		}
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}
