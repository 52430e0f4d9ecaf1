package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"disputeflow/auth"
	"disputeflow/consumer"
	"disputeflow/directory"
	"disputeflow/dispute"
	"disputeflow/item"
	"disputeflow/letter"
	"disputeflow/orchestrator"
	"disputeflow/strategy"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyRole   ctxKey = "role"
)

const requestTimeout = 30 * time.Second

var errBadRequest = errors.New("bad request")

type executionService interface {
	Open(ctx context.Context, req dispute.OpenRequest) (dispute.Execution, letter.Letter, error)
	Send(ctx context.Context, executionID string) (dispute.Execution, error)
	RecordResponse(ctx context.Context, req dispute.ResponseRequest) (dispute.Execution, error)
	Abandon(ctx context.Context, executionID string) (dispute.Execution, error)
	Get(ctx context.Context, id string) (dispute.Execution, error)
	List(ctx context.Context, filters dispute.Filters) ([]dispute.Execution, error)
	FollowUps(ctx context.Context, executionID string) ([]dispute.FollowUp, error)
	Letter(ctx context.Context, executionID string) (letter.Letter, error)
}

type planService interface {
	Recommend(ctx context.Context, ownerID string) (orchestrator.Analysis, error)
}

type tokenVerifier interface {
	FromHeader(header string) (auth.Identity, error)
}

// Server hosts the HTTP surface over the planner and the lifecycle controller.
type Server struct {
	catalog    *strategy.Catalog
	planner    planService
	executions executionService
	items      item.Reader
	verifier   tokenVerifier
	logger     *zap.Logger
}

func NewServer(catalog *strategy.Catalog, planner planService, executions executionService, items item.Reader, verifier tokenVerifier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		catalog:    catalog,
		planner:    planner,
		executions: executions,
		items:      items,
		verifier:   verifier,
		logger:     logger,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/catalog", s.handleCatalog)
		r.Get("/owners/{ownerID}/plan", s.handlePlan)
		r.Get("/owners/{ownerID}/executions", s.handleListExecutions)
		r.Post("/executions", s.handleOpen)
		r.Get("/executions/{executionID}", s.handleGetExecution)
		r.Get("/executions/{executionID}/letter", s.handleLetter)
		r.Post("/executions/{executionID}/send", s.handleSend)
		r.Post("/executions/{executionID}/responses", s.handleRespond)
		r.Post("/executions/{executionID}/abandon", s.handleAbandon)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.verifier.FromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, id.UserID)
		ctx = context.WithValue(ctx, ctxKeyRole, id.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) auth.Identity {
	userID, _ := ctx.Value(ctxKeyUserID).(string)
	role, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return auth.Identity{UserID: userID, Role: role}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	strategies := s.catalog.All()
	writeJSON(w, http.StatusOK, map[string]any{"items": strategies, "total": len(strategies)})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if !identityFrom(r.Context()).CanActFor(ownerID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	analysis, err := s.planner.Recommend(r.Context(), ownerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if !identityFrom(r.Context()).CanActFor(ownerID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	filters := dispute.Filters{OwnerID: ownerID, ItemID: r.URL.Query().Get("item_id")}
	if state := r.URL.Query().Get("state"); state != "" {
		filters.State = dispute.State(state)
		if !filters.State.Valid() {
			writeError(w, http.StatusBadRequest, "unknown state")
			return
		}
	}
	execs, err := s.executions.List(r.Context(), filters)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": execs, "total": len(execs)})
}

type openRequest struct {
	ItemID     string `json:"item_id"`
	StrategyID string `json:"strategy_id"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var body openRequest
	if err := decode(r, &body); err != nil || body.ItemID == "" || body.StrategyID == "" {
		writeError(w, http.StatusBadRequest, "item_id and strategy_id are required")
		return
	}
	it, err := s.items.Get(r.Context(), body.ItemID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !identityFrom(r.Context()).CanActFor(it.OwnerID) {
		// Hide items that belong to someone else.
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	exec, l, err := s.executions.Open(r.Context(), dispute.OpenRequest{ItemID: body.ItemID, StrategyID: body.StrategyID})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"execution": exec, "letter": l})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, ok := s.ownedExecution(w, r)
	if !ok {
		return
	}
	followUps, err := s.executions.FollowUps(r.Context(), exec.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution": exec, "follow_ups": followUps})
}

func (s *Server) handleLetter(w http.ResponseWriter, r *http.Request) {
	exec, ok := s.ownedExecution(w, r)
	if !ok {
		return
	}
	l, err := s.executions.Letter(r.Context(), exec.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	exec, ok := s.ownedExecution(w, r)
	if !ok {
		return
	}
	updated, err := s.executions.Send(r.Context(), exec.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type respondRequest struct {
	Outcome item.Outcome `json:"outcome"`
	Details string       `json:"details"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body respondRequest
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	exec, ok := s.ownedExecution(w, r)
	if !ok {
		return
	}
	updated, err := s.executions.RecordResponse(r.Context(), dispute.ResponseRequest{
		ExecutionID:    exec.ID,
		Outcome:        body.Outcome,
		Details:        body.Details,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	exec, ok := s.ownedExecution(w, r)
	if !ok {
		return
	}
	updated, err := s.executions.Abandon(r.Context(), exec.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ownedExecution loads the execution named in the path and checks the
// caller may act on it. It writes the error response itself.
func (s *Server) ownedExecution(w http.ResponseWriter, r *http.Request) (dispute.Execution, bool) {
	exec, err := s.executions.Get(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		s.fail(w, r, err)
		return dispute.Execution{}, false
	}
	if !identityFrom(r.Context()).CanActFor(exec.OwnerID) {
		writeError(w, http.StatusNotFound, "not found")
		return dispute.Execution{}, false
	}
	return exec, true
}

// statusFor maps domain errors onto HTTP statuses. Anything unrecognised is
// treated as a transient dependency failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, dispute.ErrInvalidOutcome),
		errors.Is(err, item.ErrInvalidItem),
		errors.Is(err, consumer.ErrInvalidProfile),
		errors.Is(err, orchestrator.ErrNoOwner):
		return http.StatusBadRequest
	case errors.Is(err, strategy.ErrIneligible),
		errors.Is(err, strategy.ErrUnknownStrategy),
		errors.Is(err, item.ErrResolved),
		errors.Is(err, dispute.ErrInvalidTransition),
		errors.Is(err, dispute.ErrResponseWindowOpen),
		errors.Is(err, directory.ErrUnknownRecipient):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, item.ErrNotFound),
		errors.Is(err, consumer.ErrNotFound),
		errors.Is(err, letter.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispute.ErrExecutionInFlight),
		errors.Is(err, dispute.ErrAlreadyCompleted),
		errors.Is(err, dispute.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, "temporarily unavailable, retry")
		return
	}
	writeError(w, status, err.Error())
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadRequest
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
