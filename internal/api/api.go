// Package api provides the HTTP handlers for the loan engine: positions,
// allocations, master data, and the transaction lifecycle.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/synloan/loan-engine/internal/allocation"
	"github.com/synloan/loan-engine/internal/engine"
	"github.com/synloan/loan-engine/internal/events"
	"github.com/synloan/loan-engine/internal/position"
	"github.com/synloan/loan-engine/internal/store"
)

// Server bundles the services behind the HTTP surface.
type Server struct {
	store     store.Store
	positions *position.Service
	engine    *engine.Engine
	hub       *events.Hub
	log       *slog.Logger
}

// NewServer creates the HTTP handler set. Pass nil for hub to disable the
// WebSocket endpoint.
func NewServer(st store.Store, pos *position.Service, eng *engine.Engine, hub *events.Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, positions: pos, engine: eng, hub: hub, log: log}
}

// Routes mounts every endpoint under the given router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/borrowers", s.CreateBorrower)
	r.Get("/borrowers/{borrowerID}", s.GetBorrower)
	r.Get("/borrowers/{borrowerID}/positions", s.ListBorrowerPositions)

	r.Post("/investors", s.CreateInvestor)
	r.Get("/investors", s.ListInvestors)
	r.Get("/investors/{investorID}", s.GetInvestor)
	r.Get("/investors/{investorID}/exposure", s.GetInvestorExposure)

	r.Post("/syndicates", s.CreateSyndicate)
	r.Get("/syndicates/{syndicateID}", s.GetSyndicate)

	r.Post("/facilities", s.CreateFacility)
	r.Post("/loans", s.CreateLoan)
	r.Get("/positions/{positionID}", s.GetPosition)
	r.Put("/positions/{positionID}/available", s.UpdateAvailableAmount)
	r.Put("/positions/{positionID}/shares", s.ReplaceShareAllocation)
	r.Get("/positions/{positionID}/transactions", s.ListPositionTransactions)
	r.Get("/loans/{positionID}/remaining", s.GetRemainingPrincipal)

	r.Get("/allocations/{allocationID}", s.GetAllocation)

	r.Post("/transactions/drawdowns", s.CreateDrawdown)
	r.Post("/transactions/investments", s.CreateFacilityInvestment)
	r.Post("/transactions/trades", s.CreateFacilityTrade)
	r.Post("/transactions/fees", s.CreateFeePayment)
	r.Post("/transactions/interest", s.CreateInterestPayment)
	r.Post("/transactions/principal", s.CreatePrincipalPayment)
	r.Get("/transactions", s.ListTransactionsByDateRange)
	r.Get("/transactions/{transactionID}", s.GetTransaction)
	r.Post("/transactions/{transactionID}/execute", s.ExecuteTransaction)
	r.Patch("/transactions/{transactionID}/amount", s.UpdateTransactionAmount)
	r.Delete("/transactions/{transactionID}", s.DeleteTransaction)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps service errors onto HTTP statuses: missing
// entities to 404, concurrency and state-machine conflicts to 409, input
// validation to 400.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrStaleVersion),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, engine.ErrAlreadyExecuted),
		errors.Is(err, engine.ErrInsufficientAvailable),
		errors.Is(err, engine.ErrPaymentExceedsBalance),
		errors.Is(err, engine.ErrCapacityExceeded),
		errors.Is(err, position.ErrNegativeAvailableAmount),
		errors.Is(err, position.ErrAvailableExceedsTotal):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, allocation.ErrEmptyAllocation),
		errors.Is(err, allocation.ErrNonPositiveValue),
		errors.Is(err, allocation.ErrInvalidTotalShare),
		errors.Is(err, engine.ErrNonPositiveAmount),
		errors.Is(err, engine.ErrSameParty),
		errors.Is(err, engine.ErrNoShareForInvestor),
		errors.Is(err, engine.ErrShareAllocationMissing),
		errors.Is(err, position.ErrNonPositiveTotal),
		errors.Is(err, position.ErrMissingTerm),
		errors.Is(err, position.ErrNotFacility),
		errors.Is(err, position.ErrNotLoan):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// parseDate accepts both date-only and RFC 3339 timestamps.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
