package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/allocation"
	"github.com/synloan/loan-engine/internal/model"
)

// CreateBorrowerRequest is the JSON body for borrower registration.
type CreateBorrowerRequest struct {
	Name         string `json:"name"`
	CreditRating string `json:"credit_rating"`
}

// CreateBorrower handles POST /api/v1/borrowers
func (s *Server) CreateBorrower(w http.ResponseWriter, r *http.Request) {
	var req CreateBorrowerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	b := &model.Borrower{
		ID:           uuid.New().String(),
		Name:         req.Name,
		CreditRating: req.CreditRating,
	}
	if err := s.store.CreateBorrower(r.Context(), b); err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("borrower created", "id", b.ID, "name", b.Name)
	writeJSON(w, http.StatusCreated, b)
}

// GetBorrower handles GET /api/v1/borrowers/{borrowerID}
func (s *Server) GetBorrower(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBorrower(r.Context(), chi.URLParam(r, "borrowerID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CreateInvestorRequest is the JSON body for investor registration.
type CreateInvestorRequest struct {
	Name               string          `json:"name"`
	Type               string          `json:"type"`
	InvestmentCapacity decimal.Decimal `json:"investment_capacity"`
}

// CreateInvestor handles POST /api/v1/investors
func (s *Server) CreateInvestor(w http.ResponseWriter, r *http.Request) {
	var req CreateInvestorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.InvestmentCapacity.LessThanOrEqual(decimal.Zero) {
		writeError(w, "investment_capacity must be positive", http.StatusBadRequest)
		return
	}

	inv := &model.Investor{
		ID:                 uuid.New().String(),
		Name:               req.Name,
		Type:               req.Type,
		InvestmentCapacity: req.InvestmentCapacity,
		CurrentInvestments: decimal.Zero,
	}
	if err := s.store.CreateInvestor(r.Context(), inv); err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("investor created", "id", inv.ID, "name", inv.Name)
	writeJSON(w, http.StatusCreated, inv)
}

// GetInvestor handles GET /api/v1/investors/{investorID}
func (s *Server) GetInvestor(w http.ResponseWriter, r *http.Request) {
	inv, err := s.store.GetInvestor(r.Context(), chi.URLParam(r, "investorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// ListInvestors handles GET /api/v1/investors
func (s *Server) ListInvestors(w http.ResponseWriter, r *http.Request) {
	invs, err := s.store.ListInvestors(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invs)
}

// InvestorExposureResponse reports an investor's total across every
// amount pie it appears in.
type InvestorExposureResponse struct {
	InvestorID string          `json:"investor_id"`
	Total      decimal.Decimal `json:"total"`
}

// GetInvestorExposure handles GET /api/v1/investors/{investorID}/exposure
func (s *Server) GetInvestorExposure(w http.ResponseWriter, r *http.Request) {
	investorID := chi.URLParam(r, "investorID")
	if _, err := s.store.GetInvestor(r.Context(), investorID); err != nil {
		writeDomainError(w, err)
		return
	}
	tables, err := s.store.ListAllocationsByInvestor(r.Context(), investorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	amountPies := make([]model.AllocationTable, 0, len(tables))
	for _, t := range tables {
		if t.Kind == model.AllocationAmount {
			amountPies = append(amountPies, t)
		}
	}
	writeJSON(w, http.StatusOK, InvestorExposureResponse{
		InvestorID: investorID,
		Total:      allocation.SumForInvestor(amountPies, investorID),
	})
}

// CreateSyndicateRequest is the JSON body for syndicate registration.
type CreateSyndicateRequest struct {
	LeadBankID      string          `json:"lead_bank_id"`
	MemberIDs       []string        `json:"member_ids"`
	TotalCommitment decimal.Decimal `json:"total_commitment"`
}

// CreateSyndicate handles POST /api/v1/syndicates
func (s *Server) CreateSyndicate(w http.ResponseWriter, r *http.Request) {
	var req CreateSyndicateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LeadBankID == "" {
		writeError(w, "lead_bank_id is required", http.StatusBadRequest)
		return
	}
	for _, id := range append([]string{req.LeadBankID}, req.MemberIDs...) {
		if _, err := s.store.GetInvestor(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	syn := &model.Syndicate{
		ID:              uuid.New().String(),
		LeadBankID:      req.LeadBankID,
		MemberIDs:       req.MemberIDs,
		TotalCommitment: req.TotalCommitment,
	}
	if err := s.store.CreateSyndicate(r.Context(), syn); err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("syndicate created", "id", syn.ID, "lead_bank", syn.LeadBankID)
	writeJSON(w, http.StatusCreated, syn)
}

// GetSyndicate handles GET /api/v1/syndicates/{syndicateID}
func (s *Server) GetSyndicate(w http.ResponseWriter, r *http.Request) {
	syn, err := s.store.GetSyndicate(r.Context(), chi.URLParam(r, "syndicateID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syn)
}

// GetAllocation handles GET /api/v1/allocations/{allocationID}
func (s *Server) GetAllocation(w http.ResponseWriter, r *http.Request) {
	table, err := s.store.GetAllocation(r.Context(), chi.URLParam(r, "allocationID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}
