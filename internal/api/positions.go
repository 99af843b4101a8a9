package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/model"
	"github.com/synloan/loan-engine/internal/position"
)

// CreateFacilityRequest is the JSON body for facility creation. Dates use
// YYYY-MM-DD; exactly one of term_months and end_date may be omitted.
type CreateFacilityRequest struct {
	BorrowerID   string                     `json:"borrower_id"`
	SyndicateID  string                     `json:"syndicate_id"`
	TotalAmount  decimal.Decimal            `json:"total_amount"`
	StartDate    string                     `json:"start_date"`
	EndDate      string                     `json:"end_date"`
	TermMonths   int                        `json:"term_months"`
	InterestRate decimal.Decimal            `json:"interest_rate"`
	Shares       map[string]decimal.Decimal `json:"shares"`
}

// CreateFacility handles POST /api/v1/facilities
func (s *Server) CreateFacility(w http.ResponseWriter, r *http.Request) {
	var req CreateFacilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, "invalid start_date", http.StatusBadRequest)
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeError(w, "invalid end_date", http.StatusBadRequest)
		return
	}

	p, err := s.positions.CreateFacility(r.Context(), position.FacilityParams{
		BorrowerID:   req.BorrowerID,
		SyndicateID:  req.SyndicateID,
		TotalAmount:  req.TotalAmount,
		StartDate:    start,
		EndDate:      end,
		TermMonths:   req.TermMonths,
		InterestRate: req.InterestRate,
		ShareEntries: req.Shares,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("facility created",
		"id", p.ID,
		"borrower_id", p.BorrowerID,
		"total", p.Facility.TotalAmount.String(),
	)
	writeJSON(w, http.StatusCreated, p)
}

// CreateLoanRequest is the JSON body for standalone loan creation.
type CreateLoanRequest struct {
	BorrowerID   string                     `json:"borrower_id"`
	FacilityID   string                     `json:"facility_id"`
	TotalAmount  decimal.Decimal            `json:"total_amount"`
	StartDate    string                     `json:"start_date"`
	EndDate      string                     `json:"end_date"`
	TermMonths   int                        `json:"term_months"`
	InterestRate decimal.Decimal            `json:"interest_rate"`
	Shares       map[string]decimal.Decimal `json:"shares"`
	WithSchedule bool                       `json:"with_schedule"`
}

// CreateLoan handles POST /api/v1/loans
func (s *Server) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, "invalid start_date", http.StatusBadRequest)
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeError(w, "invalid end_date", http.StatusBadRequest)
		return
	}

	p, err := s.positions.CreateLoan(r.Context(), position.LoanParams{
		BorrowerID:   req.BorrowerID,
		FacilityID:   req.FacilityID,
		TotalAmount:  req.TotalAmount,
		StartDate:    start,
		EndDate:      end,
		TermMonths:   req.TermMonths,
		InterestRate: req.InterestRate,
		ShareEntries: req.Shares,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.WithSchedule {
		if err := position.GenerateRepaymentSchedule(p); err != nil {
			writeDomainError(w, err)
			return
		}
		if p, err = s.store.PutPosition(r.Context(), p, p.Version); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	s.log.Info("loan created",
		"id", p.ID,
		"borrower_id", p.BorrowerID,
		"total", p.Loan.TotalAmount.String(),
	)
	writeJSON(w, http.StatusCreated, p)
}

// PositionResponse wraps a position with its derived utilization rate.
type PositionResponse struct {
	*model.Position
	UtilizationRate decimal.Decimal `json:"utilization_rate"`
}

// GetPosition handles GET /api/v1/positions/{positionID}
func (s *Server) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPosition(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rate, err := position.UtilizationRate(p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PositionResponse{Position: p, UtilizationRate: rate})
}

// ListBorrowerPositions handles GET /api/v1/borrowers/{borrowerID}/positions
func (s *Server) ListBorrowerPositions(w http.ResponseWriter, r *http.Request) {
	borrowerID := chi.URLParam(r, "borrowerID")
	if _, err := s.store.GetBorrower(r.Context(), borrowerID); err != nil {
		writeDomainError(w, err)
		return
	}
	positions, err := s.store.ListPositionsByBorrower(r.Context(), borrowerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// UpdateAvailableRequest is the JSON body for available-amount updates.
type UpdateAvailableRequest struct {
	AvailableAmount decimal.Decimal `json:"available_amount"`
}

// UpdateAvailableAmount handles PUT /api/v1/positions/{positionID}/available
func (s *Server) UpdateAvailableAmount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAvailableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := s.positions.UpdateAvailableAmount(r.Context(), chi.URLParam(r, "positionID"), req.AvailableAmount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("available amount updated",
		"position_id", p.ID,
		"available", req.AvailableAmount.String(),
	)
	writeJSON(w, http.StatusOK, p)
}

// ReplaceSharesRequest is the JSON body for share pie replacement.
type ReplaceSharesRequest struct {
	Shares map[string]decimal.Decimal `json:"shares"`
}

// ReplaceShareAllocation handles PUT /api/v1/positions/{positionID}/shares
func (s *Server) ReplaceShareAllocation(w http.ResponseWriter, r *http.Request) {
	var req ReplaceSharesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	table, err := s.positions.ReplaceShareAllocation(r.Context(), chi.URLParam(r, "positionID"), req.Shares)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("share allocation replaced",
		"position_id", chi.URLParam(r, "positionID"),
		"allocation_id", table.ID,
	)
	writeJSON(w, http.StatusOK, table)
}
