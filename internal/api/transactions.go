package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/model"
)

// CreateDrawdownRequest is the JSON body for POST /transactions/drawdowns.
type CreateDrawdownRequest struct {
	FacilityID string          `json:"facility_id"`
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"date"`
}

// CreateDrawdown handles POST /api/v1/transactions/drawdowns
func (s *Server) CreateDrawdown(w http.ResponseWriter, r *http.Request) {
	var req CreateDrawdownRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, "invalid date", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.CreateDrawdown(r.Context(), req.FacilityID, req.Amount, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// CreateInvestmentRequest is the JSON body for POST /transactions/investments.
// No amount field: the engine derives it from the investor's share.
type CreateInvestmentRequest struct {
	FacilityID string `json:"facility_id"`
	InvestorID string `json:"investor_id"`
	Date       string `json:"date"`
}

// CreateFacilityInvestment handles POST /api/v1/transactions/investments
func (s *Server) CreateFacilityInvestment(w http.ResponseWriter, r *http.Request) {
	var req CreateInvestmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, "invalid date", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.CreateFacilityInvestment(r.Context(), req.FacilityID, req.InvestorID, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// CreateTradeRequest is the JSON body for POST /transactions/trades.
type CreateTradeRequest struct {
	FacilityID string          `json:"facility_id"`
	SellerID   string          `json:"seller_id"`
	BuyerID    string          `json:"buyer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"date"`
}

// CreateFacilityTrade handles POST /api/v1/transactions/trades
func (s *Server) CreateFacilityTrade(w http.ResponseWriter, r *http.Request) {
	var req CreateTradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, "invalid date", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.CreateFacilityTrade(r.Context(), req.FacilityID, req.SellerID, req.BuyerID, req.Amount, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// CreateFeeRequest is the JSON body for POST /transactions/fees.
type CreateFeeRequest struct {
	FacilityID string          `json:"facility_id"`
	FeeType    string          `json:"fee_type"`
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"date"`
}

// CreateFeePayment handles POST /api/v1/transactions/fees
func (s *Server) CreateFeePayment(w http.ResponseWriter, r *http.Request) {
	var req CreateFeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, "invalid date", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.CreateFeePayment(r.Context(), req.FacilityID, req.FeeType, req.Amount, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// CreateInterestRequest is the JSON body for POST /transactions/interest.
// The amount is computed from the loan and the accrual period.
type CreateInterestRequest struct {
	LoanID      string `json:"loan_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Date        string `json:"date"`
}

// CreateInterestPayment handles POST /api/v1/transactions/interest
func (s *Server) CreateInterestPayment(w http.ResponseWriter, r *http.Request) {
	var req CreateInterestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	periodStart, err := parseDate(req.PeriodStart)
	if err != nil || periodStart.IsZero() {
		writeError(w, "invalid period_start", http.StatusBadRequest)
		return
	}
	periodEnd, err := parseDate(req.PeriodEnd)
	if err != nil || periodEnd.IsZero() {
		writeError(w, "invalid period_end", http.StatusBadRequest)
		return
	}
	if !periodEnd.After(periodStart) {
		writeError(w, "period_end must be after period_start", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, "invalid date", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.CreateInterestPayment(r.Context(), req.LoanID, periodStart, periodEnd, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// CreatePrincipalRequest is the JSON body for POST /transactions/principal.
type CreatePrincipalRequest struct {
	LoanID string          `json:"loan_id"`
	Amount decimal.Decimal `json:"amount"`
	Date   string          `json:"date"`
}

// CreatePrincipalPayment handles POST /api/v1/transactions/principal
func (s *Server) CreatePrincipalPayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePrincipalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, "invalid date", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.CreatePrincipalPayment(r.Context(), req.LoanID, req.Amount, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction handles GET /api/v1/transactions/{transactionID}
func (s *Server) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.engine.Get(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ExecuteTransaction handles POST /api/v1/transactions/{transactionID}/execute.
// Dispatch is by the stored transaction's kind; the caller does not repeat it.
func (s *Server) ExecuteTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionID")
	tx, err := s.engine.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	switch tx.Kind {
	case model.KindDrawdown:
		tx, err = s.engine.ExecuteDrawdown(r.Context(), id)
	case model.KindFacilityInvestment:
		tx, err = s.engine.ExecuteFacilityInvestment(r.Context(), id)
	case model.KindFacilityTrade:
		tx, err = s.engine.ExecuteFacilityTrade(r.Context(), id)
	case model.KindFeePayment:
		tx, err = s.engine.ExecuteFeePayment(r.Context(), id)
	case model.KindInterestPayment:
		tx, err = s.engine.ExecuteInterestPayment(r.Context(), id)
	case model.KindPrincipalPayment:
		tx, err = s.engine.ExecutePrincipalPayment(r.Context(), id)
	default:
		writeError(w, "unknown transaction kind", http.StatusInternalServerError)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// UpdateAmountRequest is the JSON body for amount amendments.
type UpdateAmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// UpdateTransactionAmount handles PATCH /api/v1/transactions/{transactionID}/amount
func (s *Server) UpdateTransactionAmount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAmountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.UpdateAmount(r.Context(), chi.URLParam(r, "transactionID"), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// DeleteTransaction handles DELETE /api/v1/transactions/{transactionID}
func (s *Server) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "transactionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPositionTransactions handles GET /api/v1/positions/{positionID}/transactions
func (s *Server) ListPositionTransactions(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")
	if _, err := s.store.GetPosition(r.Context(), positionID); err != nil {
		writeDomainError(w, err)
		return
	}
	txs, err := s.engine.ListByPosition(r.Context(), positionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// ListTransactionsByDateRange handles GET /api/v1/transactions?from=...&to=...
func (s *Server) ListTransactionsByDateRange(w http.ResponseWriter, r *http.Request) {
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil || from.IsZero() {
		writeError(w, "invalid from date", http.StatusBadRequest)
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil || to.IsZero() {
		writeError(w, "invalid to date", http.StatusBadRequest)
		return
	}

	txs, err := s.engine.ListByDateRange(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetRemainingPrincipal handles GET /api/v1/loans/{positionID}/remaining
func (s *Server) GetRemainingPrincipal(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPosition(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if p.Kind != model.PositionLoan {
		writeError(w, "position is not a loan", http.StatusBadRequest)
		return
	}
	remaining, err := s.engine.RemainingPrincipal(r.Context(), p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"remaining_principal": remaining})
}
