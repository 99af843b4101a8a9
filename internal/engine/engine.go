// Package engine implements the transaction lifecycle: each business event
// is created as a PENDING transaction, validated against current position
// state, and later executed exactly once. Execution flips the status to
// EXECUTED, applies side effects to positions and investors, and is
// irreversible.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/allocation"
	"github.com/synloan/loan-engine/internal/metrics"
	"github.com/synloan/loan-engine/internal/model"
	"github.com/synloan/loan-engine/internal/position"
	"github.com/synloan/loan-engine/internal/store"
)

var (
	// ErrNonPositiveAmount is returned when a transaction is created or
	// amended with a zero or negative amount.
	ErrNonPositiveAmount = errors.New("engine: amount must be positive")

	// ErrInsufficientAvailable is returned when a drawdown exceeds the
	// facility's available amount at validation time.
	ErrInsufficientAvailable = errors.New("engine: insufficient available amount")

	// ErrAlreadyExecuted is returned on any attempt to execute or amend a
	// transaction that has already been executed.
	ErrAlreadyExecuted = errors.New("engine: transaction already executed")

	// ErrPaymentExceedsBalance is returned when a principal payment is
	// larger than the remaining principal balance.
	ErrPaymentExceedsBalance = errors.New("engine: payment exceeds remaining principal balance")

	// ErrShareAllocationMissing is returned when an operation needs the
	// position's share pie and none is attached.
	ErrShareAllocationMissing = errors.New("engine: position has no share allocation")

	// ErrNoShareForInvestor is returned when the investor holds no entry in
	// the facility's share pie.
	ErrNoShareForInvestor = errors.New("engine: investor holds no share in facility")

	// ErrCapacityExceeded is returned when an investment would push the
	// investor past its investment capacity.
	ErrCapacityExceeded = errors.New("engine: investment capacity exceeded")

	// ErrSameParty is returned when a trade names the same investor as both
	// buyer and seller.
	ErrSameParty = errors.New("engine: buyer and seller must differ")
)

var oneHundred = decimal.NewFromInt(100)

// Broadcaster pushes executed-transaction events to subscribers. The events
// hub implements it; a nil broadcaster disables publishing.
type Broadcaster interface {
	Broadcast(event any)
}

// Event is the payload broadcast after a successful execution.
type Event struct {
	Type          string          `json:"type"`
	TransactionID string          `json:"transaction_id"`
	Kind          string          `json:"kind"`
	PositionID    string          `json:"position_id"`
	Amount        decimal.Decimal `json:"amount"`
	ProcessedAt   time.Time       `json:"processed_at"`
}

// Engine coordinates transaction creation and execution over the store.
type Engine struct {
	store     store.Store
	positions *position.Service
	events    Broadcaster
	log       *slog.Logger
	now       func() time.Time
}

// New creates an engine. Pass nil for events to disable broadcasting and
// nil for now to use time.Now.
func New(st store.Store, pos *position.Service, events Broadcaster, log *slog.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: st, positions: pos, events: events, log: log, now: now}
}

func (e *Engine) newTransaction(kind model.TransactionKind, positionID string, amount decimal.Decimal, date time.Time) *model.Transaction {
	if date.IsZero() {
		date = e.now().UTC()
	}
	return &model.Transaction{
		ID:                uuid.New().String(),
		Kind:              kind,
		Date:              date,
		Amount:            amount,
		RelatedPositionID: positionID,
		Status:            model.StatusPending,
	}
}

func (e *Engine) createTx(ctx context.Context, tx *model.Transaction) error {
	if err := e.store.CreateTransaction(ctx, tx); err != nil {
		return err
	}
	metrics.TransactionsCreated.WithLabelValues(string(tx.Kind)).Inc()
	e.log.Info("transaction created",
		"transaction_id", tx.ID,
		"kind", tx.Kind,
		"position_id", tx.RelatedPositionID,
		"amount", tx.Amount.String(),
	)
	return nil
}

// getPending loads a transaction and rejects it if already executed.
func (e *Engine) getPending(ctx context.Context, id string) (*model.Transaction, error) {
	tx, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Executed() {
		return nil, ErrAlreadyExecuted
	}
	return tx, nil
}

// markExecuted flips the transaction to EXECUTED with a versioned write and
// publishes the execution event. The status transition is one way.
func (e *Engine) markExecuted(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	processed := e.now().UTC()
	tx.Status = model.StatusExecuted
	tx.ProcessedAt = &processed

	out, err := e.store.PutTransaction(ctx, tx, tx.Version)
	if err != nil {
		if errors.Is(err, store.ErrStaleVersion) {
			metrics.StaleVersionConflicts.Inc()
		}
		return nil, err
	}

	metrics.TransactionsExecuted.WithLabelValues(string(tx.Kind)).Inc()
	e.log.Info("transaction executed",
		"transaction_id", out.ID,
		"kind", out.Kind,
		"position_id", out.RelatedPositionID,
		"amount", out.Amount.String(),
	)
	if e.events != nil {
		e.events.Broadcast(Event{
			Type:          "transaction.executed",
			TransactionID: out.ID,
			Kind:          string(out.Kind),
			PositionID:    out.RelatedPositionID,
			Amount:        out.Amount,
			ProcessedAt:   processed,
		})
	}
	return out, nil
}

// shareTable loads the share pie attached to a position.
func (e *Engine) shareTable(ctx context.Context, p *model.Position) (*model.AllocationTable, error) {
	if p.ShareAllocationID == "" {
		return nil, ErrShareAllocationMissing
	}
	return e.store.GetAllocation(ctx, p.ShareAllocationID)
}

// resolveInvestors loads every investor named in the deltas. Execution
// paths call it before their first write so a missing investor rejects
// the operation with all state untouched.
func (e *Engine) resolveInvestors(ctx context.Context, deltas map[string]decimal.Decimal) (map[string]*model.Investor, error) {
	investors := make(map[string]*model.Investor, len(deltas))
	for investorID := range deltas {
		inv, err := e.store.GetInvestor(ctx, investorID)
		if err != nil {
			return nil, fmt.Errorf("investor %s: %w", investorID, err)
		}
		investors[investorID] = inv
	}
	return investors, nil
}

// applyInvestorDeltas applies signed deltas to previously resolved
// investors with versioned writes.
func (e *Engine) applyInvestorDeltas(ctx context.Context, investors map[string]*model.Investor, deltas map[string]decimal.Decimal) error {
	for investorID, delta := range deltas {
		inv := investors[investorID]
		inv.CurrentInvestments = inv.CurrentInvestments.Add(delta)
		if _, err := e.store.PutInvestor(ctx, inv, inv.Version); err != nil {
			return fmt.Errorf("investor %s: %w", investorID, err)
		}
	}
	return nil
}

func negate(entries map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(entries))
	for k, v := range entries {
		out[k] = v.Neg()
	}
	return out
}

// facility loads a position and rejects it unless it is a facility.
func (e *Engine) facility(ctx context.Context, id string) (*model.Position, error) {
	p, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Kind != model.PositionFacility {
		return nil, position.ErrNotFacility
	}
	return p, nil
}

func (e *Engine) loan(ctx context.Context, id string) (*model.Position, error) {
	p, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Kind != model.PositionLoan {
		return nil, position.ErrNotLoan
	}
	return p, nil
}

// CreateDrawdown registers a pending drawdown against a facility and
// originates the loan it funds, repayment schedule included. The loan
// inherits the facility's rate and end date.
func (e *Engine) CreateDrawdown(ctx context.Context, facilityID string, amount decimal.Decimal, date time.Time) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveAmount
	}
	fac, err := e.facility(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(fac.Facility.AvailableAmount) {
		return nil, ErrInsufficientAvailable
	}

	if date.IsZero() {
		date = e.now().UTC()
	}
	loan, err := e.positions.CreateLoan(ctx, position.LoanParams{
		BorrowerID:   fac.BorrowerID,
		FacilityID:   fac.ID,
		TotalAmount:  amount,
		StartDate:    date.Truncate(24 * time.Hour),
		EndDate:      fac.Facility.EndDate,
		InterestRate: fac.Facility.InterestRate,
	})
	if err != nil {
		return nil, err
	}
	if err := position.GenerateRepaymentSchedule(loan); err != nil {
		return nil, err
	}
	if _, err := e.store.PutPosition(ctx, loan, loan.Version); err != nil {
		return nil, err
	}

	tx := e.newTransaction(model.KindDrawdown, fac.ID, amount, date)
	tx.Drawdown = &model.DrawdownDetail{
		FacilityID:     fac.ID,
		DrawdownAmount: amount,
		LoanID:         loan.ID,
	}
	if err := e.createTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ExecuteDrawdown re-validates against the facility's current state, draws
// the amount down from the available balance, and credits each investor's
// funded share. Every collaborator is resolved before the first write, so
// a rejected execution leaves all state unchanged.
func (e *Engine) ExecuteDrawdown(ctx context.Context, txID string) (*model.Transaction, error) {
	tx, err := e.getPending(ctx, txID)
	if err != nil {
		return nil, err
	}
	fac, err := e.facility(ctx, tx.Drawdown.FacilityID)
	if err != nil {
		return nil, err
	}
	if tx.Amount.GreaterThan(fac.Facility.AvailableAmount) {
		return nil, ErrInsufficientAvailable
	}

	var funded map[string]decimal.Decimal
	var investors map[string]*model.Investor
	shares, err := e.shareTable(ctx, fac)
	switch {
	case err == nil:
		funded = allocation.FromShares(shares, tx.Amount)
		if investors, err = e.resolveInvestors(ctx, funded); err != nil {
			return nil, err
		}
	case !errors.Is(err, ErrShareAllocationMissing):
		return nil, err
	}

	if funded != nil {
		// The funding split is kept as an amount pie so later payments on
		// the loan can be fanned out over it.
		split, err := e.createAmountTable(ctx, tx.ID, funded)
		if err != nil {
			return nil, err
		}
		tx.AmountAllocationID = split.ID
	}

	// The status flip goes first: its version check serializes concurrent
	// executors of the same transaction, so side effects apply once.
	out, err := e.markExecuted(ctx, tx)
	if err != nil {
		return nil, err
	}
	newAvailable := fac.Facility.AvailableAmount.Sub(tx.Amount)
	if _, err := e.positions.UpdateAvailableAmount(ctx, fac.ID, newAvailable); err != nil {
		return nil, err
	}
	if funded != nil {
		if err := e.applyInvestorDeltas(ctx, investors, funded); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CreateFacilityInvestment registers a pending investment. The amount is
// not supplied by the caller: it is the investor's share of the facility
// total, share/100 × total rounded half-up to whole currency units.
func (e *Engine) CreateFacilityInvestment(ctx context.Context, facilityID, investorID string, date time.Time) (*model.Transaction, error) {
	fac, err := e.facility(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	inv, err := e.store.GetInvestor(ctx, investorID)
	if err != nil {
		return nil, err
	}
	shares, err := e.shareTable(ctx, fac)
	if err != nil {
		return nil, err
	}

	share := allocation.Lookup(shares, investorID)
	if share.IsZero() {
		return nil, ErrNoShareForInvestor
	}
	amount := fac.Facility.TotalAmount.Mul(share).DivRound(oneHundred, 0)

	if inv.CurrentInvestments.Add(amount).GreaterThan(inv.InvestmentCapacity) {
		return nil, ErrCapacityExceeded
	}

	tx := e.newTransaction(model.KindFacilityInvestment, fac.ID, amount, date)
	tx.Investment = &model.InvestmentDetail{
		InvestorID:       investorID,
		InvestmentAmount: amount,
	}
	if err := e.createTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ExecuteFacilityInvestment re-checks capacity against the investor's
// current book and records the committed amount.
func (e *Engine) ExecuteFacilityInvestment(ctx context.Context, txID string) (*model.Transaction, error) {
	tx, err := e.getPending(ctx, txID)
	if err != nil {
		return nil, err
	}
	inv, err := e.store.GetInvestor(ctx, tx.Investment.InvestorID)
	if err != nil {
		return nil, err
	}
	if inv.CurrentInvestments.Add(tx.Amount).GreaterThan(inv.InvestmentCapacity) {
		return nil, ErrCapacityExceeded
	}

	out, err := e.markExecuted(ctx, tx)
	if err != nil {
		return nil, err
	}
	inv.CurrentInvestments = inv.CurrentInvestments.Add(tx.Amount)
	if _, err := e.store.PutInvestor(ctx, inv, inv.Version); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateFacilityTrade registers a pending secondary-market transfer of
// facility exposure between two investors. The facility's share pie is not
// rewritten by a trade; the transfer is tracked on the investors' books.
func (e *Engine) CreateFacilityTrade(ctx context.Context, facilityID, sellerID, buyerID string, amount decimal.Decimal, date time.Time) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveAmount
	}
	if sellerID == buyerID {
		return nil, ErrSameParty
	}
	fac, err := e.facility(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.GetInvestor(ctx, sellerID); err != nil {
		return nil, fmt.Errorf("seller %s: %w", sellerID, err)
	}
	buyer, err := e.store.GetInvestor(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("buyer %s: %w", buyerID, err)
	}
	if buyer.CurrentInvestments.Add(amount).GreaterThan(buyer.InvestmentCapacity) {
		return nil, ErrCapacityExceeded
	}

	tx := e.newTransaction(model.KindFacilityTrade, fac.ID, amount, date)
	tx.Trade = &model.TradeDetail{
		SellerID:    sellerID,
		BuyerID:     buyerID,
		TradeAmount: amount,
	}
	if err := e.createTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ExecuteFacilityTrade moves the traded amount from the seller's book to
// the buyer's.
func (e *Engine) ExecuteFacilityTrade(ctx context.Context, txID string) (*model.Transaction, error) {
	tx, err := e.getPending(ctx, txID)
	if err != nil {
		return nil, err
	}
	deltas := map[string]decimal.Decimal{
		tx.Trade.BuyerID:  tx.Amount,
		tx.Trade.SellerID: tx.Amount.Neg(),
	}
	investors, err := e.resolveInvestors(ctx, deltas)
	if err != nil {
		return nil, err
	}
	buyer := investors[tx.Trade.BuyerID]
	if buyer.CurrentInvestments.Add(tx.Amount).GreaterThan(buyer.InvestmentCapacity) {
		return nil, ErrCapacityExceeded
	}

	out, err := e.markExecuted(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := e.applyInvestorDeltas(ctx, investors, deltas); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a transaction by id.
func (e *Engine) Get(ctx context.Context, id string) (*model.Transaction, error) {
	return e.store.GetTransaction(ctx, id)
}

// ListByPosition returns every transaction recorded against a position.
func (e *Engine) ListByPosition(ctx context.Context, positionID string) ([]model.Transaction, error) {
	return e.store.ListTransactionsByPosition(ctx, positionID)
}

// ListByDateRange returns transactions dated within [from, to].
func (e *Engine) ListByDateRange(ctx context.Context, from, to time.Time) ([]model.Transaction, error) {
	return e.store.ListTransactionsByDateRange(ctx, from, to)
}

// Delete removes a pending transaction. Executed transactions are part of
// the permanent record and cannot be deleted.
func (e *Engine) Delete(ctx context.Context, id string) error {
	tx, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if tx.Executed() {
		return ErrAlreadyExecuted
	}
	return e.store.DeleteTransaction(ctx, id)
}
