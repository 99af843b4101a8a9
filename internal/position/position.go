// Package position manages facility and loan aggregates: creation with
// derived fields, the available-amount bounds, utilization, and the
// deterministic repayment schedule.
//
// All monetary values use shopspring/decimal — never float64 for money.
package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/allocation"
	"github.com/synloan/loan-engine/internal/model"
	"github.com/synloan/loan-engine/internal/store"
)

var (
	// ErrNonPositiveTotal is returned when a position is created with a
	// zero or negative total amount.
	ErrNonPositiveTotal = errors.New("position: total amount must be positive")

	// ErrNegativeAvailableAmount is returned when an update would drive the
	// available amount below zero.
	ErrNegativeAvailableAmount = errors.New("position: available amount cannot be negative")

	// ErrAvailableExceedsTotal is returned when an update would push the
	// available amount beyond the currently persisted total.
	ErrAvailableExceedsTotal = errors.New("position: available amount cannot exceed total amount")

	// ErrMissingTerm is returned when neither a term nor an end date is
	// supplied at creation.
	ErrMissingTerm = errors.New("position: either term or end date is required")

	// ErrNotFacility and ErrNotLoan guard kind-specific operations.
	ErrNotFacility = errors.New("position: not a facility")
	ErrNotLoan     = errors.New("position: not a loan")
)

var oneHundred = decimal.NewFromInt(100)

// Service creates and mutates positions through the store. All writes are
// versioned; a concurrent writer surfaces as store.ErrStaleVersion.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a position service. Pass nil for now to use time.Now.
func NewService(st store.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, now: now}
}

// FacilityParams are the inputs for creating a facility position.
type FacilityParams struct {
	BorrowerID   string
	SyndicateID  string
	TotalAmount  decimal.Decimal
	StartDate    time.Time // zero → today
	EndDate      time.Time // derived from term when zero
	TermMonths   int       // derived from end date when zero
	InterestRate decimal.Decimal
	ShareEntries map[string]decimal.Decimal // optional initial share pie
}

// LoanParams are the inputs for creating a loan position.
type LoanParams struct {
	BorrowerID   string
	FacilityID   string // optional parent
	Amount       decimal.Decimal
	TotalAmount  decimal.Decimal
	StartDate    time.Time
	EndDate      time.Time
	TermMonths   int
	InterestRate decimal.Decimal
	ShareEntries map[string]decimal.Decimal
}

// deriveTermDates fills in whichever of term/endDate is missing from the
// other. The derivation is symmetric and idempotent: feeding the derived
// pair back through changes nothing.
func deriveTermDates(start time.Time, end time.Time, termMonths int) (time.Time, int, error) {
	switch {
	case end.IsZero() && termMonths > 0:
		return start.AddDate(0, termMonths, 0), termMonths, nil
	case !end.IsZero() && termMonths == 0:
		days := int(end.Sub(start).Hours() / 24)
		return end, days / 30, nil
	case !end.IsZero() && termMonths > 0:
		return end, termMonths, nil
	}
	return time.Time{}, 0, ErrMissingTerm
}

// CreateFacility persists a new facility. Available amount initializes to
// the total; the borrower and syndicate must exist. When share entries are
// supplied, they are validated and stored as the facility's share pie.
func (s *Service) CreateFacility(ctx context.Context, params FacilityParams) (*model.Position, error) {
	if params.TotalAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveTotal
	}
	if _, err := s.store.GetBorrower(ctx, params.BorrowerID); err != nil {
		return nil, fmt.Errorf("borrower %s: %w", params.BorrowerID, err)
	}
	if _, err := s.store.GetSyndicate(ctx, params.SyndicateID); err != nil {
		return nil, fmt.Errorf("syndicate %s: %w", params.SyndicateID, err)
	}

	start := params.StartDate
	if start.IsZero() {
		start = s.now().UTC().Truncate(24 * time.Hour)
	}
	end, term, err := deriveTermDates(start, params.EndDate, params.TermMonths)
	if err != nil {
		return nil, err
	}

	p := &model.Position{
		ID:         uuid.New().String(),
		Kind:       model.PositionFacility,
		BorrowerID: params.BorrowerID,
		Amount:     params.TotalAmount,
		Facility: &model.FacilityDetail{
			TotalAmount:     params.TotalAmount,
			AvailableAmount: params.TotalAmount,
			StartDate:       start,
			EndDate:         end,
			TermMonths:      term,
			InterestRate:    params.InterestRate,
			SyndicateID:     params.SyndicateID,
		},
	}

	if len(params.ShareEntries) > 0 {
		table, err := s.createShareTable(ctx, p.ID, params.ShareEntries)
		if err != nil {
			return nil, err
		}
		p.ShareAllocationID = table.ID
	}

	if err := s.store.CreatePosition(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateLoan persists a new loan. Available amount initializes to the
// total; term and end date derive from each other when only one is given.
func (s *Service) CreateLoan(ctx context.Context, params LoanParams) (*model.Position, error) {
	if params.TotalAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveTotal
	}
	if _, err := s.store.GetBorrower(ctx, params.BorrowerID); err != nil {
		return nil, fmt.Errorf("borrower %s: %w", params.BorrowerID, err)
	}
	if params.FacilityID != "" {
		parent, err := s.store.GetPosition(ctx, params.FacilityID)
		if err != nil {
			return nil, fmt.Errorf("facility %s: %w", params.FacilityID, err)
		}
		if parent.Kind != model.PositionFacility {
			return nil, ErrNotFacility
		}
	}

	start := params.StartDate
	if start.IsZero() {
		start = s.now().UTC().Truncate(24 * time.Hour)
	}
	end, term, err := deriveTermDates(start, params.EndDate, params.TermMonths)
	if err != nil {
		return nil, err
	}

	amount := params.Amount
	if amount.IsZero() {
		amount = params.TotalAmount
	}

	p := &model.Position{
		ID:         uuid.New().String(),
		Kind:       model.PositionLoan,
		BorrowerID: params.BorrowerID,
		Amount:     amount,
		Loan: &model.LoanDetail{
			TotalAmount:     params.TotalAmount,
			AvailableAmount: params.TotalAmount,
			StartDate:       start,
			EndDate:         end,
			TermMonths:      term,
			InterestRate:    params.InterestRate,
			FacilityID:      params.FacilityID,
		},
	}

	if len(params.ShareEntries) > 0 {
		table, err := s.createShareTable(ctx, p.ID, params.ShareEntries)
		if err != nil {
			return nil, err
		}
		p.ShareAllocationID = table.ID
	}

	if err := s.store.CreatePosition(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) createShareTable(ctx context.Context, ownerID string, entries map[string]decimal.Decimal) (*model.AllocationTable, error) {
	if err := allocation.Validate(entries, model.AllocationShare); err != nil {
		return nil, err
	}
	table := &model.AllocationTable{
		ID:      uuid.New().String(),
		Kind:    model.AllocationShare,
		Entries: entries,
		OwnerID: ownerID,
	}
	if err := s.store.CreateAllocation(ctx, table); err != nil {
		return nil, err
	}
	return table, nil
}

// UpdateAvailableAmount sets a facility's or loan's available amount,
// checked against the currently persisted total, never a stale copy. The
// write is versioned against the state just read.
func (s *Service) UpdateAvailableAmount(ctx context.Context, positionID string, newAvailable decimal.Decimal) (*model.Position, error) {
	p, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	if newAvailable.IsNegative() {
		return nil, ErrNegativeAvailableAmount
	}

	switch p.Kind {
	case model.PositionFacility:
		if newAvailable.GreaterThan(p.Facility.TotalAmount) {
			return nil, ErrAvailableExceedsTotal
		}
		p.Facility.AvailableAmount = newAvailable
	case model.PositionLoan:
		if newAvailable.GreaterThan(p.Loan.TotalAmount) {
			return nil, ErrAvailableExceedsTotal
		}
		p.Loan.AvailableAmount = newAvailable
	}

	return s.store.PutPosition(ctx, p, p.Version)
}

// ReplaceShareAllocation swaps the position's share pie wholesale after
/// full re-validation. No merge semantics: the prior entries are discarded.
func (s *Service) ReplaceShareAllocation(ctx context.Context, positionID string, entries map[string]decimal.Decimal) (*model.AllocationTable, error) {
	if err := allocation.Validate(entries, model.AllocationShare); err != nil {
		return nil, err
	}

	p, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	if p.ShareAllocationID == "" {
		table, err := s.createShareTable(ctx, p.ID, entries)
		if err != nil {
			return nil, err
		}
		p.ShareAllocationID = table.ID
		if _, err := s.store.PutPosition(ctx, p, p.Version); err != nil {
			return nil, err
		}
		return table, nil
	}

	table, err := s.store.GetAllocation(ctx, p.ShareAllocationID)
	if err != nil {
		return nil, err
	}
	table.Entries = entries
	return s.store.PutAllocation(ctx, table, table.Version)
}

// UtilizationRate returns (1 − available/total) × 100 at 4-decimal
// precision. Total is guaranteed positive at creation.
func UtilizationRate(p *model.Position) (decimal.Decimal, error) {
	var total, available decimal.Decimal
	switch p.Kind {
	case model.PositionFacility:
		total, available = p.Facility.TotalAmount, p.Facility.AvailableAmount
	case model.PositionLoan:
		total, available = p.Loan.TotalAmount, p.Loan.AvailableAmount
	default:
		return decimal.Zero, fmt.Errorf("position %s: unknown kind %q", p.ID, p.Kind)
	}
	ratio := available.DivRound(total, 6)
	return decimal.NewFromInt(1).Sub(ratio).Mul(oneHundred).Round(4), nil
}

// GenerateRepaymentSchedule fills in the loan's schedule: one principal
// entry at the end date for the full total, plus interest entries every
// three months from the start date with the final interval clipped to the
// end date. Interest per interval = total × rate/100 × days/365, rounded
// half-up to 4 decimals.
//
// The algorithm is pure and replayable: a loan that already carries a
// schedule is left untouched.
func GenerateRepaymentSchedule(p *model.Position) error {
	if p.Kind != model.PositionLoan {
		return ErrNotLoan
	}
	loan := p.Loan
	if len(loan.Schedule) > 0 {
		return nil // already generated
	}

	schedule := []model.RepaymentEntry{{
		ScheduledDate:   loan.EndDate,
		PaymentType:     model.RepaymentPrincipal,
		PrincipalAmount: loan.TotalAmount,
	}}

	yearlyInterest := loan.TotalAmount.Mul(loan.InterestRate).DivRound(oneHundred, 10)

	current := loan.StartDate
	for current.Before(loan.EndDate) {
		next := current.AddDate(0, 3, 0)
		if next.After(loan.EndDate) {
			next = loan.EndDate
		}

		days := decimal.NewFromInt(int64(next.Sub(current).Hours() / 24))
		interest := yearlyInterest.Mul(days).DivRound(decimal.NewFromInt(365), 4)

		schedule = append(schedule, model.RepaymentEntry{
			ScheduledDate:  next,
			PaymentType:    model.RepaymentInterest,
			InterestAmount: interest,
		})
		current = next
	}

	loan.Schedule = schedule
	return nil
}
