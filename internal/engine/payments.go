package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/allocation"
	"github.com/synloan/loan-engine/internal/model"
)

var d360 = decimal.NewFromInt(360)

// CreateFeePayment registers a pending fee against a facility. The split
// across investors is not fixed until execution.
func (e *Engine) CreateFeePayment(ctx context.Context, facilityID, feeType string, amount decimal.Decimal, date time.Time) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveAmount
	}
	fac, err := e.facility(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	if _, err := e.shareTable(ctx, fac); err != nil {
		return nil, err
	}

	tx := e.newTransaction(model.KindFeePayment, fac.ID, amount, date)
	tx.Fee = &model.FeeDetail{
		FacilityID:    fac.ID,
		FeeType:       feeType,
		PaymentAmount: amount,
	}
	if err := e.createTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ExecuteFeePayment splits the fee across the facility's current share pie
// and persists the split as an amount pie attached to the transaction. The
// pie reflects the shares as of execution, not creation.
func (e *Engine) ExecuteFeePayment(ctx context.Context, txID string) (*model.Transaction, error) {
	tx, err := e.getPending(ctx, txID)
	if err != nil {
		return nil, err
	}
	fac, err := e.facility(ctx, tx.Fee.FacilityID)
	if err != nil {
		return nil, err
	}
	shares, err := e.shareTable(ctx, fac)
	if err != nil {
		return nil, err
	}

	split, err := e.createAmountTable(ctx, tx.ID, allocation.FromShares(shares, tx.Amount))
	if err != nil {
		return nil, err
	}
	tx.AmountAllocationID = split.ID
	return e.markExecuted(ctx, tx)
}

// CreateInterestPayment registers a pending interest payment for a period.
// The amount is computed ACTUAL/360: loan amount × rate/100 × days/360,
// rounded half-up to 4 decimals.
func (e *Engine) CreateInterestPayment(ctx context.Context, loanID string, periodStart, periodEnd time.Time, date time.Time) (*model.Transaction, error) {
	loan, err := e.loan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	amount := interestFor(loan, periodStart, periodEnd)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveAmount
	}

	tx := e.newTransaction(model.KindInterestPayment, loan.ID, amount, date)
	tx.Interest = &model.InterestDetail{
		LoanID:        loan.ID,
		InterestRate:  loan.Loan.InterestRate,
		PaymentAmount: amount,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
	}
	if err := e.createTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func interestFor(loan *model.Position, periodStart, periodEnd time.Time) decimal.Decimal {
	days := decimal.NewFromInt(int64(periodEnd.Sub(periodStart).Hours() / 24))
	return loan.Amount.
		Mul(loan.Loan.InterestRate).
		DivRound(oneHundred, 10).
		Mul(days).
		DivRound(d360, 4)
}

// ExecuteInterestPayment recomputes the amount against the loan's current
// state, splits it across the investors, and marks the payment executed.
// While pending, rate or principal changes on the loan flow into the final
// amount; after execution the figure is frozen. A loan with no resolvable
// pie still executes; the status transition does not depend on one.
func (e *Engine) ExecuteInterestPayment(ctx context.Context, txID string) (*model.Transaction, error) {
	tx, err := e.getPending(ctx, txID)
	if err != nil {
		return nil, err
	}
	loan, err := e.loan(ctx, tx.Interest.LoanID)
	if err != nil {
		return nil, err
	}

	tx.Amount = interestFor(loan, tx.Interest.PeriodStart, tx.Interest.PeriodEnd)
	tx.Interest.PaymentAmount = tx.Amount
	tx.Interest.InterestRate = loan.Loan.InterestRate

	entries, err := e.interestSplit(ctx, loan, tx.Amount)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		split, err := e.createAmountTable(ctx, tx.ID, entries)
		if err != nil {
			return nil, err
		}
		tx.AmountAllocationID = split.ID
	}
	return e.markExecuted(ctx, tx)
}

// interestSplit resolves how an interest payment fans out: over the funding
// split recorded when the loan's drawdown executed, else over the share pie
// chain, else not at all.
func (e *Engine) interestSplit(ctx context.Context, loan *model.Position, amount decimal.Decimal) (map[string]decimal.Decimal, error) {
	pie, err := e.fundingPie(ctx, loan)
	if err != nil {
		return nil, err
	}
	if pie != nil {
		return allocation.Distribute(pie, amount), nil
	}
	shares, err := e.paymentShares(ctx, loan)
	if errors.Is(err, ErrShareAllocationMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return allocation.FromShares(shares, amount), nil
}

// fundingPie returns the amount pie recorded by the executed drawdown that
// originated the loan, or nil when the loan has none.
func (e *Engine) fundingPie(ctx context.Context, loan *model.Position) (*model.AllocationTable, error) {
	if loan.Loan.FacilityID == "" {
		return nil, nil
	}
	drawdowns, err := e.store.ListTransactionsByPositionAndKind(ctx, loan.Loan.FacilityID, model.KindDrawdown)
	if err != nil {
		return nil, err
	}
	for i := range drawdowns {
		dd := &drawdowns[i]
		if dd.Executed() && dd.Drawdown.LoanID == loan.ID && dd.AmountAllocationID != "" {
			return e.store.GetAllocation(ctx, dd.AmountAllocationID)
		}
	}
	return nil, nil
}

// CreatePrincipalPayment registers a pending principal repayment, bounded
// by the remaining balance: loan total minus every executed principal
// payment to date. Pending payments do not reserve balance.
func (e *Engine) CreatePrincipalPayment(ctx context.Context, loanID string, amount decimal.Decimal, date time.Time) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveAmount
	}
	loan, err := e.loan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	remaining, err := e.RemainingPrincipal(ctx, loan)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(remaining) {
		return nil, ErrPaymentExceedsBalance
	}

	tx := e.newTransaction(model.KindPrincipalPayment, loan.ID, amount, date)
	tx.Principal = &model.PrincipalDetail{
		LoanID:        loan.ID,
		PaymentAmount: amount,
	}
	if err := e.createTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ExecutePrincipalPayment re-checks the remaining balance, reduces the
// loan's outstanding amount and each investor's book by its share of the
// repayment, and marks the payment executed. Collaborators are resolved
// before the first write; a rejection leaves all state unchanged.
func (e *Engine) ExecutePrincipalPayment(ctx context.Context, txID string) (*model.Transaction, error) {
	tx, err := e.getPending(ctx, txID)
	if err != nil {
		return nil, err
	}
	loan, err := e.loan(ctx, tx.Principal.LoanID)
	if err != nil {
		return nil, err
	}
	remaining, err := e.RemainingPrincipal(ctx, loan)
	if err != nil {
		return nil, err
	}
	if tx.Amount.GreaterThan(remaining) {
		return nil, ErrPaymentExceedsBalance
	}

	var repaid map[string]decimal.Decimal
	var investors map[string]*model.Investor
	shares, err := e.paymentShares(ctx, loan)
	switch {
	case err == nil:
		repaid = negate(allocation.FromShares(shares, tx.Amount))
		if investors, err = e.resolveInvestors(ctx, repaid); err != nil {
			return nil, err
		}
	case !errors.Is(err, ErrShareAllocationMissing):
		return nil, err
	}

	out, err := e.markExecuted(ctx, tx)
	if err != nil {
		return nil, err
	}

	// Outstanding amount drops so later interest accrues on the reduced
	// balance.
	loan.Amount = remaining.Sub(tx.Amount)
	if _, err := e.store.PutPosition(ctx, loan, loan.Version); err != nil {
		return nil, err
	}
	if repaid != nil {
		if err := e.applyInvestorDeltas(ctx, investors, repaid); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RemainingPrincipal returns the loan total minus the sum of executed
// principal payments.
func (e *Engine) RemainingPrincipal(ctx context.Context, loan *model.Position) (decimal.Decimal, error) {
	paid, err := e.store.ListTransactionsByPositionAndKind(ctx, loan.ID, model.KindPrincipalPayment)
	if err != nil {
		return decimal.Zero, err
	}
	remaining := loan.Loan.TotalAmount
	for _, p := range paid {
		if p.Executed() {
			remaining = remaining.Sub(p.Amount)
		}
	}
	return remaining, nil
}

// UpdateAmount amends a pending transaction's amount and re-runs the
// kind-specific guards against current state. Executed transactions are
// immutable.
func (e *Engine) UpdateAmount(ctx context.Context, txID string, amount decimal.Decimal) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveAmount
	}
	tx, err := e.getPending(ctx, txID)
	if err != nil {
		return nil, err
	}

	switch tx.Kind {
	case model.KindDrawdown:
		fac, err := e.facility(ctx, tx.Drawdown.FacilityID)
		if err != nil {
			return nil, err
		}
		if amount.GreaterThan(fac.Facility.AvailableAmount) {
			return nil, ErrInsufficientAvailable
		}
		tx.Drawdown.DrawdownAmount = amount
	case model.KindFacilityInvestment:
		inv, err := e.store.GetInvestor(ctx, tx.Investment.InvestorID)
		if err != nil {
			return nil, err
		}
		if inv.CurrentInvestments.Add(amount).GreaterThan(inv.InvestmentCapacity) {
			return nil, ErrCapacityExceeded
		}
		tx.Investment.InvestmentAmount = amount
	case model.KindFacilityTrade:
		buyer, err := e.store.GetInvestor(ctx, tx.Trade.BuyerID)
		if err != nil {
			return nil, err
		}
		if buyer.CurrentInvestments.Add(amount).GreaterThan(buyer.InvestmentCapacity) {
			return nil, ErrCapacityExceeded
		}
		tx.Trade.TradeAmount = amount
	case model.KindFeePayment:
		tx.Fee.PaymentAmount = amount
	case model.KindInterestPayment:
		tx.Interest.PaymentAmount = amount
	case model.KindPrincipalPayment:
		loan, err := e.loan(ctx, tx.Principal.LoanID)
		if err != nil {
			return nil, err
		}
		remaining, err := e.RemainingPrincipal(ctx, loan)
		if err != nil {
			return nil, err
		}
		if amount.GreaterThan(remaining) {
			return nil, ErrPaymentExceedsBalance
		}
		tx.Principal.PaymentAmount = amount
	}

	tx.Amount = amount
	return e.store.PutTransaction(ctx, tx, tx.Version)
}

// paymentShares resolves the share pie used to split a loan payment: the
// loan's own pie, falling back to the parent facility's.
func (e *Engine) paymentShares(ctx context.Context, loan *model.Position) (*model.AllocationTable, error) {
	if loan.ShareAllocationID != "" {
		return e.store.GetAllocation(ctx, loan.ShareAllocationID)
	}
	if loan.Loan.FacilityID == "" {
		return nil, ErrShareAllocationMissing
	}
	fac, err := e.store.GetPosition(ctx, loan.Loan.FacilityID)
	if err != nil {
		return nil, err
	}
	return e.shareTable(ctx, fac)
}

func (e *Engine) createAmountTable(ctx context.Context, ownerID string, entries map[string]decimal.Decimal) (*model.AllocationTable, error) {
	if err := allocation.Validate(entries, model.AllocationAmount); err != nil {
		return nil, err
	}
	table := &model.AllocationTable{
		ID:      uuid.New().String(),
		Kind:    model.AllocationAmount,
		Entries: entries,
		OwnerID: ownerID,
	}
	if err := e.store.CreateAllocation(ctx, table); err != nil {
		return nil, err
	}
	return table, nil
}
