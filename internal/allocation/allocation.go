// Package allocation implements the validated investor-split tables at the
// heart of the engine: share pies (percentage ownership of a position,
// closing at exactly 100%) and amount pies (absolute per-investor splits of
// one transaction's cash amount).
//
// Both flavors share one shape and one rule set except the 100% closure
// constraint, so validation is a single function with a kind discriminator.
// All values use shopspring/decimal — never float64 for money.
package allocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/model"
)

var (
	// ErrEmptyAllocation is returned when a table has no entries.
	ErrEmptyAllocation = errors.New("allocation: entries cannot be empty")

	// ErrNonPositiveValue is returned when any entry value is zero or
	// negative.
	ErrNonPositiveValue = errors.New("allocation: entry value must be positive")

	// ErrInvalidTotalShare is returned when a share pie's values do not sum
	// to exactly 100.0000 at 4-decimal half-up rounding.
	ErrInvalidTotalShare = errors.New("allocation: total shares must equal 100%")
)

// ShareScale is the decimal precision for share percentages.
const ShareScale int32 = 4

var oneHundred = decimal.NewFromInt(100)

// Validate checks a table's entries against the structural rules for its
// kind. Share pies additionally require the sum, rounded half-up to
// ShareScale, to equal exactly 100.0000.
func Validate(entries map[string]decimal.Decimal, kind model.AllocationKind) error {
	if len(entries) == 0 {
		return ErrEmptyAllocation
	}
	for investorID, v := range entries {
		if v.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: investor %s has %s", ErrNonPositiveValue, investorID, v)
		}
	}
	if kind == model.AllocationShare {
		total := Sum(entries).Round(ShareScale)
		if !total.Equal(oneHundred) {
			return fmt.Errorf("%w: got %s", ErrInvalidTotalShare, total)
		}
	}
	return nil
}

// Lookup returns the value recorded for an investor, or zero when the
// investor is absent. Absence is not an error.
func Lookup(table *model.AllocationTable, investorID string) decimal.Decimal {
	if table == nil {
		return decimal.Zero
	}
	if v, ok := table.Entries[investorID]; ok {
		return v
	}
	return decimal.Zero
}

// Sum returns the total of all entry values.
func Sum(entries map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range entries {
		total = total.Add(v)
	}
	return total
}

// SumForInvestor totals one investor's value across many tables. Reporting
// helper only; it enforces nothing.
func SumForInvestor(tables []model.AllocationTable, investorID string) decimal.Decimal {
	total := decimal.Zero
	for i := range tables {
		total = total.Add(Lookup(&tables[i], investorID))
	}
	return total
}

// FromShares converts a share pie into an amount pie over total: each
// investor receives total × share/100, rounded half-up to ShareScale.
func FromShares(shares *model.AllocationTable, total decimal.Decimal) map[string]decimal.Decimal {
	amounts := make(map[string]decimal.Decimal, len(shares.Entries))
	for investorID, share := range shares.Entries {
		amounts[investorID] = total.Mul(share).DivRound(oneHundred, ShareScale)
	}
	return amounts
}

// Distribute splits total across the weights of an existing amount pie,
// proportional to each investor's fraction of the pie, rounded half-up to
// ShareScale per entry. Used to fan an interest payment out over the
// drawdown's original funding split.
func Distribute(pie *model.AllocationTable, total decimal.Decimal) map[string]decimal.Decimal {
	base := Sum(pie.Entries)
	out := make(map[string]decimal.Decimal, len(pie.Entries))
	if base.IsZero() {
		return out
	}
	for investorID, amount := range pie.Entries {
		ratio := amount.DivRound(base, 10)
		out[investorID] = total.Mul(ratio).Round(ShareScale)
	}
	return out
}
