package allocation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Validate: share pies ---

func TestValidate_SharePieExactlyHundred(t *testing.T) {
	entries := map[string]decimal.Decimal{"inv-a": d(30), "inv-b": d(70)}
	if err := Validate(entries, model.AllocationShare); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_SharePieRoundsToHundred(t *testing.T) {
	// 33.3333 + 33.3333 + 33.3334 = 100.0000 exactly at 4 decimals.
	entries := map[string]decimal.Decimal{
		"inv-a": d(33.3333),
		"inv-b": d(33.3333),
		"inv-c": d(33.3334),
	}
	if err := Validate(entries, model.AllocationShare); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_SharePieShortOfHundred(t *testing.T) {
	entries := map[string]decimal.Decimal{"inv-a": d(30), "inv-b": d(69.9999)}
	err := Validate(entries, model.AllocationShare)
	if !errors.Is(err, ErrInvalidTotalShare) {
		t.Errorf("expected ErrInvalidTotalShare, got %v", err)
	}
}

func TestValidate_SharePieOverHundred(t *testing.T) {
	entries := map[string]decimal.Decimal{"inv-a": d(50), "inv-b": d(50.001)}
	err := Validate(entries, model.AllocationShare)
	if !errors.Is(err, ErrInvalidTotalShare) {
		t.Errorf("expected ErrInvalidTotalShare, got %v", err)
	}
}

func TestValidate_SubScaleResidueRoundsAway(t *testing.T) {
	// Sum is 100.00001; rounding half-up at 4 decimals yields 100.0000.
	entries := map[string]decimal.Decimal{
		"inv-a": decimal.RequireFromString("50.00001"),
		"inv-b": d(50),
	}
	if err := Validate(entries, model.AllocationShare); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- Validate: shared rules ---

func TestValidate_Empty(t *testing.T) {
	for _, kind := range []model.AllocationKind{model.AllocationShare, model.AllocationAmount} {
		if err := Validate(nil, kind); !errors.Is(err, ErrEmptyAllocation) {
			t.Errorf("kind %s: expected ErrEmptyAllocation, got %v", kind, err)
		}
	}
}

func TestValidate_NonPositiveEntry(t *testing.T) {
	entries := map[string]decimal.Decimal{"inv-a": d(100), "inv-b": d(0)}
	if err := Validate(entries, model.AllocationShare); !errors.Is(err, ErrNonPositiveValue) {
		t.Errorf("expected ErrNonPositiveValue for zero entry, got %v", err)
	}

	entries = map[string]decimal.Decimal{"inv-a": d(-5)}
	if err := Validate(entries, model.AllocationAmount); !errors.Is(err, ErrNonPositiveValue) {
		t.Errorf("expected ErrNonPositiveValue for negative entry, got %v", err)
	}
}

func TestValidate_AmountPieUnconstrainedSum(t *testing.T) {
	// Amount pies carry absolute currency, so any positive sum is fine.
	entries := map[string]decimal.Decimal{"inv-a": d(1234.56), "inv-b": d(0.01)}
	if err := Validate(entries, model.AllocationAmount); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- Lookup / Sum ---

func TestLookup_AbsentInvestorIsZero(t *testing.T) {
	table := &model.AllocationTable{
		Kind:    model.AllocationShare,
		Entries: map[string]decimal.Decimal{"inv-a": d(100)},
	}
	if got := Lookup(table, "inv-x"); !got.IsZero() {
		t.Errorf("expected zero for absent investor, got %s", got)
	}
	if got := Lookup(table, "inv-a"); !got.Equal(d(100)) {
		t.Errorf("expected 100, got %s", got)
	}
}

func TestLookup_NilTable(t *testing.T) {
	if got := Lookup(nil, "inv-a"); !got.IsZero() {
		t.Errorf("expected zero for nil table, got %s", got)
	}
}

func TestSumForInvestor_SpansTables(t *testing.T) {
	tables := []model.AllocationTable{
		{Entries: map[string]decimal.Decimal{"inv-a": d(1500), "inv-b": d(3500)}},
		{Entries: map[string]decimal.Decimal{"inv-a": d(250)}},
		{Entries: map[string]decimal.Decimal{"inv-b": d(100)}},
	}
	if got := SumForInvestor(tables, "inv-a"); !got.Equal(d(1750)) {
		t.Errorf("expected 1750, got %s", got)
	}
}

// --- FromShares / Distribute ---

func TestFromShares_SplitsTotal(t *testing.T) {
	shares := &model.AllocationTable{
		Kind:    model.AllocationShare,
		Entries: map[string]decimal.Decimal{"inv-a": d(30), "inv-b": d(70)},
	}
	amounts := FromShares(shares, d(5000000))
	if !amounts["inv-a"].Equal(d(1500000)) {
		t.Errorf("inv-a: expected 1500000, got %s", amounts["inv-a"])
	}
	if !amounts["inv-b"].Equal(d(3500000)) {
		t.Errorf("inv-b: expected 3500000, got %s", amounts["inv-b"])
	}
}

func TestFromShares_RoundsHalfUp(t *testing.T) {
	shares := &model.AllocationTable{
		Kind:    model.AllocationShare,
		Entries: map[string]decimal.Decimal{"inv-a": d(33.3333), "inv-b": d(66.6667)},
	}
	amounts := FromShares(shares, d(100))
	if !amounts["inv-a"].Equal(d(33.3333)) {
		t.Errorf("inv-a: expected 33.3333, got %s", amounts["inv-a"])
	}
	if !amounts["inv-b"].Equal(d(66.6667)) {
		t.Errorf("inv-b: expected 66.6667, got %s", amounts["inv-b"])
	}
}

func TestDistribute_ProportionalToWeights(t *testing.T) {
	pie := &model.AllocationTable{
		Kind:    model.AllocationAmount,
		Entries: map[string]decimal.Decimal{"inv-a": d(1500000), "inv-b": d(3500000)},
	}
	out := Distribute(pie, d(10000))
	if !out["inv-a"].Equal(d(3000)) {
		t.Errorf("inv-a: expected 3000, got %s", out["inv-a"])
	}
	if !out["inv-b"].Equal(d(7000)) {
		t.Errorf("inv-b: expected 7000, got %s", out["inv-b"])
	}
}

func TestDistribute_ZeroBasePie(t *testing.T) {
	pie := &model.AllocationTable{Kind: model.AllocationAmount, Entries: map[string]decimal.Decimal{}}
	if out := Distribute(pie, d(10000)); len(out) != 0 {
		t.Errorf("expected empty distribution, got %v", out)
	}
}
