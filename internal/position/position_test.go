package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/model"
	"github.com/synloan/loan-engine/internal/store"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// newTestService seeds a memory store with a borrower and a syndicate and
// returns a service with a fixed clock.
func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateBorrower(ctx, &model.Borrower{ID: "bor-1", Name: "Acme Industries", CreditRating: "BBB"}); err != nil {
		t.Fatalf("seed borrower: %v", err)
	}
	if err := ms.CreateInvestor(ctx, &model.Investor{ID: "inv-lead", Name: "Lead Bank", InvestmentCapacity: d(100000000)}); err != nil {
		t.Fatalf("seed investor: %v", err)
	}
	if err := ms.CreateSyndicate(ctx, &model.Syndicate{ID: "syn-1", LeadBankID: "inv-lead", TotalCommitment: d(10000000)}); err != nil {
		t.Fatalf("seed syndicate: %v", err)
	}

	svc := NewService(ms, func() time.Time { return day("2026-01-01") })
	return svc, ms
}

// --- Facility creation ---

func TestCreateFacility_AvailableStartsAtTotal(t *testing.T) {
	svc, _ := newTestService(t)
	p, err := svc.CreateFacility(context.Background(), FacilityParams{
		BorrowerID:   "bor-1",
		SyndicateID:  "syn-1",
		TotalAmount:  d(5000000),
		StartDate:    day("2026-01-01"),
		TermMonths:   36,
		InterestRate: d(2.5),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Facility.AvailableAmount.Equal(d(5000000)) {
		t.Errorf("expected available 5000000, got %s", p.Facility.AvailableAmount)
	}
	if !p.Facility.EndDate.Equal(day("2029-01-01")) {
		t.Errorf("expected end date 2029-01-01, got %s", p.Facility.EndDate)
	}
}

func TestCreateFacility_TermDerivedFromEndDate(t *testing.T) {
	svc, _ := newTestService(t)
	p, err := svc.CreateFacility(context.Background(), FacilityParams{
		BorrowerID:  "bor-1",
		SyndicateID: "syn-1",
		TotalAmount: d(1000000),
		StartDate:   day("2026-01-01"),
		EndDate:     day("2027-01-01"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 365 days / 30 = 12 months.
	if p.Facility.TermMonths != 12 {
		t.Errorf("expected term 12, got %d", p.Facility.TermMonths)
	}
}

func TestCreateFacility_DerivationIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	first, err := svc.CreateFacility(context.Background(), FacilityParams{
		BorrowerID:  "bor-1",
		SyndicateID: "syn-1",
		TotalAmount: d(1000000),
		StartDate:   day("2026-01-01"),
		TermMonths:  12,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Feeding the derived pair back in must not shift either value.
	second, err := svc.CreateFacility(context.Background(), FacilityParams{
		BorrowerID:  "bor-1",
		SyndicateID: "syn-1",
		TotalAmount: d(1000000),
		StartDate:   day("2026-01-01"),
		EndDate:     first.Facility.EndDate,
		TermMonths:  first.Facility.TermMonths,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Facility.EndDate.Equal(first.Facility.EndDate) || second.Facility.TermMonths != first.Facility.TermMonths {
		t.Errorf("derivation not idempotent: %s/%d vs %s/%d",
			first.Facility.EndDate, first.Facility.TermMonths,
			second.Facility.EndDate, second.Facility.TermMonths)
	}
}

func TestCreateFacility_Rejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateFacility(ctx, FacilityParams{
		BorrowerID: "bor-1", SyndicateID: "syn-1", TotalAmount: d(0), TermMonths: 12,
	})
	if !errors.Is(err, ErrNonPositiveTotal) {
		t.Errorf("expected ErrNonPositiveTotal, got %v", err)
	}

	_, err = svc.CreateFacility(ctx, FacilityParams{
		BorrowerID: "bor-1", SyndicateID: "syn-1", TotalAmount: d(1000),
	})
	if !errors.Is(err, ErrMissingTerm) {
		t.Errorf("expected ErrMissingTerm, got %v", err)
	}

	_, err = svc.CreateFacility(ctx, FacilityParams{
		BorrowerID: "bor-x", SyndicateID: "syn-1", TotalAmount: d(1000), TermMonths: 12,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown borrower, got %v", err)
	}
}

func TestCreateFacility_WithShares(t *testing.T) {
	svc, ms := newTestService(t)
	p, err := svc.CreateFacility(context.Background(), FacilityParams{
		BorrowerID:   "bor-1",
		SyndicateID:  "syn-1",
		TotalAmount:  d(5000000),
		TermMonths:   36,
		ShareEntries: map[string]decimal.Decimal{"inv-a": d(30), "inv-b": d(70)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	table, err := ms.GetAllocation(context.Background(), p.ShareAllocationID)
	if err != nil {
		t.Fatalf("share table not persisted: %v", err)
	}
	if table.Kind != model.AllocationShare || table.OwnerID != p.ID {
		t.Errorf("unexpected share table: kind=%s owner=%s", table.Kind, table.OwnerID)
	}
}

// --- Available amount bounds ---

func TestUpdateAvailableAmount_Bounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreateFacility(ctx, FacilityParams{
		BorrowerID: "bor-1", SyndicateID: "syn-1", TotalAmount: d(5000000), TermMonths: 36,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.UpdateAvailableAmount(ctx, p.ID, d(-1)); !errors.Is(err, ErrNegativeAvailableAmount) {
		t.Errorf("expected ErrNegativeAvailableAmount, got %v", err)
	}
	if _, err := svc.UpdateAvailableAmount(ctx, p.ID, d(5000001)); !errors.Is(err, ErrAvailableExceedsTotal) {
		t.Errorf("expected ErrAvailableExceedsTotal, got %v", err)
	}

	updated, err := svc.UpdateAvailableAmount(ctx, p.ID, d(4000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.Facility.AvailableAmount.Equal(d(4000000)) {
		t.Errorf("expected available 4000000, got %s", updated.Facility.AvailableAmount)
	}
	if updated.Version != p.Version+1 {
		t.Errorf("expected version bump to %d, got %d", p.Version+1, updated.Version)
	}

	// Zero and full total are both inside the closed interval.
	if _, err := svc.UpdateAvailableAmount(ctx, p.ID, d(0)); err != nil {
		t.Errorf("zero should be allowed: %v", err)
	}
	if _, err := svc.UpdateAvailableAmount(ctx, p.ID, d(5000000)); err != nil {
		t.Errorf("full total should be allowed: %v", err)
	}
}

// --- Utilization ---

func TestUtilizationRate(t *testing.T) {
	p := &model.Position{
		Kind: model.PositionFacility,
		Facility: &model.FacilityDetail{
			TotalAmount:     d(5000000),
			AvailableAmount: d(4000000),
		},
	}
	rate, err := UtilizationRate(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rate.Equal(d(20)) {
		t.Errorf("expected utilization 20, got %s", rate)
	}

	p.Facility.AvailableAmount = d(5000000)
	rate, _ = UtilizationRate(p)
	if !rate.IsZero() {
		t.Errorf("expected utilization 0 for untouched facility, got %s", rate)
	}

	p.Facility.AvailableAmount = decimal.Zero
	rate, _ = UtilizationRate(p)
	if !rate.Equal(d(100)) {
		t.Errorf("expected utilization 100 for fully drawn facility, got %s", rate)
	}
}

// --- Repayment schedule ---

func scheduleLoan(total float64, rate float64, start, end string) *model.Position {
	return &model.Position{
		Kind: model.PositionLoan,
		Loan: &model.LoanDetail{
			TotalAmount:  d(total),
			InterestRate: d(rate),
			StartDate:    day(start),
			EndDate:      day(end),
		},
	}
}

func TestGenerateRepaymentSchedule_QuarterlyInterestPlusPrincipal(t *testing.T) {
	p := scheduleLoan(1000000, 2, "2026-01-01", "2027-01-01")
	if err := GenerateRepaymentSchedule(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One principal entry plus four quarterly interest entries.
	if len(p.Loan.Schedule) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(p.Loan.Schedule))
	}

	principal := p.Loan.Schedule[0]
	if principal.PaymentType != model.RepaymentPrincipal ||
		!principal.PrincipalAmount.Equal(d(1000000)) ||
		!principal.ScheduledDate.Equal(day("2027-01-01")) {
		t.Errorf("unexpected principal entry: %+v", principal)
	}

	// Yearly interest 20000; quarters are 90, 91, 92, 92 days.
	wantInterest := []struct {
		date   string
		amount decimal.Decimal
	}{
		{"2026-04-01", d(4931.5068)},
		{"2026-07-01", d(4986.3014)},
		{"2026-10-01", d(5041.0959)},
		{"2027-01-01", d(5041.0959)},
	}
	for i, want := range wantInterest {
		got := p.Loan.Schedule[i+1]
		if got.PaymentType != model.RepaymentInterest {
			t.Errorf("entry %d: expected interest entry, got %s", i+1, got.PaymentType)
		}
		if !got.ScheduledDate.Equal(day(want.date)) {
			t.Errorf("entry %d: expected date %s, got %s", i+1, want.date, got.ScheduledDate)
		}
		if !got.InterestAmount.Equal(want.amount) {
			t.Errorf("entry %d: expected interest %s, got %s", i+1, want.amount, got.InterestAmount)
		}
	}
}

func TestGenerateRepaymentSchedule_FinalIntervalClipped(t *testing.T) {
	// Four months: one full quarter plus a one-month stub.
	p := scheduleLoan(1000000, 2, "2026-01-01", "2026-05-01")
	if err := GenerateRepaymentSchedule(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Loan.Schedule) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(p.Loan.Schedule))
	}
	last := p.Loan.Schedule[2]
	if !last.ScheduledDate.Equal(day("2026-05-01")) {
		t.Errorf("expected stub entry at 2026-05-01, got %s", last.ScheduledDate)
	}
	// 30-day stub: 20000 × 30/365 = 1643.8356.
	if !last.InterestAmount.Equal(d(1643.8356)) {
		t.Errorf("expected stub interest 1643.8356, got %s", last.InterestAmount)
	}
}

func TestGenerateRepaymentSchedule_Idempotent(t *testing.T) {
	p := scheduleLoan(1000000, 2, "2026-01-01", "2027-01-01")
	if err := GenerateRepaymentSchedule(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := len(p.Loan.Schedule)
	if err := GenerateRepaymentSchedule(p); err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if len(p.Loan.Schedule) != first {
		t.Errorf("schedule grew on replay: %d -> %d", first, len(p.Loan.Schedule))
	}
}

func TestGenerateRepaymentSchedule_NotLoan(t *testing.T) {
	p := &model.Position{Kind: model.PositionFacility, Facility: &model.FacilityDetail{}}
	if err := GenerateRepaymentSchedule(p); !errors.Is(err, ErrNotLoan) {
		t.Errorf("expected ErrNotLoan, got %v", err)
	}
}

// --- Share allocation replacement ---

func TestReplaceShareAllocation_SwapsWholesale(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreateFacility(ctx, FacilityParams{
		BorrowerID:   "bor-1",
		SyndicateID:  "syn-1",
		TotalAmount:  d(5000000),
		TermMonths:   36,
		ShareEntries: map[string]decimal.Decimal{"inv-a": d(30), "inv-b": d(70)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	table, err := svc.ReplaceShareAllocation(ctx, p.ID, map[string]decimal.Decimal{
		"inv-a": d(25), "inv-b": d(60), "inv-c": d(15),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Entries) != 3 {
		t.Errorf("expected 3 entries after replacement, got %d", len(table.Entries))
	}

	stored, _ := ms.GetAllocation(ctx, p.ShareAllocationID)
	if !stored.Entries["inv-c"].Equal(d(15)) {
		t.Errorf("replacement not persisted: %v", stored.Entries)
	}
}

func TestReplaceShareAllocation_RejectsInvalidPie(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreateFacility(ctx, FacilityParams{
		BorrowerID: "bor-1", SyndicateID: "syn-1", TotalAmount: d(5000000), TermMonths: 36,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.ReplaceShareAllocation(ctx, p.ID, map[string]decimal.Decimal{"inv-a": d(99)}); err == nil {
		t.Error("expected validation error for pie summing to 99")
	}
}
