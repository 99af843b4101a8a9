package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/model"
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

func seedPosition(t *testing.T, ms *MemoryStore, id string) *model.Position {
	t.Helper()
	p := &model.Position{
		ID:         id,
		Kind:       model.PositionFacility,
		BorrowerID: "bor-1",
		Amount:     d(5000000),
		Facility: &model.FacilityDetail{
			TotalAmount:     d(5000000),
			AvailableAmount: d(5000000),
		},
	}
	if err := ms.CreatePosition(context.Background(), p); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	return p
}

// --- Versioned writes ---

func TestPutPosition_VersionGate(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	p := seedPosition(t, ms, "pos-1")

	// A write against the version just read succeeds and bumps it.
	p.Facility.AvailableAmount = d(4000000)
	updated, err := ms.PutPosition(ctx, p, p.Version)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Version != p.Version+1 {
		t.Errorf("expected version %d, got %d", p.Version+1, updated.Version)
	}

	// The same expected version a second time is stale.
	if _, err := ms.PutPosition(ctx, p, p.Version); !errors.Is(err, ErrStaleVersion) {
		t.Errorf("expected ErrStaleVersion, got %v", err)
	}
}

func TestPutPosition_NotFoundBeatsStale(t *testing.T) {
	ms := NewMemoryStore()
	p := &model.Position{ID: "ghost", Kind: model.PositionFacility, Facility: &model.FacilityDetail{}}
	if _, err := ms.PutPosition(context.Background(), p, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutPosition_ConcurrentWritersOneWins(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	seedPosition(t, ms, "pos-1")

	// Both goroutines read version 0; exactly one CAS may succeed.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := ms.GetPosition(ctx, "pos-1")
			if err != nil {
				errs[i] = err
				return
			}
			p.Facility.AvailableAmount = d(float64(1000000 * (i + 1)))
			_, errs[i] = ms.PutPosition(ctx, p, 0)
		}(i)
	}
	wg.Wait()

	var stale int
	for _, err := range errs {
		if errors.Is(err, ErrStaleVersion) {
			stale++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if stale != 1 {
		t.Errorf("expected exactly one stale write, got %d", stale)
	}

	final, _ := ms.GetPosition(ctx, "pos-1")
	if final.Version != 1 {
		t.Errorf("expected final version 1, got %d", final.Version)
	}
}

func TestCreatePosition_Duplicate(t *testing.T) {
	ms := NewMemoryStore()
	p := seedPosition(t, ms, "pos-1")
	if err := ms.CreatePosition(context.Background(), p); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

// --- Isolation ---

func TestGetPosition_ReturnsCopy(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	seedPosition(t, ms, "pos-1")

	got, _ := ms.GetPosition(ctx, "pos-1")
	got.Facility.AvailableAmount = d(1)

	again, _ := ms.GetPosition(ctx, "pos-1")
	if !again.Facility.AvailableAmount.Equal(d(5000000)) {
		t.Error("mutating a returned position leaked into the store")
	}
}

func TestGetAllocation_ReturnsCopy(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	table := &model.AllocationTable{
		ID:      "alloc-1",
		Kind:    model.AllocationShare,
		Entries: map[string]decimal.Decimal{"inv-a": d(100)},
		OwnerID: "pos-1",
	}
	if err := ms.CreateAllocation(ctx, table); err != nil {
		t.Fatalf("seed allocation: %v", err)
	}

	got, _ := ms.GetAllocation(ctx, "alloc-1")
	got.Entries["inv-a"] = d(1)
	got.Entries["inv-b"] = d(99)

	again, _ := ms.GetAllocation(ctx, "alloc-1")
	if !again.Entries["inv-a"].Equal(d(100)) || len(again.Entries) != 1 {
		t.Error("mutating returned entries leaked into the store")
	}
}

func TestCreateBorrower_StoresCopy(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	b := &model.Borrower{ID: "bor-1", Name: "Acme Industries", CreditRating: "BBB"}
	if err := ms.CreateBorrower(ctx, b); err != nil {
		t.Fatalf("seed borrower: %v", err)
	}

	b.CreditRating = "D"

	got, err := ms.GetBorrower(ctx, "bor-1")
	if err != nil {
		t.Fatalf("get borrower: %v", err)
	}
	if got.CreditRating != "BBB" {
		t.Errorf("mutating the created borrower leaked into the store: %s", got.CreditRating)
	}
}

// --- Transaction queries ---

func seedTransaction(t *testing.T, ms *MemoryStore, id string, kind model.TransactionKind, positionID string, date time.Time) {
	t.Helper()
	tx := &model.Transaction{
		ID:                id,
		Kind:              kind,
		Date:              date,
		Amount:            d(1000),
		RelatedPositionID: positionID,
		Status:            model.StatusPending,
	}
	if err := ms.CreateTransaction(context.Background(), tx); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
}

func TestListTransactionsByPositionAndKind(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	seedTransaction(t, ms, "tx-1", model.KindDrawdown, "pos-1", day("2026-01-01"))
	seedTransaction(t, ms, "tx-2", model.KindPrincipalPayment, "pos-1", day("2026-02-01"))
	seedTransaction(t, ms, "tx-3", model.KindPrincipalPayment, "pos-1", day("2026-03-01"))
	seedTransaction(t, ms, "tx-4", model.KindPrincipalPayment, "pos-2", day("2026-03-01"))

	txs, err := ms.ListTransactionsByPositionAndKind(ctx, "pos-1", model.KindPrincipalPayment)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 2 {
		t.Errorf("expected 2 principal payments on pos-1, got %d", len(txs))
	}
}

func TestListTransactionsByDateRange(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	seedTransaction(t, ms, "tx-1", model.KindDrawdown, "pos-1", day("2026-01-10"))
	seedTransaction(t, ms, "tx-2", model.KindDrawdown, "pos-1", day("2026-02-10"))
	seedTransaction(t, ms, "tx-3", model.KindDrawdown, "pos-1", day("2026-03-10"))

	txs, err := ms.ListTransactionsByDateRange(ctx, day("2026-01-10"), day("2026-02-10"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 2 {
		t.Errorf("expected 2 transactions in inclusive range, got %d", len(txs))
	}
}

func TestDeleteTransaction(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	seedTransaction(t, ms, "tx-1", model.KindDrawdown, "pos-1", day("2026-01-10"))

	if err := ms.DeleteTransaction(ctx, "tx-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ms.GetTransaction(ctx, "tx-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := ms.DeleteTransaction(ctx, "tx-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}
