package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synloan/loan-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot single-entity lookups: positions, allocation tables,
// and transactions. Versioned writes go to the primary store and invalidate
// the cached copy so no reader can observe a stale version past one TTL.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func positionKey(id string) string    { return fmt.Sprintf("position:%s", id) }
func allocationKey(id string) string  { return fmt.Sprintf("allocation:%s", id) }
func transactionKey(id string) string { return fmt.Sprintf("transaction:%s", id) }

func (s *CachedStore) cacheSet(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// --- Positions ---

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.CreatePosition(ctx, p); err != nil {
		return err
	}
	s.cacheSet(ctx, positionKey(p.ID), p)
	return nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, positionKey(id), p)
	return p, nil
}

func (s *CachedStore) PutPosition(ctx context.Context, p *model.Position, expected int64) (*model.Position, error) {
	stored, err := s.primary.PutPosition(ctx, p, expected)
	if err != nil {
		return nil, err
	}
	// Invalidate; next read re-populates at the new version.
	s.rdb.Del(ctx, positionKey(p.ID))
	return stored, nil
}

func (s *CachedStore) ListPositionsByBorrower(ctx context.Context, borrowerID string) ([]model.Position, error) {
	return s.primary.ListPositionsByBorrower(ctx, borrowerID)
}

// --- Allocation tables ---

func (s *CachedStore) CreateAllocation(ctx context.Context, a *model.AllocationTable) error {
	if err := s.primary.CreateAllocation(ctx, a); err != nil {
		return err
	}
	s.cacheSet(ctx, allocationKey(a.ID), a)
	return nil
}

func (s *CachedStore) GetAllocation(ctx context.Context, id string) (*model.AllocationTable, error) {
	data, err := s.rdb.Get(ctx, allocationKey(id)).Bytes()
	if err == nil {
		var a model.AllocationTable
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAllocation(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, allocationKey(id), a)
	return a, nil
}

func (s *CachedStore) PutAllocation(ctx context.Context, a *model.AllocationTable, expected int64) (*model.AllocationTable, error) {
	stored, err := s.primary.PutAllocation(ctx, a, expected)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, allocationKey(a.ID))
	return stored, nil
}

func (s *CachedStore) ListAllocationsByInvestor(ctx context.Context, investorID string) ([]model.AllocationTable, error) {
	return s.primary.ListAllocationsByInvestor(ctx, investorID)
}

// --- Transactions ---

func (s *CachedStore) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	if err := s.primary.CreateTransaction(ctx, t); err != nil {
		return err
	}
	s.cacheSet(ctx, transactionKey(t.ID), t)
	return nil
}

func (s *CachedStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	data, err := s.rdb.Get(ctx, transactionKey(id)).Bytes()
	if err == nil {
		var t model.Transaction
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, transactionKey(id), t)
	return t, nil
}

func (s *CachedStore) PutTransaction(ctx context.Context, t *model.Transaction, expected int64) (*model.Transaction, error) {
	stored, err := s.primary.PutTransaction(ctx, t, expected)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, transactionKey(t.ID))
	return stored, nil
}

func (s *CachedStore) DeleteTransaction(ctx context.Context, id string) error {
	if err := s.primary.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, transactionKey(id))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTransactionsByPosition(ctx context.Context, positionID string) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByPosition(ctx, positionID)
}

func (s *CachedStore) ListTransactionsByPositionAndKind(ctx context.Context, positionID string, kind model.TransactionKind) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByPositionAndKind(ctx, positionID, kind)
}

func (s *CachedStore) ListTransactionsByDateRange(ctx context.Context, from, to time.Time) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByDateRange(ctx, from, to)
}

func (s *CachedStore) CreateInvestor(ctx context.Context, inv *model.Investor) error {
	return s.primary.CreateInvestor(ctx, inv)
}

func (s *CachedStore) GetInvestor(ctx context.Context, id string) (*model.Investor, error) {
	return s.primary.GetInvestor(ctx, id)
}

func (s *CachedStore) PutInvestor(ctx context.Context, inv *model.Investor, expected int64) (*model.Investor, error) {
	return s.primary.PutInvestor(ctx, inv, expected)
}

func (s *CachedStore) ListInvestors(ctx context.Context) ([]model.Investor, error) {
	return s.primary.ListInvestors(ctx)
}

func (s *CachedStore) CreateSyndicate(ctx context.Context, syn *model.Syndicate) error {
	return s.primary.CreateSyndicate(ctx, syn)
}

func (s *CachedStore) GetSyndicate(ctx context.Context, id string) (*model.Syndicate, error) {
	return s.primary.GetSyndicate(ctx, id)
}

func (s *CachedStore) CreateBorrower(ctx context.Context, b *model.Borrower) error {
	return s.primary.CreateBorrower(ctx, b)
}

func (s *CachedStore) GetBorrower(ctx context.Context, id string) (*model.Borrower, error) {
	return s.primary.GetBorrower(ctx, id)
}
