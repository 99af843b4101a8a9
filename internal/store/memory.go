package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). Versioning
// semantics match the PostgreSQL implementation exactly so concurrency
// tests against MemoryStore are meaningful.
type MemoryStore struct {
	mu           sync.RWMutex
	positions    map[string]*model.Position
	allocations  map[string]*model.AllocationTable
	transactions map[string]*model.Transaction
	investors    map[string]*model.Investor
	syndicates   map[string]*model.Syndicate
	borrowers    map[string]*model.Borrower
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions:    make(map[string]*model.Position),
		allocations:  make(map[string]*model.AllocationTable),
		transactions: make(map[string]*model.Transaction),
		investors:    make(map[string]*model.Investor),
		syndicates:   make(map[string]*model.Syndicate),
		borrowers:    make(map[string]*model.Borrower),
	}
}

// --- deep copies, so callers never alias stored state ---

func clonePosition(p *model.Position) *model.Position {
	c := *p
	if p.Facility != nil {
		f := *p.Facility
		c.Facility = &f
	}
	if p.Loan != nil {
		l := *p.Loan
		l.Schedule = append([]model.RepaymentEntry(nil), p.Loan.Schedule...)
		c.Loan = &l
	}
	return &c
}

func cloneAllocation(a *model.AllocationTable) *model.AllocationTable {
	c := *a
	c.Entries = make(map[string]decimal.Decimal, len(a.Entries))
	for k, v := range a.Entries {
		c.Entries[k] = v
	}
	return &c
}

func cloneTransaction(t *model.Transaction) *model.Transaction {
	c := *t
	if t.ProcessedAt != nil {
		ts := *t.ProcessedAt
		c.ProcessedAt = &ts
	}
	if t.Drawdown != nil {
		d := *t.Drawdown
		c.Drawdown = &d
	}
	if t.Investment != nil {
		d := *t.Investment
		c.Investment = &d
	}
	if t.Trade != nil {
		d := *t.Trade
		c.Trade = &d
	}
	if t.Fee != nil {
		d := *t.Fee
		c.Fee = &d
	}
	if t.Interest != nil {
		d := *t.Interest
		c.Interest = &d
	}
	if t.Principal != nil {
		d := *t.Principal
		c.Principal = &d
	}
	return &c
}

func cloneInvestor(inv *model.Investor) *model.Investor {
	c := *inv
	return &c
}

func cloneSyndicate(s *model.Syndicate) *model.Syndicate {
	c := *s
	c.MemberIDs = append([]string(nil), s.MemberIDs...)
	return &c
}

// --- Positions ---

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; ok {
		return ErrAlreadyExists
	}
	s.positions[p.ID] = clonePosition(p)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePosition(p), nil
}

func (s *MemoryStore) PutPosition(_ context.Context, p *model.Position, expected int64) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.positions[p.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expected {
		return nil, ErrStaleVersion
	}
	next := clonePosition(p)
	next.Version = expected + 1
	s.positions[p.ID] = next
	return clonePosition(next), nil
}

func (s *MemoryStore) ListPositionsByBorrower(_ context.Context, borrowerID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Position
	for _, p := range s.positions {
		if p.BorrowerID == borrowerID {
			out = append(out, *clonePosition(p))
		}
	}
	return out, nil
}

// --- Allocation tables ---

func (s *MemoryStore) CreateAllocation(_ context.Context, a *model.AllocationTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.allocations[a.ID]; ok {
		return ErrAlreadyExists
	}
	s.allocations[a.ID] = cloneAllocation(a)
	return nil
}

func (s *MemoryStore) GetAllocation(_ context.Context, id string) (*model.AllocationTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAllocation(a), nil
}

func (s *MemoryStore) PutAllocation(_ context.Context, a *model.AllocationTable, expected int64) (*model.AllocationTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.allocations[a.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expected {
		return nil, ErrStaleVersion
	}
	next := cloneAllocation(a)
	next.Version = expected + 1
	s.allocations[a.ID] = next
	return cloneAllocation(next), nil
}

func (s *MemoryStore) ListAllocationsByInvestor(_ context.Context, investorID string) ([]model.AllocationTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AllocationTable
	for _, a := range s.allocations {
		if _, ok := a.Entries[investorID]; ok {
			out = append(out, *cloneAllocation(a))
		}
	}
	return out, nil
}

// --- Transactions ---

func (s *MemoryStore) CreateTransaction(_ context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[t.ID]; ok {
		return ErrAlreadyExists
	}
	s.transactions[t.ID] = cloneTransaction(t)
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTransaction(t), nil
}

func (s *MemoryStore) PutTransaction(_ context.Context, t *model.Transaction, expected int64) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.transactions[t.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expected {
		return nil, ErrStaleVersion
	}
	next := cloneTransaction(t)
	next.Version = expected + 1
	s.transactions[t.ID] = next
	return cloneTransaction(next), nil
}

func (s *MemoryStore) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return ErrNotFound
	}
	delete(s.transactions, id)
	return nil
}

func (s *MemoryStore) ListTransactionsByPosition(_ context.Context, positionID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Transaction
	for _, t := range s.transactions {
		if t.RelatedPositionID == positionID {
			out = append(out, *cloneTransaction(t))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTransactionsByPositionAndKind(_ context.Context, positionID string, kind model.TransactionKind) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Transaction
	for _, t := range s.transactions {
		if t.RelatedPositionID == positionID && t.Kind == kind {
			out = append(out, *cloneTransaction(t))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTransactionsByDateRange(_ context.Context, from, to time.Time) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Transaction
	for _, t := range s.transactions {
		if !t.Date.Before(from) && !t.Date.After(to) {
			out = append(out, *cloneTransaction(t))
		}
	}
	return out, nil
}

// --- Investors ---

func (s *MemoryStore) CreateInvestor(_ context.Context, inv *model.Investor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.investors[inv.ID]; ok {
		return ErrAlreadyExists
	}
	s.investors[inv.ID] = cloneInvestor(inv)
	return nil
}

func (s *MemoryStore) GetInvestor(_ context.Context, id string) (*model.Investor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.investors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvestor(inv), nil
}

func (s *MemoryStore) PutInvestor(_ context.Context, inv *model.Investor, expected int64) (*model.Investor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.investors[inv.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expected {
		return nil, ErrStaleVersion
	}
	next := cloneInvestor(inv)
	next.Version = expected + 1
	s.investors[inv.ID] = next
	return cloneInvestor(next), nil
}

func (s *MemoryStore) ListInvestors(_ context.Context) ([]model.Investor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Investor, 0, len(s.investors))
	for _, inv := range s.investors {
		out = append(out, *cloneInvestor(inv))
	}
	return out, nil
}

// --- Syndicates ---

func (s *MemoryStore) CreateSyndicate(_ context.Context, syn *model.Syndicate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.syndicates[syn.ID]; ok {
		return ErrAlreadyExists
	}
	s.syndicates[syn.ID] = cloneSyndicate(syn)
	return nil
}

func (s *MemoryStore) GetSyndicate(_ context.Context, id string) (*model.Syndicate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	syn, ok := s.syndicates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSyndicate(syn), nil
}

// --- Borrowers ---

func (s *MemoryStore) CreateBorrower(_ context.Context, b *model.Borrower) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.borrowers[b.ID]; ok {
		return ErrAlreadyExists
	}
	c := *b
	s.borrowers[b.ID] = &c
	return nil
}

func (s *MemoryStore) GetBorrower(_ context.Context, id string) (*model.Borrower, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.borrowers[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *b
	return &c, nil
}
