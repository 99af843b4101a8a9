// Package store defines the persistence interface for the loan engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every mutable aggregate carries a version. Reads return the entity with
// the version it was persisted at; versioned writes take the version the
// caller read and fail with ErrStaleVersion when it no longer matches, then
// increment on success. This compare-and-swap is the only serialization
// point between concurrent writers — there is no in-process lock around
// business operations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/synloan/loan-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrStaleVersion is returned when a versioned write carries a version
	// that no longer matches the persisted one. The caller must re-read and
	// re-check business guards before retrying; the store never retries.
	ErrStaleVersion = errors.New("store: stale version")

	// ErrAlreadyExists is returned when creating an entity whose id is taken.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Positions ---

	CreatePosition(ctx context.Context, p *model.Position) error
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// PutPosition writes p if the persisted version equals expected,
	// incrementing the version. Returns the stored entity.
	PutPosition(ctx context.Context, p *model.Position, expected int64) (*model.Position, error)

	ListPositionsByBorrower(ctx context.Context, borrowerID string) ([]model.Position, error)

	// --- Allocation tables ---

	CreateAllocation(ctx context.Context, a *model.AllocationTable) error
	GetAllocation(ctx context.Context, id string) (*model.AllocationTable, error)
	PutAllocation(ctx context.Context, a *model.AllocationTable, expected int64) (*model.AllocationTable, error)

	// ListAllocationsByInvestor returns every table containing an entry for
	// the investor. Reporting only.
	ListAllocationsByInvestor(ctx context.Context, investorID string) ([]model.AllocationTable, error)

	// --- Transactions ---

	CreateTransaction(ctx context.Context, t *model.Transaction) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	PutTransaction(ctx context.Context, t *model.Transaction, expected int64) (*model.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error

	ListTransactionsByPosition(ctx context.Context, positionID string) ([]model.Transaction, error)
	ListTransactionsByPositionAndKind(ctx context.Context, positionID string, kind model.TransactionKind) ([]model.Transaction, error)
	ListTransactionsByDateRange(ctx context.Context, from, to time.Time) ([]model.Transaction, error)

	// --- Investors ---

	CreateInvestor(ctx context.Context, inv *model.Investor) error
	GetInvestor(ctx context.Context, id string) (*model.Investor, error)
	PutInvestor(ctx context.Context, inv *model.Investor, expected int64) (*model.Investor, error)
	ListInvestors(ctx context.Context) ([]model.Investor, error)

	// --- Syndicates ---

	CreateSyndicate(ctx context.Context, s *model.Syndicate) error
	GetSyndicate(ctx context.Context, id string) (*model.Syndicate, error)

	// --- Borrowers ---

	CreateBorrower(ctx context.Context, b *model.Borrower) error
	GetBorrower(ctx context.Context, id string) (*model.Borrower, error)
}
