package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/synloan/loan-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// variant-specific detail and allocation entries are stored as JSONB.
// Versioned writes are a compare-and-swap on the version column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Positions ---

func positionDetail(p *model.Position) (any, error) {
	switch p.Kind {
	case model.PositionFacility:
		return json.Marshal(p.Facility)
	case model.PositionLoan:
		return json.Marshal(p.Loan)
	}
	return nil, fmt.Errorf("position %s: unknown kind %q", p.ID, p.Kind)
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	detail, err := positionDetail(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO positions (id, kind, borrower_id, amount, share_allocation_id, version, detail)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
		p.ID, string(p.Kind), p.BorrowerID, p.Amount.String(),
		p.ShareAllocationID, p.Version, detail,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	var p model.Position
	var kind, amountS string
	var detail []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, borrower_id, amount::TEXT, share_allocation_id, version, detail
		 FROM positions WHERE id = $1`, id).
		Scan(&p.ID, &kind, &p.BorrowerID, &amountS, &p.ShareAllocationID, &p.Version, &detail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}

	p.Kind = model.PositionKind(kind)
	p.Amount, _ = decimal.NewFromString(amountS)
	if err := unmarshalPositionDetail(&p, detail); err != nil {
		return nil, err
	}
	return &p, nil
}

func unmarshalPositionDetail(p *model.Position, detail []byte) error {
	switch p.Kind {
	case model.PositionFacility:
		p.Facility = &model.FacilityDetail{}
		return json.Unmarshal(detail, p.Facility)
	case model.PositionLoan:
		p.Loan = &model.LoanDetail{}
		return json.Unmarshal(detail, p.Loan)
	}
	return fmt.Errorf("position %s: unknown kind %q", p.ID, p.Kind)
}

func (s *PostgresStore) PutPosition(ctx context.Context, p *model.Position, expected int64) (*model.Position, error) {
	detail, err := positionDetail(p)
	if err != nil {
		return nil, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET amount = $3::NUMERIC, share_allocation_id = $4, detail = $5,
		     version = version + 1
		 WHERE id = $1 AND version = $2`,
		p.ID, expected, p.Amount.String(), p.ShareAllocationID, detail,
	)
	if err != nil {
		return nil, fmt.Errorf("put position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, s.versionConflict(ctx, `SELECT 1 FROM positions WHERE id = $1`, p.ID)
	}
	return s.GetPosition(ctx, p.ID)
}

func (s *PostgresStore) ListPositionsByBorrower(ctx context.Context, borrowerID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, borrower_id, amount::TEXT, share_allocation_id, version, detail
		 FROM positions WHERE borrower_id = $1`, borrowerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var kind, amountS string
		var detail []byte
		if err := rows.Scan(&p.ID, &kind, &p.BorrowerID, &amountS,
			&p.ShareAllocationID, &p.Version, &detail); err != nil {
			return nil, err
		}
		p.Kind = model.PositionKind(kind)
		p.Amount, _ = decimal.NewFromString(amountS)
		if err := unmarshalPositionDetail(&p, detail); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// versionConflict distinguishes a missing row from a version mismatch after
// a zero-row conditional update.
func (s *PostgresStore) versionConflict(ctx context.Context, existsQuery, id string) error {
	var one int
	err := s.pool.QueryRow(ctx, existsQuery, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStaleVersion
}

// --- Allocation tables ---

func (s *PostgresStore) CreateAllocation(ctx context.Context, a *model.AllocationTable) error {
	entries, err := json.Marshal(a.Entries)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO allocations (id, kind, owner_id, entries, version)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, string(a.Kind), a.OwnerID, entries, a.Version,
	)
	return err
}

func (s *PostgresStore) GetAllocation(ctx context.Context, id string) (*model.AllocationTable, error) {
	var a model.AllocationTable
	var kind string
	var entries []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, owner_id, entries, version FROM allocations WHERE id = $1`, id).
		Scan(&a.ID, &kind, &a.OwnerID, &entries, &a.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get allocation %s: %w", id, err)
	}

	a.Kind = model.AllocationKind(kind)
	if err := json.Unmarshal(entries, &a.Entries); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) PutAllocation(ctx context.Context, a *model.AllocationTable, expected int64) (*model.AllocationTable, error) {
	entries, err := json.Marshal(a.Entries)
	if err != nil {
		return nil, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE allocations SET entries = $3, version = version + 1
		 WHERE id = $1 AND version = $2`,
		a.ID, expected, entries,
	)
	if err != nil {
		return nil, fmt.Errorf("put allocation %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, s.versionConflict(ctx, `SELECT 1 FROM allocations WHERE id = $1`, a.ID)
	}
	return s.GetAllocation(ctx, a.ID)
}

func (s *PostgresStore) ListAllocationsByInvestor(ctx context.Context, investorID string) ([]model.AllocationTable, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, owner_id, entries, version
		 FROM allocations WHERE entries ? $1`, investorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []model.AllocationTable
	for rows.Next() {
		var a model.AllocationTable
		var kind string
		var entries []byte
		if err := rows.Scan(&a.ID, &kind, &a.OwnerID, &entries, &a.Version); err != nil {
			return nil, err
		}
		a.Kind = model.AllocationKind(kind)
		if err := json.Unmarshal(entries, &a.Entries); err != nil {
			return nil, err
		}
		tables = append(tables, a)
	}
	return tables, rows.Err()
}

// --- Transactions ---

func transactionDetail(t *model.Transaction) ([]byte, error) {
	switch t.Kind {
	case model.KindDrawdown:
		return json.Marshal(t.Drawdown)
	case model.KindFacilityInvestment:
		return json.Marshal(t.Investment)
	case model.KindFacilityTrade:
		return json.Marshal(t.Trade)
	case model.KindFeePayment:
		return json.Marshal(t.Fee)
	case model.KindInterestPayment:
		return json.Marshal(t.Interest)
	case model.KindPrincipalPayment:
		return json.Marshal(t.Principal)
	}
	return nil, fmt.Errorf("transaction %s: unknown kind %q", t.ID, t.Kind)
}

func unmarshalTransactionDetail(t *model.Transaction, detail []byte) error {
	switch t.Kind {
	case model.KindDrawdown:
		t.Drawdown = &model.DrawdownDetail{}
		return json.Unmarshal(detail, t.Drawdown)
	case model.KindFacilityInvestment:
		t.Investment = &model.InvestmentDetail{}
		return json.Unmarshal(detail, t.Investment)
	case model.KindFacilityTrade:
		t.Trade = &model.TradeDetail{}
		return json.Unmarshal(detail, t.Trade)
	case model.KindFeePayment:
		t.Fee = &model.FeeDetail{}
		return json.Unmarshal(detail, t.Fee)
	case model.KindInterestPayment:
		t.Interest = &model.InterestDetail{}
		return json.Unmarshal(detail, t.Interest)
	case model.KindPrincipalPayment:
		t.Principal = &model.PrincipalDetail{}
		return json.Unmarshal(detail, t.Principal)
	}
	return fmt.Errorf("transaction %s: unknown kind %q", t.ID, t.Kind)
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	detail, err := transactionDetail(t)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO transactions
		   (id, kind, tx_date, amount, position_id, amount_allocation_id, status, processed_at, version, detail)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9, $10)`,
		t.ID, string(t.Kind), t.Date, t.Amount.String(),
		t.RelatedPositionID, t.AmountAllocationID, t.Status, t.ProcessedAt,
		t.Version, detail,
	)
	return err
}

const transactionColumns = `id, kind, tx_date, amount::TEXT, position_id,
	amount_allocation_id, status, processed_at, version, detail`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	var kind, amountS string
	var detail []byte

	err := row.Scan(&t.ID, &kind, &t.Date, &amountS, &t.RelatedPositionID,
		&t.AmountAllocationID, &t.Status, &t.ProcessedAt, &t.Version, &detail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.Kind = model.TransactionKind(kind)
	t.Amount, _ = decimal.NewFromString(amountS)
	if err := unmarshalTransactionDetail(&t, detail); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (s *PostgresStore) PutTransaction(ctx context.Context, t *model.Transaction, expected int64) (*model.Transaction, error) {
	detail, err := transactionDetail(t)
	if err != nil {
		return nil, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions
		 SET amount = $3::NUMERIC, amount_allocation_id = $4, status = $5,
		     processed_at = $6, detail = $7, version = version + 1
		 WHERE id = $1 AND version = $2`,
		t.ID, expected, t.Amount.String(), t.AmountAllocationID,
		t.Status, t.ProcessedAt, detail,
	)
	if err != nil {
		return nil, fmt.Errorf("put transaction %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, s.versionConflict(ctx, `SELECT 1 FROM transactions WHERE id = $1`, t.ID)
	}
	return s.GetTransaction(ctx, t.ID)
}

func (s *PostgresStore) DeleteTransaction(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) listTransactions(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTransactionsByPosition(ctx context.Context, positionID string) ([]model.Transaction, error) {
	return s.listTransactions(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions WHERE position_id = $1 ORDER BY tx_date`, positionID)
}

func (s *PostgresStore) ListTransactionsByPositionAndKind(ctx context.Context, positionID string, kind model.TransactionKind) ([]model.Transaction, error) {
	return s.listTransactions(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions WHERE position_id = $1 AND kind = $2 ORDER BY tx_date`,
		positionID, string(kind))
}

func (s *PostgresStore) ListTransactionsByDateRange(ctx context.Context, from, to time.Time) ([]model.Transaction, error) {
	return s.listTransactions(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions WHERE tx_date >= $1 AND tx_date <= $2 ORDER BY tx_date`,
		from, to)
}

// --- Investors ---

func (s *PostgresStore) CreateInvestor(ctx context.Context, inv *model.Investor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO investors (id, name, investor_type, investment_capacity, current_investments, version)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		inv.ID, inv.Name, inv.Type,
		inv.InvestmentCapacity.String(), inv.CurrentInvestments.String(), inv.Version,
	)
	return err
}

func (s *PostgresStore) GetInvestor(ctx context.Context, id string) (*model.Investor, error) {
	var inv model.Investor
	var capS, curS string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, investor_type, investment_capacity::TEXT, current_investments::TEXT, version
		 FROM investors WHERE id = $1`, id).
		Scan(&inv.ID, &inv.Name, &inv.Type, &capS, &curS, &inv.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get investor %s: %w", id, err)
	}

	inv.InvestmentCapacity, _ = decimal.NewFromString(capS)
	inv.CurrentInvestments, _ = decimal.NewFromString(curS)
	return &inv, nil
}

func (s *PostgresStore) PutInvestor(ctx context.Context, inv *model.Investor, expected int64) (*model.Investor, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE investors
		 SET name = $3, investor_type = $4, investment_capacity = $5::NUMERIC,
		     current_investments = $6::NUMERIC, version = version + 1
		 WHERE id = $1 AND version = $2`,
		inv.ID, expected, inv.Name, inv.Type,
		inv.InvestmentCapacity.String(), inv.CurrentInvestments.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("put investor %s: %w", inv.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, s.versionConflict(ctx, `SELECT 1 FROM investors WHERE id = $1`, inv.ID)
	}
	return s.GetInvestor(ctx, inv.ID)
}

func (s *PostgresStore) ListInvestors(ctx context.Context) ([]model.Investor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, investor_type, investment_capacity::TEXT, current_investments::TEXT, version
		 FROM investors ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var investors []model.Investor
	for rows.Next() {
		var inv model.Investor
		var capS, curS string
		if err := rows.Scan(&inv.ID, &inv.Name, &inv.Type, &capS, &curS, &inv.Version); err != nil {
			return nil, err
		}
		inv.InvestmentCapacity, _ = decimal.NewFromString(capS)
		inv.CurrentInvestments, _ = decimal.NewFromString(curS)
		investors = append(investors, inv)
	}
	return investors, rows.Err()
}

// --- Syndicates ---

func (s *PostgresStore) CreateSyndicate(ctx context.Context, syn *model.Syndicate) error {
	members, err := json.Marshal(syn.MemberIDs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO syndicates (id, lead_bank_id, member_ids, total_commitment, version)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		syn.ID, syn.LeadBankID, members, syn.TotalCommitment.String(), syn.Version,
	)
	return err
}

func (s *PostgresStore) GetSyndicate(ctx context.Context, id string) (*model.Syndicate, error) {
	var syn model.Syndicate
	var members []byte
	var commitS string

	err := s.pool.QueryRow(ctx,
		`SELECT id, lead_bank_id, member_ids, total_commitment::TEXT, version
		 FROM syndicates WHERE id = $1`, id).
		Scan(&syn.ID, &syn.LeadBankID, &members, &commitS, &syn.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get syndicate %s: %w", id, err)
	}

	if err := json.Unmarshal(members, &syn.MemberIDs); err != nil {
		return nil, err
	}
	syn.TotalCommitment, _ = decimal.NewFromString(commitS)
	return &syn, nil
}

// --- Borrowers ---

func (s *PostgresStore) CreateBorrower(ctx context.Context, b *model.Borrower) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO borrowers (id, name, credit_rating, version) VALUES ($1, $2, $3, $4)`,
		b.ID, b.Name, b.CreditRating, b.Version,
	)
	return err
}

func (s *PostgresStore) GetBorrower(ctx context.Context, id string) (*model.Borrower, error) {
	var b model.Borrower
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, credit_rating, version FROM borrowers WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.CreditRating, &b.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get borrower %s: %w", id, err)
	}
	return &b, nil
}
