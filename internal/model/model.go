// Package model defines the core domain types shared across the loan engine.
// All monetary values use shopspring/decimal — never float64 for money.
//
// Position and Transaction are closed tagged unions: shared fields live on
// the struct, variant-specific fields in the per-kind detail pointer named
// by Kind. Exactly one detail pointer is non-nil per value.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionKind discriminates the Position union.
type PositionKind string

const (
	PositionFacility PositionKind = "FACILITY"
	PositionLoan     PositionKind = "LOAN"
)

// TransactionKind discriminates the Transaction union.
type TransactionKind string

const (
	KindDrawdown           TransactionKind = "DRAWDOWN"
	KindFacilityInvestment TransactionKind = "FACILITY_INVESTMENT"
	KindFacilityTrade      TransactionKind = "FACILITY_TRADE"
	KindFeePayment         TransactionKind = "FEE_PAYMENT"
	KindInterestPayment    TransactionKind = "INTEREST_PAYMENT"
	KindPrincipalPayment   TransactionKind = "PRINCIPAL_PAYMENT"
)

// Transaction status values. PENDING → EXECUTED is the only transition.
const (
	StatusPending  = "PENDING"
	StatusExecuted = "EXECUTED"
)

// AllocationKind discriminates share pies (percentages closing at 100%)
// from amount pies (absolute currency amounts, unconstrained sum).
type AllocationKind string

const (
	AllocationShare  AllocationKind = "SHARE"
	AllocationAmount AllocationKind = "AMOUNT"
)

// AllocationTable maps investor IDs to decimal values. For SHARE kind the
// values are percentages at 4-decimal precision summing to exactly 100.0000;
// for AMOUNT kind they are strictly positive currency amounts. A table is
// owned by exactly one Position (SHARE) or Transaction (AMOUNT) and is
// replaced wholesale on update, never patched.
type AllocationTable struct {
	ID      string                     `json:"id"`
	Kind    AllocationKind             `json:"kind"`
	Entries map[string]decimal.Decimal `json:"entries"` // investorID → value
	OwnerID string                     `json:"owner_id"`
	Version int64                      `json:"version"`
}

// Position is a credit exposure: a committed Facility or a drawn Loan.
type Position struct {
	ID                string          `json:"id"`
	Kind              PositionKind    `json:"kind"`
	BorrowerID        string          `json:"borrower_id"`
	Amount            decimal.Decimal `json:"amount"` // current exposure
	ShareAllocationID string          `json:"share_allocation_id,omitempty"`
	Version           int64           `json:"version"`

	Facility *FacilityDetail `json:"facility,omitempty"`
	Loan     *LoanDetail     `json:"loan,omitempty"`
}

// FacilityDetail holds the Facility variant's fields.
// Invariant: 0 ≤ AvailableAmount ≤ TotalAmount.
type FacilityDetail struct {
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	TermMonths      int             `json:"term_months"`
	InterestRate    decimal.Decimal `json:"interest_rate"` // annual, percent
	SyndicateID     string          `json:"syndicate_id"`
}

// LoanDetail holds the Loan variant's fields. FacilityID is empty for a
// stand-alone loan. Schedule is generated once and replayed idempotently.
type LoanDetail struct {
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	AvailableAmount decimal.Decimal  `json:"available_amount"`
	StartDate       time.Time        `json:"start_date"`
	EndDate         time.Time        `json:"end_date"`
	TermMonths      int              `json:"term_months"`
	InterestRate    decimal.Decimal  `json:"interest_rate"`
	FacilityID      string           `json:"facility_id,omitempty"`
	Schedule        []RepaymentEntry `json:"schedule,omitempty"`
}

// Repayment entry payment types.
const (
	RepaymentPrincipal = "PRINCIPAL"
	RepaymentInterest  = "INTEREST"
)

// RepaymentEntry is one scheduled principal or interest cash flow.
type RepaymentEntry struct {
	ScheduledDate   time.Time       `json:"scheduled_date"`
	PaymentType     string          `json:"payment_type"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	InterestAmount  decimal.Decimal `json:"interest_amount"`
}

// Transaction is a cash event against a Position. Created PENDING; executing
// it applies the side effect exactly once and stamps ProcessedAt.
type Transaction struct {
	ID                 string          `json:"id"`
	Kind               TransactionKind `json:"kind"`
	Date               time.Time       `json:"date"`
	Amount             decimal.Decimal `json:"amount"`
	RelatedPositionID  string          `json:"related_position_id"`
	AmountAllocationID string          `json:"amount_allocation_id,omitempty"`
	Status             string          `json:"status"`
	ProcessedAt        *time.Time      `json:"processed_at,omitempty"`
	Version            int64           `json:"version"`

	Drawdown   *DrawdownDetail   `json:"drawdown,omitempty"`
	Investment *InvestmentDetail `json:"investment,omitempty"`
	Trade      *TradeDetail      `json:"trade,omitempty"`
	Fee        *FeeDetail        `json:"fee,omitempty"`
	Interest   *InterestDetail   `json:"interest,omitempty"`
	Principal  *PrincipalDetail  `json:"principal,omitempty"`
}

// DrawdownDetail records a borrowing against a facility's available
// amount. LoanID is the loan originated when the drawdown was created.
type DrawdownDetail struct {
	FacilityID     string          `json:"facility_id"`
	DrawdownAmount decimal.Decimal `json:"drawdown_amount"`
	LoanID         string          `json:"loan_id,omitempty"`
}

// InvestmentDetail records an investor's commitment to a facility. The
// amount is derived from the facility's share allocation, never supplied.
type InvestmentDetail struct {
	InvestorID       string          `json:"investor_id"`
	InvestmentAmount decimal.Decimal `json:"investment_amount"`
}

// TradeDetail records a secondary transfer of facility participation
// between two investors. Share-percentage bookkeeping only.
type TradeDetail struct {
	SellerID    string          `json:"seller_id"`
	BuyerID     string          `json:"buyer_id"`
	TradeAmount decimal.Decimal `json:"trade_amount"`
}

// FeeDetail records a fee paid on a facility, split across the share pie.
type FeeDetail struct {
	FacilityID    string          `json:"facility_id"`
	FeeType       string          `json:"fee_type"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
}

// InterestDetail records an interest payment on a loan, recomputed on
// demand while pending (ACTUAL/360).
type InterestDetail struct {
	LoanID        string          `json:"loan_id"`
	InterestRate  decimal.Decimal `json:"interest_rate"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
}

// PrincipalDetail records a principal repayment on a loan, bounded by
// the remaining balance.
type PrincipalDetail struct {
	LoanID        string          `json:"loan_id"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
}

// Investor participates in syndicates and allocations. Referenced by id
// from allocations and trades; never embedded by value.
type Investor struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Type               string          `json:"type"`
	InvestmentCapacity decimal.Decimal `json:"investment_capacity"`
	CurrentInvestments decimal.Decimal `json:"current_investments"`
	Version            int64           `json:"version"`
}

// Syndicate groups investors around a facility. The facility references it
// weakly via SyndicateID.
type Syndicate struct {
	ID              string          `json:"id"`
	LeadBankID      string          `json:"lead_bank_id"`
	MemberIDs       []string        `json:"member_ids"`
	TotalCommitment decimal.Decimal `json:"total_commitment"`
	Version         int64           `json:"version"`
}

// Borrower is the obligor on a position.
type Borrower struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CreditRating string `json:"credit_rating"`
	Version      int64  `json:"version"`
}

// Executed reports whether the transaction has reached its terminal status.
func (t *Transaction) Executed() bool {
	return t.Status == StatusExecuted
}
