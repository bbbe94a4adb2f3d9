/*
Package wallet provides the wallet ledger core.

PURPOSE:
  Tracks each user's monetary balance, records every balance change as an
  immutable ledger entry, and guarantees that debits never exceed the
  available funds, even when requests race against the same wallet.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal with two fixed decimal places
  - Wallet: per-user balance snapshot (one wallet per user)
  - LedgerEntry: append-only record of one balance change
  - PlatformRevenue: reporting record for the fee taken on a completed job

DESIGN PRINCIPLES:
  1. Immutability: entries are never modified after they are written
  2. Precision: decimal.Decimal everywhere, never float64
  3. Single writer: only the Mutator changes a balance (see mutator.go)
  4. Auditability: every entry captures balance_before and balance_after

SEE ALSO:
  - mutator.go: the only code path that changes balances
  - store.go: unit-of-work persistence contract
  - audit.go: balance/ledger consistency checks
*/
package wallet

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyScale is the number of decimal places kept for every currency.
const MoneyScale = 2

// ParseAmount parses a strictly positive amount with at most MoneyScale places.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks that d is positive and carries no sub-cent digits.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, d.String())
	}
	if !d.Equal(d.Round(MoneyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d.String(), MoneyScale)
	}
	return nil
}

// FormatMoney renders d with exactly MoneyScale places.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WalletID string
type UserID string
type EntryID string

// =============================================================================
// CURRENCY
// =============================================================================

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyVND Currency = "VND"
	CurrencyEUR Currency = "EUR"
	CurrencyJPY Currency = "JPY"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyVND, CurrencyEUR, CurrencyJPY:
		return true
	}
	return false
}

// ParseCurrency accepts any case and surrounding whitespace.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	return c, nil
}

// =============================================================================
// ENTRY KIND / STATUS
// =============================================================================

type EntryKind string

const (
	KindDeposit  EntryKind = "DEPOSIT"  // Gateway recharge or opening balance
	KindWithdraw EntryKind = "WITHDRAW" // Funds leaving the platform
	KindJobPost  EntryKind = "JOB_POST" // Employer pays to publish a job
	KindRefund   EntryKind = "REFUND"   // Reversal of an earlier debit
	KindBonus    EntryKind = "BONUS"    // Freelancer payout on job completion
)

func (k EntryKind) Valid() bool {
	return k.IsCredit() || k.IsDebit()
}

func (k EntryKind) IsCredit() bool {
	return k == KindDeposit || k == KindRefund || k == KindBonus
}

func (k EntryKind) IsDebit() bool {
	return k == KindWithdraw || k == KindJobPost
}

// Signed applies the direction implied by the kind to a positive amount.
func (k EntryKind) Signed(amount decimal.Decimal) decimal.Decimal {
	if k.IsDebit() {
		return amount.Neg()
	}
	return amount
}

// ParseEntryKind accepts any case.
func ParseEntryKind(s string) (EntryKind, error) {
	k := EntryKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
	StatusCancelled EntryStatus = "cancelled"
)

func (s EntryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// =============================================================================
// REFERENCES
// =============================================================================

type ReferenceType string

const (
	RefJob          ReferenceType = "job"
	RefRechargeCode ReferenceType = "recharge_code"
	RefWallet       ReferenceType = "wallet"
	RefManual       ReferenceType = "manual"
)

// Reference links an entry to whatever caused it.
// IdempotencyKey, when set, is unique per wallet.
type Reference struct {
	ID             string
	Type           ReferenceType
	IdempotencyKey string
}

// JobReference is the reference used by the job lifecycle flows.
func JobReference(jobID string) Reference {
	return Reference{ID: jobID, Type: RefJob}
}

// =============================================================================
// WALLET
// =============================================================================

// Wallet is the current balance snapshot for one user.
//
// INVARIANTS:
//   - Balance is never negative.
//   - Balance equals the sum of the signed amounts of its completed entries.
//   - LastSequence equals the sequence of the newest entry (0 when none).
type Wallet struct {
	ID             WalletID
	UserID         UserID
	Currency       Currency
	Balance        decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalSpent     decimal.Decimal
	RechargeCode   string // empty when no code has been issued
	IsActive       bool
	LastSequence   int64
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// LedgerEntry is an immutable record of one balance change.
type LedgerEntry struct {
	ID             EntryID
	WalletID       WalletID
	Sequence       int64
	Kind           EntryKind
	Amount         decimal.Decimal // always positive, direction comes from Kind
	Currency       Currency
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	ReferenceID    string
	ReferenceType  ReferenceType
	Status         EntryStatus
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
	CreatedAt      time.Time
}

// SignedAmount is the entry's effect on the balance. Entries that did not
// complete have no effect.
func (e LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Status != StatusCompleted {
		return decimal.Zero
	}
	return e.Kind.Signed(e.Amount)
}

// EntryFilter narrows ListEntries. Zero values mean "no filter".
type EntryFilter struct {
	Kinds       []EntryKind
	Status      EntryStatus
	ReferenceID string
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// MaxPage keeps (Page-1)*PageSize far from overflow.
	MaxPage = 1_000_000
)

// Normalize clamps pagination to sane bounds.
func (f EntryFilter) Normalize() EntryFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxPage {
		f.Page = MaxPage
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

func (f EntryFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Matches reports whether e passes the non-pagination parts of the filter.
// Stores that cannot push filters into a query use it directly.
func (f EntryFilter) Matches(e LedgerEntry) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.ReferenceID != "" && e.ReferenceID != f.ReferenceID {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// EntryPage is one page of a wallet's history, newest first.
type EntryPage struct {
	Entries  []LedgerEntry
	Total    int
	Page     int
	PageSize int
}

// =============================================================================
// PLATFORM REVENUE
// =============================================================================

const RevenueJobCompletion = "job_completion"

// PlatformRevenue records the fee retained on one completed job.
// FeeAmount + FreelancerAmount == TotalAmount exactly.
type PlatformRevenue struct {
	ID               string
	JobID            string
	TotalAmount      decimal.Decimal
	FeePercentage    decimal.Decimal
	FeeAmount        decimal.Decimal
	FreelancerAmount decimal.Decimal
	Currency         Currency
	FreelancerID     UserID
	EmployerID       UserID
	RevenueType      string
	PayoutEntryID    EntryID // empty when the payout was zero
	CreatedAt        time.Time
}

type RevenueFilter struct {
	EmployerID   UserID
	FreelancerID UserID
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

type RevenueSummary struct {
	Jobs    int
	Gross   decimal.Decimal
	Fees    decimal.Decimal
	Payouts decimal.Decimal
}
