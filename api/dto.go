/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  wallet domain types.

MONEY:
  Responses render money as strings with exactly two decimals ("920.00").
  Requests accept amounts as JSON strings or numbers; decimal.Decimal
  unmarshals both without going through float64.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers around several DTOs

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/wallet-ledger/revenue"
	"github.com/warp/wallet-ledger/wallet"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateWalletRequest struct {
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type RedeemRequest struct {
	Code string `json:"code"`
}

// DeductRequest is sent by the job service when an employer posts a job.
type DeductRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	JobID          string          `json:"job_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type RefundRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	JobID          string          `json:"job_id"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// CompleteJobRequest triggers the fee split for a finished job.
type CompleteJobRequest struct {
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	FeePercentage decimal.Decimal `json:"fee_percentage"`
	EmployerID    string          `json:"employer_id"`
	FreelancerID  string          `json:"freelancer_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type WalletDTO struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Currency       string `json:"currency"`
	Balance        string `json:"balance"`
	TotalDeposited string `json:"total_deposited"`
	TotalSpent     string `json:"total_spent"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type EntryDTO struct {
	ID            string            `json:"id"`
	Sequence      int64             `json:"sequence"`
	Kind          string            `json:"kind"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	BalanceBefore string            `json:"balance_before"`
	BalanceAfter  string            `json:"balance_after"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	ReferenceType string            `json:"reference_type,omitempty"`
	Status        string            `json:"status"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     string            `json:"created_at"`
}

// MutationResponse is returned by every call that moves money.
type MutationResponse struct {
	Wallet      WalletDTO `json:"wallet"`
	Transaction *EntryDTO `json:"transaction,omitempty"`
}

type TransactionsResponse struct {
	Wallet       WalletDTO  `json:"wallet"`
	Transactions []EntryDTO `json:"transactions"`
	Total        int        `json:"total"`
	Page         int        `json:"page"`
	PageSize     int        `json:"page_size"`
}

type RechargeCodeDTO struct {
	Code string `json:"code"`
}

type RevenueDTO struct {
	ID               string `json:"id"`
	JobID            string `json:"job_id"`
	TotalAmount      string `json:"total_amount"`
	FeePercentage    string `json:"fee_percentage"`
	FeeAmount        string `json:"fee_amount"`
	FreelancerAmount string `json:"freelancer_amount"`
	Currency         string `json:"currency"`
	EmployerID       string `json:"employer_id,omitempty"`
	FreelancerID     string `json:"freelancer_id"`
	RevenueType      string `json:"revenue_type"`
	PayoutEntryID    string `json:"payout_entry_id,omitempty"`
	CreatedAt        string `json:"created_at"`
}

type AllocationResponse struct {
	Revenue RevenueDTO `json:"revenue"`
	Payout  *EntryDTO  `json:"payout,omitempty"`
}

type RevenueSummaryDTO struct {
	Jobs    int    `json:"jobs"`
	Gross   string `json:"gross"`
	Fees    string `json:"fees"`
	Payouts string `json:"payouts"`
}

type AuditDTO struct {
	WalletID  string   `json:"wallet_id"`
	UserID    string   `json:"user_id"`
	Balance   string   `json:"balance"`
	LedgerSum string   `json:"ledger_sum"`
	Entries   int      `json:"entries"`
	OK        bool     `json:"ok"`
	Problems  []string `json:"problems,omitempty"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toWalletDTO(w wallet.Wallet) WalletDTO {
	return WalletDTO{
		ID:             string(w.ID),
		UserID:         string(w.UserID),
		Currency:       string(w.Currency),
		Balance:        wallet.FormatMoney(w.Balance),
		TotalDeposited: wallet.FormatMoney(w.TotalDeposited),
		TotalSpent:     wallet.FormatMoney(w.TotalSpent),
		IsActive:       w.IsActive,
		CreatedAt:      w.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      w.UpdatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e wallet.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:            string(e.ID),
		Sequence:      e.Sequence,
		Kind:          string(e.Kind),
		Amount:        wallet.FormatMoney(e.Amount),
		Currency:      string(e.Currency),
		BalanceBefore: wallet.FormatMoney(e.BalanceBefore),
		BalanceAfter:  wallet.FormatMoney(e.BalanceAfter),
		ReferenceID:   e.ReferenceID,
		ReferenceType: string(e.ReferenceType),
		Status:        string(e.Status),
		Description:   e.Description,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toMutationResponse(res *wallet.Result) MutationResponse {
	out := MutationResponse{Wallet: toWalletDTO(res.Wallet)}
	if res.Entry != nil {
		e := toEntryDTO(*res.Entry)
		out.Transaction = &e
	}
	return out
}

func toRevenueDTO(r wallet.PlatformRevenue) RevenueDTO {
	return RevenueDTO{
		ID:               r.ID,
		JobID:            r.JobID,
		TotalAmount:      wallet.FormatMoney(r.TotalAmount),
		FeePercentage:    r.FeePercentage.String(),
		FeeAmount:        wallet.FormatMoney(r.FeeAmount),
		FreelancerAmount: wallet.FormatMoney(r.FreelancerAmount),
		Currency:         string(r.Currency),
		EmployerID:       string(r.EmployerID),
		FreelancerID:     string(r.FreelancerID),
		RevenueType:      r.RevenueType,
		PayoutEntryID:    string(r.PayoutEntryID),
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
	}
}

func toAllocationResponse(res *revenue.Result) AllocationResponse {
	out := AllocationResponse{Revenue: toRevenueDTO(res.Revenue)}
	if res.Payout != nil {
		e := toEntryDTO(*res.Payout)
		out.Payout = &e
	}
	return out
}

func toAuditDTO(r *wallet.AuditReport) AuditDTO {
	return AuditDTO{
		WalletID:  string(r.WalletID),
		UserID:    string(r.UserID),
		Balance:   wallet.FormatMoney(r.Balance),
		LedgerSum: wallet.FormatMoney(r.LedgerSum),
		Entries:   r.Entries,
		OK:        r.OK(),
		Problems:  r.Problems,
	}
}
