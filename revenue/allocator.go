/*
Package revenue splits a completed job's budget between the platform and the
freelancer.

PURPOSE:
  When a job completes, the employer's money (already debited when the job
  was posted) is divided: the platform keeps fee_percentage of it and the
  freelancer's wallet is credited with the rest. Each split is recorded once
  as a PlatformRevenue row for reporting.

EXACTNESS:
  fee    = round(gross * fee% / 100, 2)   half away from zero
  payout = gross - fee
  fee + payout == gross, always, because payout is derived by subtraction.

ATOMICITY:
  The payout entry and the PlatformRevenue row commit in one unit of work.
  The unique job_id on the revenue row means a second allocation for the
  same job rolls back its payout, whichever freelancer it names.

RETRIES:
  The payout entry carries the idempotency key "job-payout:{jobID}". A payout
  recorded without its revenue row is reused by a retry instead of crediting
  the freelancer again.
*/
package revenue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/wallet-ledger/metrics"
	"github.com/warp/wallet-ledger/wallet"
)

var hundred = decimal.NewFromInt(100)

// AllocationError is returned when the freelancer cannot be paid. The job is
// complete but unpaid; the caller may retry once the wallet is fixed.
type AllocationError struct {
	JobID string
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate job %s: %v", e.JobID, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

type Result struct {
	Revenue wallet.PlatformRevenue
	Payout  *wallet.LedgerEntry // nil when the fee took the whole budget
}

type Allocator struct {
	service *wallet.Service
	mutator *wallet.Mutator
	store   wallet.Store
	logger  *zap.Logger
	now     func() time.Time
}

func NewAllocator(service *wallet.Service, store wallet.Store, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		service: service,
		mutator: service.Mutator(),
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// PayoutKey is the idempotency key of a job's payout entry.
func PayoutKey(jobID string) string {
	return "job-payout:" + jobID
}

// Split returns the platform fee and the freelancer payout for gross.
func Split(gross, feePercentage decimal.Decimal) (fee, payout decimal.Decimal) {
	fee = gross.Mul(feePercentage).Div(hundred).Round(wallet.MoneyScale)
	return fee, gross.Sub(fee)
}

// AllocateJobCompletion pays the freelancer and records the platform fee.
func (a *Allocator) AllocateJobCompletion(ctx context.Context, jobID string, gross, feePercentage decimal.Decimal, employerID, freelancerID wallet.UserID) (*Result, error) {
	res, err := a.allocate(ctx, jobID, gross, feePercentage, employerID, freelancerID)
	metrics.Allocations.WithLabelValues(allocationResult(err)).Inc()
	if err != nil {
		a.logger.Warn("job allocation failed",
			zap.String("job_id", jobID),
			zap.String("freelancer_id", string(freelancerID)),
			zap.Error(err))
		return nil, err
	}
	a.logger.Info("job allocated",
		zap.String("job_id", jobID),
		zap.String("freelancer_id", string(freelancerID)),
		zap.String("gross", wallet.FormatMoney(res.Revenue.TotalAmount)),
		zap.String("fee", wallet.FormatMoney(res.Revenue.FeeAmount)),
		zap.String("payout", wallet.FormatMoney(res.Revenue.FreelancerAmount)))
	return res, nil
}

func (a *Allocator) allocate(ctx context.Context, jobID string, gross, feePercentage decimal.Decimal, employerID, freelancerID wallet.UserID) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", wallet.ErrInvalidReference)
	}
	if err := wallet.ValidateAmount(gross); err != nil {
		return nil, err
	}
	if feePercentage.IsNegative() || feePercentage.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: fee percentage %s outside [0, 100]", wallet.ErrInvalidAmount, feePercentage.String())
	}

	existing, err := a.store.GetRevenueByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, wallet.ErrAlreadyAllocated)
	}

	fee, payout := Split(gross, feePercentage)

	freelancer, err := a.service.Lookup(ctx, freelancerID)
	if err != nil {
		return nil, &AllocationError{JobID: jobID, Err: err}
	}
	if !freelancer.IsActive {
		return nil, &AllocationError{JobID: jobID, Err: fmt.Errorf("wallet %s: %w", freelancer.ID, wallet.ErrWalletInactive)}
	}

	row := wallet.PlatformRevenue{
		ID:               uuid.NewString(),
		JobID:            jobID,
		TotalAmount:      gross,
		FeePercentage:    feePercentage,
		FeeAmount:        fee,
		FreelancerAmount: payout,
		Currency:         freelancer.Currency,
		FreelancerID:     freelancerID,
		EmployerID:       employerID,
		RevenueType:      wallet.RevenueJobCompletion,
		CreatedAt:        a.now().UTC(),
	}

	if !payout.IsPositive() {
		if err := a.store.SaveRevenue(ctx, row); err != nil {
			return nil, err
		}
		return &Result{Revenue: row}, nil
	}

	entry, err := a.payOut(ctx, row, freelancer.ID)
	if err != nil {
		return nil, err
	}
	row.PayoutEntryID = entry.ID
	return &Result{Revenue: row, Payout: entry}, nil
}

// payOut credits the freelancer and inserts the revenue row in the same unit
// of work, so a job is either paid and recorded or neither.
func (a *Allocator) payOut(ctx context.Context, row wallet.PlatformRevenue, walletID wallet.WalletID) (*wallet.LedgerEntry, error) {
	jobID := row.JobID
	ref := wallet.Reference{ID: jobID, Type: wallet.RefJob, IdempotencyKey: PayoutKey(jobID)}
	res, err := a.mutator.Apply(ctx, wallet.Mutation{
		WalletID:    walletID,
		Kind:        wallet.KindBonus,
		Amount:      row.FreelancerAmount,
		Reference:   ref,
		Description: fmt.Sprintf("payout for job %s", jobID),
		Record: func(ctx context.Context, tx wallet.Tx, e wallet.LedgerEntry) error {
			r := row
			r.PayoutEntryID = e.ID
			return tx.InsertRevenue(ctx, r)
		},
	})
	switch {
	case err == nil:
		return res.Entry, nil
	case errors.Is(err, wallet.ErrDuplicateEntry):
	case errors.Is(err, wallet.ErrWalletNotFound), errors.Is(err, wallet.ErrWalletInactive):
		return nil, &AllocationError{JobID: jobID, Err: err}
	default:
		return nil, err
	}

	// A payout without a revenue row predates atomic allocation. Record the
	// row against the existing entry instead of paying twice.
	prior, findErr := a.store.FindEntryByIdempotencyKey(ctx, walletID, ref.IdempotencyKey)
	if findErr != nil {
		return nil, findErr
	}
	if prior == nil {
		return nil, err
	}
	if !prior.Amount.Equal(row.FreelancerAmount) {
		return nil, fmt.Errorf("%w: job %s was paid %s, now computed %s",
			wallet.ErrAlreadyAllocated, jobID, wallet.FormatMoney(prior.Amount), wallet.FormatMoney(row.FreelancerAmount))
	}
	row.PayoutEntryID = prior.ID
	if err := a.store.SaveRevenue(ctx, row); err != nil {
		return nil, err
	}
	a.logger.Info("recovered existing job payout",
		zap.String("job_id", jobID),
		zap.String("entry_id", string(prior.ID)))
	return prior, nil
}

func (a *Allocator) ListRevenue(ctx context.Context, filter wallet.RevenueFilter) ([]wallet.PlatformRevenue, error) {
	return a.store.ListRevenue(ctx, filter)
}

// Summary totals every recorded allocation.
func (a *Allocator) Summary(ctx context.Context) (wallet.RevenueSummary, error) {
	return a.store.SummarizeRevenue(ctx)
}

func allocationResult(err error) string {
	var allocErr *AllocationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &allocErr):
		return "unpaid"
	case errors.Is(err, wallet.ErrAlreadyAllocated):
		return "already_allocated"
	case errors.Is(err, wallet.ErrInvalidAmount), errors.Is(err, wallet.ErrInvalidReference):
		return "invalid"
	default:
		return "error"
	}
}
