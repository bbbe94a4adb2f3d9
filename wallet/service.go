/*
service.go - User-keyed wallet operations

PURPOSE:
  The HTTP layer and the other services address wallets by user, not by
  wallet ID. Service resolves the user's wallet and delegates every money
  movement to the Mutator.

AUTO-CREATE POLICY:
  A missing wallet can be created on first read (GetWallet, EnsureWallet)
  when Policy.AutoCreate is set. Money paths (Deduct, Refund, SetActive)
  never create a wallet: charging or refunding a user that has no wallet
  fails with ErrWalletNotFound.
*/
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Policy struct {
	AutoCreate      bool
	DefaultCurrency Currency
}

// DefaultPolicy never creates wallets implicitly.
func DefaultPolicy() Policy {
	return Policy{AutoCreate: false, DefaultCurrency: CurrencyVND}
}

type Service struct {
	store   Store
	mutator *Mutator
	auditor *Auditor
	policy  Policy
	logger  *zap.Logger
}

func NewService(store Store, mutator *Mutator, policy Policy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !policy.DefaultCurrency.Valid() {
		policy.DefaultCurrency = CurrencyVND
	}
	return &Service{
		store:   store,
		mutator: mutator,
		auditor: NewAuditor(store),
		policy:  policy,
		logger:  logger,
	}
}

func (s *Service) Mutator() *Mutator { return s.mutator }

// CreateWallet fails with ErrWalletExists when the user already has one.
func (s *Service) CreateWallet(ctx context.Context, userID UserID, currency Currency, initialBalance decimal.Decimal) (*Result, error) {
	if currency == "" {
		currency = s.policy.DefaultCurrency
	}
	return s.mutator.Create(ctx, userID, currency, initialBalance)
}

// GetWallet returns the user's wallet, creating it when the policy allows.
func (s *Service) GetWallet(ctx context.Context, userID UserID) (*Wallet, error) {
	return s.EnsureWallet(ctx, userID)
}

// Lookup never creates.
func (s *Service) Lookup(ctx context.Context, userID UserID) (*Wallet, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	return s.store.GetWalletByUser(ctx, userID)
}

// EnsureWallet is GetWallet for callers that go on to mutate. Two requests
// racing to create the same wallet both end up with the single winner.
func (s *Service) EnsureWallet(ctx context.Context, userID UserID) (*Wallet, error) {
	w, err := s.Lookup(ctx, userID)
	if err == nil || !errors.Is(err, ErrWalletNotFound) || !s.policy.AutoCreate {
		return w, err
	}

	res, err := s.mutator.Create(ctx, userID, s.policy.DefaultCurrency, decimal.Zero)
	if errors.Is(err, ErrWalletExists) {
		return s.store.GetWalletByUser(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("wallet auto-created on first access",
		zap.String("user_id", string(userID)),
		zap.String("wallet_id", string(res.Wallet.ID)))
	return &res.Wallet, nil
}

// ListTransactions returns one page of the user's history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID UserID, filter EntryFilter) (*Wallet, EntryPage, error) {
	w, err := s.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, EntryPage{}, err
	}
	page, err := s.store.ListEntries(ctx, w.ID, filter.Normalize())
	if err != nil {
		return nil, EntryPage{}, err
	}
	return w, page, nil
}

// Deduct charges a job posting fee. A repeated idempotency key returns the
// original entry instead of charging twice.
func (s *Service) Deduct(ctx context.Context, userID UserID, amount decimal.Decimal, jobID, idempotencyKey string) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidReference)
	}
	w, err := s.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	ref := JobReference(jobID)
	ref.IdempotencyKey = idempotencyKey

	op := keyedOp{kind: KindJobPost, referenceID: jobID, amount: amount}
	return s.idempotent(ctx, w.ID, idempotencyKey, op, func() (*Result, error) {
		return s.mutator.Debit(ctx, w.ID, amount, KindJobPost, ref)
	})
}

// Refund returns funds for a job, e.g. when a posting is cancelled.
func (s *Service) Refund(ctx context.Context, userID UserID, amount decimal.Decimal, jobID, reason, idempotencyKey string) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidReference)
	}
	w, err := s.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	ref := JobReference(jobID)
	ref.IdempotencyKey = idempotencyKey

	op := keyedOp{kind: KindRefund, referenceID: jobID, amount: amount}
	return s.idempotent(ctx, w.ID, idempotencyKey, op, func() (*Result, error) {
		return s.mutator.Refund(ctx, w.ID, amount, ref, reason)
	})
}

func (s *Service) SetActive(ctx context.Context, userID UserID, active bool) (*Wallet, error) {
	w, err := s.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.mutator.SetActive(ctx, w.ID, active)
}

func (s *Service) Audit(ctx context.Context, userID UserID) (*AuditReport, error) {
	w, err := s.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.auditor.Verify(ctx, w.ID)
}

func (s *Service) AuditAll(ctx context.Context) ([]AuditReport, error) {
	return s.auditor.VerifyAll(ctx)
}

// keyedOp is what a request carrying an idempotency key asks for. A replay
// is only valid when the stored entry records the same operation.
type keyedOp struct {
	kind        EntryKind
	referenceID string
	amount      decimal.Decimal
}

// idempotent runs apply at most once per key. A key seen before returns the
// committed entry, checked both up front and on an ErrDuplicateEntry from
// a concurrent request that won the race. A key already used for a different
// operation is ErrDuplicateEntry.
func (s *Service) idempotent(ctx context.Context, walletID WalletID, key string, op keyedOp, apply func() (*Result, error)) (*Result, error) {
	if key == "" {
		return apply()
	}
	if res, err := s.replay(ctx, walletID, key, op); res != nil || err != nil {
		return res, err
	}
	res, err := apply()
	if err == nil || !errors.Is(err, ErrDuplicateEntry) {
		return res, err
	}
	if prior, findErr := s.replay(ctx, walletID, key, op); prior != nil {
		return prior, nil
	} else if findErr != nil {
		return nil, findErr
	}
	return nil, err
}

func (s *Service) replay(ctx context.Context, walletID WalletID, key string, op keyedOp) (*Result, error) {
	entry, err := s.store.FindEntryByIdempotencyKey(ctx, walletID, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Kind != op.kind || entry.ReferenceID != op.referenceID || !entry.Amount.Equal(op.amount) {
		s.logger.Warn("idempotency key reused for a different operation",
			zap.String("wallet_id", string(walletID)),
			zap.String("idempotency_key", key),
			zap.String("entry_id", string(entry.ID)),
			zap.String("kind", string(op.kind)),
			zap.String("reference_id", op.referenceID))
		return nil, fmt.Errorf("%w: key %q already recorded %s %s for %s",
			ErrDuplicateEntry, key, entry.Kind, FormatMoney(entry.Amount), entry.ReferenceID)
	}
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("idempotent replay",
		zap.String("wallet_id", string(walletID)),
		zap.String("idempotency_key", key),
		zap.String("entry_id", string(entry.ID)))
	return &Result{Wallet: *w, Entry: entry}, nil
}
