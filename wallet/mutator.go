/*
mutator.go - The Balance Mutator: sole writer of balances and ledger entries

PURPOSE:
  Every balance change in the system goes through Mutator.Apply. One call
  is one unit of work:

    1. lock the wallet row              (Tx.LockWallet)
    2. check active / guard / funds     (under the lock)
    3. compute balance_before/after     (decimal, no floats)
    4. append exactly one LedgerEntry   (Tx.AppendEntry)
    5. write the wallet snapshot        (Tx.UpdateWallet)
    6. commit, or roll back everything on any error

  Because the read in (1) and the write in (5) share the lock, two
  concurrent debits can never both observe a stale sufficient balance.

RETRIES:
  ErrStorageConflict (deadlock, serialization failure, busy database, lock
  timeout) re-runs the whole unit up to maxRetries times. Domain errors
  (insufficient funds, inactive, not found, ...) are returned immediately:
  retrying a failed debit could mask a real insufficient-funds condition.

HOOKS:
  Mutation.Guard runs under the lock before the change and may abort it.
  Mutation.Amend runs under the lock after the change and may edit
  non-monetary wallet fields (the recharge code) in the same unit. Money
  fields are restored after Amend returns.

SEE ALSO:
  - store.go: Store/Tx contract
  - code.go: RotateCode, used as an Amend by the recharge flow
  - audit.go: verifies the invariants this file maintains
*/
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/wallet-ledger/metrics"
)

// GuardFunc inspects the locked wallet before a mutation is applied.
type GuardFunc func(w *Wallet) error

// AmendFunc edits non-monetary fields of a locked wallet.
type AmendFunc func(ctx context.Context, tx Tx, w *Wallet) error

// RecordFunc writes rows that must commit together with the entry.
type RecordFunc func(ctx context.Context, tx Tx, entry LedgerEntry) error

// Mutation describes one balance change.
type Mutation struct {
	WalletID    WalletID
	Kind        EntryKind
	Amount      decimal.Decimal
	Reference   Reference
	Description string
	Metadata    map[string]string
	Guard       GuardFunc
	Amend       AmendFunc
	Record      RecordFunc
}

// Result is the committed state after a mutation. Entry is nil when the
// operation wrote no entry (wallet creation without an opening balance).
type Result struct {
	Wallet Wallet
	Entry  *LedgerEntry
}

const (
	DefaultMaxConflictRetries = 3
	defaultRetryBackoff       = 20 * time.Millisecond
)

// =============================================================================
// MUTATOR
// =============================================================================

type Mutator struct {
	store      Store
	notifier   Notifier
	logger     *zap.Logger
	codes      CodeSource
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

type Option func(*Mutator)

func WithNotifier(n Notifier) Option {
	return func(m *Mutator) { m.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Mutator) { m.logger = l }
}

// WithMaxRetries sets how many times a conflicting unit of work is re-run.
func WithMaxRetries(n int) Option {
	return func(m *Mutator) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

func WithRetryBackoff(d time.Duration) Option {
	return func(m *Mutator) { m.backoff = d }
}

func WithCodeSource(src CodeSource) Option {
	return func(m *Mutator) { m.codes = src }
}

func WithClock(now func() time.Time) Option {
	return func(m *Mutator) { m.now = now }
}

func NewMutator(store Store, opts ...Option) *Mutator {
	m := &Mutator{
		store:      store,
		notifier:   NopNotifier{},
		logger:     zap.NewNop(),
		codes:      RandomCode,
		maxRetries: DefaultMaxConflictRetries,
		backoff:    defaultRetryBackoff,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// Deposit credits a wallet. kind must be KindDeposit or KindBonus.
func (m *Mutator) Deposit(ctx context.Context, walletID WalletID, amount decimal.Decimal, kind EntryKind, ref Reference) (*Result, error) {
	if kind != KindDeposit && kind != KindBonus {
		return nil, fmt.Errorf("%w: %s is not a deposit kind", ErrInvalidKind, kind)
	}
	return m.Apply(ctx, Mutation{
		WalletID:    walletID,
		Kind:        kind,
		Amount:      amount,
		Reference:   ref,
		Description: describe(kind, ref),
	})
}

// Debit removes funds. kind must be KindWithdraw or KindJobPost.
// Fails with *InsufficientFundsError when the balance is too low.
func (m *Mutator) Debit(ctx context.Context, walletID WalletID, amount decimal.Decimal, kind EntryKind, ref Reference) (*Result, error) {
	if !kind.IsDebit() {
		return nil, fmt.Errorf("%w: %s is not a debit kind", ErrInvalidKind, kind)
	}
	return m.Apply(ctx, Mutation{
		WalletID:    walletID,
		Kind:        kind,
		Amount:      amount,
		Reference:   ref,
		Description: describe(kind, ref),
	})
}

// Refund reverses an earlier debit: it credits the wallet and lowers
// total_spent instead of raising total_deposited.
func (m *Mutator) Refund(ctx context.Context, walletID WalletID, amount decimal.Decimal, ref Reference, reason string) (*Result, error) {
	desc := reason
	if desc == "" {
		desc = describe(KindRefund, ref)
	}
	mut := Mutation{
		WalletID:    walletID,
		Kind:        KindRefund,
		Amount:      amount,
		Reference:   ref,
		Description: desc,
	}
	if reason != "" {
		mut.Metadata = map[string]string{"reason": reason}
	}
	return m.Apply(ctx, mut)
}

// ReadBalance is a plain read; it takes no lock.
func (m *Mutator) ReadBalance(ctx context.Context, walletID WalletID) (*Wallet, error) {
	return m.store.GetWallet(ctx, walletID)
}

// Apply runs one mutation as an all-or-nothing unit of work.
func (m *Mutator) Apply(ctx context.Context, mut Mutation) (*Result, error) {
	if !mut.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, mut.Kind)
	}
	if err := ValidateAmount(mut.Amount); err != nil {
		return nil, err
	}

	start := time.Now()
	var res *Result
	err := m.withRetry(ctx, "apply", func() error {
		res = nil
		return m.store.WithTx(ctx, func(tx Tx) error {
			w, err := tx.LockWallet(ctx, mut.WalletID)
			if err != nil {
				return err
			}
			r, err := m.applyLocked(ctx, tx, w, mut)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	})

	kind := string(mut.Kind)
	metrics.MutationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.LedgerMutations.WithLabelValues(kind, resultLabel(err)).Inc()

	if err != nil {
		m.logFailure("ledger mutation rejected", err,
			zap.String("wallet_id", string(mut.WalletID)),
			zap.String("kind", kind),
			zap.String("amount", FormatMoney(mut.Amount)))
		return nil, err
	}

	m.logger.Info("ledger entry recorded",
		zap.String("wallet_id", string(res.Wallet.ID)),
		zap.String("entry_id", string(res.Entry.ID)),
		zap.String("kind", kind),
		zap.String("amount", FormatMoney(res.Entry.Amount)),
		zap.String("balance_after", FormatMoney(res.Entry.BalanceAfter)))

	m.publish(ctx, EventEntryRecorded, res.Wallet, res.Entry)
	return res, nil
}

// Create inserts a wallet for userID. A positive initialBalance is written
// as a DEPOSIT entry in the same unit of work, so the ledger sum matches the
// balance from the very first entry.
func (m *Mutator) Create(ctx context.Context, userID UserID, currency Currency, initialBalance decimal.Decimal) (*Result, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if !currency.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	if initialBalance.IsNegative() || !initialBalance.Equal(initialBalance.Round(MoneyScale)) {
		return nil, fmt.Errorf("%w: initial balance %s", ErrInvalidAmount, initialBalance.String())
	}

	var res *Result
	err := m.withRetry(ctx, "create", func() error {
		res = nil
		return m.store.WithTx(ctx, func(tx Tx) error {
			now := m.now().UTC()
			w := Wallet{
				ID:             WalletID(uuid.NewString()),
				UserID:         userID,
				Currency:       currency,
				Balance:        decimal.Zero,
				TotalDeposited: decimal.Zero,
				TotalSpent:     decimal.Zero,
				IsActive:       true,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.InsertWallet(ctx, w); err != nil {
				return err
			}
			if !initialBalance.IsPositive() {
				res = &Result{Wallet: w}
				return nil
			}
			r, err := m.applyLocked(ctx, tx, &w, Mutation{
				WalletID:    w.ID,
				Kind:        KindDeposit,
				Amount:      initialBalance,
				Reference:   Reference{ID: string(w.ID), Type: RefWallet},
				Description: "opening balance",
			})
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	})
	if err != nil {
		m.logFailure("wallet creation rejected", err, zap.String("user_id", string(userID)))
		return nil, err
	}

	m.logger.Info("wallet created",
		zap.String("wallet_id", string(res.Wallet.ID)),
		zap.String("user_id", string(userID)),
		zap.String("currency", string(currency)))
	m.publish(ctx, EventWalletCreated, res.Wallet, nil)
	if res.Entry != nil {
		m.publish(ctx, EventEntryRecorded, res.Wallet, res.Entry)
	}
	return res, nil
}

// Amend locks a wallet and applies a non-monetary edit without writing an
// entry. Balance, totals and sequence are restored after fn returns.
func (m *Mutator) Amend(ctx context.Context, walletID WalletID, fn AmendFunc) (*Wallet, error) {
	var out Wallet
	err := m.withRetry(ctx, "amend", func() error {
		return m.store.WithTx(ctx, func(tx Tx) error {
			w, err := tx.LockWallet(ctx, walletID)
			if err != nil {
				return err
			}
			if err := amendLocked(ctx, tx, w, fn); err != nil {
				return err
			}
			w.Version++
			w.UpdatedAt = m.now().UTC()
			if err := tx.UpdateWallet(ctx, *w); err != nil {
				return err
			}
			out = *w
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetActive toggles is_active. Inactive wallets reject every mutation.
func (m *Mutator) SetActive(ctx context.Context, walletID WalletID, active bool) (*Wallet, error) {
	w, err := m.Amend(ctx, walletID, func(_ context.Context, _ Tx, w *Wallet) error {
		w.IsActive = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("wallet status changed",
		zap.String("wallet_id", string(walletID)),
		zap.Bool("active", active))
	m.publish(ctx, EventWalletToggled, *w, nil)
	return w, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// applyLocked performs the read-check-write on a wallet already locked (or
// inserted) by tx.
func (m *Mutator) applyLocked(ctx context.Context, tx Tx, w *Wallet, mut Mutation) (*Result, error) {
	if !w.IsActive {
		return nil, fmt.Errorf("wallet %s: %w", w.ID, ErrWalletInactive)
	}
	if mut.Guard != nil {
		if err := mut.Guard(w); err != nil {
			return nil, err
		}
	}

	before := w.Balance
	after := before.Add(mut.Kind.Signed(mut.Amount))
	if after.IsNegative() {
		return nil, &InsufficientFundsError{
			WalletID:  w.ID,
			Available: before,
			Requested: mut.Amount,
			Shortfall: mut.Amount.Sub(before),
		}
	}

	switch {
	case mut.Kind == KindRefund:
		w.TotalSpent = decimal.Max(w.TotalSpent.Sub(mut.Amount), decimal.Zero)
	case mut.Kind.IsCredit():
		w.TotalDeposited = w.TotalDeposited.Add(mut.Amount)
	default:
		w.TotalSpent = w.TotalSpent.Add(mut.Amount)
	}

	now := m.now().UTC()
	w.Balance = after
	w.LastSequence++
	w.Version++
	w.UpdatedAt = now

	entry := LedgerEntry{
		ID:             EntryID(uuid.NewString()),
		WalletID:       w.ID,
		Sequence:       w.LastSequence,
		Kind:           mut.Kind,
		Amount:         mut.Amount,
		Currency:       w.Currency,
		BalanceBefore:  before,
		BalanceAfter:   after,
		ReferenceID:    mut.Reference.ID,
		ReferenceType:  mut.Reference.Type,
		Status:         StatusCompleted,
		Description:    mut.Description,
		Metadata:       copyMetadata(mut.Metadata),
		IdempotencyKey: mut.Reference.IdempotencyKey,
		CreatedAt:      now,
	}

	if mut.Amend != nil {
		if err := amendLocked(ctx, tx, w, mut.Amend); err != nil {
			return nil, err
		}
	}

	if err := tx.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}
	if mut.Record != nil {
		if err := mut.Record(ctx, tx, entry); err != nil {
			return nil, err
		}
	}
	if err := tx.UpdateWallet(ctx, *w); err != nil {
		return nil, err
	}
	return &Result{Wallet: *w, Entry: &entry}, nil
}

// amendLocked runs fn and then puts every money-carrying field back.
func amendLocked(ctx context.Context, tx Tx, w *Wallet, fn AmendFunc) error {
	saved := *w
	if err := fn(ctx, tx, w); err != nil {
		return err
	}
	w.ID = saved.ID
	w.UserID = saved.UserID
	w.Currency = saved.Currency
	w.Balance = saved.Balance
	w.TotalDeposited = saved.TotalDeposited
	w.TotalSpent = saved.TotalSpent
	w.LastSequence = saved.LastSequence
	w.Version = saved.Version
	w.CreatedAt = saved.CreatedAt
	return nil
}

func (m *Mutator) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= m.maxRetries {
			break
		}
		metrics.ConflictRetries.WithLabelValues(op).Inc()
		m.logger.Debug("storage conflict, retrying unit of work",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.backoff * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", op, m.maxRetries+1, err)
}

func (m *Mutator) publish(ctx context.Context, typ string, w Wallet, entry *LedgerEntry) {
	event := Event{
		Type:       typ,
		WalletID:   w.ID,
		UserID:     w.UserID,
		Currency:   w.Currency,
		Balance:    w.Balance,
		IsActive:   w.IsActive,
		Entry:      entry,
		OccurredAt: m.now().UTC(),
	}
	if err := m.notifier.Publish(ctx, event); err != nil {
		m.logger.Warn("failed to publish ledger event",
			zap.String("event", typ),
			zap.String("wallet_id", string(w.ID)),
			zap.Error(err))
	}
}

func (m *Mutator) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if IsClientError(err) || IsNotFound(err) {
		m.logger.Debug(msg, fields...)
		return
	}
	m.logger.Warn(msg, fields...)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrWalletInactive):
		return "inactive"
	case errors.Is(err, ErrWalletNotFound):
		return "not_found"
	case errors.Is(err, ErrStorageConflict):
		return "conflict"
	case errors.Is(err, ErrDuplicateEntry):
		return "duplicate"
	case errors.Is(err, ErrCodeMismatch):
		return "code_mismatch"
	default:
		return "error"
	}
}

func describe(kind EntryKind, ref Reference) string {
	switch kind {
	case KindDeposit:
		if ref.Type == RefRechargeCode {
			return "wallet recharge"
		}
		return "deposit"
	case KindWithdraw:
		return "withdrawal"
	case KindJobPost:
		return fmt.Sprintf("job posting fee for %s", ref.ID)
	case KindRefund:
		return fmt.Sprintf("refund for %s", ref.ID)
	case KindBonus:
		return fmt.Sprintf("payout for job %s", ref.ID)
	}
	return string(kind)
}

func copyMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
