package wallet_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/wallet-ledger/wallet"
	"github.com/warp/wallet-ledger/wallet/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestMutator(t *testing.T, opts ...wallet.Option) (*wallet.Mutator, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	opts = append([]wallet.Option{wallet.WithRetryBackoff(time.Millisecond)}, opts...)
	return wallet.NewMutator(st, opts...), st
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}

func createWallet(t *testing.T, m *wallet.Mutator, user string, initial string) wallet.Wallet {
	t.Helper()
	res, err := m.Create(context.Background(), wallet.UserID(user), wallet.CurrencyUSD, money(initial))
	require.NoError(t, err)
	return res.Wallet
}

func requireAuditOK(t *testing.T, st wallet.Store, id wallet.WalletID) {
	t.Helper()
	report, err := wallet.NewAuditor(st).Verify(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, report.OK(), "audit problems: %v", report.Problems)
}

type mockNotifier struct {
	mock.Mock
}

func (n *mockNotifier) Publish(ctx context.Context, event wallet.Event) error {
	return n.Called(ctx, event).Error(0)
}

// flakyStore fails the first `failures` units of work with a storage conflict.
type flakyStore struct {
	*store.Memory
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(tx wallet.Tx) error) error {
	if s.calls.Add(1) <= s.failures {
		return wallet.ErrStorageConflict
	}
	return s.Memory.WithTx(ctx, fn)
}

// =============================================================================
// CREATE
// =============================================================================

func TestMutator_Create_WithOpeningBalance(t *testing.T) {
	// GIVEN: A new user
	// WHEN: A wallet is created with 100.00
	// THEN: The opening balance is backed by a DEPOSIT entry

	m, st := newTestMutator(t)
	ctx := context.Background()

	res, err := m.Create(ctx, "user-1", wallet.CurrencyUSD, money("100"))
	require.NoError(t, err)
	require.NotNil(t, res.Entry)

	assertMoney(t, "100.00", res.Wallet.Balance)
	assertMoney(t, "100.00", res.Wallet.TotalDeposited)
	assert.True(t, res.Wallet.IsActive)
	assert.Equal(t, int64(1), res.Wallet.LastSequence)

	assert.Equal(t, wallet.KindDeposit, res.Entry.Kind)
	assert.Equal(t, int64(1), res.Entry.Sequence)
	assertMoney(t, "0.00", res.Entry.BalanceBefore)
	assertMoney(t, "100.00", res.Entry.BalanceAfter)
	assert.Equal(t, wallet.StatusCompleted, res.Entry.Status)

	requireAuditOK(t, st, res.Wallet.ID)
}

func TestMutator_Create_ZeroBalanceWritesNoEntry(t *testing.T) {
	m, st := newTestMutator(t)
	ctx := context.Background()

	res, err := m.Create(ctx, "user-1", wallet.CurrencyVND, decimal.Zero)
	require.NoError(t, err)
	assert.Nil(t, res.Entry)

	entries, err := st.Entries(ctx, res.Wallet.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	requireAuditOK(t, st, res.Wallet.ID)
}

func TestMutator_Create_OneWalletPerUser(t *testing.T) {
	m, _ := newTestMutator(t)
	ctx := context.Background()

	createWallet(t, m, "user-1", "0")
	_, err := m.Create(ctx, "user-1", wallet.CurrencyUSD, decimal.Zero)
	assert.ErrorIs(t, err, wallet.ErrWalletExists)
}

func TestMutator_Create_RejectsBadInput(t *testing.T) {
	m, _ := newTestMutator(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "", wallet.CurrencyUSD, decimal.Zero)
	assert.ErrorIs(t, err, wallet.ErrInvalidUser)

	_, err = m.Create(ctx, "user-1", wallet.Currency("XYZ"), decimal.Zero)
	assert.ErrorIs(t, err, wallet.ErrInvalidCurrency)

	_, err = m.Create(ctx, "user-1", wallet.CurrencyUSD, money("-1"))
	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)

	_, err = m.Create(ctx, "user-1", wallet.CurrencyUSD, money("1.005"))
	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)
}

// =============================================================================
// DEPOSIT / DEBIT / REFUND
// =============================================================================

func TestMutator_Debit_RecordsBeforeAndAfter(t *testing.T) {
	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "employer-1", "100")

	res, err := m.Debit(ctx, w.ID, money("30"), wallet.KindJobPost, wallet.JobReference("job-1"))
	require.NoError(t, err)

	assertMoney(t, "70.00", res.Wallet.Balance)
	assertMoney(t, "30.00", res.Wallet.TotalSpent)
	assertMoney(t, "100.00", res.Entry.BalanceBefore)
	assertMoney(t, "70.00", res.Entry.BalanceAfter)
	assert.Equal(t, "job-1", res.Entry.ReferenceID)
	assert.Equal(t, wallet.RefJob, res.Entry.ReferenceType)
	assert.Equal(t, int64(2), res.Entry.Sequence)

	requireAuditOK(t, st, w.ID)
}

func TestMutator_Debit_InsufficientFunds(t *testing.T) {
	// GIVEN: A wallet holding 20.00
	// WHEN: Debiting 50.00
	// THEN: The debit is rejected and nothing is written

	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "employer-1", "20")

	_, err := m.Debit(ctx, w.ID, money("50"), wallet.KindWithdraw, wallet.Reference{Type: wallet.RefManual})
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	var ife *wallet.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assertMoney(t, "20.00", ife.Available)
	assertMoney(t, "50.00", ife.Requested)
	assertMoney(t, "30.00", ife.Shortfall)

	got, err := st.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assertMoney(t, "20.00", got.Balance)

	entries, err := st.Entries(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the opening deposit")
}

func TestMutator_Debit_ExactBalanceReachesZero(t *testing.T) {
	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "employer-1", "45.50")

	res, err := m.Debit(ctx, w.ID, money("45.50"), wallet.KindWithdraw, wallet.Reference{Type: wallet.RefManual})
	require.NoError(t, err)
	assertMoney(t, "0.00", res.Wallet.Balance)
	requireAuditOK(t, st, w.ID)
}

func TestMutator_RejectsInvalidAmounts(t *testing.T) {
	m, _ := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "10")

	for _, amount := range []string{"0", "-5", "0.001"} {
		_, err := m.Deposit(ctx, w.ID, money(amount), wallet.KindDeposit, wallet.Reference{Type: wallet.RefManual})
		assert.ErrorIs(t, err, wallet.ErrInvalidAmount, "amount %s", amount)
	}
}

func TestMutator_RejectsWrongKind(t *testing.T) {
	m, _ := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "10")

	_, err := m.Deposit(ctx, w.ID, money("1"), wallet.KindJobPost, wallet.Reference{})
	assert.ErrorIs(t, err, wallet.ErrInvalidKind)

	_, err = m.Debit(ctx, w.ID, money("1"), wallet.KindBonus, wallet.Reference{})
	assert.ErrorIs(t, err, wallet.ErrInvalidKind)

	_, err = m.Apply(ctx, wallet.Mutation{WalletID: w.ID, Kind: "TIP", Amount: money("1")})
	assert.ErrorIs(t, err, wallet.ErrInvalidKind)
}

func TestMutator_UnknownWallet(t *testing.T) {
	m, _ := newTestMutator(t)

	_, err := m.Deposit(context.Background(), "missing", money("1"), wallet.KindDeposit, wallet.Reference{})
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
	assert.True(t, wallet.IsNotFound(err))
}

func TestMutator_Refund_LowersTotalSpent(t *testing.T) {
	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "employer-1", "100")

	_, err := m.Debit(ctx, w.ID, money("40"), wallet.KindJobPost, wallet.JobReference("job-1"))
	require.NoError(t, err)

	res, err := m.Refund(ctx, w.ID, money("40"), wallet.JobReference("job-1"), "job cancelled")
	require.NoError(t, err)

	assertMoney(t, "100.00", res.Wallet.Balance)
	assertMoney(t, "0.00", res.Wallet.TotalSpent)
	assertMoney(t, "100.00", res.Wallet.TotalDeposited, "refund is not a deposit")
	assert.Equal(t, "job cancelled", res.Entry.Description)
	assert.Equal(t, "job cancelled", res.Entry.Metadata["reason"])

	requireAuditOK(t, st, w.ID)
}

func TestMutator_Refund_TotalSpentNeverNegative(t *testing.T) {
	m, _ := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "employer-1", "10")

	_, err := m.Debit(ctx, w.ID, money("5"), wallet.KindJobPost, wallet.JobReference("job-1"))
	require.NoError(t, err)

	res, err := m.Refund(ctx, w.ID, money("8"), wallet.JobReference("job-1"), "")
	require.NoError(t, err)
	assertMoney(t, "0.00", res.Wallet.TotalSpent)
	assertMoney(t, "13.00", res.Wallet.Balance)
}

// =============================================================================
// ACTIVE FLAG
// =============================================================================

func TestMutator_InactiveWalletRejectsEveryMutation(t *testing.T) {
	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "50")

	_, err := m.SetActive(ctx, w.ID, false)
	require.NoError(t, err)

	_, err = m.Deposit(ctx, w.ID, money("1"), wallet.KindDeposit, wallet.Reference{})
	assert.ErrorIs(t, err, wallet.ErrWalletInactive)
	_, err = m.Debit(ctx, w.ID, money("1"), wallet.KindWithdraw, wallet.Reference{})
	assert.ErrorIs(t, err, wallet.ErrWalletInactive)
	_, err = m.Refund(ctx, w.ID, money("1"), wallet.JobReference("job-1"), "")
	assert.ErrorIs(t, err, wallet.ErrWalletInactive)

	got, err := st.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assertMoney(t, "50.00", got.Balance)

	_, err = m.SetActive(ctx, w.ID, true)
	require.NoError(t, err)
	_, err = m.Deposit(ctx, w.ID, money("1"), wallet.KindDeposit, wallet.Reference{})
	assert.NoError(t, err)
}

// =============================================================================
// HOOKS
// =============================================================================

func TestMutator_GuardAbortsWithoutWriting(t *testing.T) {
	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "10")
	refused := errors.New("refused")

	_, err := m.Apply(ctx, wallet.Mutation{
		WalletID: w.ID,
		Kind:     wallet.KindDeposit,
		Amount:   money("5"),
		Guard:    func(*wallet.Wallet) error { return refused },
	})
	assert.ErrorIs(t, err, refused)

	entries, err := st.Entries(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMutator_AmendCannotTouchMoney(t *testing.T) {
	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "10")

	res, err := m.Apply(ctx, wallet.Mutation{
		WalletID: w.ID,
		Kind:     wallet.KindDeposit,
		Amount:   money("5"),
		Amend: func(_ context.Context, _ wallet.Tx, w *wallet.Wallet) error {
			w.Balance = money("1000000")
			w.TotalDeposited = decimal.Zero
			w.RechargeCode = "CUSTOM"
			return nil
		},
	})
	require.NoError(t, err)
	assertMoney(t, "15.00", res.Wallet.Balance)
	assertMoney(t, "15.00", res.Wallet.TotalDeposited)
	assert.Equal(t, "CUSTOM", res.Wallet.RechargeCode)

	requireAuditOK(t, st, w.ID)
}

func TestMutator_AmendErrorRollsBackEntry(t *testing.T) {
	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "10")

	_, err := m.Apply(ctx, wallet.Mutation{
		WalletID: w.ID,
		Kind:     wallet.KindDeposit,
		Amount:   money("5"),
		Amend: func(context.Context, wallet.Tx, *wallet.Wallet) error {
			return wallet.ErrCodeSpaceExhausted
		},
	})
	assert.ErrorIs(t, err, wallet.ErrCodeSpaceExhausted)

	got, err := st.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assertMoney(t, "10.00", got.Balance)
	requireAuditOK(t, st, w.ID)
}

func TestMutator_RecordSeesEntryAndCommitsWithIt(t *testing.T) {
	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "freelancer-1", "0")

	var recorded wallet.EntryID
	res, err := m.Apply(ctx, wallet.Mutation{
		WalletID:  w.ID,
		Kind:      wallet.KindBonus,
		Amount:    money("90"),
		Reference: wallet.JobReference("job-1"),
		Record: func(ctx context.Context, tx wallet.Tx, e wallet.LedgerEntry) error {
			recorded = e.ID
			return tx.InsertRevenue(ctx, wallet.PlatformRevenue{ID: "r-1", JobID: "job-1", PayoutEntryID: e.ID})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, res.Entry.ID, recorded)

	row, err := st.GetRevenueByJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, res.Entry.ID, row.PayoutEntryID)
}

func TestMutator_RecordErrorRollsBackEntry(t *testing.T) {
	// GIVEN: A job that already has a revenue row
	// WHEN: A payout tries to record a second row for it
	// THEN: The payout entry is rolled back with the row

	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "freelancer-1", "10")
	require.NoError(t, st.SaveRevenue(ctx, wallet.PlatformRevenue{ID: "r-1", JobID: "job-1"}))

	_, err := m.Apply(ctx, wallet.Mutation{
		WalletID:  w.ID,
		Kind:      wallet.KindBonus,
		Amount:    money("90"),
		Reference: wallet.JobReference("job-1"),
		Record: func(ctx context.Context, tx wallet.Tx, e wallet.LedgerEntry) error {
			return tx.InsertRevenue(ctx, wallet.PlatformRevenue{ID: "r-2", JobID: "job-1", PayoutEntryID: e.ID})
		},
	})
	assert.ErrorIs(t, err, wallet.ErrAlreadyAllocated)

	got, err := st.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assertMoney(t, "10.00", got.Balance)
	entries, err := st.Entries(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	requireAuditOK(t, st, w.ID)
}

// =============================================================================
// RETRIES
// =============================================================================

func TestMutator_RetriesStorageConflicts(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	m := wallet.NewMutator(st, wallet.WithRetryBackoff(time.Millisecond))
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "10")

	st.calls.Store(0)
	st.failures = 2

	res, err := m.Deposit(ctx, w.ID, money("5"), wallet.KindDeposit, wallet.Reference{})
	require.NoError(t, err)
	assertMoney(t, "15.00", res.Wallet.Balance)
	assert.Equal(t, int32(3), st.calls.Load())
}

func TestMutator_GivesUpAfterMaxRetries(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	m := wallet.NewMutator(st, wallet.WithRetryBackoff(time.Millisecond), wallet.WithMaxRetries(2))
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "10")

	st.calls.Store(0)
	st.failures = 100

	_, err := m.Deposit(ctx, w.ID, money("5"), wallet.KindDeposit, wallet.Reference{})
	require.Error(t, err)
	assert.True(t, wallet.IsRetryable(err))
	assert.Equal(t, int32(3), st.calls.Load(), "one attempt plus two retries")
}

func TestMutator_DomainErrorsAreNotRetried(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	m := wallet.NewMutator(st, wallet.WithRetryBackoff(time.Millisecond))
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "10")

	st.calls.Store(0)
	_, err := m.Debit(ctx, w.ID, money("50"), wallet.KindWithdraw, wallet.Reference{})
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	assert.Equal(t, int32(1), st.calls.Load())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestMutator_ConcurrentDebits_OnlyOneFits(t *testing.T) {
	// GIVEN: A wallet holding 100.00
	// WHEN: debit(60) and debit(50) race
	// THEN: Exactly one succeeds and the balance never goes negative

	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "employer-1", "100")

	amounts := []string{"60", "50"}
	errs := make([]error, len(amounts))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, a := range amounts {
		wg.Add(1)
		go func(i int, a string) {
			defer wg.Done()
			<-start
			_, errs[i] = m.Debit(ctx, w.ID, money(a), wallet.KindJobPost, wallet.JobReference("job-"+a))
		}(i, a)
	}
	close(start)
	wg.Wait()

	var winner string
	successes := 0
	for i, err := range errs {
		if err == nil {
			successes++
			winner = amounts[i]
			continue
		}
		assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	}
	require.Equal(t, 1, successes)

	got, err := st.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assertMoney(t, money("100").Sub(money(winner)).StringFixed(2), got.Balance)
	requireAuditOK(t, st, w.ID)
}

func TestMutator_ConcurrentDeposits_NoLostUpdates(t *testing.T) {
	m, st := newTestMutator(t)
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "0")

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Deposit(ctx, w.ID, money("1.25"), wallet.KindDeposit, wallet.Reference{Type: wallet.RefManual})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := st.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assertMoney(t, "62.50", got.Balance)
	assert.Equal(t, int64(workers), got.LastSequence)
	requireAuditOK(t, st, w.ID)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestMutator_PublishesAfterCommit(t *testing.T) {
	n := &mockNotifier{}
	n.On("Publish", mock.Anything, mock.MatchedBy(func(e wallet.Event) bool {
		return e.Type == wallet.EventWalletCreated
	})).Return(nil).Once()
	n.On("Publish", mock.Anything, mock.MatchedBy(func(e wallet.Event) bool {
		return e.Type == wallet.EventEntryRecorded && e.Entry != nil && e.Entry.Kind == wallet.KindDeposit
	})).Return(nil).Twice()

	m, _ := newTestMutator(t, wallet.WithNotifier(n))
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "10")

	_, err := m.Deposit(ctx, w.ID, money("5"), wallet.KindDeposit, wallet.Reference{})
	require.NoError(t, err)

	n.AssertExpectations(t)
}

func TestMutator_NotifierFailureDoesNotFailMutation(t *testing.T) {
	n := &mockNotifier{}
	n.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	m, st := newTestMutator(t, wallet.WithNotifier(n))
	ctx := context.Background()
	w := createWallet(t, m, "user-1", "10")

	_, err := m.Deposit(ctx, w.ID, money("5"), wallet.KindDeposit, wallet.Reference{})
	require.NoError(t, err)

	got, err := st.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assertMoney(t, "15.00", got.Balance)
}

func TestMutator_NoEventForRejectedMutation(t *testing.T) {
	n := &mockNotifier{}
	n.On("Publish", mock.Anything, mock.Anything).Return(nil)

	m, _ := newTestMutator(t, wallet.WithNotifier(n))
	w := createWallet(t, m, "user-1", "10")
	n.Calls = nil

	_, err := m.Debit(context.Background(), w.ID, money("50"), wallet.KindWithdraw, wallet.Reference{})
	require.Error(t, err)
	n.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}
