package wallet_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wallet-ledger/wallet"
	"github.com/warp/wallet-ledger/wallet/store"
)

var autoCreate = wallet.Policy{AutoCreate: true, DefaultCurrency: wallet.CurrencyVND}

func newTestService(t *testing.T, policy wallet.Policy) (*wallet.Service, *store.Memory) {
	t.Helper()
	m, st := newTestMutator(t)
	return wallet.NewService(st, m, policy, nil), st
}

func TestService_GetWallet_AutoCreates(t *testing.T) {
	svc, _ := newTestService(t, autoCreate)
	ctx := context.Background()

	w, err := svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, wallet.UserID("user-1"), w.UserID)
	assert.Equal(t, wallet.CurrencyVND, w.Currency)
	assertMoney(t, "0.00", w.Balance)

	again, err := svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, w.ID, again.ID)
}

func TestService_GetWallet_PolicyOff(t *testing.T) {
	svc, _ := newTestService(t, wallet.DefaultPolicy())

	_, err := svc.GetWallet(context.Background(), "user-1")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestService_EnsureWallet_ConcurrentFirstAccess(t *testing.T) {
	svc, st := newTestService(t, autoCreate)
	ctx := context.Background()

	const n = 20
	ids := make([]wallet.WalletID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := svc.EnsureWallet(ctx, "user-1")
			if assert.NoError(t, err) {
				ids[i] = w.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	all, err := st.ListWalletIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestService_Deduct_NeverAutoCreates(t *testing.T) {
	svc, st := newTestService(t, autoCreate)
	ctx := context.Background()

	_, err := svc.Deduct(ctx, "ghost", money("10"), "job-1", "")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)

	_, err = svc.Refund(ctx, "ghost", money("10"), "job-1", "", "")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)

	all, err := st.ListWalletIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestService_Deduct_RequiresJob(t *testing.T) {
	svc, _ := newTestService(t, autoCreate)
	ctx := context.Background()
	_, err := svc.CreateWallet(ctx, "employer-1", wallet.CurrencyUSD, money("100"))
	require.NoError(t, err)

	_, err = svc.Deduct(ctx, "employer-1", money("10"), "", "")
	assert.ErrorIs(t, err, wallet.ErrInvalidReference)
}

func TestService_Deduct_IdempotentReplay(t *testing.T) {
	// GIVEN: A job posting fee already charged with key post-job-1
	// WHEN: The caller retries with the same key
	// THEN: The original entry comes back and nothing is charged twice,
	//       even though a second charge would no longer fit

	svc, st := newTestService(t, autoCreate)
	ctx := context.Background()
	created, err := svc.CreateWallet(ctx, "employer-1", wallet.CurrencyUSD, money("100"))
	require.NoError(t, err)

	first, err := svc.Deduct(ctx, "employer-1", money("60"), "job-1", "post-job-1")
	require.NoError(t, err)

	second, err := svc.Deduct(ctx, "employer-1", money("60"), "job-1", "post-job-1")
	require.NoError(t, err)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assertMoney(t, "40.00", second.Wallet.Balance)

	entries, err := st.Entries(ctx, created.Wallet.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestService_IdempotencyKey_ReusedForRefund(t *testing.T) {
	// GIVEN: A job posting fee charged with key K1
	// WHEN: A refund for the same job arrives with the same key
	// THEN: The refund is rejected as a duplicate instead of returning the
	//       earlier debit, and the balance is untouched

	svc, st := newTestService(t, autoCreate)
	ctx := context.Background()
	created, err := svc.CreateWallet(ctx, "employer-1", wallet.CurrencyUSD, money("100"))
	require.NoError(t, err)

	_, err = svc.Deduct(ctx, "employer-1", money("40"), "job-1", "K1")
	require.NoError(t, err)

	res, err := svc.Refund(ctx, "employer-1", money("40"), "job-1", "job cancelled", "K1")
	assert.ErrorIs(t, err, wallet.ErrDuplicateEntry)
	assert.Nil(t, res)

	got, err := st.GetWallet(ctx, created.Wallet.ID)
	require.NoError(t, err)
	assertMoney(t, "60.00", got.Balance)
	entries, err := st.Entries(ctx, created.Wallet.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestService_IdempotencyKey_ReusedForDifferentCharge(t *testing.T) {
	svc, st := newTestService(t, autoCreate)
	ctx := context.Background()
	created, err := svc.CreateWallet(ctx, "employer-1", wallet.CurrencyUSD, money("100"))
	require.NoError(t, err)

	_, err = svc.Deduct(ctx, "employer-1", money("40"), "job-1", "K1")
	require.NoError(t, err)

	cases := []struct {
		name   string
		amount string
		job    string
	}{
		{"other job and amount", "55", "job-2"},
		{"other amount", "55", "job-1"},
		{"other job", "40", "job-2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.Deduct(ctx, "employer-1", money(tc.amount), tc.job, "K1")
			assert.ErrorIs(t, err, wallet.ErrDuplicateEntry)
			assert.Nil(t, res)
		})
	}

	got, err := st.GetWallet(ctx, created.Wallet.ID)
	require.NoError(t, err)
	assertMoney(t, "60.00", got.Balance)
}

func TestService_Deduct_ConcurrentSameKey(t *testing.T) {
	svc, st := newTestService(t, autoCreate)
	ctx := context.Background()
	created, err := svc.CreateWallet(ctx, "employer-1", wallet.CurrencyUSD, money("1000"))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	entryIDs := make([]wallet.EntryID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Deduct(ctx, "employer-1", money("10"), "job-1", "post-job-1")
			if assert.NoError(t, err) {
				entryIDs[i] = res.Entry.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range entryIDs {
		assert.Equal(t, entryIDs[0], id)
	}
	got, err := st.GetWallet(ctx, created.Wallet.ID)
	require.NoError(t, err)
	assertMoney(t, "990.00", got.Balance)
}

func TestService_RefundAfterDeduct(t *testing.T) {
	svc, _ := newTestService(t, autoCreate)
	ctx := context.Background()
	_, err := svc.CreateWallet(ctx, "employer-1", wallet.CurrencyUSD, money("50"))
	require.NoError(t, err)

	_, err = svc.Deduct(ctx, "employer-1", money("20"), "job-1", "")
	require.NoError(t, err)
	res, err := svc.Refund(ctx, "employer-1", money("20"), "job-1", "job cancelled", "refund-job-1")
	require.NoError(t, err)

	assertMoney(t, "50.00", res.Wallet.Balance)
	assertMoney(t, "0.00", res.Wallet.TotalSpent)
	assert.Equal(t, wallet.KindRefund, res.Entry.Kind)
}

func TestService_SetActive(t *testing.T) {
	svc, _ := newTestService(t, autoCreate)
	ctx := context.Background()
	_, err := svc.CreateWallet(ctx, "user-1", "", money("50"))
	require.NoError(t, err)

	w, err := svc.SetActive(ctx, "user-1", false)
	require.NoError(t, err)
	assert.False(t, w.IsActive)

	_, err = svc.Deduct(ctx, "user-1", money("1"), "job-1", "")
	assert.ErrorIs(t, err, wallet.ErrWalletInactive)

	w, err = svc.SetActive(ctx, "user-1", true)
	require.NoError(t, err)
	assert.True(t, w.IsActive)
}

func TestService_ListTransactions_NewestFirstPaged(t *testing.T) {
	svc, _ := newTestService(t, autoCreate)
	ctx := context.Background()
	_, err := svc.CreateWallet(ctx, "employer-1", wallet.CurrencyUSD, money("100"))
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := svc.Deduct(ctx, "employer-1", decimal.NewFromInt(int64(i)), fmt.Sprintf("job-%d", i), "")
		require.NoError(t, err)
	}

	_, page, err := svc.ListTransactions(ctx, "employer-1", wallet.EntryFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, int64(6), page.Entries[0].Sequence)
	assert.Equal(t, int64(5), page.Entries[1].Sequence)

	_, page, err = svc.ListTransactions(ctx, "employer-1", wallet.EntryFilter{Kinds: []wallet.EntryKind{wallet.KindDeposit}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, page, err = svc.ListTransactions(ctx, "employer-1", wallet.EntryFilter{ReferenceID: "job-3"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assertMoney(t, "3.00", page.Entries[0].Amount)
}

func TestService_ListTransactions_HugePageIsEmpty(t *testing.T) {
	// GIVEN: A wallet with a short history
	// WHEN: A page number so large that page*size overflows an int is requested
	// THEN: An empty page comes back instead of a negative offset

	svc, _ := newTestService(t, autoCreate)
	ctx := context.Background()
	_, err := svc.CreateWallet(ctx, "employer-1", wallet.CurrencyUSD, money("100"))
	require.NoError(t, err)

	for _, p := range []int{math.MaxInt / 50, math.MaxInt, wallet.MaxPage + 1} {
		_, page, err := svc.ListTransactions(ctx, "employer-1", wallet.EntryFilter{Page: p, PageSize: 100})
		require.NoError(t, err, p)
		assert.Equal(t, 1, page.Total)
		assert.Empty(t, page.Entries)
		assert.Equal(t, wallet.MaxPage, page.Page)
	}
}

func TestEntryFilter_NormalizeBoundsOffset(t *testing.T) {
	f := wallet.EntryFilter{Page: math.MaxInt, PageSize: math.MaxInt}.Normalize()
	assert.Equal(t, wallet.MaxPage, f.Page)
	assert.Equal(t, wallet.MaxPageSize, f.PageSize)
	assert.Positive(t, f.Offset())

	f = wallet.EntryFilter{Page: -3}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, wallet.DefaultPageSize, f.PageSize)
	assert.Equal(t, 0, f.Offset())
}

func TestService_Audit(t *testing.T) {
	svc, _ := newTestService(t, autoCreate)
	ctx := context.Background()
	_, err := svc.CreateWallet(ctx, "user-1", wallet.CurrencyUSD, money("12.34"))
	require.NoError(t, err)

	report, err := svc.Audit(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)

	_, err = svc.Audit(ctx, "nobody")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}
