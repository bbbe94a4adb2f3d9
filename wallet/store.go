/*
store.go - Persistence contract for wallets, ledger entries and revenue

PURPOSE:
  Defines the boundary between the ledger logic and the database.
  Implementations: wallet/store (memory), store/sqlite, store/postgres.

UNIT OF WORK:
  Every balance change runs inside Store.WithTx. The Tx handed to the
  callback is the only way to lock or write a wallet:

    err := store.WithTx(ctx, func(tx Tx) error {
        w, err := tx.LockWallet(ctx, id)   // row lock until commit/rollback
        ...
        if err := tx.AppendEntry(ctx, entry); err != nil {
            return err                     // rollback: nothing written
        }
        return tx.UpdateWallet(ctx, *w)    // commit on nil
    })

  If fn returns an error, every write made through tx is discarded.

APPEND-ONLY CONTRACT:
  Ledger entries have AppendEntry and read methods only. No update,
  no delete.

LOCKING:
  LockWallet blocks while another unit of work holds the same wallet.
  Contention that cannot be resolved (deadlock, serialization failure,
  busy database, lock timeout) surfaces as ErrStorageConflict.
*/
package wallet

import "context"

// Store is the read side plus the unit-of-work entry point.
type Store interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetWallet returns ErrWalletNotFound when no wallet has that ID.
	GetWallet(ctx context.Context, id WalletID) (*Wallet, error)

	// GetWalletByUser returns ErrWalletNotFound when the user has no wallet.
	GetWalletByUser(ctx context.Context, userID UserID) (*Wallet, error)

	ListWalletIDs(ctx context.Context) ([]WalletID, error)

	// ListEntries returns one page of history, newest first.
	ListEntries(ctx context.Context, walletID WalletID, filter EntryFilter) (EntryPage, error)

	// Entries returns the complete history ordered by Sequence ascending.
	Entries(ctx context.Context, walletID WalletID) ([]LedgerEntry, error)

	// FindEntryByIdempotencyKey returns (nil, nil) when no entry matches.
	FindEntryByIdempotencyKey(ctx context.Context, walletID WalletID, key string) (*LedgerEntry, error)

	RevenueStore
}

// Tx is the write side, only reachable through Store.WithTx.
type Tx interface {
	// InsertWallet returns ErrWalletExists if the user already has one.
	InsertWallet(ctx context.Context, w Wallet) error

	// LockWallet reads the wallet and holds its row lock until the
	// transaction ends.
	LockWallet(ctx context.Context, id WalletID) (*Wallet, error)

	// UpdateWallet persists every mutable field of a wallet locked (or
	// inserted) in this transaction.
	UpdateWallet(ctx context.Context, w Wallet) error

	// AppendEntry returns ErrDuplicateEntry on an idempotency key clash.
	AppendEntry(ctx context.Context, e LedgerEntry) error

	// RechargeCodeInUse reports whether any wallet currently holds code.
	RechargeCodeInUse(ctx context.Context, code string) (bool, error)

	// InsertRevenue writes a revenue row in the same unit as the payout it
	// records. Returns ErrAlreadyAllocated if the job already has a row.
	InsertRevenue(ctx context.Context, r PlatformRevenue) error
}

// RevenueStore persists PlatformRevenue reporting rows.
type RevenueStore interface {
	// SaveRevenue returns ErrAlreadyAllocated if the job already has a row.
	SaveRevenue(ctx context.Context, r PlatformRevenue) error

	// GetRevenueByJob returns (nil, nil) when the job has no row.
	GetRevenueByJob(ctx context.Context, jobID string) (*PlatformRevenue, error)

	ListRevenue(ctx context.Context, filter RevenueFilter) ([]PlatformRevenue, error)

	SummarizeRevenue(ctx context.Context) (RevenueSummary, error)
}
