/*
Package sqlite provides a SQLite-backed implementation of wallet.Store.

PURPOSE:
  Persists wallets, the append-only ledger and platform revenue rows in a
  single SQLite file. The same schema runs on PostgreSQL (store/postgres)
  with only dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on ledger_entries
  - No DELETE statements on ledger_entries
  - Corrections are new entries (REFUND), never edits

KEY TABLES:
  wallets:          One row per user, current balance snapshot
  ledger_entries:   Immutable history, one row per balance change
  platform_revenue: Fee/payout split per completed job

CONSTRAINTS:
  - wallets.user_id UNIQUE                     -> wallet.ErrWalletExists
  - wallets.recharge_code UNIQUE               -> wallet.ErrStorageConflict
  - ledger_entries(wallet_id, sequence) UNIQUE -> wallet.ErrStorageConflict
  - ledger_entries(wallet_id, idempotency_key) -> wallet.ErrDuplicateEntry
  - platform_revenue.job_id UNIQUE             -> wallet.ErrAlreadyAllocated

MONEY:
  Stored as TEXT in decimal notation and parsed back with shopspring/decimal.
  Never REAL: floating point cannot hold 0.10 exactly.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety: a unit of work holds the write lock
  for its whole duration, which is what makes LockWallet a real row lock
  here. Transactions start with BEGIN IMMEDIATE (_txlock=immediate) so a
  second process sharing the file fails fast with SQLITE_BUSY, reported as
  wallet.ErrStorageConflict and retried by the Mutator.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/wallet.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  mutator := wallet.NewMutator(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - wallet/store.go: the contract implemented here
  - wallet/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/wallet-ledger/wallet"
)

// timeLayout is fixed-width so that string comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements wallet.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ wallet.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL,
		total_deposited TEXT NOT NULL,
		total_spent TEXT NOT NULL,
		recharge_code TEXT UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_sequence INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		sequence INTEGER NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference_id TEXT,
		reference_type TEXT,
		status TEXT NOT NULL,
		description TEXT,
		metadata_json TEXT,
		idempotency_key TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(wallet_id, sequence)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_idempotency
		ON ledger_entries(wallet_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- History listing (hot path)
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet_created
		ON ledger_entries(wallet_id, created_at DESC);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference
		ON ledger_entries(reference_id) WHERE reference_id IS NOT NULL;

	-- Platform revenue (reporting)
	CREATE TABLE IF NOT EXISTS platform_revenue (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL UNIQUE,
		total_amount TEXT NOT NULL,
		fee_percentage TEXT NOT NULL,
		fee_amount TEXT NOT NULL,
		freelancer_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		freelancer_id TEXT NOT NULL,
		employer_id TEXT,
		revenue_type TEXT NOT NULL,
		payout_entry_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_platform_revenue_employer
		ON platform_revenue(employer_id);
	CREATE INDEX IF NOT EXISTS idx_platform_revenue_freelancer
		ON platform_revenue(freelancer_id);
	CREATE INDEX IF NOT EXISTS idx_platform_revenue_created
		ON platform_revenue(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// WALLETS
// =============================================================================

const walletColumns = `id, user_id, currency, balance, total_deposited, total_spent,
	recharge_code, is_active, last_sequence, version, created_at, updated_at`

func (s *Store) GetWallet(ctx context.Context, id wallet.WalletID) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getWallet(ctx, s.db, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, string(id))
}

func (s *Store) GetWalletByUser(ctx context.Context, userID wallet.UserID) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getWallet(ctx, s.db, `SELECT `+walletColumns+` FROM wallets WHERE user_id = ?`, string(userID))
}

func (s *Store) ListWalletIDs(ctx context.Context) ([]wallet.WalletID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM wallets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var ids []wallet.WalletID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan wallet id: %w", err)
		}
		ids = append(ids, wallet.WalletID(id))
	}
	return ids, rows.Err()
}

func getWallet(ctx context.Context, q querier, query string, arg string) (*wallet.Wallet, error) {
	var (
		w              wallet.Wallet
		balance        string
		totalDeposited string
		totalSpent     string
		rechargeCode   sql.NullString
		createdAt      string
		updatedAt      string
	)
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&w.ID, &w.UserID, &w.Currency, &balance, &totalDeposited, &totalSpent,
		&rechargeCode, &w.IsActive, &w.LastSequence, &w.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", arg, wallet.ErrWalletNotFound)
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to get wallet: %w", err))
	}

	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("wallet %s: corrupt balance %q: %w", w.ID, balance, err)
	}
	if w.TotalDeposited, err = decimal.NewFromString(totalDeposited); err != nil {
		return nil, fmt.Errorf("wallet %s: corrupt total_deposited %q: %w", w.ID, totalDeposited, err)
	}
	if w.TotalSpent, err = decimal.NewFromString(totalSpent); err != nil {
		return nil, fmt.Errorf("wallet %s: corrupt total_spent %q: %w", w.ID, totalSpent, err)
	}
	w.RechargeCode = rechargeCode.String
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

// =============================================================================
// LEDGER ENTRIES (append-only)
// =============================================================================

const entryColumns = `id, wallet_id, sequence, kind, amount, currency, balance_before,
	balance_after, reference_id, reference_type, status, description, metadata_json,
	idempotency_key, created_at`

// ListEntries returns one page of history, newest first.
func (s *Store) ListEntries(ctx context.Context, walletID wallet.WalletID, filter wallet.EntryFilter) (wallet.EntryPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter = filter.Normalize()
	page := wallet.EntryPage{Page: filter.Page, PageSize: filter.PageSize, Entries: []wallet.LedgerEntry{}}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM wallets WHERE id = ?)`, string(walletID)).Scan(&exists); err != nil {
		return page, mapError(fmt.Errorf("failed to check wallet: %w", err))
	}
	if !exists {
		return page, fmt.Errorf("wallet %s: %w", walletID, wallet.ErrWalletNotFound)
	}

	where, args := entryWhere(walletID, filter)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE `+where, args...).Scan(&page.Total); err != nil {
		return page, mapError(fmt.Errorf("failed to count entries: %w", err))
	}

	args = append(args, filter.PageSize, filter.Offset())
	entries, err := queryEntries(ctx, s.db,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE `+where+` ORDER BY sequence DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return page, err
	}
	if entries != nil {
		page.Entries = entries
	}
	return page, nil
}

func entryWhere(walletID wallet.WalletID, f wallet.EntryFilter) (string, []any) {
	clauses := []string{"wallet_id = ?"}
	args := []any{string(walletID)}

	if len(f.Kinds) > 0 {
		marks := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		clauses = append(clauses, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ReferenceID != "" {
		clauses = append(clauses, "reference_id = ?")
		args = append(args, f.ReferenceID)
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	return strings.Join(clauses, " AND "), args
}

// Entries returns the full history ordered by sequence.
func (s *Store) Entries(ctx context.Context, walletID wallet.WalletID) ([]wallet.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM wallets WHERE id = ?)`, string(walletID)).Scan(&exists); err != nil {
		return nil, mapError(fmt.Errorf("failed to check wallet: %w", err))
	}
	if !exists {
		return nil, fmt.Errorf("wallet %s: %w", walletID, wallet.ErrWalletNotFound)
	}

	return queryEntries(ctx, s.db,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE wallet_id = ? ORDER BY sequence`,
		string(walletID))
}

func (s *Store) FindEntryByIdempotencyKey(ctx context.Context, walletID wallet.WalletID, key string) (*wallet.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := queryEntries(ctx, s.db,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE wallet_id = ? AND idempotency_key = ?`,
		string(walletID), key)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func appendEntry(ctx context.Context, q querier, e wallet.LedgerEntry) error {
	var metadataJSON sql.NullString
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode entry metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO ledger_entries
		(id, wallet_id, sequence, kind, amount, currency, balance_before, balance_after,
		 reference_id, reference_type, status, description, metadata_json, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		string(e.ID),
		string(e.WalletID),
		e.Sequence,
		string(e.Kind),
		e.Amount.String(),
		string(e.Currency),
		e.BalanceBefore.String(),
		e.BalanceAfter.String(),
		nullString(e.ReferenceID),
		nullString(string(e.ReferenceType)),
		string(e.Status),
		nullString(e.Description),
		metadataJSON,
		nullString(e.IdempotencyKey),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to append ledger entry: %w", err))
	}
	return nil
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]wallet.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query ledger entries: %w", err))
	}
	defer rows.Close()

	var entries []wallet.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (wallet.LedgerEntry, error) {
	var (
		e              wallet.LedgerEntry
		amount         string
		balanceBefore  string
		balanceAfter   string
		referenceID    sql.NullString
		referenceType  sql.NullString
		description    sql.NullString
		metadataJSON   sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&e.ID, &e.WalletID, &e.Sequence, &e.Kind, &amount, &e.Currency,
		&balanceBefore, &balanceAfter, &referenceID, &referenceType, &e.Status,
		&description, &metadataJSON, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return e, fmt.Errorf("entry %s: corrupt amount %q: %w", e.ID, amount, err)
	}
	if e.BalanceBefore, err = decimal.NewFromString(balanceBefore); err != nil {
		return e, fmt.Errorf("entry %s: corrupt balance_before %q: %w", e.ID, balanceBefore, err)
	}
	if e.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
		return e, fmt.Errorf("entry %s: corrupt balance_after %q: %w", e.ID, balanceAfter, err)
	}
	e.ReferenceID = referenceID.String
	e.ReferenceType = wallet.ReferenceType(referenceType.String)
	e.Description = description.String
	e.IdempotencyKey = idempotencyKey.String
	e.CreatedAt = parseTime(createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("entry %s: corrupt metadata: %w", e.ID, err)
		}
	}
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE (wallet.Tx)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx wallet.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertWallet(ctx context.Context, w wallet.Wallet) error {
	query := `
		INSERT INTO wallets
		(id, user_id, currency, balance, total_deposited, total_spent, recharge_code,
		 is_active, last_sequence, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ts.tx.ExecContext(ctx, query,
		string(w.ID),
		string(w.UserID),
		string(w.Currency),
		w.Balance.String(),
		w.TotalDeposited.String(),
		w.TotalSpent.String(),
		nullString(w.RechargeCode),
		w.IsActive,
		w.LastSequence,
		w.Version,
		formatTime(w.CreatedAt),
		formatTime(w.UpdatedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to insert wallet for user %s: %w", w.UserID, err))
	}
	return nil
}

// LockWallet reads the wallet inside the write transaction. Store.mu plus
// BEGIN IMMEDIATE already exclude every other writer.
func (ts *txStore) LockWallet(ctx context.Context, id wallet.WalletID) (*wallet.Wallet, error) {
	return getWallet(ctx, ts.tx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, string(id))
}

func (ts *txStore) UpdateWallet(ctx context.Context, w wallet.Wallet) error {
	query := `
		UPDATE wallets SET
			balance = ?, total_deposited = ?, total_spent = ?, recharge_code = ?,
			is_active = ?, last_sequence = ?, version = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := ts.tx.ExecContext(ctx, query,
		w.Balance.String(),
		w.TotalDeposited.String(),
		w.TotalSpent.String(),
		nullString(w.RechargeCode),
		w.IsActive,
		w.LastSequence,
		w.Version,
		formatTime(w.UpdatedAt),
		string(w.ID),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to update wallet %s: %w", w.ID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("wallet %s: %w", w.ID, wallet.ErrWalletNotFound)
	}
	return nil
}

func (ts *txStore) AppendEntry(ctx context.Context, e wallet.LedgerEntry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) InsertRevenue(ctx context.Context, r wallet.PlatformRevenue) error {
	return insertRevenue(ctx, ts.tx, r)
}

func (ts *txStore) RechargeCodeInUse(ctx context.Context, code string) (bool, error) {
	var inUse bool
	err := ts.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM wallets WHERE recharge_code = ?)`, code).Scan(&inUse)
	if err != nil {
		return false, mapError(fmt.Errorf("failed to check recharge code: %w", err))
	}
	return inUse, nil
}

// =============================================================================
// PLATFORM REVENUE
// =============================================================================

const revenueColumns = `id, job_id, total_amount, fee_percentage, fee_amount, freelancer_amount,
	currency, freelancer_id, employer_id, revenue_type, payout_entry_id, created_at`

func (s *Store) SaveRevenue(ctx context.Context, r wallet.PlatformRevenue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertRevenue(ctx, s.db, r)
}

func insertRevenue(ctx context.Context, q querier, r wallet.PlatformRevenue) error {
	query := `INSERT INTO platform_revenue (` + revenueColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, query,
		r.ID,
		r.JobID,
		r.TotalAmount.String(),
		r.FeePercentage.String(),
		r.FeeAmount.String(),
		r.FreelancerAmount.String(),
		string(r.Currency),
		string(r.FreelancerID),
		nullString(string(r.EmployerID)),
		r.RevenueType,
		nullString(string(r.PayoutEntryID)),
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save revenue for job %s: %w", r.JobID, err))
	}
	return nil
}

func (s *Store) GetRevenueByJob(ctx context.Context, jobID string) (*wallet.PlatformRevenue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.queryRevenue(ctx, `SELECT `+revenueColumns+` FROM platform_revenue WHERE job_id = ?`, jobID)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// ListRevenue returns rows newest first.
func (s *Store) ListRevenue(ctx context.Context, f wallet.RevenueFilter) ([]wallet.PlatformRevenue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clauses := []string{"1 = 1"}
	var args []any
	if f.EmployerID != "" {
		clauses = append(clauses, "employer_id = ?")
		args = append(args, string(f.EmployerID))
	}
	if f.FreelancerID != "" {
		clauses = append(clauses, "freelancer_id = ?")
		args = append(args, string(f.FreelancerID))
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	args = append(args, limit, f.Offset)

	query := `SELECT ` + revenueColumns + ` FROM platform_revenue WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY created_at DESC, job_id LIMIT ? OFFSET ?`
	rows, err := s.queryRevenue(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []wallet.PlatformRevenue{}
	}
	return rows, nil
}

// SummarizeRevenue adds the TEXT amounts in Go to keep decimal precision.
func (s *Store) SummarizeRevenue(ctx context.Context) (wallet.RevenueSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum wallet.RevenueSummary
	rows, err := s.db.QueryContext(ctx, `SELECT total_amount, fee_amount, freelancer_amount FROM platform_revenue`)
	if err != nil {
		return sum, mapError(fmt.Errorf("failed to summarize revenue: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var gross, fee, payout string
		if err := rows.Scan(&gross, &fee, &payout); err != nil {
			return sum, fmt.Errorf("failed to scan revenue: %w", err)
		}
		sum.Jobs++
		sum.Gross = sum.Gross.Add(decimal.RequireFromString(gross))
		sum.Fees = sum.Fees.Add(decimal.RequireFromString(fee))
		sum.Payouts = sum.Payouts.Add(decimal.RequireFromString(payout))
	}
	return sum, rows.Err()
}

func (s *Store) queryRevenue(ctx context.Context, query string, args ...any) ([]wallet.PlatformRevenue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query revenue: %w", err))
	}
	defer rows.Close()

	var out []wallet.PlatformRevenue
	for rows.Next() {
		var (
			r                         wallet.PlatformRevenue
			total, pct, fee, payout   string
			employerID, payoutEntryID sql.NullString
			createdAt                 string
		)
		err := rows.Scan(&r.ID, &r.JobID, &total, &pct, &fee, &payout,
			&r.Currency, &r.FreelancerID, &employerID, &r.RevenueType, &payoutEntryID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revenue: %w", err)
		}
		r.TotalAmount = decimal.RequireFromString(total)
		r.FeePercentage = decimal.RequireFromString(pct)
		r.FeeAmount = decimal.RequireFromString(fee)
		r.FreelancerAmount = decimal.RequireFromString(payout)
		r.EmployerID = wallet.UserID(employerID.String)
		r.PayoutEntryID = wallet.EntryID(payoutEntryID.String)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// mapError translates SQLite constraint and locking failures into the
// wallet error taxonomy. Other errors pass through unchanged.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch {
	case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", wallet.ErrStorageConflict, err)

	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "wallets.user_id"):
			return fmt.Errorf("%w: %v", wallet.ErrWalletExists, err)
		case strings.Contains(msg, "idempotency_key"):
			return fmt.Errorf("%w: %v", wallet.ErrDuplicateEntry, err)
		case strings.Contains(msg, "platform_revenue.job_id"):
			return fmt.Errorf("%w: %v", wallet.ErrAlreadyAllocated, err)
		default:
			// sequence, recharge_code or primary key race
			return fmt.Errorf("%w: %v", wallet.ErrStorageConflict, err)
		}
	}
	return err
}
