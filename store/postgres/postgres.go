/*
Package postgres provides a PostgreSQL implementation of wallet.Store.

PURPOSE:
  Production storage. Same tables as store/sqlite, but concurrency is
  handled by the database instead of a process mutex:

    LockWallet  -> SELECT ... FOR UPDATE          (row lock until commit)
    isolation   -> READ COMMITTED                 (the row lock is enough)
    lock wait   -> SET LOCAL lock_timeout         (55P03 -> ErrStorageConflict)

ERROR MAPPING:
  23505 wallets_user_id_key             -> wallet.ErrWalletExists
  23505 ledger_entries_idempotency_idx  -> wallet.ErrDuplicateEntry
  23505 platform_revenue_job_id_key     -> wallet.ErrAlreadyAllocated
  23505 (any other)                     -> wallet.ErrStorageConflict
  40001 / 40P01 / 55P03                 -> wallet.ErrStorageConflict

MONEY:
  NUMERIC(20,2) columns. Values cross the wire as text in both directions
  so no float conversion ever happens.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/wallet-ledger/wallet"
)

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ wallet.Store = (*Store)(nil)

type Option func(*Store)

// WithLockTimeout bounds how long a unit of work waits for a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool, lockTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL CONSTRAINT wallets_user_id_key UNIQUE,
		currency TEXT NOT NULL,
		balance NUMERIC(20,2) NOT NULL CHECK (balance >= 0),
		total_deposited NUMERIC(20,2) NOT NULL DEFAULT 0,
		total_spent NUMERIC(20,2) NOT NULL DEFAULT 0,
		recharge_code TEXT CONSTRAINT wallets_recharge_code_key UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_sequence BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		sequence BIGINT NOT NULL,
		kind TEXT NOT NULL,
		amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
		currency TEXT NOT NULL,
		balance_before NUMERIC(20,2) NOT NULL,
		balance_after NUMERIC(20,2) NOT NULL,
		reference_id TEXT,
		reference_type TEXT,
		status TEXT NOT NULL,
		description TEXT,
		metadata JSONB,
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT ledger_entries_sequence_key UNIQUE (wallet_id, sequence)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_idempotency_idx
		ON ledger_entries(wallet_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_reference_idx
		ON ledger_entries(reference_id) WHERE reference_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS platform_revenue (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL CONSTRAINT platform_revenue_job_id_key UNIQUE,
		total_amount NUMERIC(20,2) NOT NULL,
		fee_percentage NUMERIC(7,4) NOT NULL,
		fee_amount NUMERIC(20,2) NOT NULL,
		freelancer_amount NUMERIC(20,2) NOT NULL,
		currency TEXT NOT NULL,
		freelancer_id TEXT NOT NULL,
		employer_id TEXT,
		revenue_type TEXT NOT NULL,
		payout_entry_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS platform_revenue_employer_idx ON platform_revenue(employer_id)`,
	`CREATE INDEX IF NOT EXISTS platform_revenue_freelancer_idx ON platform_revenue(freelancer_id)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// queryer is satisfied by *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// WALLETS
// =============================================================================

const walletColumns = `id, user_id, currency, balance::text, total_deposited::text, total_spent::text,
	COALESCE(recharge_code, ''), is_active, last_sequence, version, created_at, updated_at`

func (s *Store) GetWallet(ctx context.Context, id wallet.WalletID) (*wallet.Wallet, error) {
	return getWallet(ctx, s.pool, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, string(id))
}

func (s *Store) GetWalletByUser(ctx context.Context, userID wallet.UserID) (*wallet.Wallet, error) {
	return getWallet(ctx, s.pool, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, string(userID))
}

func (s *Store) ListWalletIDs(ctx context.Context) ([]wallet.WalletID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM wallets ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list wallets: %w", err))
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

func getWallet(ctx context.Context, q queryer, query string, arg string) (*wallet.Wallet, error) {
	var (
		w                                   wallet.Wallet
		balance, totalDeposited, totalSpent string
	)
	err := q.QueryRow(ctx, query, arg).Scan(
		&w.ID, &w.UserID, &w.Currency, &balance, &totalDeposited, &totalSpent,
		&w.RechargeCode, &w.IsActive, &w.LastSequence, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", arg, wallet.ErrWalletNotFound)
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to get wallet: %w", err))
	}
	w.Balance = decimal.RequireFromString(balance)
	w.TotalDeposited = decimal.RequireFromString(totalDeposited)
	w.TotalSpent = decimal.RequireFromString(totalSpent)
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

const entryColumns = `id, wallet_id, sequence, kind, amount::text, currency, balance_before::text,
	balance_after::text, COALESCE(reference_id, ''), COALESCE(reference_type, ''), status,
	COALESCE(description, ''), COALESCE(metadata::text, ''), COALESCE(idempotency_key, ''), created_at`

func (s *Store) ListEntries(ctx context.Context, walletID wallet.WalletID, filter wallet.EntryFilter) (wallet.EntryPage, error) {
	filter = filter.Normalize()
	page := wallet.EntryPage{Page: filter.Page, PageSize: filter.PageSize, Entries: []wallet.LedgerEntry{}}

	if err := s.requireWallet(ctx, walletID); err != nil {
		return page, err
	}

	where, args := entryWhere(walletID, filter)
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE `+where, args...).Scan(&page.Total); err != nil {
		return page, mapError(fmt.Errorf("failed to count entries: %w", err))
	}

	n := len(args)
	args = append(args, filter.PageSize, filter.Offset())
	entries, err := queryEntries(ctx, s.pool, fmt.Sprintf(
		`SELECT %s FROM ledger_entries WHERE %s ORDER BY sequence DESC LIMIT $%d OFFSET $%d`,
		entryColumns, where, n+1, n+2), args...)
	if err != nil {
		return page, err
	}
	if entries != nil {
		page.Entries = entries
	}
	return page, nil
}

func entryWhere(walletID wallet.WalletID, f wallet.EntryFilter) (string, []any) {
	args := []any{string(walletID)}
	clauses := []string{"wallet_id = $1"}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		clauses = append(clauses, "kind = ANY("+next(kinds)+")")
	}
	if f.Status != "" {
		clauses = append(clauses, "status = "+next(string(f.Status)))
	}
	if f.ReferenceID != "" {
		clauses = append(clauses, "reference_id = "+next(f.ReferenceID))
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= "+next(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= "+next(*f.To))
	}
	return strings.Join(clauses, " AND "), args
}

func (s *Store) Entries(ctx context.Context, walletID wallet.WalletID) ([]wallet.LedgerEntry, error) {
	if err := s.requireWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return queryEntries(ctx, s.pool,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE wallet_id = $1 ORDER BY sequence`,
		string(walletID))
}

func (s *Store) FindEntryByIdempotencyKey(ctx context.Context, walletID wallet.WalletID, key string) (*wallet.LedgerEntry, error) {
	entries, err := queryEntries(ctx, s.pool,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE wallet_id = $1 AND idempotency_key = $2`,
		string(walletID), key)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Store) requireWallet(ctx context.Context, walletID wallet.WalletID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM wallets WHERE id = $1)`, string(walletID)).Scan(&exists); err != nil {
		return mapError(fmt.Errorf("failed to check wallet: %w", err))
	}
	if !exists {
		return fmt.Errorf("wallet %s: %w", walletID, wallet.ErrWalletNotFound)
	}
	return nil
}

func queryEntries(ctx context.Context, q queryer, query string, args ...any) ([]wallet.LedgerEntry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query ledger entries: %w", err))
	}
	defer rows.Close()

	var entries []wallet.LedgerEntry
	for rows.Next() {
		var (
			e                           wallet.LedgerEntry
			amount, before, after, meta string
		)
		err := rows.Scan(
			&e.ID, &e.WalletID, &e.Sequence, &e.Kind, &amount, &e.Currency, &before,
			&after, &e.ReferenceID, &e.ReferenceType, &e.Status,
			&e.Description, &meta, &e.IdempotencyKey, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Amount = decimal.RequireFromString(amount)
		e.BalanceBefore = decimal.RequireFromString(before)
		e.BalanceAfter = decimal.RequireFromString(after)
		e.CreatedAt = e.CreatedAt.UTC()
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("entry %s: corrupt metadata: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(tx wallet.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		// SET does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return mapError(fmt.Errorf("failed to set lock timeout: %w", err))
		}
	}

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) InsertWallet(ctx context.Context, w wallet.Wallet) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallets
		(id, user_id, currency, balance, total_deposited, total_spent, recharge_code,
		 is_active, last_sequence, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6::text::numeric, NULLIF($7, ''),
		        $8, $9, $10, $11, $12)`,
		string(w.ID), string(w.UserID), string(w.Currency),
		w.Balance.String(), w.TotalDeposited.String(), w.TotalSpent.String(), w.RechargeCode,
		w.IsActive, w.LastSequence, w.Version, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to insert wallet for user %s: %w", w.UserID, err))
	}
	return nil
}

func (t *txStore) LockWallet(ctx context.Context, id wallet.WalletID) (*wallet.Wallet, error) {
	return getWallet(ctx, t.tx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, string(id))
}

func (t *txStore) UpdateWallet(ctx context.Context, w wallet.Wallet) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets SET
			balance = $1::text::numeric, total_deposited = $2::text::numeric, total_spent = $3::text::numeric,
			recharge_code = NULLIF($4, ''), is_active = $5, last_sequence = $6, version = $7, updated_at = $8
		WHERE id = $9`,
		w.Balance.String(), w.TotalDeposited.String(), w.TotalSpent.String(),
		w.RechargeCode, w.IsActive, w.LastSequence, w.Version, w.UpdatedAt, string(w.ID),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to update wallet %s: %w", w.ID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", w.ID, wallet.ErrWalletNotFound)
	}
	return nil
}

func (t *txStore) InsertRevenue(ctx context.Context, r wallet.PlatformRevenue) error {
	return insertRevenue(ctx, t.tx, r)
}

func (t *txStore) AppendEntry(ctx context.Context, e wallet.LedgerEntry) error {
	var meta *string
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode entry metadata: %w", err)
		}
		s := string(raw)
		meta = &s
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries
		(id, wallet_id, sequence, kind, amount, currency, balance_before, balance_after,
		 reference_id, reference_type, status, description, metadata, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7::text::numeric, $8::text::numeric,
		        NULLIF($9, ''), NULLIF($10, ''), $11, NULLIF($12, ''), $13::text::jsonb, NULLIF($14, ''), $15)`,
		string(e.ID), string(e.WalletID), e.Sequence, string(e.Kind), e.Amount.String(), string(e.Currency),
		e.BalanceBefore.String(), e.BalanceAfter.String(),
		e.ReferenceID, string(e.ReferenceType), string(e.Status), e.Description, meta, e.IdempotencyKey, e.CreatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to append ledger entry: %w", err))
	}
	return nil
}

func (t *txStore) RechargeCodeInUse(ctx context.Context, code string) (bool, error) {
	var inUse bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM wallets WHERE recharge_code = $1)`, code).Scan(&inUse)
	if err != nil {
		return false, mapError(fmt.Errorf("failed to check recharge code: %w", err))
	}
	return inUse, nil
}

// =============================================================================
// PLATFORM REVENUE
// =============================================================================

const revenueColumns = `id, job_id, total_amount::text, fee_percentage::text, fee_amount::text,
	freelancer_amount::text, currency, freelancer_id, COALESCE(employer_id, ''), revenue_type,
	COALESCE(payout_entry_id, ''), created_at`

func (s *Store) SaveRevenue(ctx context.Context, r wallet.PlatformRevenue) error {
	return insertRevenue(ctx, s.pool, r)
}

func insertRevenue(ctx context.Context, q queryer, r wallet.PlatformRevenue) error {
	_, err := q.Exec(ctx, `
		INSERT INTO platform_revenue
		(id, job_id, total_amount, fee_percentage, fee_amount, freelancer_amount, currency,
		 freelancer_id, employer_id, revenue_type, payout_entry_id, created_at)
		VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6::text::numeric, $7,
		        $8, NULLIF($9, ''), $10, NULLIF($11, ''), $12)`,
		r.ID, r.JobID, r.TotalAmount.String(), r.FeePercentage.String(), r.FeeAmount.String(),
		r.FreelancerAmount.String(), string(r.Currency), string(r.FreelancerID), string(r.EmployerID),
		r.RevenueType, string(r.PayoutEntryID), r.CreatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save revenue for job %s: %w", r.JobID, err))
	}
	return nil
}

func (s *Store) GetRevenueByJob(ctx context.Context, jobID string) (*wallet.PlatformRevenue, error) {
	rows, err := s.queryRevenue(ctx, `SELECT `+revenueColumns+` FROM platform_revenue WHERE job_id = $1`, jobID)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (s *Store) ListRevenue(ctx context.Context, f wallet.RevenueFilter) ([]wallet.PlatformRevenue, error) {
	var args []any
	clauses := []string{"TRUE"}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.EmployerID != "" {
		clauses = append(clauses, "employer_id = "+next(string(f.EmployerID)))
	}
	if f.FreelancerID != "" {
		clauses = append(clauses, "freelancer_id = "+next(string(f.FreelancerID)))
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= "+next(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= "+next(*f.To))
	}

	query := `SELECT ` + revenueColumns + ` FROM platform_revenue WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY created_at DESC, job_id`
	if f.Limit > 0 {
		query += " LIMIT " + next(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + next(f.Offset)
	}

	rows, err := s.queryRevenue(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []wallet.PlatformRevenue{}
	}
	return rows, nil
}

func (s *Store) SummarizeRevenue(ctx context.Context) (wallet.RevenueSummary, error) {
	var (
		sum                  wallet.RevenueSummary
		gross, fees, payouts string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_amount), 0)::text,
		       COALESCE(SUM(fee_amount), 0)::text, COALESCE(SUM(freelancer_amount), 0)::text
		FROM platform_revenue`).Scan(&sum.Jobs, &gross, &fees, &payouts)
	if err != nil {
		return sum, mapError(fmt.Errorf("failed to summarize revenue: %w", err))
	}
	sum.Gross = decimal.RequireFromString(gross)
	sum.Fees = decimal.RequireFromString(fees)
	sum.Payouts = decimal.RequireFromString(payouts)
	return sum, nil
}

func (s *Store) queryRevenue(ctx context.Context, query string, args ...any) ([]wallet.PlatformRevenue, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query revenue: %w", err))
	}
	defer rows.Close()

	var out []wallet.PlatformRevenue
	for rows.Next() {
		var (
			r                       wallet.PlatformRevenue
			total, pct, fee, payout string
		)
		err := rows.Scan(&r.ID, &r.JobID, &total, &pct, &fee, &payout, &r.Currency,
			&r.FreelancerID, &r.EmployerID, &r.RevenueType, &r.PayoutEntryID, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revenue: %w", err)
		}
		r.TotalAmount = decimal.RequireFromString(total)
		r.FeePercentage = decimal.RequireFromString(pct)
		r.FeeAmount = decimal.RequireFromString(fee)
		r.FreelancerAmount = decimal.RequireFromString(payout)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "wallets_user_id_key":
			return fmt.Errorf("%w: %v", wallet.ErrWalletExists, err)
		case "ledger_entries_idempotency_idx":
			return fmt.Errorf("%w: %v", wallet.ErrDuplicateEntry, err)
		case "platform_revenue_job_id_key":
			return fmt.Errorf("%w: %v", wallet.ErrAlreadyAllocated, err)
		default:
			return fmt.Errorf("%w: %v", wallet.ErrStorageConflict, err)
		}
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %v", wallet.ErrStorageConflict, err)
	}
	return err
}
