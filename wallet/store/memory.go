// Package store provides the in-memory wallet.Store used by tests and the
// "memory" driver.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/wallet-ledger/wallet"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps committed state in maps guarded by mu. Each wallet also has a
// row lock (a one-slot channel) held by at most one unit of work at a time.
// Writes are buffered in the transaction and applied on commit, so a failed
// unit of work leaves nothing behind.
type Memory struct {
	mu          sync.RWMutex
	wallets     map[wallet.WalletID]wallet.Wallet
	byUser      map[wallet.UserID]wallet.WalletID
	byCode      map[string]wallet.WalletID
	entries     map[wallet.WalletID][]wallet.LedgerEntry
	idempotency map[idemKey]int // index into entries[walletID]
	revenue     map[string]wallet.PlatformRevenue

	locksMu     sync.Mutex
	locks       map[wallet.WalletID]chan struct{}
	lockTimeout time.Duration
}

type idemKey struct {
	WalletID wallet.WalletID
	Key      string
}

type MemoryOption func(*Memory)

// WithLockTimeout bounds how long LockWallet waits. A timed-out wait is
// reported as wallet.ErrStorageConflict. Zero waits for the context only.
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) { m.lockTimeout = d }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		wallets:     make(map[wallet.WalletID]wallet.Wallet),
		byUser:      make(map[wallet.UserID]wallet.WalletID),
		byCode:      make(map[string]wallet.WalletID),
		entries:     make(map[wallet.WalletID][]wallet.LedgerEntry),
		idempotency: make(map[idemKey]int),
		revenue:     make(map[string]wallet.PlatformRevenue),
		locks:       make(map[wallet.WalletID]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ wallet.Store = (*Memory)(nil)

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetWallet(_ context.Context, id wallet.WalletID) (*wallet.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", id, wallet.ErrWalletNotFound)
	}
	return &w, nil
}

func (m *Memory) GetWalletByUser(_ context.Context, userID wallet.UserID) (*wallet.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUser[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, wallet.ErrWalletNotFound)
	}
	w := m.wallets[id]
	return &w, nil
}

func (m *Memory) ListWalletIDs(_ context.Context) ([]wallet.WalletID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]wallet.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		all = append(all, w)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	ids := make([]wallet.WalletID, len(all))
	for i, w := range all {
		ids[i] = w.ID
	}
	return ids, nil
}

func (m *Memory) ListEntries(_ context.Context, walletID wallet.WalletID, filter wallet.EntryFilter) (wallet.EntryPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filter = filter.Normalize()
	page := wallet.EntryPage{Page: filter.Page, PageSize: filter.PageSize}
	if _, ok := m.wallets[walletID]; !ok {
		return page, fmt.Errorf("wallet %s: %w", walletID, wallet.ErrWalletNotFound)
	}

	all := m.entries[walletID]
	var matched []wallet.LedgerEntry
	for i := len(all) - 1; i >= 0; i-- {
		if filter.Matches(all[i]) {
			matched = append(matched, all[i])
		}
	}
	page.Total = len(matched)

	start := filter.Offset()
	if start < 0 || start >= len(matched) {
		page.Entries = []wallet.LedgerEntry{}
		return page, nil
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page.Entries = append([]wallet.LedgerEntry(nil), matched[start:end]...)
	return page, nil
}

func (m *Memory) Entries(_ context.Context, walletID wallet.WalletID) ([]wallet.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.wallets[walletID]; !ok {
		return nil, fmt.Errorf("wallet %s: %w", walletID, wallet.ErrWalletNotFound)
	}
	result := make([]wallet.LedgerEntry, len(m.entries[walletID]))
	copy(result, m.entries[walletID])
	return result, nil
}

func (m *Memory) FindEntryByIdempotencyKey(_ context.Context, walletID wallet.WalletID, key string) (*wallet.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.idempotency[idemKey{WalletID: walletID, Key: key}]
	if !ok {
		return nil, nil
	}
	e := m.entries[walletID][i]
	return &e, nil
}

// =============================================================================
// REVENUE
// =============================================================================

func (m *Memory) SaveRevenue(_ context.Context, r wallet.PlatformRevenue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.revenue[r.JobID]; ok {
		return fmt.Errorf("job %s: %w", r.JobID, wallet.ErrAlreadyAllocated)
	}
	m.revenue[r.JobID] = r
	return nil
}

func (m *Memory) GetRevenueByJob(_ context.Context, jobID string) (*wallet.PlatformRevenue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.revenue[jobID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// ListRevenue returns rows newest first.
func (m *Memory) ListRevenue(_ context.Context, filter wallet.RevenueFilter) ([]wallet.PlatformRevenue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []wallet.PlatformRevenue
	for _, r := range m.revenue {
		if filter.EmployerID != "" && r.EmployerID != filter.EmployerID {
			continue
		}
		if filter.FreelancerID != "" && r.FreelancerID != filter.FreelancerID {
			continue
		}
		if filter.From != nil && r.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.CreatedAt.After(*filter.To) {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].JobID < rows[j].JobID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(rows) {
			return []wallet.PlatformRevenue{}, nil
		}
		rows = rows[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(rows) {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

func (m *Memory) SummarizeRevenue(_ context.Context) (wallet.RevenueSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s wallet.RevenueSummary
	for _, r := range m.revenue {
		s.Jobs++
		s.Gross = s.Gross.Add(r.TotalAmount)
		s.Fees = s.Fees.Add(r.FeeAmount)
		s.Payouts = s.Payouts.Add(r.FreelancerAmount)
	}
	return s, nil
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn within a transaction. Writes are buffered and applied
// atomically when fn returns nil; row locks are released either way.
func (m *Memory) WithTx(ctx context.Context, fn func(tx wallet.Tx) error) error {
	tx := &memTx{
		m:        m,
		held:     make(map[wallet.WalletID]bool),
		inserted: make(map[wallet.WalletID]bool),
		pending:  make(map[wallet.WalletID]wallet.Wallet),
		keys:     make(map[idemKey]bool),
	}
	defer tx.release()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *Memory) rowLock(id wallet.WalletID) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	ch, ok := m.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[id] = ch
	}
	return ch
}

func (m *Memory) acquire(ctx context.Context, id wallet.WalletID) error {
	var timeout <-chan time.Time
	if m.lockTimeout > 0 {
		t := time.NewTimer(m.lockTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case m.rowLock(id) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("lock wallet %s: timed out: %w", id, wallet.ErrStorageConflict)
	}
}

func (m *Memory) releaseLock(id wallet.WalletID) {
	<-m.rowLock(id)
}

type memTx struct {
	m        *Memory
	held     map[wallet.WalletID]bool
	inserted map[wallet.WalletID]bool
	pending  map[wallet.WalletID]wallet.Wallet
	entries  []wallet.LedgerEntry
	keys     map[idemKey]bool
	revenue  []wallet.PlatformRevenue
}

func (tx *memTx) release() {
	for id := range tx.held {
		tx.m.releaseLock(id)
	}
	tx.held = nil
}

func (tx *memTx) InsertWallet(_ context.Context, w wallet.Wallet) error {
	tx.m.mu.RLock()
	_, taken := tx.m.byUser[w.UserID]
	_, exists := tx.m.wallets[w.ID]
	tx.m.mu.RUnlock()

	if taken {
		return fmt.Errorf("user %s: %w", w.UserID, wallet.ErrWalletExists)
	}
	if exists {
		return fmt.Errorf("wallet %s: id already used: %w", w.ID, wallet.ErrStorageConflict)
	}
	for _, p := range tx.pending {
		if p.UserID == w.UserID {
			return fmt.Errorf("user %s: %w", w.UserID, wallet.ErrWalletExists)
		}
	}
	tx.inserted[w.ID] = true
	tx.pending[w.ID] = w
	return nil
}

func (tx *memTx) LockWallet(ctx context.Context, id wallet.WalletID) (*wallet.Wallet, error) {
	if w, ok := tx.pending[id]; ok {
		return &w, nil
	}
	if !tx.held[id] {
		if err := tx.m.acquire(ctx, id); err != nil {
			return nil, err
		}
		tx.held[id] = true
	}

	tx.m.mu.RLock()
	w, ok := tx.m.wallets[id]
	tx.m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", id, wallet.ErrWalletNotFound)
	}
	return &w, nil
}

func (tx *memTx) UpdateWallet(_ context.Context, w wallet.Wallet) error {
	if !tx.held[w.ID] && !tx.inserted[w.ID] {
		return fmt.Errorf("update wallet %s: not locked in this transaction", w.ID)
	}
	tx.pending[w.ID] = w
	return nil
}

func (tx *memTx) AppendEntry(_ context.Context, e wallet.LedgerEntry) error {
	if !tx.held[e.WalletID] && !tx.inserted[e.WalletID] {
		return fmt.Errorf("append entry to wallet %s: not locked in this transaction", e.WalletID)
	}

	k := idemKey{WalletID: e.WalletID, Key: e.IdempotencyKey}
	tx.m.mu.RLock()
	committed := len(tx.m.entries[e.WalletID])
	_, dup := tx.m.idempotency[k]
	tx.m.mu.RUnlock()

	if e.IdempotencyKey != "" && (dup || tx.keys[k]) {
		return fmt.Errorf("wallet %s key %q: %w", e.WalletID, e.IdempotencyKey, wallet.ErrDuplicateEntry)
	}

	next := int64(committed + 1)
	for _, p := range tx.entries {
		if p.WalletID == e.WalletID {
			next++
		}
	}
	if e.Sequence != next {
		return fmt.Errorf("wallet %s: sequence %d, expected %d: %w", e.WalletID, e.Sequence, next, wallet.ErrStorageConflict)
	}

	if e.IdempotencyKey != "" {
		tx.keys[k] = true
	}
	tx.entries = append(tx.entries, e)
	return nil
}

func (tx *memTx) RechargeCodeInUse(_ context.Context, code string) (bool, error) {
	for _, p := range tx.pending {
		if p.RechargeCode == code {
			return true, nil
		}
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	_, ok := tx.m.byCode[code]
	return ok, nil
}

func (tx *memTx) InsertRevenue(_ context.Context, r wallet.PlatformRevenue) error {
	for _, p := range tx.revenue {
		if p.JobID == r.JobID {
			return fmt.Errorf("job %s: %w", r.JobID, wallet.ErrAlreadyAllocated)
		}
	}
	tx.m.mu.RLock()
	_, taken := tx.m.revenue[r.JobID]
	tx.m.mu.RUnlock()
	if taken {
		return fmt.Errorf("job %s: %w", r.JobID, wallet.ErrAlreadyAllocated)
	}
	tx.revenue = append(tx.revenue, r)
	return nil
}

// commit re-checks the constraints another unit of work may have claimed
// since the buffered write, then applies everything under one lock.
func (tx *memTx) commit() error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, w := range tx.pending {
		if tx.inserted[id] {
			if _, taken := m.byUser[w.UserID]; taken {
				return fmt.Errorf("user %s: %w", w.UserID, wallet.ErrWalletExists)
			}
		}
		if w.RechargeCode != "" {
			if owner, ok := m.byCode[w.RechargeCode]; ok && owner != id {
				return fmt.Errorf("recharge code collision: %w", wallet.ErrStorageConflict)
			}
		}
	}
	for _, e := range tx.entries {
		k := idemKey{WalletID: e.WalletID, Key: e.IdempotencyKey}
		if _, dup := m.idempotency[k]; e.IdempotencyKey != "" && dup {
			return fmt.Errorf("wallet %s key %q: %w", e.WalletID, e.IdempotencyKey, wallet.ErrDuplicateEntry)
		}
	}
	for _, r := range tx.revenue {
		if _, taken := m.revenue[r.JobID]; taken {
			return fmt.Errorf("job %s: %w", r.JobID, wallet.ErrAlreadyAllocated)
		}
	}

	for id, w := range tx.pending {
		if old, ok := m.wallets[id]; ok && old.RechargeCode != "" && old.RechargeCode != w.RechargeCode {
			delete(m.byCode, old.RechargeCode)
		}
		m.wallets[id] = w
		m.byUser[w.UserID] = id
		if w.RechargeCode != "" {
			m.byCode[w.RechargeCode] = id
		}
	}
	for _, e := range tx.entries {
		m.entries[e.WalletID] = append(m.entries[e.WalletID], e)
		if e.IdempotencyKey != "" {
			m.idempotency[idemKey{WalletID: e.WalletID, Key: e.IdempotencyKey}] = len(m.entries[e.WalletID]) - 1
		}
	}
	for _, r := range tx.revenue {
		m.revenue[r.JobID] = r
	}
	return nil
}
