package wallet

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// AuditReport is the result of replaying one wallet's ledger.
type AuditReport struct {
	WalletID  WalletID
	UserID    UserID
	Balance   decimal.Decimal
	LedgerSum decimal.Decimal
	Entries   int
	Problems  []string
}

func (r *AuditReport) OK() bool {
	return len(r.Problems) == 0
}

// Auditor replays ledgers against wallet snapshots. It only reads.
type Auditor struct {
	store Store
}

func NewAuditor(store Store) *Auditor {
	return &Auditor{store: store}
}

const auditSnapshotAttempts = 3

// Verify checks one wallet. History is read before the snapshot, so a
// mutation committing between the two reads shows up as a snapshot ahead of
// the history; that case is re-read rather than reported.
func (a *Auditor) Verify(ctx context.Context, walletID WalletID) (*AuditReport, error) {
	for attempt := 0; attempt < auditSnapshotAttempts; attempt++ {
		entries, err := a.store.Entries(ctx, walletID)
		if err != nil {
			return nil, err
		}
		w, err := a.store.GetWallet(ctx, walletID)
		if err != nil {
			return nil, err
		}
		var last int64
		if n := len(entries); n > 0 {
			last = entries[n-1].Sequence
		}
		if w.LastSequence > last {
			continue
		}
		report := CheckLedger(*w, entries)
		return &report, nil
	}
	return nil, fmt.Errorf("audit wallet %s: history kept moving: %w", walletID, ErrStorageConflict)
}

// VerifyAll audits every wallet and returns one report per wallet.
func (a *Auditor) VerifyAll(ctx context.Context) ([]AuditReport, error) {
	ids, err := a.store.ListWalletIDs(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]AuditReport, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := a.Verify(ctx, id)
		if err != nil {
			return reports, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

// CheckLedger compares a wallet snapshot against its full history, which
// must be ordered by sequence.
func CheckLedger(w Wallet, entries []LedgerEntry) AuditReport {
	report := AuditReport{
		WalletID: w.ID,
		UserID:   w.UserID,
		Balance:  w.Balance,
		Entries:  len(entries),
	}
	problem := func(format string, args ...any) {
		report.Problems = append(report.Problems, fmt.Sprintf(format, args...))
	}

	running := decimal.Zero
	sum := decimal.Zero
	for i, e := range entries {
		if want := int64(i + 1); e.Sequence != want {
			problem("entry %s: sequence %d, expected %d", e.ID, e.Sequence, want)
		}
		if e.WalletID != w.ID {
			problem("entry %s belongs to wallet %s", e.ID, e.WalletID)
		}
		if !e.Amount.IsPositive() {
			problem("entry %s: non-positive amount %s", e.ID, e.Amount.String())
		}
		if !e.BalanceBefore.Equal(running) {
			problem("entry %d: balance_before %s does not continue from %s",
				e.Sequence, FormatMoney(e.BalanceBefore), FormatMoney(running))
		}
		if want := e.BalanceBefore.Add(e.SignedAmount()); !e.BalanceAfter.Equal(want) {
			problem("entry %d: balance_after %s, expected %s",
				e.Sequence, FormatMoney(e.BalanceAfter), FormatMoney(want))
		}
		if e.BalanceAfter.IsNegative() {
			problem("entry %d: negative balance_after %s", e.Sequence, FormatMoney(e.BalanceAfter))
		}
		running = e.BalanceAfter
		sum = sum.Add(e.SignedAmount())
	}
	report.LedgerSum = sum

	if w.Balance.IsNegative() {
		problem("negative balance %s", FormatMoney(w.Balance))
	}
	if !sum.Equal(w.Balance) {
		problem("balance %s does not match ledger sum %s", FormatMoney(w.Balance), FormatMoney(sum))
	}
	if len(entries) > 0 && !running.Equal(w.Balance) {
		problem("last balance_after %s does not match balance %s", FormatMoney(running), FormatMoney(w.Balance))
	}
	if w.LastSequence != int64(len(entries)) {
		problem("last_sequence %d but %d entries", w.LastSequence, len(entries))
	}
	return report
}
