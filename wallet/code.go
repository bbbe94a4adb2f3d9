package wallet

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/warp/wallet-ledger/metrics"
)

// CodeAlphabet has 32 symbols so a random byte maps onto it without bias.
// 0/O and 1/I are left out because users type these codes.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength gives 60 bits of entropy.
const CodeLength = 12

const maxCodeAttempts = 5

// CodeSource produces candidate recharge codes.
type CodeSource func() (string, error)

// RandomCode draws a code from crypto/rand.
func RandomCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = CodeAlphabet[int(b)&(len(CodeAlphabet)-1)]
	}
	return string(buf), nil
}

// RotateCode assigns w a fresh recharge code that no wallet currently holds.
// It has the AmendFunc signature so it can run inside a mutation.
func (m *Mutator) RotateCode(ctx context.Context, tx Tx, w *Wallet) error {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := m.codes()
		if err != nil {
			return err
		}
		if code == w.RechargeCode {
			metrics.RechargeCodeCollisions.Inc()
			continue
		}
		inUse, err := tx.RechargeCodeInUse(ctx, code)
		if err != nil {
			return err
		}
		if inUse {
			metrics.RechargeCodeCollisions.Inc()
			continue
		}
		w.RechargeCode = code
		return nil
	}
	return ErrCodeSpaceExhausted
}

// EnsureCode issues a code only when the wallet has none.
func (m *Mutator) EnsureCode(ctx context.Context, tx Tx, w *Wallet) error {
	if w.RechargeCode != "" {
		return nil
	}
	return m.RotateCode(ctx, tx, w)
}
