/*
Package recharge turns a paid recharge code into a wallet deposit.

FLOW (Redeem):
  1. trim the presented code, resolve the caller's wallet
  2. compare with the wallet's current code       -> ErrCodeMismatch
  3. ask the payment gateway how much was paid    -> ErrGatewayRejected
  4. one Mutator unit of work:
       Guard: the code still matches under the row lock
       entry: DEPOSIT {recharge_code, code}
       Amend: rotate the wallet's code

  No lock is held during (3). Two concurrent redemptions of the same code
  both reach (4); the first one rotates the code, so the second fails its
  Guard with ErrCodeMismatch and nothing is credited twice.
*/
package recharge

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/wallet-ledger/metrics"
	"github.com/warp/wallet-ledger/wallet"
)

type Reconciler struct {
	service *wallet.Service
	mutator *wallet.Mutator
	gateway Gateway
	logger  *zap.Logger
}

func NewReconciler(service *wallet.Service, gateway Gateway, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		service: service,
		mutator: service.Mutator(),
		gateway: gateway,
		logger:  logger,
	}
}

// Code returns the user's current recharge code, issuing one when the
// wallet has none yet.
func (r *Reconciler) Code(ctx context.Context, userID wallet.UserID) (string, error) {
	w, err := r.service.EnsureWallet(ctx, userID)
	if err != nil {
		return "", err
	}
	if w.RechargeCode != "" {
		return w.RechargeCode, nil
	}

	updated, err := r.mutator.Amend(ctx, w.ID, r.mutator.EnsureCode)
	if err != nil {
		return "", fmt.Errorf("issue recharge code: %w", err)
	}
	r.logger.Info("recharge code issued",
		zap.String("user_id", string(userID)),
		zap.String("wallet_id", string(w.ID)))
	return updated.RechargeCode, nil
}

// Redeem credits the amount the gateway reports for code.
func (r *Reconciler) Redeem(ctx context.Context, userID wallet.UserID, code string) (*wallet.Result, error) {
	res, err := r.redeem(ctx, userID, strings.TrimSpace(code))
	metrics.Redemptions.WithLabelValues(redemptionResult(err)).Inc()
	return res, err
}

func (r *Reconciler) redeem(ctx context.Context, userID wallet.UserID, code string) (*wallet.Result, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", wallet.ErrCodeMismatch)
	}

	w, err := r.service.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !w.IsActive {
		return nil, fmt.Errorf("wallet %s: %w", w.ID, wallet.ErrWalletInactive)
	}
	if !codeMatches(w.RechargeCode, code) {
		return nil, wallet.ErrCodeMismatch
	}

	amount, err := r.gateway.Lookup(ctx, code)
	if err != nil {
		r.logger.Warn("payment gateway lookup failed",
			zap.String("user_id", string(userID)),
			zap.String("wallet_id", string(w.ID)),
			zap.Error(err))
		return nil, err
	}

	res, err := r.mutator.Apply(ctx, wallet.Mutation{
		WalletID:    w.ID,
		Kind:        wallet.KindDeposit,
		Amount:      amount,
		Reference:   wallet.Reference{ID: code, Type: wallet.RefRechargeCode},
		Description: "wallet recharge",
		Guard: func(locked *wallet.Wallet) error {
			if !codeMatches(locked.RechargeCode, code) {
				return fmt.Errorf("%w: code already redeemed", wallet.ErrCodeMismatch)
			}
			return nil
		},
		Amend: r.mutator.RotateCode,
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("recharge code redeemed",
		zap.String("user_id", string(userID)),
		zap.String("wallet_id", string(w.ID)),
		zap.String("amount", wallet.FormatMoney(amount)))
	return res, nil
}

func codeMatches(current, presented string) bool {
	return current != "" && subtle.ConstantTimeCompare([]byte(current), []byte(presented)) == 1
}

func redemptionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, wallet.ErrCodeMismatch):
		return "code_mismatch"
	case errors.Is(err, wallet.ErrGatewayRejected):
		return "gateway_rejected"
	case errors.Is(err, wallet.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, wallet.ErrWalletInactive):
		return "inactive"
	default:
		return "error"
	}
}
