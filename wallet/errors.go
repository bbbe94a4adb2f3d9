/*
errors.go - Error taxonomy for the wallet ledger

ERROR CATEGORIES:
  1. Domain errors - returned to the caller as-is, never retried
     (not found, inactive, insufficient funds, code mismatch, ...)
  2. Gateway errors - the payment gateway refused or timed out
  3. Storage conflicts - lock contention or serialization failures,
     retried a bounded number of times by the Mutator

USAGE:
  if errors.Is(err, wallet.ErrInsufficientFunds) {
      var ife *wallet.InsufficientFundsError
      if errors.As(err, &ife) { ... ife.Shortfall ... }
  }

SEE ALSO:
  - mutator.go: retry loop keyed on IsRetryable
  - api/handlers.go: HTTP status mapping
*/
package wallet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrWalletInactive = errors.New("wallet is inactive")

	// ErrWalletExists is returned when a user already owns a wallet.
	ErrWalletExists = errors.New("wallet already exists for user")

	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrCodeMismatch covers empty, unknown and already-redeemed recharge codes.
	ErrCodeMismatch = errors.New("recharge code mismatch")

	// ErrGatewayRejected is returned for any non-success gateway answer,
	// including transport failures and timeouts.
	ErrGatewayRejected = errors.New("payment gateway rejected request")

	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCurrency  = errors.New("invalid currency")
	ErrInvalidKind      = errors.New("invalid entry kind")
	ErrInvalidUser      = errors.New("invalid user id")
	ErrInvalidReference = errors.New("invalid reference")

	// ErrStorageConflict signals lock contention or a serialization failure.
	// It is the only error the Mutator retries.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrDuplicateEntry is returned when an idempotency key was already used
	// on the same wallet.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	ErrAlreadyAllocated = errors.New("job revenue already allocated")

	// ErrCodeSpaceExhausted is returned when no unused recharge code could be
	// generated within the attempt budget.
	ErrCodeSpaceExhausted = errors.New("could not generate unique recharge code")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientFundsError details a rejected debit.
type InsufficientFundsError struct {
	WalletID  WalletID
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in wallet %s: available %s, requested %s, shortfall %s",
		e.WalletID, FormatMoney(e.Available), FormatMoney(e.Requested), FormatMoney(e.Shortfall))
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// GatewayError describes a failed payment gateway lookup.
type GatewayError struct {
	HTTPStatus int    // 0 when the request never got a response
	Status     string // "status" field of the gateway body, if any
	Err        error
}

func (e *GatewayError) Error() string {
	msg := "payment gateway rejected request"
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" (http %d)", e.HTTPStatus)
	}
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %q)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrGatewayRejected) true while Unwrap still
// exposes the transport cause (context.DeadlineExceeded, ...).
func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayRejected
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageConflict)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrCodeMismatch) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidCurrency) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidUser) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrWalletInactive) ||
		errors.Is(err, ErrWalletExists) ||
		errors.Is(err, ErrDuplicateEntry) ||
		errors.Is(err, ErrAlreadyAllocated)
}

// IsNotFound returns true if the error indicates a missing wallet.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWalletNotFound)
}
