package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"mailrails/internal/escrowid"
)

var (
	// Validation errors: raised before any network call, never retried.
	ErrZeroAmount     = errors.New("amount must be positive")
	ErrAmountOverflow = errors.New("amount exceeds 96 bits")
	ErrExpiryOverflow = errors.New("expiry exceeds 40 bits")
	ErrExpiryPast     = errors.New("expiry is not in the future")

	ErrInvalidTransferID = errors.New("invalid transfer id")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidEmail      = errors.New("recipient email is required")

	// Contract state errors.
	ErrTransferExists     = errors.New("transfer already exists")
	ErrTransferNotFound   = errors.New("transfer not found")
	ErrTransferNotPending = errors.New("transfer is not pending")
	ErrRecipientMismatch  = errors.New("recipient commitment mismatch")
	ErrNotExpired         = errors.New("transfer has not expired")
	ErrPaused             = errors.New("escrow is paused")
	ErrNotAuthorized      = errors.New("caller is not an authorized operator")
	ErrInsufficientFunds  = errors.New("insufficient funding balance")

	// Façade dispatch errors.
	ErrUnsupportedChain  = errors.New("unsupported chain")
	ErrDriverUnavailable = errors.New("escrow driver unavailable in this context")
)

// validateRange checks amount and expiry against the contract's bit widths.
// Shared by the driver, the mock and the reference contract so the three
// reject identically.
func validateRange(amount *big.Int, expiry uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if amount.Cmp(escrowid.MaxAmount) > 0 {
		return fmt.Errorf("%w: %s", ErrAmountOverflow, amount)
	}
	if expiry > escrowid.MaxExpiry {
		return fmt.Errorf("%w: %d", ErrExpiryOverflow, expiry)
	}
	return nil
}
