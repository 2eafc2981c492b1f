package vault

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	errNilState    = errors.New("vault engine: state not configured")
	errNilTreasury = errors.New("vault engine: treasury not configured")

	// ErrAmountZero indicates a nil, zero or negative amount argument.
	ErrAmountZero = errors.New("vault engine: amount must be positive")
	// ErrZeroAddress indicates a zero address where a real account is required.
	ErrZeroAddress = errors.New("vault engine: zero address not allowed")
	// ErrInvalidAccrualPeriod indicates an accrual period outside [1h, 7d].
	ErrInvalidAccrualPeriod = errors.New("vault engine: accrual period out of bounds")
	// ErrInvalidAccrualCap indicates a per-period accrual cap above 100%.
	ErrInvalidAccrualCap = errors.New("vault engine: accrual cap above 100%")
	// ErrInvalidFeeConfig indicates a fee above 100% or a missing recipient.
	ErrInvalidFeeConfig = errors.New("vault engine: invalid fee configuration")
	// ErrInvalidRateCurve indicates inconsistent rate curve parameters.
	ErrInvalidRateCurve = errors.New("vault engine: invalid rate curve")

	// ErrNotAllowlisted indicates the depositor is absent from an enabled allowlist.
	ErrNotAllowlisted = errors.New("vault engine: depositor not allowlisted")
	// ErrInsufficientDeposit indicates a zero-value deposit.
	ErrInsufficientDeposit = errors.New("vault engine: insufficient deposit")
	// ErrNoTokensToRedeem indicates a zero-value redemption request.
	ErrNoTokensToRedeem = errors.New("vault engine: no tokens to redeem")

	// ErrDepositsPaused indicates the deposit flow is halted.
	ErrDepositsPaused = errors.New("vault engine: deposits are paused")
	// ErrRedeemsPaused indicates the redeem flow is halted.
	ErrRedeemsPaused = errors.New("vault engine: redeems are paused")

	// ErrMinDepositNotMet is the matchable cause carried by MinDepositError.
	ErrMinDepositNotMet = errors.New("vault engine: minimum deposit not met")
	// ErrDepositCapExceeded is the matchable cause carried by DepositCapError.
	ErrDepositCapExceeded = errors.New("vault engine: per-user deposit cap exceeded")
	// ErrTvlCapExceeded is the matchable cause carried by TvlCapError.
	ErrTvlCapExceeded = errors.New("vault engine: global tvl cap exceeded")
	// ErrSlippageTooHigh is the matchable cause carried by SlippageError.
	ErrSlippageTooHigh = errors.New("vault engine: slippage tolerance exceeded")

	// ErrTokenNotSweepable indicates an attempt to sweep the vault's own token.
	ErrTokenNotSweepable = errors.New("vault engine: token not sweepable")
	// ErrTransferFailed indicates the base-asset payout could not be completed.
	ErrTransferFailed = errors.New("vault engine: transfer failed")
	// ErrReentrantCall indicates a recovery operation re-entered the engine.
	ErrReentrantCall = errors.New("vault engine: reentrant call")

	// ErrOnlyOwner indicates a caller other than the owner used an owner-gated entry.
	ErrOnlyOwner = errors.New("vault engine: caller is not the owner")
	// ErrOnlyGovernance indicates a caller outside {owner, governance} used a setter.
	ErrOnlyGovernance = errors.New("vault engine: caller is not owner or governance")
	// ErrUnauthorizedBridge indicates a bridge mint/burn from a non-bridge caller.
	ErrUnauthorizedBridge = errors.New("vault engine: caller is not the bridge")
)

// MinDepositError reports a deposit below the configured minimum together
// with the attempted and required amounts.
type MinDepositError struct {
	Amount  *big.Int
	Minimum *big.Int
}

func (e *MinDepositError) Error() string {
	return fmt.Sprintf("vault engine: deposit %s below minimum %s", e.Amount, e.Minimum)
}

func (e *MinDepositError) Unwrap() error { return ErrMinDepositNotMet }

// DepositCapError reports a deposit that would push the user's cumulative
// principal over the per-user cap.
type DepositCapError struct {
	NewTotal *big.Int
	Cap      *big.Int
}

func (e *DepositCapError) Error() string {
	return fmt.Sprintf("vault engine: deposit total %s exceeds per-user cap %s", e.NewTotal, e.Cap)
}

func (e *DepositCapError) Unwrap() error { return ErrDepositCapExceeded }

// TvlCapError reports a deposit that would push the vault's total value
// locked over the global cap.
type TvlCapError struct {
	NewTotal *big.Int
	Cap      *big.Int
}

func (e *TvlCapError) Error() string {
	return fmt.Sprintf("vault engine: tvl %s exceeds global cap %s", e.NewTotal, e.Cap)
}

func (e *TvlCapError) Unwrap() error { return ErrTvlCapExceeded }

// SlippageError reports a redemption whose payout fell below the caller's
// stated minimum.
type SlippageError struct {
	Out    *big.Int
	MinOut *big.Int
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("vault engine: payout %s below minimum %s", e.Out, e.MinOut)
}

func (e *SlippageError) Unwrap() error { return ErrSlippageTooHigh }
