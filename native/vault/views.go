package vault

import (
	"math/big"

	"elastivault/crypto"
)

// PreviewDeposit returns the token balance a deposit of the given amount
// would mint and the rate a brand-new depositor would lock in. No state is
// changed.
func (e *Engine) PreviewDeposit(amount *big.Int) (*big.Int, uint64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, 0, ErrAmountZero
	}
	rate, err := e.CurrentInterestRate()
	if err != nil {
		return nil, 0, err
	}
	return new(big.Int).Set(amount), rate, nil
}

// PreviewRedeem returns the base-asset payout for redeeming tokenAmount.
func (e *Engine) PreviewRedeem(tokenAmount *big.Int) (*big.Int, error) {
	if tokenAmount == nil || tokenAmount.Sign() <= 0 {
		return nil, ErrNoTokensToRedeem
	}
	return new(big.Int).Set(tokenAmount), nil
}

// EstimateInterest projects the holder's linear interest over the given
// horizon in days: balance * lockedRate * days / 10000 / 365.
func (e *Engine) EstimateInterest(addr crypto.Address, daysHorizon uint64) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	user, err := e.ensureUserAccount(addr)
	if err != nil {
		return nil, err
	}
	balance := e.ledger.BalanceOf(addr)
	projected := new(big.Int).Mul(balance, new(big.Int).SetUint64(user.RateBps))
	projected.Mul(projected, new(big.Int).SetUint64(daysHorizon))
	projected.Quo(projected, basisPoints)
	projected.Quo(projected, big.NewInt(365))
	return projected, nil
}

// GetUserInfo returns the holder's shares, derived balance, locked rate,
// recorded principal and the vault's last accrual timestamp (zero when no
// accrual has run).
func (e *Engine) GetUserInfo(addr crypto.Address) (*UserInfo, error) {
	if e.state == nil {
		return nil, errNilState
	}
	meta, err := e.ensureMeta()
	if err != nil {
		return nil, err
	}
	user, err := e.ensureUserAccount(addr)
	if err != nil {
		return nil, err
	}
	return &UserInfo{
		Shares:          e.ledger.SharesOf(addr),
		Balance:         e.ledger.BalanceOf(addr),
		RateBps:         user.RateBps,
		Deposited:       new(big.Int).Set(user.Deposited),
		LastAccrualTime: meta.LastAppliedAt,
	}, nil
}

// TotalDeposited returns the base-asset principal currently held.
func (e *Engine) TotalDeposited() (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	meta, err := e.ensureMeta()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(meta.TotalDeposited), nil
}
