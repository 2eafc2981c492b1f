package vault

import (
	"math/big"
	"time"

	"elastivault/crypto"
)

const (
	minAccrualPeriod = time.Hour
	maxAccrualPeriod = 7 * 24 * time.Hour

	maxBps = 10_000

	secondsPerYear = 365 * 24 * 60 * 60
)

// RateCurve defines the deposit-size-dependent interest rate assigned to new
// depositors: the rate starts at BaseRateBps and steps down by RateStepBps
// for every TierSize of cumulative deposits, floored at MinRateBps.
type RateCurve struct {
	BaseRateBps uint64
	RateStepBps uint64
	MinRateBps  uint64
	// TierSize is the deposit volume that triggers one rate step, in wei.
	TierSize *big.Int
}

// DefaultRateCurve starts at 10%, steps down 1% per 10 ETH deposited and
// floors at 2%.
func DefaultRateCurve() RateCurve {
	return RateCurve{
		BaseRateBps: 1000,
		RateStepBps: 100,
		MinRateBps:  200,
		TierSize:    new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000)),
	}
}

// Validate checks internal consistency of the curve parameters.
func (c RateCurve) Validate() error {
	if c.BaseRateBps == 0 || c.BaseRateBps > maxBps {
		return ErrInvalidRateCurve
	}
	if c.MinRateBps > c.BaseRateBps {
		return ErrInvalidRateCurve
	}
	if c.TierSize == nil || c.TierSize.Sign() <= 0 {
		return ErrInvalidRateCurve
	}
	return nil
}

// RateFor returns the rate a new depositor would lock in at the given
// cumulative deposit level. Pure: it never reads engine state.
func (c RateCurve) RateFor(totalDeposited *big.Int) uint64 {
	if totalDeposited == nil || totalDeposited.Sign() <= 0 || c.TierSize == nil || c.TierSize.Sign() == 0 {
		return c.BaseRateBps
	}
	if c.RateStepBps == 0 {
		return c.BaseRateBps
	}
	tiers := new(big.Int).Quo(totalDeposited, c.TierSize)
	// Past this tier count the curve has already hit its floor; checking it
	// first keeps the reduction product inside uint64.
	maxTiers := (c.BaseRateBps - c.MinRateBps) / c.RateStepBps
	if !tiers.IsUint64() || tiers.Uint64() > maxTiers {
		return c.MinRateBps
	}
	reduction := tiers.Uint64() * c.RateStepBps
	if reduction >= c.BaseRateBps || c.BaseRateBps-reduction < c.MinRateBps {
		return c.MinRateBps
	}
	return c.BaseRateBps - reduction
}

// Clone returns a deep copy of the curve.
func (c RateCurve) Clone() RateCurve {
	clone := c
	if c.TierSize != nil {
		clone.TierSize = new(big.Int).Set(c.TierSize)
	}
	return clone
}

// AccrualConfig bounds how often and how aggressively the supply may grow.
type AccrualConfig struct {
	// Period is the minimum time between accruals, within [1 hour, 7 days].
	Period time.Duration
	// DailyCapBps caps the supply added per accrual, in basis points of the
	// pre-accrual supply.
	DailyCapBps uint64
}

// Validate enforces the period bounds and the bps ceiling.
func (c AccrualConfig) Validate() error {
	if c.Period < minAccrualPeriod || c.Period > maxAccrualPeriod {
		return ErrInvalidAccrualPeriod
	}
	if c.DailyCapBps > maxBps {
		return ErrInvalidAccrualCap
	}
	return nil
}

// FeeConfig routes a slice of each accrual to the protocol.
type FeeConfig struct {
	Recipient crypto.Address
	FeeBps    uint64
}

// Validate rejects fees above 100% and fee splits without a recipient.
func (c FeeConfig) Validate() error {
	if c.FeeBps > maxBps {
		return ErrInvalidFeeConfig
	}
	if c.FeeBps > 0 && c.Recipient.IsZero() {
		return ErrInvalidFeeConfig
	}
	return nil
}
