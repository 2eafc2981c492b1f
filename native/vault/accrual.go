package vault

import (
	"math/big"
	"time"
)

// AccrualResult reports what a completed accrual did. Applied is false when
// the call was a no-op because the period had not elapsed.
type AccrualResult struct {
	Applied     bool
	Minted      *big.Int
	FeeMinted   *big.Int
	CapClamped  bool
	RateBpsUsed uint64
	AccruedAt   int64
}

// CurrentInterestRate returns the rate a new depositor would lock in right
// now. Pure read of the curve against the cumulative deposit total.
func (e *Engine) CurrentInterestRate() (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	meta, err := e.ensureMeta()
	if err != nil {
		return 0, err
	}
	return e.curve.RateFor(meta.TotalDeposited), nil
}

// BlendedRate returns the deposit-weighted mean of all locked rates, in
// basis points. With no deposits outstanding it falls back to the curve rate.
func (e *Engine) BlendedRate() (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	meta, err := e.ensureMeta()
	if err != nil {
		return 0, err
	}
	return e.blendedRate(meta), nil
}

func (e *Engine) blendedRate(meta *Meta) uint64 {
	if meta.TotalDeposited.Sign() == 0 {
		return e.curve.RateFor(meta.TotalDeposited)
	}
	blended := new(big.Int).Quo(meta.WeightedRateSum, meta.TotalDeposited)
	if !blended.IsUint64() {
		return e.curve.BaseRateBps
	}
	return blended.Uint64()
}

// AccrualPeriod returns the configured minimum time between accruals.
func (e *Engine) AccrualPeriod() time.Duration { return e.accrual.Period }

// NextAccrualAt returns the unix timestamp after which the next accrual is due.
func (e *Engine) NextAccrualAt() (int64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	meta, err := e.ensureMeta()
	if err != nil {
		return 0, err
	}
	return meta.LastAccrualTime + int64(e.accrual.Period/time.Second), nil
}

// CheckDue reports whether a full accrual period has elapsed since the last
// accrual.
func (e *Engine) CheckDue() (bool, error) {
	if e.state == nil {
		return false, errNilState
	}
	meta, err := e.ensureMeta()
	if err != nil {
		return false, err
	}
	return e.dueAt(meta, e.now()), nil
}

func (e *Engine) dueAt(meta *Meta, now time.Time) bool {
	return !now.Before(time.Unix(meta.LastAccrualTime, 0).Add(e.accrual.Period))
}

// CheckUpkeep is the automation-facing due probe. Equivalent to CheckDue.
func (e *Engine) CheckUpkeep() (bool, error) {
	return e.CheckDue()
}

// PerformUpkeep runs an accrual if one is due. Callable by anyone and safe to
// call redundantly; a second call within the same period is a no-op success.
func (e *Engine) PerformUpkeep() (*AccrualResult, error) {
	return e.AccrueInterest()
}

// AccrueInterest advances the accrual cycle. When due it mints the protocol
// fee to the fee recipient and rebases the remainder onto all holders, with
// the whole increase clamped by the per-period circuit breaker. The accrual
// timestamp always advances when due, even if the cap bound the amount.
func (e *Engine) AccrueInterest() (*AccrualResult, error) {
	if e.state == nil {
		return nil, errNilState
	}
	meta, err := e.ensureMeta()
	if err != nil {
		return nil, err
	}

	now := e.now()
	if !e.dueAt(meta, now) {
		return &AccrualResult{Applied: false}, nil
	}

	supply := e.ledger.TotalSupply()
	if supply.Sign() == 0 {
		// Nothing to grow; the period still elapsed.
		meta.LastAccrualTime = now.Unix()
		if err := e.state.PutMeta(meta); err != nil {
			return nil, err
		}
		return &AccrualResult{Applied: false}, nil
	}

	rateBps := e.blendedRate(meta)
	elapsed := now.Unix() - meta.LastAccrualTime

	// target = supply * rate * elapsed / (10000 * secondsPerYear), floored.
	target := new(big.Int).Mul(supply, new(big.Int).SetUint64(rateBps))
	target.Mul(target, big.NewInt(elapsed))
	target.Quo(target, new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear)))

	// Circuit breaker: never add more than DailyCapBps of the pre-accrual
	// supply in one period, regardless of the nominal target.
	cap := new(big.Int).Mul(supply, new(big.Int).SetUint64(e.accrual.DailyCapBps))
	cap.Quo(cap, basisPoints)

	applied := target
	clamped := false
	if applied.Cmp(cap) > 0 {
		applied = cap
		clamped = true
	}

	feeAmount := big.NewInt(0)
	if e.fee.FeeBps > 0 && applied.Sign() > 0 {
		feeAmount = new(big.Int).Mul(applied, new(big.Int).SetUint64(e.fee.FeeBps))
		feeAmount.Quo(feeAmount, basisPoints)
	}

	// Rebase the remainder onto existing holders before minting the fee:
	// a recipient minted first would ride the rebase and collect more than
	// the carve-out.
	remainder := new(big.Int).Sub(applied, feeAmount)
	if remainder.Sign() > 0 {
		next := new(big.Int).Add(e.ledger.TotalSupply(), remainder)
		if err := e.ledger.Rebase(next); err != nil {
			return nil, err
		}
	}
	if feeAmount.Sign() > 0 {
		if err := e.ledger.Mint(e.fee.Recipient, feeAmount); err != nil {
			return nil, err
		}
	}

	meta.LastAccrualTime = now.Unix()
	meta.LastAppliedAt = now.Unix()
	if err := e.persistMetaAndLedger(meta); err != nil {
		return nil, err
	}

	result := &AccrualResult{
		Applied:     true,
		Minted:      applied,
		FeeMinted:   feeAmount,
		CapClamped:  clamped,
		RateBpsUsed: rateBps,
		AccruedAt:   now.Unix(),
	}
	e.emit(Accrued{
		Minted:      new(big.Int).Set(applied),
		FeeMinted:   new(big.Int).Set(feeAmount),
		RateBps:     rateBps,
		CapClamped:  clamped,
		TotalSupply: e.ledger.TotalSupply(),
	})
	return result, nil
}
