package vault

import (
	"math/big"

	"elastivault/crypto"
	"elastivault/native/elastic"
)

// UserAccount tracks a depositor's principal and the interest rate locked in
// at their first deposit. Accounts are implicitly created on first deposit
// and deleted once the principal returns to zero.
type UserAccount struct {
	// Address is the depositor's account identifier.
	Address crypto.Address
	// Deposited is the cumulative base-asset principal currently attributed
	// to the depositor, reduced on redemption.
	Deposited *big.Int
	// RateBps is the interest rate assigned at the first deposit, in basis
	// points. It persists until the account is fully redeemed.
	RateBps uint64
}

// Meta carries the vault-wide accounting state that must survive restarts.
type Meta struct {
	// TotalDeposited is the base-asset principal held by the vault. It
	// matches the treasury balance at all times.
	TotalDeposited *big.Int
	// WeightedRateSum is the sum of Deposited * RateBps over all accounts,
	// maintained incrementally so the blended accrual rate is O(1).
	WeightedRateSum *big.Int
	// LastAccrualTime is the unix timestamp anchoring the accrual schedule.
	// It advances on every due period, including empty ones, and is seeded
	// at genesis so the first period cannot be claimed instantly.
	LastAccrualTime int64
	// LastAppliedAt is the unix timestamp of the last accrual that actually
	// minted, zero until one has.
	LastAppliedAt int64
}

// EngineState is the persistence port the engine writes through. Loads return
// nil for absent records; the engine normalizes nil fields the same way
// before use.
type EngineState interface {
	GetUserAccount(addr crypto.Address) (*UserAccount, error)
	PutUserAccount(account *UserAccount) error
	DeleteUserAccount(addr crypto.Address) error
	GetMeta() (*Meta, error)
	PutMeta(meta *Meta) error
	PutLedger(snapshot *elastic.Snapshot) error
}

// Treasury is the single base-asset balance backing the vault. Credit records
// funds arriving with a deposit; Transfer pays funds out and its failure
// aborts the surrounding operation.
type Treasury interface {
	Credit(amount *big.Int) error
	Transfer(to crypto.Address, amount *big.Int) error
	Balance() *big.Int
}

// TokenMover releases foreign tokens accidentally sent to the vault. The
// vault's own token symbol is never sweepable.
type TokenMover interface {
	Move(token string, to crypto.Address, amount *big.Int) error
}

// UserInfo is the read-model returned by GetUserInfo.
type UserInfo struct {
	Shares          *big.Int
	Balance         *big.Int
	RateBps         uint64
	Deposited       *big.Int
	LastAccrualTime int64
}
