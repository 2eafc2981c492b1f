package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"elastivault/crypto"
	"elastivault/storage"
)

// ErrTreasuryInsufficient is returned when an outbound transfer exceeds the
// recorded treasury balance.
var ErrTreasuryInsufficient = errors.New("treasury: insufficient balance")

// Treasury is a book-entry record of the base asset held by the vault. Credits
// are posted when deposits arrive and debits when redemptions pay out; actual
// asset settlement happens out of band. The balance is kept in memory and
// written through to the store on every mutation.
type Treasury struct {
	mu      sync.Mutex
	db      storage.Database
	balance *big.Int
}

// NewTreasury loads the persisted balance, starting from zero when the store
// holds none.
func NewTreasury(db storage.Database) (*Treasury, error) {
	balance := big.NewInt(0)
	raw, err := db.Get(treasuryKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("treasury: load balance: %w", err)
	default:
		balance.SetBytes(raw)
	}
	return &Treasury{db: db, balance: balance}, nil
}

// Credit records an inbound deposit.
func (t *Treasury) Credit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("treasury: credit amount must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next := new(big.Int).Add(t.balance, amount)
	if err := t.db.Put(treasuryKey, next.Bytes()); err != nil {
		return err
	}
	t.balance = next
	return nil
}

// Transfer records an outbound payout to addr, failing if the treasury does
// not hold enough of the base asset.
func (t *Treasury) Transfer(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("treasury: transfer amount must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balance.Cmp(amount) < 0 {
		return ErrTreasuryInsufficient
	}
	next := new(big.Int).Sub(t.balance, amount)
	if err := t.db.Put(treasuryKey, next.Bytes()); err != nil {
		return err
	}
	t.balance = next
	return nil
}

// Balance returns the recorded base-asset balance.
func (t *Treasury) Balance() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance)
}

// TokenVault tracks balances of foreign tokens sent to the vault so the owner
// can sweep them back out.
type TokenVault struct {
	db storage.Database
}

// NewTokenVault wraps the given database.
func NewTokenVault(db storage.Database) *TokenVault {
	return &TokenVault{db: db}
}

func foreignKey(token string) []byte {
	return append(append([]byte(nil), foreignPrefix...), []byte(token)...)
}

// Receive records an inbound foreign-token balance.
func (v *TokenVault) Receive(token string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("token vault: amount must be positive")
	}
	balance, err := v.BalanceOf(token)
	if err != nil {
		return err
	}
	return v.db.Put(foreignKey(token), new(big.Int).Add(balance, amount).Bytes())
}

// Move pays out a foreign-token balance, failing when the vault holds less
// than requested.
func (v *TokenVault) Move(token string, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("token vault: amount must be positive")
	}
	balance, err := v.BalanceOf(token)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("token vault: insufficient %s balance", token)
	}
	return v.db.Put(foreignKey(token), new(big.Int).Sub(balance, amount).Bytes())
}

// BalanceOf returns the recorded balance for a foreign token.
func (v *TokenVault) BalanceOf(token string) (*big.Int, error) {
	raw, err := v.db.Get(foreignKey(token))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}
