package elastic

import (
	"bytes"
	"errors"
	"math/big"
	"sort"

	"elastivault/crypto"
)

var (
	// ErrZeroAmount indicates an operation was invoked with a nil, zero or
	// negative token amount.
	ErrZeroAmount = errors.New("elastic ledger: amount must be positive")
	// ErrZeroAddress indicates a holder argument was the zero address.
	ErrZeroAddress = errors.New("elastic ledger: zero address not allowed")
	// ErrInsufficientBalance indicates the holder does not carry enough
	// balance (or shares) for the requested operation.
	ErrInsufficientBalance = errors.New("elastic ledger: insufficient balance")
	// ErrInvalidSupply indicates a rebase would drive the total supply to
	// zero or below.
	ErrInvalidSupply = errors.New("elastic ledger: invalid total supply")
)

var basisPoints = big.NewInt(10_000)

// Ledger tracks an elastic-supply token using dual accounting: a fixed pool
// of shares per holder and an independent total supply. A holder's balance is
// derived as shares * totalSupply / totalShares, so rebasing the supply
// scales every balance by the same factor without touching shares.
type Ledger struct {
	totalShares *big.Int
	totalSupply *big.Int
	shares      map[crypto.Address]*big.Int
}

// NewLedger constructs an empty ledger with zero shares and supply.
func NewLedger() *Ledger {
	return &Ledger{
		totalShares: big.NewInt(0),
		totalSupply: big.NewInt(0),
		shares:      make(map[crypto.Address]*big.Int),
	}
}

// TotalShares returns the sum of all per-holder share counts.
func (l *Ledger) TotalShares() *big.Int {
	return new(big.Int).Set(l.totalShares)
}

// TotalSupply returns the current elastic total supply.
func (l *Ledger) TotalSupply() *big.Int {
	return new(big.Int).Set(l.totalSupply)
}

// SharesOf returns the share count held by addr.
func (l *Ledger) SharesOf(addr crypto.Address) *big.Int {
	if held, ok := l.shares[addr]; ok {
		return new(big.Int).Set(held)
	}
	return big.NewInt(0)
}

// BalanceOf derives the token balance of addr from its share count. The
// division floors, so the sum of all balances may trail totalSupply by at
// most one unit per holder.
func (l *Ledger) BalanceOf(addr crypto.Address) *big.Int {
	held, ok := l.shares[addr]
	if !ok || l.totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	balance := new(big.Int).Mul(held, l.totalSupply)
	return balance.Quo(balance, l.totalShares)
}

// GetSharesByTokenAmount converts a token amount into the share count it
// currently represents. Returns zero when the ledger is empty.
func (l *Ledger) GetSharesByTokenAmount(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || l.totalSupply.Sign() == 0 {
		return big.NewInt(0)
	}
	converted := new(big.Int).Mul(amount, l.totalShares)
	return converted.Quo(converted, l.totalSupply)
}

// GetTokenAmountByShares converts a share count into the token amount it
// currently represents.
func (l *Ledger) GetTokenAmountByShares(shares *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 || l.totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	converted := new(big.Int).Mul(shares, l.totalSupply)
	return converted.Quo(converted, l.totalShares)
}

// Mint credits tokenAmount of new balance to the recipient. The share price
// is preserved: existing holders' balances are unchanged and the recipient
// gains exactly tokenAmount. The bootstrap mint (empty ledger) assigns one
// share per token unit.
func (l *Ledger) Mint(to crypto.Address, tokenAmount *big.Int) error {
	if to.IsZero() {
		return ErrZeroAddress
	}
	if tokenAmount == nil || tokenAmount.Sign() <= 0 {
		return ErrZeroAmount
	}

	sharesToMint := new(big.Int)
	if l.totalShares.Sign() == 0 {
		sharesToMint.Set(tokenAmount)
	} else {
		sharesToMint.Mul(tokenAmount, l.totalShares)
		sharesToMint.Quo(sharesToMint, l.totalSupply)
	}

	l.totalShares = new(big.Int).Add(l.totalShares, sharesToMint)
	l.totalSupply = new(big.Int).Add(l.totalSupply, tokenAmount)
	l.creditShares(to, sharesToMint)
	return nil
}

// Burn removes tokenAmount of balance from the holder, shrinking shares and
// supply symmetrically to Mint.
func (l *Ledger) Burn(from crypto.Address, tokenAmount *big.Int) error {
	if from.IsZero() {
		return ErrZeroAddress
	}
	if tokenAmount == nil || tokenAmount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if l.BalanceOf(from).Cmp(tokenAmount) < 0 {
		return ErrInsufficientBalance
	}

	sharesToBurn := l.GetSharesByTokenAmount(tokenAmount)
	held := l.SharesOf(from)
	if held.Cmp(sharesToBurn) < 0 {
		// Rounding can leave the holder one share short of the floored
		// conversion; never remove more shares than the holder carries.
		sharesToBurn = held
	}

	l.totalShares = new(big.Int).Sub(l.totalShares, sharesToBurn)
	l.totalSupply = new(big.Int).Sub(l.totalSupply, tokenAmount)
	l.debitShares(from, sharesToBurn)
	return nil
}

// Transfer moves amount of balance between two holders by moving the
// equivalent shares. Total shares and total supply are conserved.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	sharesMoved := l.GetSharesByTokenAmount(amount)
	if l.SharesOf(from).Cmp(sharesMoved) < 0 {
		return ErrInsufficientBalance
	}
	l.debitShares(from, sharesMoved)
	l.creditShares(to, sharesMoved)
	return nil
}

// Rebase sets the total supply to newTotalSupply without touching shares, so
// every holder's balance scales by the same factor.
func (l *Ledger) Rebase(newTotalSupply *big.Int) error {
	if newTotalSupply == nil || newTotalSupply.Sign() <= 0 {
		return ErrInvalidSupply
	}
	l.totalSupply = new(big.Int).Set(newTotalSupply)
	return nil
}

// RebaseByPercentage applies a supply change of bps basis points, upward when
// increase is true and downward otherwise. A decrease of 10_000 bps or more
// would zero the supply and is rejected.
func (l *Ledger) RebaseByPercentage(bps uint64, increase bool) error {
	if l.totalSupply.Sign() == 0 {
		return ErrInvalidSupply
	}
	delta := new(big.Int).Mul(l.totalSupply, new(big.Int).SetUint64(bps))
	delta.Quo(delta, basisPoints)

	next := new(big.Int)
	if increase {
		next.Add(l.totalSupply, delta)
	} else {
		next.Sub(l.totalSupply, delta)
	}
	return l.Rebase(next)
}

// Holders returns every address with a nonzero share count in deterministic
// (byte-sorted) order.
func (l *Ledger) Holders() []crypto.Address {
	out := make([]crypto.Address, 0, len(l.shares))
	for addr := range l.shares {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}

func (l *Ledger) creditShares(addr crypto.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	if held, ok := l.shares[addr]; ok {
		l.shares[addr] = new(big.Int).Add(held, amount)
		return
	}
	l.shares[addr] = new(big.Int).Set(amount)
}

func (l *Ledger) debitShares(addr crypto.Address, amount *big.Int) {
	held, ok := l.shares[addr]
	if !ok {
		return
	}
	next := new(big.Int).Sub(held, amount)
	if next.Sign() <= 0 {
		delete(l.shares, addr)
		return
	}
	l.shares[addr] = next
}
