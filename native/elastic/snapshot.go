package elastic

import (
	"math/big"

	"elastivault/crypto"
)

// HolderShare is one holder's entry in a ledger snapshot. Addresses are raw
// bytes so the snapshot can be RLP encoded by the state layer.
type HolderShare struct {
	Address []byte
	Shares  *big.Int
}

// Snapshot is a point-in-time copy of the ledger state, with holders in
// deterministic order.
type Snapshot struct {
	TotalShares *big.Int
	TotalSupply *big.Int
	Holders     []HolderShare
}

// Snapshot captures the full ledger state for persistence.
func (l *Ledger) Snapshot() *Snapshot {
	snap := &Snapshot{
		TotalShares: l.TotalShares(),
		TotalSupply: l.TotalSupply(),
		Holders:     make([]HolderShare, 0, len(l.shares)),
	}
	for _, addr := range l.Holders() {
		snap.Holders = append(snap.Holders, HolderShare{
			Address: addr.Bytes(),
			Shares:  l.SharesOf(addr),
		})
	}
	return snap
}

// RestoreLedger rebuilds a ledger from a snapshot. Entries with malformed
// addresses or non-positive shares are skipped rather than poisoning the
// whole restore.
func RestoreLedger(snap *Snapshot) *Ledger {
	ledger := NewLedger()
	if snap == nil {
		return ledger
	}
	if snap.TotalShares != nil {
		ledger.totalShares = new(big.Int).Set(snap.TotalShares)
	}
	if snap.TotalSupply != nil {
		ledger.totalSupply = new(big.Int).Set(snap.TotalSupply)
	}
	for _, holder := range snap.Holders {
		addr, err := crypto.NewAddress(holder.Address)
		if err != nil {
			continue
		}
		if holder.Shares == nil || holder.Shares.Sign() <= 0 {
			continue
		}
		ledger.shares[addr] = new(big.Int).Set(holder.Shares)
	}
	return ledger
}
