package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"elastivault/crypto"
	"elastivault/native/elastic"
	"elastivault/native/vault"
	"elastivault/storage"
)

var (
	userKeyPrefix = []byte("vault/user/")
	metaKey       = []byte("vault/meta")
	ledgerKey     = []byte("elastic/ledger")
	treasuryKey   = []byte("vault/treasury")
	foreignPrefix = []byte("vault/foreign/")
)

// Manager persists the vault engine's state as RLP-encoded records in the
// key-value store. Absent records load as nil; the engine normalizes them.
type Manager struct {
	db storage.Database
}

// NewManager wraps the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type storedUserAccount struct {
	Address   []byte
	Deposited *big.Int
	RateBps   uint64
}

type storedMeta struct {
	TotalDeposited  *big.Int
	WeightedRateSum *big.Int
	LastAccrualTime uint64
	LastAppliedAt   uint64
}

func userKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), userKeyPrefix...), addr.Bytes()...)
}

// GetUserAccount loads a depositor record, returning nil when absent.
func (m *Manager) GetUserAccount(addr crypto.Address) (*vault.UserAccount, error) {
	raw, err := m.db.Get(userKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedUserAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode user account: %w", err)
	}
	decoded, err := crypto.NewAddress(stored.Address)
	if err != nil {
		return nil, fmt.Errorf("decode user account address: %w", err)
	}
	return &vault.UserAccount{
		Address:   decoded,
		Deposited: normalize(stored.Deposited),
		RateBps:   stored.RateBps,
	}, nil
}

// PutUserAccount stores a depositor record.
func (m *Manager) PutUserAccount(account *vault.UserAccount) error {
	if account == nil {
		return nil
	}
	stored := storedUserAccount{
		Address:   account.Address.Bytes(),
		Deposited: normalize(account.Deposited),
		RateBps:   account.RateBps,
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("encode user account: %w", err)
	}
	return m.db.Put(userKey(account.Address), raw)
}

// DeleteUserAccount removes a depositor record.
func (m *Manager) DeleteUserAccount(addr crypto.Address) error {
	return m.db.Delete(userKey(addr))
}

// GetMeta loads the vault-wide accounting record, returning nil when absent.
func (m *Manager) GetMeta() (*vault.Meta, error) {
	raw, err := m.db.Get(metaKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedMeta
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode vault meta: %w", err)
	}
	return &vault.Meta{
		TotalDeposited:  normalize(stored.TotalDeposited),
		WeightedRateSum: normalize(stored.WeightedRateSum),
		LastAccrualTime: int64(stored.LastAccrualTime),
		LastAppliedAt:   int64(stored.LastAppliedAt),
	}, nil
}

// PutMeta stores the vault-wide accounting record.
func (m *Manager) PutMeta(meta *vault.Meta) error {
	if meta == nil {
		return nil
	}
	last := meta.LastAccrualTime
	if last < 0 {
		last = 0
	}
	applied := meta.LastAppliedAt
	if applied < 0 {
		applied = 0
	}
	stored := storedMeta{
		TotalDeposited:  normalize(meta.TotalDeposited),
		WeightedRateSum: normalize(meta.WeightedRateSum),
		LastAccrualTime: uint64(last),
		LastAppliedAt:   uint64(applied),
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("encode vault meta: %w", err)
	}
	return m.db.Put(metaKey, raw)
}

// PutLedger stores a full ledger snapshot.
func (m *Manager) PutLedger(snapshot *elastic.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	stored := *snapshot
	stored.TotalShares = normalize(stored.TotalShares)
	stored.TotalSupply = normalize(stored.TotalSupply)
	for i := range stored.Holders {
		stored.Holders[i].Shares = normalize(stored.Holders[i].Shares)
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}
	return m.db.Put(ledgerKey, raw)
}

// GetLedger loads the last persisted ledger snapshot, returning nil when the
// vault has never written one.
func (m *Manager) GetLedger() (*elastic.Snapshot, error) {
	raw, err := m.db.Get(ledgerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot elastic.Snapshot
	if err := rlp.DecodeBytes(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode ledger snapshot: %w", err)
	}
	return &snapshot, nil
}

func normalize(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	return v
}
