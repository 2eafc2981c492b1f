package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of a bech32 encoded account
// identifier.
const AddressPrefix = "elv"

// AddressLength is the raw byte length of every account identifier.
const AddressLength = 20

// Address identifies an account in the ledger and the vault. Addresses are
// 20-byte values rendered as bech32 strings with the "elv" prefix.
type Address struct {
	bytes [AddressLength]byte
}

// NewAddress builds an Address from a raw 20-byte payload.
func NewAddress(b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(b))
	}
	var addr Address
	copy(addr.bytes[:], b)
	return addr, nil
}

// MustNewAddress builds an Address from a raw payload and panics on invalid
// input. Intended for tests and static configuration.
func MustNewAddress(b []byte) Address {
	addr, err := NewAddress(b)
	if err != nil {
		panic(err)
	}
	return addr
}

// IsZero reports whether the address is the all-zero identifier.
func (a Address) IsZero() bool {
	var zero [AddressLength]byte
	return a.bytes == zero
}

// Bytes returns a copy of the raw address payload.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Equal reports whether two addresses carry the same payload.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a.bytes[:], other.bytes[:])
}

// String renders the address in bech32 form.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler so addresses serialize as
// bech32 strings in JSON payloads.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 encoded account identifier.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(conv)
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

func (pk *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&pk.PublicKey}
}

// Address derives the account identifier from the public key using the
// keccak256 hash of the uncompressed key, truncated to 20 bytes.
func (pub *PublicKey) Address() Address {
	raw := ethcrypto.FromECDSAPub(pub.PublicKey)
	hash := ethcrypto.Keccak256(raw[1:])
	addr, err := NewAddress(hash[len(hash)-AddressLength:])
	if err != nil {
		panic(err)
	}
	return addr
}
