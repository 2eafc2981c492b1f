package crypto

import (
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, AddressLength)
	raw[0] = 0xab
	raw[19] = 0x01
	addr, err := NewAddress(raw)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}

	encoded := addr.String()
	if !strings.HasPrefix(encoded, AddressPrefix+"1") {
		t.Fatalf("unexpected encoding: %s", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %s != %s", decoded, addr)
	}
}

func TestNewAddressRejectsBadLength(t *testing.T) {
	if _, err := NewAddress(make([]byte, 19)); err == nil {
		t.Fatal("expected error for short payload")
	}
	if _, err := NewAddress(make([]byte, 32)); err == nil {
		t.Fatal("expected error for long payload")
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	if _, err := DecodeAddress("nhb1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq5awmmc"); err == nil {
		t.Fatal("expected error for foreign prefix")
	}
}

func TestKeyDerivedAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.IsZero() {
		t.Fatal("derived address must not be zero")
	}
	again := key.PubKey().Address()
	if !addr.Equal(again) {
		t.Fatal("address derivation must be deterministic")
	}
}
