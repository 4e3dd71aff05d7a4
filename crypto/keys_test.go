package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := MustNewAddress(TLPrefix, raw)

	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(TLPrefix)+"1") {
		t.Fatalf("expected bech32 prefix %q, got %q", TLPrefix, encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %v vs %v", decoded, addr)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("payload mismatch: %x vs %x", decoded.Bytes(), raw)
	}
}

func TestNewAddressRejectsWrongLength(t *testing.T) {
	if _, err := NewAddress(TLPrefix, make([]byte, 19)); err == nil {
		t.Fatal("expected error for 19-byte payload")
	}
	if _, err := NewAddress(TLPrefix, make([]byte, 21)); err == nil {
		t.Fatal("expected error for 21-byte payload")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-a-bech32-string"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestGeneratedKeyDerivesStableAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	first := key.PubKey().Address()
	second := key.PubKey().Address()
	if !first.Equal(second) {
		t.Fatalf("address derivation must be deterministic: %v vs %v", first, second)
	}
	if first.Prefix() != TLPrefix {
		t.Fatalf("expected %q prefix, got %q", TLPrefix, first.Prefix())
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if !restored.PubKey().Address().Equal(first) {
		t.Fatal("restored key must derive the same address")
	}
}
