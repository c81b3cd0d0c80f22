package crypto

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestAddressRoundTripKeepsPrefix(t *testing.T) {
	raw := [20]byte{0x01, 0x02, 0x03, 0x04}
	for _, prefix := range []AddressPrefix{AccountPrefix, ContractPrefix} {
		encoded := MustNewAddress(prefix, raw[:]).String()
		if !strings.HasPrefix(encoded, string(prefix)+"1") {
			t.Fatalf("expected %s prefix, got %s", prefix, encoded)
		}
		decoded, err := DecodeAddress(encoded)
		if err != nil {
			t.Fatalf("decode %s: %v", encoded, err)
		}
		if decoded.Prefix() != prefix {
			t.Fatalf("prefix mismatch: got %s want %s", decoded.Prefix(), prefix)
		}
		if decoded.Raw() != raw {
			t.Fatalf("raw bytes mismatch: %x", decoded.Raw())
		}
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	raw := make([]byte, 20)
	foreign := MustNewAddress(AddressPrefix("foo"), raw).String()
	if _, err := DecodeAddress(foreign); err == nil {
		t.Fatalf("expected foreign prefix to be rejected")
	}
	if _, err := NewAddress(AccountPrefix, raw[:19]); err == nil {
		t.Fatalf("expected short address to be rejected")
	}
}

func TestSignAndRecover(t *testing.T) {
	seed := bytes.Repeat([]byte{0x11}, 32)
	key, err := PrivateKeyFromBytes(seed)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	digest := ethcrypto.Keccak256([]byte("payload"))
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != key.PubKey().Address().Raw() {
		t.Fatalf("recovered signer mismatch")
	}
	if _, err := RecoverSigner(digest, sig[:10]); err == nil {
		t.Fatalf("expected truncated signature to fail")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "client.json")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(loaded.Bytes(), key.Bytes()) {
		t.Fatalf("loaded key mismatch")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
